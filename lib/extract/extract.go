package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mkprocessor/lib/browser"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("extract")

// FieldSpec is one recognized extraction target on the page.
type FieldSpec struct {
	Name     string `json:"name"`
	Selector string `json:"selector"`
	Required bool   `json:"required"`
	// Multi fields repeat, each match yields one RawRecord.
	Multi bool `json:"multi"`
	// Attr pulls the named attribute instead of the element text.
	Attr string `json:"attr"`
}

// RawRecord is the untyped result of one extraction attempt. A nil
// field value marks a non-required field that was absent on the page.
// Immutable once produced.
type RawRecord struct {
	Page        string
	ExtractedAt time.Time
	Fields      map[string]*string
}

// ExtractionError reports a required field that never showed up within
// the bounded wait.
type ExtractionError struct {
	Field string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract field %q: %s", e.Field, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

type Options struct {
	// WaitTimeout bounds the polling wait per field, defaults to 10s.
	// Unbounded waits are a defect, zero never means "forever" here.
	WaitTimeout time.Duration
	// Now overrides the extraction timestamp source in tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = time.Second * 10
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Extract returns a lazy sequence of RawRecords pulled from the live
// session. At most one spec may be Multi: its matches drive the
// repetition, with scalar fields re-read per pull so every record
// reflects page state at the moment it is produced. The sequence is
// finite and non-restartable.
//
// Zero matches on a Multi field is an empty sequence, not an error,
// the caller decides whether empty is terminal.
func Extract(ctx context.Context, session browser.Session, page string, specs []FieldSpec, opts Options) (*Seq, error) {
	var multi *FieldSpec
	for i := range specs {
		if !specs[i].Multi {
			continue
		}
		if multi != nil {
			return nil, fmt.Errorf("field %q: only one multi field is supported per page shape", specs[i].Name)
		}
		multi = &specs[i]
	}

	return &Seq{
		session: session,
		page:    page,
		specs:   specs,
		multi:   multi,
		opts:    opts.withDefaults(),
	}, nil
}

// Seq is a pull iterator over extracted records.
type Seq struct {
	session browser.Session
	page    string
	specs   []FieldSpec
	multi   *FieldSpec
	opts    Options

	index int
	done  bool
	err   error
}

// Next pulls the next record from the live page. It returns false once
// the sequence is exhausted or a required field failed, in which case
// Err reports the failure.
func (s *Seq) Next(ctx context.Context) (RawRecord, bool) {
	if s.done {
		return RawRecord{}, false
	}

	ctx, span := tracer.Start(ctx, "Next")
	defer span.End()
	span.SetAttributes(attribute.Int("index", s.index))

	record, ok, err := s.pull(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.err = err
		s.done = true
		return RawRecord{}, false
	}
	if !ok {
		s.done = true
		return RawRecord{}, false
	}
	s.index++
	return record, true
}

func (s *Seq) Err() error {
	return s.err
}

func (s *Seq) pull(ctx context.Context) (RawRecord, bool, error) {
	record := RawRecord{
		Page:        s.page,
		ExtractedAt: s.opts.Now(),
		Fields:      make(map[string]*string, len(s.specs)),
	}

	if s.multi != nil {
		// Each pull re-resolves the match list: the attempt's result
		// set as the page stands right now is authoritative, there is
		// no merging with earlier polls.
		matches, err := s.session.FindElements(ctx, s.multi.Selector, s.opts.WaitTimeout)
		if err != nil {
			return RawRecord{}, false, &ExtractionError{Field: s.multi.Name, Err: err}
		}
		if s.index >= len(matches) {
			return RawRecord{}, false, nil
		}
		value := elementValue(matches[s.index], s.multi.Attr)
		if value == nil && s.multi.Required {
			return RawRecord{}, false, &ExtractionError{Field: s.multi.Name, Err: browser.ErrNotFound}
		}
		record.Fields[s.multi.Name] = value
	} else if s.index > 0 {
		// scalar-only page shape yields exactly one record
		return RawRecord{}, false, nil
	}

	for _, spec := range s.specs {
		if spec.Multi {
			continue
		}
		value, err := s.scalarField(ctx, spec)
		if err != nil {
			return RawRecord{}, false, err
		}
		record.Fields[spec.Name] = value
	}

	return record, true, nil
}

func (s *Seq) scalarField(ctx context.Context, spec FieldSpec) (*string, error) {
	elem, err := s.session.FindElement(ctx, spec.Selector, s.opts.WaitTimeout)
	if errors.Is(err, browser.ErrNotFound) {
		if spec.Required {
			return nil, &ExtractionError{Field: spec.Name, Err: err}
		}
		return nil, nil
	}
	if err != nil {
		return nil, &ExtractionError{Field: spec.Name, Err: err}
	}

	value := elementValue(elem, spec.Attr)
	if value == nil && spec.Required {
		return nil, &ExtractionError{Field: spec.Name, Err: fmt.Errorf("attribute %q missing", spec.Attr)}
	}
	return value, nil
}

func elementValue(elem browser.Element, attr string) *string {
	if attr == "" {
		text := elem.Text()
		return &text
	}
	value, ok := elem.Attr(attr)
	if !ok {
		return nil
	}
	return &value
}

// Collect drains the sequence. Mostly a test convenience, production
// callers should pull lazily so page state stays fresh per record.
func Collect(ctx context.Context, seq *Seq) ([]RawRecord, error) {
	var out []RawRecord
	for {
		record, ok := seq.Next(ctx)
		if !ok {
			return out, seq.Err()
		}
		out = append(out, record)
	}
}
