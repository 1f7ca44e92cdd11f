package reconcile

import (
	"context"
	"errors"
	"fmt"

	"mkprocessor/lib/normalize"
	"mkprocessor/lib/sheets"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("reconcile")

// ErrorKind classifies a sync failure for retry purposes.
type ErrorKind int

const (
	// Transient failures (rate limits, timeouts) are expected to
	// succeed on retry.
	Transient ErrorKind = iota
	// Permanent failures (schema mismatch, auth) will not.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

type SyncError struct {
	Kind ErrorKind
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync (%s): %s", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func classify(err error) *SyncError {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}
	kind := Permanent
	if sheets.IsTransient(err) {
		kind = Transient
	}
	return &SyncError{Kind: kind, Err: err}
}

// SyncResult counts the per-decision outcomes of a sync round.
type SyncResult struct {
	Inserted int
	Updated  int
	Skipped  int
	Failed   int
}

func (r SyncResult) String() string {
	return fmt.Sprintf("inserted=%d updated=%d skipped=%d failed=%d",
		r.Inserted, r.Updated, r.Skipped, r.Failed)
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeApplied
)

type ApplyOptions struct {
	// BatchSize bounds rows per remote call, defaults to 50.
	BatchSize int
}

// Applier writes a round's decisions through the backend in batches.
// It tracks per-decision outcome, so a re-entered Apply after a partial
// failure touches only the subset that has not been confirmed yet,
// already-applied rows are never re-applied.
type Applier struct {
	backend  sheets.Backend
	sheetId  string
	schema   normalize.Schema
	batch    int
	decision []Decision
	state    []outcome
}

func NewApplier(backend sheets.Backend, sheetId string, schema normalize.Schema, decisions []Decision, opts ApplyOptions) *Applier {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &Applier{
		backend:  backend,
		sheetId:  sheetId,
		schema:   schema,
		batch:    batch,
		decision: decisions,
		state:    make([]outcome, len(decisions)),
	}
}

// Apply pushes every still-pending decision. On failure it returns the
// classified SyncError together with the result so far; pending rows
// stay pending and a later Apply retries exactly that subset. A batch
// either confirms entirely or counts as failed entirely, rows are never
// silently dropped.
func (a *Applier) Apply(ctx context.Context) (SyncResult, error) {
	ctx, span := tracer.Start(ctx, "Apply")
	defer span.End()

	// skips don't touch the backend, confirm them immediately
	for i, d := range a.decision {
		if a.state[i] == outcomePending && d.Kind == KindSkip {
			a.state[i] = outcomeApplied
		}
	}

	if err := a.applyKind(ctx, KindInsert); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return a.Result(), err
	}
	if err := a.applyKind(ctx, KindUpdate); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return a.Result(), err
	}

	result := a.Result()
	span.SetAttributes(
		attribute.Int("inserted", result.Inserted),
		attribute.Int("updated", result.Updated),
		attribute.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (a *Applier) applyKind(ctx context.Context, kind Kind) error {
	var pending []int
	for i, d := range a.decision {
		if a.state[i] == outcomePending && d.Kind == kind {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += a.batch {
		end := start + a.batch
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		if err := a.writeBatch(ctx, kind, batch); err != nil {
			return classify(err)
		}
		for _, idx := range batch {
			a.state[idx] = outcomeApplied
		}
	}
	return nil
}

func (a *Applier) writeBatch(ctx context.Context, kind Kind, batch []int) error {
	rows := make([][]string, len(batch))
	refs := make([]sheets.RowRef, len(batch))
	for i, idx := range batch {
		rows[i] = a.decision[idx].Record.Cells(a.schema)
		refs[i] = a.decision[idx].Row.Ref
	}

	switch kind {
	case KindInsert:
		return a.backend.AppendRows(ctx, a.sheetId, rows)
	case KindUpdate:
		return a.backend.UpdateRows(ctx, a.sheetId, refs, rows)
	}
	return nil
}

// Result reports the round so far. Pending decisions count as failed,
// they have not been confirmed by the backend.
func (a *Applier) Result() SyncResult {
	var result SyncResult
	for i, d := range a.decision {
		if a.state[i] == outcomePending {
			result.Failed++
			continue
		}
		switch d.Kind {
		case KindInsert:
			result.Inserted++
		case KindUpdate:
			result.Updated++
		case KindSkip:
			result.Skipped++
		}
	}
	return result
}
