package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"mkprocessor/lib/browser"
	"mkprocessor/lib/extract"
	"mkprocessor/lib/normalize"
	"mkprocessor/lib/reconcile"
	"mkprocessor/lib/sheets"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/pipeline")

// Unit is one target to scrape, usually one search query or one page.
type Unit struct {
	Id    string `json:"id"`
	Query string `json:"query"`
}

type RetryOptions struct {
	// MaxAttempts bounds tries per unit, defaults to 3.
	MaxAttempts int `json:"max_attempts"`
	// BackoffInitial is the first retry sleep, defaults to 2s.
	BackoffInitial time.Duration `json:"backoff_initial"`
	// BackoffMax caps exponential growth, defaults to 1m.
	BackoffMax time.Duration `json:"backoff_max"`
	// BackoffJitterFrac applies +/- jitter to sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64 `json:"backoff_jitter_frac"`
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = time.Second * 2
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Minute
	}
	if o.BackoffJitterFrac <= 0 {
		o.BackoffJitterFrac = 0.2
	}
	return o
}

type Options struct {
	// UrlTemplate builds each unit's target url, `{query}` is replaced
	// with the unit's escaped query.
	UrlTemplate string
	Units       []Unit

	Browser  browser.Backend
	Identity browser.IdentityPolicy
	Fields   []extract.FieldSpec
	Schema   normalize.Schema

	Sheet       sheets.Backend
	SheetId     string
	HeaderRange string
	DataRange   string
	KeyColumn   string
	BatchSize   int

	Retry           RetryOptions
	WaitTimeout     time.Duration
	NavigateTimeout time.Duration

	// Events receives a status event per state transition. Sends are
	// non-blocking, size the buffer for your shell's refresh rate.
	Events chan<- Event
}

// UnitStatus is the terminal outcome of one unit.
type UnitStatus struct {
	Unit     string
	State    State
	Err      error
	Sync     reconcile.SyncResult
	Records  int
	Skipped  int
	Attempts int
}

// Summary reports one whole run.
type Summary struct {
	Units    []UnitStatus
	Stopped  bool
	Started  time.Time
	Finished time.Time
}

// Runner drives the scrape-normalize-reconcile sequence over a work
// list, one browser session at a time. Runner state lives for one Run
// invocation and is discarded afterwards, the remote sheet is the only
// durable store.
type Runner struct {
	opts   Options
	events emitter
	rnd    *rand.Rand
}

func NewRunner(opts Options) (*Runner, error) {
	if opts.Browser == nil {
		return nil, errors.New("a browser backend is required")
	}
	if opts.Sheet == nil {
		return nil, errors.New("a sheet backend is required")
	}
	if opts.Identity == nil {
		opts.Identity = browser.RandomDesktopIdentity
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = time.Second * 10
	}
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = time.Second * 30
	}
	opts.Retry = opts.Retry.withDefaults()

	return &Runner{
		opts:   opts,
		events: emitter{ch: opts.Events},
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (r *Runner) targetUrl(unit Unit) string {
	return strings.ReplaceAll(r.opts.UrlTemplate, "{query}", url.QueryEscape(unit.Query))
}

// Run processes every unit to a terminal state. An external stop
// (context cancellation) is honored only between units: the in-flight
// unit always reaches Done or Failed first so no half-written rows are
// left behind.
func (r *Runner) Run(ctx context.Context) Summary {
	runCtx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(attribute.Int("units", len(r.opts.Units)))

	summary := Summary{Started: time.Now()}

	if err := r.validateHeader(context.WithoutCancel(runCtx)); err != nil {
		// the destination contract is broken, no unit can succeed
		slog.ErrorContext(runCtx, "destination sheet rejected", "err", err)
		span.SetStatus(codes.Error, err.Error())
		for _, unit := range r.opts.Units {
			r.events.emit(unit.Id, StateFailed, err.Error())
			summary.Units = append(summary.Units, UnitStatus{
				Unit:  unit.Id,
				State: StateFailed,
				Err:   err,
			})
		}
		summary.Finished = time.Now()
		return summary
	}

	for _, unit := range r.opts.Units {
		if runCtx.Err() != nil {
			slog.InfoContext(runCtx, "stop observed at unit boundary", "next_unit", unit.Id)
			summary.Stopped = true
			break
		}
		// the unit itself runs to a terminal state regardless of stop
		status := r.runUnit(context.WithoutCancel(runCtx), unit)
		summary.Units = append(summary.Units, status)
	}

	summary.Finished = time.Now()
	return summary
}

func (r *Runner) validateHeader(ctx context.Context) error {
	if r.opts.HeaderRange == "" {
		return nil
	}
	rows, err := r.opts.Sheet.ReadRows(ctx, r.opts.SheetId, r.opts.HeaderRange)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return &reconcile.SyncError{
			Kind: reconcile.Permanent,
			Err:  errors.New("destination sheet has no header row"),
		}
	}
	return reconcile.ValidateHeader(rows[0].Cells, r.opts.Schema)
}

// runUnit is the per-unit state machine: Pending, then the working
// states, with bounded retries on transient failure.
func (r *Runner) runUnit(ctx context.Context, unit Unit) UnitStatus {
	ctx, span := tracer.Start(ctx, "runUnit")
	defer span.End()
	span.SetAttributes(attribute.String("unit", unit.Id))

	r.events.emit(unit.Id, StatePending, "")

	status := UnitStatus{Unit: unit.Id}
	backoff := r.opts.Retry.BackoffInitial

	for attempt := 1; ; attempt++ {
		status.Attempts = attempt
		result, records, skipped, err := r.attemptUnit(ctx, unit)
		status.Sync = result
		status.Records = records
		status.Skipped = skipped
		if err == nil {
			status.State = StateDone
			r.events.emit(unit.Id, StateDone, result.String())
			return status
		}

		if isPermanent(err) || attempt >= r.opts.Retry.MaxAttempts {
			status.State = StateFailed
			status.Err = err
			detail := fmt.Sprintf("%s: %s", errorKind(err), err)
			slog.ErrorContext(ctx, "unit failed", "unit", unit.Id, "kind", errorKind(err), "err", err)
			span.SetStatus(codes.Error, err.Error())
			r.events.emit(unit.Id, StateFailed, detail)
			return status
		}

		r.events.emit(unit.Id, StateRetrying, err.Error())
		slog.WarnContext(ctx, "unit attempt failed, retrying",
			"unit", unit.Id, "attempt", attempt, "backoff", backoff, "err", err)
		r.sleep(ctx, backoff)
		backoff = nextBackoff(backoff, r.opts.Retry.BackoffMax)
	}
}

// attemptUnit runs one full pass over one unit. Record-local failures
// (normalization) are skipped and counted, they never abort the pass.
func (r *Runner) attemptUnit(ctx context.Context, unit Unit) (reconcile.SyncResult, int, int, error) {
	var result reconcile.SyncResult

	r.events.emit(unit.Id, StateExtracting, "")
	var raws []extract.RawRecord
	err := browser.WithSession(
		ctx, r.opts.Browser, r.targetUrl(unit), r.opts.Identity, r.opts.NavigateTimeout,
		func(session browser.Session) error {
			seq, err := extract.Extract(ctx, session, unit.Id, r.opts.Fields, extract.Options{
				WaitTimeout: r.opts.WaitTimeout,
			})
			if err != nil {
				return err
			}
			raws, err = extract.Collect(ctx, seq)
			return err
		},
	)
	if err != nil {
		return result, 0, 0, err
	}

	r.events.emit(unit.Id, StateNormalizing, fmt.Sprintf("%d records", len(raws)))
	var records []normalize.CanonicalRecord
	skipped := 0
	for _, raw := range raws {
		record, err := normalize.Normalize(raw, r.opts.Schema)
		if err != nil {
			// local to one record by contract
			skipped++
			slog.WarnContext(ctx, "skipping record", "unit", unit.Id, "err", err)
			continue
		}
		records = append(records, record)
	}

	r.events.emit(unit.Id, StateReconciling, fmt.Sprintf("%d records", len(records)))
	result, err = r.reconcileRecords(ctx, records)
	if err != nil {
		return result, len(records), skipped, err
	}
	return result, len(records), skipped, nil
}

// reconcileRecords reads the sheet, diffs and applies. Transient apply
// failures retry the failed subset with backoff on the same applier,
// confirmed rows are never re-sent.
func (r *Runner) reconcileRecords(ctx context.Context, records []normalize.CanonicalRecord) (reconcile.SyncResult, error) {
	existing, err := r.opts.Sheet.ReadRows(ctx, r.opts.SheetId, r.opts.DataRange)
	if err != nil {
		return reconcile.SyncResult{}, err
	}

	decisions, err := reconcile.Reconcile(existing, records, r.opts.Schema, r.opts.KeyColumn)
	if err != nil {
		return reconcile.SyncResult{}, err
	}

	applier := reconcile.NewApplier(r.opts.Sheet, r.opts.SheetId, r.opts.Schema, decisions, reconcile.ApplyOptions{
		BatchSize: r.opts.BatchSize,
	})

	backoff := r.opts.Retry.BackoffInitial
	for attempt := 1; ; attempt++ {
		result, err := applier.Apply(ctx)
		if err == nil {
			return result, nil
		}
		if isPermanent(err) || attempt >= r.opts.Retry.MaxAttempts {
			return result, err
		}
		slog.WarnContext(ctx, "apply attempt failed, retrying failed subset",
			"attempt", attempt, "failed", result.Failed, "err", err)
		r.sleep(ctx, backoff)
		backoff = nextBackoff(backoff, r.opts.Retry.BackoffMax)
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	jitter := 1 + r.opts.Retry.BackoffJitterFrac*(2*r.rnd.Float64()-1)
	d = time.Duration(float64(d) * jitter)
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func isPermanent(err error) bool {
	var syncErr *reconcile.SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind == reconcile.Permanent
	}
	return false
}

func errorKind(err error) string {
	var sessionErr *browser.SessionError
	if errors.As(err, &sessionErr) {
		return "session"
	}
	var extractionErr *extract.ExtractionError
	if errors.As(err, &extractionErr) {
		return "extraction"
	}
	var syncErr *reconcile.SyncError
	if errors.As(err, &syncErr) {
		return fmt.Sprintf("sync/%s", syncErr.Kind)
	}
	return "unknown"
}
