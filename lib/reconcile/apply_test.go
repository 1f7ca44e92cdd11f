package reconcile

import (
	"context"
	"fmt"
	"testing"

	"mkprocessor/lib/normalize"
	"mkprocessor/lib/sheets"

	"github.com/stretchr/testify/require"
)

// flakyBackend wraps the sqlite backend and fails chosen append calls
// with a transient error.
type flakyBackend struct {
	sheets.Backend
	failOn      map[int]bool
	appendCalls int
}

func (b *flakyBackend) AppendRows(ctx context.Context, sheetId string, rows [][]string) error {
	b.appendCalls++
	if b.failOn[b.appendCalls] {
		return &sheets.RequestError{StatusCode: 429, Body: "quota exceeded"}
	}
	return b.Backend.AppendRows(ctx, sheetId, rows)
}

func newTestSheet(t *testing.T) *sheets.SqliteBackend {
	t.Helper()
	backend, err := sheets.OpenSqlite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	err = backend.AppendRows(context.Background(), "inv", [][]string{{"sku", "price"}})
	require.NoError(t, err)
	return backend
}

func TestApplyEndToEnd(t *testing.T) {
	backend := newTestSheet(t)
	ctx := context.Background()

	require.NoError(t, backend.AppendRows(ctx, "inv", [][]string{{"A1", "10"}}))

	existing, err := backend.ReadRows(ctx, "inv", "A2:B")
	require.NoError(t, err)
	decisions, err := Reconcile(existing, []normalize.CanonicalRecord{
		record("A1", 10),
		record("B2", 20),
	}, invSchema, "sku")
	require.NoError(t, err)

	applier := NewApplier(backend, "inv", invSchema, decisions, ApplyOptions{})
	result, err := applier.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Inserted: 1, Skipped: 1}, result)

	rows, err := backend.ReadRows(ctx, "inv", "A2:B")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []string{"A1", "10"}, rows[0].Cells)
	require.Equal(t, []string{"B2", "20"}, rows[1].Cells)

	// idempotence: a second round over the applied state inserts nothing
	decisions, err = Reconcile(rows, []normalize.CanonicalRecord{
		record("A1", 10),
		record("B2", 20),
	}, invSchema, "sku")
	require.NoError(t, err)
	for _, d := range decisions {
		require.Equal(t, KindSkip, d.Kind, d.Key)
	}
}

func TestApplyUpdates(t *testing.T) {
	backend := newTestSheet(t)
	ctx := context.Background()

	require.NoError(t, backend.AppendRows(ctx, "inv", [][]string{{"A1", "10"}, {"B2", "20"}}))

	existing, err := backend.ReadRows(ctx, "inv", "A2:B")
	require.NoError(t, err)
	decisions, err := Reconcile(existing, []normalize.CanonicalRecord{
		record("B2", 25),
	}, invSchema, "sku")
	require.NoError(t, err)

	applier := NewApplier(backend, "inv", invSchema, decisions, ApplyOptions{})
	result, err := applier.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Updated: 1}, result)

	rows, err := backend.ReadRows(ctx, "inv", "A2:B")
	require.NoError(t, err)
	require.Equal(t, []string{"B2", "25"}, rows[1].Cells)
}

func TestApplyPartialFailureRetriesOnlyFailedSubset(t *testing.T) {
	sqlite := newTestSheet(t)
	// first batch of 25 commits, the second one hits a rate limit
	backend := &flakyBackend{Backend: sqlite, failOn: map[int]bool{2: true}}
	ctx := context.Background()

	var records []normalize.CanonicalRecord
	for i := 0; i < 50; i++ {
		records = append(records, record(fmt.Sprintf("K%02d", i), float64(i)))
	}
	decisions, err := Reconcile(nil, records, invSchema, "sku")
	require.NoError(t, err)

	applier := NewApplier(backend, "inv", invSchema, decisions, ApplyOptions{BatchSize: 25})

	result, err := applier.Apply(ctx)
	require.Error(t, err)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	require.Equal(t, Transient, syncErr.Kind)
	require.Equal(t, SyncResult{Inserted: 25, Failed: 25}, result)

	rows, err := sqlite.ReadRows(ctx, "inv", "A2:B")
	require.NoError(t, err)
	require.Len(t, rows, 25, "committed rows must stay committed")

	// the retry touches only the failed subset
	result, err = applier.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Inserted: 50}, result)

	rows, err = sqlite.ReadRows(ctx, "inv", "A2:B")
	require.NoError(t, err)
	require.Len(t, rows, 50)
	// two first-round calls plus one retry for the failed batch
	require.Equal(t, 3, backend.appendCalls)
}

func TestApplyPermanentFailure(t *testing.T) {
	backend := &permanentBackend{}
	decisions, err := Reconcile(nil, []normalize.CanonicalRecord{record("A1", 1)}, invSchema, "sku")
	require.NoError(t, err)

	applier := NewApplier(backend, "inv", invSchema, decisions, ApplyOptions{})
	_, err = applier.Apply(context.Background())
	require.Error(t, err)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	require.Equal(t, Permanent, syncErr.Kind)
}

type permanentBackend struct{}

func (permanentBackend) ReadRows(ctx context.Context, sheetId string, readRange string) ([]sheets.Row, error) {
	return nil, nil
}

func (permanentBackend) AppendRows(ctx context.Context, sheetId string, rows [][]string) error {
	return &sheets.RequestError{StatusCode: 403, Body: "forbidden"}
}

func (permanentBackend) UpdateRows(ctx context.Context, sheetId string, refs []sheets.RowRef, rows [][]string) error {
	return &sheets.RequestError{StatusCode: 403, Body: "forbidden"}
}
