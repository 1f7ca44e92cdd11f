package reconcile

import (
	"fmt"
	"testing"

	"mkprocessor/lib/normalize"
	"mkprocessor/lib/sheets"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var invSchema = normalize.Schema{
	Columns: []normalize.Column{
		{Name: "sku", Type: normalize.TypeString, Required: true},
		{Name: "price", Type: normalize.TypeNumber, Required: true},
	},
}

func record(sku string, price float64) normalize.CanonicalRecord {
	return normalize.CanonicalRecord{
		"sku":   normalize.Value{Kind: normalize.TypeString, Str: sku},
		"price": normalize.Value{Kind: normalize.TypeNumber, Num: price},
	}
}

func existingRows(rows ...[]string) []sheets.Row {
	out := make([]sheets.Row, len(rows))
	for i, cells := range rows {
		// header occupies row 1
		out[i] = sheets.Row{Ref: sheets.RowRef(i + 2), Cells: cells}
	}
	return out
}

func kinds(decisions []Decision) []string {
	out := make([]string, len(decisions))
	for i, d := range decisions {
		out[i] = fmt.Sprintf("%s(%s)", d.Kind, d.Key)
	}
	return out
}

func TestReconcileSkipInsert(t *testing.T) {
	// existing sheet has A1 -> price 10; new round observes A1
	// unchanged plus a new B2
	existing := existingRows([]string{"A1", "10"})
	records := []normalize.CanonicalRecord{
		record("A1", 10),
		record("B2", 20),
	}

	decisions, err := Reconcile(existing, records, invSchema, "sku")
	require.NoError(t, err)

	want := []string{"skip(A1)", "insert(B2)"}
	if diff := cmp.Diff(want, kinds(decisions)); diff != "" {
		t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "unchanged", decisions[0].Reason)
}

func TestReconcileUnchangedNeverUpdates(t *testing.T) {
	existing := existingRows(
		[]string{"A1", "10"},
		[]string{"B2", "20"},
	)
	records := []normalize.CanonicalRecord{
		record("A1", 10),
		record("B2", 20),
	}

	decisions, err := Reconcile(existing, records, invSchema, "sku")
	require.NoError(t, err)
	for _, d := range decisions {
		require.Equal(t, KindSkip, d.Kind, d.Key)
	}
}

func TestReconcileUpdateOnDifference(t *testing.T) {
	existing := existingRows([]string{"A1", "10"})
	records := []normalize.CanonicalRecord{record("A1", 12)}

	decisions, err := Reconcile(existing, records, invSchema, "sku")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, KindUpdate, decisions[0].Kind)
	require.Equal(t, sheets.RowRef(2), decisions[0].Row.Ref)
}

func TestReconcileDuplicateKeysLastSeenWins(t *testing.T) {
	records := []normalize.CanonicalRecord{
		record("A1", 10),
		record("A1", 15),
		record("A1", 17),
	}

	decisions, err := Reconcile(nil, records, invSchema, "sku")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, KindInsert, decisions[0].Kind)
	require.Equal(t, 17.0, decisions[0].Record["price"].Num)
}

func TestReconcileMissingKeyColumn(t *testing.T) {
	_, err := Reconcile(nil, []normalize.CanonicalRecord{record("A1", 10)}, invSchema, "asin")
	require.Error(t, err)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	require.Equal(t, Permanent, syncErr.Kind)
}

func TestReconcileShortExistingRow(t *testing.T) {
	// a sheet row narrower than the schema differs unless every
	// missing cell would be empty
	existing := existingRows([]string{"A1"})
	decisions, err := Reconcile(existing, []normalize.CanonicalRecord{record("A1", 10)}, invSchema, "sku")
	require.NoError(t, err)
	require.Equal(t, KindUpdate, decisions[0].Kind)
}

func TestValidateHeader(t *testing.T) {
	require.NoError(t, ValidateHeader([]string{"sku", "price"}, invSchema))
	require.NoError(t, ValidateHeader([]string{"sku", "price", "extra"}, invSchema))

	err := ValidateHeader([]string{"sku", "prices"}, invSchema)
	require.Error(t, err)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	require.Equal(t, Permanent, syncErr.Kind)
	require.Contains(t, err.Error(), `did you mean "price"`)

	err = ValidateHeader([]string{"sku"}, invSchema)
	require.Error(t, err)
}
