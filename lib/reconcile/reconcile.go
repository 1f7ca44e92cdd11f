package reconcile

import (
	"fmt"

	"mkprocessor/lib/normalize"
	"mkprocessor/lib/sheets"

	"github.com/antzucaro/matchr"
)

// Kind tags one sync decision.
type Kind int

const (
	KindInsert Kind = iota
	KindUpdate
	KindSkip
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindSkip:
		return "skip"
	}
	return "unknown"
}

// Decision is the planned action for one canonical record. Decisions
// are consumed by the apply step within the same round, never persisted.
type Decision struct {
	Kind   Kind
	Key    string
	Record normalize.CanonicalRecord
	// Row is the existing row an update targets.
	Row sheets.Row
	// Reason explains a skip.
	Reason string
}

// ValidateHeader checks the sheet's header row against the schema.
// The destination layout is the schema contract, any mismatch is a
// permanent failure. The error names the nearest schema column so a
// renamed header is easy to spot.
func ValidateHeader(headerRow []string, schema normalize.Schema) error {
	want := schema.Header()
	if len(headerRow) < len(want) {
		return &SyncError{
			Kind: Permanent,
			Err:  fmt.Errorf("sheet has %d header columns, schema expects %d", len(headerRow), len(want)),
		}
	}
	for i, name := range want {
		if headerRow[i] == name {
			continue
		}
		hint := ""
		if closest := closestColumn(headerRow[i], want); closest != "" && closest != headerRow[i] {
			hint = fmt.Sprintf(" (did you mean %q?)", closest)
		}
		return &SyncError{
			Kind: Permanent,
			Err: fmt.Errorf(
				"header column %d is %q, schema expects %q%s",
				i+1, headerRow[i], name, hint,
			),
		}
	}
	return nil
}

func closestColumn(header string, columns []string) string {
	best := ""
	bestScore := 0.8 // below this a hint is noise
	for _, c := range columns {
		score := matchr.JaroWinkler(header, c, true)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}

// Reconcile diffs newly normalized records against the existing sheet
// rows by the business key column. A key absent from the sheet yields
// an insert, a present key with differing cells yields an update, an
// identical row yields a skip.
//
// Duplicate keys within one round of new records: the last-seen record
// wins, a later extraction supersedes an earlier one within the same
// round. This is intentional, not data loss.
//
// Duplicate keys between existing sheet rows target the first such row;
// the stray duplicates are left untouched.
func Reconcile(existing []sheets.Row, records []normalize.CanonicalRecord, schema normalize.Schema, keyColumn string) ([]Decision, error) {
	keyIdx := -1
	for i, c := range schema.Columns {
		if c.Name == keyColumn {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return nil, &SyncError{
			Kind: Permanent,
			Err:  fmt.Errorf("business key column %q is not in the schema", keyColumn),
		}
	}

	byKey := make(map[string]sheets.Row, len(existing))
	for _, row := range existing {
		if keyIdx >= len(row.Cells) {
			continue
		}
		key := row.Cells[keyIdx]
		if _, seen := byKey[key]; !seen {
			byKey[key] = row
		}
	}

	// last-seen wins: collapse duplicates first, keeping the order of
	// each key's first appearance
	var order []string
	latest := make(map[string]normalize.CanonicalRecord)
	for _, record := range records {
		key := record[keyColumn].Cell()
		if key == "" {
			return nil, &SyncError{
				Kind: Permanent,
				Err:  fmt.Errorf("record has empty business key in column %q", keyColumn),
			}
		}
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = record
	}

	decisions := make([]Decision, 0, len(order))
	for _, key := range order {
		record := latest[key]
		row, exists := byKey[key]
		if !exists {
			decisions = append(decisions, Decision{
				Kind:   KindInsert,
				Key:    key,
				Record: record,
			})
			continue
		}
		if cellsEqual(row.Cells, record.Cells(schema)) {
			decisions = append(decisions, Decision{
				Kind:   KindSkip,
				Key:    key,
				Record: record,
				Row:    row,
				Reason: "unchanged",
			})
			continue
		}
		decisions = append(decisions, Decision{
			Kind:   KindUpdate,
			Key:    key,
			Record: record,
			Row:    row,
		})
	}
	return decisions, nil
}

func cellsEqual(existing []string, want []string) bool {
	for i, cell := range want {
		got := ""
		if i < len(existing) {
			got = existing[i]
		}
		if got != cell {
			return false
		}
	}
	// trailing extra cells beyond the schema width are not ours to judge
	return true
}
