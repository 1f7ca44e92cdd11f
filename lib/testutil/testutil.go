package testutil

import (
	"fmt"
	"testing"

	"mkprocessor/lib/sheets"
	"mkprocessor/lib/telemetry"

	_ "modernc.org/sqlite"
)

type ServiceResult struct {
	// Sheet is an in-memory spreadsheet backend, discarded after the
	// test.
	Sheet *sheets.SqliteBackend
}

// SetupService wires telemetry and an in-memory sheet backend for one
// test, cleanup is registered on t.
func SetupService(t testing.TB, name string) ServiceResult {
	t.Cleanup(telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", name)))

	sheet, err := sheets.OpenSqlite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sheet.Close()
	})

	return ServiceResult{Sheet: sheet}
}
