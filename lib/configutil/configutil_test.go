package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	SheetId   string `json:"sheet_id"`
	KeyColumn string `json:"key_column"`
	MaxRetry  int    `json:"max_retry"`
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")

	err := os.WriteFile(path, []byte(`{
		// checked-in defaults
		sheet_id: "sheet-123",
		key_column: "sku",
		max_retry: 3,
	}`), 0644)
	require.NoError(t, err)

	cfg, err := ReadConfig[testConfig](path)
	require.NoError(t, err)
	require.Equal(t, "sheet-123", cfg.SheetId)
	require.Equal(t, "sku", cfg.KeyColumn)
	require.Equal(t, 3, cfg.MaxRetry)
}

func TestReadConfigLocalOverride(t *testing.T) {
	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		sheet_id: "sheet-123",
		key_column: "sku",
	}`), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		sheet_id: "sheet-override",
	}`), 0644)
	require.NoError(t, err)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "sheet-override", cfg.SheetId)
	require.Equal(t, "sku", cfg.KeyColumn)
}

func TestReadConfigMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
