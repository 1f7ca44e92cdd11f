package normalize

import (
	"testing"
	"time"

	"mkprocessor/lib/extract"

	"github.com/stretchr/testify/require"
)

func ptr(s string) *string {
	return &s
}

var productSchema = Schema{
	Columns: []Column{
		{Name: "sku", Type: TypeString, Transforms: []Transform{TransformLowercaseKey}, Required: true},
		{Name: "title", Type: TypeString, Transforms: []Transform{TransformTrim}, Required: true},
		{Name: "price", Type: TypeNumber, Transforms: []Transform{TransformParseNumber}, Required: true},
		{Name: "listed", Type: TypeDate, Transforms: []Transform{TransformParseDate}},
		{Name: "note", Type: TypeString},
	},
}

func rawProduct() extract.RawRecord {
	return extract.RawRecord{
		Page:        "page-1",
		ExtractedAt: time.Unix(1700000000, 0),
		Fields: map[string]*string{
			"sku":    ptr("  MK-100 "),
			"title":  ptr("  Machine Key 100\n"),
			"price":  ptr("$1,299.50"),
			"listed": ptr("01/15/2024"),
			"note":   nil,
		},
	}
}

func TestNormalize(t *testing.T) {
	record, err := Normalize(rawProduct(), productSchema)
	require.NoError(t, err)

	require.Equal(t, "mk-100", record["sku"].Str)
	require.Equal(t, "Machine Key 100", record["title"].Str)
	require.Equal(t, 1299.5, record["price"].Num)
	require.Equal(t, 2024, record["listed"].Date.Year())
	require.True(t, record["note"].Absent)
}

func TestNormalizeDeterministic(t *testing.T) {
	a, err := Normalize(rawProduct(), productSchema)
	require.NoError(t, err)
	b, err := Normalize(rawProduct(), productSchema)
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Equal(t, a.Cells(productSchema), b.Cells(productSchema))
}

func TestNormalizeCells(t *testing.T) {
	record, err := Normalize(rawProduct(), productSchema)
	require.NoError(t, err)

	cells := record.Cells(productSchema)
	require.Equal(t, []string{"mk-100", "Machine Key 100", "1299.5", "2024-01-15", ""}, cells)
}

func TestNormalizeBadNumber(t *testing.T) {
	raw := rawProduct()
	raw.Fields["price"] = ptr("call for pricing")

	_, err := Normalize(raw, productSchema)
	require.Error(t, err)

	var normErr *NormalizationError
	require.ErrorAs(t, err, &normErr)
	require.Equal(t, "price", normErr.Column)
	require.Equal(t, "call for pricing", normErr.RawValue)
}

func TestNormalizeRequiredAbsent(t *testing.T) {
	raw := rawProduct()
	raw.Fields["title"] = nil

	_, err := Normalize(raw, productSchema)
	var normErr *NormalizationError
	require.ErrorAs(t, err, &normErr)
	require.Equal(t, "title", normErr.Column)
}

func TestNormalizeColumnFieldMapping(t *testing.T) {
	schema := Schema{Columns: []Column{
		{Name: "Product Name", Field: "title", Type: TypeString, Required: true},
	}}
	record, err := Normalize(rawProduct(), schema)
	require.NoError(t, err)
	require.Equal(t, "  Machine Key 100\n", record["Product Name"].Str)
	require.Equal(t, []string{"Product Name"}, schema.Header())
}

func TestNormalizeDateLayouts(t *testing.T) {
	for _, input := range []string{"2024-01-15", "01/15/2024", "Jan 15, 2024"} {
		raw := rawProduct()
		raw.Fields["listed"] = ptr(input)
		record, err := Normalize(raw, productSchema)
		require.NoError(t, err, input)
		require.Equal(t, "2024-01-15", record["listed"].Cell(), input)
	}
}
