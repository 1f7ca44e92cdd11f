package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstRowOfRange(t *testing.T) {
	require.Equal(t, 1, firstRowOfRange("Sheet1!A1:E"))
	require.Equal(t, 2, firstRowOfRange("Inventory!A2:E100"))
	require.Equal(t, 1, firstRowOfRange("Sheet1!A:E"))
	require.Equal(t, 10, firstRowOfRange("B10"))
}

func TestGoogleReadRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sheet-1/values/Inventory!A2:C", r.URL.Path)
		require.Equal(t, "Bearer token-xyz", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"range": "Inventory!A2:C3",
			"values": [][]string{
				{"a1", "Widget", "10"},
				{"b2", "Gadget", "20"},
			},
		})
	}))
	defer server.Close()

	client := NewGoogleClient(GoogleClientOptions{
		Tab:               "Inventory",
		Cred:              StaticToken("token-xyz"),
		BaseUrl:           server.URL,
		RequestsPerSecond: 100,
	})

	rows, err := client.ReadRows(context.Background(), "sheet-1", "Inventory!A2:C")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, RowRef(2), rows[0].Ref)
	require.Equal(t, RowRef(3), rows[1].Ref)
	require.Equal(t, []string{"b2", "Gadget", "20"}, rows[1].Cells)
}

func TestGoogleAppendRows(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sheet-1/values/Inventory:append", r.URL.Path)
		require.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewGoogleClient(GoogleClientOptions{
		Tab:               "Inventory",
		Cred:              StaticToken("token-xyz"),
		BaseUrl:           server.URL,
		RequestsPerSecond: 100,
	})

	err := client.AppendRows(context.Background(), "sheet-1", [][]string{{"c3", "Sprocket", "30"}})
	require.NoError(t, err)

	var body valueRange
	require.NoError(t, json.Unmarshal(gotBody, &body))
	require.Equal(t, [][]string{{"c3", "Sprocket", "30"}}, body.Values)
}

func TestGoogleUpdateRows(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sheet-1/values:batchUpdate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewGoogleClient(GoogleClientOptions{
		Tab:               "Inventory",
		Cred:              StaticToken("token-xyz"),
		BaseUrl:           server.URL,
		RequestsPerSecond: 100,
	})

	err := client.UpdateRows(
		context.Background(),
		"sheet-1",
		[]RowRef{4},
		[][]string{{"a1", "Widget", "12"}},
	)
	require.NoError(t, err)

	data := gotBody["data"].([]any)
	require.Len(t, data, 1)
	first := data[0].(map[string]any)
	require.Equal(t, "Inventory!A4", first["range"])
}

func TestGoogleErrorClassification(t *testing.T) {
	status := http.StatusTooManyRequests
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"error": "quota"}`))
	}))
	defer server.Close()

	client := NewGoogleClient(GoogleClientOptions{
		Tab:               "Inventory",
		Cred:              StaticToken("token-xyz"),
		BaseUrl:           server.URL,
		RequestsPerSecond: 100,
	})

	_, err := client.ReadRows(context.Background(), "sheet-1", "A1:C")
	require.Error(t, err)
	require.True(t, IsTransient(err))

	status = http.StatusForbidden
	_, err = client.ReadRows(context.Background(), "sheet-1", "A1:C")
	require.Error(t, err)
	require.False(t, IsTransient(err))
}
