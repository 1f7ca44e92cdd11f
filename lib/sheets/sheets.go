package sheets

import (
	"context"
	"errors"
	"fmt"
)

// RowRef identifies an existing row by its absolute 1-based position
// in the sheet tab. Position is only an address for writes, record
// identity always lives in the business key column.
type RowRef int

// Row is one existing remote row.
type Row struct {
	Ref   RowRef
	Cells []string
}

// Backend is the spreadsheet store the reconciler writes through. The
// remote sheet owns the truth, the local process never does.
type Backend interface {
	ReadRows(ctx context.Context, sheetId string, readRange string) ([]Row, error)
	AppendRows(ctx context.Context, sheetId string, rows [][]string) error
	UpdateRows(ctx context.Context, sheetId string, refs []RowRef, rows [][]string) error
}

// Credential is the opaque auth material handed to a backend. The core
// never inspects it, loading and refreshing happen out-of-band.
type Credential interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a pre-issued bearer token.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", errors.New("empty credential")
	}
	return string(t), nil
}

// RequestError is a backend response outside the 2xx range.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("sheet backend status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether a backend failure is expected to succeed
// on retry. Rate limits, server errors and transport failures are
// transient; auth and malformed-request failures are not.
func IsTransient(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode == 429 || reqErr.StatusCode >= 500
	}
	// transport-level failures (timeouts, resets) retry fine
	return true
}
