package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mkprocessor/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("sheets/google")

const googleBaseUrl = "https://sheets.googleapis.com/v4/spreadsheets"

// GoogleClient talks to the Sheets v4 values endpoints. Writes go
// through RAW value input, the canonical cell text is the schema
// contract and must not be reinterpreted server-side.
type GoogleClient struct {
	// Tab is the sheet tab name used to build A1 ranges for writes.
	Tab  string
	http *resty.Client
	cred Credential
}

type GoogleClientOptions struct {
	Tab  string
	Cred Credential
	// BaseUrl overrides the Google endpoint, used by tests.
	BaseUrl string
	// RequestsPerSecond bounds API usage, defaults to 1 (the per-user
	// write quota is unforgiving).
	RequestsPerSecond float64
}

func NewGoogleClient(opts GoogleClientOptions) *GoogleClient {
	client := resty.New()
	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = googleBaseUrl
	}
	client.SetBaseURL(baseUrl)
	client.SetTimeout(time.Second * 30)

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "sheets/google/http")

	return &GoogleClient{
		Tab:  opts.Tab,
		http: client,
		cred: opts.Cred,
	}
}

func (c *GoogleClient) authorize(ctx context.Context, req *resty.Request) error {
	token, err := c.cred.Token(ctx)
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	req.SetHeader("Authorization", "Bearer "+token)
	return nil
}

func responseError(res *resty.Response) error {
	if !res.IsError() {
		return nil
	}
	return &RequestError{
		StatusCode: res.StatusCode(),
		Body:       res.String(),
	}
}

type valueRange struct {
	Range  string     `json:"range,omitempty"`
	Values [][]string `json:"values"`
}

// firstRowOfRange pulls the starting row number out of an A1 range
// like "Sheet1!A2:E", defaulting to 1 when the range is open.
func firstRowOfRange(readRange string) int {
	cells := readRange
	if idx := strings.LastIndexByte(readRange, '!'); idx >= 0 {
		cells = readRange[idx+1:]
	}
	start, _, _ := strings.Cut(cells, ":")
	digits := strings.TrimLeft(start, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	row, err := strconv.Atoi(digits)
	if err != nil || row < 1 {
		return 1
	}
	return row
}

func (c *GoogleClient) ReadRows(ctx context.Context, sheetId string, readRange string) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "ReadRows")
	defer span.End()
	span.SetAttributes(attribute.String("range", readRange))

	req := c.http.R().SetContext(ctx)
	if err := c.authorize(ctx, req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res, err := req.Get(fmt.Sprintf("/%s/values/%s", sheetId, readRange))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := responseError(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var body valueRange
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}

	firstRow := firstRowOfRange(readRange)
	rows := make([]Row, len(body.Values))
	for i, cells := range body.Values {
		rows[i] = Row{
			Ref:   RowRef(firstRow + i),
			Cells: cells,
		}
	}
	return rows, nil
}

func (c *GoogleClient) AppendRows(ctx context.Context, sheetId string, rows [][]string) error {
	ctx, span := tracer.Start(ctx, "AppendRows")
	defer span.End()
	span.SetAttributes(attribute.Int("rows", len(rows)))

	if len(rows) == 0 {
		return nil
	}

	req := c.http.R().SetContext(ctx)
	if err := c.authorize(ctx, req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	res, err := req.
		SetQueryParam("valueInputOption", "RAW").
		SetBody(valueRange{Values: rows}).
		Post(fmt.Sprintf("/%s/values/%s:append", sheetId, c.Tab))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := responseError(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *GoogleClient) UpdateRows(ctx context.Context, sheetId string, refs []RowRef, rows [][]string) error {
	ctx, span := tracer.Start(ctx, "UpdateRows")
	defer span.End()
	span.SetAttributes(attribute.Int("rows", len(rows)))

	if len(refs) != len(rows) {
		return fmt.Errorf("refs/rows length mismatch: %d != %d", len(refs), len(rows))
	}
	if len(rows) == 0 {
		return nil
	}

	data := make([]valueRange, len(rows))
	for i, row := range rows {
		data[i] = valueRange{
			Range:  fmt.Sprintf("%s!A%d", c.Tab, refs[i]),
			Values: [][]string{row},
		}
	}

	req := c.http.R().SetContext(ctx)
	if err := c.authorize(ctx, req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	res, err := req.
		SetBody(map[string]any{
			"valueInputOption": "RAW",
			"data":             data,
		}).
		Post(fmt.Sprintf("/%s/values:batchUpdate", sheetId))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := responseError(res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
