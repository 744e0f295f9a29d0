// Package sheets implements ledger.Table on a Google Sheets worksheet, the
// production backing store. Rows and columns map one-to-one onto the
// spreadsheet grid, addressed in R1C1 notation. Server-side (5xx) and
// rate-limit errors are reported as transient so the Syncer retries them.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/tickwise/presenced/internal/config"
	"github.com/tickwise/presenced/internal/ledger"
)

// Table is a Google Sheets-backed ledger table.
type Table struct {
	service       *sheets.Service
	spreadsheetID string
	worksheet     string
}

// Open creates a sheets-backed table using a service-account credentials
// file.
func Open(ctx context.Context, cfg config.SheetsConfig) (*Table, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID is required")
	}

	service, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	worksheet := cfg.Worksheet
	if worksheet == "" {
		worksheet = "Tracker"
	}

	return &Table{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		worksheet:     worksheet,
	}, nil
}

func (t *Table) cellRange(row, col int) string {
	return fmt.Sprintf("%s!R%dC%d", t.worksheet, row, col)
}

// wrap classifies an API error. Rate limiting and server-side failures are
// worth retrying; anything else (bad credentials, missing sheet) is not.
func wrap(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return &ledger.TransientError{Err: err}
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ledger.TransientError{Err: err}
	}

	return err
}

func (t *Table) get(ctx context.Context, readRange string) ([][]interface{}, error) {
	resp, err := t.service.Spreadsheets.Values.Get(t.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, wrap(err)
	}
	return resp.Values, nil
}

func toStrings(row []interface{}) []string {
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = fmt.Sprint(v)
	}
	return cells
}

func (t *Table) Header(ctx context.Context) ([]string, error) {
	values, err := t.get(ctx, fmt.Sprintf("%s!1:1", t.worksheet))
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return []string{}, nil
	}
	return toStrings(values[0]), nil
}

func (t *Table) AppendColumn(ctx context.Context, label string) (int, error) {
	header, err := t.Header(ctx)
	if err != nil {
		return 0, err
	}
	col := len(header) + 1

	if err := t.writeCell(ctx, 1, col, label); err != nil {
		return 0, err
	}
	return col, nil
}

func (t *Table) FindRow(ctx context.Context, userID string) (int, error) {
	values, err := t.get(ctx, fmt.Sprintf("%s!A:A", t.worksheet))
	if err != nil {
		return 0, err
	}

	// Row 1 is the header; user rows start at 2.
	for i, row := range values {
		if i == 0 || len(row) == 0 {
			continue
		}
		if fmt.Sprint(row[0]) == userID {
			return i + 1, nil
		}
	}
	return 0, ledger.ErrNotFound
}

func (t *Table) ReadCell(ctx context.Context, row, col int) (string, error) {
	values, err := t.get(ctx, t.cellRange(row, col))
	if err != nil {
		return "", err
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return "", nil
	}
	return fmt.Sprint(values[0][0]), nil
}

func (t *Table) WriteCell(ctx context.Context, row, col int, value string) error {
	return t.writeCell(ctx, row, col, value)
}

func (t *Table) writeCell(ctx context.Context, row, col int, value string) error {
	_, err := t.service.Spreadsheets.Values.Update(t.spreadsheetID, t.cellRange(row, col), &sheets.ValueRange{
		Values: [][]interface{}{{value}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return wrap(err)
}

func (t *Table) AppendRow(ctx context.Context, cells []string) error {
	row := make([]interface{}, len(cells))
	for i, cell := range cells {
		row[i] = cell
	}

	_, err := t.service.Spreadsheets.Values.Append(t.spreadsheetID, t.worksheet, &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return wrap(err)
}

func (t *Table) Rows(ctx context.Context) ([][]string, error) {
	values, err := t.get(ctx, t.worksheet)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, len(values))
	for i, row := range values {
		rows[i] = toStrings(row)
	}
	return rows, nil
}
