// Package export pushes computed reports to external destinations. The
// only destination today is a Google Sheet kept as a readable copy of the
// ledger's monthly reports.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"costbook/internal/core"

	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type SheetsExporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsExporterFromEnv builds an exporter from environment variables.
// Required: GOOGLE_SPREADSHEET_ID. Credentials come from
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS. GOOGLE_SHEET_NAME defaults to "Reports".
func NewSheetsExporterFromEnv(ctx context.Context) (*SheetsExporter, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	sheetName := strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME"))
	if sheetName == "" {
		sheetName = "Reports"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &SheetsExporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// reportRows lays a report out as spreadsheet rows: a header row with the
// report key and converted total, then one row per cost in its original
// currency.
func reportRows(report core.Report) [][]any {
	values := [][]any{
		{
			fmt.Sprintf("%04d-%02d", report.Year, report.Month),
			"total",
			report.Total.Total,
			string(report.Total.Currency),
			"",
		},
	}
	for _, c := range report.Costs {
		values = append(values, []any{
			fmt.Sprintf("%04d-%02d-%02d", c.Date.Year, c.Date.Month, c.Date.Day),
			c.ID,
			c.Sum,
			string(c.Currency),
			string(c.Category) + " " + c.Description,
		})
	}
	return values
}

// ExportReport appends the report's rows to the configured sheet.
func (e *SheetsExporter) ExportReport(ctx context.Context, report core.Report) error {
	if e.svc == nil {
		return errors.New("sheets service not initialized")
	}

	values := reportRows(report)

	writeRange := fmt.Sprintf("%s!A:E", e.sheetName)
	writeReq := gsheet.ValueRange{Values: values}

	err := retry.Do(
		func() error {
			_, err := e.svc.Spreadsheets.Values.Append(e.spreadsheetID, writeRange, &writeReq).
				ValueInputOption("USER_ENTERED").
				InsertDataOption("INSERT_ROWS").
				Context(ctx).
				Do()
			return err
		},
		retry.RetryIf(func(err error) bool {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
				slog.WarnContext(ctx, "Sheets API rate limited, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(3),
		retry.Delay(60*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("append report %04d-%02d to sheet %s: %w",
			report.Year, report.Month, e.sheetName, err)
	}

	slog.InfoContext(ctx, "Report exported to Google Sheets",
		"year", report.Year,
		"month", report.Month,
		"rows", len(values),
		"sheet", e.sheetName)
	return nil
}
