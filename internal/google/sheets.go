package google

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// AuditHeader is the first row of the audit sheet.
var AuditHeader = []interface{}{
	"Recorded At", "Event", "Reference", "Status", "Requester", "Email",
	"Date", "Time", "Duration", "Purpose", "Calendar Event", "Detail",
}

// SheetsService mirrors the booking audit trail into a spreadsheet.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewSheetsService(ctx context.Context, spreadsheetID, sheetName string, opts ...option.ClientOption) (*SheetsService, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return &SheetsService{service: srv, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

// TestConnection checks that the spreadsheet is reachable.
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes AuditHeader when the sheet is empty.
func (s *SheetsService) EnsureHeader(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1:A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	rangeData := fmt.Sprintf("%s!A1:%s1", s.sheetName, columnName(len(AuditHeader)))
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{AuditHeader},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// AppendAuditRow appends one row below the existing data.
func (s *SheetsService) AppendAuditRow(ctx context.Context, row []interface{}) error {
	valueRange := &sheets.ValueRange{Values: [][]interface{}{row}}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A:A", valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}
	return nil
}

// columnName converts a 1-based column index to A1 notation.
func columnName(n int) string {
	name := ""
	for n > 0 {
		n--
		name = string(rune('A'+n%26)) + name
		n /= 26
	}
	return name
}
