package api

import (
	"fmt"
	"time"

	"meetbook/internal/models"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Bookings"

var exportHeader = []interface{}{
	"Reference",
	"Status",
	"Name",
	"Email",
	"Date",
	"Time",
	"Duration (min)",
	"Purpose",
	"Created",
	"Decided",
	"Calendar Event",
	"Calendar Error",
}

// buildExport renders bookings into a single-sheet workbook. Timestamps are shown in loc.
func buildExport(bookings []*models.BookingRequest, loc *time.Location) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	header := exportHeader
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, b := range bookings {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		row := exportRow(b, loc)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(exportHeader))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err == nil {
		_ = f.SetCellStyle(exportSheet, "A1", lastCol+"1", style)
	}
	_ = f.SetColWidth(exportSheet, "A", lastCol, 18)
	_ = f.SetColWidth(exportSheet, "H", "H", 40)

	return f, nil
}

func exportRow(b *models.BookingRequest, loc *time.Location) []interface{} {
	decided := ""
	if b.DecidedAt != nil {
		decided = b.DecidedAt.In(loc).Format("2006-01-02 15:04")
	}
	return []interface{}{
		b.Reference,
		string(b.Status),
		b.RequesterName,
		b.RequesterEmail,
		b.MeetingDate,
		b.MeetingTime,
		b.DurationMinutes,
		b.Purpose,
		b.CreatedAt.In(loc).Format("2006-01-02 15:04"),
		decided,
		b.CalendarEventID,
		b.CalendarError,
	}
}
