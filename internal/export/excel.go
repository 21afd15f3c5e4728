// Package export renders attendance logs as Excel workbooks for admins.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Haven-Lv/students-checkin-sytem/internal/checkin"
)

const timeLayout = "2006-01-02 15:04:05"

// ActivityLogs builds an xlsx workbook with one row per attendance log.
func ActivityLogs(act *checkin.Activity, entries []checkin.LogEntry) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Attendance"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headers := []string{"Student ID", "Name", "Check-in Time", "Check-out Time"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}

	for r, e := range entries {
		values := []any{e.StudentID, e.Name, e.CheckInTime.Format(timeLayout), formatOptional(e.CheckOutTime)}
		for c, v := range values {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	if err := f.SetColWidth(sheet, "A", "D", 22); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

// Filename returns the attachment name for an activity's export.
func Filename(act *checkin.Activity) string {
	return fmt.Sprintf("%s-attendance.xlsx", act.UniqueCode)
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}
