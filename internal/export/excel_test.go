package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Haven-Lv/students-checkin-sytem/internal/checkin"
)

func TestActivityLogs(t *testing.T) {
	out := time.Date(2024, 5, 10, 9, 25, 0, 0, time.UTC)
	act := &checkin.Activity{Name: "Morning Assembly", UniqueCode: "abc"}
	entries := []checkin.LogEntry{
		{StudentID: "s1", Name: "Ada", CheckInTime: time.Date(2024, 5, 10, 9, 5, 0, 0, time.UTC), CheckOutTime: &out},
		{StudentID: "s2", Name: "Grace", CheckInTime: time.Date(2024, 5, 10, 9, 7, 0, 0, time.UTC)},
	}

	buf, err := ActivityLogs(act, entries)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Attendance")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Student ID", rows[0][0])
	assert.Equal(t, "Ada", rows[1][1])
	assert.Equal(t, "2024-05-10 09:25:00", rows[1][3])
	// Open log exports with an empty check-out column.
	assert.Equal(t, "s2", rows[2][0])
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "abc-attendance.xlsx", Filename(&checkin.Activity{UniqueCode: "abc"}))
}
