package changelog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Layouts tried for text timestamps, offset-bearing ones first.
var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -07:00",
	"1/2/2006 3:04:05 PM -07:00",
	"1/2/2006 15:04:05 -07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
}

// Serial numbers above this are past year 9999.
const maxExcelSerial = 2958465

// parseTime parses a cell as RFC 3339, a common spreadsheet text layout
// (read in loc when it has no offset) or an Excel serial date.
func parseTime(raw string, loc *time.Location, date1904 bool) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial <= 0 || serial > maxExcelSerial {
			return time.Time{}, fmt.Errorf("serial date %q out of range", s)
		}
		t, err := excelize.ExcelDateToTime(serial, date1904)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid serial date %q: %w", s, err)
		}
		// Serial dates carry wall-clock time only.
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// parseFlag parses TRUE/FALSE style cells. Excel booleans read raw as 1/0.
func parseFlag(raw string) (value bool, blank bool, err error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return false, true, nil
	case "true", "1", "yes":
		return true, false, nil
	case "false", "0", "no":
		return false, false, nil
	}
	return false, false, fmt.Errorf("invalid boolean %q", raw)
}
