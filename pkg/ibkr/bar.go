package ibkr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the gateway's date-time format.
const TimestampLayout = "20060102 15:04:05"

// DayLayout is the calendar-day part of TimestampLayout.
const DayLayout = "20060102"

// ParseTimestamp parses a gateway timestamp in the local time zone.
// A date without a time part is read as midnight.
func ParseTimestamp(s string) (time.Time, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		return time.ParseInLocation(DayLayout, fields[0], time.Local)
	case 2:
		return time.ParseInLocation(TimestampLayout, fields[0]+" "+fields[1], time.Local)
	default:
		return time.Time{}, fmt.Errorf("invalid timestamp: %q", s)
	}
}

// FormatTimestamp renders t in the gateway's date-time format.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Midnight truncates t to 00:00:00 of its calendar day.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Day returns the YYYYMMDD calendar day embedded in the bar's date.
func (b Bar) Day() (string, error) {
	fields := strings.Fields(b.Date)
	if len(fields) == 0 {
		return "", fmt.Errorf("bar has no date")
	}
	day := fields[0]
	if _, err := time.Parse(DayLayout, day); err != nil {
		return "", fmt.Errorf("bar date %q: %w", b.Date, err)
	}
	return day, nil
}

// Record renders the bar as one Day Log line: date~open~high~low~close~volume.
func (b Bar) Record() string {
	return strings.Join([]string{
		b.Date,
		formatFloat(b.Open),
		formatFloat(b.High),
		formatFloat(b.Low),
		formatFloat(b.Close),
		formatFloat(b.Volume),
	}, "~")
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// toResponse converts a websocket frame into a tagged response.
// ok is false for frames that are not part of a historical page.
func toResponse(f frame) (resp Response, ok bool) {
	switch f.Type {
	case typeBar:
		if f.Bar == nil {
			return &APIError{ReqID: f.ReqID, Message: "historical_data frame without bar"}, true
		}
		return BarData{Bar: *f.Bar}, true
	case typeEnd:
		return EndOfBatch{Start: f.Start, End: f.End}, true
	case typeError:
		return &APIError{ReqID: f.ReqID, Code: f.Code, Message: f.Message}, true
	default:
		return nil, false
	}
}

// toPage flattens a REST historical result into tagged responses.
// A result with neither bars nor an end marker is the empty page.
func toPage(r HistoricalResult) []Response {
	if len(r.Bars) == 0 && r.End == "" {
		return nil
	}
	page := make([]Response, 0, len(r.Bars)+1)
	for _, b := range r.Bars {
		page = append(page, BarData{Bar: b})
	}
	if r.End != "" {
		page = append(page, EndOfBatch{Start: r.Start, End: r.End})
	}
	return page
}
