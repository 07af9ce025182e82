package store

import (
	"time"
)

const (
	LabelToday     = "Today"
	LabelYesterday = "Yesterday"

	// LabelDateLayout formats sections older than yesterday.
	LabelDateLayout = "2006-01-02"
)

// GetDayBefore get the time of before `days`, exclude today.
func GetDayBefore(days int32) time.Time {
	days += 1
	offset := time.Duration(days*24) * time.Hour
	d := time.Now().Add(-offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.Local)
}

// SectionLabel names the date section `t` falls into, relative to `now`, the way the
// server labels its history.
func SectionLabel(t, now time.Time) string {
	t = t.In(now.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	day := time.Date(y1, m1, d1, 0, 0, 0, 0, now.Location())
	today := time.Date(y2, m2, d2, 0, 0, 0, 0, now.Location())

	switch {
	case day.Equal(today):
		return LabelToday
	case day.Equal(today.AddDate(0, 0, -1)):
		return LabelYesterday
	default:
		return t.Format(LabelDateLayout)
	}
}
