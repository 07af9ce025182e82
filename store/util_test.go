package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetDayBefore(t *testing.T) {
	d := GetDayBefore(0)
	assert.Equal(t, 0, d.Hour())
	assert.Equal(t, 0, d.Minute())
	assert.True(t, d.Before(time.Now()))

	now := time.Now()
	yesterday := now.Add(-24 * time.Hour)
	assert.Equal(t, yesterday.Day(), d.Day())
}

func TestSectionLabel(t *testing.T) {
	now := time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

	assert.Equal(t, LabelToday, SectionLabel(now.Add(-9*time.Hour), now))
	assert.Equal(t, LabelYesterday, SectionLabel(now.Add(-10*time.Hour), now))
	assert.Equal(t, LabelYesterday, SectionLabel(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, "2024-03-08", SectionLabel(time.Date(2024, 3, 8, 23, 59, 0, 0, time.UTC), now))
	assert.Equal(t, "2023-12-31", SectionLabel(time.Date(2023, 12, 31, 12, 0, 0, 0, time.UTC), now))
}
