// ABOUTME: Tests for the business-hours window and offline notices
// ABOUTME: Boundaries are checked in the configured timezone, not UTC

package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusinessHours_Contains(t *testing.T) {
	hours := DefaultBusinessHours()

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2025, 3, 12, 8, 59, 59, 0, newYork), false},
		{"at open", time.Date(2025, 3, 12, 9, 0, 0, 0, newYork), true},
		{"midday", time.Date(2025, 3, 12, 13, 30, 0, 0, newYork), true},
		{"last minute", time.Date(2025, 3, 12, 16, 59, 59, 0, newYork), true},
		{"at close", time.Date(2025, 3, 12, 17, 0, 0, 0, newYork), false},
		{"evening", time.Date(2025, 3, 12, 18, 0, 0, 0, newYork), false},
		// 14:00 UTC is 10:00 EDT in summer and 09:00 EST in winter
		{"utc summer", time.Date(2025, 7, 1, 14, 0, 0, 0, time.UTC), true},
		{"utc winter", time.Date(2025, 1, 15, 13, 59, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hours.Contains(tt.at))
		})
	}
}

func TestNewBusinessHours_Validation(t *testing.T) {
	_, err := NewBusinessHours("Mars/Olympus", 9, 17, "")
	assert.Error(t, err)

	_, err = NewBusinessHours("UTC", 17, 9, "")
	assert.Error(t, err)

	_, err = NewBusinessHours("UTC", 0, 25, "")
	assert.Error(t, err)

	hours, err := NewBusinessHours("", 8, 20, "")
	require.NoError(t, err)
	assert.True(t, hours.Contains(time.Date(2025, 3, 12, 19, 0, 0, 0, newYork)))
}

func TestOfflineNotice(t *testing.T) {
	hours, err := NewBusinessHours("Europe/Madrid", 8, 20, "Madrid")
	require.NoError(t, err)

	es, err := hours.OfflineNotice("ES")
	require.NoError(t, err)
	assert.Contains(t, es, "entre las 8am y 8pm (Madrid)")
	assert.NotContains(t, es, "\n")

	en, err := hours.OfflineNotice("")
	require.NoError(t, err)
	assert.Contains(t, en, "(8am-8pm Madrid)")
	assert.True(t, len(en) > 7 && en[:3] == "<p>")
}

func TestFormatHour(t *testing.T) {
	assert.Equal(t, "12am", formatHour(0))
	assert.Equal(t, "9am", formatHour(9))
	assert.Equal(t, "12pm", formatHour(12))
	assert.Equal(t, "5pm", formatHour(17))
	assert.Equal(t, "12am", formatHour(24))
}
