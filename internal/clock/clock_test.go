package clock

import (
	"testing"
	"time"

	"github.com/freshfold/freshfold/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) *DateProvider {
	t.Helper()
	p, err := NewDateProvider(config.Config{BusinessTimezone: "Asia/Kolkata"})
	require.NoError(t, err)
	return p
}

func TestDateKey_BusinessDayBoundary(t *testing.T) {
	p := newProvider(t)

	// 20:00 UTC is already past midnight in IST (+05:30).
	late := time.Date(2026, 2, 14, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "20260215", p.DateKey(late))

	noon := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "20260214", p.DateKey(noon))
}

func TestDayBounds_CoverWholeBusinessDay(t *testing.T) {
	p := newProvider(t)

	at := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	start, end := p.DayBounds(at)

	assert.Equal(t, 24*time.Hour, end.Sub(start))
	assert.False(t, at.Before(start))
	assert.True(t, at.Before(end))
	// IST midnight is 18:30 UTC the previous day.
	assert.Equal(t, time.Date(2026, 2, 13, 18, 30, 0, 0, time.UTC), start)
}

func TestFakeClock_Advance(t *testing.T) {
	base := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	fake := NewFakeClock(base)
	assert.Equal(t, base, fake.Now())

	fake.Advance(90 * time.Minute)
	assert.Equal(t, base.Add(90*time.Minute), fake.Now())
}
