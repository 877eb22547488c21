// Package clock provides the injected time capability used by invoice
// numbering and subscription validity checks.
package clock

import (
	"time"

	"github.com/freshfold/freshfold/internal/config"
	"go.uber.org/fx"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// DateProvider turns instants into business-date keys. Invoice
// sequences reset at the business-day boundary, not UTC midnight.
type DateProvider struct {
	loc *time.Location
}

func NewDateProvider(cfg config.Config) (*DateProvider, error) {
	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		return nil, err
	}
	return &DateProvider{loc: loc}, nil
}

// DateKey formats t as YYYYMMDD in the business timezone.
func (p *DateProvider) DateKey(t time.Time) string {
	return t.In(p.loc).Format("20060102")
}

// DayBounds returns the UTC instants bounding the business day containing t.
func (p *DateProvider) DayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(p.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc)
	return start.UTC(), start.Add(24 * time.Hour).UTC()
}

var Module = fx.Module("clock",
	fx.Provide(
		NewSystemClock,
		NewDateProvider,
	),
)
