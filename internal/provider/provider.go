package provider

import (
	"context"
	"math"
	"sort"
	"time"
)

// Quote is the normalized shape returned by all providers.
// Price == 0 means "no data".
type Quote struct {
	Price         float64  `json:"price"`
	PreviousClose float64  `json:"previousClose"`
	ChangePercent *float64 `json:"changePercent"`
}

// IsZero reports whether q carries no price information.
func (q Quote) IsZero() bool { return q.Price == 0 && q.PreviousClose == 0 }

// SeriesPoint is one daily, weekly or monthly close. Date is YYYY-MM-DD.
type SeriesPoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// Series is ordered oldest first.
type Series []SeriesPoint

// DateLayout is the calendar date format used by SeriesPoint.Date.
const DateLayout = time.DateOnly

// Interval is the bar size of a series.
type Interval string

const (
	Daily   Interval = "1day"
	Weekly  Interval = "1week"
	Monthly Interval = "1month"
)

// ParseInterval accepts the canonical names and a few aliases. Unknown or
// empty input yields Daily.
func ParseInterval(s string) Interval {
	switch s {
	case "1week", "week", "weekly", "1w", "W":
		return Weekly
	case "1month", "month", "monthly", "1mo", "M":
		return Monthly
	default:
		return Daily
	}
}

// Provider is an upstream quote source.
//
//go:generate mockgen -package=providermock -destination=providermock/mock_provider.go -source=provider.go Provider
type Provider interface {
	Name() string
	// Enabled is false when the provider has no credential and must be skipped.
	Enabled() bool
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
	FetchSeries(ctx context.Context, symbol string, interval Interval, outputCount int) (Series, error)
}

// CanonicalQuote coerces q to finite, non-negative numbers. Invalid values
// become 0 and an invalid change percent becomes nil.
func CanonicalQuote(q Quote) Quote {
	out := Quote{Price: finite(q.Price), PreviousClose: finite(q.PreviousClose)}
	if q.ChangePercent != nil && !math.IsNaN(*q.ChangePercent) && !math.IsInf(*q.ChangePercent, 0) {
		cp := *q.ChangePercent
		out.ChangePercent = &cp
	}
	return out
}

// CanonicalSeries drops points with invalid dates or closes, keeps the last
// occurrence of a duplicated date, sorts ascending and keeps the most recent
// outputCount points. outputCount <= 0 keeps everything.
func CanonicalSeries(in Series, outputCount int) Series {
	byDate := make(map[string]float64, len(in))
	for _, p := range in {
		if _, err := time.Parse(DateLayout, p.Date); err != nil {
			continue
		}
		if math.IsNaN(p.Close) || math.IsInf(p.Close, 0) || p.Close < 0 {
			continue
		}
		byDate[p.Date] = p.Close
	}
	out := make(Series, 0, len(byDate))
	for d, c := range byDate {
		out = append(out, SeriesPoint{Date: d, Close: c})
	}
	// ISO dates sort lexically
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if outputCount > 0 && len(out) > outputCount {
		out = out[len(out)-outputCount:]
	}
	return out
}

// ChangePercent computes (price-prev)/prev*100, nil when prev is 0.
func ChangePercent(price, prev float64) *float64 {
	if prev == 0 {
		return nil
	}
	v := (price - prev) / prev * 100
	return &v
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
