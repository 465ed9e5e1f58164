// Package mockdata is the offline last resort: a fixed quote table and
// synthetic, reproducible price history derived from it.
package mockdata

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"stockfolio/internal/provider"
	"stockfolio/internal/symbol"
)

var quotes = map[string]provider.Quote{
	"AAPL":    {Price: 189.84, PreviousClose: 187.15},
	"MSFT":    {Price: 415.50, PreviousClose: 412.30},
	"GOOGL":   {Price: 142.65, PreviousClose: 141.80},
	"AMZN":    {Price: 178.25, PreviousClose: 176.90},
	"TSLA":    {Price: 248.50, PreviousClose: 252.10},
	"NVDA":    {Price: 875.28, PreviousClose: 862.40},
	"AC.TO":   {Price: 24.50, PreviousClose: 24.30},
	"SHOP.TO": {Price: 102.35, PreviousClose: 101.10},
	"RY.TO":   {Price: 135.20, PreviousClose: 134.75},
	"TD.TO":   {Price: 81.45, PreviousClose: 81.90},
	"ENB.TO":  {Price: 48.60, PreviousClose: 48.35},
}

// Symbols lists the symbols the table knows.
func Symbols() []string {
	out := make([]string, 0, len(quotes))
	for s := range quotes {
		out = append(out, s)
	}
	return out
}

// Quote returns the table entry for sym, or the zero quote.
func Quote(sym string) (provider.Quote, bool) {
	q, ok := quotes[symbol.Normalize(sym)]
	if !ok {
		return provider.Quote{}, false
	}
	q.ChangePercent = provider.ChangePercent(q.Price, q.PreviousClose)
	return q, true
}

// Series returns n points ending at the last period on or before today and
// closing at the table price. The walk is seeded by the symbol so repeated
// calls agree. Unknown symbols yield nil.
func Series(sym string, interval provider.Interval, n int, today time.Time) provider.Series {
	sym = symbol.Normalize(sym)
	q, ok := quotes[sym]
	if !ok || n <= 0 {
		return nil
	}

	h := fnv.New64a()
	h.Write([]byte(sym))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(n)))

	dates := periods(interval, n, today)
	out := make(provider.Series, len(dates))
	closing := decimal.NewFromFloat(q.Price)
	for i := len(dates) - 1; i >= 0; i-- {
		out[i] = provider.SeriesPoint{Date: dates[i].Format(provider.DateLayout), Close: closing.Round(2).InexactFloat64()}
		// step back by up to two percent
		step := decimal.NewFromFloat(1 + (rng.Float64()-0.5)*0.04)
		closing = closing.Div(step)
	}
	return out
}

// periods returns n ascending period dates ending on or before today.
// Daily periods skip weekends.
func periods(interval provider.Interval, n int, today time.Time) []time.Time {
	d := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := n - 1; i >= 0; i-- {
		switch interval {
		case provider.Weekly:
			out[i] = d
			d = d.AddDate(0, 0, -7)
		case provider.Monthly:
			// last day of the month before d's month on the next pass
			out[i] = d
			d = time.Date(d.Year(), d.Month(), 0, 0, 0, 0, 0, time.UTC)
		default:
			for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
				d = d.AddDate(0, 0, -1)
			}
			out[i] = d
			d = d.AddDate(0, 0, -1)
		}
	}
	return out
}
