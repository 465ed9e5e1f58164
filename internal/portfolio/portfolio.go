// Package portfolio values a list of holdings against live quotes and
// persists holdings lists under short shareable keys.
package portfolio

import (
	"context"

	"github.com/shopspring/decimal"

	"stockfolio/internal/provider"
	"stockfolio/internal/symbol"
)

var hundred = decimal.NewFromInt(100)

// Holding is a position in one instrument.
type Holding struct {
	Symbol string          `json:"symbol"`
	Shares decimal.Decimal `json:"shares"`
}

// QuoteSource resolves quotes. It never fails; a zero quote means no data.
type QuoteSource interface {
	FetchQuote(ctx context.Context, symbol string) provider.Quote
}

// Row is the valuation of one holding.
type Row struct {
	Symbol        string           `json:"symbol"`
	Shares        decimal.Decimal  `json:"shares"`
	Price         decimal.Decimal  `json:"price"`
	PreviousClose decimal.Decimal  `json:"previousClose"`
	Value         decimal.Decimal  `json:"value"`
	PreviousValue decimal.Decimal  `json:"previousValue"`
	Change        decimal.Decimal  `json:"change"`
	ChangePercent *decimal.Decimal `json:"changePercent"`
}

// Summary is the valuation of a whole portfolio.
type Summary struct {
	Rows          []Row            `json:"rows"`
	Value         decimal.Decimal  `json:"value"`
	PreviousValue decimal.Decimal  `json:"previousValue"`
	Change        decimal.Decimal  `json:"change"`
	ChangePercent *decimal.Decimal `json:"changePercent"`
}

// Normalize canonicalizes symbols, drops empty ones and merges holdings of
// the same symbol, keeping first-seen order.
func Normalize(holdings []Holding) []Holding {
	out := make([]Holding, 0, len(holdings))
	index := make(map[string]int, len(holdings))
	for _, h := range holdings {
		sym := symbol.Normalize(h.Symbol)
		if sym == "" {
			continue
		}
		if i, ok := index[sym]; ok {
			out[i].Shares = out[i].Shares.Add(h.Shares)
			continue
		}
		index[sym] = len(out)
		out = append(out, Holding{Symbol: sym, Shares: h.Shares})
	}
	return out
}

// Valuate prices every holding. Quotes are fetched one after another.
func Valuate(ctx context.Context, quotes QuoteSource, holdings []Holding) Summary {
	s := Summary{Rows: make([]Row, 0, len(holdings))}
	for _, h := range Normalize(holdings) {
		q := quotes.FetchQuote(ctx, h.Symbol)
		r := Row{
			Symbol:        h.Symbol,
			Shares:        h.Shares,
			Price:         decimal.NewFromFloat(q.Price),
			PreviousClose: decimal.NewFromFloat(q.PreviousClose),
		}
		r.Value = r.Shares.Mul(r.Price)
		r.PreviousValue = r.Shares.Mul(r.PreviousClose)
		r.Change = r.Value.Sub(r.PreviousValue)
		r.ChangePercent = percent(r.Change, r.PreviousValue)
		s.Rows = append(s.Rows, r)

		s.Value = s.Value.Add(r.Value)
		s.PreviousValue = s.PreviousValue.Add(r.PreviousValue)
	}
	s.Change = s.Value.Sub(s.PreviousValue)
	s.ChangePercent = percent(s.Change, s.PreviousValue)
	return s
}

func percent(change, base decimal.Decimal) *decimal.Decimal {
	if base.IsZero() {
		return nil
	}
	p := change.Div(base).Mul(hundred).Round(4)
	return &p
}
