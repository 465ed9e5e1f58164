package cache

import (
	"strconv"

	"stockfolio/internal/provider"
)

// QuoteKey is the fingerprint of a quote lookup.
func QuoteKey(sym string) string { return "quote:" + sym }

// SeriesKey is the fingerprint of a series lookup.
func SeriesKey(sym string, interval provider.Interval, outputCount int) string {
	return "series:" + sym + "|" + string(interval) + "|" + strconv.Itoa(outputCount)
}
