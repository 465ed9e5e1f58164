package symbol

import "strings"

// TSXSuffix marks instruments listed on the Toronto Stock Exchange.
const TSXSuffix = ".TO"

// Market classifies a symbol for provider routing.
type Market string

const (
	MarketDefault Market = "default"
	MarketTSX     Market = "tsx"
)

// Normalize returns the canonical form of a user-entered ticker:
// surrounding whitespace stripped and upper-cased. An empty result means
// "no symbol" and callers short-circuit on it.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Equal reports whether two tickers denote the same instrument.
func Equal(a, b string) bool { return Normalize(a) == Normalize(b) }

// IsTSX reports whether the symbol carries the Toronto suffix.
func IsTSX(s string) bool {
	s = Normalize(s)
	return len(s) > len(TSXSuffix) && strings.HasSuffix(s, TSXSuffix)
}

// MarketOf returns the routing market of s.
func MarketOf(s string) Market {
	if IsTSX(s) {
		return MarketTSX
	}
	return MarketDefault
}

// Base strips the Toronto suffix, if any, so adapters can apply their own
// exchange convention.
func Base(s string) string {
	s = Normalize(s)
	if IsTSX(s) {
		return strings.TrimSuffix(s, TSXSuffix)
	}
	return s
}
