package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"stockfolio/internal/portfolio"
	"stockfolio/internal/provider"
	"stockfolio/internal/symbol"
)

type quoteCmd struct{}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "print the latest quote of one or more symbols" }
func (*quoteCmd) Usage() string {
	return `quote SYMBOL...

  Prints price, previous close and daily change. Toronto listings use the
  .TO suffix, e.g. AC.TO.
`
}
func (*quoteCmd) SetFlags(*flag.FlagSet) {}

func (c *quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	type row struct {
		Symbol string `json:"symbol"`
		provider.Quote
	}
	rows := make([]row, 0, f.NArg())
	for _, arg := range f.Args() {
		sym := symbol.Normalize(arg)
		rows = append(rows, row{Symbol: sym, Quote: a.resolver.FetchQuote(ctx, sym)})
	}

	if *asJSON {
		if err := printJSON(rows); err != nil {
			return subcommands.ExitFailure
		}
	} else {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "SYMBOL\tPRICE\tPREV CLOSE\tCHANGE\t")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%s\t\n", r.Symbol, r.Price, r.PreviousClose, formatPercent(r.ChangePercent))
		}
		tw.Flush()
	}
	a.banner(os.Stderr)
	return subcommands.ExitSuccess
}

type seriesCmd struct {
	interval string
	n        int
}

func (*seriesCmd) Name() string     { return "series" }
func (*seriesCmd) Synopsis() string { return "print the closing price history of a symbol" }
func (*seriesCmd) Usage() string {
	return `series [-interval 1day|1week|1month] [-n count] SYMBOL
`
}

func (c *seriesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.interval, "interval", string(provider.Daily), "bar size: 1day, 1week or 1month")
	f.IntVar(&c.n, "n", 30, "number of points")
}

func (c *seriesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || c.n <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	series := a.resolver.FetchSeries(ctx, f.Arg(0), provider.ParseInterval(c.interval), c.n)
	if *asJSON {
		if err := printJSON(series); err != nil {
			return subcommands.ExitFailure
		}
	} else {
		for _, p := range series {
			fmt.Printf("%s  %10.2f\n", p.Date, p.Close)
		}
	}
	a.banner(os.Stderr)
	return subcommands.ExitSuccess
}

type valueCmd struct{}

func (*valueCmd) Name() string     { return "value" }
func (*valueCmd) Synopsis() string { return "value a list of holdings" }
func (*valueCmd) Usage() string {
	return `value SYMBOL=SHARES...

  Values the holdings at the latest prices, e.g.
    value AAPL=10 AC.TO=150
`
}
func (*valueCmd) SetFlags(*flag.FlagSet) {}

func (c *valueCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	holdings, err := parseHoldings(f.Args())
	if err != nil || len(holdings) == 0 {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	summary := portfolio.Valuate(ctx, a.resolver, holdings)
	if *asJSON {
		if err := printJSON(summary); err != nil {
			return subcommands.ExitFailure
		}
	} else {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "SYMBOL\tSHARES\tPRICE\tVALUE\tCHANGE\t")
		for _, r := range summary.Rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", r.Symbol, r.Shares, r.Price.StringFixed(2), r.Value.StringFixed(2), r.Change.StringFixed(2))
		}
		fmt.Fprintf(tw, "TOTAL\t\t\t%s\t%s\t\n", summary.Value.StringFixed(2), summary.Change.StringFixed(2))
		tw.Flush()
	}
	a.banner(os.Stderr)
	return subcommands.ExitSuccess
}

// parseHoldings reads SYMBOL=SHARES pairs.
func parseHoldings(args []string) ([]portfolio.Holding, error) {
	out := make([]portfolio.Holding, 0, len(args))
	for _, arg := range args {
		sym, shares, ok := strings.Cut(arg, "=")
		if !ok || symbol.Normalize(sym) == "" {
			return nil, fmt.Errorf("invalid holding %q, want SYMBOL=SHARES", arg)
		}
		d, err := decimal.NewFromString(shares)
		if err != nil || d.IsNegative() {
			return nil, fmt.Errorf("invalid share count in %q", arg)
		}
		out = append(out, portfolio.Holding{Symbol: sym, Shares: d})
	}
	return out, nil
}

type stateCmd struct {
	probe string
}

func (*stateCmd) Name() string     { return "state" }
func (*stateCmd) Synopsis() string { return "show provider configuration and API state" }
func (*stateCmd) Usage() string {
	return `state [-probe SYMBOL]

  Lists the configured providers. With -probe, resolves SYMBOL first and
  prints the resulting API state.
`
}

func (c *stateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.probe, "probe", "", "symbol to resolve before reporting")
}

func (c *stateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if c.probe != "" {
		a.resolver.FetchQuote(ctx, c.probe)
	}

	providers := map[string]bool{
		"finnhub":      a.cfg.Finnhub.APIKey != "",
		"alphavantage": a.cfg.AlphaVantage.APIKey != "",
		"twelvedata":   a.cfg.TwelveData.APIKey != "",
	}
	if *asJSON {
		if err := printJSON(map[string]any{
			"providers": providers,
			"routes":    a.cfg.Routes,
			"state":     a.state.Snapshot(),
		}); err != nil {
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}
	fmt.Printf("routes: default=%s tsx=%s\n", strings.Join(a.cfg.Routes.Default, ","), strings.Join(a.cfg.Routes.TSX, ","))
	for _, name := range []string{"finnhub", "alphavantage", "twelvedata"} {
		fmt.Printf("%-13s enabled=%t\n", name, providers[name])
	}
	a.banner(os.Stdout)
	return subcommands.ExitSuccess
}
