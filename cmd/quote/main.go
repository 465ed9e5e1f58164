// Command quote resolves quotes and price history from the command line
// using the same provider chain and cache as the server.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var (
	configPath = flag.String("config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	asJSON     = flag.Bool("json", false, "print JSON instead of a table")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&quoteCmd{}, "")
	commander.Register(&seriesCmd{}, "")
	commander.Register(&valueCmd{}, "")
	commander.Register(&stateCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
