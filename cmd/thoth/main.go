// Command thoth runs the academic-paper knowledge system.
//
// Usage:
//
//	thoth watch --config thoth.yaml
//	thoth ingest paper.pdf
//	thoth ask "what does the transformer paper claim?"
//	thoth serve
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/thoth-kb/thoth/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Watch   WatchCmd   `cmd:"" help:"Watch the incoming directory and process PDFs."`
	Ingest  IngestCmd  `cmd:"" help:"Process one PDF and exit."`
	Search  SearchCmd  `cmd:"" help:"Hybrid search over the indexed corpus."`
	Ask     AskCmd     `cmd:"" help:"Answer a question from the indexed corpus."`
	Query   QueryCmd   `cmd:"" help:"Manage research queries."`
	Filter  FilterCmd  `cmd:"" help:"Filter an article against the stored queries."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP API server."`
	Tracker TrackerCmd `cmd:"" help:"Inspect or repair the PDF tracker ledger."`
	Stats   StatsCmd   `cmd:"" help:"Show citation graph statistics."`
	Bib     BibCmd     `cmd:"" help:"Export the bibliography of an article."`
	Coord   CoordCmd   `cmd:"" help:"Post and read agent coordination messages."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("thoth %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("thoth"),
		kong.Description("Academic-paper knowledge system: ingest, filter, cite, retrieve."),
		kong.UsageOnError(),
	)

	setupLogging(cli.LogLevel)

	if err := config.LoadEnvFiles(); err != nil {
		slog.Warn("Failed to load env files", "error", err)
	}

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "thoth: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
