package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/thoth-kb/thoth/pkg/citegraph"
	"github.com/thoth-kb/thoth/pkg/coord"
	"github.com/thoth-kb/thoth/pkg/pipeline"
	"github.com/thoth-kb/thoth/pkg/query"
	"github.com/thoth-kb/thoth/pkg/server"
)

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// WatchCmd runs the ingestion pipeline against the incoming directory.
type WatchCmd struct{}

func (c *WatchCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := pipeline.NewWatcher(a.pipeline)
	if err != nil {
		return err
	}
	fmt.Printf("Watching %s (ctrl-c to stop)\n", cfg.Paths.Incoming)
	return w.Run(ctx)
}

// IngestCmd processes a single PDF and exits.
type IngestCmd struct {
	Path string `arg:"" help:"Path to the PDF file." type:"existingfile"`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.pipeline.Process(ctx, c.Path)
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Printf("Already processed (article %s)\n", res.ArticleID)
		return nil
	}
	fmt.Printf("Article:  %s\n", res.ArticleID)
	fmt.Printf("Note:     %s\n", res.NotePath)
	fmt.Printf("PDF:      %s\n", res.PDFPath)
	if res.AnalysisFailed {
		fmt.Println("Warning:  LLM analysis failed; note is degraded")
	}
	if res.CitationsFailed {
		fmt.Println("Warning:  citation extraction failed")
	}
	return nil
}

// SearchCmd runs a hybrid search over the indexed corpus.
type SearchCmd struct {
	Query string `arg:"" help:"Search query."`
	TopK  int    `help:"Number of results." default:"5"`
}

func (c *SearchCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.engine.Search(ctx, c.Query, c.TopK)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. [%.3f] article %s (%s chunk %d)\n", i+1,
			r.Score, r.Chunk.ArticleID, r.Chunk.Type, r.Chunk.Index)
		fmt.Printf("   %s\n", excerpt(r.Chunk.Content, 200))
	}
	return nil
}

// AskCmd answers a question grounded in the indexed corpus.
type AskCmd struct {
	Query string `arg:"" help:"Question to answer."`
}

func (c *AskCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.engine.Ask(ctx, c.Query)
	if err != nil {
		return err
	}
	if answer.NotFound {
		fmt.Println("Not found in the local corpus.")
		return nil
	}
	fmt.Println(answer.Text)
	if answer.Warning != "" {
		fmt.Printf("\nWarning: %s\n", answer.Warning)
	}
	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range answer.Sources {
			fmt.Printf("  - article %s (%s chunk %d, score %.3f)\n",
				s.Chunk.ArticleID, s.Chunk.Type, s.Chunk.Index, s.Score)
		}
	}
	return nil
}

// QueryCmd manages the stored research queries.
type QueryCmd struct {
	List   QueryListCmd   `cmd:"" help:"List research queries."`
	Add    QueryAddCmd    `cmd:"" help:"Add a research query from a YAML file."`
	Show   QueryShowCmd   `cmd:"" help:"Show one research query."`
	Remove QueryRemoveCmd `cmd:"" help:"Remove a research query."`
}

type QueryListCmd struct{}

func (c *QueryListCmd) Run(cli *CLI) error {
	store, err := queryStore(cli)
	if err != nil {
		return err
	}
	queries, err := store.List()
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		fmt.Println("No research queries configured.")
		return nil
	}
	for _, q := range queries {
		fmt.Printf("%-24s min=%.2f  %s\n", q.Name, q.MinimumRelevanceScore, q.Description)
	}
	return nil
}

type QueryAddCmd struct {
	File string `arg:"" help:"YAML file describing the query." type:"existingfile"`
}

func (c *QueryAddCmd) Run(cli *CLI) error {
	store, err := queryStore(cli)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	var q query.ResearchQuery
	if err := yaml.Unmarshal(data, &q); err != nil {
		return fmt.Errorf("invalid query document: %w", err)
	}
	if q.Name == "" {
		q.Name = strings.TrimSuffix(filepath.Base(c.File), filepath.Ext(c.File))
	}
	if err := store.Create(q); err != nil {
		return err
	}
	fmt.Printf("Created query %q\n", query.SanitizeName(q.Name))
	return nil
}

type QueryShowCmd struct {
	Name string `arg:"" help:"Query name."`
}

func (c *QueryShowCmd) Run(cli *CLI) error {
	store, err := queryStore(cli)
	if err != nil {
		return err
	}
	q, err := store.Get(c.Name)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(q)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

type QueryRemoveCmd struct {
	Name string `arg:"" help:"Query name."`
}

func (c *QueryRemoveCmd) Run(cli *CLI) error {
	store, err := queryStore(cli)
	if err != nil {
		return err
	}
	if err := store.Delete(c.Name); err != nil {
		return err
	}
	fmt.Printf("Removed query %q\n", c.Name)
	return nil
}

func queryStore(cli *CLI) (*query.Store, error) {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return nil, err
	}
	return query.NewStore(cfg.Paths.Queries)
}

// FilterCmd evaluates one article against the stored research queries.
type FilterCmd struct {
	Title    string `arg:"" help:"Article title."`
	Abstract string `help:"Article abstract."`
	DOI      string `help:"Article DOI."`
	ArxivID  string `help:"arXiv identifier."`
	PDFURL   string `name:"pdf-url" help:"Direct PDF URL."`
	Download bool   `help:"Download the PDF into the incoming directory on a positive decision."`
}

func (c *FilterCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	decision, err := a.filter.ProcessArticle(ctx, query.ArticleMetadata{
		Title:    c.Title,
		Abstract: c.Abstract,
		DOI:      c.DOI,
		ArxivID:  c.ArxivID,
		PDFURL:   c.PDFURL,
	}, c.Download)
	if err != nil {
		return err
	}

	fmt.Printf("Decision: %s (best %s at %.3f)\n", decision.Outcome, decision.BestQuery, decision.BestScore)
	if len(decision.MatchingQueries) > 0 {
		fmt.Printf("Matching: %s\n", strings.Join(decision.MatchingQueries, ", "))
	}
	if decision.Reasoning != "" {
		fmt.Printf("Reason:   %s\n", decision.Reasoning)
	}
	if decision.PDFPath != "" {
		fmt.Printf("PDF:      %s\n", decision.PDFPath)
	}
	return nil
}

// ServeCmd starts the HTTP API, optionally alongside the directory watcher.
type ServeCmd struct {
	Watch bool `help:"Also watch the incoming directory while serving."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(cfg.Server, a.engine, a.filter, a.metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if c.Watch {
		w, err := pipeline.NewWatcher(a.pipeline)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

// TrackerCmd inspects and repairs the processed-PDF ledger.
type TrackerCmd struct {
	List    TrackerListCmd    `cmd:"" help:"List tracked PDFs."`
	Rebuild TrackerRebuildCmd `cmd:"" help:"Drop entries whose files are missing or changed."`
	Forget  TrackerForgetCmd  `cmd:"" help:"Forget one tracked path so it reprocesses."`
}

type TrackerListCmd struct{}

func (c *TrackerListCmd) Run(cli *CLI) error {
	a, _, cancel, err := openApp(cli)
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	entries := a.tracker.Entries()
	if len(entries) == 0 {
		fmt.Println("No tracked PDFs.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  article=%s  processed=%s\n",
			e.AbsolutePath, e.ArticleID, e.ProcessedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

type TrackerRebuildCmd struct{}

func (c *TrackerRebuildCmd) Run(cli *CLI) error {
	a, _, cancel, err := openApp(cli)
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	dropped, err := a.tracker.Rebuild()
	if err != nil {
		return err
	}
	if len(dropped) == 0 {
		fmt.Println("Ledger is consistent.")
		return nil
	}
	for _, path := range dropped {
		fmt.Printf("Dropped %s\n", path)
	}
	return nil
}

type TrackerForgetCmd struct {
	Path string `arg:"" help:"Tracked PDF path."`
}

func (c *TrackerForgetCmd) Run(cli *CLI) error {
	a, _, cancel, err := openApp(cli)
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	if err := a.tracker.Forget(c.Path); err != nil {
		return err
	}
	fmt.Printf("Forgot %s\n", c.Path)
	return nil
}

// StatsCmd prints citation-graph statistics.
type StatsCmd struct {
	JSON bool `help:"Emit JSON instead of text."`
}

func (c *StatsCmd) Run(cli *CLI) error {
	a, ctx, cancel, err := openApp(cli)
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	stats, err := a.graph.Stats(ctx)
	if err != nil {
		return err
	}
	if c.JSON {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}
	fmt.Printf("Articles:            %d\n", stats.Articles)
	fmt.Printf("Citations:           %d\n", stats.Citations)
	fmt.Printf("Resolved citations:  %d\n", stats.ResolvedCitations)
	fmt.Printf("Articles with PDF:   %d\n", stats.ArticlesWithPDF)
	fmt.Printf("Articles with notes: %d\n", stats.ArticlesWithNotes)
	return nil
}

// BibCmd renders the stored citations of one article as a formatted
// bibliography.
type BibCmd struct {
	Article string `arg:"" help:"Article id, or a title search when no id matches."`
	Style   string `help:"ieee, apa, mla, chicago or harvard." default:"ieee"`
}

func (c *BibCmd) Run(cli *CLI) error {
	a, ctx, cancel, err := openApp(cli)
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	article, err := a.graph.GetArticle(ctx, c.Article)
	if err != nil {
		return err
	}
	if article == nil {
		matches, err := a.graph.SearchArticles(ctx, c.Article, 1)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("no article matches %q", c.Article)
		}
		article = &matches[0]
	}

	citations, err := a.graph.CitationsFor(ctx, article.ID)
	if err != nil {
		return err
	}
	if len(citations) == 0 {
		fmt.Printf("No citations recorded for %q.\n", article.Title)
		return nil
	}
	for _, entry := range citegraph.FormatBibliography(citations, c.Style) {
		fmt.Println(entry.Text)
	}
	return nil
}

// CoordCmd works the shared coordination block used by cooperating
// agents and scrapers.
type CoordCmd struct {
	File string `help:"Coordination file path (default from config)." type:"path"`

	Post     CoordPostCmd     `cmd:"" help:"Post a message."`
	Read     CoordReadCmd     `cmd:"" help:"Read messages."`
	Complete CoordCompleteCmd `cmd:"" help:"Mark a message complete."`
	Compact  CoordCompactCmd  `cmd:"" help:"Drop old completed messages."`
}

func coordBlock(cli *CLI, file string) (*coord.Block, error) {
	if file == "" {
		cfg, err := loadConfig(cli.Config)
		if err != nil {
			return nil, err
		}
		file = cfg.Coord.BlockPath
	}
	return coord.NewBlock(file)
}

type CoordPostCmd struct {
	Sender   string `required:"" help:"Sending agent name."`
	Receiver string `required:"" help:"Receiving agent name."`
	Task     string `arg:"" help:"Task description."`
	Priority string `help:"low, medium, high or critical." default:"medium"`
	Metadata string `help:"Optional JSON metadata object."`
}

func (c *CoordPostCmd) Run(cli *CLI, parent *CoordCmd) error {
	b, err := coordBlock(cli, parent.File)
	if err != nil {
		return err
	}
	var meta map[string]interface{}
	if c.Metadata != "" {
		if err := json.Unmarshal([]byte(c.Metadata), &meta); err != nil {
			return fmt.Errorf("invalid metadata: %w", err)
		}
	}
	msg, err := b.Post(c.Sender, c.Receiver, c.Task, c.Priority, meta)
	if err != nil {
		return err
	}
	fmt.Printf("Posted %s -> %s at %s\n", msg.Sender, msg.Receiver, msg.Timestamp.Format(time.RFC3339))
	return nil
}

type CoordReadCmd struct {
	Receiver string `help:"Only messages for this receiver."`
	Status   string `help:"Only messages with this status."`
}

func (c *CoordReadCmd) Run(cli *CLI, parent *CoordCmd) error {
	b, err := coordBlock(cli, parent.File)
	if err != nil {
		return err
	}
	msgs, err := b.Read(c.Receiver, c.Status)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return nil
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s -> %s (%s, %s): %s\n",
			m.Timestamp.Format(time.RFC3339),
			m.Sender, m.Receiver, m.Priority, m.Status, m.Task)
	}
	return nil
}

type CoordCompleteCmd struct {
	Sender    string `required:"" help:"Sender of the message to complete."`
	Receiver  string `required:"" help:"Receiver of the message to complete."`
	Timestamp string `arg:"" help:"RFC3339 timestamp of the message."`
}

func (c *CoordCompleteCmd) Run(cli *CLI, parent *CoordCmd) error {
	b, err := coordBlock(cli, parent.File)
	if err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339, c.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", c.Timestamp, err)
	}
	if err := b.MarkComplete(c.Sender, c.Receiver, ts); err != nil {
		return err
	}
	fmt.Println("Marked complete.")
	return nil
}

type CoordCompactCmd struct {
	Keep int `help:"How many recent completed messages to keep." default:"10"`
}

func (c *CoordCompactCmd) Run(cli *CLI, parent *CoordCmd) error {
	b, err := coordBlock(cli, parent.File)
	if err != nil {
		return err
	}
	return b.Compact(c.Keep)
}

// openApp is the shared setup for commands that need the full app but
// no long-running context.
func openApp(cli *CLI) (*app, context.Context, context.CancelFunc, error) {
	ctx, cancel := signalContext()
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return a, ctx, cancel, nil
}

func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
