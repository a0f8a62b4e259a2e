package main

import (
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dshills/cardsynergy-mcp/internal/app"
	"github.com/dshills/cardsynergy-mcp/internal/config"
	"github.com/dshills/cardsynergy-mcp/internal/searcher"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "synergyctl",
		Usage: "Administer the card and combo search catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"CARDSYNERGY_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to the SQLite database, overrides the config",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "load",
				Aliases:   []string{"import"},
				Usage:     "Import a JSON catalog of features, cards and combos",
				ArgsUsage: "<catalog.json>",
				Action:    loadCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rebuild",
						Usage: "Rebuild the synergy cache after a successful import",
					},
				},
			},
			{
				Name:   "rebuild",
				Usage:  "Recompute the synergy cache from all combos",
				Action: rebuildCommand,
			},
			{
				Name:      "search",
				Usage:     "Run a hybrid search query",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: searcher.DefaultLimit,
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Minimum similarity score (0.0-1.0)",
					},
				}, filterFlags()...),
			},
			{
				Name:      "related",
				Usage:     "List cards that share combos with a card",
				ArgsUsage: "<card-id>",
				Action:    relatedCommand,
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: searcher.DefaultLimit,
					},
				}, filterFlags()...),
			},
			{
				Name:   "serve-metrics",
				Usage:  "Expose Prometheus metrics and follow cache rebuilds until interrupted",
				Action: serveMetricsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overrides the config",
						Value: ":9090",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show catalog, index and cache state",
				Action: statusCommand,
			},
		},
	}
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "colors",
			Usage: "Allowed color identity, e.g. UG; C for colorless only",
		},
		&cli.StringFlag{
			Name:  "required-colors",
			Usage: "Colors that must all be present",
		},
		&cli.Float64Flag{
			Name:  "min-cost",
			Usage: "Minimum mana value",
		},
		&cli.Float64Flag{
			Name:  "max-cost",
			Usage: "Maximum mana value",
		},
		&cli.StringSliceFlag{
			Name:  "tag",
			Usage: "Required type tag or combo feature (repeatable)",
		},
		&cli.StringFlag{
			Name:  "kind",
			Usage: "Entity kind for discovery queries (card, combo)",
		},
	}
}

// filtersFromFlags returns nil when no filter flag is set
func filtersFromFlags(c *cli.Context) (*types.Filters, error) {
	f := &types.Filters{}
	set := false
	if c.IsSet("colors") {
		colors, err := types.ColorFilter(c.String("colors"))
		if err != nil {
			return nil, err
		}
		f.Colors = colors
		set = true
	}
	if c.IsSet("required-colors") {
		colors, err := types.ParseColors(c.String("required-colors"))
		if err != nil {
			return nil, fmt.Errorf("invalid required colors: %w", err)
		}
		f.RequiredColors = colors
		set = true
	}
	if c.IsSet("min-cost") {
		v := c.Float64("min-cost")
		f.MinCost = &v
		set = true
	}
	if c.IsSet("max-cost") {
		v := c.Float64("max-cost")
		f.MaxCost = &v
		set = true
	}
	if tags := c.StringSlice("tag"); len(tags) > 0 {
		f.Tags = tags
		set = true
	}
	if c.IsSet("kind") {
		f.Kind = types.EntityKind(c.String("kind"))
		set = true
	}
	if !set {
		return nil, nil
	}
	return f, f.Validate()
}

func setupLogger(c *cli.Context) error {
	level, err := config.ParseLevel(strings.ToLower(c.String("log-level")))
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// openApp loads configuration and assembles the application
func openApp(c *cli.Context) (*app.App, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if db := c.String("db"); db != "" {
		cfg.DBPath = db
	}
	a, err := app.New(cfg, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to open application: %w", err)
	}
	return a, nil
}

func loadCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one catalog path is required")
	}
	ctx := c.Context

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	stats, err := a.Import(ctx, c.Args().First())
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	slog.Info("import complete",
		"features", stats.FeaturesImported,
		"cards", stats.CardsImported,
		"cards_skipped", stats.CardsSkipped,
		"combos", stats.CombosImported,
		"combos_skipped", stats.CombosSkipped,
		"embedded", stats.Embedded,
		"failed", stats.Failed,
		"duration", time.Since(start))
	for _, msg := range stats.ErrorMessages {
		slog.Warn("record rejected", "reason", msg)
	}

	if c.Bool("rebuild") {
		return rebuild(ctx, c, a)
	}
	return nil
}

func rebuildCommand(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Refresh(c.Context); err != nil {
		return err
	}
	return rebuild(c.Context, c, a)
}

func rebuild(ctx context.Context, c *cli.Context, a *app.App) error {
	result, err := a.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}
	return writeJSON(c, map[string]interface{}{
		"build_id":    result.Version.BuildID,
		"version":     result.Version.Version,
		"rows":        result.Version.RowCount,
		"combos":      result.Version.ComboCount,
		"pairs":       result.Pairs,
		"unchanged":   result.Unchanged,
		"duration_ms": result.Duration.Milliseconds(),
	})
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if query == "" {
		return fmt.Errorf("a query is required")
	}
	filters, err := filtersFromFlags(c)
	if err != nil {
		return err
	}

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Refresh(c.Context); err != nil {
		return err
	}
	resp, err := a.Search(c.Context, searcher.SearchRequest{
		Query:     query,
		Filters:   filters,
		Limit:     c.Int("limit"),
		Threshold: c.Float64("threshold"),
	})
	if err != nil {
		return err
	}
	return printResponse(c, resp)
}

func relatedCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one card id is required")
	}
	filters, err := filtersFromFlags(c)
	if err != nil {
		return err
	}

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Refresh(c.Context); err != nil {
		return err
	}
	resp, err := a.RelatedTo(c.Context, c.Args().First(), filters, c.Int("limit"))
	if err != nil {
		return err
	}
	return printResponse(c, resp)
}

func statusCommand(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Refresh(c.Context); err != nil {
		return err
	}
	st, err := a.Status(c.Context)
	if err != nil {
		return err
	}
	return writeJSON(c, st)
}

func serveMetricsCommand(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Refresh(ctx); err != nil {
		return err
	}
	go func() {
		if err := a.Subscribe(ctx); err != nil {
			slog.Warn("cache notifications stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              c.String("addr"),
		Handler:           a.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		slog.Info("metrics listening", "addr", srv.Addr)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func printResponse(c *cli.Context, resp *searcher.SearchResponse) error {
	w := c.App.Writer
	fmt.Fprintf(w, "intent=%s strategy=%s degraded=%v candidates=%d\n",
		resp.Intent, resp.Strategy, resp.Degraded, resp.Candidates)
	for _, r := range resp.Results {
		line := fmt.Sprintf("%3d. [%s] %s %q score=%.3f reason=%s",
			r.Rank, r.Kind, r.EntityID(), r.Name(), r.Score, r.Reason)
		if r.Synergy != nil {
			line += fmt.Sprintf(" combos=%d avg_popularity=%.1f", r.Synergy.ComboCount, r.Synergy.AvgPopularity)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func writeJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
