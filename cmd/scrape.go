package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redditextract/redditextract/internal/clock/system"
	"github.com/redditextract/redditextract/internal/config"
	redditfetcher "github.com/redditextract/redditextract/internal/fetcher/reddit"
	"github.com/redditextract/redditextract/internal/format"
	"github.com/redditextract/redditextract/internal/logging"
	"github.com/redditextract/redditextract/internal/scrape"
	"github.com/redditextract/redditextract/internal/worker"
)

type scrapeFlags struct {
	startURLs    []string
	searchTerm   string
	maxItems     int
	sort         string
	outputFormat string
	includeNSFW  bool
	skipComments bool
}

func newScrapeCmd() *cobra.Command {
	flags := &scrapeFlags{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs a one-shot scrape and prints the result",
		Long: `Fetches listings for the given start URLs or search term directly,
without the job queue, and writes the formatted result to stdout.
Exactly one of --url or --search must be provided.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runScrape(cmd, cfg, flags)
		},
	}

	cmd.Flags().StringArrayVar(&flags.startURLs, "url", nil, "start URL (repeatable)")
	cmd.Flags().StringVar(&flags.searchTerm, "search", "", "search term")
	cmd.Flags().IntVar(&flags.maxItems, "max-items", 0, "item ceiling (0 uses the configured default)")
	cmd.Flags().StringVar(&flags.sort, "sort", "", "sort order (relevance, hot, top, new, rising, comments)")
	cmd.Flags().StringVar(&flags.outputFormat, "format", "json", "output format (json, csv, rss, xml)")
	cmd.Flags().BoolVar(&flags.includeNSFW, "nsfw", false, "include NSFW records")
	cmd.Flags().BoolVar(&flags.skipComments, "skip-comments", false, "skip comment fetching for start URLs")

	return cmd
}

func runScrape(cmd *cobra.Command, cfg config.Config, flags *scrapeFlags) error {
	if (len(flags.startURLs) == 0) == (flags.searchTerm == "") {
		return errors.New("exactly one of --url or --search is required")
	}

	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	maxItems := flags.maxItems
	if maxItems <= 0 {
		maxItems = cfg.Scraper.DefaultMaxItems
	}
	if maxItems > cfg.Scraper.MaxItemsCeiling {
		maxItems = cfg.Scraper.MaxItemsCeiling
	}

	req := scrape.ScrapeRequest{
		StartURLs:    flags.startURLs,
		SearchTerm:   flags.searchTerm,
		MaxItems:     maxItems,
		SortSearch:   flags.sort,
		IncludeNSFW:  flags.includeNSFW,
		SkipComments: flags.skipComments,
		OutputFormat: scrape.Format(flags.outputFormat),
	}
	if req.SearchTerm != "" {
		req.SearchForPosts = true
	}

	gateway, err := redditfetcher.New(fetcherConfig(cfg))
	if err != nil {
		return fmt.Errorf("fetch gateway init: %w", err)
	}

	clock := system.New()
	retry := scrape.NewBackoff(
		cfg.FetchRetry.MaxAttempts,
		time.Duration(cfg.FetchRetry.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.FetchRetry.BackoffMaxMs)*time.Millisecond,
	)
	engine := worker.NewEngine(gateway, retry, clock, worker.EngineConfig{
		FetchTimeout: cfg.FetchTimeout(),
	}, logger.Named("engine"))

	start := clock.Now()
	outcome := engine.Run(cmd.Context(), req, nil)
	finished := clock.Now()

	if outcome.PlanError != nil {
		return fmt.Errorf("invalid request: %w", outcome.PlanError)
	}
	if outcome.PagesOK == 0 {
		for _, jobErr := range outcome.Errors {
			logger.Error("fetch failed", zap.String("code", jobErr.Code), zap.String("message", jobErr.Message))
		}
		return errors.New("no pages could be fetched")
	}

	resp := scrape.BuildResponse(req, outcome.Result, outcome.Errors, finished, finished.Sub(start))
	rendered, err := format.New().Render(resp, req.OutputFormat)
	if err != nil {
		return fmt.Errorf("render result: %w", err)
	}
	if _, err := os.Stdout.Write(rendered); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
