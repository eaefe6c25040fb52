package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/app"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/config"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "harvester failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	harvester, err := app.NewHarvester(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize harvester", "error", err)
		return err
	}
	defer harvester.Close()

	return newRootCmd(harvester).ExecuteContext(ctx)
}

func newRootCmd(h *app.Harvester) *cobra.Command {
	root := &cobra.Command{
		Use:           "harvester",
		Short:         "Scrapes game reviews from configured sources into the review store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newScrapeGamesCmd(h),
		newScrapeReviewsCmd(h),
		newScrapePendingCmd(h),
		newAnnotatePendingCmd(h),
	)
	return root
}

func newScrapeGamesCmd(h *app.Harvester) *cobra.Command {
	var opts app.JobOptions
	cmd := &cobra.Command{
		Use:   "scrape-games",
		Short: "Discover a source's games and persist the new ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return h.ScrapeGames(cmd.Context(), opts)
		},
	}
	addSourceFlags(cmd, &opts)
	cmd.Flags().IntVar(&opts.BulkSize, "bulk-size", 0, "concurrent game detail fetches per batch")
	return cmd
}

func newScrapeReviewsCmd(h *app.Harvester) *cobra.Command {
	var opts app.JobOptions
	cmd := &cobra.Command{
		Use:   "scrape-reviews",
		Short: "Ingest reviews from a source, for one game or the whole listing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return h.ScrapeReviews(cmd.Context(), opts)
		},
	}
	addSourceFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.Game, "game", "", "source game id; empty scrapes the source-wide listing")
	cmd.Flags().IntVar(&opts.MaxReviews, "max-reviews", 0, "cap on reviews fetched this run")
	cmd.Flags().StringVar(&opts.Language, "language", "", "review language filter override")
	return cmd
}

func newScrapePendingCmd(h *app.Harvester) *cobra.Command {
	var opts app.JobOptions
	cmd := &cobra.Command{
		Use:   "scrape-pending",
		Short: "Re-scrape reviews for games not touched recently",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return h.ScrapePending(cmd.Context(), opts)
		},
	}
	addSourceFlags(cmd, &opts)
	cmd.Flags().DurationVar(&opts.StaleAfter, "stale-after", 24*time.Hour, "re-scrape games untouched for this long")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max games per run, 0 for all")
	cmd.Flags().IntVar(&opts.BulkSize, "bulk-size", 0, "games scraped concurrently")
	cmd.Flags().IntVar(&opts.MaxReviews, "max-reviews", 0, "cap on reviews fetched per game")
	cmd.Flags().StringVar(&opts.Language, "language", "", "review language filter override")
	return cmd
}

func newAnnotatePendingCmd(h *app.Harvester) *cobra.Command {
	var opts app.JobOptions
	cmd := &cobra.Command{
		Use:   "annotate-pending",
		Short: "Run the aspect analyzer over unprocessed reviews",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return h.AnnotatePending(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max reviews per run")
	return cmd
}

func addSourceFlags(cmd *cobra.Command, opts *app.JobOptions) {
	cmd.Flags().StringVar(&opts.Source, "source", "", "source id from the sources registry")
	cmd.Flags().Float64Var(&opts.RateLimit, "rate-limit", 0, "override requests per second for this run")
	_ = cmd.MarkFlagRequired("source")
}
