package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/server"
)

type scrapeOptions struct {
	topics []string
}

// newScrapeCmd runs exactly one scheduler cycle and prints its report.
func newScrapeCmd() *cobra.Command {
	opts := &scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape-once",
		Short: "Visits every active topic once and exits",
		Long: `Builds the same backends as serve, optionally registers the topics given
with --topic, runs a single cycle over the active topics and prints the cycle
report as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrapeOnce(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.topics, "topic", nil, "topic to register before the cycle (repeatable)")
	return cmd
}

func runScrapeOnce(cmd *cobra.Command, opts *scrapeOptions) error {
	cfg, logger, err := resolve(cmd.Context())
	if err != nil {
		return err
	}
	app, err := server.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			logger.Warn("close application failed", zap.Error(cerr))
		}
	}()

	for _, topic := range opts.topics {
		if _, err := app.Service().AddTopic(cmd.Context(), topic); err != nil {
			return fmt.Errorf("add topic %q: %w", topic, err)
		}
	}

	report := app.Scheduler().RunCycle(cmd.Context())
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if report.Err != "" {
		return fmt.Errorf("cycle failed: %s", report.Err)
	}
	return nil
}
