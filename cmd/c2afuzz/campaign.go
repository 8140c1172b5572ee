package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/c2afuzz/c2afuzz/internal/backend"
	"github.com/c2afuzz/c2afuzz/internal/campaign"
	"github.com/c2afuzz/c2afuzz/internal/harness"
	"github.com/c2afuzz/c2afuzz/internal/params"
)

type campaignOptions struct {
	strategy    string
	mode        string
	maxCommands int
	skipDanger  bool
	only        []string
	exclude     []string
	seed        uint64
	backend     string
	jsonOutput  bool
}

func newCampaignCmd(c *cli) *cobra.Command {
	opts := &campaignOptions{}
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Dispatch every eligible command once and summarise the outcomes",
		Long: `Walk the enumerated commands in name order, dispatch each one through the
configured backend and print a tally of the results followed by every
command that failed.`,
		Example: `  # Edge values against the built-in simulator
  c2afuzz campaign --strategy edge

  # Timeline mode, first 20 AOCS commands only
  c2afuzz campaign --mode tl --only 'AOCS_*' --max-commands 20

  # Machine readable report
  c2afuzz campaign --json > report.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("backend") {
				c.cfg.Backend.Kind = opts.backend
				if err := c.cfg.Validate(); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
			}
			if !cmd.Flags().Changed("strategy") {
				opts.strategy = c.cfg.Strategy
			}
			if !cmd.Flags().Changed("exclude") {
				opts.exclude = c.cfg.Exclude
			}
			var rnd *params.Rand
			if cmd.Flags().Changed("seed") {
				rnd = params.NewRand(opts.seed)
			}
			return c.runCampaign(cmd.Context(), cmd, opts, rnd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.strategy, "strategy", "random", "Value strategy: random, min, max or edge")
	f.StringVar(&opts.mode, "mode", "rt", "Dispatch mode: rt, tl or bl")
	f.IntVar(&opts.maxCommands, "max-commands", 0, "Stop after this many commands (0 = all)")
	f.BoolVar(&opts.skipDanger, "skip-danger", false, "Skip commands flagged dangerous in the command DB")
	f.StringSliceVar(&opts.only, "only", nil, "Only fuzz commands matching these wildcard patterns")
	f.StringSliceVar(&opts.exclude, "exclude", nil, "Command names never fuzzed (default from config)")
	f.Uint64Var(&opts.seed, "seed", 0, "Seed for reproducible values")
	f.StringVar(&opts.backend, "backend", "", "Backend kind: sim or process (default from config)")
	f.BoolVar(&opts.jsonOutput, "json", false, "Print the report as JSON instead of a summary")
	return cmd
}

func (c *cli) runCampaign(ctx context.Context, cmd *cobra.Command, opts *campaignOptions, rnd *params.Rand) error {
	mode, err := backend.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	db, idx, err := c.targets()
	if err != nil {
		return err
	}

	// Keep stdout clean for the JSON report.
	progress := cmd.OutOrStdout()
	if opts.jsonOutput {
		progress = cmd.ErrOrStderr()
	}

	op, err := harness.NewOperation(c.cfg, db, progress)
	if err != nil {
		return err
	}
	dispatcher, err := harness.NewDispatcher(c.cfg, idx, op)
	if err != nil {
		return err
	}

	runner := campaign.NewRunner(db, idx, dispatcher, rnd, progress)
	report, runErr := runner.RunAll(ctx, campaign.Options{
		Strategy:    params.ParseStrategy(opts.strategy),
		Exclude:     opts.exclude,
		MaxCommands: opts.maxCommands,
		Mode:        mode,
		SkipDanger:  opts.skipDanger,
		Only:        opts.only,
	})
	if runErr != nil {
		log.Warn().Err(runErr).Int("tested", report.Tested).Msg("Campaign interrupted")
	}

	if opts.jsonOutput {
		if err := report.WriteJSON(cmd.OutOrStdout()); err != nil {
			return err
		}
	} else {
		report.WriteSummary(cmd.OutOrStdout())
	}
	return runErr
}
