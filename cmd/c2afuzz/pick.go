package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c2afuzz/c2afuzz/internal/cmddb"
	fuzzerrors "github.com/c2afuzz/c2afuzz/internal/errors"
	"github.com/c2afuzz/c2afuzz/internal/params"
	"github.com/c2afuzz/c2afuzz/internal/pipeline"
	"github.com/c2afuzz/c2afuzz/internal/selector"
)

type pickOptions struct {
	dstHost  string
	dstPort  int
	cmdName  string
	seed     uint64
	strategy string
	count    int
	interval time.Duration
	watch    bool
}

func newPickCmd(c *cli) *cobra.Command {
	opts := &pickOptions{}
	cmd := &cobra.Command{
		Use:   "pick",
		Short: "Generate fuzz messages and send them to an executor",
		Long: `Select a command, draw parameter values for it and send the result as a
single UDP datagram to the executor. Repeat with --count.`,
		Example: `  # One random command to the local executor
  c2afuzz pick

  # A reproducible edge-value message for one command
  c2afuzz pick --cmd-name TMGR_SET_TIME --seed 42 --param-strategy edge

  # Keep sending every 500ms, reloading the command DB when it changes
  c2afuzz pick --count 0 --interval 500ms --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var seed *uint64
			if cmd.Flags().Changed("seed") {
				seed = &opts.seed
			}
			if !cmd.Flags().Changed("param-strategy") {
				opts.strategy = c.cfg.Strategy
			}
			if opts.dstPort == 0 {
				opts.dstPort = c.cfg.Executor.ListenPort
			}
			return c.runPick(cmd.Context(), cmd, opts, seed)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dstHost, "dst-host", "127.0.0.1", "Executor host")
	f.IntVar(&opts.dstPort, "dst-port", 0, "Executor UDP port (default from config)")
	f.StringVar(&opts.cmdName, "cmd-name", "", "Send this command instead of a random one")
	f.Uint64Var(&opts.seed, "seed", 0, "Seed for reproducible selection and values")
	f.StringVar(&opts.strategy, "param-strategy", "random", "Value strategy: random, min, max or edge")
	f.IntVar(&opts.count, "count", 1, "Messages to send (0 = until interrupted)")
	f.DurationVar(&opts.interval, "interval", time.Second, "Delay between messages")
	f.BoolVar(&opts.watch, "watch", false, "Reload the command DB when the file changes")
	return cmd
}

func (c *cli) runPick(ctx context.Context, cmd *cobra.Command, opts *pickOptions, seed *uint64) error {
	db, idx, err := c.targets()
	if err != nil {
		return err
	}

	rnd := params.NewTimeRand()
	sel := selector.New(db, idx, c.cfg.Exclude, rnd)
	gen := pipeline.NewGenerator(sel, params.NewGenerator(params.ParseStrategy(opts.strategy), rnd), opts.dstHost, opts.dstPort, cmd.OutOrStdout())

	g, ctx := errgroup.WithContext(ctx)

	var watcher *cmddb.Watcher
	if opts.watch {
		watcher = cmddb.NewWatcher(c.cfg.CmdDBPath)
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		g.Go(func() error { return watcher.Run(watchCtx) })
		defer func() {
			stopWatch()
			_ = g.Wait()
		}()
	}

	for i := 0; opts.count == 0 || i < opts.count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(opts.interval):
			}
		}
		if watcher != nil {
			sel.SetDatabase(watcher.Current())
		}

		req := selector.Request{Name: opts.cmdName}
		if i == 0 {
			req.Seed = seed
		}
		if _, err := gen.SendOne(ctx, req); err != nil {
			if fuzzerrors.IsSelectionError(err) {
				return fmt.Errorf("%w (run `c2afuzz list` and check the exclude setting)", err)
			}
			return err
		}
	}
	return nil
}
