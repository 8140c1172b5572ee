package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/c2afuzz/c2afuzz/internal/cmddb"
	"github.com/c2afuzz/c2afuzz/internal/config"
	"github.com/c2afuzz/c2afuzz/internal/enum"
	"github.com/c2afuzz/c2afuzz/internal/harness"
	"github.com/c2afuzz/c2afuzz/internal/logging"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// cli carries settings shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "c2afuzz",
		Short: "Command fuzzing harness for C2A flight software",
		Long: `c2afuzz sends generated commands to a C2A target and records how the
target reacts. Pair it with c2afuzz-executor and c2afuzz-observer for the
distributed generator / executor / observer setup.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Shutdown()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("C2AFUZZ_CONFIG"), "Path to YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "Log format (console, json, auto)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newPickCmd(c))
	root.AddCommand(newCampaignCmd(c))
	root.AddCommand(newListCmd(c))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "c2afuzz %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath, os.Getenv)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.LogFormat = c.logFormat
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "c2afuzz",
		FilePath:  cfg.LogFile,
		Output:    cmd.ErrOrStderr(),
	})
	c.cfg = cfg
	return nil
}

// targets loads the command database and the enumeration.
func (c *cli) targets() (*cmddb.Database, *enum.Index, error) {
	db := cmddb.Load(c.cfg.CmdDBPath)
	idx, err := harness.LoadIndex(c.cfg, db)
	if err != nil {
		return nil, nil, err
	}
	return db, idx, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Debug().Err(err).Msg("Command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
