package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/c2afuzz/c2afuzz/internal/cmddb"
	"github.com/c2afuzz/c2afuzz/internal/config"
	"github.com/c2afuzz/c2afuzz/internal/harness"
	"github.com/c2afuzz/c2afuzz/internal/logging"
	"github.com/c2afuzz/c2afuzz/internal/pipeline"
	"github.com/c2afuzz/c2afuzz/internal/tee"
)

var (
	Version = "dev"

	executorUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "c2afuzz_executor_up",
		Help: "Whether the executor is serving (1 = up, 0 = down)",
	})
)

var (
	// For testing
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Getenv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string) error {
	cfg, err := loadConfig(args, getenv)
	if err != nil {
		return err
	}

	// Both streams are mirrored to the observer; the primary streams are unaffected.
	outMirror, err := tee.Dial(stdout, cfg.Tee.Host, cfg.Tee.Port)
	if err != nil {
		return err
	}
	defer outMirror.Close()
	errMirror, err := tee.Dial(stderr, cfg.Tee.Host, cfg.Tee.Port)
	if err != nil {
		return err
	}
	defer errMirror.Close()

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "executor",
		FilePath:  cfg.LogFile,
		Output:    errMirror,
	})
	defer logging.Shutdown()

	fmt.Fprintf(outMirror, "[EXEC] mirroring stdout to UDP %s\n", outMirror.Addr())

	db := cmddb.Load(cfg.CmdDBPath)
	idx, err := harness.LoadIndex(cfg, db)
	if err != nil {
		return err
	}
	op, err := harness.NewOperation(cfg, db, outMirror)
	if err != nil {
		return err
	}
	dispatcher, err := harness.NewDispatcher(cfg, idx, op)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Executor.ListenHost, strconv.Itoa(cfg.Executor.ListenPort))
	executor, err := pipeline.ListenExecutor(addr, dispatcher, outMirror)
	if err != nil {
		return err
	}

	log.Info().
		Str("version", Version).
		Str("addr", executor.Addr().String()).
		Str("backend", cfg.Backend.Kind).
		Int("commands", db.Len()).
		Msg("Starting executor")

	g, ctx := errgroup.WithContext(ctx)

	var ready atomic.Bool
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return harness.ServeHTTP(ctx, "metrics", cfg.MetricsAddr, harness.HealthHandler(&ready))
		})
	}

	g.Go(func() error {
		ready.Store(true)
		executorUp.Set(1)
		defer executorUp.Set(0)
		return executor.Serve(ctx)
	})

	err = g.Wait()
	log.Info().Msg("Executor stopped")
	return err
}

func loadConfig(args []string, getenv func(string) string) (*config.Config, error) {
	fs := flag.NewFlagSet("c2afuzz-executor", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", getenv("C2AFUZZ_CONFIG"), "Path to YAML config file")
	listenHost := fs.String("listen-host", "", "Address to receive fuzz messages on")
	listenPort := fs.Int("listen-port", 0, "UDP port to receive fuzz messages on")
	teeHost := fs.String("tee-host", "", "Observer host receiving mirrored output")
	teePort := fs.Int("tee-port", 0, "Observer UDP port receiving mirrored output")
	cmdDB := fs.String("cmd-db", "", "Command DB CSV path")
	enumPath := fs.String("enum", "", "Command enumeration (C header, YAML or JSON)")
	backendKind := fs.String("backend", "", "Backend kind: sim or process")
	backendProgram := fs.String("backend-program", "", "Bridge program for the process backend")
	tiOffset := fs.Uint64("ti-offset", 0, "Ticks after the current TI to schedule commands at")
	metricsAddr := fs.String("metrics-addr", "", "Address for /metrics and /healthz (empty disables)")
	logLevel := fs.String("log-level", "", "Log level")
	logFormat := fs.String("log-format", "", "Log format: console, json or auto")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath, getenv)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen-host":
			cfg.Executor.ListenHost = *listenHost
		case "listen-port":
			cfg.Executor.ListenPort = *listenPort
		case "tee-host":
			cfg.Tee.Host = *teeHost
		case "tee-port":
			cfg.Tee.Port = *teePort
		case "cmd-db":
			cfg.CmdDBPath = *cmdDB
		case "enum":
			cfg.EnumPath = *enumPath
		case "backend":
			cfg.Backend.Kind = *backendKind
		case "backend-program":
			cfg.Backend.Program = *backendProgram
		case "ti-offset":
			cfg.Executor.TIOffset = *tiOffset
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
