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

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/c2afuzz/c2afuzz/internal/config"
	"github.com/c2afuzz/c2afuzz/internal/harness"
	"github.com/c2afuzz/c2afuzz/internal/logging"
	"github.com/c2afuzz/c2afuzz/internal/pipeline"
	"github.com/c2afuzz/c2afuzz/internal/utils"
	"github.com/c2afuzz/c2afuzz/internal/websocket"
)

var Version = "dev"

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

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "observer",
		FilePath:  cfg.LogFile,
		Output:    stderr,
	})
	defer logging.Shutdown()

	var sinks []io.Writer
	var stream *logging.Broadcaster
	if cfg.Observer.WSAddr != "" {
		stream = logging.NewBroadcaster(logging.DefaultBufferSize)
		defer stream.Shutdown()
		sinks = append(sinks, stream)
	}

	addr := net.JoinHostPort(cfg.Observer.ListenHost, strconv.Itoa(cfg.Observer.ListenPort))
	observer, err := pipeline.ListenObserver(addr, stdout, sinks...)
	if err != nil {
		return err
	}

	log.Info().
		Str("version", Version).
		Str("addr", observer.Addr().String()).
		Str("ws_addr", cfg.Observer.WSAddr).
		Msg("Starting observer")

	g, ctx := errgroup.WithContext(ctx)

	var ready atomic.Bool
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return harness.ServeHTTP(ctx, "metrics", cfg.MetricsAddr, harness.HealthHandler(&ready))
		})
	}
	if stream != nil {
		mux := harness.HealthHandler(&ready)
		mux.Handle("/ws", websocket.NewStream(stream, cfg.Observer.TrustedNetworks))
		g.Go(func() error {
			return harness.ServeHTTP(ctx, "stream", cfg.Observer.WSAddr, mux)
		})
	}

	g.Go(func() error {
		ready.Store(true)
		return observer.Serve(ctx)
	})

	err = g.Wait()
	log.Info().Msg("Observer stopped")
	return err
}

func loadConfig(args []string, getenv func(string) string) (*config.Config, error) {
	fs := flag.NewFlagSet("c2afuzz-observer", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", getenv("C2AFUZZ_CONFIG"), "Path to YAML config file")
	listenHost := fs.String("listen-host", "", "Address to receive mirrored output on")
	listenPort := fs.Int("listen-port", 0, "UDP port to receive mirrored output on")
	wsAddr := fs.String("ws-addr", "", "Address for the live websocket stream at /ws (empty disables)")
	trusted := fs.String("trusted-networks", "", "Comma separated CIDRs allowed to connect to the stream")
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
			cfg.Observer.ListenHost = *listenHost
		case "listen-port":
			cfg.Observer.ListenPort = *listenPort
		case "ws-addr":
			cfg.Observer.WSAddr = *wsAddr
		case "trusted-networks":
			cfg.Observer.TrustedNetworks = utils.SplitList(*trusted)
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
