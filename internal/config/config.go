// Package config loads harness settings from defaults, a YAML file, a .env
// file and C2AFUZZ_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/c2afuzz/c2afuzz/internal/backend"
	"github.com/c2afuzz/c2afuzz/internal/cmddb"
	"github.com/c2afuzz/c2afuzz/internal/enum"
	"github.com/c2afuzz/c2afuzz/internal/params"
	"github.com/c2afuzz/c2afuzz/internal/selector"
)

// Backend kinds.
const (
	BackendSim     = "sim"
	BackendProcess = "process"
)

// Config holds all harness settings.
type Config struct {
	CmdDBPath   string          `yaml:"cmd_db_path"`
	EnumPath    string          `yaml:"enum_path"`
	Exclude     []string        `yaml:"exclude"`
	Strategy    string          `yaml:"strategy"`
	Executor    ExecutorConfig  `yaml:"executor"`
	Observer    ObserverConfig  `yaml:"observer"`
	Tee         Endpoint        `yaml:"tee"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Backend     BackendConfig   `yaml:"backend"`
	MetricsAddr string          `yaml:"metrics_addr"`
	LogLevel    string          `yaml:"log_level"`
	LogFormat   string          `yaml:"log_format"`
	LogFile     string          `yaml:"log_file"`

	// EnvOverrides records which keys were set from the environment.
	EnvOverrides map[string]bool `yaml:"-"`
}

// ExecutorConfig is the executor's listen address and timeline scheduling.
type ExecutorConfig struct {
	ListenHost string `yaml:"listen_host"`
	ListenPort int    `yaml:"listen_port"`
	TIOffset   uint64 `yaml:"ti_offset"`
	HKTIField  string `yaml:"hk_ti_field"`
}

// ObserverConfig is the observer's listen address and live stream settings.
type ObserverConfig struct {
	ListenHost      string   `yaml:"listen_host"`
	ListenPort      int      `yaml:"listen_port"`
	WSAddr          string   `yaml:"ws_addr"`
	TrustedNetworks []string `yaml:"trusted_networks"`
}

// Endpoint is a UDP destination.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TelemetryConfig names the command and telemetry ids used for dispatch.
// Each value is either a symbolic name from the enumeration or a numeric code.
type TelemetryConfig struct {
	TriggerCmd string `yaml:"trigger_cmd"`
	HKTlm      string `yaml:"hk_tlm"`
	AckTlm     string `yaml:"ack_tlm"`
}

// BackendConfig selects how commands reach the target.
type BackendConfig struct {
	Kind    string        `yaml:"kind"`
	Program string        `yaml:"program"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		CmdDBPath: "cmd_db.csv",
		Exclude:   slices.Clone(selector.DefaultExclusions),
		Strategy:  string(params.StrategyRandom),
		Executor: ExecutorConfig{
			ListenHost: "0.0.0.0",
			ListenPort: 3000,
			TIOffset:   backend.DefaultTIOffset,
			HKTIField:  backend.DefaultTIField,
		},
		Observer: ObserverConfig{
			ListenHost: "0.0.0.0",
			ListenPort: 3001,
		},
		Tee: Endpoint{Host: "127.0.0.1", Port: 3001},
		Telemetry: TelemetryConfig{
			TriggerCmd: "TG_GENERATE_RT_TLM",
			HKTlm:      "HK",
			AckTlm:     "HK",
		},
		Backend: BackendConfig{
			Kind:    BackendSim,
			Timeout: backend.DefaultProcessTimeout,
		},
		LogLevel:     "info",
		LogFormat:    "auto",
		EnvOverrides: make(map[string]bool),
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	checkPort := func(name string, port int) {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("invalid %s port: %d", name, port))
		}
	}
	checkPort("executor", c.Executor.ListenPort)
	checkPort("observer", c.Observer.ListenPort)
	checkPort("tee", c.Tee.Port)

	if !params.Strategy(strings.ToLower(c.Strategy)).Valid() {
		errs = append(errs, fmt.Errorf("unknown strategy %q", c.Strategy))
	}
	switch c.Backend.Kind {
	case BackendSim:
	case BackendProcess:
		if strings.TrimSpace(c.Backend.Program) == "" {
			errs = append(errs, errors.New("process backend requires backend.program"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend kind %q", c.Backend.Kind))
	}
	if c.Backend.Timeout < 0 {
		errs = append(errs, fmt.Errorf("backend timeout must not be negative: %s", c.Backend.Timeout))
	}
	if c.Executor.HKTIField == "" {
		errs = append(errs, errors.New("executor.hk_ti_field must not be empty"))
	}

	return errors.Join(errs...)
}

// DispatcherConfig resolves the telemetry names against idx. Names that
// cannot be resolved are reported together; the returned config still
// carries every id that did resolve.
func (c *Config) DispatcherConfig(idx *enum.Index) (backend.DispatcherConfig, error) {
	var errs []error
	resolve := func(value string, lookup func(string) (uint32, bool), what string) uint32 {
		if code, ok := cmddb.ParseCode(value); ok {
			return code
		}
		if idx != nil {
			if code, ok := lookup(strings.TrimSpace(value)); ok {
				return code
			}
		}
		errs = append(errs, fmt.Errorf("unresolved %s %q", what, value))
		return 0
	}

	var cmdLookup, tlmLookup func(string) (uint32, bool)
	if idx != nil {
		cmdLookup, tlmLookup = idx.Command, idx.Telemetry
	}
	cfg := backend.DispatcherConfig{
		TriggerCode: resolve(c.Telemetry.TriggerCmd, cmdLookup, "trigger command"),
		HKTlmID:     resolve(c.Telemetry.HKTlm, tlmLookup, "housekeeping telemetry"),
		AckTlmID:    resolve(c.Telemetry.AckTlm, tlmLookup, "ack telemetry"),
		TIField:     c.Executor.HKTIField,
		TIOffset:    c.Executor.TIOffset,
	}
	return cfg, errors.Join(errs...)
}
