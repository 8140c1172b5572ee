package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/c2afuzz/c2afuzz/internal/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "C2AFUZZ_"

// SearchPaths are tried in order when no config file is given.
var SearchPaths = []string{"c2afuzz.yaml", "c2afuzz.yml"}

// DotEnvPath is the .env file read on Load. Values already present in the
// real environment win over it.
var DotEnvPath = ".env"

// Load builds the configuration. An explicit path must exist; otherwise the
// first existing SearchPaths entry is used, if any. getenv defaults to os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	if path == "" {
		for _, candidate := range SearchPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
		log.Debug().Str("file", path).Msg("Loaded configuration file")
	}

	cfg.applyEnv(withDotEnv(getenv))
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if c.EnvOverrides == nil {
		c.EnvOverrides = make(map[string]bool)
	}
	return nil
}

func withDotEnv(getenv func(string) string) func(string) string {
	values, err := godotenv.Read(DotEnvPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", DotEnvPath).Msg("Failed to read .env file")
		}
		return getenv
	}
	log.Debug().Str("file", DotEnvPath).Int("keys", len(values)).Msg("Loaded .env overrides")
	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return values[key]
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v, ok := utils.EnvValue(getenv, EnvPrefix+key); ok {
			*dst = v
			c.EnvOverrides[key] = true
		}
	}
	integer := func(key string, dst *int) {
		v, ok := utils.EnvValue(getenv, EnvPrefix+key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("key", EnvPrefix+key).Str("value", v).Msg("Ignoring non-numeric environment override")
			return
		}
		*dst = n
		c.EnvOverrides[key] = true
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(getenv, EnvPrefix+key); ok {
			*dst = utils.SplitList(v)
			c.EnvOverrides[key] = true
		}
	}

	str("CMD_DB_PATH", &c.CmdDBPath)
	str("ENUM_PATH", &c.EnumPath)
	list("EXCLUDE", &c.Exclude)
	str("STRATEGY", &c.Strategy)

	str("EXECUTOR_HOST", &c.Executor.ListenHost)
	integer("EXECUTOR_PORT", &c.Executor.ListenPort)
	str("HK_TI_FIELD", &c.Executor.HKTIField)
	if v, ok := utils.EnvValue(getenv, EnvPrefix+"TI_OFFSET"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Executor.TIOffset = n
			c.EnvOverrides["TI_OFFSET"] = true
		} else {
			log.Warn().Str("key", EnvPrefix+"TI_OFFSET").Str("value", v).Msg("Ignoring non-numeric environment override")
		}
	}

	str("OBSERVER_HOST", &c.Observer.ListenHost)
	integer("OBSERVER_PORT", &c.Observer.ListenPort)
	str("WS_ADDR", &c.Observer.WSAddr)
	list("TRUSTED_NETWORKS", &c.Observer.TrustedNetworks)

	str("TEE_HOST", &c.Tee.Host)
	integer("TEE_PORT", &c.Tee.Port)

	str("TRIGGER_CMD", &c.Telemetry.TriggerCmd)
	str("HK_TLM", &c.Telemetry.HKTlm)
	str("ACK_TLM", &c.Telemetry.AckTlm)

	str("BACKEND", &c.Backend.Kind)
	str("BACKEND_PROGRAM", &c.Backend.Program)
	if v, ok := utils.EnvValue(getenv, EnvPrefix+"BACKEND_ARGS"); ok {
		c.Backend.Args = strings.Fields(v)
		c.EnvOverrides["BACKEND_ARGS"] = true
	}
	if v, ok := utils.EnvValue(getenv, EnvPrefix+"BACKEND_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.Backend.Timeout = d
			c.EnvOverrides["BACKEND_TIMEOUT"] = true
		} else if d, err := time.ParseDuration(v + "s"); err == nil {
			c.Backend.Timeout = d
			c.EnvOverrides["BACKEND_TIMEOUT"] = true
		} else {
			log.Warn().Str("key", EnvPrefix+"BACKEND_TIMEOUT").Str("value", v).Msg("Ignoring invalid duration override")
		}
	}

	str("METRICS_ADDR", &c.MetricsAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("LOG_FILE", &c.LogFile)
}

// lookup returns a list override. "-" clears the list.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	if v == "" {
		return "", false
	}
	if strings.TrimSpace(v) == "-" {
		return "", true
	}
	return v, true
}
