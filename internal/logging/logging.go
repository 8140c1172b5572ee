// Package logging configures the process-wide zerolog logger shared by every
// c2afuzz role, and the broadcaster that fans console output out to live
// viewers.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/term"
)

// Config controls logger initialization.
type Config struct {
	Format    string    // "json", "console", or "auto"
	Level     string    // "debug", "info", "warn", "error"
	Component string    // role name attached to every event
	FilePath  string    // optional append-only log file
	Output    io.Writer // defaults to os.Stderr; the executor passes its tee'd stderr
}

var (
	mu      sync.Mutex
	logFile io.Closer
	current io.Writer = os.Stderr
)

var (
	isTerminalFn = term.IsTerminal
	openFileFn   = os.OpenFile
	mkdirAllFn   = os.MkdirAll
)

// Init replaces log.Logger and returns it. A log file that cannot be opened
// is reported on stderr and skipped.
func Init(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	writer := formatWriter(cfg.Format, out)

	file, err := openLogFile(cfg.FilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
	}

	mu.Lock()
	defer mu.Unlock()

	closeFileLocked()
	if file != nil {
		writer = io.MultiWriter(writer, file)
		logFile = file
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	builder := zerolog.New(writer).With().Timestamp()
	if role := strings.TrimSpace(cfg.Component); role != "" {
		builder = builder.Str("component", role)
	}
	log.Logger = builder.Logger()
	current = writer
	return log.Logger
}

// Shutdown closes the log file, if any. Console output keeps working.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	closeFileLocked()
}

func closeFileLocked() {
	if logFile == nil {
		return
	}
	if err := logFile.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "logging: close log file: %v\n", err)
	}
	logFile = nil
}

// parseLevel accepts zerolog level names and "warning". Anything else is info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "":
		return zerolog.InfoLevel
	case "warning":
		return zerolog.WarnLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		fmt.Fprintf(os.Stderr, "logging: unknown level %q, using info\n", level)
		return zerolog.InfoLevel
	}
	return parsed
}

func formatWriter(format string, out io.Writer) io.Writer {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	case "json":
		return out
	case "auto", "":
		if isTerminal(out) {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
		}
		return out
	default:
		fmt.Fprintf(os.Stderr, "logging: unknown format %q, using json\n", format)
		return out
	}
}

// isTerminal only reports true for real files; tee writers and buffers are never terminals.
func isTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok || file == nil {
		return false
	}
	return isTerminalFn(int(file.Fd()))
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	path = filepath.Clean(path)
	if err := mkdirAllFn(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := openFileFn(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}
