// Package backend defines the command-execution interface of the target and
// the dispatcher that turns fuzz inputs into realtime, timeline or block
// commands.
package backend

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/c2afuzz/c2afuzz/internal/params"
)

// Result is the outcome tag reported for one dispatched command.
type Result string

const (
	ResultSuccess       Result = "SUC"  // executed
	ResultParamError    Result = "PRM"  // rejected: illegal parameter
	ResultContextError  Result = "CNT"  // rejected: illegal context
	ResultRoutingFailed Result = "ROE"  // rejected: routing/handler failure
	ResultError         Result = "ERR"  // the ground side failed to send or confirm
	ResultSkipped       Result = "SKIP" // deliberately not attempted
)

// Results lists the known tags in report order.
var Results = []Result{ResultSuccess, ResultParamError, ResultContextError, ResultRoutingFailed, ResultError, ResultSkipped}

// ParseResult normalizes a tag reported by a backend. Unknown tags are kept
// verbatim so that they show up in reports instead of disappearing.
func ParseResult(s string) Result {
	return Result(strings.ToUpper(strings.TrimSpace(s)))
}

// Failed reports whether r belongs in a campaign's failure list.
func (r Result) Failed() bool {
	return r != ResultSuccess && r != ResultParamError
}

// Telemetry is one decoded telemetry packet keyed by field path, e.g. "HK.SH.TI".
type Telemetry map[string]any

// Uint returns a non-negative integer field. Missing or non-numeric fields
// report false.
func (t Telemetry) Uint(field string) (uint64, bool) {
	v, ok := t[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case int:
		return uint64(max(n, 0)), true
	case int64:
		return uint64(max(n, 0)), true
	case float64:
		if math.IsNaN(n) || n < 0 {
			return 0, true
		}
		return uint64(n), true
	case json.Number:
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return u, true
		}
		if f, err := n.Float64(); err == nil && f >= 0 {
			return uint64(f), true
		}
		return 0, false
	case string:
		u, err := strconv.ParseUint(strings.TrimSpace(n), 0, 64)
		return u, err == nil
	default:
		return 0, false
	}
}

// Operation is the narrow view of a running target the harness needs.
type Operation interface {
	SendRealtimeCommandAndConfirm(ctx context.Context, code uint32, ps []params.Param, ackTlmID uint32) (Result, error)
	SendTimelineCommand(ctx context.Context, ti uint64, code uint32, ps []params.Param) error
	SendBlockCommand(ctx context.Context, ti uint64, code uint32, ps []params.Param) error
	GenerateAndReceiveTelemetry(ctx context.Context, triggerCode, tlmID uint32) (Telemetry, error)
}

// Mode selects how a command is dispatched.
type Mode string

const (
	ModeRealtime Mode = "rt"
	ModeTimeline Mode = "tl"
	ModeBlock    Mode = "bl"
)

// ParseMode accepts "rt", "tl" and "bl" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeRealtime, "":
		return ModeRealtime, nil
	case ModeTimeline:
		return ModeTimeline, nil
	case ModeBlock:
		return ModeBlock, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q (want rt, tl or bl)", s)
	}
}
