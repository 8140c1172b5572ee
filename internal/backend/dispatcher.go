package backend

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	fuzzerrors "github.com/c2afuzz/c2afuzz/internal/errors"
	"github.com/c2afuzz/c2afuzz/internal/metrics"
	"github.com/c2afuzz/c2afuzz/internal/params"
)

// Defaults used by the ground tools.
const (
	DefaultTIField  = "HK.SH.TI"
	DefaultTIOffset = 10000
)

// DispatcherConfig holds the telemetry ids used to confirm commands and to
// read the target's current time indicator.
type DispatcherConfig struct {
	TriggerCode uint32 // command that makes the target emit telemetry on demand
	HKTlmID     uint32 // housekeeping telemetry carrying the TI
	AckTlmID    uint32 // telemetry used to confirm realtime commands
	TIField     string
	TIOffset    uint64
}

// Dispatcher sends fuzz inputs through an Operation.
type Dispatcher struct {
	op  Operation
	cfg DispatcherConfig
}

// NewDispatcher returns a dispatcher. An empty TIField takes the default.
// TIOffset is used as given, so zero schedules at the current TI.
func NewDispatcher(op Operation, cfg DispatcherConfig) *Dispatcher {
	if cfg.TIField == "" {
		cfg.TIField = DefaultTIField
	}
	return &Dispatcher{op: op, cfg: cfg}
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() DispatcherConfig {
	return d.cfg
}

// Dispatch sends one command in the given mode. A non-nil error always comes
// with ResultError.
func (d *Dispatcher) Dispatch(ctx context.Context, mode Mode, name string, code uint32, ps []params.Param) (Result, error) {
	switch mode {
	case ModeTimeline:
		return d.Timeline(ctx, name, code, ps)
	case ModeBlock:
		return d.Block(ctx, name, code, ps)
	default:
		return d.Realtime(ctx, name, code, ps)
	}
}

// Realtime sends the command for immediate execution and returns the tag the
// target reports.
func (d *Dispatcher) Realtime(ctx context.Context, name string, code uint32, ps []params.Param) (Result, error) {
	result, err := d.op.SendRealtimeCommandAndConfirm(ctx, code, ps, d.cfg.AckTlmID)
	if err != nil {
		return d.fail(ModeRealtime, "send_rt", name, code, err)
	}
	metrics.RecordDispatch(string(ModeRealtime), string(result))
	return result, nil
}

// Timeline schedules the command TIOffset ticks after the target's current TI.
func (d *Dispatcher) Timeline(ctx context.Context, name string, code uint32, ps []params.Param) (Result, error) {
	ti, err := d.CurrentTI(ctx)
	if err != nil {
		return d.fail(ModeTimeline, "read_ti", name, code, err)
	}
	if err := d.op.SendTimelineCommand(ctx, ti+d.cfg.TIOffset, code, ps); err != nil {
		return d.fail(ModeTimeline, "send_tl", name, code, err)
	}
	metrics.RecordDispatch(string(ModeTimeline), string(ResultSuccess))
	return ResultSuccess, nil
}

// Block registers the command in a block command sequence TIOffset ticks
// after the target's current TI.
func (d *Dispatcher) Block(ctx context.Context, name string, code uint32, ps []params.Param) (Result, error) {
	ti, err := d.CurrentTI(ctx)
	if err != nil {
		return d.fail(ModeBlock, "read_ti", name, code, err)
	}
	if err := d.op.SendBlockCommand(ctx, ti+d.cfg.TIOffset, code, ps); err != nil {
		return d.fail(ModeBlock, "send_bl", name, code, err)
	}
	metrics.RecordDispatch(string(ModeBlock), string(ResultSuccess))
	return ResultSuccess, nil
}

// CurrentTI reads the time indicator from housekeeping telemetry. A packet
// without the field counts as TI 0.
func (d *Dispatcher) CurrentTI(ctx context.Context) (uint64, error) {
	tlm, err := d.op.GenerateAndReceiveTelemetry(ctx, d.cfg.TriggerCode, d.cfg.HKTlmID)
	if err != nil {
		return 0, err
	}
	ti, _ := tlm.Uint(d.cfg.TIField)
	return ti, nil
}

func (d *Dispatcher) fail(mode Mode, op, name string, code uint32, err error) (Result, error) {
	var wrapped error
	if errors.Is(err, context.DeadlineExceeded) {
		wrapped = fuzzerrors.WrapTimeoutError(op, name, code, err)
	} else {
		wrapped = fuzzerrors.WrapBackendError(op, name, code, err)
	}
	log.Warn().Err(err).Str("mode", string(mode)).Str("cmd_name", name).Uint32("cmd_code", code).Msg("Dispatch failed")
	metrics.RecordDispatch(string(mode), string(ResultError))
	return ResultError, wrapped
}
