package backend

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/c2afuzz/c2afuzz/internal/params"
	"github.com/c2afuzz/c2afuzz/internal/utils"
)

// DefaultProcessTimeout bounds one bridge invocation.
const DefaultProcessTimeout = 30 * time.Second

// runFunc matches utils.RunCommand so tests can substitute it.
type runFunc func(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)

// Process drives a target through an external bridge program, typically a
// small script around the ground station's operation API. Each call runs
//
//	<program> <args...> rt  <code> <params-json> <ack-tlm-id>
//	<program> <args...> tl  <ti> <code> <params-json>
//	<program> <args...> bl  <ti> <code> <params-json>
//	<program> <args...> tlm <trigger-code> <tlm-id>
//
// rt prints the result tag as its first token; tlm prints one JSON object.
type Process struct {
	Program string
	Args    []string
	Timeout time.Duration

	run runFunc
}

// NewProcess returns a bridge backend.
func NewProcess(program string, args []string, timeout time.Duration) *Process {
	if timeout <= 0 {
		timeout = DefaultProcessTimeout
	}
	return &Process{Program: program, Args: args, Timeout: timeout, run: utils.RunCommand}
}

func (p *Process) invoke(ctx context.Context, verb string, operands ...string) ([]byte, error) {
	args := make([]string, 0, len(p.Args)+1+len(operands))
	args = append(args, p.Args...)
	args = append(args, verb)
	args = append(args, operands...)

	log.Debug().Str("program", p.Program).Strs("args", args).Msg("Invoking backend bridge")
	return p.run(ctx, p.Timeout, p.Program, args...)
}

func encodeParams(ps []params.Param) (string, error) {
	if ps == nil {
		ps = []params.Param{}
	}
	out, err := json.Marshal(ps)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return string(out), nil
}

func (p *Process) SendRealtimeCommandAndConfirm(ctx context.Context, code uint32, ps []params.Param, ackTlmID uint32) (Result, error) {
	encoded, err := encodeParams(ps)
	if err != nil {
		return "", err
	}
	out, err := p.invoke(ctx, "rt", formatCode(code), encoded, strconv.FormatUint(uint64(ackTlmID), 10))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", fmt.Errorf("bridge returned no result tag")
	}
	return ParseResult(fields[0]), nil
}

func (p *Process) SendTimelineCommand(ctx context.Context, ti uint64, code uint32, ps []params.Param) error {
	encoded, err := encodeParams(ps)
	if err != nil {
		return err
	}
	_, err = p.invoke(ctx, "tl", strconv.FormatUint(ti, 10), formatCode(code), encoded)
	return err
}

func (p *Process) SendBlockCommand(ctx context.Context, ti uint64, code uint32, ps []params.Param) error {
	encoded, err := encodeParams(ps)
	if err != nil {
		return err
	}
	_, err = p.invoke(ctx, "bl", strconv.FormatUint(ti, 10), formatCode(code), encoded)
	return err
}

func (p *Process) GenerateAndReceiveTelemetry(ctx context.Context, triggerCode, tlmID uint32) (Telemetry, error) {
	out, err := p.invoke(ctx, "tlm", formatCode(triggerCode), strconv.FormatUint(uint64(tlmID), 10))
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(out))
	dec.UseNumber()
	var tlm Telemetry
	if err := dec.Decode(&tlm); err != nil {
		return nil, fmt.Errorf("decode telemetry: %w", err)
	}
	return tlm, nil
}

func formatCode(code uint32) string {
	return fmt.Sprintf("0x%04X", code)
}
