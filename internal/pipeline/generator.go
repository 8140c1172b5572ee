// Package pipeline implements the three fuzzing roles: the generator that
// emits one command per datagram, the executor that forwards received
// commands to the target, and the observer that prints what the executor
// mirrors back.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/c2afuzz/c2afuzz/internal/metrics"
	"github.com/c2afuzz/c2afuzz/internal/params"
	"github.com/c2afuzz/c2afuzz/internal/selector"
	"github.com/c2afuzz/c2afuzz/internal/wire"
)

// Generator builds fuzz messages and sends each one once to the executor.
type Generator struct {
	sel    *selector.Selector
	gen    *params.Generator
	dst    string
	out    io.Writer
	dialer net.Dialer
}

// NewGenerator returns a generator sending to host:port. Console lines go to out.
func NewGenerator(sel *selector.Selector, gen *params.Generator, host string, port int, out io.Writer) *Generator {
	if out == nil {
		out = io.Discard
	}
	return &Generator{
		sel: sel,
		gen: gen,
		dst: net.JoinHostPort(host, strconv.Itoa(port)),
		out: out,
	}
}

// Destination returns the executor address.
func (g *Generator) Destination() string {
	return g.dst
}

// Build selects a command and draws its parameters.
func (g *Generator) Build(req selector.Request) (wire.FuzzMessage, error) {
	sel, err := g.sel.SelectOne(req)
	if err != nil {
		return wire.FuzzMessage{}, err
	}

	meta := &wire.Meta{
		GeneratorPID: os.Getpid(),
		MsgID:        uuid.NewString(),
		Strategy:     string(g.gen.Strategy()),
		Seed:         req.Seed,
	}
	return wire.FuzzMessage{
		CmdName: sel.Name,
		CmdCode: wire.Code(sel.Code),
		Params:  g.gen.ForDescriptor(sel.Descriptor),
		Meta:    meta,
	}, nil
}

// Send encodes msg and writes it as a single datagram. Delivery is not confirmed.
func (g *Generator) Send(ctx context.Context, msg wire.FuzzMessage) error {
	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	conn, err := g.dialer.DialContext(ctx, "udp", g.dst)
	if err != nil {
		return fmt.Errorf("dial executor %s: %w", g.dst, err)
	}
	defer conn.Close()

	fmt.Fprintf(g.out, "[GEN] send -> %s : %s", g.dst, payload)
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send to executor %s: %w", g.dst, err)
	}

	metrics.RecordMessageSent()
	log.Debug().
		Str("cmd_name", msg.CmdName).
		Uint32("cmd_code", uint32(msg.CmdCode)).
		Str("dst", g.dst).
		Msg("Sent fuzz message")
	return nil
}

// SendOne builds and sends one message.
func (g *Generator) SendOne(ctx context.Context, req selector.Request) (wire.FuzzMessage, error) {
	msg, err := g.Build(req)
	if err != nil {
		return wire.FuzzMessage{}, err
	}
	return msg, g.Send(ctx, msg)
}
