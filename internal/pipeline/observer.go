package pipeline

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/c2afuzz/c2afuzz/internal/wire"
)

type flusher interface {
	Flush() error
}

type syncer interface {
	Sync() error
}

// Observer prints output fragments mirrored by the executor. Fragments are
// written exactly as received, so line structure is whatever the executor produced.
type Observer struct {
	conn  net.PacketConn
	out   io.Writer
	sinks []io.Writer
}

// ListenObserver binds addr ("host:port") for UDP.
func ListenObserver(addr string, out io.Writer, sinks ...io.Writer) (*Observer, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("observer listen %s: %w", addr, err)
	}
	return NewObserver(conn, out, sinks...), nil
}

// NewObserver serves on an existing connection. Each fragment is written to
// out and then copied to every sink.
func NewObserver(conn net.PacketConn, out io.Writer, sinks ...io.Writer) *Observer {
	if out == nil {
		out = io.Discard
	}
	return &Observer{conn: conn, out: out, sinks: sinks}
}

// Addr returns the bound address.
func (o *Observer) Addr() net.Addr {
	return o.conn.LocalAddr()
}

// Serve runs the receive loop until ctx is cancelled.
func (o *Observer) Serve(ctx context.Context) error {
	fmt.Fprintf(o.out, "[STDOUT-RX] listening on %s\n", o.Addr())
	o.flush()
	return serveDatagrams(ctx, o.conn, roleObserver, func(data []byte, _ net.Addr) {
		o.Handle(data)
	})
}

// Handle writes one fragment. Invalid UTF-8 is replaced, never rejected.
func (o *Observer) Handle(data []byte) {
	text := wire.ToValidUTF8(data)
	if _, err := o.out.Write(text); err != nil {
		log.Warn().Err(err).Msg("Failed to write mirrored output")
	}
	o.flush()
	for _, sink := range o.sinks {
		_, _ = sink.Write(text)
	}
}

func (o *Observer) flush() {
	switch w := o.out.(type) {
	case flusher:
		_ = w.Flush()
	case syncer:
		_ = w.Sync()
	}
}
