package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/c2afuzz/c2afuzz/internal/backend"
	"github.com/c2afuzz/c2afuzz/internal/metrics"
	"github.com/c2afuzz/c2afuzz/internal/params"
	"github.com/c2afuzz/c2afuzz/internal/wire"
)

const (
	roleExecutor = "executor"
	roleObserver = "observer"
)

// Executor receives fuzz messages and forwards each one to the target as a
// timeline command. Datagrams are handled strictly one at a time.
type Executor struct {
	conn       net.PacketConn
	dispatcher *backend.Dispatcher
	out        io.Writer
}

// ListenExecutor binds addr ("host:port") for UDP.
func ListenExecutor(addr string, dispatcher *backend.Dispatcher, out io.Writer) (*Executor, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("executor listen %s: %w", addr, err)
	}
	return NewExecutor(conn, dispatcher, out), nil
}

// NewExecutor serves on an existing connection. Console lines go to out,
// which is normally the tee'd standard output.
func NewExecutor(conn net.PacketConn, dispatcher *backend.Dispatcher, out io.Writer) *Executor {
	if out == nil {
		out = io.Discard
	}
	return &Executor{conn: conn, dispatcher: dispatcher, out: out}
}

// Addr returns the bound address.
func (e *Executor) Addr() net.Addr {
	return e.conn.LocalAddr()
}

// Serve runs the receive loop until ctx is cancelled. It closes the connection on return.
func (e *Executor) Serve(ctx context.Context) error {
	fmt.Fprintf(e.out, "[EXEC] listening on %s\n", e.Addr())
	return serveDatagrams(ctx, e.conn, roleExecutor, func(data []byte, from net.Addr) {
		_, _ = e.Handle(ctx, data, from)
	})
}

// Handle processes one datagram. Undecodable datagrams are reported and
// dropped; they never stop the loop.
func (e *Executor) Handle(ctx context.Context, data []byte, from net.Addr) (backend.Result, error) {
	msg, err := wire.Decode(data)
	if err != nil {
		metrics.RecordDecodeError()
		fmt.Fprintf(e.out, "[EXEC] invalid json from %s: %v\n", from, err)
		log.Warn().Err(err).Str("addr", addrString(from)).Msg("Dropping undecodable datagram")
		return "", err
	}

	code := uint32(msg.CmdCode)
	fmt.Fprintf(e.out, "[EXEC] recv from %s: cmd_name=%s, cmd_code=0x%04X, params=%s\n",
		from, msg.CmdName, code, params.FormatList(msg.Params))

	result, err := e.dispatcher.Timeline(ctx, msg.CmdName, code, msg.Params)
	if err != nil {
		fmt.Fprintf(e.out, "[EXEC] error: %v\n", err)
	}
	fmt.Fprintf(e.out, "[EXEC] result=%s\n", result)

	log.Info().
		Str("cmd_name", msg.CmdName).
		Uint32("cmd_code", code).
		Str("result", string(result)).
		Msg("Dispatched fuzz message")
	return result, err
}

// serveDatagrams reads datagrams until ctx is done, handing each to fn
// before reading the next.
func serveDatagrams(ctx context.Context, conn net.PacketConn, role string, fn func([]byte, net.Addr)) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, wire.MaxDatagramSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn().Err(err).Str("role", role).Msg("UDP receive failed")
			continue
		}
		metrics.RecordDatagram(role)

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		fn(datagram, from)
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
