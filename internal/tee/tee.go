// Package tee mirrors console writes to a UDP listener without ever letting
// the mirror affect the primary stream.
package tee

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/c2afuzz/c2afuzz/internal/metrics"
	"github.com/c2afuzz/c2afuzz/internal/wire"
)

// Writer writes every fragment to a primary writer and then sends the same
// bytes to a fixed address, one datagram per wire.MaxPayloadSize bytes.
// Send failures are counted and otherwise ignored.
type Writer struct {
	primary io.Writer
	conn    net.PacketConn
	addr    net.Addr
	mu      sync.Mutex
	closed  bool
}

// Dial opens an unconnected UDP socket that mirrors to host:port.
func Dial(primary io.Writer, host string, port int) (*Writer, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve tee address: %w", err)
	}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("open tee socket: %w", err)
	}
	return New(primary, conn, addr), nil
}

// New wraps an existing packet connection. The writer owns conn.
func New(primary io.Writer, conn net.PacketConn, addr net.Addr) *Writer {
	return &Writer{primary: primary, conn: conn, addr: addr}
}

// Write implements io.Writer. The returned count and error are always those
// of the primary writer.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.primary.Write(p)
	if len(p) > 0 && !w.closed {
		w.mirror(p)
	}
	return n, err
}

func (w *Writer) mirror(p []byte) {
	payload := wire.ToValidUTF8(p)
	for len(payload) > 0 {
		chunk := payload[:splitAt(payload, wire.MaxPayloadSize)]
		payload = payload[len(chunk):]
		if _, err := w.conn.WriteTo(chunk, w.addr); err != nil {
			metrics.RecordTeeFailure()
		}
	}
}

// splitAt returns the largest prefix length up to limit that does not cut a
// UTF-8 sequence in half.
func splitAt(b []byte, limit int) int {
	if len(b) <= limit {
		return len(b)
	}
	n := limit
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	if n == 0 {
		return limit
	}
	return n
}

// Addr returns the mirror destination.
func (w *Writer) Addr() net.Addr {
	return w.addr
}

// Close releases the mirror socket. The primary writer is left open.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close()
}
