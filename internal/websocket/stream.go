// Package websocket streams mirrored console output to browser or CLI
// clients.
package websocket

import (
	"net/http"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/c2afuzz/c2afuzz/internal/logging"
	"github.com/c2afuzz/c2afuzz/internal/metrics"
	"github.com/c2afuzz/c2afuzz/internal/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Message types sent to clients.
const (
	TypeHistory = "history"
	TypeOutput  = "output"
)

// Message is one frame sent to a client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Stream serves a broadcaster's fragments over websocket. A client first
// receives the buffered history, then every new fragment.
type Stream struct {
	source   *logging.Broadcaster
	trusted  []string
	upgrader websocket.Upgrader
}

// NewStream returns a handler. Clients connecting from outside trusted CIDRs
// are rejected; with no CIDRs, private addresses are trusted.
func NewStream(source *logging.Broadcaster, trusted []string) *Stream {
	s := &Stream{source: source, trusted: slices.Clone(trusted)}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024 * 64,
		CheckOrigin:     s.allowed,
	}
	return s
}

func (s *Stream) allowed(r *http.Request) bool {
	return utils.IsTrustedNetwork(r.RemoteAddr, s.trusted)
}

// ServeHTTP upgrades the request and streams until the client goes away.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(r) {
		log.Warn().Str("remote", r.RemoteAddr).Msg("Rejected stream client from untrusted network")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("Failed to upgrade stream connection")
		return
	}

	id, fragments, history := s.source.Subscribe()
	metrics.StreamSubscribers.Inc()
	log.Info().Str("client", id).Str("remote", r.RemoteAddr).Msg("Stream client connected")

	c := &client{id: id, conn: conn, fragments: fragments}
	done := make(chan struct{})
	go func() {
		c.readPump()
		close(done)
	}()
	c.writePump(history, done)

	s.source.Unsubscribe(id)
	metrics.StreamSubscribers.Dec()
	log.Info().Str("client", id).Msg("Stream client disconnected")
}

type client struct {
	id        string
	conn      *websocket.Conn
	fragments <-chan string
}

// readPump discards client frames and keeps the read deadline alive on pong.
func (c *client) readPump() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("Stream read error")
			}
			return
		}
	}
}

func (c *client) writePump(history []string, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	if err := c.write(Message{Type: TypeHistory, Data: history}); err != nil {
		return
	}

	for {
		select {
		case fragment, ok := <-c.fragments:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.write(Message{Type: TypeOutput, Data: fragment}); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("Stream write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *client) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
