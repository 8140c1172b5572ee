package logging

import (
	"container/ring"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultBufferSize is the number of fragments to keep in memory.
const (
	DefaultBufferSize = 1000

	subscriberQueueSize = 256
)

// Broadcaster captures console fragments, keeps a bounded history and fans
// them out to subscribers. Slow subscribers miss fragments rather than
// stalling the writer.
type Broadcaster struct {
	mu          sync.RWMutex
	buffer      *ring.Ring
	subscribers map[string]chan string
	dropped     map[string]int
}

// NewBroadcaster returns a broadcaster retaining the last size fragments.
func NewBroadcaster(size int) *Broadcaster {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Broadcaster{
		buffer:      ring.New(size),
		subscribers: make(map[string]chan string),
		dropped:     make(map[string]int),
	}
}

// Write implements io.Writer.
func (b *Broadcaster) Write(p []byte) (int, error) {
	msg := string(p)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffer.Value = msg
	b.buffer = b.buffer.Next()

	for id, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			b.dropped[id]++
			if b.dropped[id] == 1 {
				log.Debug().Str("subscriber", id).Msg("Subscriber blocked, dropping fragments")
			}
		}
	}

	return len(p), nil
}

// Subscribe adds a new subscriber and returns its id, a channel of fragments
// and a snapshot of the current history.
func (b *Broadcaster) Subscribe() (string, <-chan string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan string, subscriberQueueSize)
	b.subscribers[id] = ch

	return id, ch, b.historyLocked()
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
		delete(b.dropped, id)
	}
}

// History returns the buffered fragments, oldest first.
func (b *Broadcaster) History() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.historyLocked()
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Shutdown closes every subscriber channel.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.dropped = make(map[string]int)
}

func (b *Broadcaster) historyLocked() []string {
	history := make([]string, 0, b.buffer.Len())
	b.buffer.Do(func(p any) {
		if p != nil {
			history = append(history, p.(string))
		}
	})
	return history
}
