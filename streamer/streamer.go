// Package streamer fans values out to any number of subscribers. A subscriber
// that falls behind misses values instead of stalling the others.
package streamer

import (
	"context"

	"go.uber.org/zap"
)

type Client[T any] struct {
	streamer *Streamer[T]
	input    chan *T
	C        <-chan *T
}

// Close unsubscribes the client. C is closed once the streamer has let go of
// it.
func (c *Client[T]) Close() {
	select {
	case c.streamer.remove <- c:
	case <-c.streamer.done:
	}
}

type Streamer[T any] struct {
	clients   map[*Client[T]]struct{}
	add       chan *Client[T]
	remove    chan *Client[T]
	broadcast chan *T
	done      chan struct{}
	logger    *zap.SugaredLogger
}

func NewStreamer[T any](buffSize int, logger *zap.SugaredLogger) *Streamer[T] {
	return &Streamer[T]{
		clients:   make(map[*Client[T]]struct{}),
		add:       make(chan *Client[T]),
		remove:    make(chan *Client[T]),
		broadcast: make(chan *T, buffSize),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// NewClient subscribes a client holding up to buffSize pending values. It
// returns false once the streamer has stopped.
func (m *Streamer[T]) NewClient(buffSize int) (*Client[T], bool) {
	ch := make(chan *T, buffSize)
	c := &Client[T]{streamer: m, input: ch, C: ch}
	select {
	case m.add <- c:
		return c, true
	case <-m.done:
		return nil, false
	}
}

// Broadcast queues data for every client. It returns false once the streamer
// has stopped.
func (m *Streamer[T]) Broadcast(data *T) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.broadcast <- data:
		return true
	case <-m.done:
		return false
	}
}

// Run serves subscriptions until ctx is done, then closes every client. It
// must be called once.
func (m *Streamer[T]) Run(ctx context.Context) {
	defer func() {
		close(m.done)
		for client := range m.clients {
			close(client.input)
		}
		clear(m.clients)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-m.add:
			m.clients[client] = struct{}{}
		case client := <-m.remove:
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.input)
			}
		case data := <-m.broadcast:
			for client := range m.clients {
				select {
				case client.input <- data:
				default:
					m.logger.Debug("client lagging, value dropped")
				}
			}
		}
	}
}
