// Package notify implements a fan-out broadcaster: one producer, any
// number of subscribers, each getting every value sent. Used by
// layoutctl to push layout-change snapshots to webapi's SSE stream and
// console's TUI without either knowing about the other.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const subscriberTimeout = 200 * time.Millisecond

type subscriber[E any] struct {
	ch      chan E
	comment string
}

// Multiplexer broadcasts values of type E to every subscribed channel.
// Safe for concurrent Subscribe/Unsubscribe/Send.
type Multiplexer[E any] struct {
	comment string
	log     *zap.SugaredLogger

	mu          sync.Mutex
	subscribers []subscriber[E]
}

func NewMultiplexer[E any](comment string, log *zap.SugaredLogger) *Multiplexer[E] {
	return &Multiplexer[E]{comment: comment, log: log}
}

func (m *Multiplexer[E]) Subscribe(comment string, c chan E) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, subscriber[E]{ch: c, comment: comment})
}

func (m *Multiplexer[E]) Unsubscribe(c chan E) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.subscribers, func(sub subscriber[E]) bool { return sub.ch == c })
	if i == -1 {
		return
	}
	m.subscribers = slices.Delete(m.subscribers, i, i+1)
}

// Send broadcasts e to every current subscriber. A subscriber slower
// than subscriberTimeout is logged and skipped for this value rather
// than blocking the others.
func (m *Multiplexer[E]) Send(e E) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscribers {
		select {
		case sub.ch <- e:
		case <-time.After(subscriberTimeout):
			if m.log != nil {
				m.log.Warnw("multiplexer subscriber timed out", "multiplexer", m.comment, "subscriber", sub.comment)
			}
		}
	}
}
