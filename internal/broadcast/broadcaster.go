package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Conn is one live push channel to a subscriber. *websocket.Conn from
// gorilla satisfies it directly.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// session serializes writes to one connection; gorilla conns do not
// allow concurrent writers.
type session struct {
	subscriberID string
	conn         Conn
	mu           sync.Mutex
}

func (s *session) send(ev models.Event, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.conn.WriteJSON(ev)
}

// Broadcaster maps subscriber identities (riders and drivers) to their
// live connections and fans events out to them. A subscriber may hold
// several connections (multiple devices); one with none simply receives
// nothing. Delivery is best-effort: each connection gets its own
// goroutine with a write deadline, so a slow or dead peer can never
// stall the publisher or other subscribers. Failed deliveries are
// dropped and logged, never retried.
type Broadcaster struct {
	mu       sync.RWMutex
	bySubs   map[string]map[*session]struct{}
	sessions map[Conn]*session

	timeout time.Duration
	logger  *slog.Logger
}

func New(deliveryTimeout time.Duration, logger *slog.Logger) *Broadcaster {
	if deliveryTimeout <= 0 {
		deliveryTimeout = 3 * time.Second
	}
	return &Broadcaster{
		bySubs:   make(map[string]map[*session]struct{}),
		sessions: make(map[Conn]*session),
		timeout:  deliveryTimeout,
		logger:   logger,
	}
}

func (b *Broadcaster) Subscribe(subscriberID string, conn Conn) {
	s := &session{subscriberID: subscriberID, conn: conn}
	b.mu.Lock()
	if b.bySubs[subscriberID] == nil {
		b.bySubs[subscriberID] = make(map[*session]struct{})
	}
	b.bySubs[subscriberID][s] = struct{}{}
	b.sessions[conn] = s
	b.mu.Unlock()
	observability.SubscribersConnected.Inc()
}

// Unsubscribe removes the connection immediately and unconditionally.
// Deliveries already dispatched to it are allowed to fail silently.
func (b *Broadcaster) Unsubscribe(conn Conn) {
	b.mu.Lock()
	s, ok := b.sessions[conn]
	if ok {
		delete(b.sessions, conn)
		if set := b.bySubs[s.subscriberID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(b.bySubs, s.subscriberID)
			}
		}
	}
	b.mu.Unlock()
	if ok {
		observability.SubscribersConnected.Dec()
		_ = conn.Close()
	}
}

// Publish delivers ev to every live connection of each target
// subscriber, or to every connection system-wide when no targets are
// given. It returns without waiting for any delivery.
func (b *Broadcaster) Publish(ev models.Event, targets ...string) {
	b.mu.RLock()
	var recipients []*session
	if len(targets) == 0 {
		recipients = make([]*session, 0, len(b.sessions))
		for _, s := range b.sessions {
			recipients = append(recipients, s)
		}
	} else {
		for _, id := range targets {
			for s := range b.bySubs[id] {
				recipients = append(recipients, s)
			}
		}
	}
	b.mu.RUnlock()

	for _, s := range recipients {
		go func(s *session) {
			if err := s.send(ev, b.timeout); err != nil {
				observability.BroadcastDrops.Inc()
				b.logger.Warn("event delivery dropped",
					"event", ev.Type, "subscriber_id", s.subscriberID, "error", err)
				return
			}
			observability.BroadcastDeliveries.Inc()
		}(s)
	}
}

// Connections reports the number of live connections for a subscriber.
func (b *Broadcaster) Connections(subscriberID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bySubs[subscriberID])
}
