// Package broadcast fans producer availability transitions out to
// every connected listener session. It owns the session directory and
// nothing else: it never touches transports or consumers.
package broadcast

import (
	"sync"

	pkglog "github.com/EvinKlif/radio/pkg/log"

	"github.com/EvinKlif/radio/internal/metrics"
)

// Member is a registered listener session. Handlers must not block:
// delivery happens on the notifier's goroutine, in emission order.
type Member interface {
	ID() string
	HandleProducerAvailable(producerID string)
	HandleProducerUnavailable()
}

// Coordinator maintains the directory of live listener sessions and
// delivers producer availability transitions to each of them.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]Member
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		sessions: make(map[string]Member),
	}
}

// Register adds a session to the directory.
func (c *Coordinator) Register(m Member) {
	c.mu.Lock()
	c.sessions[m.ID()] = m
	n := len(c.sessions)
	c.mu.Unlock()

	metrics.ListenerSessions.Set(float64(n))
	pkglog.L().Info().Str(pkglog.FieldSessionID, m.ID()).Int("sessions", n).Msg("session registered")
}

// Unregister removes a session from the directory. Unregistering an
// unknown session is a no-op.
func (c *Coordinator) Unregister(id string) {
	c.mu.Lock()
	_, ok := c.sessions[id]
	delete(c.sessions, id)
	n := len(c.sessions)
	c.mu.Unlock()

	if ok {
		metrics.ListenerSessions.Set(float64(n))
		pkglog.L().Info().Str(pkglog.FieldSessionID, id).Int("sessions", n).Msg("session unregistered")
	}
}

// Count returns the number of registered sessions.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// NotifyProducerAvailable delivers an availability event to every
// registered session, once per transition. Delivery is serialized
// under the directory lock so each session observes transitions in
// emission order.
func (c *Coordinator) NotifyProducerAvailable(producerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.Broadcasts.WithLabelValues("producer-available").Inc()
	for _, m := range c.sessions {
		c.deliver(m, func(m Member) { m.HandleProducerAvailable(producerID) })
	}
}

// NotifyProducerUnavailable delivers an unavailability event to every
// registered session. Sessions react asynchronously; only delivery is
// guaranteed here.
func (c *Coordinator) NotifyProducerUnavailable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.Broadcasts.WithLabelValues("producer-unavailable").Inc()
	for _, m := range c.sessions {
		c.deliver(m, func(m Member) { m.HandleProducerUnavailable() })
	}
}

// deliver isolates one session's handler: a failure there must not
// break delivery to the others.
func (c *Coordinator) deliver(m Member, fn func(Member)) {
	defer func() {
		if r := recover(); r != nil {
			pkglog.L().Error().
				Str(pkglog.FieldSessionID, m.ID()).
				Interface("panic", r).
				Msg("session notification panicked")
		}
	}()
	fn(m)
}
