// Package session implements the per-listener negotiation state
// machine: capability exchange, transport creation and connect, and
// consumer binding against the current producer.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	pkglog "github.com/EvinKlif/radio/pkg/log"

	"github.com/EvinKlif/radio/internal/domain"
	"github.com/EvinKlif/radio/internal/engine"
	"github.com/EvinKlif/radio/internal/metrics"
)

// State is the negotiation state of a listener session.
type State int

const (
	// StateConnected is the initial state after connection accept.
	StateConnected State = iota
	// StateCapabilitiesSent means the engine capabilities were
	// announced to the listener.
	StateCapabilitiesSent
	// StateTransportCreated means a transport exists but is not yet
	// connected.
	StateTransportCreated
	// StateTransportConnected means the transport handshake is done.
	StateTransportConnected
	// StateConsuming means a consumer is bound to the producer.
	StateConsuming
	// StateClosed is terminal.
	StateClosed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateCapabilitiesSent:
		return "capabilities_sent"
	case StateTransportCreated:
		return "transport_created"
	case StateTransportConnected:
		return "transport_connected"
	case StateConsuming:
		return "consuming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrSessionClosed is returned for operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// errBadState is returned when a request arrives in a state that
// cannot serve it.
var errBadState = errors.New("request not valid in current state")

// Sender pushes messages to the listener. Implementations must not
// block; the hub's buffered send channel satisfies this.
type Sender interface {
	SendMessage(v interface{}) error
}

// ProducerSource yields a snapshot of the current producer, or nil.
type ProducerSource interface {
	Producer() engine.Producer
}

// Session is one connected listener. It owns at most one transport and
// one consumer, releases both on teardown, and tolerates engine calls
// completing after the session has already been closed.
type Session struct {
	id        string
	eng       engine.Engine
	producers ProducerSource
	sender    Sender

	mu        sync.Mutex
	state     State
	transport engine.Transport
	consumer  engine.Consumer
	paused    bool
}

// New creates a session in the Connected state.
func New(id string, eng engine.Engine, producers ProducerSource, sender Sender) *Session {
	return &Session{
		id:        id,
		eng:       eng,
		producers: producers,
		sender:    sender,
		state:     StateConnected,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current negotiation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AnnounceCapabilities sends the engine negotiation capabilities and,
// when a producer is already live, the availability push. Called once
// on connection accept.
func (s *Session) AnnounceCapabilities() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.state == StateConnected {
		s.state = StateCapabilitiesSent
	}
	s.mu.Unlock()

	s.push(domain.NewCapabilitiesMessage(s.eng.Capabilities()))
	if p := s.producers.Producer(); p != nil {
		s.push(domain.NewProducerAvailableMessage(p.ID()))
	}
}

// CreateTransport creates this session's transport and returns its
// connect descriptors. An existing transport (and consumer) is
// released first. Engine failure is surfaced to this request only;
// the session stays open for retry.
func (s *Session) CreateTransport(ctx context.Context) (engine.TransportParams, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return engine.TransportParams{}, ErrSessionClosed
	}
	if s.state == StateConnected {
		s.mu.Unlock()
		return engine.TransportParams{}, errBadState
	}
	oldConsumer := s.detachConsumerLocked()
	oldTransport := s.transport
	s.transport = nil
	s.mu.Unlock()

	closeQuietly(oldConsumer, oldTransport)

	transport, err := s.eng.CreateTransport(ctx)
	if err != nil {
		s.mu.Lock()
		if s.state != StateClosed {
			s.state = StateCapabilitiesSent
		}
		s.mu.Unlock()
		return engine.TransportParams{}, err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		// Disconnected while the engine call was in flight: discard
		// the handle instead of attaching it.
		s.mu.Unlock()
		transport.Close()
		return engine.TransportParams{}, ErrSessionClosed
	}
	s.transport = transport
	s.state = StateTransportCreated
	s.mu.Unlock()

	transport.OnClose(func() { s.handleTransportClosed(transport) })

	s.logger().Debug().Str(pkglog.FieldTransport, transport.ID()).Msg("transport created")
	return transport.Params(), nil
}

// ConnectTransport completes the transport handshake. Failure is
// surfaced to this request only.
func (s *Session) ConnectTransport(ctx context.Context, params engine.ConnectParams) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	transport := s.transport
	s.mu.Unlock()

	if transport == nil {
		return errBadState
	}

	if err := transport.Connect(ctx, params); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateTransportCreated {
		s.state = StateTransportConnected
	}
	s.mu.Unlock()

	s.logger().Debug().Str(pkglog.FieldTransport, transport.ID()).Msg("transport connected")
	return nil
}

// Consume binds a consumer to this session's transport and the current
// producer. Guarded: fails with engine.ErrProducerUnavailable when no
// live producer exists and engine.ErrIncompatibleCapabilities when the
// listener cannot decode it.
func (s *Session) Consume(ctx context.Context, caps engine.Capabilities) (engine.ConsumerParams, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return engine.ConsumerParams{}, ErrSessionClosed
	}
	if s.state != StateTransportConnected && s.state != StateConsuming {
		s.mu.Unlock()
		return engine.ConsumerParams{}, errBadState
	}
	transport := s.transport
	if transport == nil {
		s.mu.Unlock()
		return engine.ConsumerParams{}, errBadState
	}
	oldConsumer := s.detachConsumerLocked()
	s.mu.Unlock()

	closeQuietly(oldConsumer)

	producer := s.producers.Producer()
	if producer == nil {
		return engine.ConsumerParams{}, engine.ErrProducerUnavailable
	}
	if !s.eng.CanConsume(producer, caps) {
		return engine.ConsumerParams{}, engine.ErrIncompatibleCapabilities
	}

	consumer, err := transport.Consume(ctx, producer, caps)
	if err != nil {
		return engine.ConsumerParams{}, err
	}

	s.mu.Lock()
	if s.state == StateClosed || s.transport != transport {
		// Torn down while the engine call was in flight.
		s.mu.Unlock()
		consumer.Close()
		return engine.ConsumerParams{}, ErrSessionClosed
	}
	s.consumer = consumer
	s.state = StateConsuming
	s.paused = false
	s.mu.Unlock()

	metrics.ActiveConsumers.Inc()
	consumer.OnClose(func() { s.handleConsumerClosed(consumer) })

	params := consumer.Params()
	s.logger().Info().
		Str(pkglog.FieldConsumerID, params.ID).
		Str(pkglog.FieldProducerID, params.ProducerID).
		Msg("consumer created")
	return params, nil
}

// HandleProducerAvailable delivers an availability push. A consuming
// session forwards the push and takes no other action.
func (s *Session) HandleProducerAvailable(producerID string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.mu.Unlock()

	s.push(domain.NewProducerAvailableMessage(producerID))
}

// HandleProducerUnavailable delivers an unavailability push. A
// consuming session releases its consumer and regresses to the paused
// sub-state, keeping its socket and transport so the listener can
// re-issue consume after the next availability push.
func (s *Session) HandleProducerUnavailable() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	consumer := s.detachConsumerLocked()
	if s.state == StateConsuming {
		s.state = StateTransportConnected
		s.paused = true
	}
	s.mu.Unlock()

	closeQuietly(consumer)
	s.push(domain.NewProducerUnavailableMessage())
}

// Paused reports whether the session regressed out of Consuming and is
// waiting for producer availability.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Close is the hard teardown on listener disconnect: transport and
// consumer are released unconditionally. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	consumer := s.detachConsumerLocked()
	transport := s.transport
	s.transport = nil
	s.mu.Unlock()

	closeQuietly(consumer, transport)
	s.logger().Info().Msg("session closed")
	return nil
}

// handleTransportClosed runs on an engine-side transport failure
// (DTLS teardown, engine shutdown). The session regresses to the
// capabilities state so the listener can renegotiate over the same
// socket.
func (s *Session) handleTransportClosed(transport engine.Transport) {
	s.mu.Lock()
	if s.state == StateClosed || s.transport != transport {
		s.mu.Unlock()
		return
	}
	consumer := s.detachConsumerLocked()
	s.transport = nil
	s.state = StateCapabilitiesSent
	s.paused = false
	s.mu.Unlock()

	closeQuietly(consumer, transport)
	s.logger().Info().Str(pkglog.FieldTransport, transport.ID()).Msg("transport closed by engine")
	s.push(domain.NewProducerUnavailableMessage())
}

// handleConsumerClosed runs when the engine closes the consumer
// underneath the session, typically because the producer died. The
// global unavailability broadcast carries the pause signal, so no push
// happens here.
func (s *Session) handleConsumerClosed(consumer engine.Consumer) {
	s.mu.Lock()
	if s.state == StateClosed || s.consumer != consumer {
		s.mu.Unlock()
		return
	}
	s.consumer = nil
	metrics.ActiveConsumers.Dec()
	if s.state == StateConsuming {
		s.state = StateTransportConnected
		s.paused = true
	}
	s.mu.Unlock()

	s.logger().Debug().Msg("consumer closed by engine")
}

// detachConsumerLocked clears the consumer reference and keeps the
// gauge consistent. Caller holds s.mu and closes the returned handle
// after unlocking.
func (s *Session) detachConsumerLocked() engine.Consumer {
	c := s.consumer
	if c != nil {
		s.consumer = nil
		metrics.ActiveConsumers.Dec()
	}
	return c
}

func (s *Session) push(v interface{}) {
	if err := s.sender.SendMessage(v); err != nil {
		s.logger().Warn().Err(err).Msg("failed to push message")
	}
}

func (s *Session) logger() *zerolog.Logger {
	l := pkglog.L().With().Str(pkglog.FieldSessionID, s.id).Logger()
	return &l
}

type closer interface{ Close() error }

// closeQuietly releases handles best effort; double close is a no-op
// by the engine contract.
func closeQuietly(handles ...closer) {
	for _, h := range handles {
		if h != nil {
			h.Close()
		}
	}
}
