// Package source owns the single upstream ingest endpoint and the
// at-most-one live producer. It detects producer loss, re-provisions
// the ingest after a flat delay, and publishes every transition to the
// broadcast coordinator. It never touches listener sessions directly.
package source

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	pkglog "github.com/EvinKlif/radio/pkg/log"

	"github.com/EvinKlif/radio/internal/engine"
	"github.com/EvinKlif/radio/internal/metrics"
)

// Upstream media format. The ingest contract is one codec, stereo,
// 48kHz, no renegotiation.
var producerParams = engine.ProducerParams{
	Kind: "audio",
	Codec: engine.CodecCapability{
		MimeType:    "audio/opus",
		ClockRate:   48000,
		Channels:    2,
		PayloadType: 111,
	},
	SSRC: 11111111,
}

// Publisher receives producer availability transitions.
type Publisher interface {
	NotifyProducerAvailable(producerID string)
	NotifyProducerUnavailable()
}

// Config controls the manager.
type Config struct {
	ListenIP string
	Port     int

	// IdleTimeout is passed to the ingest for track-end detection.
	IdleTimeout time.Duration

	// RetryDelay is the flat delay before re-provisioning after a
	// failure. Source reconnects are rare and operator driven, so a
	// flat delay recovers faster than backoff would.
	RetryDelay time.Duration

	// ProvisionAttempts is how many times socket allocation is tried
	// before provisioning fails.
	ProvisionAttempts int
}

// Snapshot is a consistent view of the source state for health
// reporting.
type Snapshot struct {
	IngestLive bool   `json:"ingest_live"`
	IngestAddr string `json:"ingest_addr,omitempty"`
	ProducerID string `json:"producer_id,omitempty"`
}

// Manager is the source lifecycle state machine. All mutation of the
// ingest and producer singletons happens here, under one mutex.
type Manager struct {
	eng engine.Engine
	pub Publisher
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	gen        uint64 // bumped on every teardown; stale callbacks are dropped
	ingest     engine.Ingest
	producer   engine.Producer
	pending    bool // a Produce call is in flight
	retry      *time.Timer
	closed     bool
	provisions int
}

// NewManager creates a Manager. Call ProvisionIngest to start it.
func NewManager(eng engine.Engine, pub Publisher, cfg Config) *Manager {
	if cfg.ProvisionAttempts <= 0 {
		cfg.ProvisionAttempts = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		eng:    eng,
		pub:    pub,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ProvisionIngest idempotently replaces any existing ingest endpoint
// with a fresh one. A live producer is torn down first and its loss
// broadcast. Fails only if the engine cannot allocate a listen socket
// after retrying.
func (m *Manager) ProvisionIngest(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return engine.ErrClosed
	}
	m.gen++
	oldProducer := m.producer
	oldIngest := m.ingest
	m.producer = nil
	m.ingest = nil
	wasLive := oldProducer != nil && !oldProducer.Closed()
	m.provisions++
	firstProvision := m.provisions == 1
	m.mu.Unlock()

	// Handles are closed outside the lock: their close events carry a
	// stale generation and are dropped.
	if oldProducer != nil {
		oldProducer.Close()
	}
	if oldIngest != nil {
		oldIngest.Close()
	}
	if wasLive {
		metrics.ProducerUp.Set(0)
		m.pub.NotifyProducerUnavailable()
	}
	if !firstProvision {
		metrics.IngestRecreations.Inc()
	}

	var (
		ing engine.Ingest
		err error
	)
	for attempt := 1; attempt <= m.cfg.ProvisionAttempts; attempt++ {
		ing, err = m.eng.CreateIngest(ctx, engine.IngestConfig{
			ListenIP:    m.cfg.ListenIP,
			Port:        m.cfg.Port,
			IdleTimeout: m.cfg.IdleTimeout,
		})
		if err == nil {
			break
		}
		pkglog.L().Warn().Err(err).Int("attempt", attempt).Msg("ingest allocation failed")
	}
	if err != nil {
		return fmt.Errorf("failed to allocate ingest endpoint: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ing.Close()
		return engine.ErrClosed
	}
	gen := m.gen
	m.ingest = ing
	m.mu.Unlock()

	ing.OnPeerAttached(func(peer net.Addr) { m.handlePeerAttached(gen, peer) })
	ing.OnClose(func() { m.handleLoss(gen, "ingest closed") })

	pkglog.L().Info().Stringer("addr", ing.Addr()).Msg("ingest endpoint ready")
	return nil
}

// ForceRecreate tears down the current producer and ingest and
// provisions a fresh endpoint immediately. Operator triggered; same
// effect as a detected failure.
func (m *Manager) ForceRecreate(ctx context.Context) error {
	pkglog.L().Info().Msg("forced ingest recreation requested")
	return m.ProvisionIngest(ctx)
}

// Producer returns the live producer, or nil when there is none.
// Callers get a snapshot, never the mutable cell.
func (m *Manager) Producer() engine.Producer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.producer != nil && !m.producer.Closed() {
		return m.producer
	}
	return nil
}

// Snapshot reports the current source state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Snapshot
	if m.ingest != nil {
		s.IngestLive = true
		if addr := m.ingest.Addr(); addr != nil {
			s.IngestAddr = addr.String()
		}
	}
	if m.producer != nil && !m.producer.Closed() {
		s.ProducerID = m.producer.ID()
	}
	return s
}

// Close shuts the manager down and releases the ingest and producer.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	producer := m.producer
	ingest := m.ingest
	m.producer = nil
	m.ingest = nil
	m.mu.Unlock()

	m.cancel()
	if producer != nil {
		producer.Close()
	}
	if ingest != nil {
		ingest.Close()
	}
	metrics.ProducerUp.Set(0)
	return nil
}

// handlePeerAttached runs when the upstream source starts sending
// media: create the producer and announce it.
func (m *Manager) handlePeerAttached(gen uint64, peer net.Addr) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.pending {
		m.mu.Unlock()
		return
	}
	if m.producer != nil && !m.producer.Closed() {
		// Policy: a second upstream source is rejected while one is
		// live. The ingest keeps forwarding only the first peer.
		m.mu.Unlock()
		pkglog.L().Warn().Stringer("peer", peer).Msg("second source rejected, producer already live")
		return
	}
	ing := m.ingest
	m.pending = true
	m.mu.Unlock()

	producer, err := ing.Produce(m.ctx, producerParams)

	m.mu.Lock()
	m.pending = false
	if err != nil {
		m.mu.Unlock()
		pkglog.L().Error().Err(err).Msg("failed to create producer")
		return
	}
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		producer.Close()
		return
	}
	m.producer = producer
	producer.OnTrackEnded(func() { m.handleLoss(gen, "track ended") })
	producer.OnTransportClosed(func() { m.handleLoss(gen, "ingest transport closed") })
	id := producer.ID()
	m.mu.Unlock()

	metrics.ProducerUp.Set(1)
	pkglog.L().Info().Str(pkglog.FieldProducerID, id).Stringer("peer", peer).Msg("producer created")
	m.pub.NotifyProducerAvailable(id)
}

// handleLoss runs on producer or ingest failure: clear the producer,
// broadcast unavailability, and schedule re-provisioning after the
// flat delay.
func (m *Manager) handleLoss(gen uint64, reason string) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	producer := m.producer
	ingest := m.ingest
	m.producer = nil
	m.ingest = nil
	wasLive := producer != nil && !producer.Closed()
	if m.retry != nil {
		m.retry.Stop()
	}
	m.retry = time.AfterFunc(m.cfg.RetryDelay, m.reprovision)
	m.mu.Unlock()

	if producer != nil {
		producer.Close()
	}
	if ingest != nil {
		ingest.Close()
	}

	pkglog.L().Info().Str("reason", reason).Msg("producer lost, recreating ingest")
	if wasLive {
		metrics.ProducerUp.Set(0)
		m.pub.NotifyProducerUnavailable()
	}
}

// reprovision retries until an ingest is up again or the manager is
// closed. Without the reschedule a failed retry would strand the
// system with no ingest at all.
func (m *Manager) reprovision() {
	err := m.ProvisionIngest(m.ctx)
	if err == nil {
		return
	}
	pkglog.L().Error().Err(err).Msg("failed to re-provision ingest, retrying")

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.retry != nil {
		m.retry.Stop()
	}
	m.retry = time.AfterFunc(m.cfg.RetryDelay, m.reprovision)
}
