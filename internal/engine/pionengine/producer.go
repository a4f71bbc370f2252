package pionengine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/EvinKlif/radio/internal/engine"
	"github.com/EvinKlif/radio/pkg/log"
)

// producer wraps the ingest-fed local track. Consumers bound to it are
// closed when the producer closes.
type producer struct {
	id    string
	codec engine.CodecCapability
	track *webrtc.TrackLocalStaticRTP

	mu              sync.Mutex
	closed          bool
	trackEndedFns   []func()
	transportClosed []func()
	consumers       map[*consumer]struct{}
}

func newProducer(params engine.ProducerParams, track *webrtc.TrackLocalStaticRTP) *producer {
	return &producer{
		id:        uuid.New().String(),
		codec:     params.Codec,
		track:     track,
		consumers: make(map[*consumer]struct{}),
	}
}

func (p *producer) ID() string                    { return p.id }
func (p *producer) Codec() engine.CodecCapability { return p.codec }

func (p *producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *producer) OnTrackEnded(fn func()) {
	p.mu.Lock()
	p.trackEndedFns = append(p.trackEndedFns, fn)
	p.mu.Unlock()
}

func (p *producer) OnTransportClosed(fn func()) {
	p.mu.Lock()
	p.transportClosed = append(p.transportClosed, fn)
	p.mu.Unlock()
}

// Close tears the producer down and cascades to its consumers. It
// fires no events on the producer itself.
func (p *producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := make([]*consumer, 0, len(p.consumers))
	for c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = nil
	p.mu.Unlock()

	for _, c := range consumers {
		c.closeFromProducer()
	}
	return nil
}

func (p *producer) write(pkt *rtp.Packet) {
	if p.Closed() {
		return
	}
	if err := p.track.WriteRTP(pkt); err != nil {
		log.L().Debug().Err(err).Str(log.FieldProducerID, p.id).Msg("track write failed")
	}
}

// signalTrackEnded fires the track-ended callbacks once. The producer
// stays open; the owner decides what to do with it.
func (p *producer) signalTrackEnded() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	fns := append([]func(){}, p.trackEndedFns...)
	p.trackEndedFns = nil
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *producer) signalTransportClosed() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	fns := append([]func(){}, p.transportClosed...)
	p.transportClosed = nil
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *producer) attach(c *consumer) {
	p.mu.Lock()
	if !p.closed && p.consumers != nil {
		p.consumers[c] = struct{}{}
	}
	p.mu.Unlock()
}

func (p *producer) detach(c *consumer) {
	p.mu.Lock()
	if p.consumers != nil {
		delete(p.consumers, c)
	}
	p.mu.Unlock()
}
