// Package enginestub provides scriptable fakes for the media engine
// interfaces, used by the lifecycle and session tests.
package enginestub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/EvinKlif/radio/internal/engine"
)

// Engine is a scriptable engine fake. Zero value is usable; fields
// configure failure injection.
type Engine struct {
	mu sync.Mutex

	// CreateIngestErr fails the next CreateIngest calls while set.
	CreateIngestErr error
	// CreateIngestFailures fails that many CreateIngest calls, then
	// succeeds.
	CreateIngestFailures int
	// CreateTransportErr fails CreateTransport while set.
	CreateTransportErr error
	// ConsumeDenied makes CanConsume reject every capability set.
	ConsumeDenied bool

	ingests    []*Ingest
	transports []*Transport
}

func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{Codecs: []engine.CodecCapability{{
		MimeType:    "audio/opus",
		ClockRate:   48000,
		Channels:    2,
		PayloadType: 111,
	}}}
}

func (e *Engine) CanConsume(p engine.Producer, caps engine.Capabilities) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return p != nil && !e.ConsumeDenied
}

func (e *Engine) CreateIngest(ctx context.Context, cfg engine.IngestConfig) (engine.Ingest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CreateIngestFailures > 0 {
		e.CreateIngestFailures--
		return nil, fmt.Errorf("ingest allocation failed (injected)")
	}
	if e.CreateIngestErr != nil {
		return nil, e.CreateIngestErr
	}
	in := &Ingest{
		addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cfg.Port},
	}
	e.ingests = append(e.ingests, in)
	return in, nil
}

func (e *Engine) CreateTransport(ctx context.Context) (engine.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CreateTransportErr != nil {
		return nil, e.CreateTransportErr
	}
	t := &Transport{id: fmt.Sprintf("transport-%d", len(e.transports)+1)}
	e.transports = append(e.transports, t)
	return t, nil
}

// Ingests returns every ingest the engine handed out, in order.
func (e *Engine) Ingests() []*Ingest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Ingest{}, e.ingests...)
}

// LastIngest returns the most recently created ingest, or nil.
func (e *Engine) LastIngest() *Ingest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.ingests) == 0 {
		return nil
	}
	return e.ingests[len(e.ingests)-1]
}

// Transports returns every transport the engine handed out, in order.
func (e *Engine) Transports() []*Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Transport{}, e.transports...)
}

// Ingest is a scriptable ingest fake.
type Ingest struct {
	mu sync.Mutex

	addr       net.Addr
	closed     bool
	peer       net.Addr
	peerFn     func(net.Addr)
	closeFns   []func()
	producer   *Producer
	ProduceErr error
}

func (in *Ingest) Addr() net.Addr { return in.addr }

func (in *Ingest) Produce(ctx context.Context, params engine.ProducerParams) (engine.Producer, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil, engine.ErrClosed
	}
	if in.ProduceErr != nil {
		return nil, in.ProduceErr
	}
	if in.producer != nil && !in.producer.Closed() {
		return nil, fmt.Errorf("ingest already has a live producer")
	}
	p := &Producer{id: "producer-1", codec: params.Codec}
	in.producer = p
	return p, nil
}

func (in *Ingest) OnPeerAttached(fn func(net.Addr)) {
	in.mu.Lock()
	in.peerFn = fn
	peer := in.peer
	in.mu.Unlock()
	if peer != nil && fn != nil {
		fn(peer)
	}
}

func (in *Ingest) OnClose(fn func()) {
	in.mu.Lock()
	in.closeFns = append(in.closeFns, fn)
	in.mu.Unlock()
}

func (in *Ingest) Close() error {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (in *Ingest) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// TriggerPeerAttached simulates the first media packet arriving.
func (in *Ingest) TriggerPeerAttached(addr net.Addr) {
	in.mu.Lock()
	in.peer = addr
	fn := in.peerFn
	in.mu.Unlock()
	if fn != nil {
		fn(addr)
	}
}

// TriggerClose simulates the ingest dying for an external reason.
func (in *Ingest) TriggerClose() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.closed = true
	fns := in.closeFns
	in.closeFns = nil
	in.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Producer returns the producer handed out by Produce, or nil.
func (in *Ingest) Producer() *Producer {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.producer
}

// NewProducer creates a standalone producer fake, for tests that need
// one without going through an ingest.
func NewProducer(id string) *Producer {
	return &Producer{id: id, codec: engine.CodecCapability{
		MimeType:    "audio/opus",
		ClockRate:   48000,
		Channels:    2,
		PayloadType: 111,
	}}
}

// Producer is a scriptable producer fake.
type Producer struct {
	mu sync.Mutex

	id              string
	codec           engine.CodecCapability
	closed          bool
	trackEnded      []func()
	transportClosed []func()
}

func (p *Producer) ID() string                    { return p.id }
func (p *Producer) Codec() engine.CodecCapability { return p.codec }

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) OnTrackEnded(fn func()) {
	p.mu.Lock()
	p.trackEnded = append(p.trackEnded, fn)
	p.mu.Unlock()
}

func (p *Producer) OnTransportClosed(fn func()) {
	p.mu.Lock()
	p.transportClosed = append(p.transportClosed, fn)
	p.mu.Unlock()
}

func (p *Producer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// TriggerTrackEnded simulates the upstream stream stopping.
func (p *Producer) TriggerTrackEnded() {
	p.mu.Lock()
	fns := append([]func(){}, p.trackEnded...)
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	for _, fn := range fns {
		fn()
	}
}

// TriggerTransportClosed simulates the owning ingest dying.
func (p *Producer) TriggerTransportClosed() {
	p.mu.Lock()
	fns := append([]func(){}, p.transportClosed...)
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	for _, fn := range fns {
		fn()
	}
}

// Transport is a scriptable transport fake.
type Transport struct {
	mu sync.Mutex

	id         string
	closed     bool
	connected  bool
	closeFns   []func()
	consumer   *Consumer
	ConnectErr error
	ConsumeErr error
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() engine.TransportParams {
	return engine.TransportParams{
		ID:      t.id,
		ICEDTLS: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}
}

func (t *Transport) Connect(ctx context.Context, params engine.ConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return engine.ErrClosed
	}
	if t.ConnectErr != nil {
		return t.ConnectErr
	}
	t.connected = true
	return nil
}

func (t *Transport) Consume(ctx context.Context, p engine.Producer, caps engine.Capabilities) (engine.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, engine.ErrClosed
	}
	if t.ConsumeErr != nil {
		return nil, t.ConsumeErr
	}
	if p == nil || p.Closed() {
		return nil, engine.ErrProducerUnavailable
	}
	c := &Consumer{params: engine.ConsumerParams{
		ID:            "consumer-1",
		Kind:          "audio",
		RTPParameters: json.RawMessage(`{"codecs":[]}`),
		ProducerID:    p.ID(),
	}}
	t.consumer = c
	return c, nil
}

func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	t.closeFns = append(t.closeFns, fn)
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Connected reports whether Connect succeeded.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Consumer returns the consumer handed out by Consume, or nil.
func (t *Transport) Consumer() *Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consumer
}

// TriggerClose simulates the transport dying underneath the session.
func (t *Transport) TriggerClose() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	fns := t.closeFns
	t.closeFns = nil
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Consumer is a scriptable consumer fake.
type Consumer struct {
	mu sync.Mutex

	params   engine.ConsumerParams
	closed   bool
	closeFns []func()
}

func (c *Consumer) Params() engine.ConsumerParams { return c.params }

func (c *Consumer) OnClose(fn func()) {
	c.mu.Lock()
	c.closeFns = append(c.closeFns, fn)
	c.mu.Unlock()
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// TriggerClose simulates the consumer dying for an external reason.
func (c *Consumer) TriggerClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fns := c.closeFns
	c.closeFns = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Sender records every message pushed to it.
type Sender struct {
	mu   sync.Mutex
	msgs []interface{}

	// FailAfter makes SendMessage fail once that many messages have
	// been accepted. Zero means never fail.
	FailAfter int32
	sent      int32
}

func (s *Sender) SendMessage(v interface{}) error {
	n := atomic.AddInt32(&s.sent, 1)
	if s.FailAfter > 0 && n > s.FailAfter {
		return fmt.Errorf("send buffer full (injected)")
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, v)
	s.mu.Unlock()
	return nil
}

// Messages returns everything sent so far, in order.
func (s *Sender) Messages() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interface{}{}, s.msgs...)
}
