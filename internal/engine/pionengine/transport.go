package pionengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/EvinKlif/radio/internal/engine"
	"github.com/EvinKlif/radio/pkg/log"
)

// transport is one peer connection per listener. The sendonly audio
// transceiver is added before the offer so the producer track can be
// bound later with ReplaceTrack, without a renegotiation round-trip.
type transport struct {
	id     string
	eng    *Engine
	pc     *webrtc.PeerConnection
	sender *webrtc.RTPSender
	params engine.TransportParams

	mu       sync.Mutex
	closed   bool
	closeFns []func()
	consumer *consumer
}

func newTransport(ctx context.Context, e *Engine) (*transport, error) {
	pc, err := e.api.NewPeerConnection(e.rtcConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	tr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	iceDTLS, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to encode local description: %w", err)
	}

	t := &transport{
		id:     uuid.New().String(),
		eng:    e,
		pc:     pc,
		sender: tr.Sender(),
	}
	t.params = engine.TransportParams{ID: t.id, ICEDTLS: iceDTLS}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.handleStateClosed(state)
		}
	})
	return t, nil
}

func (t *transport) ID() string { return t.id }

func (t *transport) Params() engine.TransportParams { return t.params }

// Connect applies the listener's SDP answer.
func (t *transport) Connect(ctx context.Context, params engine.ConnectParams) error {
	if t.isClosed() {
		return engine.ErrClosed
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(params.DTLS, &desc); err != nil {
		return fmt.Errorf("invalid session description: %w", err)
	}
	if desc.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("expected answer, got %s", desc.Type)
	}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to apply answer: %w", err)
	}
	return nil
}

// Consume binds the producer track to the pre-armed sender.
func (t *transport) Consume(ctx context.Context, prod engine.Producer, caps engine.Capabilities) (engine.Consumer, error) {
	p, ok := prod.(*producer)
	if !ok || p == nil {
		return nil, errors.New("producer was not created by this engine")
	}
	if p.Closed() {
		return nil, engine.ErrProducerUnavailable
	}
	if !codecMatch(p.Codec(), caps) {
		return nil, engine.ErrIncompatibleCapabilities
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, engine.ErrClosed
	}
	old := t.consumer
	t.consumer = nil
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	if err := t.sender.ReplaceTrack(p.track); err != nil {
		return nil, fmt.Errorf("failed to bind producer track: %w", err)
	}

	rtpParams, err := json.Marshal(struct {
		Codecs []engine.CodecCapability `json:"codecs"`
	}{Codecs: []engine.CodecCapability{p.Codec()}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rtp parameters: %w", err)
	}

	c := newConsumer(engine.ConsumerParams{
		ID:            uuid.New().String(),
		Kind:          "audio",
		RTPParameters: rtpParams,
		ProducerID:    p.ID(),
	}, p, t)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = c.Close()
		return nil, engine.ErrClosed
	}
	t.consumer = c
	t.mu.Unlock()
	p.attach(c)
	// The producer may have closed between the availability check and
	// the attach; attach on a closed producer is a no-op, so such a
	// consumer would never see the producer-cascade close.
	if p.Closed() {
		_ = c.Close()
		return nil, engine.ErrProducerUnavailable
	}
	return c, nil
}

func (t *transport) OnClose(fn func()) {
	t.mu.Lock()
	t.closeFns = append(t.closeFns, fn)
	t.mu.Unlock()
}

// Close tears the transport down without firing its own close events.
// A still-bound consumer is closed with its event, since its transport
// going away is an external cause from the consumer's point of view.
func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cons := t.consumer
	t.consumer = nil
	t.mu.Unlock()

	if cons != nil {
		cons.closeFromTransport()
	}
	return t.pc.Close()
}

// handleStateClosed reacts to the peer connection dying underneath us
// (ICE failure, remote close).
func (t *transport) handleStateClosed(state webrtc.PeerConnectionState) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	cons := t.consumer
	t.consumer = nil
	fns := t.closeFns
	t.closeFns = nil
	t.mu.Unlock()

	log.L().Warn().Str(log.FieldTransport, t.id).Str("state", state.String()).Msg("transport closed by peer connection state")
	if cons != nil {
		cons.closeFromTransport()
	}
	_ = t.pc.Close()
	for _, fn := range fns {
		fn()
	}
}

// clearConsumer unbinds the track after a consumer closes.
func (t *transport) clearConsumer(c *consumer) {
	t.mu.Lock()
	if t.consumer == c {
		t.consumer = nil
	}
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		_ = t.sender.ReplaceTrack(nil)
	}
}

func (t *transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
