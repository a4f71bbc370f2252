// Package pionengine implements the media engine interface on
// pion/webrtc: a plain-RTP UDP ingest that feeds a local track, and
// one peer connection per listener with the producer track bound via
// ReplaceTrack, so no renegotiation is needed at consume time.
package pionengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/EvinKlif/radio/internal/engine"
)

// Config holds engine settings.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// Engine is the pion-backed media engine.
type Engine struct {
	api     *webrtc.API
	rtcConf webrtc.Configuration
	caps    engine.Capabilities
}

// New creates the engine with the single supported audio codec
// registered (opus, stereo, 48kHz).
func New(cfg Config) (*Engine, error) {
	caps := engine.Capabilities{
		Codecs: []engine.CodecCapability{{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			PayloadType: 111,
		}},
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register opus codec: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	return &Engine{
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)),
		rtcConf: webrtc.Configuration{ICEServers: cfg.ICEServers},
		caps:    caps,
	}, nil
}

// Capabilities returns the negotiation capabilities announced to
// listeners.
func (e *Engine) Capabilities() engine.Capabilities {
	return e.caps
}

// CanConsume reports whether a listener with the given capabilities
// can decode the producer.
func (e *Engine) CanConsume(producer engine.Producer, caps engine.Capabilities) bool {
	if producer == nil {
		return false
	}
	return codecMatch(producer.Codec(), caps)
}

// CreateIngest allocates the plain-RTP ingest endpoint.
func (e *Engine) CreateIngest(ctx context.Context, cfg engine.IngestConfig) (engine.Ingest, error) {
	return newIngest(cfg)
}

// CreateTransport allocates a per-listener peer connection with a
// sendonly audio transceiver pre-armed, so the producer track can be
// bound later without renegotiation.
func (e *Engine) CreateTransport(ctx context.Context) (engine.Transport, error) {
	return newTransport(ctx, e)
}

func codecMatch(codec engine.CodecCapability, caps engine.Capabilities) bool {
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, codec.MimeType) &&
			c.ClockRate == codec.ClockRate &&
			c.Channels == codec.Channels {
			return true
		}
	}
	return false
}
