// Package engine defines the capability interface over the realtime
// media engine. Everything above it (source lifecycle, listener
// sessions, broadcast fan-out) depends only on these types, never on
// engine internals.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"
)

var (
	// ErrProducerUnavailable is returned by Consume when no live
	// producer exists.
	ErrProducerUnavailable = errors.New("producer unavailable")

	// ErrIncompatibleCapabilities is returned by Consume when the
	// listener's declared capabilities cannot decode the producer.
	ErrIncompatibleCapabilities = errors.New("incompatible rtp capabilities")

	// ErrClosed is returned when an operation is attempted on a
	// closed handle.
	ErrClosed = errors.New("handle closed")
)

// CodecCapability describes a single codec the engine can negotiate.
type CodecCapability struct {
	MimeType    string `json:"mimeType"`
	ClockRate   int    `json:"clockRate"`
	Channels    int    `json:"channels"`
	PayloadType uint8  `json:"payloadType"`
}

// Capabilities is the engine's negotiation capability set, announced
// to listeners and echoed back by them on consume.
type Capabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// IngestConfig configures the upstream media receiving point.
type IngestConfig struct {
	ListenIP string
	Port     int

	// IdleTimeout is how long the ingest waits without RTP before
	// declaring the producer's track ended. Zero disables detection.
	IdleTimeout time.Duration
}

// ProducerParams fixes the upstream media format. The ingest contract
// supports a single codec with no mid-session renegotiation.
type ProducerParams struct {
	Kind  string
	Codec CodecCapability
	SSRC  uint32
}

// TransportParams are the descriptors a listener needs to complete the
// transport handshake. ICEDTLS is engine-specific (the pion engine
// carries a gathered SDP offer).
type TransportParams struct {
	ID      string          `json:"id"`
	ICEDTLS json.RawMessage `json:"iceDtls"`
}

// ConnectParams carry the listener's half of the transport handshake.
type ConnectParams struct {
	DTLS json.RawMessage `json:"dtls"`
}

// ConsumerParams are returned to the listener on a successful consume.
type ConsumerParams struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
	ProducerID    string          `json:"producerId"`
}

// Engine is the narrow capability interface over the media engine.
type Engine interface {
	// Capabilities returns the negotiation capabilities announced to
	// every connecting listener.
	Capabilities() Capabilities

	// CanConsume reports whether a listener with the given
	// capabilities can decode the producer.
	CanConsume(producer Producer, caps Capabilities) bool

	// CreateIngest allocates the upstream media receiving point.
	CreateIngest(ctx context.Context, cfg IngestConfig) (Ingest, error)

	// CreateTransport allocates one realtime media channel for a
	// connecting listener.
	CreateTransport(ctx context.Context) (Transport, error)
}

// Ingest is the upstream media receiving point. At most one exists at
// a time; it is owned exclusively by the source lifecycle manager.
type Ingest interface {
	// Addr returns the local address the upstream source sends to.
	Addr() net.Addr

	// Produce binds a producer to the ingest once a peer has
	// attached.
	Produce(ctx context.Context, params ProducerParams) (Producer, error)

	// OnPeerAttached registers a callback fired when the upstream
	// source starts sending media (first packet fixes the peer).
	OnPeerAttached(fn func(peer net.Addr))

	// OnClose registers a callback fired when the ingest shuts down.
	OnClose(fn func())

	// Close tears down the ingest. Closing twice is a no-op.
	Close() error
}

// Producer is the single live upstream media stream.
type Producer interface {
	ID() string
	Codec() CodecCapability
	Closed() bool

	// OnTrackEnded registers a callback fired when the upstream
	// stream stops (source stopped sending).
	OnTrackEnded(fn func())

	// OnTransportClosed registers a callback fired when the owning
	// ingest closes underneath the producer.
	OnTransportClosed(fn func())

	// Close tears down the producer. Closing twice is a no-op and
	// fires no duplicate events.
	Close() error
}

// Transport is a per-listener realtime media channel.
type Transport interface {
	ID() string

	// Params returns the descriptors the listener needs to connect.
	Params() TransportParams

	// Connect completes the transport handshake with the
	// listener-supplied parameters.
	Connect(ctx context.Context, params ConnectParams) error

	// Consume binds the producer to this transport and returns the
	// listener's read-side handle. Fails with ErrProducerUnavailable
	// or ErrIncompatibleCapabilities.
	Consume(ctx context.Context, producer Producer, caps Capabilities) (Consumer, error)

	// OnClose registers a callback fired when the transport closes.
	OnClose(fn func())

	// Close tears down the transport and any consumer bound to it.
	// Closing twice is a no-op.
	Close() error
}

// Consumer is a listener's read-side binding to the producer. It lives
// only while both its transport and the producer are live.
type Consumer interface {
	Params() ConsumerParams

	// OnClose registers a callback fired when the consumer closes,
	// including when the producer it reads from is destroyed.
	OnClose(fn func())

	// Close tears down the consumer. Closing twice is a no-op.
	Close() error
}
