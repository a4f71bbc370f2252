package domain

import (
	"encoding/json"

	"github.com/EvinKlif/radio/internal/engine"
)

// WebSocket message types from client.
const (
	MsgTypeCreateTransport     = "create-transport"
	MsgTypeConnectTransport    = "connect-transport"
	MsgTypeConsume             = "consume"
	MsgTypeForceRecreateIngest = "force-recreate-ingest"
)

// WebSocket message types to client.
const (
	MsgTypeCapabilities        = "capabilities-announce"
	MsgTypeProducerAvailable   = "producer-available"
	MsgTypeProducerUnavailable = "producer-unavailable"
	MsgTypeResponse            = "response"
)

// Error strings surfaced through request responses. The consume
// strings are part of the wire contract and must not change.
const (
	ErrTextProducerUnavailable = "Producer not available"
	ErrTextCannotConsume       = "Cannot consume - incompatible RTP capabilities"
	ErrTextBadRequest          = "Invalid message format"
	ErrTextUnknownType         = "Unknown message type"
)

// BaseMessage is the envelope for all client requests. ID correlates a
// request with its response; it is chosen by the client and echoed
// back unchanged.
type BaseMessage struct {
	ID   uint64          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client -> Server payloads

// ConnectTransportData carries the listener's connect parameters.
type ConnectTransportData struct {
	DTLS json.RawMessage `json:"dtls"`
}

// ConsumeData carries the listener's declared capabilities.
type ConsumeData struct {
	RTPCapabilities engine.Capabilities `json:"rtpCapabilities"`
}

// Server -> Client messages

// CapabilitiesMessage announces the engine's negotiation capabilities
// on connection accept.
type CapabilitiesMessage struct {
	Type string              `json:"type"`
	Data engine.Capabilities `json:"data"`
}

// ProducerAvailableMessage is pushed when a live producer appears.
type ProducerAvailableMessage struct {
	Type string                `json:"type"`
	Data ProducerAvailableData `json:"data"`
}

// ProducerAvailableData identifies the producer listeners may consume.
type ProducerAvailableData struct {
	ProducerID string `json:"producerId"`
}

// ProducerUnavailableMessage is pushed when the producer is lost.
type ProducerUnavailableMessage struct {
	Type string `json:"type"`
}

// ResponseMessage answers a client request, echoing its ID. Exactly
// one of Data or Error is set.
type ResponseMessage struct {
	ID    uint64      `json:"id"`
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// SuccessData is the generic ack payload for requests with no result.
type SuccessData struct {
	Success bool `json:"success"`
}

// NewCapabilitiesMessage builds the capabilities announcement.
func NewCapabilitiesMessage(caps engine.Capabilities) *CapabilitiesMessage {
	return &CapabilitiesMessage{Type: MsgTypeCapabilities, Data: caps}
}

// NewProducerAvailableMessage builds the availability push.
func NewProducerAvailableMessage(producerID string) *ProducerAvailableMessage {
	return &ProducerAvailableMessage{
		Type: MsgTypeProducerAvailable,
		Data: ProducerAvailableData{ProducerID: producerID},
	}
}

// NewProducerUnavailableMessage builds the unavailability push.
func NewProducerUnavailableMessage() *ProducerUnavailableMessage {
	return &ProducerUnavailableMessage{Type: MsgTypeProducerUnavailable}
}

// NewResponse builds a successful response to a request.
func NewResponse(id uint64, data interface{}) *ResponseMessage {
	return &ResponseMessage{ID: id, Type: MsgTypeResponse, Data: data}
}

// NewErrorResponse builds an error response to a request.
func NewErrorResponse(id uint64, message string) *ResponseMessage {
	return &ResponseMessage{ID: id, Type: MsgTypeResponse, Error: message}
}
