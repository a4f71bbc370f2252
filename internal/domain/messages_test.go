package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EvinKlif/radio/internal/engine"
)

func TestConsumeErrorStringsAreStable(t *testing.T) {
	// These strings are matched by deployed clients.
	assert.Equal(t, "Producer not available", ErrTextProducerUnavailable)
	assert.Equal(t, "Cannot consume - incompatible RTP capabilities", ErrTextCannotConsume)
}

func TestResponseEchoesRequestID(t *testing.T) {
	resp := NewResponse(42, SuccessData{Success: true})
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.EqualValues(t, 42, decoded["id"])
	assert.Equal(t, MsgTypeResponse, decoded["type"])
	assert.NotContains(t, decoded, "error")
}

func TestErrorResponseOmitsData(t *testing.T) {
	resp := NewErrorResponse(7, ErrTextProducerUnavailable)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.EqualValues(t, 7, decoded["id"])
	assert.Equal(t, ErrTextProducerUnavailable, decoded["error"])
	assert.NotContains(t, decoded, "data")
}

func TestBaseMessageRoundTrip(t *testing.T) {
	raw := []byte(`{"id":3,"type":"consume","data":{"rtpCapabilities":{"codecs":[]}}}`)

	var msg BaseMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.EqualValues(t, 3, msg.ID)
	assert.Equal(t, MsgTypeConsume, msg.Type)

	var data ConsumeData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Empty(t, data.RTPCapabilities.Codecs)
}

func TestProducerAvailablePayload(t *testing.T) {
	raw, err := json.Marshal(NewProducerAvailableMessage("producer-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"producer-available","data":{"producerId":"producer-1"}}`, string(raw))
}

func TestCapabilitiesMessagePayload(t *testing.T) {
	caps := engine.Capabilities{Codecs: []engine.CodecCapability{{
		MimeType:    "audio/opus",
		ClockRate:   48000,
		Channels:    2,
		PayloadType: 111,
	}}}
	raw, err := json.Marshal(NewCapabilitiesMessage(caps))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "capabilities-announce",
		"data": {"codecs": [{"mimeType":"audio/opus","clockRate":48000,"channels":2,"payloadType":111}]}
	}`, string(raw))
}
