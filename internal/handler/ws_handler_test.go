package handler

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EvinKlif/radio/internal/broadcast"
	"github.com/EvinKlif/radio/internal/domain"
	"github.com/EvinKlif/radio/internal/hub"
	"github.com/EvinKlif/radio/internal/source"
	"github.com/EvinKlif/radio/internal/testsupport/enginestub"
)

type wsFixture struct {
	eng    *enginestub.Engine
	src    *source.Manager
	coord  *broadcast.Coordinator
	server *httptest.Server
	conn   *websocket.Conn
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	eng := &enginestub.Engine{}
	coord := broadcast.NewCoordinator()
	src := source.NewManager(eng, coord, source.Config{
		ListenIP:          "127.0.0.1",
		Port:              40000,
		RetryDelay:        50 * time.Millisecond,
		ProvisionAttempts: 2,
	})
	t.Cleanup(func() { src.Close() })

	h := hub.NewHub(hub.Config{
		MaxMessageSize: 65536,
		WriteWait:      5 * time.Second,
		PongWait:       30 * time.Second,
		PingInterval:   25 * time.Second,
		SendBuffer:     256,
	})
	go h.Run()

	mux := http.NewServeMux()
	NewWSHandler(h, eng, src, coord).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &wsFixture{eng: eng, src: src, coord: coord, server: server, conn: conn}
}

func (f *wsFixture) read(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	f.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := f.conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func (f *wsFixture) readType(t *testing.T, msg map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	require.NoError(t, json.Unmarshal(msg["type"], &typ))
	return typ
}

// waitForType skips unrelated pushes until the wanted type arrives.
func (f *wsFixture) waitForType(t *testing.T, want string) map[string]json.RawMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := f.read(t)
		if f.readType(t, msg) == want {
			return msg
		}
	}
	t.Fatalf("message of type %q never arrived", want)
	return nil
}

func (f *wsFixture) send(t *testing.T, id uint64, msgType string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"id": id, "type": msgType, "data": data})
	require.NoError(t, err)
	require.NoError(t, f.conn.WriteMessage(websocket.TextMessage, raw))
}

func (f *wsFixture) attachProducer(t *testing.T) {
	t.Helper()
	require.NoError(t, f.src.ProvisionIngest(context.Background()))
	f.eng.LastIngest().TriggerPeerAttached(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 52000})
	require.NotNil(t, f.src.Producer())
}

func TestConnectAnnouncesCapabilities(t *testing.T) {
	f := newWSFixture(t)

	msg := f.read(t)
	assert.Equal(t, domain.MsgTypeCapabilities, f.readType(t, msg))
	assert.Contains(t, string(msg["data"]), "audio/opus")
}

func TestProducerAvailablePushedToConnectedListener(t *testing.T) {
	f := newWSFixture(t)
	f.waitForType(t, domain.MsgTypeCapabilities)

	f.attachProducer(t)

	msg := f.waitForType(t, domain.MsgTypeProducerAvailable)
	assert.Contains(t, string(msg["data"]), f.src.Producer().ID())
}

func TestFullNegotiation(t *testing.T) {
	f := newWSFixture(t)
	f.attachProducer(t)
	f.waitForType(t, domain.MsgTypeCapabilities)
	f.waitForType(t, domain.MsgTypeProducerAvailable)

	f.send(t, 1, domain.MsgTypeCreateTransport, nil)
	resp := f.waitForType(t, domain.MsgTypeResponse)
	assert.Equal(t, `1`, string(resp["id"]))
	assert.Contains(t, string(resp["data"]), "iceDtls")
	assert.Nil(t, resp["error"])

	f.send(t, 2, domain.MsgTypeConnectTransport, map[string]interface{}{
		"dtls": map[string]string{"type": "answer", "sdp": "v=0"},
	})
	resp = f.waitForType(t, domain.MsgTypeResponse)
	assert.Equal(t, `2`, string(resp["id"]))
	assert.Nil(t, resp["error"])

	f.send(t, 3, domain.MsgTypeConsume, map[string]interface{}{
		"rtpCapabilities": map[string]interface{}{
			"codecs": []map[string]interface{}{{
				"mimeType": "audio/opus", "clockRate": 48000, "channels": 2, "payloadType": 111,
			}},
		},
	})
	resp = f.waitForType(t, domain.MsgTypeResponse)
	assert.Equal(t, `3`, string(resp["id"]))
	assert.Contains(t, string(resp["data"]), "producerId")
}

func TestConsumeWithoutProducerWireError(t *testing.T) {
	f := newWSFixture(t)
	f.waitForType(t, domain.MsgTypeCapabilities)

	f.send(t, 1, domain.MsgTypeCreateTransport, nil)
	f.waitForType(t, domain.MsgTypeResponse)
	f.send(t, 2, domain.MsgTypeConnectTransport, map[string]interface{}{"dtls": map[string]string{}})
	f.waitForType(t, domain.MsgTypeResponse)

	f.send(t, 3, domain.MsgTypeConsume, map[string]interface{}{
		"rtpCapabilities": map[string]interface{}{"codecs": []interface{}{}},
	})
	resp := f.waitForType(t, domain.MsgTypeResponse)

	var errText string
	require.NoError(t, json.Unmarshal(resp["error"], &errText))
	assert.Equal(t, "Producer not available", errText)
}

func TestConsumeIncompatibleWireError(t *testing.T) {
	f := newWSFixture(t)
	f.eng.ConsumeDenied = true
	f.attachProducer(t)
	f.waitForType(t, domain.MsgTypeCapabilities)

	f.send(t, 1, domain.MsgTypeCreateTransport, nil)
	f.waitForType(t, domain.MsgTypeResponse)
	f.send(t, 2, domain.MsgTypeConnectTransport, map[string]interface{}{"dtls": map[string]string{}})
	f.waitForType(t, domain.MsgTypeResponse)

	f.send(t, 3, domain.MsgTypeConsume, map[string]interface{}{
		"rtpCapabilities": map[string]interface{}{"codecs": []interface{}{}},
	})
	resp := f.waitForType(t, domain.MsgTypeResponse)

	var errText string
	require.NoError(t, json.Unmarshal(resp["error"], &errText))
	assert.Equal(t, "Cannot consume - incompatible RTP capabilities", errText)
}

func TestForceRecreateIngest(t *testing.T) {
	f := newWSFixture(t)
	f.attachProducer(t)
	f.waitForType(t, domain.MsgTypeCapabilities)
	f.waitForType(t, domain.MsgTypeProducerAvailable)

	f.send(t, 9, domain.MsgTypeForceRecreateIngest, nil)

	f.waitForType(t, domain.MsgTypeProducerUnavailable)
	resp := f.waitForType(t, domain.MsgTypeResponse)
	assert.Equal(t, `9`, string(resp["id"]))
	assert.Len(t, f.eng.Ingests(), 2)
}

func TestUnknownMessageType(t *testing.T) {
	f := newWSFixture(t)
	f.waitForType(t, domain.MsgTypeCapabilities)

	f.send(t, 5, "no-such-type", nil)
	resp := f.waitForType(t, domain.MsgTypeResponse)

	var errText string
	require.NoError(t, json.Unmarshal(resp["error"], &errText))
	assert.Equal(t, domain.ErrTextUnknownType, errText)
}

func TestDisconnectUnregistersSession(t *testing.T) {
	f := newWSFixture(t)
	f.waitForType(t, domain.MsgTypeCapabilities)

	require.Eventually(t, func() bool { return f.coord.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.conn.Close()

	require.Eventually(t, func() bool { return f.coord.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
