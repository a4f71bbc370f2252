package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testHubConfig() Config {
	return Config{
		MaxMessageSize: 65536,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   54 * time.Second,
		SendBuffer:     8,
	}
}

func TestNewClientUsesConfiguredSendBuffer(t *testing.T) {
	h := NewHub(testHubConfig())
	c := h.NewClient("client-1", nil)

	assert.Equal(t, "client-1", c.ID)
	assert.Same(t, h, c.Hub)
	assert.Equal(t, 8, cap(c.Send))
}

func TestNewHubDefaultsSendBuffer(t *testing.T) {
	h := NewHub(Config{})
	c := h.NewClient("client-1", nil)

	assert.Equal(t, 256, cap(c.Send))
}
