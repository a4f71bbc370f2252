package broadcast

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMember records delivered events in order.
type recordingMember struct {
	id string

	mu     sync.Mutex
	events []string
}

func (m *recordingMember) ID() string { return m.id }

func (m *recordingMember) HandleProducerAvailable(producerID string) {
	m.mu.Lock()
	m.events = append(m.events, "available:"+producerID)
	m.mu.Unlock()
}

func (m *recordingMember) HandleProducerUnavailable() {
	m.mu.Lock()
	m.events = append(m.events, "unavailable")
	m.mu.Unlock()
}

func (m *recordingMember) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.events...)
}

// panickingMember fails on every delivery.
type panickingMember struct{ id string }

func (m *panickingMember) ID() string                     { return m.id }
func (m *panickingMember) HandleProducerAvailable(string) { panic("session gone") }
func (m *panickingMember) HandleProducerUnavailable()     { panic("session gone") }

func TestRegisterUnregister(t *testing.T) {
	c := NewCoordinator()
	assert.Equal(t, 0, c.Count())

	c.Register(&recordingMember{id: "a"})
	c.Register(&recordingMember{id: "b"})
	assert.Equal(t, 2, c.Count())

	c.Unregister("a")
	assert.Equal(t, 1, c.Count())

	// Unknown id is a no-op.
	c.Unregister("a")
	assert.Equal(t, 1, c.Count())
}

func TestNotifyReachesEverySession(t *testing.T) {
	c := NewCoordinator()
	a := &recordingMember{id: "a"}
	b := &recordingMember{id: "b"}
	c.Register(a)
	c.Register(b)

	c.NotifyProducerAvailable("producer-1")
	c.NotifyProducerUnavailable()
	c.NotifyProducerAvailable("producer-2")

	want := []string{"available:producer-1", "unavailable", "available:producer-2"}
	assert.Equal(t, want, a.Events(), "transitions arrive in emission order")
	assert.Equal(t, want, b.Events())
}

func TestUnregisteredSessionStopsReceiving(t *testing.T) {
	c := NewCoordinator()
	a := &recordingMember{id: "a"}
	c.Register(a)

	c.NotifyProducerAvailable("producer-1")
	c.Unregister("a")
	c.NotifyProducerUnavailable()

	assert.Equal(t, []string{"available:producer-1"}, a.Events())
}

func TestPanickingSessionDoesNotBreakFanout(t *testing.T) {
	c := NewCoordinator()
	a := &recordingMember{id: "a"}
	c.Register(&panickingMember{id: "boom"})
	c.Register(a)

	require.NotPanics(t, func() {
		c.NotifyProducerAvailable("producer-1")
		c.NotifyProducerUnavailable()
	})
	assert.Equal(t, []string{"available:producer-1", "unavailable"}, a.Events())
}

func TestConcurrentNotifySerialized(t *testing.T) {
	c := NewCoordinator()
	a := &recordingMember{id: "a"}
	c.Register(a)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.NotifyProducerAvailable("p")
			c.NotifyProducerUnavailable()
		}()
	}
	wg.Wait()

	assert.Len(t, a.Events(), 40)
}
