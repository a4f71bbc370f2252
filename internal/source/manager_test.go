package source

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EvinKlif/radio/internal/testsupport/enginestub"
)

// recordingPublisher records availability transitions in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) NotifyProducerAvailable(producerID string) {
	p.mu.Lock()
	p.events = append(p.events, "available:"+producerID)
	p.mu.Unlock()
}

func (p *recordingPublisher) NotifyProducerUnavailable() {
	p.mu.Lock()
	p.events = append(p.events, "unavailable")
	p.mu.Unlock()
}

func (p *recordingPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.events...)
}

func testConfig() Config {
	return Config{
		ListenIP:          "127.0.0.1",
		Port:              40000,
		IdleTimeout:       time.Second,
		RetryDelay:        10 * time.Millisecond,
		ProvisionAttempts: 2,
	}
}

func peerAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 52000}
}

func TestProvisionAndProduce(t *testing.T) {
	eng := &enginestub.Engine{}
	pub := &recordingPublisher{}
	m := NewManager(eng, pub, testConfig())
	defer m.Close()

	require.NoError(t, m.ProvisionIngest(context.Background()))
	require.Len(t, eng.Ingests(), 1)
	assert.Nil(t, m.Producer(), "no producer before the source connects")

	eng.LastIngest().TriggerPeerAttached(peerAddr())

	p := m.Producer()
	require.NotNil(t, p)
	assert.Equal(t, []string{"available:" + p.ID()}, pub.Events())

	snap := m.Snapshot()
	assert.True(t, snap.IngestLive)
	assert.Equal(t, p.ID(), snap.ProducerID)
}

func TestProvisionRetriesAllocation(t *testing.T) {
	eng := &enginestub.Engine{CreateIngestFailures: 1}
	m := NewManager(eng, &recordingPublisher{}, testConfig())
	defer m.Close()

	require.NoError(t, m.ProvisionIngest(context.Background()))
	assert.Len(t, eng.Ingests(), 1)
}

func TestProvisionFailsAfterAttemptsExhausted(t *testing.T) {
	eng := &enginestub.Engine{CreateIngestFailures: 10}
	m := NewManager(eng, &recordingPublisher{}, testConfig())
	defer m.Close()

	err := m.ProvisionIngest(context.Background())
	require.Error(t, err)
	assert.Nil(t, m.Producer())
}

func TestTrackEndedTriggersSelfHeal(t *testing.T) {
	eng := &enginestub.Engine{}
	pub := &recordingPublisher{}
	m := NewManager(eng, pub, testConfig())
	defer m.Close()

	require.NoError(t, m.ProvisionIngest(context.Background()))
	first := eng.LastIngest()
	first.TriggerPeerAttached(peerAddr())
	require.NotNil(t, m.Producer())

	first.Producer().TriggerTrackEnded()

	assert.Nil(t, m.Producer(), "producer released on loss")
	assert.True(t, first.Closed(), "old endpoint torn down")

	// A fresh endpoint appears after the flat retry delay.
	require.Eventually(t, func() bool {
		return len(eng.Ingests()) == 2
	}, time.Second, 5*time.Millisecond)

	events := pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "unavailable", events[1])

	// The source reconnects to the new endpoint.
	eng.LastIngest().TriggerPeerAttached(peerAddr())
	require.NotNil(t, m.Producer())
}

func TestIngestClosedTriggersSelfHeal(t *testing.T) {
	eng := &enginestub.Engine{}
	pub := &recordingPublisher{}
	m := NewManager(eng, pub, testConfig())
	defer m.Close()

	require.NoError(t, m.ProvisionIngest(context.Background()))
	first := eng.LastIngest()
	first.TriggerPeerAttached(peerAddr())

	first.TriggerClose()

	assert.Nil(t, m.Producer())
	require.Eventually(t, func() bool {
		return len(eng.Ingests()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, pub.Events(), "unavailable")
}

func TestSelfHealKeepsRetryingAfterFailedRounds(t *testing.T) {
	eng := &enginestub.Engine{}
	pub := &recordingPublisher{}
	m := NewManager(eng, pub, testConfig())
	defer m.Close()

	require.NoError(t, m.ProvisionIngest(context.Background()))
	first := eng.LastIngest()
	first.TriggerPeerAttached(peerAddr())
	require.NotNil(t, m.Producer())

	// Enough failures to exhaust several full retry rounds before the
	// engine recovers.
	eng.CreateIngestFailures = 5
	first.Producer().TriggerTrackEnded()

	require.Eventually(t, func() bool {
		return len(eng.Ingests()) == 2
	}, 2*time.Second, 5*time.Millisecond, "retries must continue past failed rounds")

	eng.LastIngest().TriggerPeerAttached(peerAddr())
	require.NotNil(t, m.Producer())
}

func TestForceRecreate(t *testing.T) {
	eng := &enginestub.Engine{}
	pub := &recordingPublisher{}
	m := NewManager(eng, pub, testConfig())
	defer m.Close()

	require.NoError(t, m.ProvisionIngest(context.Background()))
	first := eng.LastIngest()
	first.TriggerPeerAttached(peerAddr())
	p := m.Producer()
	require.NotNil(t, p)

	require.NoError(t, m.ForceRecreate(context.Background()))

	assert.True(t, first.Closed())
	assert.True(t, p.Closed())
	assert.Nil(t, m.Producer())
	require.Len(t, eng.Ingests(), 2)
	assert.Equal(t, []string{"available:" + p.ID(), "unavailable"}, pub.Events())
}

func TestForceRecreateWithoutProducer(t *testing.T) {
	eng := &enginestub.Engine{}
	pub := &recordingPublisher{}
	m := NewManager(eng, pub, testConfig())
	defer m.Close()

	require.NoError(t, m.ProvisionIngest(context.Background()))
	require.NoError(t, m.ForceRecreate(context.Background()))

	assert.Empty(t, pub.Events(), "no unavailability broadcast when nothing was live")
	assert.Len(t, eng.Ingests(), 2)
}

func TestSecondPeerRejectedWhileLive(t *testing.T) {
	eng := &enginestub.Engine{}
	pub := &recordingPublisher{}
	m := NewManager(eng, pub, testConfig())
	defer m.Close()

	require.NoError(t, m.ProvisionIngest(context.Background()))
	in := eng.LastIngest()
	in.TriggerPeerAttached(peerAddr())
	require.NotNil(t, m.Producer())

	in.TriggerPeerAttached(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53000})

	assert.Len(t, pub.Events(), 1, "one availability broadcast for one producer")
}

func TestStaleEventsAfterRecreateDropped(t *testing.T) {
	eng := &enginestub.Engine{}
	pub := &recordingPublisher{}
	m := NewManager(eng, pub, testConfig())
	defer m.Close()

	require.NoError(t, m.ProvisionIngest(context.Background()))
	first := eng.LastIngest()
	first.TriggerPeerAttached(peerAddr())
	oldProducer := first.Producer()

	require.NoError(t, m.ForceRecreate(context.Background()))
	before := len(pub.Events())

	// Events from the torn-down generation must not publish anything.
	oldProducer.TriggerTrackEnded()
	oldProducer.TriggerTransportClosed()
	first.TriggerClose()

	assert.Len(t, pub.Events(), before)
	assert.Len(t, eng.Ingests(), 2, "no extra re-provisioning from stale events")
}

func TestProduceFailureLeavesIngestUsable(t *testing.T) {
	eng := &enginestub.Engine{}
	pub := &recordingPublisher{}
	m := NewManager(eng, pub, testConfig())
	defer m.Close()

	require.NoError(t, m.ProvisionIngest(context.Background()))
	in := eng.LastIngest()
	in.ProduceErr = fmt.Errorf("codec mismatch (injected)")

	in.TriggerPeerAttached(peerAddr())
	assert.Nil(t, m.Producer())
	assert.Empty(t, pub.Events())

	in.ProduceErr = nil
	in.TriggerPeerAttached(peerAddr())
	assert.NotNil(t, m.Producer())
}

func TestCloseStopsEverything(t *testing.T) {
	eng := &enginestub.Engine{}
	pub := &recordingPublisher{}
	m := NewManager(eng, pub, testConfig())

	require.NoError(t, m.ProvisionIngest(context.Background()))
	in := eng.LastIngest()
	in.TriggerPeerAttached(peerAddr())
	p := m.Producer()
	require.NotNil(t, p)

	require.NoError(t, m.Close())
	assert.True(t, in.Closed())
	assert.True(t, p.Closed())
	assert.Nil(t, m.Producer())

	// Idempotent, and no further provisioning is possible.
	require.NoError(t, m.Close())
	assert.Error(t, m.ProvisionIngest(context.Background()))
	assert.Len(t, eng.Ingests(), 1)
}
