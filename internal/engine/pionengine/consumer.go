package pionengine

import (
	"sync"

	"github.com/EvinKlif/radio/internal/engine"
)

// consumer ties one producer track to one transport sender.
type consumer struct {
	params   engine.ConsumerParams
	producer *producer
	tr       *transport

	mu       sync.Mutex
	closed   bool
	closeFns []func()
}

func newConsumer(params engine.ConsumerParams, p *producer, t *transport) *consumer {
	return &consumer{params: params, producer: p, tr: t}
}

func (c *consumer) Params() engine.ConsumerParams { return c.params }

func (c *consumer) OnClose(fn func()) {
	c.mu.Lock()
	c.closeFns = append(c.closeFns, fn)
	c.mu.Unlock()
}

// Close releases the consumer without firing its own close events.
func (c *consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closeFns = nil
	c.mu.Unlock()

	c.producer.detach(c)
	c.tr.clearConsumer(c)
	return nil
}

// closeFromProducer cascades a producer close: the consumer is closed
// and its close events fire.
func (c *consumer) closeFromProducer() {
	fns := c.markClosed()
	if fns == nil {
		return
	}
	c.tr.clearConsumer(c)
	for _, fn := range fns {
		fn()
	}
}

// closeFromTransport cascades a transport close.
func (c *consumer) closeFromTransport() {
	fns := c.markClosed()
	if fns == nil {
		return
	}
	c.producer.detach(c)
	for _, fn := range fns {
		fn()
	}
}

func (c *consumer) markClosed() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	fns := c.closeFns
	c.closeFns = nil
	if fns == nil {
		fns = []func(){}
	}
	return fns
}
