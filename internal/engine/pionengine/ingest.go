package pionengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/EvinKlif/radio/internal/engine"
	"github.com/EvinKlif/radio/internal/metrics"
	"github.com/EvinKlif/radio/pkg/log"
)

// ingest is a plain-RTP UDP endpoint. The first remote address seen is
// latched as the source peer; packets from any other address are
// dropped until the ingest is recreated.
type ingest struct {
	conn        *net.UDPConn
	idleTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	peer     *net.UDPAddr
	peerFn   func(addr net.Addr)
	closeFns []func()
	producer *producer
}

func newIngest(cfg engine.IngestConfig) (*ingest, error) {
	ip := net.ParseIP(cfg.ListenIP)
	if ip == nil && cfg.ListenIP != "" {
		return nil, fmt.Errorf("invalid ingest listen ip %q", cfg.ListenIP)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("failed to bind ingest port %d: %w", cfg.Port, err)
	}
	in := &ingest{
		conn:        conn,
		idleTimeout: cfg.IdleTimeout,
	}
	go in.readLoop()
	return in, nil
}

// Addr returns the bound UDP address.
func (in *ingest) Addr() net.Addr {
	return in.conn.LocalAddr()
}

// Produce attaches a producer for the latched peer. At most one live
// producer exists per ingest.
func (in *ingest) Produce(ctx context.Context, params engine.ProducerParams) (engine.Producer, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil, engine.ErrClosed
	}
	if in.producer != nil && !in.producer.Closed() {
		return nil, errors.New("ingest already has a live producer")
	}
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  params.Codec.MimeType,
		ClockRate: uint32(params.Codec.ClockRate),
		Channels:  uint16(params.Codec.Channels),
	}, "audio", "radio")
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest track: %w", err)
	}
	p := newProducer(params, track)
	in.producer = p
	return p, nil
}

// OnPeerAttached registers the comedia callback. If a peer is already
// latched the callback fires immediately.
func (in *ingest) OnPeerAttached(fn func(addr net.Addr)) {
	in.mu.Lock()
	in.peerFn = fn
	peer := in.peer
	in.mu.Unlock()
	if peer != nil && fn != nil {
		fn(peer)
	}
}

// OnClose fires when the ingest dies for an external reason (socket
// error). A deliberate Close does not fire it.
func (in *ingest) OnClose(fn func()) {
	in.mu.Lock()
	in.closeFns = append(in.closeFns, fn)
	in.mu.Unlock()
}

// Close shuts the socket down. The attached producer, if any live, is
// closed with its transport-closed event.
func (in *ingest) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	prod := in.producer
	in.producer = nil
	in.mu.Unlock()

	err := in.conn.Close()
	if prod != nil {
		prod.signalTransportClosed()
		_ = prod.Close()
	}
	return err
}

func (in *ingest) readLoop() {
	buf := make([]byte, 1500)
	for {
		if in.idleTimeout > 0 {
			_ = in.conn.SetReadDeadline(time.Now().Add(in.idleTimeout))
		}
		n, addr, err := in.conn.ReadFromUDP(buf)
		if err != nil {
			if in.isClosed() {
				return
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				in.handleIdle()
				continue
			}
			log.L().Error().Err(err).Msg("ingest socket failed")
			in.handleSocketFailure()
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		if !in.admitPeer(addr) {
			continue
		}

		metrics.IngestPackets.Inc()
		metrics.IngestBytes.Add(float64(n))

		if p := in.currentProducer(); p != nil {
			p.write(pkt)
		}
	}
}

// admitPeer latches the first sender and drops packets from any other
// address afterwards.
func (in *ingest) admitPeer(addr *net.UDPAddr) bool {
	in.mu.Lock()
	if in.peer == nil {
		in.peer = addr
		fn := in.peerFn
		in.mu.Unlock()
		log.L().Info().Str("peer", addr.String()).Msg("ingest peer attached")
		if fn != nil {
			fn(addr)
		}
		return true
	}
	same := in.peer.IP.Equal(addr.IP) && in.peer.Port == addr.Port
	in.mu.Unlock()
	return same
}

// handleIdle fires track-ended on a live producer when no packets
// arrived within the idle timeout.
func (in *ingest) handleIdle() {
	in.mu.Lock()
	p := in.producer
	hasPeer := in.peer != nil
	in.mu.Unlock()
	if p == nil || p.Closed() || !hasPeer {
		return
	}
	log.L().Warn().Dur("idle_timeout", in.idleTimeout).Msg("ingest idle, ending track")
	p.signalTrackEnded()
}

func (in *ingest) handleSocketFailure() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.closed = true
	prod := in.producer
	in.producer = nil
	fns := in.closeFns
	in.closeFns = nil
	in.mu.Unlock()

	_ = in.conn.Close()
	if prod != nil {
		prod.signalTransportClosed()
		_ = prod.Close()
	}
	for _, fn := range fns {
		fn()
	}
}

func (in *ingest) isClosed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

func (in *ingest) currentProducer() *producer {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.producer == nil || in.producer.Closed() {
		return nil
	}
	return in.producer
}
