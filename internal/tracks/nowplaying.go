package tracks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	pkglog "github.com/EvinKlif/radio/pkg/log"
)

// Redis wire values, shared with the playout process.
const (
	nowPlayingKey     = "last_track"
	nowPlayingChannel = "track_updates"
)

// ErrNothingPlaying is returned before the first track goes on air.
var ErrNothingPlaying = errors.New("nothing playing")

// NowPlayingStore holds the current on-air track and feeds its changes
// to subscribers.
type NowPlayingStore interface {
	// Current returns the on-air track, or ErrNothingPlaying.
	Current(ctx context.Context) (*NowPlaying, error)

	// Set replaces the on-air track and notifies subscribers.
	Set(ctx context.Context, np NowPlaying) error

	// Updates returns a channel of track changes. The channel closes
	// when ctx is done.
	Updates(ctx context.Context) (<-chan NowPlaying, error)
}

// MemoryNowPlayingStore is the in-process implementation, used for
// tests and single-node deployments.
type MemoryNowPlayingStore struct {
	mu      sync.Mutex
	current *NowPlaying
	subs    map[int]chan NowPlaying
	nextSub int
}

// NewMemoryNowPlayingStore creates an empty in-memory store.
func NewMemoryNowPlayingStore() *MemoryNowPlayingStore {
	return &MemoryNowPlayingStore{
		subs: make(map[int]chan NowPlaying),
	}
}

// Current returns the on-air track.
func (s *MemoryNowPlayingStore) Current(ctx context.Context) (*NowPlaying, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrNothingPlaying
	}
	np := *s.current
	return &np, nil
}

// Set replaces the on-air track and notifies subscribers.
func (s *MemoryNowPlayingStore) Set(ctx context.Context, np NowPlaying) error {
	s.mu.Lock()
	s.current = &np
	for _, ch := range s.subs {
		select {
		case ch <- np:
		default:
			// Subscriber not keeping up, skip this update
		}
	}
	s.mu.Unlock()
	return nil
}

// Updates returns a channel of track changes.
func (s *MemoryNowPlayingStore) Updates(ctx context.Context) (<-chan NowPlaying, error) {
	ch := make(chan NowPlaying, 8)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// RedisNowPlayingStore shares the now-playing state with the playout
// process through Redis: the current track in a key, changes on a
// pubsub channel.
type RedisNowPlayingStore struct {
	client *redis.Client
}

// RedisConfig holds connection settings for the now-playing store.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NewRedisNowPlayingStore connects to Redis and verifies the
// connection.
func NewRedisNowPlayingStore(cfg RedisConfig) (*RedisNowPlayingStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisNowPlayingStore{client: client}, nil
}

// Current returns the on-air track.
func (s *RedisNowPlayingStore) Current(ctx context.Context) (*NowPlaying, error) {
	data, err := s.client.Get(ctx, nowPlayingKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNothingPlaying
		}
		return nil, fmt.Errorf("failed to read now playing: %w", err)
	}

	var np NowPlaying
	if err := json.Unmarshal(data, &np); err != nil {
		return nil, fmt.Errorf("failed to decode now playing: %w", err)
	}
	return &np, nil
}

// Set replaces the on-air track and publishes the change.
func (s *RedisNowPlayingStore) Set(ctx context.Context, np NowPlaying) error {
	data, err := json.Marshal(np)
	if err != nil {
		return fmt.Errorf("failed to encode now playing: %w", err)
	}

	if err := s.client.Set(ctx, nowPlayingKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store now playing: %w", err)
	}
	return s.client.Publish(ctx, nowPlayingChannel, data).Err()
}

// Updates subscribes to track changes.
func (s *RedisNowPlayingStore) Updates(ctx context.Context) (<-chan NowPlaying, error) {
	pubsub := s.client.Subscribe(ctx, nowPlayingChannel)

	// Confirm the subscription before handing out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan NowPlaying, 8)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var np NowPlaying
				if err := json.Unmarshal([]byte(msg.Payload), &np); err != nil {
					pkglog.L().Warn().Err(err).Msg("malformed track update")
					continue
				}
				select {
				case out <- np:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases the Redis connection.
func (s *RedisNowPlayingStore) Close() error {
	return s.client.Close()
}
