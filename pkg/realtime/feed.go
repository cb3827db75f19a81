// Package realtime fans out row change events over Redis pub/sub. Events
// carry raw row identifiers only; subscribers re-fetch the complete joined
// row before delivering it, because the wire event has no joined fields.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"cubechat/pkg/domain"
)

const (
	messageChannelPrefix = "cubechat:messages:"
	cubeChannel          = "cubechat:cubes"
)

// Event is the wire payload for a row change.
type Event struct {
	ID     string `json:"id"`
	CubeID string `json:"cubeId,omitempty"`
}

// MessageFetcher re-fetches the joined message row for an event.
type MessageFetcher interface {
	MessageByID(ctx context.Context, id string) (domain.Message, bool, error)
}

// CubeFetcher re-fetches the cube row for an event.
type CubeFetcher interface {
	CubeByID(ctx context.Context, id string) (domain.Cube, bool, error)
}

// Feed publishes and subscribes to change events.
type Feed struct {
	client   *redis.Client
	messages MessageFetcher
	cubes    CubeFetcher
}

// NewFeed builds a feed over the given Redis client and fetchers.
func NewFeed(client *redis.Client, messages MessageFetcher, cubes CubeFetcher) (*Feed, error) {
	if client == nil {
		return nil, errors.New("realtime feed requires a redis client")
	}
	if messages == nil || cubes == nil {
		return nil, errors.New("realtime feed requires row fetchers")
	}
	return &Feed{client: client, messages: messages, cubes: cubes}, nil
}

// PublishMessage announces a new message row. Deleted rows are never
// published; the channel carries inserts of visible rows only.
func (f *Feed) PublishMessage(ctx context.Context, m domain.Message) error {
	if m.Deleted {
		return nil
	}
	payload, err := json.Marshal(Event{ID: m.ID, CubeID: m.CubeID})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return f.client.Publish(ctx, messageChannelPrefix+m.CubeID, payload).Err()
}

// PublishCube announces a created or updated active cube.
func (f *Feed) PublishCube(ctx context.Context, c domain.Cube) error {
	if !c.Active {
		return nil
	}
	payload, err := json.Marshal(Event{ID: c.ID})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return f.client.Publish(ctx, cubeChannel, payload).Err()
}

// Subscription is a cancellable stream of complete message rows. Exactly one
// Close per Subscribe; events arriving while no subscription is active are
// lost, a manual refresh re-fetches current state.
type Subscription struct {
	pubsub *redis.PubSub
	ch     chan domain.Message
	once   sync.Once
}

// C returns the stream of messages. It is closed after Close.
func (s *Subscription) C() <-chan domain.Message { return s.ch }

// Close tears down the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { _ = s.pubsub.Close() })
}

// SubscribeMessages opens one change channel. An empty cubeID subscribes to
// all cubes; otherwise events are filtered to that cube on the Redis side.
func (f *Feed) SubscribeMessages(ctx context.Context, cubeID string) (*Subscription, error) {
	var pubsub *redis.PubSub
	if cubeID == "" {
		pubsub = f.client.PSubscribe(ctx, messageChannelPrefix+"*")
	} else {
		pubsub = f.client.Subscribe(ctx, messageChannelPrefix+cubeID)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe messages: %w", err)
	}
	sub := &Subscription{pubsub: pubsub, ch: make(chan domain.Message, 16)}
	go f.messageLoop(ctx, sub)
	return sub, nil
}

func (f *Feed) messageLoop(ctx context.Context, sub *Subscription) {
	defer close(sub.ch)
	for raw := range sub.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(raw.Payload), &ev); err != nil {
			slog.Warn("realtime: bad message event payload", "err", err)
			continue
		}
		full, found, err := f.messages.MessageByID(ctx, ev.ID)
		if err != nil {
			// Re-fetch failures drop the event; the next refresh catches up.
			slog.Warn("realtime: message re-fetch failed", "id", ev.ID, "err", err)
			continue
		}
		if !found || full.Deleted {
			continue
		}
		select {
		case sub.ch <- full:
		case <-ctx.Done():
			return
		}
	}
}

// CubeSubscription is a cancellable stream of active cube rows.
type CubeSubscription struct {
	pubsub *redis.PubSub
	ch     chan domain.Cube
	once   sync.Once
}

// C returns the stream of cubes. It is closed after Close.
func (s *CubeSubscription) C() <-chan domain.Cube { return s.ch }

// Close tears down the channel. Safe to call more than once.
func (s *CubeSubscription) Close() {
	s.once.Do(func() { _ = s.pubsub.Close() })
}

// SubscribeCubes opens a change channel for cube creates and updates.
func (f *Feed) SubscribeCubes(ctx context.Context) (*CubeSubscription, error) {
	pubsub := f.client.Subscribe(ctx, cubeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe cubes: %w", err)
	}
	sub := &CubeSubscription{pubsub: pubsub, ch: make(chan domain.Cube, 16)}
	go f.cubeLoop(ctx, sub)
	return sub, nil
}

func (f *Feed) cubeLoop(ctx context.Context, sub *CubeSubscription) {
	defer close(sub.ch)
	for raw := range sub.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(raw.Payload), &ev); err != nil {
			slog.Warn("realtime: bad cube event payload", "err", err)
			continue
		}
		full, found, err := f.cubes.CubeByID(ctx, ev.ID)
		if err != nil {
			slog.Warn("realtime: cube re-fetch failed", "id", ev.ID, "err", err)
			continue
		}
		if !found {
			continue
		}
		select {
		case sub.ch <- full:
		case <-ctx.Done():
			return
		}
	}
}
