package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisChannel is the single Redis pub/sub channel every SafeGuard process
// instance publishes topic-tagged events to.
const redisChannel = "safeguard:events"

type wireEvent struct {
	Origin  string    `json:"origin"`
	Topic   Topic     `json:"topic"`
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// RedisBridge republishes local Bus events onto a Redis channel so other
// process instances' RealtimeHub replicas learn about them, and relays
// events received on that channel into the local Bus. It never causes a
// publish loop: messages it receives from Redis are delivered directly to
// local subscribers without being re-published to Redis.
type RedisBridge struct {
	rdb      *redis.Client
	bus      *Bus
	logger   *slog.Logger
	instance string
}

// NewRedisBridge wires bus to rdb for cross-process fan-out. The random
// instance id lets Run discard this process's own mirrored events, since
// every instance subscribes to the channel it also publishes on.
func NewRedisBridge(rdb *redis.Client, bus *Bus, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{rdb: rdb, bus: bus, logger: logger, instance: uuid.NewString()}
}

// PublishRemote mirrors a locally-published event onto Redis. Called by
// Bus.Publish itself, after the durable inserts and before local fan-out;
// failures are logged, not
// returned, since cross-process fan-out is a best-effort optimization, not
// a correctness requirement (all authoritative state lives in Store).
func (rb *RedisBridge) PublishRemote(ctx context.Context, topic Topic, eventType EventType, payload any) {
	data, err := json.Marshal(wireEvent{Origin: rb.instance, Topic: topic, Type: eventType, Payload: payload})
	if err != nil {
		rb.logger.Error("marshaling event for redis fan-out", "error", err)
		return
	}
	if err := rb.rdb.Publish(ctx, redisChannel, data).Err(); err != nil {
		rb.logger.Error("publishing event to redis", "error", err)
	}
}

// Run subscribes to the cross-process channel and relays every received
// event into the local Bus until ctx is cancelled.
func (rb *RedisBridge) Run(ctx context.Context) {
	sub := rb.rdb.Subscribe(ctx, redisChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				rb.logger.Warn("dropping malformed cross-process event", "error", err)
				continue
			}
			if ev.Origin == rb.instance {
				continue // our own mirror; local subscribers already have it
			}
			rb.deliverLocal(ev)
		}
	}
}

// deliverLocal fans a remotely-originated event out to this process's local
// subscribers of ev.Topic only, bypassing Publish's durable-notification
// step (the originating process already persisted it).
func (rb *RedisBridge) deliverLocal(ev wireEvent) {
	rb.bus.mu.RLock()
	subs := rb.bus.subs[ev.Topic]
	targets := make([]*Subscriber, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	rb.bus.mu.RUnlock()

	for _, s := range targets {
		s.deliver(Message{Type: ev.Type, Topic: ev.Topic, Payload: ev.Payload}, ev.Topic)
	}
}
