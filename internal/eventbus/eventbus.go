// Package eventbus implements the in-process publish/subscribe fan-out:
// named topics (user/building/role), per-topic
// FIFO delivery, bounded per-subscriber inboxes with overflow handling, and
// an optional durable side effect for user-targeted events written in the
// same Store transaction as the state change that produced them.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/safeguard/internal/telemetry"
)

// Topic is a namespaced subscription key. Wildcards are not supported;
// subscribers declare the exact topics they want.
type Topic string

// UserTopic returns the per-user topic a RealtimeHub session subscribes to
// on connect and that durable notifications target.
func UserTopic(userID uuid.UUID) Topic { return Topic("user:" + userID.String()) }

// BuildingTopic returns the per-building broadcast topic.
func BuildingTopic(buildingID uuid.UUID) Topic { return Topic("building:" + buildingID.String()) }

// RoleTopic returns the per-role, per-building broadcast topic, e.g. every
// security guard on duty at one building.
func RoleTopic(role string, buildingID uuid.UUID) Topic {
	return Topic(fmt.Sprintf("role:%s@%s", role, buildingID))
}

// EventType enumerates the closed variant of event types the bus carries.
// Topic routing is a structural property of the event, never a per-handler
// string check performed downstream.
type EventType string

const (
	EventVisitCreated        EventType = "visit.created"
	EventVisitorArrived      EventType = "visitor.arrived"
	EventVisitorEntered      EventType = "visit.visitor_entered"
	EventVisitorExited       EventType = "visit.visitor_exited"
	EventVisitCompleted      EventType = "visit.completed"
	EventVisitCancelled      EventType = "visit.cancelled"
	EventVisitExpired        EventType = "visit.expired"
	EventVisitorBanned       EventType = "visitor.banned"
	EventVisitorUnbanned     EventType = "visitor.unbanned"
	EventUserOnline          EventType = "user.online"
	EventUserOffline         EventType = "user.offline"
	EventNotificationRead    EventType = "notification.read"
	EventOverflow            EventType = "overflow"
)

// Message is what actually travels through a subscriber's inbox.
type Message struct {
	ID        uuid.UUID
	Type      EventType
	Topic     Topic
	Payload   any
	CreatedAt time.Time
}

// inboxCapacity is the default bounded size of a subscriber's inbox.
const inboxCapacity = 1024

// overflowWait is how long Publish waits for room in a full inbox before
// giving up and dropping.
const overflowWait = 100 * time.Millisecond

// Subscriber is one registered inbox. Callers read Inbox() in their own
// goroutine; delivery order per topic is FIFO but no order is guaranteed
// across topics.
type Subscriber struct {
	ID     uuid.UUID
	inbox  chan Message
	mu     sync.Mutex
	topics map[Topic]struct{}
}

// Inbox returns the channel the subscriber should range over.
func (s *Subscriber) Inbox() <-chan Message { return s.inbox }

func (s *Subscriber) deliver(msg Message, topic Topic) (dropped bool) {
	select {
	case s.inbox <- msg:
		return false
	default:
	}

	timer := time.NewTimer(overflowWait)
	defer timer.Stop()
	select {
	case s.inbox <- msg:
		return false
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.inbox:
	default:
	}
	select {
	case s.inbox <- Message{ID: uuid.New(), Type: EventOverflow, Topic: topic, CreatedAt: time.Now().UTC()}:
	default:
	}
	return true
}

// NotificationWriter is the narrow Store-backed collaborator Publish uses to
// persist a durable Notification row inside the caller's open transaction.
// Implemented by notification.Repo; declared here to avoid an import cycle
// between eventbus and notification.
type NotificationWriter interface {
	InsertTx(ctx context.Context, tx pgx.Tx, recipientUserID uuid.UUID, n NotificationSpec) error
}

// NotificationSpec is the durable payload attached to a user-targeted
// publish. Required whenever PublishInput.Durable is true.
type NotificationSpec struct {
	BuildingID *uuid.UUID
	Type       string
	Title      string
	Body       string
	Priority   string
	Payload    any
}

// PublishInput is the publish(topic_set, event, {durable}) contract.
type PublishInput struct {
	Topics       []Topic
	Type         EventType
	Payload      any
	Durable      bool
	Notification NotificationSpec
}

// RemotePublisher mirrors locally-published events to other process
// instances. Implemented by RedisBridge; nil when the process runs alone.
type RemotePublisher interface {
	PublishRemote(ctx context.Context, topic Topic, eventType EventType, payload any)
}

// Bus is the shared in-process router. The routing table is read-mostly;
// subscribe/unsubscribe are rare relative to publish, so a RWMutex guards
// it.
type Bus struct {
	mu       sync.RWMutex
	subs     map[Topic]map[uuid.UUID]*Subscriber
	notifier NotificationWriter
	remote   RemotePublisher
}

// AttachRemote registers a cross-process mirror for subsequent publishes.
// Call once at composition time, before any Publish.
func (b *Bus) AttachRemote(r RemotePublisher) { b.remote = r }

// New builds an empty Bus. notifier may be nil if durable publishes are
// never issued (e.g. in tests exercising only broadcast topics).
func New(notifier NotificationWriter) *Bus {
	return &Bus{subs: make(map[Topic]map[uuid.UUID]*Subscriber), notifier: notifier}
}

// Subscribe registers a new inbox against the given topics and returns it.
func (b *Bus) Subscribe(topics ...Topic) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.New(),
		inbox:  make(chan Message, inboxCapacity),
		topics: make(map[Topic]struct{}, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		if b.subs[t] == nil {
			b.subs[t] = make(map[uuid.UUID]*Subscriber)
		}
		b.subs[t][sub.ID] = sub
	}
	return sub
}

// Unsubscribe removes sub from every topic it was registered on.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t := range sub.topics {
		delete(b.subs[t], sub.ID)
		if len(b.subs[t]) == 0 {
			delete(b.subs, t)
		}
	}
}

// Publish delivers an event to every subscriber of every topic in
// in.Topics, and — when Durable is true — inserts a Notification row for
// each user:{uuid} topic in the same transaction tx. Publish returns only
// after every subscriber inbox has accepted (or dropped, on overflow) the
// event; subscribers themselves process asynchronously off their inbox.
func (b *Bus) Publish(ctx context.Context, tx pgx.Tx, in PublishInput) error {
	if in.Durable {
		for _, t := range in.Topics {
			userID, ok := parseUserTopic(t)
			if !ok {
				continue
			}
			if b.notifier == nil {
				continue
			}
			if err := b.notifier.InsertTx(ctx, tx, userID, in.Notification); err != nil {
				return fmt.Errorf("persisting durable notification: %w", err)
			}
		}
	}

	telemetry.EventsPublishedTotal.WithLabelValues(string(in.Type)).Inc()

	if b.remote != nil {
		for _, t := range in.Topics {
			b.remote.PublishRemote(ctx, t, in.Type, in.Payload)
		}
	}

	b.mu.RLock()
	type fanout struct {
		sub   *Subscriber
		topic Topic
	}
	var targets []fanout
	for _, t := range in.Topics {
		for _, sub := range b.subs[t] {
			targets = append(targets, fanout{sub: sub, topic: t})
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	msg := Message{ID: uuid.New(), Type: in.Type, Payload: in.Payload, CreatedAt: time.Now().UTC()}

	var wg sync.WaitGroup
	wg.Add(len(targets))
	for _, tg := range targets {
		go func(tg fanout) {
			defer wg.Done()
			m := msg
			m.Topic = tg.topic
			if dropped := tg.sub.deliver(m, tg.topic); dropped {
				telemetry.EventsDroppedTotal.WithLabelValues(string(tg.topic)).Inc()
			}
		}(tg)
	}
	wg.Wait()
	return nil
}

func parseUserTopic(t Topic) (uuid.UUID, bool) {
	const prefix = "user:"
	s := string(t)
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s[len(prefix):])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
