package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func recvOne(t *testing.T, sub *Subscriber) Message {
	t.Helper()
	select {
	case msg := <-sub.Inbox():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestPublish_FansOutToAllMatchingTopics(t *testing.T) {
	bus := New(nil)
	userID := uuid.New()
	buildingID := uuid.New()

	userSub := bus.Subscribe(UserTopic(userID))
	buildingSub := bus.Subscribe(BuildingTopic(buildingID))
	roleSub := bus.Subscribe(RoleTopic("security", buildingID))
	otherSub := bus.Subscribe(BuildingTopic(uuid.New()))

	err := bus.Publish(context.Background(), nil, PublishInput{
		Topics: []Topic{
			UserTopic(userID),
			BuildingTopic(buildingID),
			RoleTopic("security", buildingID),
		},
		Type:    EventVisitCreated,
		Payload: "payload",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, sub := range []*Subscriber{userSub, buildingSub, roleSub} {
		msg := recvOne(t, sub)
		if msg.Type != EventVisitCreated {
			t.Errorf("Type = %q, want %q", msg.Type, EventVisitCreated)
		}
	}

	select {
	case msg := <-otherSub.Inbox():
		t.Errorf("subscriber of an unrelated topic received %v", msg.Type)
	default:
	}
}

func TestPublish_PerTopicFIFO(t *testing.T) {
	bus := New(nil)
	userID := uuid.New()
	sub := bus.Subscribe(UserTopic(userID))

	types := []EventType{EventVisitCreated, EventVisitorEntered, EventVisitorExited, EventVisitCompleted}
	for _, et := range types {
		if err := bus.Publish(context.Background(), nil, PublishInput{
			Topics: []Topic{UserTopic(userID)},
			Type:   et,
		}); err != nil {
			t.Fatalf("Publish(%s): %v", et, err)
		}
	}

	for i, want := range types {
		msg := recvOne(t, sub)
		if msg.Type != want {
			t.Fatalf("message %d: Type = %q, want %q", i, msg.Type, want)
		}
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	bus := New(nil)
	userID := uuid.New()
	sub := bus.Subscribe(UserTopic(userID))
	bus.Unsubscribe(sub)

	if err := bus.Publish(context.Background(), nil, PublishInput{
		Topics: []Topic{UserTopic(userID)},
		Type:   EventVisitCreated,
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Inbox():
		t.Errorf("unsubscribed inbox received %v", msg.Type)
	default:
	}
}

// fakeNotificationWriter records InsertTx calls instead of touching a database.
type fakeNotificationWriter struct {
	calls []struct {
		UserID uuid.UUID
		Spec   NotificationSpec
	}
	err error
}

func (f *fakeNotificationWriter) InsertTx(_ context.Context, _ pgx.Tx, userID uuid.UUID, spec NotificationSpec) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, struct {
		UserID uuid.UUID
		Spec   NotificationSpec
	}{userID, spec})
	return nil
}

func TestPublish_DurableWritesNotificationForUserTopicsOnly(t *testing.T) {
	writer := &fakeNotificationWriter{}
	bus := New(writer)
	userID := uuid.New()
	buildingID := uuid.New()

	err := bus.Publish(context.Background(), nil, PublishInput{
		Topics: []Topic{
			UserTopic(userID),
			BuildingTopic(buildingID),
			RoleTopic("security", buildingID),
		},
		Type:    EventVisitCreated,
		Durable: true,
		Notification: NotificationSpec{
			Type:  string(EventVisitCreated),
			Title: "Visit created",
		},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(writer.calls) != 1 {
		t.Fatalf("notification writes = %d, want 1 (only the user topic is durable)", len(writer.calls))
	}
	if writer.calls[0].UserID != userID {
		t.Errorf("notification recipient = %v, want %v", writer.calls[0].UserID, userID)
	}
}

func TestPublish_NonDurableSkipsNotification(t *testing.T) {
	writer := &fakeNotificationWriter{}
	bus := New(writer)

	err := bus.Publish(context.Background(), nil, PublishInput{
		Topics: []Topic{UserTopic(uuid.New())},
		Type:   EventUserOnline,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(writer.calls) != 0 {
		t.Errorf("notification writes = %d, want 0", len(writer.calls))
	}
}

func TestPublish_DurableWriteFailureAbortsPublish(t *testing.T) {
	writer := &fakeNotificationWriter{err: context.DeadlineExceeded}
	bus := New(writer)
	userID := uuid.New()
	sub := bus.Subscribe(UserTopic(userID))

	err := bus.Publish(context.Background(), nil, PublishInput{
		Topics:       []Topic{UserTopic(userID)},
		Type:         EventVisitCreated,
		Durable:      true,
		Notification: NotificationSpec{Type: string(EventVisitCreated)},
	})
	if err == nil {
		t.Fatal("Publish should fail when the durable write fails")
	}

	select {
	case msg := <-sub.Inbox():
		t.Errorf("event %v delivered despite failed durable write", msg.Type)
	default:
	}
}

func TestDeliver_OverflowDropsOldestAndMarks(t *testing.T) {
	bus := New(nil)
	userID := uuid.New()
	sub := bus.Subscribe(UserTopic(userID))

	// Fill the inbox without draining it.
	for i := 0; i < inboxCapacity; i++ {
		if err := bus.Publish(context.Background(), nil, PublishInput{
			Topics: []Topic{UserTopic(userID)},
			Type:   EventVisitCreated,
		}); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	// One more: the publisher waits up to overflowWait, then drops the
	// oldest and injects an overflow marker.
	if err := bus.Publish(context.Background(), nil, PublishInput{
		Topics: []Topic{UserTopic(userID)},
		Type:   EventVisitCompleted,
	}); err != nil {
		t.Fatalf("overflow Publish: %v", err)
	}

	sawOverflow := false
	for i := 0; i < inboxCapacity; i++ {
		msg := recvOne(t, sub)
		if msg.Type == EventOverflow {
			sawOverflow = true
			break
		}
	}
	if !sawOverflow {
		t.Error("no overflow marker delivered after inbox overflow")
	}
}

func TestParseUserTopic(t *testing.T) {
	id := uuid.New()

	got, ok := parseUserTopic(UserTopic(id))
	if !ok || got != id {
		t.Errorf("parseUserTopic(user topic) = %v, %v", got, ok)
	}

	for _, topic := range []Topic{
		BuildingTopic(id),
		RoleTopic("security", id),
		Topic("user:not-a-uuid"),
		Topic("user:"),
		Topic(""),
	} {
		if _, ok := parseUserTopic(topic); ok {
			t.Errorf("parseUserTopic(%q) = true, want false", topic)
		}
	}
}

func TestTopicNames(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	if got := UserTopic(id); got != "user:11111111-2222-3333-4444-555555555555" {
		t.Errorf("UserTopic = %q", got)
	}
	if got := BuildingTopic(id); got != "building:11111111-2222-3333-4444-555555555555" {
		t.Errorf("BuildingTopic = %q", got)
	}
	if got := RoleTopic("security", id); got != "role:security@11111111-2222-3333-4444-555555555555" {
		t.Errorf("RoleTopic = %q", got)
	}
}
