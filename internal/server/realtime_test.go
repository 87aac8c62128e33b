package server

import (
	"context"
	"testing"
	"time"
)

func TestRoomEventDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRoomEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "room-1")
	defer cleanup()

	dispatcher.Publish(RoomEvent{
		RoomID:      "room-1",
		EventType:   RoomEventParticipantJoined,
		DisplayName: "Ada",
	})

	select {
	case received := <-stream:
		if received.EventType != RoomEventParticipantJoined {
			t.Fatalf("expected event type %s, got %s", RoomEventParticipantJoined, received.EventType)
		}
		if received.DisplayName != "Ada" {
			t.Fatalf("unexpected display name %q", received.DisplayName)
		}
		if received.Timestamp.IsZero() {
			t.Fatalf("expected publish to stamp the event")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected room event within deadline")
	}
}

func TestRoomEventDispatcherIsolatedByRoom(t *testing.T) {
	dispatcher := NewRoomEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roomStream, cleanup := dispatcher.Subscribe(ctx, "room-2")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "room-3")
	defer otherCleanup()

	dispatcher.Publish(RoomEvent{RoomID: "room-3", EventType: RoomEventRoomFinalized, WinnerName: "Venue a"})

	select {
	case <-roomStream:
		t.Fatal("did not expect an event for room-2")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case received := <-otherStream:
		if received.WinnerName != "Venue a" {
			t.Fatalf("unexpected winner %q", received.WinnerName)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event for room-3")
	}
}

func TestRoomEventDispatcherDropsWhenSubscriberIsFull(t *testing.T) {
	dispatcher := NewRoomEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "room-4")
	defer cleanup()

	for index := 0; index < subscriberBufferSize+5; index++ {
		dispatcher.Publish(RoomEvent{RoomID: "room-4", EventType: RoomEventParticipantDone})
	}
	if len(stream) != subscriberBufferSize {
		t.Fatalf("expected buffered events to cap at %d, got %d", subscriberBufferSize, len(stream))
	}
}

func TestRoomEventDispatcherUnsubscribesOnContextDone(t *testing.T) {
	dispatcher := NewRoomEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "room-5")
	defer cleanup()
	if dispatcher.SubscriberCount("room-5") != 1 {
		t.Fatalf("expected one subscriber")
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount("room-5") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be removed after cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRoomEventDispatcherIgnoresIncompleteEvents(t *testing.T) {
	dispatcher := NewRoomEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "room-6")
	defer cleanup()

	dispatcher.Publish(RoomEvent{RoomID: "room-6"})
	dispatcher.Publish(RoomEvent{EventType: RoomEventParticipantDone})

	select {
	case event := <-stream:
		t.Fatalf("did not expect an event, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}

	closed, noop := dispatcher.Subscribe(ctx, "")
	noop()
	if _, open := <-closed; open {
		t.Fatalf("expected a closed stream for an empty room id")
	}
}
