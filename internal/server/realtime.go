package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	RoomEventParticipantJoined = "participant-joined"
	RoomEventParticipantDone   = "participant-done"
	RoomEventRoomFinalized     = "room-finalized"
	roomEventHeartbeat         = "heartbeat"

	defaultHeartbeatInterval = 25 * time.Second
	subscriberBufferSize     = 16
)

// RoomEvent is a change inside one room pushed to its open event streams.
type RoomEvent struct {
	RoomID      string
	EventType   string
	DisplayName string
	WinnerName  string
	Timestamp   time.Time
}

type roomEventPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName,omitempty"`
	Winner      string `json:"winner,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// RoomEventDispatcher fans room events out to subscribers of that room.
// Slow subscribers drop events instead of blocking publishers.
type RoomEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*roomSubscriber
	nextID      int64
	bufferSize  int
}

type roomSubscriber struct {
	id     int64
	stream chan RoomEvent
}

func NewRoomEventDispatcher() *RoomEventDispatcher {
	return &RoomEventDispatcher{
		subscribers: make(map[string]map[int64]*roomSubscriber),
		bufferSize:  subscriberBufferSize,
	}
}

// Subscribe registers a stream for roomID until ctx ends or cleanup runs.
func (d *RoomEventDispatcher) Subscribe(ctx context.Context, roomID string) (<-chan RoomEvent, func()) {
	if roomID == "" {
		ch := make(chan RoomEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &roomSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RoomEvent, d.bufferSize),
	}
	d.registerSubscriber(roomID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(roomID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RoomEventDispatcher) Publish(event RoomEvent) {
	if event.RoomID == "" || event.EventType == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.RoomID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*roomSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports how many streams are open for roomID.
func (d *RoomEventDispatcher) SubscriberCount(roomID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[roomID])
}

func (d *RoomEventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RoomEventDispatcher) registerSubscriber(roomID string, subscriber *roomSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[roomID]; !ok {
		d.subscribers[roomID] = make(map[int64]*roomSubscriber)
	}
	d.subscribers[roomID][subscriber.id] = subscriber
}

func (d *RoomEventDispatcher) unregisterSubscriber(roomID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[roomID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, roomID)
		}
	}
	d.mu.Unlock()
}

func (h *httpHandler) publish(event RoomEvent) {
	if h.events == nil {
		return
	}
	h.events.Publish(event)
}

func (h *httpHandler) handleRoomEvents(c *gin.Context) {
	roomID, ok := h.roomIDParam(c)
	if !ok {
		return
	}
	if _, err := h.rooms.GetRoom(c.Request.Context(), roomID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, cleanup := h.events.Subscribe(ctx, roomID.String())
	defer cleanup()
	h.logger.Debug("room event stream opened",
		zap.String("room_id", roomID.String()),
		zap.Int("subscribers", h.events.SubscriberCount(roomID.String())))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.SSEvent(roomEventHeartbeat, heartbeatPayload(roomID.String()))
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(event.EventType, roomEventPayload{
				RoomID:      event.RoomID,
				DisplayName: event.DisplayName,
				Winner:      event.WinnerName,
				Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(roomEventHeartbeat, heartbeatPayload(roomID.String()))
			return true
		}
	})
	h.logger.Debug("room event stream closed", zap.String("room_id", roomID.String()))
}

func heartbeatPayload(roomID string) roomEventPayload {
	return roomEventPayload{RoomID: roomID, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}
