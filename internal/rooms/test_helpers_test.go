package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tender/internal/catalog"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testHost      = "host-1"
	otherTestHost = "host-2"
)

type sequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%03d", g.prefix, g.next), nil
}

type failingIDGenerator struct{}

func (failingIDGenerator) NewID() (string, error) {
	return "", errors.New("entropy exhausted")
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type stubFetcher struct {
	mu          sync.Mutex
	results     map[string][]catalog.Venue
	calls       []string
	invalidated []string
}

func (f *stubFetcher) Invalidate(_ context.Context, location string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, location)
	return nil
}

func (f *stubFetcher) Fetch(_ context.Context, location string) []catalog.Venue {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, location)
	return f.results[location]
}

func venues(ids ...string) []catalog.Venue {
	list := make([]catalog.Venue, 0, len(ids))
	for _, id := range ids {
		level := 2
		list = append(list, catalog.Venue{
			ID:          id,
			Name:        "Venue " + id,
			ImageURL:    "https://img.example/" + id,
			URL:         "https://maps.example/" + id,
			Categories:  []string{"restaurant", "food"},
			PriceLevel:  &level,
			ReviewCount: 10,
			Rating:      4.5,
		})
	}
	return list
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:tender_rooms_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type testFixture struct {
	service *Service
	db      *gorm.DB
	fetcher *stubFetcher
}

func newTestFixture(t *testing.T) testFixture {
	t.Helper()
	db := openTestDatabase(t)
	fetcher := &stubFetcher{results: map[string][]catalog.Venue{
		"Austin": venues("a", "b", "c"),
		"Dallas": venues("c", "d"),
	}}
	clock := &steppingClock{current: time.Unix(1700000000, 0).UTC()}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequentialIDGenerator{prefix: "id"},
		Fetcher:    fetcher,
	})
	if err != nil {
		t.Fatalf("failed to construct rooms service: %v", err)
	}
	return testFixture{service: service, db: db, fetcher: fetcher}
}

func (f testFixture) createRoom(t *testing.T, location string) Room {
	t.Helper()
	room, err := f.service.CreateRoom(context.Background(), mustHostID(t, testHost), location)
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	return room
}

func (f testFixture) join(t *testing.T, room Room, name string) Participant {
	t.Helper()
	participant, err := f.service.JoinRoom(context.Background(), RoomID(room.RoomID), name)
	if err != nil {
		t.Fatalf("failed to join room: %v", err)
	}
	return participant
}

func (f testFixture) cast(t *testing.T, room Room, participant Participant, candidateID string, value int64) Ballot {
	t.Helper()
	ballot, err := f.service.CastBallot(context.Background(), CastBallotInput{
		RoomID:        room.RoomID,
		ParticipantID: participant.ParticipantID,
		CandidateID:   candidateID,
		Value:         value,
	})
	if err != nil {
		t.Fatalf("failed to cast ballot: %v", err)
	}
	return ballot
}

func (f testFixture) reloadRoom(t *testing.T, roomID string) Room {
	t.Helper()
	var room Room
	if err := f.db.Where("room_id = ?", roomID).Take(&room).Error; err != nil {
		t.Fatalf("failed to reload room: %v", err)
	}
	return room
}

func (f testFixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var total int64
	if err := f.db.Model(model).Where(query, args...).Count(&total).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return total
}

func mustHostID(t *testing.T, value string) HostID {
	t.Helper()
	id, err := NewHostID(value)
	if err != nil {
		t.Fatalf("unexpected host id error: %v", err)
	}
	return id
}

func expectKind(t *testing.T, err error, kind Kind, reason string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected service error, got %T: %v", err, err)
	}
	if serviceErr.Kind() != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, serviceErr.Kind(), err)
	}
	if reason != "" && serviceErr.Reason() != reason {
		t.Fatalf("expected reason %s, got %s", reason, serviceErr.Reason())
	}
}
