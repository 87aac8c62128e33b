package rooms

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RoomStatus enumerates the lifecycle states of a room.
type RoomStatus string

const (
	// RoomStatusActive accepts participants and ballots.
	RoomStatusActive RoomStatus = "active"
	// RoomStatusInactive is terminal; the room only serves results.
	RoomStatusInactive RoomStatus = "inactive"
)

const (
	maxIdentifierLength  = 190
	maxCandidateIDLength = 255
	maxLocationLength    = 150
	maxDisplayNameLength = 150
)

var (
	// ErrInvalidRoomID indicates that a room identifier is empty or exceeds storage bounds.
	ErrInvalidRoomID = errors.New("rooms: invalid room id")
	// ErrInvalidHostID indicates that a host identifier is empty or exceeds storage bounds.
	ErrInvalidHostID = errors.New("rooms: invalid host id")
	// ErrInvalidParticipantID indicates that a participant identifier is empty or exceeds storage bounds.
	ErrInvalidParticipantID = errors.New("rooms: invalid participant id")
	// ErrInvalidCandidateID indicates that a candidate identifier is empty or exceeds storage bounds.
	ErrInvalidCandidateID = errors.New("rooms: invalid candidate id")
	// ErrInvalidVoteValue indicates a preference outside {-1, 0, +1}.
	ErrInvalidVoteValue = errors.New("rooms: invalid vote value")
)

func parseIdentifier(rawInput string, limit int, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > limit {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, limit)
	}
	return trimmed, nil
}

// RoomID represents a validated room identifier.
type RoomID string

// NewRoomID validates raw input and returns a RoomID.
func NewRoomID(rawInput string) (RoomID, error) {
	value, err := parseIdentifier(rawInput, maxIdentifierLength, ErrInvalidRoomID)
	return RoomID(value), err
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}

// HostID represents the authenticated account that owns rooms.
type HostID string

// NewHostID validates raw input and returns a HostID.
func NewHostID(rawInput string) (HostID, error) {
	value, err := parseIdentifier(rawInput, maxIdentifierLength, ErrInvalidHostID)
	return HostID(value), err
}

// String returns the underlying string identifier.
func (id HostID) String() string {
	return string(id)
}

// ParticipantID represents a validated participant identifier.
type ParticipantID string

// NewParticipantID validates raw input and returns a ParticipantID.
func NewParticipantID(rawInput string) (ParticipantID, error) {
	value, err := parseIdentifier(rawInput, maxIdentifierLength, ErrInvalidParticipantID)
	return ParticipantID(value), err
}

// String returns the underlying string identifier.
func (id ParticipantID) String() string {
	return string(id)
}

// CandidateID represents a provider-assigned venue identifier.
type CandidateID string

// NewCandidateID validates raw input and returns a CandidateID.
func NewCandidateID(rawInput string) (CandidateID, error) {
	value, err := parseIdentifier(rawInput, maxCandidateIDLength, ErrInvalidCandidateID)
	return CandidateID(value), err
}

// String returns the underlying string identifier.
func (id CandidateID) String() string {
	return string(id)
}

// VoteValue is a signed preference: -1 (no), 0 (indifferent), +1 (yes).
type VoteValue int

// NewVoteValue validates the value and returns a VoteValue.
func NewVoteValue(value int64) (VoteValue, error) {
	if value < -1 || value > 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidVoteValue, value)
	}
	return VoteValue(value), nil
}

// Int returns the raw preference.
func (v VoteValue) Int() int {
	return int(v)
}

// Room is one voting session owned by a host.
type Room struct {
	RoomID             string     `gorm:"column:room_id;primaryKey;size:190;not null"`
	HostID             string     `gorm:"column:host_id;size:190;not null;index:idx_rooms_host_created,priority:1"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null;index:idx_rooms_host_created,priority:2"`
	Status             RoomStatus `gorm:"column:status;size:16;not null;default:active"`
	Location           string     `gorm:"column:location;size:150;not null"`
	WinningCandidateID *string    `gorm:"column:winning_candidate_id;size:255"`
	FinalizedAt        *time.Time `gorm:"column:finalized_at"`
}

// TableName provides the explicit table binding for GORM.
func (Room) TableName() string {
	return "rooms"
}

// IsActive reports whether the room still accepts ballots.
func (r Room) IsActive() bool {
	return r.Status == RoomStatusActive
}

// Candidate is a venue shared across every room that surfaced it.
type Candidate struct {
	CandidateID string    `gorm:"column:candidate_id;primaryKey;size:255;not null"`
	Name        string    `gorm:"column:name;size:200;not null"`
	ImageURL    string    `gorm:"column:image_url;size:500"`
	URL         string    `gorm:"column:url;size:500"`
	Categories  []string  `gorm:"column:categories;type:text;serializer:json"`
	PriceLevel  *int      `gorm:"column:price_level"`
	ReviewCount int       `gorm:"column:review_count;not null;default:0"`
	Rating      float64   `gorm:"column:rating;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Candidate) TableName() string {
	return "candidates"
}

// RoomCandidate associates a candidate with a room; Position keeps provider order.
type RoomCandidate struct {
	RoomID      string `gorm:"column:room_id;primaryKey;size:190;not null"`
	CandidateID string `gorm:"column:candidate_id;primaryKey;size:255;not null;index"`
	Position    int    `gorm:"column:position;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RoomCandidate) TableName() string {
	return "room_candidates"
}

// Participant is an anonymous voter scoped to a single room.
type Participant struct {
	ParticipantID string    `gorm:"column:participant_id;primaryKey;size:190;not null"`
	RoomID        string    `gorm:"column:room_id;size:190;not null;index"`
	DisplayName   string    `gorm:"column:display_name;size:150;not null"`
	Done          bool      `gorm:"column:done;not null;default:false"`
	JoinedAt      time.Time `gorm:"column:joined_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Participant) TableName() string {
	return "participants"
}

// Ballot is one participant's preference for one candidate.
type Ballot struct {
	BallotID      string    `gorm:"column:ballot_id;primaryKey;size:190;not null"`
	RoomID        string    `gorm:"column:room_id;size:190;not null;index"`
	ParticipantID string    `gorm:"column:participant_id;size:190;not null;uniqueIndex:idx_ballots_participant_candidate,priority:1"`
	CandidateID   string    `gorm:"column:candidate_id;size:255;not null;uniqueIndex:idx_ballots_participant_candidate,priority:2"`
	Value         int       `gorm:"column:value;not null"`
	CastAt        time.Time `gorm:"column:cast_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Ballot) TableName() string {
	return "ballots"
}

// Models lists every table owned by this package, in dependency order.
func Models() []any {
	return []any{&Room{}, &Candidate{}, &RoomCandidate{}, &Participant{}, &Ballot{}}
}
