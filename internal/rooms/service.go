package rooms

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/tender/internal/catalog"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var noOpLogger = zap.NewNop()

const (
	opServiceNew     = "rooms.service.new"
	opCreateRoom     = "rooms.create_room"
	opGetRoom        = "rooms.get_room"
	opListHostRooms  = "rooms.list_host_rooms"
	opFinalizeRoom   = "rooms.finalize_room"
	opDeleteRoom     = "rooms.delete_room"
)

// CandidateFetcher resolves a location to an ordered list of venues.
// An empty result means no candidates could be found.
type CandidateFetcher interface {
	Fetch(ctx context.Context, location string) []catalog.Venue
}

// CandidateInvalidator is implemented by fetchers that memoize results.
type CandidateInvalidator interface {
	Invalidate(ctx context.Context, location string) error
}

// ServiceConfig describes the dependencies of the room service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Fetcher    CandidateFetcher
	Logger     *zap.Logger
}

// Service owns the room lifecycle, the participant registry and the ballot store.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	fetcher    CandidateFetcher
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(KindInternal, opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(KindInternal, opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Fetcher == nil {
		return nil, newServiceError(KindInternal, opServiceNew, "missing_fetcher", errMissingFetcher)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		fetcher:    cfg.Fetcher,
		logger:     logger,
	}, nil
}

// CreateRoom fetches candidates for location and persists an active room
// referencing them. No room is stored when the fetch yields nothing.
func (s *Service) CreateRoom(ctx context.Context, hostID HostID, location string) (Room, error) {
	if strings.TrimSpace(location) == "" || utf8.RuneCountInString(location) > maxLocationLength {
		return Room{}, newServiceError(KindInvalidInput, opCreateRoom, "invalid_location", nil)
	}

	venues := s.fetcher.Fetch(ctx, location)
	entries := candidatesFromVenues(venues, s.clock().UTC())
	if len(entries) == 0 {
		if len(venues) > 0 {
			s.evictUnusableVenues(ctx, location)
		}
		s.logger.Info("no candidates for location",
			zap.String("host_id", hostID.String()),
			zap.String("location", location))
		return Room{}, newServiceError(KindUpstreamUnavailable, opCreateRoom, "no_candidates", nil)
	}

	roomID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateRoom, "id_generation_failed", err)
		return Room{}, newServiceError(KindInternal, opCreateRoom, "id_generation_failed", err)
	}

	room := Room{
		RoomID:    roomID,
		HostID:    hostID.String(),
		CreatedAt: s.clock().UTC(),
		Status:    RoomStatusActive,
		Location:  location,
	}
	associations := make([]RoomCandidate, 0, len(entries))
	for index, candidate := range entries {
		associations = append(associations, RoomCandidate{
			RoomID:      roomID,
			CandidateID: candidate.CandidateID,
			Position:    index,
		})
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			s.logError(opCreateRoom, "room_insert_failed", err, zap.String("room_id", roomID))
			return newServiceError(KindInternal, opCreateRoom, "room_insert_failed", err)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}},
			DoNothing: true,
		}).Create(&entries).Error; err != nil {
			s.logError(opCreateRoom, "candidate_upsert_failed", err, zap.String("room_id", roomID))
			return newServiceError(KindInternal, opCreateRoom, "candidate_upsert_failed", err)
		}
		if err := tx.Create(&associations).Error; err != nil {
			s.logError(opCreateRoom, "association_insert_failed", err, zap.String("room_id", roomID))
			return newServiceError(KindInternal, opCreateRoom, "association_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Room{}, txErr
	}

	s.logger.Info("room created",
		zap.String("room_id", roomID),
		zap.String("host_id", hostID.String()),
		zap.Int("candidates", len(associations)))
	return room, nil
}

// evictUnusableVenues drops a memoized result whose venues all lacked usable ids.
func (s *Service) evictUnusableVenues(ctx context.Context, location string) {
	invalidator, ok := s.fetcher.(CandidateInvalidator)
	if !ok {
		return
	}
	if err := invalidator.Invalidate(ctx, location); err != nil {
		s.logger.Warn("catalog eviction failed", zap.String("location", location), zap.Error(err))
	}
}

func candidatesFromVenues(venues []catalog.Venue, createdAt time.Time) []Candidate {
	seen := make(map[string]struct{}, len(venues))
	candidates := make([]Candidate, 0, len(venues))
	for _, venue := range venues {
		candidateID, err := NewCandidateID(venue.ID)
		if err != nil {
			continue
		}
		if _, duplicate := seen[candidateID.String()]; duplicate {
			continue
		}
		seen[candidateID.String()] = struct{}{}
		candidates = append(candidates, Candidate{
			CandidateID: candidateID.String(),
			Name:        venue.Name,
			ImageURL:    venue.ImageURL,
			URL:         venue.URL,
			Categories:  append([]string{}, venue.Categories...),
			PriceLevel:  venue.PriceLevel,
			ReviewCount: venue.ReviewCount,
			Rating:      venue.Rating,
			CreatedAt:   createdAt,
		})
	}
	return candidates
}

// GetRoom loads a room by identifier.
func (s *Service) GetRoom(ctx context.Context, roomID RoomID) (Room, error) {
	room, err := s.loadRoom(s.db.WithContext(ctx), roomID)
	if err != nil {
		return Room{}, s.classifyRoomLookup(opGetRoom, roomID, err)
	}
	return room, nil
}

func (s *Service) loadRoom(tx *gorm.DB, roomID RoomID) (Room, error) {
	var room Room
	err := tx.Where("room_id = ?", roomID.String()).Take(&room).Error
	return room, err
}

func (s *Service) classifyRoomLookup(operation string, roomID RoomID, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(KindNotFound, operation, "room_not_found", err)
	}
	s.logError(operation, "room_select_failed", err, zap.String("room_id", roomID.String()))
	return newServiceError(KindInternal, operation, "room_select_failed", err)
}

func (s *Service) listCandidates(tx *gorm.DB, roomID RoomID) ([]Candidate, error) {
	var candidates []Candidate
	err := tx.Model(&Candidate{}).
		Select("candidates.*").
		Joins("JOIN room_candidates ON room_candidates.candidate_id = candidates.candidate_id").
		Where("room_candidates.room_id = ?", roomID.String()).
		Order("room_candidates.position ASC").
		Find(&candidates).Error
	return candidates, err
}

func (s *Service) candidateOrder(tx *gorm.DB, roomID RoomID) ([]string, error) {
	var candidateIDs []string
	err := tx.Model(&RoomCandidate{}).
		Where("room_id = ?", roomID.String()).
		Order("position ASC").
		Pluck("candidate_id", &candidateIDs).Error
	return candidateIDs, err
}

// HostRoomsFilter narrows ListHostRooms. A zero Status matches every status;
// a non-positive Limit returns every room.
type HostRoomsFilter struct {
	Status RoomStatus
	Limit  int
}

// HostRoom is a room summary with the winning candidate's display name resolved.
type HostRoom struct {
	Room       Room
	WinnerName string
}

// ListHostRooms returns a host's rooms, newest first.
func (s *Service) ListHostRooms(ctx context.Context, hostID HostID, filter HostRoomsFilter) ([]HostRoom, error) {
	query := s.db.WithContext(ctx).
		Where("host_id = ?", hostID.String()).
		Order("created_at DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rooms []Room
	if err := query.Find(&rooms).Error; err != nil {
		s.logError(opListHostRooms, "query_failed", err, zap.String("host_id", hostID.String()))
		return nil, newServiceError(KindInternal, opListHostRooms, "query_failed", err)
	}

	winnerIDs := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if room.WinningCandidateID != nil {
			winnerIDs = append(winnerIDs, *room.WinningCandidateID)
		}
	}
	names := make(map[string]string, len(winnerIDs))
	if len(winnerIDs) > 0 {
		var winners []Candidate
		if err := s.db.WithContext(ctx).Where("candidate_id IN ?", winnerIDs).Find(&winners).Error; err != nil {
			s.logError(opListHostRooms, "winner_select_failed", err, zap.String("host_id", hostID.String()))
			return nil, newServiceError(KindInternal, opListHostRooms, "winner_select_failed", err)
		}
		for _, winner := range winners {
			names[winner.CandidateID] = winner.Name
		}
	}

	summaries := make([]HostRoom, 0, len(rooms))
	for _, room := range rooms {
		summary := HostRoom{Room: room}
		if room.WinningCandidateID != nil {
			summary.WinnerName = names[*room.WinningCandidateID]
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// FinalizeResult reports the closed room and its winner, nil when no ballot was cast.
type FinalizeResult struct {
	Room   Room
	Winner *Candidate
	Tally  TallyResult
}

// FinalizeRoom tallies every ballot and closes the room in one transaction.
// Only the owning host may finalize, and only once.
func (s *Service) FinalizeRoom(ctx context.Context, roomID RoomID, hostID HostID) (FinalizeResult, error) {
	var result FinalizeResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := s.loadRoom(tx.Clauses(clause.Locking{Strength: "UPDATE"}), roomID)
		if err != nil {
			return s.classifyRoomLookup(opFinalizeRoom, roomID, err)
		}
		if room.HostID != hostID.String() {
			return newServiceError(KindUnauthorized, opFinalizeRoom, "not_room_host", nil)
		}
		if !room.IsActive() {
			return newServiceError(KindInvalidState, opFinalizeRoom, "room_already_finalized", nil)
		}

		var ballots []Ballot
		if err := tx.Where("room_id = ?", roomID.String()).Find(&ballots).Error; err != nil {
			s.logError(opFinalizeRoom, "ballot_select_failed", err, zap.String("room_id", roomID.String()))
			return newServiceError(KindInternal, opFinalizeRoom, "ballot_select_failed", err)
		}
		order, err := s.candidateOrder(tx, roomID)
		if err != nil {
			s.logError(opFinalizeRoom, "candidate_select_failed", err, zap.String("room_id", roomID.String()))
			return newServiceError(KindInternal, opFinalizeRoom, "candidate_select_failed", err)
		}

		tally := Tally(order, ballots)
		var winnerID *string
		if candidateID, ok := tally.Winner(); ok {
			winnerID = &candidateID
		}
		finalizedAt := s.clock().UTC()

		update := tx.Model(&Room{}).
			Where("room_id = ? AND status = ?", roomID.String(), RoomStatusActive).
			Updates(map[string]any{
				"status":               RoomStatusInactive,
				"winning_candidate_id": winnerID,
				"finalized_at":         finalizedAt,
			})
		if update.Error != nil {
			s.logError(opFinalizeRoom, "room_update_failed", update.Error, zap.String("room_id", roomID.String()))
			return newServiceError(KindInternal, opFinalizeRoom, "room_update_failed", update.Error)
		}
		if update.RowsAffected == 0 {
			return newServiceError(KindInvalidState, opFinalizeRoom, "room_already_finalized", nil)
		}

		room.Status = RoomStatusInactive
		room.WinningCandidateID = winnerID
		room.FinalizedAt = &finalizedAt
		result = FinalizeResult{Room: room, Tally: tally}

		if winnerID != nil {
			var winner Candidate
			if err := tx.Where("candidate_id = ?", *winnerID).Take(&winner).Error; err != nil {
				s.logError(opFinalizeRoom, "winner_select_failed", err, zap.String("room_id", roomID.String()))
				return newServiceError(KindInternal, opFinalizeRoom, "winner_select_failed", err)
			}
			result.Winner = &winner
		}
		return nil
	})
	if txErr != nil {
		return FinalizeResult{}, txErr
	}

	fields := []zap.Field{zap.String("room_id", roomID.String()), zap.Int("ballots", countBallots(result.Tally))}
	if result.Winner != nil {
		fields = append(fields, zap.String("winner_id", result.Winner.CandidateID))
	}
	s.logger.Info("room finalized", fields...)
	return result, nil
}

func countBallots(tally TallyResult) int {
	total := 0
	for _, score := range tally.Scores {
		total += score.Ballots
	}
	return total
}

// DeleteRoom removes a room with its ballots, participants and candidate
// associations. Candidates stay in the catalog.
func (s *Service) DeleteRoom(ctx context.Context, roomID RoomID, hostID HostID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := s.loadRoom(tx.Clauses(clause.Locking{Strength: "UPDATE"}), roomID)
		if err != nil {
			return s.classifyRoomLookup(opDeleteRoom, roomID, err)
		}
		if room.HostID != hostID.String() {
			return newServiceError(KindUnauthorized, opDeleteRoom, "not_room_host", nil)
		}

		steps := []struct {
			reason string
			model  any
		}{
			{reason: "ballot_delete_failed", model: &Ballot{}},
			{reason: "participant_delete_failed", model: &Participant{}},
			{reason: "association_delete_failed", model: &RoomCandidate{}},
			{reason: "room_delete_failed", model: &Room{}},
		}
		for _, step := range steps {
			if err := tx.Where("room_id = ?", roomID.String()).Delete(step.model).Error; err != nil {
				s.logError(opDeleteRoom, step.reason, err, zap.String("room_id", roomID.String()))
				return newServiceError(KindInternal, opDeleteRoom, step.reason, err)
			}
		}

		s.logger.Info("room deleted", zap.String("room_id", roomID.String()), zap.String("host_id", hostID.String()))
		return nil
	})
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("rooms service error", attrs...)
}
