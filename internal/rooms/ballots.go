package rooms

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opCastBallot  = "rooms.cast_ballot"
	opListBallots = "rooms.list_ballots"
)

// CastBallotInput carries an unvalidated ballot as received from a client.
type CastBallotInput struct {
	RoomID        string
	ParticipantID string
	CandidateID   string
	Value         int64
}

// CastBallot records or overwrites the participant's preference for a candidate.
//
// Checks run in a fixed order: the value, the room (must exist and be active),
// the participant (must belong to the room), then the candidate (must be one of
// the room's candidates). A repeat cast for the same pair replaces the stored
// value and timestamp.
func (s *Service) CastBallot(ctx context.Context, input CastBallotInput) (Ballot, error) {
	value, err := NewVoteValue(input.Value)
	if err != nil {
		return Ballot{}, newServiceError(KindInvalidVote, opCastBallot, "invalid_vote_value", err)
	}
	roomID, err := NewRoomID(input.RoomID)
	if err != nil {
		return Ballot{}, newServiceError(KindInvalidState, opCastBallot, "room_not_found", err)
	}

	var stored Ballot
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := s.loadRoom(tx.Clauses(clause.Locking{Strength: "SHARE"}), roomID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(KindInvalidState, opCastBallot, "room_not_found", err)
		}
		if err != nil {
			s.logError(opCastBallot, "room_select_failed", err, zap.String("room_id", roomID.String()))
			return newServiceError(KindInternal, opCastBallot, "room_select_failed", err)
		}
		if !room.IsActive() {
			return newServiceError(KindInvalidState, opCastBallot, "room_not_active", nil)
		}

		participantID, err := NewParticipantID(input.ParticipantID)
		if err != nil {
			return newServiceError(KindUnauthorized, opCastBallot, "participant_not_in_room", err)
		}
		if _, err := s.participantInRoom(tx, opCastBallot, roomID, participantID); err != nil {
			return err
		}

		candidateID, err := NewCandidateID(input.CandidateID)
		if err != nil {
			return newServiceError(KindInvalidCandidate, opCastBallot, "candidate_not_in_room", err)
		}
		var memberships int64
		if err := tx.Model(&RoomCandidate{}).
			Where("room_id = ? AND candidate_id = ?", roomID.String(), candidateID.String()).
			Count(&memberships).Error; err != nil {
			s.logError(opCastBallot, "membership_select_failed", err, zap.String("room_id", roomID.String()))
			return newServiceError(KindInternal, opCastBallot, "membership_select_failed", err)
		}
		if memberships == 0 {
			return newServiceError(KindInvalidCandidate, opCastBallot, "candidate_not_in_room", nil)
		}

		ballotID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCastBallot, "id_generation_failed", err)
			return newServiceError(KindInternal, opCastBallot, "id_generation_failed", err)
		}
		ballot := Ballot{
			BallotID:      ballotID,
			RoomID:        roomID.String(),
			ParticipantID: participantID.String(),
			CandidateID:   candidateID.String(),
			Value:         value.Int(),
			CastAt:        s.clock().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_id"}, {Name: "candidate_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "cast_at"}),
		}).Create(&ballot).Error; err != nil {
			s.logError(opCastBallot, "ballot_upsert_failed", err,
				zap.String("room_id", roomID.String()),
				zap.String("participant_id", participantID.String()))
			return newServiceError(KindInternal, opCastBallot, "ballot_upsert_failed", err)
		}

		if err := tx.Where("participant_id = ? AND candidate_id = ?", participantID.String(), candidateID.String()).
			Take(&stored).Error; err != nil {
			s.logError(opCastBallot, "ballot_reload_failed", err, zap.String("room_id", roomID.String()))
			return newServiceError(KindInternal, opCastBallot, "ballot_reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Ballot{}, txErr
	}
	return stored, nil
}

// BallotRecord is a ballot joined with the names shown in results.
type BallotRecord struct {
	BallotID        string
	ParticipantID   string
	ParticipantName string
	CandidateID     string
	CandidateName   string
	Value           int
	CastAt          time.Time
}

// ListBallots returns every ballot of a finished room in cast order.
// Ballots of an active room stay sealed.
func (s *Service) ListBallots(ctx context.Context, roomID RoomID) ([]BallotRecord, error) {
	db := s.db.WithContext(ctx)
	room, err := s.loadRoom(db, roomID)
	if err != nil {
		return nil, s.classifyRoomLookup(opListBallots, roomID, err)
	}
	if room.IsActive() {
		return nil, newServiceError(KindInvalidState, opListBallots, "room_still_active", nil)
	}

	records, err := s.ballotRecords(db, roomID)
	if err != nil {
		s.logError(opListBallots, "query_failed", err, zap.String("room_id", roomID.String()))
		return nil, newServiceError(KindInternal, opListBallots, "query_failed", err)
	}
	return records, nil
}

func (s *Service) ballotRecords(tx *gorm.DB, roomID RoomID) ([]BallotRecord, error) {
	var records []BallotRecord
	err := tx.Table("ballots").
		Select("ballots.ballot_id, ballots.participant_id, participants.display_name AS participant_name, " +
			"ballots.candidate_id, candidates.name AS candidate_name, ballots.value, ballots.cast_at").
		Joins("JOIN participants ON participants.participant_id = ballots.participant_id").
		Joins("JOIN candidates ON candidates.candidate_id = ballots.candidate_id").
		Where("ballots.room_id = ?", roomID.String()).
		Order("ballots.cast_at ASC").
		Order("ballots.ballot_id ASC").
		Scan(&records).Error
	return records, err
}
