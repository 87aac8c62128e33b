package rooms

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opJoinRoom           = "rooms.join_room"
	opResolveParticipant = "rooms.resolve_participant"
	opMarkDone           = "rooms.mark_participant_done"
	opListParticipants   = "rooms.list_participants"
)

// JoinRoom registers a participant under displayName. Joining a finished room
// succeeds but the participant can no longer cast ballots there.
func (s *Service) JoinRoom(ctx context.Context, roomID RoomID, displayName string) (Participant, error) {
	name := strings.TrimSpace(displayName)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLength {
		return Participant{}, newServiceError(KindInvalidInput, opJoinRoom, "invalid_display_name", nil)
	}

	db := s.db.WithContext(ctx)
	if _, err := s.loadRoom(db, roomID); err != nil {
		return Participant{}, s.classifyRoomLookup(opJoinRoom, roomID, err)
	}

	participantID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opJoinRoom, "id_generation_failed", err)
		return Participant{}, newServiceError(KindInternal, opJoinRoom, "id_generation_failed", err)
	}
	participant := Participant{
		ParticipantID: participantID,
		RoomID:        roomID.String(),
		DisplayName:   name,
		JoinedAt:      s.clock().UTC(),
	}
	if err := db.Create(&participant).Error; err != nil {
		s.logError(opJoinRoom, "participant_insert_failed", err, zap.String("room_id", roomID.String()))
		return Participant{}, newServiceError(KindInternal, opJoinRoom, "participant_insert_failed", err)
	}

	s.logger.Info("participant joined", zap.String("room_id", roomID.String()), zap.String("participant_id", participantID))
	return participant, nil
}

// ResolveParticipant turns a room-scoped token into the participant it names.
// Tokens that are empty, unknown or issued for another room are rejected as Unauthorized.
func (s *Service) ResolveParticipant(ctx context.Context, roomID RoomID, token string) (Participant, error) {
	participantID, err := NewParticipantID(token)
	if err != nil {
		return Participant{}, newServiceError(KindUnauthorized, opResolveParticipant, "invalid_participant_token", err)
	}
	return s.participantInRoom(s.db.WithContext(ctx), opResolveParticipant, roomID, participantID)
}

func (s *Service) participantInRoom(tx *gorm.DB, operation string, roomID RoomID, participantID ParticipantID) (Participant, error) {
	var participant Participant
	err := tx.Where("participant_id = ?", participantID.String()).Take(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Participant{}, newServiceError(KindUnauthorized, operation, "participant_not_in_room", err)
	}
	if err != nil {
		s.logError(operation, "participant_select_failed", err, zap.String("participant_id", participantID.String()))
		return Participant{}, newServiceError(KindInternal, operation, "participant_select_failed", err)
	}
	if participant.RoomID != roomID.String() {
		return Participant{}, newServiceError(KindUnauthorized, operation, "participant_not_in_room", nil)
	}
	return participant, nil
}

// MarkParticipantDone sets the participant's done flag.
func (s *Service) MarkParticipantDone(ctx context.Context, participantID ParticipantID) (Participant, error) {
	var participant Participant
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("participant_id = ?", participantID.String()).Take(&participant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(KindNotFound, opMarkDone, "participant_not_found", err)
		}
		if err != nil {
			s.logError(opMarkDone, "participant_select_failed", err, zap.String("participant_id", participantID.String()))
			return newServiceError(KindInternal, opMarkDone, "participant_select_failed", err)
		}
		if participant.Done {
			return nil
		}
		if err := tx.Model(&Participant{}).
			Where("participant_id = ?", participantID.String()).
			Update("done", true).Error; err != nil {
			s.logError(opMarkDone, "participant_update_failed", err, zap.String("participant_id", participantID.String()))
			return newServiceError(KindInternal, opMarkDone, "participant_update_failed", err)
		}
		participant.Done = true
		return nil
	})
	if txErr != nil {
		return Participant{}, txErr
	}
	return participant, nil
}

// ListParticipants returns a room's participants in join order.
func (s *Service) ListParticipants(ctx context.Context, roomID RoomID) ([]Participant, error) {
	participants, err := s.listParticipants(s.db.WithContext(ctx), roomID)
	if err != nil {
		s.logError(opListParticipants, "query_failed", err, zap.String("room_id", roomID.String()))
		return nil, newServiceError(KindInternal, opListParticipants, "query_failed", err)
	}
	return participants, nil
}

func (s *Service) listParticipants(tx *gorm.DB, roomID RoomID) ([]Participant, error) {
	var participants []Participant
	err := tx.Where("room_id = ?", roomID.String()).
		Order("joined_at ASC").
		Order("participant_id ASC").
		Find(&participants).Error
	return participants, err
}
