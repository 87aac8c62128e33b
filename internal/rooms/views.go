package rooms

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opRoomView = "rooms.room_view"

// ViewKind selects which page a room request renders.
type ViewKind string

const (
	// ViewJoin prompts an unidentified visitor of an active room for a display name.
	ViewJoin ViewKind = "join"
	// ViewBallot lists the candidates the participant has not voted on yet.
	ViewBallot ViewKind = "ballot"
	// ViewResults shows the outcome of a finished room.
	ViewResults ViewKind = "results"
)

// Standing is one candidate's aggregate in the results view.
type Standing struct {
	Candidate Candidate
	Total     int
	Ballots   int
}

// ParticipantChoices maps candidate ids to the value a participant cast.
type ParticipantChoices struct {
	DisplayName string
	Choices     map[string]int
}

// Results is the read model of a finished room.
type Results struct {
	Winner       *Candidate
	Standings    []Standing
	Participants []ParticipantChoices
}

// RoomView is the data behind a room page.
type RoomView struct {
	Kind        ViewKind
	Room        Room
	Participant *Participant
	Pending     []Candidate
	Results     *Results
}

// BuildRoomView decides what a visitor holding token sees for roomID.
// Finished rooms always render results; the token is then ignored.
// A token that does not resolve to a participant of the room yields an Unauthorized error.
func (s *Service) BuildRoomView(ctx context.Context, roomID RoomID, token string) (RoomView, error) {
	db := s.db.WithContext(ctx)
	room, err := s.loadRoom(db, roomID)
	if err != nil {
		return RoomView{}, s.classifyRoomLookup(opRoomView, roomID, err)
	}

	if !room.IsActive() {
		results, err := s.buildResults(db, room)
		if err != nil {
			s.logError(opRoomView, "results_failed", err, zap.String("room_id", roomID.String()))
			return RoomView{}, newServiceError(KindInternal, opRoomView, "results_failed", err)
		}
		return RoomView{Kind: ViewResults, Room: room, Results: &results}, nil
	}

	if token == "" {
		return RoomView{Kind: ViewJoin, Room: room}, nil
	}
	participant, err := s.ResolveParticipant(ctx, roomID, token)
	if err != nil {
		return RoomView{}, err
	}

	pending, err := s.pendingCandidates(db, roomID, participant)
	if err != nil {
		s.logError(opRoomView, "pending_failed", err, zap.String("room_id", roomID.String()))
		return RoomView{}, newServiceError(KindInternal, opRoomView, "pending_failed", err)
	}
	return RoomView{Kind: ViewBallot, Room: room, Participant: &participant, Pending: pending}, nil
}

func (s *Service) pendingCandidates(tx *gorm.DB, roomID RoomID, participant Participant) ([]Candidate, error) {
	candidates, err := s.listCandidates(tx, roomID)
	if err != nil {
		return nil, err
	}
	var voted []string
	if err := tx.Model(&Ballot{}).
		Where("participant_id = ?", participant.ParticipantID).
		Pluck("candidate_id", &voted).Error; err != nil {
		return nil, err
	}
	votedSet := make(map[string]struct{}, len(voted))
	for _, candidateID := range voted {
		votedSet[candidateID] = struct{}{}
	}

	pending := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if _, done := votedSet[candidate.CandidateID]; !done {
			pending = append(pending, candidate)
		}
	}
	return pending, nil
}

// buildResults orders standings by the tally ordering; candidates that
// received no ballot follow in room order.
func (s *Service) buildResults(tx *gorm.DB, room Room) (Results, error) {
	roomID := RoomID(room.RoomID)
	candidates, err := s.listCandidates(tx, roomID)
	if err != nil {
		return Results{}, err
	}
	var ballots []Ballot
	if err := tx.Where("room_id = ?", room.RoomID).Find(&ballots).Error; err != nil {
		return Results{}, err
	}
	participants, err := s.listParticipants(tx, roomID)
	if err != nil {
		return Results{}, err
	}

	order := make([]string, 0, len(candidates))
	byID := make(map[string]Candidate, len(candidates))
	for _, candidate := range candidates {
		order = append(order, candidate.CandidateID)
		byID[candidate.CandidateID] = candidate
	}

	results := Results{}
	tally := Tally(order, ballots)
	scored := make(map[string]struct{}, len(tally.Scores))
	for _, score := range tally.Scores {
		scored[score.CandidateID] = struct{}{}
		candidate, ok := byID[score.CandidateID]
		if !ok {
			continue
		}
		results.Standings = append(results.Standings, Standing{Candidate: candidate, Total: score.Total, Ballots: score.Ballots})
	}
	for _, candidate := range candidates {
		if _, ok := scored[candidate.CandidateID]; !ok {
			results.Standings = append(results.Standings, Standing{Candidate: candidate})
		}
	}

	if room.WinningCandidateID != nil {
		if winner, ok := byID[*room.WinningCandidateID]; ok {
			results.Winner = &winner
		} else {
			var winner Candidate
			err := tx.Where("candidate_id = ?", *room.WinningCandidateID).Take(&winner).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return Results{}, err
			}
			if err == nil {
				results.Winner = &winner
			}
		}
	}

	indexByParticipant := make(map[string]int, len(participants))
	for _, participant := range participants {
		indexByParticipant[participant.ParticipantID] = len(results.Participants)
		results.Participants = append(results.Participants, ParticipantChoices{
			DisplayName: participant.DisplayName,
			Choices:     make(map[string]int),
		})
	}
	for _, ballot := range ballots {
		index, ok := indexByParticipant[ballot.ParticipantID]
		if !ok {
			continue
		}
		results.Participants[index].Choices[ballot.CandidateID] = ballot.Value
	}
	return results, nil
}
