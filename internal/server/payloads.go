package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/tender/internal/rooms"
)

type roomPayload struct {
	RoomID             string  `json:"roomId"`
	Location           string  `json:"location"`
	Status             string  `json:"status"`
	CreatedAt          string  `json:"createdAt"`
	FinalizedAt        *string `json:"finalizedAt,omitempty"`
	WinningCandidateID *string `json:"winningCandidateId"`
	WinnerName         string  `json:"winnerName,omitempty"`
	Link               string  `json:"link"`
}

type candidatePayload struct {
	CandidateID string   `json:"candidateId"`
	Name        string   `json:"name"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	URL         string   `json:"url,omitempty"`
	Categories  []string `json:"categories"`
	PriceLevel  *int     `json:"priceLevel,omitempty"`
	ReviewCount int      `json:"reviewCount"`
	Rating      float64  `json:"rating"`
}

type participantPayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Done          bool   `json:"done"`
}

// roomUserPayload omits the participant id; ids double as voting credentials.
type roomUserPayload struct {
	DisplayName string `json:"displayName"`
	Done        bool   `json:"done"`
}

type standingPayload struct {
	Candidate candidatePayload `json:"candidate"`
	Total     int              `json:"total"`
	Ballots   int              `json:"ballots"`
}

type participantChoicesPayload struct {
	DisplayName string         `json:"displayName"`
	Choices     map[string]int `json:"choices"`
}

type resultsPayload struct {
	Winner       *candidatePayload           `json:"winner"`
	Standings    []standingPayload           `json:"standings"`
	Participants []participantChoicesPayload `json:"participants"`
}

type roomViewPayload struct {
	View        string              `json:"view"`
	Room        roomPayload         `json:"room"`
	IsHost      bool                `json:"isHost"`
	Notice      string              `json:"notice,omitempty"`
	Participant *participantPayload `json:"participant,omitempty"`
	Pending     *[]candidatePayload `json:"pending,omitempty"`
	Results     *resultsPayload     `json:"results,omitempty"`
}

type ballotPayload struct {
	BallotID        string `json:"ballotId"`
	ParticipantName string `json:"participantName,omitempty"`
	CandidateID     string `json:"candidateId"`
	CandidateName   string `json:"candidateName,omitempty"`
	Value           int    `json:"value"`
	CastAt          string `json:"castAt"`
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}

func roomLink(roomID string) string {
	return "/room/" + roomID
}

func newRoomPayload(room rooms.Room, winnerName string) roomPayload {
	payload := roomPayload{
		RoomID:             room.RoomID,
		Location:           room.Location,
		Status:             string(room.Status),
		CreatedAt:          formatTime(room.CreatedAt),
		WinningCandidateID: room.WinningCandidateID,
		WinnerName:         winnerName,
		Link:               roomLink(room.RoomID),
	}
	if room.FinalizedAt != nil {
		finalized := formatTime(*room.FinalizedAt)
		payload.FinalizedAt = &finalized
	}
	return payload
}

func newRoomPayloads(summaries []rooms.HostRoom) []roomPayload {
	payloads := make([]roomPayload, 0, len(summaries))
	for _, summary := range summaries {
		payloads = append(payloads, newRoomPayload(summary.Room, summary.WinnerName))
	}
	return payloads
}

func newCandidatePayload(candidate rooms.Candidate) candidatePayload {
	categories := candidate.Categories
	if categories == nil {
		categories = []string{}
	}
	return candidatePayload{
		CandidateID: candidate.CandidateID,
		Name:        candidate.Name,
		ImageURL:    candidate.ImageURL,
		URL:         candidate.URL,
		Categories:  categories,
		PriceLevel:  candidate.PriceLevel,
		ReviewCount: candidate.ReviewCount,
		Rating:      candidate.Rating,
	}
}

func newCandidatePayloads(candidates []rooms.Candidate) []candidatePayload {
	payloads := make([]candidatePayload, 0, len(candidates))
	for _, candidate := range candidates {
		payloads = append(payloads, newCandidatePayload(candidate))
	}
	return payloads
}

func newResultsPayload(results rooms.Results) *resultsPayload {
	payload := &resultsPayload{
		Standings:    make([]standingPayload, 0, len(results.Standings)),
		Participants: make([]participantChoicesPayload, 0, len(results.Participants)),
	}
	if results.Winner != nil {
		winner := newCandidatePayload(*results.Winner)
		payload.Winner = &winner
	}
	for _, standing := range results.Standings {
		payload.Standings = append(payload.Standings, standingPayload{
			Candidate: newCandidatePayload(standing.Candidate),
			Total:     standing.Total,
			Ballots:   standing.Ballots,
		})
	}
	for _, participant := range results.Participants {
		payload.Participants = append(payload.Participants, participantChoicesPayload{
			DisplayName: participant.DisplayName,
			Choices:     participant.Choices,
		})
	}
	return payload
}

func newRoomViewPayload(view rooms.RoomView, hostID, notice string) roomViewPayload {
	winnerName := ""
	if view.Results != nil && view.Results.Winner != nil {
		winnerName = view.Results.Winner.Name
	}
	payload := roomViewPayload{
		View:   string(view.Kind),
		Room:   newRoomPayload(view.Room, winnerName),
		IsHost: hostID != "" && hostID == view.Room.HostID,
	}
	if view.Kind == rooms.ViewJoin {
		payload.Notice = notice
	}
	if view.Participant != nil {
		payload.Participant = &participantPayload{
			ParticipantID: view.Participant.ParticipantID,
			DisplayName:   view.Participant.DisplayName,
			Done:          view.Participant.Done,
		}
	}
	if view.Kind == rooms.ViewBallot {
		pending := newCandidatePayloads(view.Pending)
		payload.Pending = &pending
	}
	if view.Results != nil {
		payload.Results = newResultsPayload(*view.Results)
	}
	return payload
}

func newBallotPayload(ballot rooms.Ballot) ballotPayload {
	return ballotPayload{
		BallotID:    ballot.BallotID,
		CandidateID: ballot.CandidateID,
		Value:       ballot.Value,
		CastAt:      formatTime(ballot.CastAt),
	}
}

func newBallotRecordPayloads(records []rooms.BallotRecord) []ballotPayload {
	payloads := make([]ballotPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, ballotPayload{
			BallotID:        record.BallotID,
			ParticipantName: record.ParticipantName,
			CandidateID:     record.CandidateID,
			CandidateName:   record.CandidateName,
			Value:           record.Value,
			CastAt:          formatTime(record.CastAt),
		})
	}
	return payloads
}
