package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/tender/internal/rooms"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type addGuestRequest struct {
	Username string `json:"username" form:"Username"`
	RoomID   string `json:"roomId" form:"RoomID"`
}

type createVoteRequest struct {
	RoomID        string          `json:"roomId"`
	ParticipantID string          `json:"participantId"`
	CandidateID   string          `json:"candidateId"`
	Value         json.RawMessage `json:"value"`
}

type guestDoneRequest struct {
	ParticipantID string `json:"participantId" form:"participantId"`
}

func (h *httpHandler) handleAddGuest(c *gin.Context) {
	var request addGuestRequest
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	roomID, err := rooms.NewRoomID(request.RoomID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
		return
	}

	participant, err := h.rooms.JoinRoom(c.Request.Context(), roomID, request.Username)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.setCookie(c, guestCookieName(roomID), participant.ParticipantID, h.guestCookieMaxAge)
	h.publish(RoomEvent{
		RoomID:      participant.RoomID,
		EventType:   RoomEventParticipantJoined,
		DisplayName: participant.DisplayName,
	})
	c.Redirect(http.StatusSeeOther, roomLink(roomID.String()))
}

// handleCreateVote reports every rejected ballot as 400, whatever its kind.
func (h *httpHandler) handleCreateVote(c *gin.Context) {
	var request createVoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	value, ok := parseVoteValue(request.Value)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_vote_value"})
		return
	}

	ballot, err := h.rooms.CastBallot(c.Request.Context(), rooms.CastBallotInput{
		RoomID:        request.RoomID,
		ParticipantID: request.ParticipantID,
		CandidateID:   request.CandidateID,
		Value:         value,
	})
	if err != nil {
		if rooms.KindOf(err) == rooms.KindInternal {
			h.respondServiceError(c, err)
			return
		}
		h.logger.Info("ballot rejected", zap.String("room_id", request.RoomID), zap.Error(err))
		h.respondServiceErrorWithStatus(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusCreated, newBallotPayload(ballot))
}

// parseVoteValue accepts only a bare JSON integer; strings, fractions and null are rejected.
func parseVoteValue(raw json.RawMessage) (int64, bool) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, false
	}
	value, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func (h *httpHandler) handleSetGuestDone(c *gin.Context) {
	var request guestDoneRequest
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	participantID, err := rooms.NewParticipantID(request.ParticipantID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "participant_not_found"})
		return
	}

	participant, err := h.rooms.MarkParticipantDone(c.Request.Context(), participantID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publish(RoomEvent{
		RoomID:      participant.RoomID,
		EventType:   RoomEventParticipantDone,
		DisplayName: participant.DisplayName,
	})
	c.JSON(http.StatusOK, gin.H{"participantId": participant.ParticipantID, "done": participant.Done})
}

func (h *httpHandler) handleRoomUsers(c *gin.Context) {
	roomID, ok := h.roomIDQuery(c)
	if !ok {
		return
	}
	if _, err := h.rooms.GetRoom(c.Request.Context(), roomID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	participants, err := h.rooms.ListParticipants(c.Request.Context(), roomID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	payload := make([]roomUserPayload, 0, len(participants))
	for _, participant := range participants {
		payload = append(payload, roomUserPayload{DisplayName: participant.DisplayName, Done: participant.Done})
	}
	c.JSON(http.StatusOK, payload)
}
