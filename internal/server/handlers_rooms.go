package server

import (
	"net/http"
	"net/url"

	"github.com/MarcoPoloResearchLab/tender/internal/rooms"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createRoomRequest struct {
	Location string `json:"location" form:"location"`
}

type finalizeRoomRequest struct {
	RoomID string `json:"roomId" form:"roomId"`
}

type finalizeRoomResponse struct {
	RoomID   string            `json:"roomId"`
	Status   string            `json:"status"`
	Winner   *string           `json:"winner"`
	WinnerID *string           `json:"winnerId"`
	Scores   []scorePayload    `json:"scores"`
	Room     roomPayload       `json:"room"`
	Details  *candidatePayload `json:"winnerDetails,omitempty"`
}

type scorePayload struct {
	CandidateID string `json:"candidateId"`
	Total       int    `json:"total"`
	Ballots     int    `json:"ballots"`
}

type roomListResponse struct {
	Active   []roomPayload `json:"active"`
	Inactive []roomPayload `json:"inactive"`
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	hostID, ok := h.currentHost(c)
	if !ok {
		return
	}
	var request createRoomRequest
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), hostID, request.Location)
	if err != nil {
		if rooms.KindOf(err) == rooms.KindUpstreamUnavailable {
			h.logger.Warn("room creation aborted without candidates",
				zap.String("host_id", hostID.String()),
				zap.String("location", request.Location))
		}
		h.respondServiceError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, roomLink(room.RoomID))
}

func (h *httpHandler) handleRoomView(c *gin.Context) {
	roomID, ok := h.roomIDParam(c)
	if !ok {
		return
	}
	cookieName := guestCookieName(roomID)
	token, _ := c.Cookie(cookieName)

	view, err := h.rooms.BuildRoomView(c.Request.Context(), roomID, token)
	if err != nil {
		if token != "" && rooms.KindOf(err) == rooms.KindUnauthorized {
			h.logger.Info("stale participant token cleared", zap.String("room_id", roomID.String()))
			h.clearCookie(c, cookieName)
			target := roomLink(roomID.String()) + "?" + url.Values{"notice": {noticeSessionReset}}.Encode()
			c.Redirect(http.StatusSeeOther, target)
			return
		}
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRoomViewPayload(view, h.optionalHost(c), c.Query("notice")))
}

func (h *httpHandler) handleRoomStatus(c *gin.Context) {
	roomID, ok := h.roomIDQuery(c)
	if !ok {
		return
	}
	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": room.RoomID, "status": room.Status})
}

func (h *httpHandler) handleRoomVotes(c *gin.Context) {
	roomID, ok := h.roomIDQuery(c)
	if !ok {
		return
	}
	records, err := h.rooms.ListBallots(c.Request.Context(), roomID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBallotRecordPayloads(records))
}

// handleFinalizeRoom answers 403 for a missing room as well as for a foreign one.
func (h *httpHandler) handleFinalizeRoom(c *gin.Context) {
	hostID, ok := h.currentHost(c)
	if !ok {
		return
	}
	var request finalizeRoomRequest
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_room_host"})
		return
	}
	roomID, err := rooms.NewRoomID(request.RoomID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_room_host"})
		return
	}

	result, err := h.rooms.FinalizeRoom(c.Request.Context(), roomID, hostID)
	if err != nil {
		switch rooms.KindOf(err) {
		case rooms.KindNotFound, rooms.KindUnauthorized:
			h.logger.Info("finalize rejected", zap.String("room_id", roomID.String()), zap.String("host_id", hostID.String()))
			h.respondServiceErrorWithStatus(c, err, http.StatusForbidden)
		default:
			h.respondServiceError(c, err)
		}
		return
	}

	response := finalizeRoomResponse{
		RoomID:   result.Room.RoomID,
		Status:   string(result.Room.Status),
		WinnerID: result.Room.WinningCandidateID,
		Scores:   make([]scorePayload, 0, len(result.Tally.Scores)),
	}
	winnerName := ""
	if result.Winner != nil {
		winnerName = result.Winner.Name
		response.Winner = &winnerName
		details := newCandidatePayload(*result.Winner)
		response.Details = &details
	}
	for _, score := range result.Tally.Scores {
		response.Scores = append(response.Scores, scorePayload{
			CandidateID: score.CandidateID,
			Total:       score.Total,
			Ballots:     score.Ballots,
		})
	}
	response.Room = newRoomPayload(result.Room, winnerName)

	h.publish(RoomEvent{
		RoomID:     result.Room.RoomID,
		EventType:  RoomEventRoomFinalized,
		WinnerName: winnerName,
	})
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleDeleteRoom(c *gin.Context) {
	hostID, ok := h.currentHost(c)
	if !ok {
		return
	}
	roomID, ok := h.roomIDParam(c)
	if !ok {
		return
	}
	if err := h.rooms.DeleteRoom(c.Request.Context(), roomID, hostID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUserRooms(c *gin.Context) {
	hostID, ok := h.currentHost(c)
	if !ok {
		return
	}
	summaries, err := h.rooms.ListHostRooms(c.Request.Context(), hostID, rooms.HostRoomsFilter{})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRoomPayloads(summaries))
}

func (h *httpHandler) handleRoomList(c *gin.Context) {
	hostID, ok := h.currentHost(c)
	if !ok {
		return
	}
	active, err := h.rooms.ListHostRooms(c.Request.Context(), hostID, rooms.HostRoomsFilter{
		Status: rooms.RoomStatusActive,
		Limit:  roomListLimit,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	inactive, err := h.rooms.ListHostRooms(c.Request.Context(), hostID, rooms.HostRoomsFilter{
		Status: rooms.RoomStatusInactive,
		Limit:  roomListLimit,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, roomListResponse{
		Active:   newRoomPayloads(active),
		Inactive: newRoomPayloads(inactive),
	})
}
