package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/tender/internal/auth"
	"github.com/MarcoPoloResearchLab/tender/internal/hosts"
	"github.com/MarcoPoloResearchLab/tender/internal/rooms"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type credentialsPayload struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type sessionPayload struct {
	HostID    string `json:"hostId"`
	Email     string `json:"email"`
	ExpiresAt string `json:"expiresAt"`
	TokenType string `json:"tokenType"`
	Token     string `json:"accessToken"`
}

type profilePayload struct {
	HostID      string        `json:"hostId"`
	Email       string        `json:"email"`
	CreatedAt   string        `json:"createdAt"`
	LastLoginAt *string       `json:"lastLoginAt,omitempty"`
	Rooms       []roomPayload `json:"rooms"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	host, err := h.hosts.Register(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		switch {
		case errors.Is(err, hosts.ErrInvalidEmail):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
		case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrPasswordTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_password"})
		case errors.Is(err, hosts.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		default:
			h.logger.Error("host registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		}
		return
	}
	h.startSession(c, host, http.StatusCreated)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	host, err := h.hosts.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, hosts.ErrInvalidCredentials) {
			h.logger.Info("host login rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			return
		}
		h.logger.Error("host login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}
	h.startSession(c, host, http.StatusOK)
}

func (h *httpHandler) startSession(c *gin.Context, host hosts.Host, status int) {
	token, expiresAt, err := h.issuer.IssueSessionToken(c.Request.Context(), auth.HostIdentity{ID: host.HostID, Email: host.Email})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	h.setCookie(c, h.sessions.CookieName(), token, h.issuer.TTL())
	c.JSON(status, sessionPayload{
		HostID:    host.HostID,
		Email:     host.Email,
		ExpiresAt: formatTime(expiresAt),
		TokenType: "Bearer",
		Token:     token,
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.clearCookie(c, h.sessions.CookieName())
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	hostID, ok := h.currentHost(c)
	if !ok {
		return
	}
	host, err := h.hosts.Get(c.Request.Context(), hostID.String())
	if err != nil {
		if errors.Is(err, hosts.ErrHostNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("host lookup failed", zap.String("host_id", hostID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_failed"})
		return
	}
	summaries, err := h.rooms.ListHostRooms(c.Request.Context(), hostID, rooms.HostRoomsFilter{})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payload := profilePayload{
		HostID:    host.HostID,
		Email:     host.Email,
		CreatedAt: formatTime(host.CreatedAt),
		Rooms:     newRoomPayloads(summaries),
	}
	if host.LastLoginAt != nil {
		lastLogin := formatTime(*host.LastLoginAt)
		payload.LastLoginAt = &lastLogin
	}
	c.JSON(http.StatusOK, payload)
}

type updateEmailPayload struct {
	Email string `json:"email" form:"email"`
}

func (h *httpHandler) handleUpdateEmail(c *gin.Context) {
	hostID, ok := h.currentHost(c)
	if !ok {
		return
	}
	var request updateEmailPayload
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	host, err := h.hosts.UpdateEmail(c.Request.Context(), hostID.String(), request.Email)
	if err != nil {
		switch {
		case errors.Is(err, hosts.ErrInvalidEmail):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
		case errors.Is(err, hosts.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		case errors.Is(err, hosts.ErrHostNotFound):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		default:
			h.logger.Error("host email update failed", zap.String("host_id", hostID.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update_email_failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"hostId": host.HostID, "email": host.Email})
}
