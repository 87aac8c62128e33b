package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tender/internal/auth"
	"github.com/MarcoPoloResearchLab/tender/internal/catalog"
	"github.com/MarcoPoloResearchLab/tender/internal/hosts"
	"github.com/MarcoPoloResearchLab/tender/internal/rooms"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	hostIDContextKey      = "tender_host_id"
	guestCookiePrefix     = "guest_user_id_"
	defaultGuestCookieAge = 7 * 24 * time.Hour
	noticeSessionReset    = "session_reset"
	roomListLimit         = 10
)

var (
	errMissingRoomService      = errors.New("room service dependency required")
	errMissingHostDirectory    = errors.New("host directory dependency required")
	errMissingSessionIssuer    = errors.New("session issuer dependency required")
	errMissingSessionValidator = errors.New("session validator dependency required")
)

// HostDirectory registers and authenticates host accounts.
type HostDirectory interface {
	Register(ctx context.Context, email, password string) (hosts.Host, error)
	Authenticate(ctx context.Context, email, password string) (hosts.Host, error)
	Get(ctx context.Context, hostID string) (hosts.Host, error)
	UpdateEmail(ctx context.Context, hostID, email string) (hosts.Host, error)
}

// SessionIssuer mints host session tokens.
type SessionIssuer interface {
	IssueSessionToken(ctx context.Context, host auth.HostIdentity) (string, time.Time, error)
	TTL() time.Duration
}

// SessionValidator extracts a host session from a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

// PhotoSource streams venue photos from the catalog provider.
type PhotoSource interface {
	Photo(ctx context.Context, reference string) (catalog.Photo, error)
}

type Dependencies struct {
	RoomService       *rooms.Service
	HostDirectory     HostDirectory
	SessionIssuer     SessionIssuer
	SessionValidator  SessionValidator
	Events            *RoomEventDispatcher
	Photos            PhotoSource
	Logger            *zap.Logger
	GuestCookieMaxAge time.Duration
	HeartbeatInterval time.Duration
	AllowedOrigins    []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.RoomService == nil {
		return nil, errMissingRoomService
	}
	if deps.HostDirectory == nil {
		return nil, errMissingHostDirectory
	}
	if deps.SessionIssuer == nil {
		return nil, errMissingSessionIssuer
	}
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewRoomEventDispatcher()
	}
	guestCookieMaxAge := deps.GuestCookieMaxAge
	if guestCookieMaxAge <= 0 {
		guestCookieMaxAge = defaultGuestCookieAge
	}
	heartbeatInterval := deps.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		rooms:             deps.RoomService,
		hosts:             deps.HostDirectory,
		issuer:            deps.SessionIssuer,
		sessions:          deps.SessionValidator,
		events:            events,
		photos:            deps.Photos,
		logger:            logger,
		guestCookieMaxAge: guestCookieMaxAge,
		heartbeatInterval: heartbeatInterval,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/logout", handler.handleLogout)

	router.GET("/room/:roomId", handler.handleRoomView)
	router.GET("/room/:roomId/events", handler.handleRoomEvents)
	router.POST("/add_guest_user", handler.handleAddGuest)
	router.POST("/create_vote", handler.handleCreateVote)
	router.POST("/set_guest_done", handler.handleSetGuestDone)
	router.GET("/get_room_users", handler.handleRoomUsers)
	router.GET("/get_room_status", handler.handleRoomStatus)
	router.GET("/get_room_votes", handler.handleRoomVotes)
	router.GET(catalog.PhotoPathPrefix+":reference", handler.handlePhoto)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/profile", handler.handleProfile)
	protected.POST("/update_email", handler.handleUpdateEmail)
	protected.POST("/create_new_room", handler.handleCreateRoom)
	protected.POST("/finalize_room", handler.handleFinalizeRoom)
	protected.DELETE("/room/:roomId", handler.handleDeleteRoom)
	protected.GET("/get_user_rooms", handler.handleUserRooms)
	protected.GET("/rooms", handler.handleRoomList)

	return router, nil
}

type httpHandler struct {
	rooms             *rooms.Service
	hosts             HostDirectory
	issuer            SessionIssuer
	sessions          SessionValidator
	events            *RoomEventDispatcher
	photos            PhotoSource
	logger            *zap.Logger
	guestCookieMaxAge time.Duration
	heartbeatInterval time.Duration
}

// corsMiddleware admits only the listed origins. Same-origin requests never reach the check.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			allowed[strings.ToLower(origin)] = struct{}{}
		}
	}
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			_, ok := allowed[strings.ToLower(origin)]
			return ok
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(started)),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("http request", fields...)
			return
		}
		logger.Info("http request", fields...)
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(hostIDContextKey, claims.HostID)
	c.Next()
}

// currentHost reads the host stored by authorizeRequest.
func (h *httpHandler) currentHost(c *gin.Context) (rooms.HostID, bool) {
	hostID, err := rooms.NewHostID(c.GetString(hostIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return hostID, true
}

// optionalHost reports the signed-in host on public routes; failures are silent.
func (h *httpHandler) optionalHost(c *gin.Context) string {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		return ""
	}
	return claims.HostID
}

func (h *httpHandler) roomIDParam(c *gin.Context) (rooms.RoomID, bool) {
	roomID, err := rooms.NewRoomID(c.Param("roomId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
		return "", false
	}
	return roomID, true
}

// roomIDQuery accepts both roomId and the legacy RoomID query parameter.
func (h *httpHandler) roomIDQuery(c *gin.Context) (rooms.RoomID, bool) {
	raw := c.Query("roomId")
	if strings.TrimSpace(raw) == "" {
		raw = c.Query("RoomID")
	}
	roomID, err := rooms.NewRoomID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
		return "", false
	}
	return roomID, true
}

func statusForKind(kind rooms.Kind) int {
	switch kind {
	case rooms.KindNotFound:
		return http.StatusNotFound
	case rooms.KindUnauthorized:
		return http.StatusForbidden
	case rooms.KindInvalidVote, rooms.KindInvalidCandidate, rooms.KindInvalidInput:
		return http.StatusBadRequest
	case rooms.KindInvalidState:
		return http.StatusConflict
	case rooms.KindUpstreamUnavailable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	h.respondServiceErrorWithStatus(c, err, statusForKind(rooms.KindOf(err)))
}

func (h *httpHandler) respondServiceErrorWithStatus(c *gin.Context, err error, status int) {
	var serviceErr *rooms.ServiceError
	if !errors.As(err, &serviceErr) {
		h.logger.Error("unclassified service failure", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if serviceErr.Kind() == rooms.KindInternal {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": serviceErr.Code()})
		return
	}
	c.JSON(status, gin.H{"error": serviceErr.Reason(), "code": serviceErr.Code()})
}

func guestCookieName(roomID rooms.RoomID) string {
	return guestCookiePrefix + roomID.String()
}

func (h *httpHandler) setCookie(c *gin.Context, name, value string, maxAge time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, int(maxAge.Seconds()), "/", "", c.Request.TLS != nil, true)
}

func (h *httpHandler) clearCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", c.Request.TLS != nil, true)
}
