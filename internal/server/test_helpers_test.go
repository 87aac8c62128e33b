package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tender/internal/auth"
	"github.com/MarcoPoloResearchLab/tender/internal/catalog"
	"github.com/MarcoPoloResearchLab/tender/internal/hosts"
	"github.com/MarcoPoloResearchLab/tender/internal/rooms"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "tender_session"
	testPassword      = "password123"
	testAllowedOrigin = "https://rooms.example.com"
)

type stubFetcher struct {
	results map[string][]catalog.Venue
}

func (f stubFetcher) Fetch(_ context.Context, location string) []catalog.Venue {
	return f.results[location]
}

func testVenues(ids ...string) []catalog.Venue {
	list := make([]catalog.Venue, 0, len(ids))
	for _, id := range ids {
		list = append(list, catalog.Venue{
			ID:         id,
			Name:       "Venue " + id,
			URL:        "https://maps.example/" + id,
			Categories: []string{"restaurant"},
			Rating:     4.2,
		})
	}
	return list
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type testApp struct {
	handler http.Handler
	db      *gorm.DB
	hosts   *hosts.Service
	issuer  *auth.TokenIssuer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:tender_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(append(rooms.Models(), &hosts.Host{})...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	clock := &steppingClock{current: time.Unix(1700000000, 0).UTC()}
	roomService, err := rooms.NewService(rooms.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: rooms.NewUUIDProvider(),
		Fetcher: stubFetcher{results: map[string][]catalog.Venue{
			"Austin": testVenues("a", "b", "c"),
			"Dallas": testVenues("c", "d"),
		}},
	})
	if err != nil {
		t.Fatalf("failed to create room service: %v", err)
	}
	hostService, err := hosts.NewService(hosts.ServiceConfig{
		Database:   db,
		IDProvider: rooms.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create host service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to create session validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		RoomService:       roomService,
		HostDirectory:     hostService,
		SessionIssuer:     issuer,
		SessionValidator:  validator,
		Events:            NewRoomEventDispatcher(),
		Logger:            zap.NewNop(),
		GuestCookieMaxAge: time.Hour,
		HeartbeatInterval: time.Hour,
		AllowedOrigins:    []string{testAllowedOrigin},
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testApp{
		handler: handler,
		db:      db,
		hosts:   hostService,
		issuer:  issuer,
	}
}

func (a *testApp) do(t *testing.T, request *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	a.handler.ServeHTTP(recorder, request)
	return recorder
}

func formRequest(method, path string, values url.Values) *http.Request {
	request := httptest.NewRequest(method, path, strings.NewReader(values.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return request
}

func jsonRequest(method, path, body string) *http.Request {
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	return request
}

// hostSession registers a host and returns its id with a session cookie.
func (a *testApp) hostSession(t *testing.T, email string) (string, *http.Cookie) {
	t.Helper()
	host, err := a.hosts.Register(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("failed to register host: %v", err)
	}
	token, _, err := a.issuer.IssueSessionToken(context.Background(), auth.HostIdentity{ID: host.HostID, Email: host.Email})
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}
	return host.HostID, &http.Cookie{Name: testCookieName, Value: token}
}

func (a *testApp) createRoom(t *testing.T, session *http.Cookie, location string) string {
	t.Helper()
	recorder := a.do(t, formRequest(http.MethodPost, "/create_new_room", url.Values{"location": {location}}), session)
	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect after room creation, got %d: %s", recorder.Code, recorder.Body.String())
	}
	target := recorder.Header().Get("Location")
	if !strings.HasPrefix(target, "/room/") {
		t.Fatalf("unexpected redirect target %q", target)
	}
	return strings.TrimPrefix(target, "/room/")
}

func (a *testApp) joinRoom(t *testing.T, roomID, displayName string) *http.Cookie {
	t.Helper()
	recorder := a.do(t, formRequest(http.MethodPost, "/add_guest_user", url.Values{
		"Username": {displayName},
		"RoomID":   {roomID},
	}))
	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect after join, got %d: %s", recorder.Code, recorder.Body.String())
	}
	cookie := findCookie(recorder, guestCookiePrefix+roomID)
	if cookie == nil || cookie.Value == "" {
		t.Fatalf("expected guest cookie for room %s", roomID)
	}
	return cookie
}

func findCookie(recorder *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	body, err := io.ReadAll(recorder.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		t.Fatalf("failed to decode response %q: %v", string(body), err)
	}
}

func voteBody(roomID, participantID, candidateID string, value int) string {
	return fmt.Sprintf(`{"roomId":%q,"participantId":%q,"candidateId":%q,"value":%d}`, roomID, participantID, candidateID, value)
}
