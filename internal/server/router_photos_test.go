package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/tender/internal/catalog"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type stubPhotoSource struct {
	photos    map[string]string
	err       error
	requested []string
}

func (s *stubPhotoSource) Photo(_ context.Context, reference string) (catalog.Photo, error) {
	s.requested = append(s.requested, reference)
	if s.err != nil {
		return catalog.Photo{}, s.err
	}
	body, ok := s.photos[reference]
	if !ok {
		return catalog.Photo{}, catalog.ErrPhotoNotFound
	}
	return catalog.Photo{
		Body:        io.NopCloser(strings.NewReader(body)),
		ContentType: "image/jpeg",
		Size:        int64(len(body)),
	}, nil
}

func newPhotoRouter(source PhotoSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := &httpHandler{photos: source, logger: zap.NewNop()}
	router := gin.New()
	router.GET(catalog.PhotoPathPrefix+":reference", handler.handlePhoto)
	return router
}

func TestPhotoRelayStreamsProviderImage(t *testing.T) {
	source := &stubPhotoSource{photos: map[string]string{"ref-1": "jpeg-bytes"}}
	router := newPhotoRouter(source)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/photos/ref-1", http.NoBody))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder.Body.String() != "jpeg-bytes" || recorder.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("unexpected photo response %q %q", recorder.Body.String(), recorder.Header().Get("Content-Type"))
	}
	if recorder.Header().Get("Cache-Control") != photoCacheControl {
		t.Fatalf("expected cache header, got %q", recorder.Header().Get("Cache-Control"))
	}
	if len(source.requested) != 1 || source.requested[0] != "ref-1" {
		t.Fatalf("unexpected upstream requests %v", source.requested)
	}
}

func TestPhotoRelayFailures(t *testing.T) {
	testCases := []struct {
		name   string
		source PhotoSource
		status int
	}{
		{name: "unknown reference", source: &stubPhotoSource{photos: map[string]string{}}, status: http.StatusNotFound},
		{name: "provider failure", source: &stubPhotoSource{err: errors.New("upstream down")}, status: http.StatusBadGateway},
		{name: "no provider", source: nil, status: http.StatusNotFound},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			router := newPhotoRouter(testCase.source)
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/photos/ref-1", http.NoBody))
			if recorder.Code != testCase.status {
				t.Fatalf("expected %d, got %d", testCase.status, recorder.Code)
			}
		})
	}
}
