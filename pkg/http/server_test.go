package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent-server/pkg/config"
	"voiceagent-server/pkg/media"
)

type stubSessions struct {
	handled atomic.Int64
	count   int
}

func (s *stubSessions) HandleConnection(ctx context.Context, conn media.WSConn) {
	s.handled.Add(1)
	conn.Close()
}

func (s *stubSessions) Count() int { return s.count }

func testServer(sessions *stubSessions) *Server {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := config.HTTPConfig{Port: 0}
	return NewServer(logger, cfg, sessions)
}

func TestHealthReportsActiveCalls(t *testing.T) {
	server := testServer(&stubSessions{count: 3})

	rec := httptest.NewRecorder()
	server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["active_calls"])
}

func TestLivenessEndpoint(t *testing.T) {
	server := testServer(&stubSessions{})

	rec := httptest.NewRecorder()
	server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}

func TestMediaEndpointRejectsPlainHTTP(t *testing.T) {
	server := testServer(&stubSessions{})

	rec := httptest.NewRecorder()
	server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/media", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMediaEndpointHandsConnectionToSessions(t *testing.T) {
	sessions := &stubSessions{}
	server := testServer(sessions)

	ts := httptest.NewServer(server.mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/media"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	conn.Close()

	assert.Eventually(t, func() bool {
		return sessions.handled.Load() == 1
	}, time.Second, 10*time.Millisecond)
}
