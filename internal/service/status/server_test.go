package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ChatRelay/internal/app/dispatcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedStats struct{}

func (fixedStats) Conversations() int { return 3 }
func (fixedStats) Stats() dispatcher.Stats {
	return dispatcher.Stats{Queued: 1, InFlight: 2, Processed: 10, Dropped: 4}
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := New(Config{AuthToken: "secret"}, fixedStats{}, zap.NewNop().Sugar())

	rec := get(t, s.Handler(), "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStats(t *testing.T) {
	s := New(Config{}, fixedStats{}, zap.NewNop().Sugar())

	rec := get(t, s.Handler(), "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.EqualValues(t, 3, got["conversations"])
	assert.EqualValues(t, 1, got["queued"])
	assert.EqualValues(t, 2, got["in_flight"])
	assert.EqualValues(t, 10, got["processed"])
	assert.EqualValues(t, 4, got["dropped"])
}

func TestStats_MethodNotAllowed(t *testing.T) {
	s := New(Config{}, fixedStats{}, zap.NewNop().Sugar())

	req := httptest.NewRequest(http.MethodPost, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuth(t *testing.T) {
	s := New(Config{AuthToken: "secret"}, fixedStats{}, zap.NewNop().Sugar())
	s.Handle("/extra", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	assert.Equal(t, http.StatusUnauthorized, get(t, s.Handler(), "/stats", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, s.Handler(), "/stats", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/stats", "secret").Code)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/stats?token=secret", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, s.Handler(), "/extra", "").Code)
	assert.Equal(t, http.StatusTeapot, get(t, s.Handler(), "/extra", "secret").Code)
}

func TestAuth_RequiresBearerScheme(t *testing.T) {
	s := New(Config{AuthToken: "secret"}, fixedStats{}, zap.NewNop().Sugar())

	for _, header := range []string{"secret", "Basic secret", "bearer secret"} {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestStartStop(t *testing.T) {
	s := New(Config{BindAddr: "127.0.0.1:0"}, fixedStats{}, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	assert.Eventually(t, func() bool {
		_, err := http.Get("http://" + s.Addr() + "/healthz")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}
