package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"push-relay/internal/relay"
	"push-relay/pkg/auth"
	"push-relay/pkg/middleware"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	userSecret    = "user-secret"
	serviceSecret = "service-secret"
)

type stubContext struct{ id string }

func (s stubContext) ID() string                { return s.id }
func (s stubContext) UserID() string            { return "u1" }
func (s stubContext) Type() relay.ClientType    { return relay.ClientTypeWindow }
func (s stubContext) Controlled() bool          { return false }
func (s stubContext) PostMessage(_ []byte) bool { return true }

type stubEnumerator struct{ n int }

func (e stubEnumerator) MatchAll(context.Context, relay.MatchOptions) ([]relay.ForegroundContext, error) {
	out := make([]relay.ForegroundContext, e.n)
	for i := range out {
		out[i] = stubContext{id: string(rune('a' + i))}
	}
	return out, nil
}

type stubPresenter struct {
	err   error
	block chan struct{}
}

func (p *stubPresenter) ShowNotification(ctx context.Context, _ relay.DisplayNotification) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

type recordingClicks struct {
	mu     sync.Mutex
	events []relay.ClickEvent
}

func (r *recordingClicks) HandleClick(_ context.Context, e relay.ClickEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type testEnv struct {
	router http.Handler
	clicks *recordingClicks
}

func newEnv(t *testing.T, presenter relay.NotificationPresenter, cfg RouterConfig, wait time.Duration) testEnv {
	t.Helper()
	verifier, err := auth.NewJWTVerifier(userSecret, serviceSecret, nil)
	require.NoError(t, err)

	r := relay.New(stubEnumerator{n: 2}, presenter, zap.NewNop(), nil, relay.Options{})
	clicks := &recordingClicks{}
	h := New(r, clicks, "body", time.Second, wait, zap.NewNop())

	return testEnv{
		router: NewRouter(cfg, h, nil, verifier, zap.NewNop()),
		clicks: clicks,
	}
}

func serviceToken(t *testing.T) string {
	t.Helper()
	tok, err := auth.SignToken("gameplay-service", serviceSecret, time.Minute)
	require.NoError(t, err)
	return tok
}

func userToken(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.SignToken(userID, userSecret, time.Minute)
	require.NoError(t, err)
	return tok
}

func doPush(t *testing.T, env testEnv, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/internal/push", bytes.NewBufferString(body))
	req.Header.Set(middleware.InterServiceTokenHeader, serviceToken(t))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newEnv(t, &stubPresenter{}, RouterConfig{}, time.Second)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestPush(t *testing.T) {
	const valid = `{"user_id":"u1","notification":{"title":"T","body":"B"}}`

	t.Run("relayed", func(t *testing.T) {
		env := newEnv(t, &stubPresenter{}, RouterConfig{}, time.Second)
		w := doPush(t, env, valid)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"relayed","matched":2,"forwarded":2,"displayed":true}`, w.Body.String())
	})

	t.Run("invalid json", func(t *testing.T) {
		env := newEnv(t, &stubPresenter{}, RouterConfig{}, time.Second)
		assert.Equal(t, http.StatusBadRequest, doPush(t, env, `{`).Code)
	})

	t.Run("missing notification", func(t *testing.T) {
		env := newEnv(t, &stubPresenter{}, RouterConfig{}, time.Second)
		w := doPush(t, env, `{"data":{"k":"v"}}`)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.EqualValues(t, 2, body["forwarded"])
	})

	t.Run("display failure", func(t *testing.T) {
		env := newEnv(t, &stubPresenter{err: errors.New("fcm down")}, RouterConfig{}, time.Second)
		assert.Equal(t, http.StatusBadGateway, doPush(t, env, valid).Code)
	})

	t.Run("timeout", func(t *testing.T) {
		p := &stubPresenter{block: make(chan struct{})}
		defer close(p.block)
		env := newEnv(t, p, RouterConfig{}, 20*time.Millisecond)
		assert.Equal(t, http.StatusGatewayTimeout, doPush(t, env, valid).Code)
	})

	t.Run("requires inter-service token", func(t *testing.T) {
		env := newEnv(t, &stubPresenter{}, RouterConfig{}, time.Second)
		req := httptest.NewRequest(http.MethodPost, "/internal/push", bytes.NewBufferString(valid))
		req.Header.Set(middleware.InterServiceTokenHeader, userToken(t, "u1"))
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func clickRequestFor(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/click", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+userToken(t, "u9"))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestNotificationClick(t *testing.T) {
	env := newEnv(t, &stubPresenter{}, RouterConfig{}, time.Second)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, clickRequestFor(t, `{"client_id":"c1","action":"open","title":"T","data":{"story_id":"s1"}}`))
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Len(t, env.clicks.events, 1)
	assert.Equal(t, relay.ClickEvent{
		UserID:   "u9",
		ClientID: "c1",
		Action:   "open",
		Title:    "T",
		Data:     map[string]any{"story_id": "s1"},
	}, env.clicks.events[0])

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, clickRequestFor(t, `not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/notifications/click", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimit(t *testing.T) {
	env := newEnv(t, &stubPresenter{}, RouterConfig{RateLimit: 1}, time.Second)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, clickRequestFor(t, `{}`))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, clickRequestFor(t, `{}`))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t, &stubPresenter{}, RouterConfig{AllowedOrigins: []string{"https://app.example"}}, time.Second)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/notifications/click", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t, &stubPresenter{}, RouterConfig{EnableMetrics: true}, time.Second)

	env.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gin_requests_total")
}

func TestRateLimit_RedisUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	env := newEnv(t, &stubPresenter{}, RouterConfig{RateLimit: 1, RedisClient: rdb}, time.Second)

	// Ошибки Redis не блокируют запросы.
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, clickRequestFor(t, `{}`))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}
