// Package httpapi tests drive the routed handler with httptest.
package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khang26042012/NexoraX-AI/internal/authstore"
	"github.com/khang26042012/NexoraX-AI/internal/config"
	"github.com/khang26042012/NexoraX-AI/internal/history"
	"github.com/khang26042012/NexoraX-AI/internal/proxy"
)

// testLogger silences logs during handler tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	*Server
	clock   *fakeClock
	handler http.Handler
}

func newTestServer(t *testing.T, mutate func(*config.Config), upstream http.Handler) *testServer {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	store, err := authstore.Open(authstore.Options{Now: clock.Now, Logger: testLogger()})
	require.NoError(t, err)

	c := config.Default()
	c.DataDir = t.TempDir()
	if mutate != nil {
		mutate(&c)
	}

	popt := proxy.Options{Keys: proxy.NewKeys(map[string]string{
		proxy.Gemini:  "gemini-test-key-1234",
		proxy.SerpAPI: "serp-test-key-5678",
		proxy.LLM7:    "llm7-test-key-9012",
	})}
	if upstream != nil {
		up := httptest.NewServer(upstream)
		t.Cleanup(up.Close)
		popt.Gemini = proxy.Provider{BaseURL: up.URL + "/v1beta", Model: "gemini-2.5-flash"}
		popt.SerpAPI = proxy.Provider{BaseURL: up.URL}
		popt.LLM7 = proxy.Provider{BaseURL: up.URL + "/v1", Model: "gpt-5-mini"}
	}

	s := New(c, store, proxy.NewClient(popt), history.Open(c.HistoryPath()), testLogger())
	t.Cleanup(s.Close)
	return &testServer{Server: s, clock: clock, handler: s.Handler()}
}

type call struct {
	method string
	path   string
	body   any
	cookie *http.Cookie
	header map[string]string
	remote string
}

func (ts *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	r := httptest.NewRequest(c.method, c.path, body)
	if c.remote != "" {
		r.RemoteAddr = c.remote
	}
	if c.cookie != nil {
		r.AddCookie(c.cookie)
	}
	for k, v := range c.header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func sessionCookieFrom(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	return nil
}

func creds(user, pw string, remember bool) map[string]any {
	return map[string]any{"username": user, "password": pw, "remember_me": remember}
}

func TestSignupSetsCookie(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	w := ts.do(t, call{method: "POST", path: "/api/auth/signup", body: creds("alice", "Passw0rd", false)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	m := decode(t, w)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "alice", m["username"])
	assert.Equal(t, false, m["remember_me"])

	c := sessionCookieFrom(w)
	require.NotNil(t, c)
	assert.NotEmpty(t, c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 604800, c.MaxAge)
	assert.False(t, c.Secure)

	user, ok := ts.Store.ValidateSession(c.Value)
	assert.True(t, ok)
	assert.Equal(t, "alice", user)
}

func TestSignupRememberMe(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	w := ts.do(t, call{method: "POST", path: "/api/auth/signup", body: creds("bob_1", "s3cretpw", true)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2592000, sessionCookieFrom(w).MaxAge)
}

func TestSignupErrors(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	require.Equal(t, http.StatusOK, ts.do(t, call{method: "POST", path: "/api/auth/signup", body: creds("alice", "Passw0rd", false)}).Code)

	cases := []struct {
		name string
		body any
		code string
	}{
		{"duplicate", creds("alice", "Passw0rd", false), authstore.CodeUsernameExists},
		{"missing", map[string]any{"username": "carol"}, authstore.CodeMissingFields},
		{"short username", creds("ab", "Passw0rd", false), authstore.CodeValidation},
		{"bad characters", creds("bad-name", "Passw0rd", false), authstore.CodeValidation},
		{"no digit", creds("carol", "password", false), authstore.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(t, call{method: "POST", path: "/api/auth/signup", body: tc.body})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			m := decode(t, w)
			assert.Equal(t, false, m["success"])
			assert.Equal(t, tc.code, m["code"])
			assert.NotEmpty(t, m["error"])
			assert.Nil(t, sessionCookieFrom(w))
		})
	}
}

func TestInvalidJSON(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	r := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader("{nope"))
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_JSON", decode(t, w)["code"])
}

func TestLoginLockout(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	require.NoError(t, ts.Store.CreateUser("alice", "Passw0rd"))

	for i := 1; i <= 4; i++ {
		w := ts.do(t, call{method: "POST", path: "/api/auth/login", body: creds("alice", "wrongpass1", false)})
		require.Equal(t, http.StatusUnauthorized, w.Code)
		m := decode(t, w)
		assert.Equal(t, authstore.CodeInvalidCredentials, m["code"])
		assert.Equal(t, float64(5-i), m["remaining_attempts"])
		assert.Contains(t, m["error"], "attempts remaining")
	}

	w := ts.do(t, call{method: "POST", path: "/api/auth/login", body: creds("alice", "wrongpass1", false)})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	m := decode(t, w)
	assert.Equal(t, float64(0), m["remaining_attempts"])
	assert.Equal(t, float64(60), m["retry_after"])
	assert.Contains(t, m["error"], "locked")

	// The correct password is refused while locked.
	w = ts.do(t, call{method: "POST", path: "/api/auth/login", body: creds("alice", "Passw0rd", false)})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	m = decode(t, w)
	assert.Equal(t, authstore.CodeRateLimited, m["code"])
	assert.Equal(t, float64(60), m["retry_after"])
	assert.Contains(t, m["error"], "60 seconds")

	ts.clock.Advance(61 * time.Second)
	w = ts.do(t, call{method: "POST", path: "/api/auth/login", body: creds("alice", "Passw0rd", false)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, sessionCookieFrom(w))
	_, limited := ts.Store.RateLimit("alice")
	assert.False(t, limited)
}

func TestLoginUnknownUserCountsAttempts(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	w := ts.do(t, call{method: "POST", path: "/api/auth/login", body: creds("ghost", "Passw0rd", false)})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	e, ok := ts.Store.RateLimit("ghost")
	require.True(t, ok)
	assert.Equal(t, 1, e.Attempts)
}

func signup(t *testing.T, ts *testServer, user string, remember bool) *http.Cookie {
	t.Helper()
	w := ts.do(t, call{method: "POST", path: "/api/auth/signup", body: creds(user, "Passw0rd", remember)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	c := sessionCookieFrom(w)
	require.NotNil(t, c)
	return &http.Cookie{Name: c.Name, Value: c.Value}
}

func TestCheckSession(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	c := signup(t, ts, "alice", false)

	w := ts.do(t, call{method: "GET", path: "/api/auth/check-session", cookie: c})
	require.Equal(t, http.StatusOK, w.Code)
	m := decode(t, w)
	assert.Equal(t, true, m["valid"])
	assert.Equal(t, "alice", m["username"])
	assert.Equal(t, false, m["rotated"])
	assert.Nil(t, sessionCookieFrom(w))

	w = ts.do(t, call{method: "GET", path: "/api/auth/check-session"})
	require.Equal(t, http.StatusOK, w.Code)
	m = decode(t, w)
	assert.Equal(t, false, m["valid"])
	assert.Nil(t, m["username"])
	assert.Contains(t, m, "username")
}

func TestCheckSessionRotates(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	c := signup(t, ts, "alice", false)

	// 75% of 7 days is 126h; go a little past it.
	ts.clock.Advance(127 * time.Hour)
	w := ts.do(t, call{method: "GET", path: "/api/auth/check-session", cookie: c})
	require.Equal(t, http.StatusOK, w.Code)
	m := decode(t, w)
	assert.Equal(t, true, m["valid"])
	assert.Equal(t, true, m["rotated"])
	assert.NotContains(t, m, "session_id")

	nc := sessionCookieFrom(w)
	require.NotNil(t, nc)
	assert.NotEqual(t, c.Value, nc.Value)
	assert.Equal(t, 604800, nc.MaxAge)

	_, ok := ts.Store.ValidateSession(c.Value)
	assert.False(t, ok, "old id must be gone after rotation")
	user, ok := ts.Store.ValidateSession(nc.Value)
	assert.True(t, ok)
	assert.Equal(t, "alice", user)
}

func TestCheckSessionBearerRotationReturnsID(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	c := signup(t, ts, "alice", false)
	ts.clock.Advance(127 * time.Hour)

	w := ts.do(t, call{method: "GET", path: "/api/auth/check-session", header: map[string]string{"Authorization": "Bearer " + c.Value}})
	m := decode(t, w)
	assert.Equal(t, true, m["rotated"])
	id, _ := m["session_id"].(string)
	require.NotEmpty(t, id)
	_, ok := ts.Store.ValidateSession(id)
	assert.True(t, ok)
}

func TestCheckSessionPrecedence(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	good := signup(t, ts, "alice", false)
	stale := &http.Cookie{Name: sessionCookie, Value: "stale-session-id"}

	// A stale cookie wins over a valid bearer token and gets cleared.
	w := ts.do(t, call{
		method: "GET",
		path:   "/api/auth/check-session?session_id=" + good.Value,
		cookie: stale,
		header: map[string]string{"Authorization": "Bearer " + good.Value},
	})
	m := decode(t, w)
	assert.Equal(t, false, m["valid"])
	cleared := sessionCookieFrom(w)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	// Bearer beats the query parameter.
	w = ts.do(t, call{
		method: "GET",
		path:   "/api/auth/check-session?session_id=" + good.Value,
		header: map[string]string{"Authorization": "Bearer nope"},
	})
	assert.Equal(t, false, decode(t, w)["valid"])

	w = ts.do(t, call{method: "GET", path: "/api/auth/check-session?session_id=" + good.Value})
	assert.Equal(t, true, decode(t, w)["valid"])
}

func TestCheckSessionExpired(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	c := signup(t, ts, "alice", false)
	ts.clock.Advance(7*24*time.Hour + time.Second)

	w := ts.do(t, call{method: "GET", path: "/api/auth/check-session", cookie: c})
	assert.Equal(t, false, decode(t, w)["valid"])
	assert.Zero(t, ts.Store.ActiveSessions())
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	c := signup(t, ts, "alice", false)

	w := ts.do(t, call{method: "POST", path: "/api/auth/logout", cookie: c})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])
	cleared := sessionCookieFrom(w)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")

	_, ok := ts.Store.ValidateSession(c.Value)
	assert.False(t, ok)
}

func TestLogoutBodyAndUnknown(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	c := signup(t, ts, "alice", false)

	w := ts.do(t, call{method: "POST", path: "/api/auth/logout", body: map[string]string{"session_id": c.Value}})
	require.Equal(t, http.StatusOK, w.Code)
	_, ok := ts.Store.ValidateSession(c.Value)
	assert.False(t, ok)

	w = ts.do(t, call{method: "POST", path: "/api/auth/logout", body: map[string]string{"session_id": "does-not-exist"}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, call{method: "POST", path: "/api/auth/logout"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_SESSION_ID", decode(t, w)["code"])
}

func TestSecureCookie(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.HTTP.SecureCookies = config.SecureAlways }, nil)
	w := ts.do(t, call{method: "POST", path: "/api/auth/signup", body: creds("alice", "Passw0rd", false)})
	assert.True(t, sessionCookieFrom(w).Secure)

	ts = newTestServer(t, nil, nil)
	w = ts.do(t, call{
		method: "POST",
		path:   "/api/auth/signup",
		body:   creds("alice", "Passw0rd", false),
		header: map[string]string{"X-Forwarded-Proto": "https"},
	})
	assert.True(t, sessionCookieFrom(w).Secure)

	ts = newTestServer(t, func(c *config.Config) {
		c.HTTP.SecureCookies = config.SecureNever
		c.HTTP.BehindHTTPS = true
	}, nil)
	w = ts.do(t, call{method: "POST", path: "/api/auth/signup", body: creds("alice", "Passw0rd", false)})
	assert.False(t, sessionCookieFrom(w).Secure)
}

func TestWithSessionAttachesUsername(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	c := signup(t, ts, "alice", false)

	var got string
	var ok bool
	h := ts.withSession(func(w http.ResponseWriter, r *http.Request) {
		got, ok = UsernameFromContext(r.Context())
	})
	r := httptest.NewRequest("POST", "/api/gemini", nil)
	r.AddCookie(c)
	h(httptest.NewRecorder(), r)
	assert.True(t, ok)
	assert.Equal(t, "alice", got)

	h(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/gemini", nil))
	assert.False(t, ok)
}

func TestIPThrottle(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.HTTP.RequestsPerSecond = 0.001
		c.HTTP.Burst = 2
	}, nil)
	for i := 0; i < 2; i++ {
		w := ts.do(t, call{method: "POST", path: "/api/auth/login", body: creds("alice", "Passw0rd", false)})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := ts.do(t, call{method: "POST", path: "/api/auth/login", body: creds("alice", "Passw0rd", false)})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "TOO_MANY_REQUESTS", decode(t, w)["code"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Another client is unaffected.
	w = ts.do(t, call{method: "POST", path: "/api/auth/login", body: creds("alice", "Passw0rd", false), remote: "198.51.100.7:4000"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.HTTP.AllowedOrigins = []string{"http://localhost:5000"}
	}, nil)

	w := ts.do(t, call{method: "OPTIONS", path: "/api/gemini", header: map[string]string{"Origin": "http://localhost:5000"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")

	w = ts.do(t, call{method: "GET", path: "/api/auth/check-session", header: map[string]string{"Origin": "https://evil.example"}})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownAPIPath(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	w := ts.do(t, call{method: "POST", path: "/api/nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["code"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRecover(t *testing.T) {
	s := &Server{Logger: testLogger()}
	h := s.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "1", retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, "3", retryAfterSeconds(2*time.Second+time.Millisecond))
}
