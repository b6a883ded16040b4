package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khang26042012/NexoraX-AI/internal/history"
	"github.com/khang26042012/NexoraX-AI/internal/proxy"
)

func fakeUpstream(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta/models/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gemini-test-key-1234", r.URL.Query().Get("key"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"contents":[{"parts":[{"text":"hi"}]}]}`, string(b))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Model == "broken" {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"reply from ` + req.Model + `"}}]}`))
	})
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer_box":{"answer":"42"},"organic_results":[{"title":"A","snippet":"a"}]}`))
	})
	return mux
}

func historyRecords(t *testing.T, ts *testServer) []history.Record {
	t.Helper()
	var out []history.Record
	require.NoError(t, ts.History.Each(func(r history.Record) { out = append(out, r) }))
	return out
}

func TestGeminiProxy(t *testing.T) {
	ts := newTestServer(t, nil, fakeUpstream(t))
	c := signup(t, ts, "alice", false)

	w := ts.do(t, call{
		method: "POST",
		path:   "/api/gemini",
		cookie: c,
		body:   map[string]any{"payload": map[string]any{"contents": []any{map[string]any{"parts": []any{map[string]any{"text": "hi"}}}}}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "hello")

	recs := historyRecords(t, ts)
	require.Len(t, recs, 1)
	assert.Equal(t, "alice", recs[0].Username)
	assert.Equal(t, "gemini-2.5-flash", recs[0].Model)
	assert.Equal(t, "/api/gemini", recs[0].Endpoint)
	assert.Equal(t, http.StatusOK, recs[0].Status)
}

func TestChatEndpoints(t *testing.T) {
	ts := newTestServer(t, nil, fakeUpstream(t))

	w := ts.do(t, call{method: "POST", path: "/api/llm7/gpt-5-mini", body: map[string]string{"message": "hi"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	m := decode(t, w)
	assert.Equal(t, "reply from gpt-5-mini", m["reply"])
	assert.Equal(t, "gpt-5-mini", m["model"])

	w = ts.do(t, call{method: "POST", path: "/api/llm7/gemini-search", body: map[string]string{"message": "hi", "model": "ignored"}})
	assert.Equal(t, "gemini-search", decode(t, w)["model"])

	w = ts.do(t, call{method: "POST", path: "/api/llm7/chat", body: map[string]string{"message": "hi", "model": "mistral"}})
	assert.Equal(t, "mistral", decode(t, w)["model"])

	w = ts.do(t, call{method: "POST", path: "/api/llm7/chat", body: map[string]string{"message": "  "}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_MESSAGE", decode(t, w)["code"])

	w = ts.do(t, call{method: "POST", path: "/api/llm7/chat", body: map[string]string{"message": "hi", "model": "broken"}})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "UPSTREAM_ERROR", decode(t, w)["code"])

	recs := historyRecords(t, ts)
	require.Len(t, recs, 4)
	for _, r := range recs {
		assert.Equal(t, history.Anonymous, r.Username)
	}
	assert.Equal(t, http.StatusTooManyRequests, recs[3].Status)
}

func TestSearchProxy(t *testing.T) {
	ts := newTestServer(t, nil, fakeUpstream(t))
	for _, p := range []string{"/api/search", "/api/serpapi", "/api/duckduckgo"} {
		w := ts.do(t, call{method: "POST", path: p, body: map[string]any{"query": "life"}})
		require.Equal(t, http.StatusOK, w.Code, p)
		m := decode(t, w)
		assert.Equal(t, "life", m["search_query"])
		assert.Contains(t, m["summary"], "Answer: 42")
	}

	w := ts.do(t, call{method: "POST", path: "/api/search-with-ai", body: map[string]any{"query": ""}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_QUERY", decode(t, w)["code"])
}

func TestProxyErrors(t *testing.T) {
	ts := newTestServer(t, nil, fakeUpstream(t))
	ts.Proxy.Keys().Replace(map[string]string{proxy.Gemini: "your_gemini_api_key_here"})

	w := ts.do(t, call{method: "POST", path: "/api/gemini", body: map[string]any{}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "API_KEY_MISSING", decode(t, w)["code"])

	// Nothing listens on this address.
	down := newTestServer(t, nil, nil)
	down.Proxy = proxy.NewClient(proxy.Options{
		Keys:    proxy.NewKeys(map[string]string{proxy.LLM7: "k"}),
		LLM7:    proxy.Provider{BaseURL: "http://127.0.0.1:1/v1"},
		Timeout: time.Second,
	})
	w = down.do(t, call{method: "POST", path: "/api/llm7/chat", body: map[string]string{"message": "hi"}})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "CONNECTION_ERROR", decode(t, w)["code"])
}
