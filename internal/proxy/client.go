package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxUpstreamBody caps how much of an upstream response is read.
const maxUpstreamBody = 16 << 20

// Provider is one upstream endpoint.
type Provider struct {
	BaseURL string
	Model   string
}

// KeyError means the provider has no API key configured.
type KeyError struct{ Service string }

func (e *KeyError) Error() string { return e.Service + " api key is not configured" }

// UpstreamError is a non-2xx answer from a provider.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.Status, e.Body)
}

// ConnError wraps transport failures, including timeouts.
type ConnError struct {
	Service string
	Err     error
}

func (e *ConnError) Error() string { return "cannot reach " + e.Service + ": " + e.Err.Error() }
func (e *ConnError) Unwrap() error { return e.Err }

type Options struct {
	Keys        *Keys
	Gemini      Provider
	SerpAPI     Provider
	LLM7        Provider
	Timeout     time.Duration
	LongTimeout time.Duration
	HTTPClient  *http.Client
	UserAgent   string
	Now         func() time.Time
}

type Client struct {
	keys        *Keys
	gemini      Provider
	serp        Provider
	llm7        Provider
	timeout     time.Duration
	longTimeout time.Duration
	hc          *http.Client
	ua          string
	now         func() time.Time
}

func NewClient(opt Options) *Client {
	c := &Client{
		keys:        opt.Keys,
		gemini:      opt.Gemini,
		serp:        opt.SerpAPI,
		llm7:        opt.LLM7,
		timeout:     opt.Timeout,
		longTimeout: opt.LongTimeout,
		hc:          opt.HTTPClient,
		ua:          opt.UserAgent,
		now:         opt.Now,
	}
	if c.keys == nil {
		c.keys = NewKeys(nil)
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.longTimeout < c.timeout {
		c.longTimeout = c.timeout
	}
	if c.hc == nil {
		c.hc = &http.Client{}
	}
	if c.ua == "" {
		c.ua = "nexorax"
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Client) Keys() *Keys { return c.keys }

// GeminiModel returns the default generative model.
func (c *Client) GeminiModel() string { return c.gemini.Model }

func (c *Client) key(service string) (string, error) {
	k := c.keys.Get(service)
	if k == "" {
		return "", &KeyError{Service: service}
	}
	return k, nil
}

// do sends req and returns the body of a 2xx response.
func (c *Client) do(service string, req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", c.ua)
	res, err := c.hc.Do(req)
	if err != nil {
		return nil, &ConnError{Service: service, Err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxUpstreamBody))
	if err != nil {
		return nil, &ConnError{Service: service, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 2048 {
			msg = msg[:2048]
		}
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return nil, &UpstreamError{Service: service, Status: res.StatusCode, Body: msg}
	}
	return body, nil
}

func (c *Client) postJSON(ctx context.Context, service, u string, hdr http.Header, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	for k, vals := range hdr {
		req.Header[k] = vals
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(service, req)
}

// Generate forwards payload unchanged to the Gemini generateContent
// endpoint for model and returns the raw response.
func (c *Client) Generate(ctx context.Context, model string, payload json.RawMessage) (json.RawMessage, error) {
	key, err := c.key(Gemini)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = c.gemini.Model
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	u := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(c.gemini.BaseURL, "/"), url.PathEscape(model), url.QueryEscape(key))
	body, err := c.postJSON(ctx, Gemini, u, nil, payload)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errors.New("gemini returned invalid JSON")
	}
	return body, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// ChatReply is the simplified answer returned to the browser.
type ChatReply struct {
	Reply string `json:"reply"`
	Model string `json:"model"`
}

// Chat sends a single user message to the LLM7 chat completions API.
func (c *Client) Chat(ctx context.Context, model, message string) (ChatReply, error) {
	key, err := c.key(LLM7)
	if err != nil {
		return ChatReply{}, err
	}
	if model == "" {
		model = c.llm7.Model
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+key)
	body, err := c.postJSON(ctx, LLM7, strings.TrimRight(c.llm7.BaseURL, "/")+"/chat/completions", hdr, chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: message}},
		Temperature: 0.7,
	})
	if err != nil {
		return ChatReply{}, err
	}
	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return ChatReply{}, fmt.Errorf("decode llm7 response: %w", err)
	}
	out := ChatReply{Model: model}
	if len(cr.Choices) > 0 {
		out.Reply = cr.Choices[0].Message.Content
	} else {
		out.Reply = string(body)
	}
	return out, nil
}
