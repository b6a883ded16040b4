// Package adminapi is a small HTTP client for the /api/admin endpoints.
package adminapi

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx admin response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

type Client struct {
	baseURL *url.URL
	hc      *http.Client
	token   string
	ua      string
}

type ClientOptions struct {
	Addr      string
	Token     string
	Insecure  bool
	Timeout   time.Duration
	UserAgent string
}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.Addr == "" {
		return nil, errors.New("addr is required")
	}
	u, err := url.Parse(opt.Addr)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if u.Host == "" {
		return nil, errors.New("invalid addr")
	}

	t := &http.Transport{}
	if strings.EqualFold(u.Scheme, "https") {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: opt.Insecure} //nolint:gosec
	}

	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	ua := opt.UserAgent
	if ua == "" {
		ua = "nexorax-admin"
	}
	return &Client{
		baseURL: u,
		hc:      &http.Client{Transport: t, Timeout: timeout},
		token:   opt.Token,
		ua:      ua,
	}, nil
}

type Stats struct {
	Users          int    `json:"users"`
	ActiveSessions int    `json:"active_sessions"`
	RateLimited    int    `json:"rate_limited_users"`
	LockedUsers    int    `json:"locked_users"`
	TotalCalls     int    `json:"total_ai_calls"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Version        string `json:"version"`
}

type Usage struct {
	TotalCalls  int            `json:"total_calls"`
	UniqueUsers int            `json:"unique_users"`
	ModelsStats map[string]int `json:"models_stats"`
	UsersStats  map[string]int `json:"users_stats"`
}

type User struct {
	Username    string `json:"username"`
	Sessions    int    `json:"sessions"`
	Attempts    int    `json:"failed_attempts"`
	LockedUntil int64  `json:"locked_until"`
	Hashed      bool   `json:"hashed"`
}

// Locked reports whether the user is locked out at now.
func (u User) Locked(now time.Time) bool {
	return u.LockedUntil > now.Unix()
}

type Config struct {
	APIKeys        map[string]string `json:"api_keys"`
	GeminiModel    string            `json:"gemini_model"`
	AllowedOrigins []string          `json:"allowed_origins"`
	SessionTTL     string            `json:"session_ttl"`
	RememberTTL    string            `json:"remember_ttl"`
	MaxAttempts    int               `json:"max_attempts"`
	AttemptWindow  string            `json:"attempt_window"`
}

func (c *Client) Stats() (Stats, error) {
	var resp struct {
		Stats Stats `json:"stats"`
	}
	err := c.doJSON("GET", "/api/admin/stats", nil, &resp)
	return resp.Stats, err
}

func (c *Client) Usage() (Usage, error) {
	var resp struct {
		Usage Usage `json:"usage"`
	}
	err := c.doJSON("GET", "/api/admin/usage", nil, &resp)
	return resp.Usage, err
}

func (c *Client) Logs(limit int) ([]string, error) {
	var resp struct {
		Logs []string `json:"logs"`
	}
	err := c.doJSON("GET", "/api/admin/logs?limit="+strconv.Itoa(limit), nil, &resp)
	return resp.Logs, err
}

func (c *Client) ListUsers() ([]User, error) {
	var resp struct {
		Users []User `json:"users"`
	}
	err := c.doJSON("GET", "/api/admin/users", nil, &resp)
	return resp.Users, err
}

func (c *Client) DeleteUser(username string) error {
	return c.doJSON("DELETE", "/api/admin/users/"+url.PathEscape(username), nil, nil)
}

func (c *Client) ClearRateLimit(username string) error {
	return c.doJSON("DELETE", "/api/admin/ratelimits/"+url.PathEscape(username), nil, nil)
}

func (c *Client) Config() (Config, error) {
	var resp struct {
		Config Config `json:"config"`
	}
	err := c.doJSON("GET", "/api/admin/config", nil, &resp)
	return resp.Config, err
}

// SetAPIKey replaces a provider key on the running server.
func (c *Client) SetAPIKey(service, key string) (string, error) {
	req := struct {
		Service string `json:"service"`
		APIKey  string `json:"api_key"`
	}{service, key}
	var resp struct {
		Message string `json:"message"`
	}
	err := c.doJSON("POST", "/api/admin/config/update", req, &resp)
	return resp.Message, err
}

func (c *Client) doJSON(method, path string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return err
	}
	u := c.baseURL.ResolveReference(ref)
	req, err := http.NewRequest(method, u.String(), buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("user-agent", c.ua)
	if c.token != "" {
		req.Header.Set("authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&er)
		if er.Error == "" {
			er.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Code: er.Code, Message: er.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
