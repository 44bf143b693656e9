// Package client is a typed HTTP client for the streamtts API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/streamtts/internal/api"
	"github.com/dgnsrekt/streamtts/internal/config"
	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds every request except the stats feed.
const DefaultTimeout = 10 * time.Second

var (
	ErrBadRequest  = errors.New("client: bad request")
	ErrNotFound    = errors.New("client: not found")
	ErrConflict    = errors.New("client: conflict")
	ErrRateLimited = errors.New("client: rate limited")
	ErrServer      = errors.New("client: server error")
)

// APIError is a non-2xx reply. It unwraps to one of the sentinel errors
// above so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrServer
	default:
		return ErrBadRequest
	}
}

// Client talks to one streamtts server.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the server at baseURL, e.g.
// "http://127.0.0.1:8008". A bare host:port is accepted.
func New(baseURL string, opts ...Option) (*Client, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s is not a supported protocol", u.Scheme)
	}

	c := &Client{base: u, http: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL resolves a server path, such as an audio URL returned by PlayNext.
func (c *Client) URL(path string) string {
	u := *c.base
	if i := strings.IndexByte(path, '?'); i >= 0 {
		u.RawQuery = path[i+1:]
		path = path[:i]
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readError(resp *http.Response) error {
	var e api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(data))
	}
	return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
}

// AddMessage queues a message.
func (c *Client) AddMessage(ctx context.Context, req api.AddMessageRequest) (api.MessageResponse, error) {
	var out api.MessageResponse
	err := c.do(ctx, http.MethodPost, "/tts/add_message", req, &out)
	return out, err
}

// Stats returns the active lane snapshot.
func (c *Client) Stats(ctx context.Context) (api.StatsResponse, error) {
	var out api.StatsResponse
	err := c.do(ctx, http.MethodGet, "/tts/active_queue_stats", nil, &out)
	return out, err
}

// PlayNext starts the next READY message. It returns nil when nothing is
// ready.
func (c *Client) PlayNext(ctx context.Context) (*api.PlayNextResponse, error) {
	var out api.PlayNextResponse
	if err := c.do(ctx, http.MethodPost, "/tts/play_next", nil, &out); err != nil {
		return nil, err
	}
	if out.Empty() {
		return nil, nil
	}
	return &out, nil
}

// MarkPlayed finishes playback of id.
func (c *Client) MarkPlayed(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, "/tts/mark_played/"+strconv.FormatInt(id, 10), nil, nil)
}

// SetAutoplay starts or stops autoplay.
func (c *Client) SetAutoplay(ctx context.Context, enabled bool) (api.AutoplayResponse, error) {
	path := "/tts/autoplay/stop"
	if enabled {
		path = "/tts/autoplay/start"
	}
	var out api.AutoplayResponse
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

// Clear deletes the PENDING and READY messages of the active lane.
func (c *Client) Clear(ctx context.Context) (api.ClearResponse, error) {
	var out api.ClearResponse
	err := c.do(ctx, http.MethodPost, "/tts/clear_active_queue", nil, &out)
	return out, err
}

// Switch makes lane active.
func (c *Client) Switch(ctx context.Context, lane string) (api.SwitchResponse, error) {
	var out api.SwitchResponse
	err := c.do(ctx, http.MethodPost, "/tts/switch_active_queue", api.SwitchRequest{QueueType: lane}, &out)
	return out, err
}

// ListOptions filters Messages.
type ListOptions struct {
	Lane     string
	Statuses []string
	Limit    int
	Newest   bool
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Lane != "" {
		q.Set("lane", o.Lane)
	}
	if len(o.Statuses) > 0 {
		q.Set("status", strings.Join(o.Statuses, ","))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Newest {
		q.Set("order", "newest")
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// Messages lists messages.
func (c *Client) Messages(ctx context.Context, opts ListOptions) ([]api.Message, error) {
	var out []api.Message
	err := c.do(ctx, http.MethodGet, "/tts/messages"+opts.query(), nil, &out)
	return out, err
}

// Message returns one message.
func (c *Client) Message(ctx context.Context, id int64) (api.Message, error) {
	var out api.Message
	err := c.do(ctx, http.MethodGet, "/tts/messages/"+strconv.FormatInt(id, 10), nil, &out)
	return out, err
}

// Config returns the server's speech settings.
func (c *Client) Config(ctx context.Context) (config.Summary, error) {
	var out config.Summary
	err := c.do(ctx, http.MethodGet, "/tts/config", nil, &out)
	return out, err
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Audio downloads an artifact by the URL path PlayNext returned.
func (c *Client) Audio(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "audio " + path}
	}
	return io.ReadAll(resp.Body)
}

// Feed is an open websocket stats subscription.
type Feed struct {
	conn *websocket.Conn
}

// StatsFeed subscribes to the stats websocket.
func (c *Client) StatsFeed(ctx context.Context) (*Feed, error) {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/tts/ws"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial stats feed: %w", readError(resp))
		}
		return nil, fmt.Errorf("dial stats feed: %w", err)
	}
	return &Feed{conn: conn}, nil
}

// Next blocks for the next snapshot.
func (f *Feed) Next() (api.StatsResponse, error) {
	var st api.StatsResponse
	err := f.conn.ReadJSON(&st)
	return st, err
}

// Close ends the subscription.
func (f *Feed) Close() error {
	_ = f.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return f.conn.Close()
}
