package sessionsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrSessionNotFound is returned when the upstream reports that the requested
// session does not exist (HTTP 409 with payload code 1404).
var ErrSessionNotFound = errors.New("session not found")

// UpstreamError is a non-200 reply from the session service. Payload carries
// the decoded response body when it was valid JSON; Code is the upstream
// business error code from that payload, or 0 when absent.
type UpstreamError struct {
	Status  int
	Code    int
	Payload map[string]any
}

func (e *UpstreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("sessionsvc: status %d code %d", e.Status, e.Code)
	}
	return fmt.Sprintf("sessionsvc: status %d", e.Status)
}

// Options tunes the HTTP client. Zero values fall back to defaults that match
// the upstream's expected latencies: session creation can take close to a
// minute while a container is scheduled, everything else is fast.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// CreateReadTimeout applies to CreateSession only.
	CreateReadTimeout time.Duration
	RetryAttempts     int
	Logger            *slog.Logger
}

const (
	defaultConnectTimeout    = 3 * time.Second
	defaultReadTimeout       = 10 * time.Second
	defaultCreateReadTimeout = 55 * time.Second
)

// Client talks to the session service over HTTP.
type Client struct {
	baseURL           string
	http              *retryablehttp.Client
	readTimeout       time.Duration
	createReadTimeout time.Duration
	log               *slog.Logger
}

func NewClient(baseURL string, opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.CreateReadTimeout <= 0 {
		opts.CreateReadTimeout = defaultCreateReadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryAttempts
	rc.Logger = nil
	rc.HTTPClient = &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: opts.ConnectTimeout,
			}).DialContext,
		},
	}

	return &Client{
		baseURL:           baseURL,
		http:              rc,
		readTimeout:       opts.ReadTimeout,
		createReadTimeout: opts.CreateReadTimeout,
		log:               opts.Logger.With(slog.String("component", "sessionsvc")),
	}
}

func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	var res CreateSessionResponse
	err := c.do(ctx, http.MethodPost, "/sessions/create", req, &res, c.createReadTimeout)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) StartSession(ctx context.Context, sessionID string, req *StartSessionRequest) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/start", req, nil, c.readTimeout)
}

func (c *Client) PauseSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/pause", nil, nil, c.readTimeout)
}

func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/close", nil, nil, c.readTimeout)
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var res GetSessionResponse
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &res, c.readTimeout)
	if err != nil {
		return nil, err
	}
	return &res.Session, nil
}

func (c *Client) GetUserSessions(ctx context.Context, userID int64) ([]Session, error) {
	var res GetSessionsResponse
	err := c.do(ctx, http.MethodGet, "/users/"+strconv.FormatInt(userID, 10)+"/sessions", nil, &res, c.readTimeout)
	if err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

func (c *Client) GetConsumerSessions(ctx context.Context, consumerID string) ([]Session, error) {
	var res GetSessionsResponse
	err := c.do(ctx, http.MethodGet, "/consumers/"+url.PathEscape(consumerID)+"/sessions", nil, &res, c.readTimeout)
	if err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

func (c *Client) GetProducerSessions(ctx context.Context, producerID string) ([]Session, error) {
	var res GetSessionsResponse
	err := c.do(ctx, http.MethodGet, "/producers/"+url.PathEscape(producerID)+"/sessions", nil, &res, c.readTimeout)
	if err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

func (c *Client) SubmitWebRtcStats(ctx context.Context, sessionID string, req *SubmitWebRtcStatsRequest) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/stats", req, nil, c.readTimeout)
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, resBody any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if res.StatusCode != http.StatusOK {
		return c.upstreamError(method, path, res.StatusCode, raw)
	}

	if resBody != nil {
		if err := json.Unmarshal(raw, resBody); err != nil {
			return fmt.Errorf("%s %s: decode body: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) upstreamError(method, path string, status int, raw []byte) error {
	var payload map[string]any
	_ = json.Unmarshal(raw, &payload)

	code := 0
	if v, ok := payload["code"].(float64); ok {
		code = int(v)
	}

	if status == http.StatusConflict && code == 1404 {
		return ErrSessionNotFound
	}

	c.log.Warn("upstream error",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Int("code", code))
	return &UpstreamError{Status: status, Code: code, Payload: payload}
}
