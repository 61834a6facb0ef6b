// Package remote talks to the NoteGrid HTTP API.
package remote

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

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Joseda-hg/notegrid/internal/model"
)

const DefaultBaseURL = "https://notegrid.pages.dev"

// NetworkError is returned for every failed remote call: transport errors,
// non-2xx statuses, undecodable bodies, rejected writes and calls refused by
// the circuit breaker or the rate limiter.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

var (
	ErrRejected = errors.New("request rejected by server")
	errStatus   = errors.New("unexpected status")
)

type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("%v: %s", errStatus, e.message)
	}
	return errStatus.Error()
}

func (e *statusError) Unwrap() error {
	return errStatus
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	onState    func(name string, from, to gobreaker.State)
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit caps outgoing requests. A non-positive rps disables the cap.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithBreakerStateHook(fn func(name string, from, to gobreaker.State)) Option {
	return func(c *Client) {
		c.onState = fn
	}
}

func New(baseURL string, options ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}

	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	for _, option := range options {
		option(client)
	}

	client.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notegrid-remote",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		// Client errors say nothing about server health.
		IsSuccessful: func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: client.onState,
	})

	return client
}

type envelope struct {
	Success bool            `json:"success"`
	Data    *model.UserData `json:"data"`
	Error   string          `json:"error"`
}

// Read fetches the remote document, bypassing HTTP caches. A nil document
// with a nil error means the server holds no data for the credential.
func (c *Client) Read(ctx context.Context, credential string) (*model.UserData, error) {
	var result envelope
	if err := c.do(ctx, "read", http.MethodGet, "/api/data", credential, nil, &result); err != nil {
		return nil, err
	}
	if !result.Success || result.Data == nil {
		return nil, nil
	}
	data := result.Data.Clone()
	return &data, nil
}

// Write replaces the remote document with data.
func (c *Client) Write(ctx context.Context, credential string, data model.UserData) error {
	var result envelope
	if err := c.do(ctx, "write", http.MethodPut, "/api/data", credential, data, &result); err != nil {
		return err
	}
	if !result.Success {
		return &NetworkError{Op: "write", Err: rejection(result.Error)}
	}
	return nil
}

// DeleteAccount replaces the remote document with an empty tombstone.
func (c *Client) DeleteAccount(ctx context.Context, credential string) error {
	body := map[string]any{
		"tasks":   []model.Task{},
		"links":   []model.Link{},
		"deleted": true,
	}
	var result envelope
	if err := c.do(ctx, "delete account", http.MethodPut, "/api/data", credential, body, &result); err != nil {
		return err
	}
	if !result.Success {
		return &NetworkError{Op: "delete account", Err: rejection(result.Error)}
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, credential string) (bool, error) {
	var result struct {
		Data struct {
			Exists bool `json:"exists"`
		} `json:"data"`
	}
	path := "/api/exists/" + url.PathEscape(credential)
	if err := c.do(ctx, "exists", http.MethodGet, path, "", nil, &result); err != nil {
		return false, err
	}
	return result.Data.Exists, nil
}

func (c *Client) Register(ctx context.Context, credential string) error {
	var result envelope
	body := map[string]string{"uuid": credential}
	if err := c.do(ctx, "register", http.MethodPost, "/api/register", "", body, &result); err != nil {
		return err
	}
	if !result.Success {
		return &NetworkError{Op: "register", Err: rejection(result.Error)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path, credential string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, credential, body, out)
	})
	if err == nil {
		return nil
	}

	netErr := &NetworkError{Op: op, Err: err}
	var se *statusError
	if errors.As(err, &se) {
		netErr.StatusCode = se.code
	}
	return netErr
}

func (c *Client) roundTrip(ctx context.Context, method, path, credential string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	if method == http.MethodGet {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errResp)
		return &statusError{code: resp.StatusCode, message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func rejection(message string) error {
	if message == "" {
		return ErrRejected
	}
	return fmt.Errorf("%w: %s", ErrRejected, message)
}
