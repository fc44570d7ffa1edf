package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
)

// defaults for SessionParams
const (
	DefaultPoolSize = 100
	DefaultRetries  = 1
	DefaultBackoff  = 100 * time.Millisecond
	DefaultTimeout  = 30 * time.Second
)

// retryStatuses are retried by the session, everything else is returned to the caller as is.
// 404 and other client errors are never retried.
var retryStatuses = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// retryMethods are idempotent methods, a failed POST may have created a task already and is never repeated
var retryMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// SessionParams defines session configuration
type SessionParams struct {
	BaseURL     string
	PoolSize    int           // max connections kept to the server
	Concurrency int           // max parallel requests the session will serve, pool is never smaller
	Retries     int           // extra attempts for retryable statuses, negative disables retries
	Backoff     time.Duration // initial delay between attempts, doubles on each retry
	Timeout     time.Duration // per request, including body read
}

// Session is a pooled http client to the benchmarked server with bounded retries.
// Safe for concurrent use.
type Session struct {
	baseURL   string
	client    *http.Client
	transport *http.Transport
	poolSize  int
	retries   int
	backoff   time.Duration
}

// taskBody is the request body for create and update
type taskBody struct {
	Name string `json:"name"`
	Done bool   `json:"done"`
}

// NewSession makes a session. Pool size is raised to Concurrency if smaller,
// otherwise parallel phases would measure waiting for a free connection instead of the server.
func NewSession(params SessionParams) (*Session, error) {
	baseURL := strings.TrimSuffix(params.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("empty base url")
	}
	if params.PoolSize <= 0 {
		params.PoolSize = DefaultPoolSize
	}
	if params.PoolSize < params.Concurrency {
		log.Printf("[WARN] pool size %d is less than concurrency %d, increased to %d",
			params.PoolSize, params.Concurrency, params.Concurrency)
		params.PoolSize = params.Concurrency
	}
	if params.Retries < 0 {
		params.Retries = 0
	}
	if params.Backoff <= 0 {
		params.Backoff = DefaultBackoff
	}
	if params.Timeout <= 0 {
		params.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        params.PoolSize,
		MaxIdleConnsPerHost: params.PoolSize,
		MaxConnsPerHost:     params.PoolSize,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Session{
		baseURL:   baseURL,
		client:    &http.Client{Transport: transport, Timeout: params.Timeout},
		transport: transport,
		poolSize:  params.PoolSize,
		retries:   params.Retries,
		backoff:   params.Backoff,
	}, nil
}

// PoolSize returns the max number of connections to the server
func (s *Session) PoolSize() int { return s.poolSize }

// Close releases idle connections
func (s *Session) Close() {
	s.transport.CloseIdleConnections()
}

// Hello calls the greeting endpoint
func (s *Session) Hello(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodGet, "/", nil)
	return err
}

// Info returns the server implementation name
func (s *Session) Info(ctx context.Context) (string, error) {
	body, err := s.do(ctx, http.MethodGet, "/info", nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// CreateTask creates a test task and returns its id
func (s *Session) CreateTask(ctx context.Context) (int64, error) {
	body, err := s.do(ctx, http.MethodPost, "/tasks", taskBody{Name: "Test Task", Done: false})
	if err != nil {
		return 0, err
	}
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode created task: %w", err)
	}
	return resp.ID, nil
}

// ReadTask reads a task
func (s *Session) ReadTask(ctx context.Context, id int64) error {
	_, err := s.do(ctx, http.MethodGet, taskPath(id), nil)
	return err
}

// UpdateTask updates a task with fixed values
func (s *Session) UpdateTask(ctx context.Context, id int64) error {
	_, err := s.do(ctx, http.MethodPut, taskPath(id), taskBody{Name: "Updated Task", Done: true})
	return err
}

// DeleteTask deletes a task
func (s *Session) DeleteTask(ctx context.Context, id int64) error {
	_, err := s.do(ctx, http.MethodDelete, taskPath(id), nil)
	return err
}

func taskPath(id int64) string { return "/tasks/" + strconv.FormatInt(id, 10) }

// do sends a request and returns response body for 2xx.
// Only statuses from retryStatuses of idempotent methods are repeated, transport errors and other statuses
// are returned right away.
func (s *Session) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody []byte
	if payload != nil {
		var err error
		if reqBody, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	url := s.baseURL + path

	var respBody []byte
	var callErr error // final, non-retryable outcome of the last attempt
	attempts := 0
	rptr := repeater.New(&strategy.Backoff{Repeats: s.retries + 1, Duration: s.backoff, Factor: 2})
	err := rptr.Do(ctx, func() error {
		attempts++
		respBody, callErr = nil, nil

		var body io.Reader = http.NoBody
		if reqBody != nil {
			body = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			callErr = fmt.Errorf("failed to make request: %w", err)
			return nil
		}
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			callErr = fmt.Errorf("%s %s: %w", method, url, err)
			return nil
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			callErr = fmt.Errorf("%s %s: failed to read response: %w", method, url, err)
			return nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{Method: method, URL: url, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
			if statusErr.Retryable() {
				log.Printf("[DEBUG] attempt %d of %s %s failed with %d", attempts, method, url, resp.StatusCode)
				return statusErr
			}
			callErr = statusErr
			return nil
		}
		respBody = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%d attempts: %w", attempts, err)
	}
	if attempts == 0 {
		return nil, fmt.Errorf("%s %s not sent: %w", method, url, ctx.Err())
	}
	return respBody, callErr
}
