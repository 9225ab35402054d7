// Package webhook delivers event payloads to configured HTTP endpoints.
//
// The sender fans out to all URLs of a channel concurrently, bounds every
// request with an independent timeout, and reports per-URL outcomes instead
// of returning errors for individual failures. It never retries: a failed
// delivery is recorded as failed, and resilience is the receiving endpoint's
// concern.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Sentinel errors for webhook delivery outcomes.
var (
	ErrInvalidURL = errors.New("invalid webhook URL")
	ErrTimeout    = errors.New("webhook request timeout")
)

// Event is the outbound wire contract: one JSON POST body per target URL.
type Event struct {
	MessageID string          `json:"messageId"`
	Channel   string          `json:"channel"`
	EventName string          `json:"eventName"`
	Payload   json.RawMessage `json:"payload"`
}

// Delivery is the outcome of one attempt against one URL.
type Delivery struct {
	URL        string
	Success    bool
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Sender delivers events to webhook endpoints. Safe for concurrent use.
// Zero value is not usable; use NewSender.
type Sender struct {
	client  *http.Client
	timeout time.Duration
	headers map[string]string
}

// Option configures a Sender.
type Option func(*Sender)

// WithTimeout sets the per-request delivery timeout.
// Default is 5 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Sender) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithHTTPClient sets a custom HTTP client, e.g. for proxies or tests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		if client != nil {
			s.client = client
		}
	}
}

// WithHeader adds a header to every outbound request.
// Content-Type is always application/json and cannot be overridden.
func WithHeader(key, value string) Option {
	return func(s *Sender) {
		if key != "" && value != "" {
			s.headers[key] = value
		}
	}
}

// NewSender creates a webhook sender. The HTTP client reuses connections
// across deliveries; idle connections per endpoint are bounded to avoid leaks.
func NewSender(opts ...Option) *Sender {
	s := &Sender{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: 5 * time.Second,
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SendToAll delivers an event to every URL concurrently and returns one
// Delivery per URL, in input order. Non-2xx responses, connection errors, and
// timeouts are all reported uniformly as Success=false; a slow or hung target
// never blocks delivery to its siblings.
func (s *Sender) SendToAll(ctx context.Context, urls []string, event Event) []Delivery {
	results := make([]Delivery, len(urls))
	if len(urls) == 0 {
		return results
	}

	body, err := json.Marshal(event)
	if err != nil {
		for i, u := range urls {
			results[i] = Delivery{URL: u, Err: fmt.Errorf("failed to marshal webhook payload: %w", err)}
		}
		return results
	}

	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			results[i] = s.send(ctx, u, body)
		}(i, u)
	}
	wg.Wait()

	return results
}

// send makes a single POST attempt with timing and error capture.
func (s *Sender) send(ctx context.Context, target string, body []byte) Delivery {
	start := time.Now()
	d := Delivery{URL: target}

	if err := validateURL(target); err != nil {
		d.Err = err
		return d
	}

	// Layer the per-request timeout on top of the parent context so both
	// constraints are respected.
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		d.Duration = time.Since(start)
		d.Err = fmt.Errorf("failed to create request: %w", err)
		return d
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "realtime-webhook/1.0")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	d.Duration = time.Since(start)

	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			d.Err = fmt.Errorf("%w: %v", ErrTimeout, err)
		} else {
			d.Err = err
		}
		return d
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain a bounded amount so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	d.StatusCode = resp.StatusCode
	d.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !d.Success {
		d.Err = fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return d
}

// validateURL rejects anything that is not an absolute http(s) URL before a
// request is even built. Restricting schemes also prevents SSRF via
// file:// or custom protocol handlers.
func validateURL(target string) error {
	if target == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}

	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidURL)
	}

	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}

	return nil
}

// Delivered counts successful deliveries in a result set.
func Delivered(results []Delivery) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
