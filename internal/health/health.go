// Package health probes the generation service before a channel is opened.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnavailable means the service did not report itself healthy.
var ErrUnavailable = errors.New("service unavailable")

// Response is the JSON body returned by the health endpoint.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Check requests url once and succeeds only when the JSON body carries
// status 200. Any transport, decoding or status failure wraps ErrUnavailable.
func Check(ctx context.Context, client *http.Client, url string) (Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Response{}, fmt.Errorf("%w: decode health response (HTTP %d): %v", ErrUnavailable, resp.StatusCode, err)
	}
	if body.Status != http.StatusOK {
		return body, fmt.Errorf("%w: reported status %d", ErrUnavailable, body.Status)
	}
	return body, nil
}

// WaitReady polls url until Check succeeds or timeout elapses.
func WaitReady(ctx context.Context, client *http.Client, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if _, lastErr = Check(ctx, client, url); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("service at %s not ready after %v: %w", url, timeout, lastErr)
}
