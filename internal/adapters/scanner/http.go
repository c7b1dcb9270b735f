// Package scanner holds the malware scanning adapters
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// errNotFound marks a lookup that the provider does not know yet
var errNotFound = errors.New("not found at provider")

const maxReportBytes = 4 << 20

// PollConfig bounds how long a scanner waits for a queued analysis
type PollConfig struct {
	Interval time.Duration
	MaxPolls int
}

// apiClient is the HTTP plumbing shared by the REST scanners
type apiClient struct {
	http    *http.Client
	baseURL string
	poll    PollConfig
}

func newAPIClient(baseURL string, timeout time.Duration, poll PollConfig) apiClient {
	if poll.MaxPolls <= 0 {
		poll.MaxPolls = 1
	}
	return apiClient{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		poll:    poll,
	}
}

// do sends the request and returns the raw body of a 2xx response
func (c apiClient) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON response")
	}
	return body, nil
}

// wait sleeps for one poll interval or until ctx is done
func (c apiClient) wait(ctx context.Context) error {
	if c.poll.Interval <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.poll.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
