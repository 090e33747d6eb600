// Package emit is the fire-and-forget client the chat gateway embeds to
// hand message events to the memory server. A slow or dead memory
// server must never slow a conversational turn, so every send is
// bounded by a short timeout and wrapped in a circuit breaker.
package emit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mnemo-labs/mnemo/internal/engine"
)

const (
	defaultServerURL = "http://127.0.0.1:37740"
	sendTimeout      = 50 * time.Millisecond
)

// Client posts message events to the memory server.
type Client struct {
	http      *http.Client
	serverURL string
	breaker   *gobreaker.CircuitBreaker
}

// NewClient creates an emit client. Respects MNEMO_URL, falls back to
// http://127.0.0.1:37740.
func NewClient() *Client {
	url := os.Getenv("MNEMO_URL")
	if url == "" {
		url = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: sendTimeout},
		serverURL: url,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "mnemo-emit",
			Interval: 30 * time.Second,
			Timeout:  10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("emit: breaker %s %s -> %s", name, from, to)
			},
		}),
	}
}

// Send posts one message event. Returns an error for callers that want
// to know; most should use SendAsync.
func (c *Client) Send(ev engine.MessageEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, err = c.breaker.Execute(func() (any, error) {
		resp, err := c.http.Post(c.serverURL+"/api/messages", "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("POST /api/messages: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("POST /api/messages: status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// SendAsync posts one message event in the background. Failures are
// logged and dropped; the caller's turn is never touched.
func (c *Client) SendAsync(ev engine.MessageEvent) {
	go func() {
		if err := c.Send(ev); err != nil {
			log.Printf("emit: dropped event for %s/%s: %v", ev.UserID, ev.ThreadID, err)
		}
	}()
}

// Healthy checks whether the memory server answers its health endpoint.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
