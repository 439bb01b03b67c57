package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nerrad567/tankwatch/internal/infrastructure/config"
)

const (
	defaultScheme  = "https"
	defaultTimeout = 10 * time.Second

	// maxDrain bounds how much of an error response is read before closing.
	maxDrain = 4 << 10
)

// Client posts payloads to one collector host.
type Client struct {
	base *url.URL
	http *http.Client
}

// New builds a client from configuration.
func New(cfg config.CollectorConfig) (*Client, error) {
	if cfg.Host == "" {
		return nil, ErrHostRequired
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = defaultScheme
	}
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &Client{
		base: &url.URL{Scheme: scheme, Host: cfg.Host},
		http: &http.Client{Timeout: timeout},
	}, nil
}

// URL returns the notify endpoint of a tank.
func (c *Client) URL(tankID string) string {
	return c.base.JoinPath("api", "tanks", "notify", tankID).String()
}

// Post sends payload as the JSON body for tankID.
func (c *Client) Post(ctx context.Context, tankID string, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(tankID), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("collector: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("collector: notify %s: %w", tankID, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{TankID: tankID, Code: resp.StatusCode}
	}
	return nil
}
