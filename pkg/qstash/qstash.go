package qstash

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
)

type Config struct {
	URL         string        `split_words:"true" default:"https://qstash.upstash.io"`
	Token       string        `split_words:"true"`
	Destination string        `split_words:"true"`
	Retries     int           `split_words:"true" default:"3"`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

// Enabled reports whether confirmations should be published.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.Destination) != ""
}

type Client struct {
	baseURL     string
	token       string
	destination string
	retries     int
	httpClient  *http.Client
}

type PublishOptions struct {
	// DeduplicationID makes QStash drop repeated publishes of the same message.
	DeduplicationID string
	Headers         map[string]string
}

type PublishResult struct {
	MessageID    string `json:"messageId"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("qstash token is required")
	}
	destination := strings.TrimSpace(cfg.Destination)
	if _, err := url.ParseRequestURI(destination); err != nil {
		return nil, fmt.Errorf("invalid qstash destination: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		destination: destination,
		retries:     cfg.Retries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// Publish enqueues body as JSON for delivery to the configured destination.
func (c *Client) Publish(ctx context.Context, body any, opts PublishOptions) (PublishResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return PublishResult{}, fmt.Errorf("marshal qstash body: %w", err)
	}

	endpoint := c.baseURL + "/v2/publish/" + c.destination
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return PublishResult{}, fmt.Errorf("build qstash request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if c.retries >= 0 {
		req.Header.Set("Upstash-Retries", strconv.Itoa(c.retries))
	}
	if opts.DeduplicationID != "" {
		req.Header.Set("Upstash-Deduplication-Id", opts.DeduplicationID)
	}
	for k, v := range opts.Headers {
		// forwarded to the destination
		req.Header.Set("Upstash-Forward-"+k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PublishResult{}, fmt.Errorf("execute qstash request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PublishResult{}, fmt.Errorf("read qstash response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return PublishResult{}, fmt.Errorf("qstash http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var out PublishResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return PublishResult{}, fmt.Errorf("decode qstash response: %w", err)
	}
	return out, nil
}
