package sdapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig defines retry behavior for inference requests.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []int // HTTP status codes that should be retried
}

// DefaultRetryConfig matches the handler contract: ten attempts with
// exponential backoff starting at 100ms, retrying only gateway errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     10,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		BackoffFactor:   2.0,
		RetryableErrors: []int{502, 503, 504},
	}
}

// Client talks to the image-generation backend's local HTTP API
// (the /sdapi/v1 surface of the webui run with --api --nowebui).
type Client struct {
	baseURL string
	client  *http.Client
	retry   RetryConfig
}

// NewClient creates a client for the backend listening on the loopback port.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		retry:   DefaultRetryConfig(),
	}
}

// SetRetry overrides the default retry behavior.
func (c *Client) SetRetry(retry RetryConfig) {
	if retry.MaxAttempts > 0 {
		c.retry = retry
	}
}

// Ping performs a single readiness check against the model list endpoint.
// Any response other than 200 means the backend is not ready yet.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sdapi/v1/sd-models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend not ready: status %d", resp.StatusCode)
	}
	return nil
}

// Models returns the backend's installed checkpoints.
func (c *Client) Models(ctx context.Context) ([]SDModel, error) {
	body, err := c.do(ctx, http.MethodGet, "/sdapi/v1/sd-models", nil)
	if err != nil {
		return nil, err
	}
	var models []SDModel
	if err := json.Unmarshal(body, &models); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	return models, nil
}

// Txt2Img submits an inference request. The payload is passed through to the
// backend unmodified and the backend's JSON response is returned as-is; the
// request schema belongs to the webui project, not to this worker.
func (c *Client) Txt2Img(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/sdapi/v1/txt2img", payload)
}

// do executes an HTTP request against the backend with retry logic.
// Transport errors and gateway statuses are retried with exponential backoff;
// other HTTP errors surface immediately as *APIError.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (json.RawMessage, error) {
	url := c.baseURL + path
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.calculateDelay(attempt - 1)
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt+1).
				Int("max_attempts", c.retry.MaxAttempts).
				Dur("delay", delay).
				Str("url", url).
				Msg("Backend request failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}

		if c.shouldRetry(resp.StatusCode) {
			lastErr = fmt.Errorf("backend returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
		}
		return body, nil
	}

	return nil, fmt.Errorf("backend request failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// shouldRetry determines if a status code should trigger a retry.
func (c *Client) shouldRetry(statusCode int) bool {
	for _, code := range c.retry.RetryableErrors {
		if statusCode == code {
			return true
		}
	}
	return false
}

// calculateDelay calculates exponential backoff delay with jitter.
func (c *Client) calculateDelay(attempt int) time.Duration {
	delay := float64(c.retry.InitialDelay) * math.Pow(c.retry.BackoffFactor, float64(attempt))

	// Apply jitter (±25%)
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	delay += jitter

	if delay > float64(c.retry.MaxDelay) {
		delay = float64(c.retry.MaxDelay)
	}
	return time.Duration(delay)
}
