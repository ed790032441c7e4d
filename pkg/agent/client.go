package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/errors"
	"voiceagent-server/pkg/metrics"
	"voiceagent-server/pkg/version"
)

// Service is the conversational agent the orchestrator talks to
type Service interface {
	Respond(ctx context.Context, req Request) (Response, error)
}

// ClientConfig holds agent service connection settings
type ClientConfig struct {
	// URL of the agent's respond endpoint
	URL string

	// Timeout per request attempt
	Timeout time.Duration

	// MaxRetries after the first attempt
	MaxRetries uint64

	// InitialBackoff before the first retry
	InitialBackoff time.Duration
}

// DefaultClientConfig returns agent client defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:        10 * time.Second,
		MaxRetries:     1,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// Client calls the agent service over HTTP with bounded retries. Transport
// failures and 5xx responses are retried; 4xx responses are not.
type Client struct {
	logger     *logrus.Logger
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates an agent service client
func NewClient(logger *logrus.Logger, config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultClientConfig().Timeout
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultClientConfig().InitialBackoff
	}

	return &Client{
		logger: logger,
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Respond sends one turn to the agent service. Exhausted retries surface as
// an agent-unavailable error so the session can degrade gracefully.
func (c *Client) Respond(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, errors.Wrap(err, "failed to encode agent request")
	}

	var response Response
	attempt := 0

	op := func() error {
		if attempt > 0 {
			metrics.RecordAgentRetry()
		}
		attempt++

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("User-Agent", version.UserAgent())

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("agent service returned status %d: %s", resp.StatusCode, detail)
		}
		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("agent service rejected request with status %d: %s", resp.StatusCode, detail))
		}

		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return fmt.Errorf("failed to decode agent response: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialBackoff

	err = backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx))
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"session_id": req.SessionID,
			"attempts":   attempt,
			"error":      err,
		}).Error("Agent service unreachable")
		return Response{}, errors.NewAgentUnavailable(err.Error())
	}

	return response, nil
}
