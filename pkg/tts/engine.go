package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/errors"
	"voiceagent-server/pkg/version"
)

// EngineConfig holds HTTP synthesis engine settings
type EngineConfig struct {
	// URL of the synthesis endpoint, e.g. http://localhost:8880/synthesize
	URL string

	// Voice identifier passed to the engine
	Voice string

	// Speed multiplier for speech rate
	Speed float64

	// SampleRate of the PCM the engine returns
	SampleRate int

	// Timeout per synthesis request
	Timeout time.Duration
}

// DefaultEngineConfig returns engine defaults for a local synthesis server
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		URL:        "http://localhost:8880/synthesize",
		Voice:      "am_adam",
		Speed:      1.0,
		SampleRate: 24000,
		Timeout:    15 * time.Second,
	}
}

// EngineProvider synthesizes speech through an HTTP synthesis server that
// accepts JSON requests and returns raw 16-bit PCM
type EngineProvider struct {
	logger     *logrus.Logger
	config     EngineConfig
	httpClient *http.Client
}

type engineRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

// NewEngineProvider creates an HTTP synthesis provider
func NewEngineProvider(logger *logrus.Logger, config EngineConfig) *EngineProvider {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultEngineConfig().SampleRate
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultEngineConfig().Timeout
	}

	return &EngineProvider{
		logger: logger,
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Initialize validates the engine configuration
func (p *EngineProvider) Initialize() error {
	if p.config.URL == "" {
		return errors.New("synthesis engine URL not configured")
	}
	return nil
}

// Name returns the synthesizer name
func (p *EngineProvider) Name() string {
	return "engine"
}

// SampleRate returns the PCM sample rate the engine produces
func (p *EngineProvider) SampleRate() int {
	return p.config.SampleRate
}

// Synthesize posts one text chunk and returns the rendered PCM
func (p *EngineProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(engineRequest{
		Text:  text,
		Voice: p.config.Voice,
		Speed: p.config.Speed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode synthesis request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create synthesis request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSynthesisFailed, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"detail": string(detail),
		}).Error("Synthesis request rejected")
		return nil, errors.Wrap(errors.ErrSynthesisFailed,
			fmt.Sprintf("synthesis endpoint returned status %d", resp.StatusCode))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSynthesisFailed, "failed to read synthesis response")
	}
	if len(pcm) == 0 {
		return nil, errors.Wrap(errors.ErrSynthesisFailed, "synthesis returned no audio")
	}

	return pcm, nil
}
