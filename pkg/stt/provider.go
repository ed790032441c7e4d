package stt

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/errors"
)

// Result is the outcome of one recognition request
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer defines the interface for speech-to-text engines. Recognize
// receives one finalized utterance of 16-bit little-endian PCM.
type Recognizer interface {
	// Initialize initializes the recognizer with any required configuration
	Initialize() error

	// Name returns the recognizer name
	Name() string

	// Recognize transcribes a complete utterance
	Recognize(ctx context.Context, pcm []byte, sampleRate int) (Result, error)
}

// ErrNoProviderAvailable is returned when no recognizer can serve a request
var ErrNoProviderAvailable = errors.New("no speech-to-text provider available")

// ProviderManager manages all speech-to-text recognizers
type ProviderManager struct {
	logger          *logrus.Logger
	providers       map[string]Recognizer
	defaultProvider string
}

// NewProviderManager creates a new provider manager
func NewProviderManager(logger *logrus.Logger, defaultProvider string) *ProviderManager {
	return &ProviderManager{
		logger:          logger,
		providers:       make(map[string]Recognizer),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider registers a speech-to-text recognizer
func (m *ProviderManager) RegisterProvider(provider Recognizer) error {
	if err := provider.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Error("Failed to initialize speech-to-text provider")
		return err
	}

	m.providers[provider.Name()] = provider
	m.logger.WithField("provider", provider.Name()).Info("Registered speech-to-text provider")

	return nil
}

// GetProvider returns a recognizer by name
func (m *ProviderManager) GetProvider(name string) (Recognizer, bool) {
	provider, exists := m.providers[name]
	return provider, exists
}

// GetDefaultProvider returns the default recognizer
func (m *ProviderManager) GetDefaultProvider() (Recognizer, bool) {
	return m.GetProvider(m.defaultProvider)
}

// Recognize routes an utterance to the named recognizer, falling back to
// the default when the requested one is absent
func (m *ProviderManager) Recognize(ctx context.Context, providerName string, pcm []byte, sampleRate int) (Result, error) {
	startTime := time.Now()

	provider, exists := m.GetProvider(providerName)
	if !exists {
		m.logger.WithFields(logrus.Fields{
			"provider":         providerName,
			"default_provider": m.defaultProvider,
		}).Warn("Provider not found, falling back to default")

		provider, exists = m.GetDefaultProvider()
		if !exists {
			return Result{}, ErrNoProviderAvailable
		}
	}

	result, err := provider.Recognize(ctx, pcm, sampleRate)

	m.logger.WithFields(logrus.Fields{
		"provider":    provider.Name(),
		"duration_ms": time.Since(startTime).Milliseconds(),
		"error":       err != nil,
	}).Debug("Recognition completed")

	return result, err
}
