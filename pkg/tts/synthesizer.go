package tts

import (
	"context"
)

// Synthesizer defines the interface for text-to-speech engines. Synthesize
// returns 16-bit little-endian mono PCM at the engine's SampleRate.
type Synthesizer interface {
	// Initialize initializes the synthesizer with any required configuration
	Initialize() error

	// Name returns the synthesizer name
	Name() string

	// SampleRate returns the PCM sample rate the engine produces
	SampleRate() int

	// Synthesize renders one text chunk to PCM
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
