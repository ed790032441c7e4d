package audio

import (
	"math"
	"sort"
	"sync"
)

// Config holds voice activity detector tuning
type Config struct {
	// SampleRate of the PCM frames fed to the detector
	SampleRate int

	// FrameSize in samples (20ms frames by default)
	FrameSize int

	// BaseThreshold is the RMS level used until enough history has
	// accumulated for adaptive thresholding (raw int16 RMS units)
	BaseThreshold float64

	// HoldFrames keeps voice detection asserted this many frames after
	// energy drops below the threshold, bridging short intra-word pauses
	HoldFrames int

	// AdaptiveWindow is the number of recent frames tracked for the
	// percentile threshold estimate
	AdaptiveWindow int

	// Multiplier scales the ambient baseline into the voice threshold
	Multiplier float64

	// MinThreshold/MaxThreshold clamp the adaptive threshold
	MinThreshold float64
	MaxThreshold float64
}

// DefaultConfig returns detector defaults tuned for telephony speech
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		FrameSize:      320, // 20ms at 16kHz
		BaseThreshold:  500,
		HoldFrames:     10, // 200ms at 20ms frames
		AdaptiveWindow: 1500,
		Multiplier:     1.5,
		MinThreshold:   300,
		MaxThreshold:   2000,
	}
}

// minHistoryFrames is how much history the adaptive threshold needs before
// it replaces BaseThreshold (about one second of audio)
const minHistoryFrames = 50

// Detector implements energy-based voice activity detection with an
// adaptive threshold derived from the 85th percentile of recent levels
type Detector struct {
	config Config

	mu          sync.Mutex
	holdCounter int
	voiceActive bool

	history    []float64
	historyIdx int
	historyLen int
}

// NewDetector creates a voice activity detector
func NewDetector(config Config) *Detector {
	if config.AdaptiveWindow <= 0 {
		config.AdaptiveWindow = DefaultConfig().AdaptiveWindow
	}
	if config.Multiplier <= 0 {
		config.Multiplier = DefaultConfig().Multiplier
	}
	if config.BaseThreshold <= 0 {
		config.BaseThreshold = DefaultConfig().BaseThreshold
	}

	return &Detector{
		config:  config,
		history: make([]float64, config.AdaptiveWindow),
	}
}

// ProcessFrame updates detector state with one PCM frame and reports
// whether voice is currently active
func (d *Detector) ProcessFrame(pcm []byte) bool {
	energy := RMSEnergy(pcm)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.history[d.historyIdx] = energy
	d.historyIdx = (d.historyIdx + 1) % len(d.history)
	if d.historyLen < len(d.history) {
		d.historyLen++
	}

	threshold := d.adaptiveThreshold()

	if energy > threshold {
		d.voiceActive = true
		d.holdCounter = d.config.HoldFrames
	} else if d.holdCounter > 0 {
		d.holdCounter--
		d.voiceActive = true
	} else {
		d.voiceActive = false
	}

	return d.voiceActive
}

// IsVoiceActive returns the current voice activity state
func (d *Detector) IsVoiceActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voiceActive
}

// Threshold returns the effective RMS threshold currently in use
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.adaptiveThreshold()
}

// Reset clears all detector state
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.holdCounter = 0
	d.voiceActive = false
	d.historyIdx = 0
	d.historyLen = 0
	for i := range d.history {
		d.history[i] = 0
	}
}

// adaptiveThreshold derives the voice threshold from the 85th percentile
// of recent frame energies. Callers must hold d.mu.
func (d *Detector) adaptiveThreshold() float64 {
	if d.historyLen < minHistoryFrames {
		return d.config.BaseThreshold
	}

	levels := make([]float64, d.historyLen)
	copy(levels, d.history[:d.historyLen])
	sort.Float64s(levels)

	baseline := levels[int(float64(len(levels))*0.85)]
	threshold := baseline * d.config.Multiplier

	if threshold < d.config.MinThreshold {
		return d.config.MinThreshold
	}
	if threshold > d.config.MaxThreshold {
		return d.config.MaxThreshold
	}
	return threshold
}

// RMSEnergy computes the root mean square of a 16-bit little-endian PCM
// frame in raw sample units
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(pcm[2*i]) | (int16(pcm[2*i+1]) << 8))
		sum += s * s
	}
	return math.Sqrt(sum / float64(samples))
}
