package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func constantFrame(amplitude int16, samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		out[2*i] = byte(amplitude)
		out[2*i+1] = byte(amplitude >> 8)
	}
	return out
}

func TestRMSEnergy(t *testing.T) {
	assert.Equal(t, 0.0, RMSEnergy(nil))
	assert.Equal(t, 0.0, RMSEnergy(make([]byte, 320)))

	// A constant-amplitude frame has RMS equal to that amplitude
	frame := constantFrame(10000, 160)
	assert.InDelta(t, 10000, RMSEnergy(frame), 1)
}

func TestDetectorThresholdAndHold(t *testing.T) {
	config := DefaultConfig()
	config.HoldFrames = 2
	d := NewDetector(config)

	silence := make([]byte, 640)
	loud := constantFrame(10000, 320)

	assert.False(t, d.ProcessFrame(silence), "no voice in initial silence")

	assert.True(t, d.ProcessFrame(loud), "loud frame should trip detection")

	// Hold period bridges short pauses
	assert.True(t, d.ProcessFrame(silence), "hold frame 1")
	assert.True(t, d.ProcessFrame(silence), "hold frame 2")
	assert.False(t, d.ProcessFrame(silence), "inactive after hold expires")
	assert.False(t, d.IsVoiceActive())
}

func TestAdaptiveThresholdUsesBaseUntilHistoryFills(t *testing.T) {
	d := NewDetector(DefaultConfig())

	quiet := constantFrame(10, 320)
	for i := 0; i < minHistoryFrames-1; i++ {
		d.ProcessFrame(quiet)
	}
	assert.Equal(t, DefaultConfig().BaseThreshold, d.Threshold())

	// One more frame crosses the history minimum; a quiet room clamps to
	// the threshold floor
	d.ProcessFrame(quiet)
	assert.Equal(t, DefaultConfig().MinThreshold, d.Threshold())
}

func TestAdaptiveThresholdClampsCeiling(t *testing.T) {
	config := DefaultConfig()
	d := NewDetector(config)

	noisy := constantFrame(20000, 320)
	for i := 0; i < minHistoryFrames+10; i++ {
		d.ProcessFrame(noisy)
	}
	assert.Equal(t, config.MaxThreshold, d.Threshold())
}

func TestDetectorReset(t *testing.T) {
	d := NewDetector(DefaultConfig())
	d.ProcessFrame(constantFrame(10000, 320))
	assert.True(t, d.IsVoiceActive())

	d.Reset()
	assert.False(t, d.IsVoiceActive())
	assert.Equal(t, DefaultConfig().BaseThreshold, d.Threshold())
}
