package stt

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent-server/pkg/audio"
	"voiceagent-server/pkg/errors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestSegmenter(t *testing.T, mock *MockProvider) *Segmenter {
	t.Helper()

	manager := NewProviderManager(testLogger(), "mock")
	require.NoError(t, manager.RegisterProvider(mock))

	vadConfig := audio.DefaultConfig()
	vadConfig.HoldFrames = 0
	detector := audio.NewDetector(vadConfig)

	s := NewSegmenter(DefaultSegmenterConfig(), detector, manager, testLogger())
	t.Cleanup(s.Close)
	return s
}

func speechFrame() []byte {
	// Constant amplitude well above the detection floor
	out := make([]byte, 640)
	for i := 0; i < 320; i++ {
		out[2*i] = byte(10000 & 0xFF)
		out[2*i+1] = byte(10000 >> 8)
	}
	return out
}

func silenceFrame() []byte {
	return make([]byte, 640)
}

func feed(s *Segmenter, frame []byte, count int) {
	for i := 0; i < count; i++ {
		s.ProcessFrame(frame)
	}
}

func awaitSegment(t *testing.T, s *Segmenter) Segment {
	t.Helper()
	select {
	case segment := <-s.Segments():
		return segment
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for segment")
		return Segment{}
	}
}

func TestSpeechFollowedBySilenceEmitsOneSegment(t *testing.T) {
	mock := NewMockProvider(testLogger())
	mock.Script(Result{Text: "I would like to book an appointment", Confidence: 0.92})
	s := newTestSegmenter(t, mock)

	// Two seconds of speech, then 800ms of silence
	feed(s, speechFrame(), 100)
	feed(s, silenceFrame(), 40)

	segment := awaitSegment(t, s)
	assert.Equal(t, "I would like to book an appointment", segment.Text)
	assert.InDelta(t, 0.92, segment.Confidence, 0.001)
	assert.False(t, segment.Degraded)
	assert.NotEmpty(t, segment.ID)

	// Speech started at offset zero and the segment spans it plus the
	// finalizing silence window
	assert.Equal(t, time.Duration(0), segment.Start)
	assert.GreaterOrEqual(t, segment.End, 2*time.Second)
	assert.LessOrEqual(t, segment.End, 2*time.Second+DefaultSegmenterConfig().SilenceDuration)

	assert.Equal(t, 1, mock.Calls(), "exactly one recognition request")

	select {
	case extra := <-s.Segments():
		t.Fatalf("unexpected second segment: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestShortBlipIsDiscarded(t *testing.T) {
	mock := NewMockProvider(testLogger())
	s := newTestSegmenter(t, mock)

	// 100ms of speech is below the minimum utterance length
	feed(s, speechFrame(), 5)
	feed(s, silenceFrame(), 40)

	select {
	case segment := <-s.Segments():
		t.Fatalf("blip should not produce a segment: %+v", segment)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 0, mock.Calls())
}

func TestFlushFinalizesInProgressUtterance(t *testing.T) {
	mock := NewMockProvider(testLogger())
	mock.Script(Result{Text: "wait, actually", Confidence: 0.8})
	s := newTestSegmenter(t, mock)

	// One second of speech with no trailing silence yet
	feed(s, speechFrame(), 50)
	s.Flush()

	segment := awaitSegment(t, s)
	assert.Equal(t, "wait, actually", segment.Text)

	// Flush with nothing buffered is a no-op
	s.Flush()
	assert.Equal(t, 1, mock.Calls())
}

func TestRecognitionErrorEmitsDegradedSegment(t *testing.T) {
	mock := NewMockProvider(testLogger())
	mock.Fail(errors.ErrRecognitionFailed)
	s := newTestSegmenter(t, mock)

	feed(s, speechFrame(), 100)
	feed(s, silenceFrame(), 40)

	segment := awaitSegment(t, s)
	assert.True(t, segment.Degraded)
	assert.Empty(t, segment.Text)
}

func TestSilenceArtifactsAreDropped(t *testing.T) {
	mock := NewMockProvider(testLogger())
	mock.Script(Result{Text: " [BLANK_AUDIO] ", Confidence: 0.3})
	s := newTestSegmenter(t, mock)

	feed(s, speechFrame(), 100)
	feed(s, silenceFrame(), 40)

	select {
	case segment := <-s.Segments():
		t.Fatalf("artifact should not surface: %+v", segment)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, 1, mock.Calls(), "artifact is still recognized, just not surfaced")
}

func TestMaxUtteranceForcesFinalization(t *testing.T) {
	mock := NewMockProvider(testLogger())
	mock.Script(Result{Text: "a very long monologue", Confidence: 0.9})

	manager := NewProviderManager(testLogger(), "mock")
	require.NoError(t, manager.RegisterProvider(mock))

	config := DefaultSegmenterConfig()
	config.MaxUtterance = time.Second

	vadConfig := audio.DefaultConfig()
	vadConfig.HoldFrames = 0
	s := NewSegmenter(config, audio.NewDetector(vadConfig), manager, testLogger())
	t.Cleanup(s.Close)

	// Continuous speech with no pause at all
	feed(s, speechFrame(), 60)

	segment := awaitSegment(t, s)
	assert.Equal(t, "a very long monologue", segment.Text)
	assert.GreaterOrEqual(t, segment.End-segment.Start, time.Second)
}

func TestProviderManagerFallsBackToDefault(t *testing.T) {
	mock := NewMockProvider(testLogger())
	mock.Script(Result{Text: "fallback", Confidence: 0.5})

	manager := NewProviderManager(testLogger(), "mock")
	require.NoError(t, manager.RegisterProvider(mock))

	result, err := manager.Recognize(context.Background(), "whisper", make([]byte, 640), 16000)
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Text)
}
