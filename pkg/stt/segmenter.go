package stt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/audio"
	"voiceagent-server/pkg/metrics"
)

// Segment is one finalized caller utterance with its transcript
type Segment struct {
	ID         string
	Text       string
	Confidence float64

	// Start and End are offsets from the beginning of the media stream
	Start time.Duration
	End   time.Duration

	// Degraded marks a segment whose recognition failed; Text is empty and
	// callers decide whether to reprompt
	Degraded bool
}

// SegmenterConfig holds utterance segmentation tuning
type SegmenterConfig struct {
	// SampleRate of the PCM frames fed to the segmenter
	SampleRate int

	// FrameDuration of each inbound frame
	FrameDuration time.Duration

	// SilenceDuration of sustained silence that finalizes an utterance
	SilenceDuration time.Duration

	// MinUtterance discards utterances shorter than this
	MinUtterance time.Duration

	// MaxUtterance force-finalizes an utterance that never pauses
	MaxUtterance time.Duration

	// Provider names the recognizer to route utterances to
	Provider string

	// QueueSize bounds the utterances awaiting recognition
	QueueSize int
}

// DefaultSegmenterConfig returns segmentation defaults for telephony speech
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SampleRate:      16000,
		FrameDuration:   20 * time.Millisecond,
		SilenceDuration: 700 * time.Millisecond,
		MinUtterance:    300 * time.Millisecond,
		MaxUtterance:    15 * time.Second,
		Provider:        "mock",
		QueueSize:       4,
	}
}

// silenceArtifacts are transcripts recognizers emit for non-speech audio.
// Segments matching one of these are dropped instead of surfaced.
var silenceArtifacts = []string{
	"[blank_audio]",
	"[silence]",
	"[inaudible]",
	"[no speech]",
	"(silence)",
	"...",
	"thank you.",
}

type utterance struct {
	pcm   []byte
	start time.Duration
	end   time.Duration
}

// Segmenter accumulates inbound PCM into utterances using voice activity
// detection and emits one transcript Segment per utterance. Frames flow in
// through ProcessFrame on the media loop; recognition runs on a single
// worker goroutine so segments surface in finalization order.
type Segmenter struct {
	config   SegmenterConfig
	logger   *logrus.Logger
	detector *audio.Detector
	manager  *ProviderManager

	mu        sync.Mutex
	buf       []byte
	buffering bool
	voiced    int
	start     time.Duration
	elapsed   time.Duration
	silence   time.Duration

	work      chan utterance
	out       chan Segment
	done      chan struct{}
	closeOnce sync.Once
}

// NewSegmenter creates a segmenter and starts its recognition worker
func NewSegmenter(config SegmenterConfig, detector *audio.Detector, manager *ProviderManager, logger *logrus.Logger) *Segmenter {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultSegmenterConfig().QueueSize
	}

	s := &Segmenter{
		config:   config,
		logger:   logger,
		detector: detector,
		manager:  manager,
		work:     make(chan utterance, config.QueueSize),
		out:      make(chan Segment, config.QueueSize),
		done:     make(chan struct{}),
	}
	go s.recognitionLoop()
	return s
}

// Segments is the channel of finalized transcript segments
func (s *Segmenter) Segments() <-chan Segment {
	return s.out
}

// ProcessFrame feeds one inbound PCM frame into segmentation. It returns
// true while the caller's voice is active, which the session layer uses for
// barge-in detection.
func (s *Segmenter) ProcessFrame(pcm []byte) bool {
	voice := s.detector.ProcessFrame(pcm)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.elapsed += s.config.FrameDuration

	if voice {
		if !s.buffering {
			s.buffering = true
			s.start = s.elapsed - s.config.FrameDuration
			s.buf = s.buf[:0]
		}
		s.silence = 0
		s.buf = append(s.buf, pcm...)
		s.voiced = len(s.buf)

		if s.bufferedDuration() >= s.config.MaxUtterance {
			s.finalizeLocked()
		}
		return true
	}

	if s.buffering {
		// Trailing silence is kept so recognizers see natural word endings
		s.buf = append(s.buf, pcm...)
		s.silence += s.config.FrameDuration
		if s.silence >= s.config.SilenceDuration {
			s.finalizeLocked()
		}
	}
	return false
}

// Flush finalizes any in-progress utterance immediately. The session layer
// calls this on barge-in so interrupted speech is not lost.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeLocked()
}

// Close stops the recognition worker. No segments are emitted afterwards.
func (s *Segmenter) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Segmenter) bufferedDuration() time.Duration {
	return s.pcmDuration(len(s.buf))
}

func (s *Segmenter) pcmDuration(bytes int) time.Duration {
	bytesPerSecond := s.config.SampleRate * 2
	return time.Duration(bytes) * time.Second / time.Duration(bytesPerSecond)
}

// finalizeLocked hands the buffered utterance to the recognition worker.
// Callers must hold s.mu.
func (s *Segmenter) finalizeLocked() {
	if !s.buffering {
		return
	}
	s.buffering = false
	s.silence = 0

	// Judge utterance length by voiced audio only, not the trailing
	// silence that triggered finalization
	speechDuration := s.pcmDuration(s.voiced)
	s.voiced = 0
	if speechDuration < s.config.MinUtterance {
		s.logger.WithField("duration_ms", speechDuration.Milliseconds()).Debug("Discarding sub-minimum utterance")
		s.buf = s.buf[:0]
		return
	}
	duration := s.bufferedDuration()

	pcm := make([]byte, len(s.buf))
	copy(pcm, s.buf)
	s.buf = s.buf[:0]

	u := utterance{pcm: pcm, start: s.start, end: s.start + duration}
	select {
	case s.work <- u:
	default:
		s.logger.Warn("Recognition queue full, dropping utterance")
		metrics.RecordSTTError(s.config.Provider)
	}
}

func (s *Segmenter) recognitionLoop() {
	for {
		select {
		case <-s.done:
			return
		case u := <-s.work:
			s.recognize(u)
		}
	}
}

func (s *Segmenter) recognize(u utterance) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	observe := metrics.ObserveSTTLatency(s.config.Provider)
	result, err := s.manager.Recognize(ctx, s.config.Provider, u.pcm, s.config.SampleRate)
	observe()

	segment := Segment{
		ID:    uuid.New().String(),
		Start: u.start,
		End:   u.end,
	}

	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"provider":    s.config.Provider,
			"duration_ms": (u.end - u.start).Milliseconds(),
			"error":       err,
		}).Error("Recognition failed, emitting degraded segment")
		metrics.RecordSTTError(s.config.Provider)
		metrics.RecordSegment(s.config.Provider, "degraded", 0)
		segment.Degraded = true
		s.emit(segment)
		return
	}

	text := strings.TrimSpace(result.Text)
	if text == "" || isSilenceArtifact(text) {
		s.logger.WithField("text", text).Debug("Dropping silence artifact transcript")
		return
	}

	segment.Text = text
	segment.Confidence = result.Confidence

	metrics.RecordSegment(s.config.Provider, "ok", len(strings.Fields(text)))

	s.emit(segment)
}

func (s *Segmenter) emit(segment Segment) {
	select {
	case s.out <- segment:
	case <-s.done:
	}
}

// isSilenceArtifact reports whether a transcript is a recognizer artifact
// for silence or background noise rather than caller speech
func isSilenceArtifact(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, artifact := range silenceArtifacts {
		if normalized == artifact {
			return true
		}
	}
	return false
}
