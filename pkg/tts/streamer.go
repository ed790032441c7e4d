package tts

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/errors"
	"voiceagent-server/pkg/media"
	"voiceagent-server/pkg/metrics"
)

// FrameSink receives rendered outbound audio frames. The media transport
// satisfies this.
type FrameSink interface {
	Send(frame media.Frame) error
}

// StreamerConfig holds speech streaming settings
type StreamerConfig struct {
	// FrameDuration of each outbound frame handed to the sink
	FrameDuration time.Duration

	// MaxChunkChars bounds each synthesis request so the first audio
	// starts quickly
	MaxChunkChars int

	// ApologyText is spoken when synthesis of a reply fails outright
	ApologyText string
}

// DefaultStreamerConfig returns streaming defaults
func DefaultStreamerConfig() StreamerConfig {
	return StreamerConfig{
		FrameDuration: 20 * time.Millisecond,
		MaxChunkChars: 200,
		ApologyText:   "Sorry, I'm having trouble speaking right now. Could you say that again?",
	}
}

// Streamer renders agent replies sentence by sentence and feeds the frames
// to the media transport. A reply in progress can be cancelled at any frame
// boundary, which is how barge-in cuts the agent off mid-word.
type Streamer struct {
	config StreamerConfig
	synth  Synthesizer
	sink   FrameSink
	logger *logrus.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	speaking bool
}

// NewStreamer creates a speech streamer
func NewStreamer(config StreamerConfig, synth Synthesizer, sink FrameSink, logger *logrus.Logger) *Streamer {
	if config.FrameDuration <= 0 {
		config.FrameDuration = DefaultStreamerConfig().FrameDuration
	}
	if config.MaxChunkChars <= 0 {
		config.MaxChunkChars = DefaultStreamerConfig().MaxChunkChars
	}

	return &Streamer{
		config: config,
		synth:  synth,
		sink:   sink,
		logger: logger,
	}
}

// IsSpeaking reports whether a reply is currently being rendered
func (s *Streamer) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Cancel aborts the reply currently being rendered, if any. Safe to call
// when nothing is speaking.
func (s *Streamer) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	speaking := s.speaking
	s.mu.Unlock()

	if speaking && cancel != nil {
		cancel()
		metrics.RecordTTSCancellation()
	}
}

// Speak renders text and streams it to the sink. It blocks until the whole
// reply has been handed off, the context is cancelled, or synthesis fails.
// A cancelled reply returns context.Canceled.
func (s *Streamer) Speak(ctx context.Context, text string) error {
	chunks := SplitForTTS(text, s.config.MaxChunkChars)
	if len(chunks) == 0 {
		return nil
	}

	speakCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.speaking = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.speaking = false
		s.mu.Unlock()
	}()

	started := time.Now()
	for i, chunk := range chunks {
		pcm, err := s.synth.Synthesize(speakCtx, chunk)
		if err != nil {
			if speakCtx.Err() != nil {
				metrics.RecordSynthesis(s.synth.Name(), "cancelled")
				return context.Canceled
			}
			metrics.RecordSynthesis(s.synth.Name(), "error")
			s.logger.WithFields(logrus.Fields{
				"chunk": i,
				"error": err,
			}).Error("Synthesis failed mid-reply")
			return s.speakApology(speakCtx, err)
		}

		if i == 0 {
			metrics.ObserveFirstChunk(s.synth.Name(), time.Since(started))
		}

		if err := s.streamPCM(speakCtx, pcm); err != nil {
			if speakCtx.Err() != nil {
				metrics.RecordSynthesis(s.synth.Name(), "cancelled")
				return context.Canceled
			}
			return err
		}
	}

	metrics.RecordSynthesis(s.synth.Name(), "ok")
	return nil
}

// speakApology makes one attempt at the fallback line before giving up
func (s *Streamer) speakApology(ctx context.Context, cause error) error {
	if s.config.ApologyText == "" {
		return errors.Wrap(errors.ErrSynthesisFailed, cause.Error())
	}

	pcm, err := s.synth.Synthesize(ctx, s.config.ApologyText)
	if err != nil {
		return errors.Wrap(errors.ErrSynthesisFailed, cause.Error())
	}
	if err := s.streamPCM(ctx, pcm); err != nil {
		return errors.Wrap(errors.ErrSynthesisFailed, cause.Error())
	}
	return errors.Wrap(errors.ErrSynthesisFailed, cause.Error())
}

// streamPCM slices rendered audio into fixed-duration frames and hands them
// to the sink, checking for cancellation at every frame boundary
func (s *Streamer) streamPCM(ctx context.Context, pcm []byte) error {
	frameBytes := s.synth.SampleRate() * 2 * int(s.config.FrameDuration.Milliseconds()) / 1000

	for off := 0; off < len(pcm); off += frameBytes {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		end := off + frameBytes
		frame := make([]byte, frameBytes)
		if end > len(pcm) {
			copy(frame, pcm[off:])
		} else {
			copy(frame, pcm[off:end])
		}

		if err := s.sink.Send(media.Frame{
			Direction: media.DirectionOutbound,
			Payload:   frame,
			Timestamp: time.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}
