package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/agent"
	"voiceagent-server/pkg/errors"
	"voiceagent-server/pkg/media"
	"voiceagent-server/pkg/messaging"
	"voiceagent-server/pkg/metrics"
	"voiceagent-server/pkg/stt"
	"voiceagent-server/pkg/tools"
)

// Transport is the media stream the coordinator reads and writes. The
// websocket stream transport satisfies this.
type Transport interface {
	Receive(ctx context.Context) (media.Frame, error)
	Send(frame media.Frame) error
	Clear() error
	Info() media.StreamInfo
	Started() <-chan struct{}
	Close() error
}

// SegmentSource turns inbound frames into transcript segments. The
// speech-to-text segmenter satisfies this.
type SegmentSource interface {
	ProcessFrame(pcm []byte) bool
	Segments() <-chan stt.Segment
	Flush()
	Close()
}

// Conversation runs agent turns. The orchestrator satisfies this.
type Conversation interface {
	HandleSegment(ctx context.Context, sessionID string, segment stt.Segment) (agent.Turn, error)
	SetSpeaking(speaking bool)
	Terminate()
}

// Speaker renders replies to the caller. The speech streamer satisfies this.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Cancel()
	IsSpeaking() bool
}

// CoordinatorConfig holds per-call coordination settings
type CoordinatorConfig struct {
	// Greeting spoken as soon as the media stream starts; empty skips it
	Greeting string

	// EchoCooldown suppresses barge-in detection right after the greeting
	// so the agent's own voice echoing down the line cannot interrupt it
	EchoCooldown time.Duration

	// BargeInFrames is how many consecutive voiced frames during agent
	// speech count as a real interruption
	BargeInFrames int

	// RepromptText is spoken when recognition of an utterance failed
	RepromptText string

	// AgentDownText is spoken when the agent service is unreachable
	AgentDownText string
}

// DefaultCoordinatorConfig returns coordination defaults
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		EchoCooldown:  3 * time.Second,
		BargeInFrames: 10, // 200ms of 20ms frames
		RepromptText:  "Sorry, I didn't catch that. Could you say it again?",
		AgentDownText: "I'm having a little trouble on my end. Could you give me a moment and say that again?",
	}
}

// Coordinator owns one call: it relays inbound audio into segmentation,
// runs agent turns for finalized segments, streams replies back out, cuts
// the agent off on barge-in, and tears the session down exactly once.
type Coordinator struct {
	logger  *logrus.Logger
	config  CoordinatorConfig
	session *CallSession

	transport transportWithDrops
	segments  SegmentSource
	convo     Conversation
	speaker   Speaker
	call      *tools.CallContext
	sink      messaging.Sink

	mu        sync.Mutex
	echoUntil time.Time
	cancelRun context.CancelFunc

	teardownOnce sync.Once
	done         chan struct{}
}

// transportWithDrops adds the drop counter the coordinator reports at
// teardown. The stream transport satisfies it; tests may return zero.
type transportWithDrops interface {
	Transport
	Dropped() uint64
}

// NewCoordinator creates a session coordinator
func NewCoordinator(id string, logger *logrus.Logger, config CoordinatorConfig,
	transport transportWithDrops, segments SegmentSource, convo Conversation,
	speaker Speaker, call *tools.CallContext, sink messaging.Sink) *Coordinator {

	if config.BargeInFrames <= 0 {
		config.BargeInFrames = DefaultCoordinatorConfig().BargeInFrames
	}

	return &Coordinator{
		logger:    logger,
		config:    config,
		session:   NewCallSession(id),
		transport: transport,
		segments:  segments,
		convo:     convo,
		speaker:   speaker,
		call:      call,
		sink:      sink,
		done:      make(chan struct{}),
	}
}

// Session returns the session record
func (c *Coordinator) Session() *CallSession {
	return c.session
}

// Done is closed when the session has been torn down
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Run drives the call until the stream closes or the agent ends it. It
// blocks for the lifetime of the call and always tears down before
// returning.
func (c *Coordinator) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelRun = cancel
	c.mu.Unlock()

	metrics.SessionStarted()
	c.logger.WithField("session_id", c.session.ID).Info("Call session started")

	go c.conversationLoop(runCtx)

	c.mediaLoop(runCtx)
	c.Teardown(ReasonDisconnect)
}

// conversationLoop is the only goroutine that runs agent turns and renders
// replies. It waits for stream metadata, fills in the call context, speaks
// the greeting, then handles segments one at a time, so replies are always
// rendered sequentially and the call context is populated before the first
// turn reads it.
func (c *Coordinator) conversationLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-c.transport.Started():
	}

	info := c.transport.Info()
	c.session.SetInfo(info)

	c.call.CallSID = info.CallSID
	c.call.PhoneNumber = info.FromNumber
	if info.Business != "" {
		c.call.Business = info.Business
	}
	c.call.LeadID = info.LeadID
	c.call.CampaignID = info.CampaignID
	c.call.OwnerName = info.ContactName

	c.logger.WithFields(logrus.Fields{
		"session_id": c.session.ID,
		"call_sid":   info.CallSID,
		"from":       info.FromNumber,
		"business":   info.Business,
	}).Info("Media stream started")

	if c.config.Greeting != "" {
		// The greeting can echo back down a telephone line; hold off
		// barge-in until it has had a chance to fade
		c.setEchoCooldown()
		c.session.AppendTranscript("agent", c.config.Greeting)
		c.publishTranscript("agent", c.config.Greeting)
		c.speak(ctx, c.config.Greeting)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case segment, ok := <-c.segments.Segments():
			if !ok {
				return
			}
			c.handleSegment(ctx, segment)
		}
	}
}

// mediaLoop relays inbound frames into segmentation and watches for
// barge-in while the agent is speaking
func (c *Coordinator) mediaLoop(ctx context.Context) {
	voiceRun := 0

	for {
		frame, err := c.transport.Receive(ctx)
		if err != nil {
			if !errors.Is(err, errors.ErrTransportClosed) && ctx.Err() == nil {
				c.logger.WithFields(logrus.Fields{
					"session_id": c.session.ID,
					"error":      err,
				}).Warn("Media receive failed")
			}
			return
		}

		voice := c.segments.ProcessFrame(frame.Payload)

		if !voice {
			voiceRun = 0
			continue
		}
		if !c.speaker.IsSpeaking() || c.inEchoCooldown() {
			voiceRun = 0
			continue
		}

		voiceRun++
		if voiceRun >= c.config.BargeInFrames {
			voiceRun = 0
			c.bargeIn()
		}
	}
}

// bargeIn cuts the agent off: cancel synthesis, flush the provider's
// buffered audio, and finalize whatever the caller has said so far
func (c *Coordinator) bargeIn() {
	c.logger.WithField("session_id", c.session.ID).Info("Caller barged in, cutting agent off")
	metrics.RecordBargeIn()

	c.session.SetState(TurnInterrupted)
	c.speaker.Cancel()
	if err := c.transport.Clear(); err != nil {
		c.logger.WithField("error", err).Debug("Transport clear failed during barge-in")
	}
	c.segments.Flush()
	c.session.SetState(TurnListening)
}

func (c *Coordinator) handleSegment(ctx context.Context, segment stt.Segment) {
	if segment.Degraded {
		c.logger.WithField("session_id", c.session.ID).Warn("Recognition degraded, reprompting caller")
		c.speak(ctx, c.config.RepromptText)
		return
	}

	c.session.AppendTranscript("caller", segment.Text)
	c.publishTranscript("caller", segment.Text)

	c.session.SetState(TurnThinking)
	turn, err := c.convo.HandleSegment(ctx, c.session.ID, segment)
	if err != nil {
		if errors.Is(err, errors.ErrSessionTerminated) {
			return
		}
		c.logger.WithFields(logrus.Fields{
			"session_id": c.session.ID,
			"segment_id": segment.ID,
			"error":      err,
		}).Error("Agent turn failed")

		if errors.Is(err, errors.ErrAgentUnavailable) {
			c.speak(ctx, c.config.AgentDownText)
		}
		c.session.SetState(TurnListening)
		return
	}

	if turn.Text != "" {
		c.session.AppendTranscript("agent", turn.Text)
		c.publishTranscript("agent", turn.Text)
		c.speak(ctx, turn.Text)
	}

	if turn.EndCall {
		c.Teardown(ReasonAgentEndCall)
		return
	}
	c.session.SetState(TurnListening)
}

// speak renders one reply, tracking turn state across it. An interrupted
// reply leaves the state to the barge-in handler.
func (c *Coordinator) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}

	c.session.SetState(TurnSpeaking)
	c.convo.SetSpeaking(true)
	err := c.speaker.Speak(ctx, text)
	c.convo.SetSpeaking(false)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.WithFields(logrus.Fields{
			"session_id": c.session.ID,
			"error":      err,
		}).Error("Reply playback failed")
	}
	c.session.SetState(TurnListening)
}

func (c *Coordinator) publishTranscript(speaker, text string) {
	if err := c.sink.PublishTranscript(c.session.ID, speaker, text, nil); err != nil {
		c.logger.WithField("error", err).Debug("Transcript publish failed")
	}
}

func (c *Coordinator) setEchoCooldown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.echoUntil = time.Now().Add(c.config.EchoCooldown)
}

func (c *Coordinator) inEchoCooldown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.echoUntil)
}

// Teardown ends the session exactly once: stops all pipeline stages,
// publishes the terminal record, and releases the media stream. Safe to
// call from any goroutine, any number of times.
func (c *Coordinator) Teardown(reason string) {
	c.teardownOnce.Do(func() {
		c.session.MarkEnded(reason)
		c.convo.Terminate()
		c.speaker.Cancel()
		c.segments.Close()
		if err := c.transport.Close(); err != nil {
			c.logger.WithField("error", err).Debug("Transport close failed during teardown")
		}

		c.mu.Lock()
		if c.cancelRun != nil {
			c.cancelRun()
		}
		c.mu.Unlock()

		snap := c.call.Snapshot()
		outcome := snap.Outcome
		if outcome == "" {
			outcome = "no_outcome"
		}
		info := c.session.Info()

		record := messaging.OutcomeRecord{
			CallUUID:     c.session.ID,
			CallSID:      info.CallSID,
			LeadID:       info.LeadID,
			CampaignID:   info.CampaignID,
			FromNumber:   info.FromNumber,
			ToNumber:     info.ToNumber,
			Outcome:      outcome,
			Reason:       reason,
			Duration:     c.session.Duration(),
			ContactName:  snap.ContactName,
			ContactEmail: snap.ContactEmail,
			MeetingTime:  snap.MeetingTime,
			CallbackTime: snap.CallbackTime,
			Notes:        snap.Notes,
			Timestamp:    time.Now(),
		}
		if err := c.sink.PublishOutcome(record); err != nil {
			c.logger.WithFields(logrus.Fields{
				"session_id": c.session.ID,
				"error":      err,
			}).Error("Outcome publish failed")
		}

		if dropped := c.transport.Dropped(); dropped > 0 {
			metrics.RecordFramesDropped(c.session.ID, "send_queue_overflow", float64(dropped))
		}
		metrics.SessionEnded(outcome, c.session.Duration())

		c.logger.WithFields(logrus.Fields{
			"session_id":  c.session.ID,
			"reason":      reason,
			"outcome":     outcome,
			"duration_ms": c.session.Duration().Milliseconds(),
		}).Info("Call session ended")

		close(c.done)
	})
}
