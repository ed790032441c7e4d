package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent-server/pkg/agent"
	"voiceagent-server/pkg/errors"
	"voiceagent-server/pkg/media"
	"voiceagent-server/pkg/messaging"
	"voiceagent-server/pkg/stt"
	"voiceagent-server/pkg/tools"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeTransport feeds frames from a channel and tracks clear/close calls
type fakeTransport struct {
	frames    chan media.Frame
	started   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	clears    atomic.Int64
	sent      atomic.Int64
}

func newFakeTransport() *fakeTransport {
	t := &fakeTransport{
		frames:  make(chan media.Frame, 64),
		started: make(chan struct{}),
		closed:  make(chan struct{}),
	}
	close(t.started)
	return t
}

func (t *fakeTransport) Receive(ctx context.Context) (media.Frame, error) {
	select {
	case <-ctx.Done():
		return media.Frame{}, ctx.Err()
	case <-t.closed:
		return media.Frame{}, errors.ErrTransportClosed
	case frame := <-t.frames:
		return frame, nil
	}
}

func (t *fakeTransport) Send(frame media.Frame) error {
	t.sent.Add(1)
	return nil
}

func (t *fakeTransport) Clear() error {
	t.clears.Add(1)
	return nil
}

func (t *fakeTransport) Info() media.StreamInfo {
	return media.StreamInfo{
		StreamSID:  "MZ123",
		CallSID:    "CA456",
		FromNumber: "+15550100",
		Business:   "Acme Dental",
	}
}

func (t *fakeTransport) Started() <-chan struct{} { return t.started }
func (t *fakeTransport) Dropped() uint64          { return 0 }

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// fakeSegments treats any nonzero payload as voice and lets tests inject
// finalized segments directly
type fakeSegments struct {
	out     chan stt.Segment
	flushes atomic.Int64
	closes  atomic.Int64
}

func newFakeSegments() *fakeSegments {
	return &fakeSegments{out: make(chan stt.Segment, 8)}
}

func (s *fakeSegments) ProcessFrame(pcm []byte) bool {
	for _, b := range pcm {
		if b != 0 {
			return true
		}
	}
	return false
}

func (s *fakeSegments) Segments() <-chan stt.Segment { return s.out }
func (s *fakeSegments) Flush()                       { s.flushes.Add(1) }
func (s *fakeSegments) Close()                       { s.closes.Add(1) }

// fakeConvo returns scripted turns in order. onHandle, when set before the
// coordinator starts, runs at the top of every turn.
type fakeConvo struct {
	mu         sync.Mutex
	turns      []agent.Turn
	errs       []error
	idx        int
	terminated atomic.Bool
	onHandle   func()
}

func (c *fakeConvo) script(turn agent.Turn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turn)
	c.errs = append(c.errs, err)
}

func (c *fakeConvo) HandleSegment(ctx context.Context, sessionID string, segment stt.Segment) (agent.Turn, error) {
	if c.onHandle != nil {
		c.onHandle()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx >= len(c.turns) {
		return agent.Turn{}, nil
	}
	turn, err := c.turns[c.idx], c.errs[c.idx]
	c.idx++
	return turn, err
}

func (c *fakeConvo) SetSpeaking(speaking bool) {}
func (c *fakeConvo) Terminate()                { c.terminated.Store(true) }

// fakeSpeaker optionally blocks mid-reply until cancelled, and tracks how
// many Speak calls ever ran at the same time
type fakeSpeaker struct {
	mu        sync.Mutex
	block     bool
	speaking  bool
	spoken    []string
	cancelCh  chan struct{}
	active    atomic.Int64
	maxActive atomic.Int64
}

func (s *fakeSpeaker) Speak(ctx context.Context, text string) error {
	n := s.active.Add(1)
	for {
		max := s.maxActive.Load()
		if n <= max || s.maxActive.CompareAndSwap(max, n) {
			break
		}
	}
	defer s.active.Add(-1)

	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.speaking = true
	s.cancelCh = make(chan struct{})
	cancelCh := s.cancelCh
	block := s.block
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.speaking = false
		s.mu.Unlock()
	}()

	if !block {
		return nil
	}
	select {
	case <-cancelCh:
		return context.Canceled
	case <-ctx.Done():
		return context.Canceled
	}
}

func (s *fakeSpeaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaking && s.cancelCh != nil {
		select {
		case <-s.cancelCh:
		default:
			close(s.cancelCh)
		}
	}
}

func (s *fakeSpeaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

func (s *fakeSpeaker) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

type fixture struct {
	coordinator *Coordinator
	transport   *fakeTransport
	segments    *fakeSegments
	convo       *fakeConvo
	speaker     *fakeSpeaker
	sink        *messaging.MemorySink
	call        *tools.CallContext
}

func newFixture(t *testing.T, config CoordinatorConfig) *fixture {
	t.Helper()

	f := &fixture{
		transport: newFakeTransport(),
		segments:  newFakeSegments(),
		convo:     &fakeConvo{},
		speaker:   &fakeSpeaker{},
		sink:      messaging.NewMemorySink(),
		call:      &tools.CallContext{CallID: "session-1"},
	}
	f.coordinator = NewCoordinator("session-1", testLogger(), config,
		f.transport, f.segments, f.convo, f.speaker, f.call, f.sink)
	return f
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	go f.coordinator.Run(context.Background())
	t.Cleanup(func() {
		f.coordinator.Teardown(ReasonShutdown)
		select {
		case <-f.coordinator.Done():
		case <-time.After(time.Second):
			t.Fatal("coordinator never tore down")
		}
	})
}

func voicedFrame() media.Frame {
	payload := make([]byte, 640)
	for i := range payload {
		payload[i] = 0x10
	}
	return media.Frame{Direction: media.DirectionInbound, Payload: payload}
}

func TestTurnFlowSpeaksReplyAndPublishesTranscripts(t *testing.T) {
	f := newFixture(t, DefaultCoordinatorConfig())
	f.convo.script(agent.Turn{Text: "We have 9am free tomorrow."}, nil)
	f.run(t)

	f.segments.out <- stt.Segment{ID: "seg-1", Text: "anything tomorrow?"}

	require.Eventually(t, func() bool {
		return len(f.speaker.texts()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "We have 9am free tomorrow.", f.speaker.texts()[0])

	require.Eventually(t, func() bool {
		return len(f.sink.Transcripts()) == 2
	}, time.Second, 5*time.Millisecond)
	lines := f.sink.Transcripts()
	assert.Equal(t, "caller", lines[0].Speaker)
	assert.Equal(t, "anything tomorrow?", lines[0].Text)
	assert.Equal(t, "agent", lines[1].Speaker)
}

func TestBargeInCutsAgentOff(t *testing.T) {
	config := DefaultCoordinatorConfig()
	config.BargeInFrames = 3
	f := newFixture(t, config)
	f.speaker.block = true
	f.convo.script(agent.Turn{Text: "Let me tell you all about our plans..."}, nil)
	f.run(t)

	f.segments.out <- stt.Segment{ID: "seg-1", Text: "tell me more"}
	require.Eventually(t, f.speaker.IsSpeaking, time.Second, 5*time.Millisecond)

	// Sustained caller voice while the agent is speaking
	for i := 0; i < 5; i++ {
		f.transport.frames <- voicedFrame()
	}

	require.Eventually(t, func() bool {
		return !f.speaker.IsSpeaking()
	}, time.Second, 5*time.Millisecond, "barge-in should cancel speech")

	assert.GreaterOrEqual(t, f.transport.clears.Load(), int64(1), "provider buffer must be cleared")
	assert.GreaterOrEqual(t, f.segments.flushes.Load(), int64(1), "in-progress utterance must be flushed")
	assert.Equal(t, TurnListening, f.coordinator.Session().State())
	assert.False(t, f.coordinator.Session().Ended(), "barge-in does not end the call")
}

func TestShortBlipDoesNotBargeIn(t *testing.T) {
	config := DefaultCoordinatorConfig()
	config.BargeInFrames = 10
	f := newFixture(t, config)
	f.speaker.block = true
	f.convo.script(agent.Turn{Text: "a long reply"}, nil)
	f.run(t)

	f.segments.out <- stt.Segment{ID: "seg-1", Text: "hello"}
	require.Eventually(t, f.speaker.IsSpeaking, time.Second, 5*time.Millisecond)

	// 4 voiced frames, below the threshold
	for i := 0; i < 4; i++ {
		f.transport.frames <- voicedFrame()
	}
	time.Sleep(50 * time.Millisecond)

	assert.True(t, f.speaker.IsSpeaking(), "a blip below the threshold must not interrupt")
	assert.Equal(t, int64(0), f.transport.clears.Load())
}

func TestSegmentDuringGreetingWaitsForGreetingToFinish(t *testing.T) {
	config := DefaultCoordinatorConfig()
	config.Greeting = "Hi, this is Alex from Acme!"
	config.EchoCooldown = time.Hour
	f := newFixture(t, config)
	f.speaker.block = true
	f.convo.script(agent.Turn{Text: "We open at nine."}, nil)
	f.run(t)

	require.Eventually(t, f.speaker.IsSpeaking, time.Second, 5*time.Millisecond)
	require.Equal(t, config.Greeting, f.speaker.texts()[0])

	// The caller talks over the greeting; echo cooldown means no barge-in,
	// so the reply must queue behind the rendering greeting
	f.segments.out <- stt.Segment{ID: "seg-1", Text: "when do you open?"}

	time.Sleep(50 * time.Millisecond)
	require.Len(t, f.speaker.texts(), 1, "reply must wait for the greeting to finish")

	// Let the greeting finish, then the queued reply goes out
	f.speaker.Cancel()
	require.Eventually(t, func() bool {
		return len(f.speaker.texts()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "We open at nine.", f.speaker.texts()[1])
	assert.Equal(t, int64(1), f.speaker.maxActive.Load(), "replies never render concurrently")
}

func TestCallContextPopulatedBeforeFirstTurn(t *testing.T) {
	f := newFixture(t, DefaultCoordinatorConfig())
	f.convo.script(agent.Turn{Text: "hello there"}, nil)

	var seenSID atomic.Value
	f.convo.onHandle = func() {
		seenSID.Store(f.call.CallSID)
	}
	f.run(t)

	// Segment arrives the instant the stream opens
	f.segments.out <- stt.Segment{ID: "seg-1", Text: "hi"}

	require.Eventually(t, func() bool {
		return len(f.speaker.texts()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "CA456", seenSID.Load(), "stream metadata is set before turns run")
	assert.Equal(t, "+15550100", f.call.PhoneNumber)
}

func TestDisconnectDuringSpeakingTearsDownExactlyOnce(t *testing.T) {
	f := newFixture(t, DefaultCoordinatorConfig())
	f.speaker.block = true
	f.convo.script(agent.Turn{Text: "still talking when the line drops"}, nil)

	runDone := make(chan struct{})
	go func() {
		f.coordinator.Run(context.Background())
		close(runDone)
	}()

	f.segments.out <- stt.Segment{ID: "seg-1", Text: "hello"}
	require.Eventually(t, f.speaker.IsSpeaking, time.Second, 5*time.Millisecond)

	// The caller hangs up mid-reply
	require.NoError(t, f.transport.Close())

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after disconnect")
	}
	select {
	case <-f.coordinator.Done():
	case <-time.After(time.Second):
		t.Fatal("teardown never completed")
	}

	assert.True(t, f.convo.terminated.Load())
	assert.False(t, f.speaker.IsSpeaking(), "in-flight speech is cancelled at teardown")
	assert.Equal(t, ReasonDisconnect, f.coordinator.Session().EndReason())

	// Redundant teardowns are no-ops: still exactly one terminal record
	f.coordinator.Teardown(ReasonFatalError)
	f.coordinator.Teardown(ReasonShutdown)

	outcomes := f.sink.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "no_outcome", outcomes[0].Outcome)
	assert.Equal(t, ReasonDisconnect, outcomes[0].Reason)
	assert.Equal(t, "CA456", outcomes[0].CallSID)
	assert.Equal(t, int64(1), f.segments.closes.Load())
}

func TestAgentEndCallTearsDownWithOutcome(t *testing.T) {
	f := newFixture(t, DefaultCoordinatorConfig())
	f.convo.script(agent.Turn{Text: "Thanks, goodbye!", EndCall: true}, nil)
	f.call.SetOutcome(tools.OutcomeNotInterested)

	go f.coordinator.Run(context.Background())

	f.segments.out <- stt.Segment{ID: "seg-1", Text: "no thanks"}

	select {
	case <-f.coordinator.Done():
	case <-time.After(time.Second):
		t.Fatal("agent end_call should tear the session down")
	}

	// The goodbye still went out before teardown
	require.Len(t, f.speaker.texts(), 1)
	assert.Equal(t, "Thanks, goodbye!", f.speaker.texts()[0])

	outcomes := f.sink.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, tools.OutcomeNotInterested, outcomes[0].Outcome)
	assert.Equal(t, ReasonAgentEndCall, outcomes[0].Reason)
}

func TestAgentUnavailableSpeaksFallbackAndContinues(t *testing.T) {
	f := newFixture(t, DefaultCoordinatorConfig())
	f.convo.script(agent.Turn{}, errors.NewAgentUnavailable("connection refused"))
	f.convo.script(agent.Turn{Text: "back now"}, nil)
	f.run(t)

	f.segments.out <- stt.Segment{ID: "seg-1", Text: "hello?"}
	require.Eventually(t, func() bool {
		return len(f.speaker.texts()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, DefaultCoordinatorConfig().AgentDownText, f.speaker.texts()[0])
	assert.False(t, f.coordinator.Session().Ended(), "agent outage must not kill the call")

	// The next segment goes through normally
	f.segments.out <- stt.Segment{ID: "seg-2", Text: "hello again"}
	require.Eventually(t, func() bool {
		return len(f.speaker.texts()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "back now", f.speaker.texts()[1])
}

func TestDegradedSegmentReprompts(t *testing.T) {
	f := newFixture(t, DefaultCoordinatorConfig())
	f.run(t)

	f.segments.out <- stt.Segment{ID: "seg-1", Degraded: true}

	require.Eventually(t, func() bool {
		return len(f.speaker.texts()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, DefaultCoordinatorConfig().RepromptText, f.speaker.texts()[0])
	assert.Empty(t, f.sink.Transcripts(), "degraded segments are not published")
}

func TestGreetingSpokenOnStartWithEchoCooldown(t *testing.T) {
	config := DefaultCoordinatorConfig()
	config.Greeting = "Hi, this is Alex from Acme!"
	config.EchoCooldown = time.Hour // effectively forever for this test
	config.BargeInFrames = 2
	f := newFixture(t, config)
	f.speaker.block = true
	f.run(t)

	require.Eventually(t, f.speaker.IsSpeaking, time.Second, 5*time.Millisecond)
	require.Equal(t, config.Greeting, f.speaker.texts()[0])

	// Echo of the greeting must not cut it off
	for i := 0; i < 10; i++ {
		f.transport.frames <- voicedFrame()
	}
	time.Sleep(50 * time.Millisecond)
	assert.True(t, f.speaker.IsSpeaking(), "echo cooldown suppresses barge-in")
	assert.Equal(t, int64(0), f.transport.clears.Load())

	// The call context was filled from stream metadata
	assert.Equal(t, "CA456", f.call.CallSID)
	assert.Equal(t, "+15550100", f.call.PhoneNumber)
	assert.Equal(t, "Acme Dental", f.call.Business)
}
