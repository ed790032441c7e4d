package session

import (
	"sync"
	"time"

	"voiceagent-server/pkg/media"
)

// TurnState is who holds the conversational floor
type TurnState string

const (
	TurnListening   TurnState = "listening"
	TurnThinking    TurnState = "thinking"
	TurnSpeaking    TurnState = "speaking"
	TurnInterrupted TurnState = "interrupted"
)

// Teardown reasons recorded on the session's terminal record
const (
	ReasonAgentEndCall = "agent_end_call"
	ReasonDisconnect   = "caller_disconnect"
	ReasonFatalError   = "fatal_error"
	ReasonShutdown     = "server_shutdown"
)

// TranscriptEntry is one utterance in the session transcript log
type TranscriptEntry struct {
	Speaker   string
	Text      string
	Timestamp time.Time
}

// CallSession is the run-time record of one live call. The coordinator
// goroutine is the only writer; other goroutines read through the
// accessors.
type CallSession struct {
	ID        string
	StartTime time.Time

	mu         sync.RWMutex
	info       media.StreamInfo
	state      TurnState
	transcript []TranscriptEntry
	endTime    time.Time
	reason     string
}

// NewCallSession creates a session record in the Listening state
func NewCallSession(id string) *CallSession {
	return &CallSession{
		ID:        id,
		StartTime: time.Now(),
		state:     TurnListening,
	}
}

// SetInfo stores the provider stream metadata once it arrives
func (s *CallSession) SetInfo(info media.StreamInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

// Info returns the provider stream metadata
func (s *CallSession) Info() media.StreamInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// SetState moves the session to a new turn state
func (s *CallSession) SetState(state TurnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// State returns the current turn state
func (s *CallSession) State() TurnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AppendTranscript records one utterance
func (s *CallSession) AppendTranscript(speaker, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, TranscriptEntry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// Transcript returns a copy of the transcript log
func (s *CallSession) Transcript() []TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// MarkEnded records when and why the session ended
func (s *CallSession) MarkEnded(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endTime = time.Now()
	s.reason = reason
}

// Ended reports whether the session has been torn down
func (s *CallSession) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.endTime.IsZero()
}

// EndReason returns why the session ended, if it has
func (s *CallSession) EndReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// Duration returns how long the session has been (or was) live
func (s *CallSession) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.endTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.endTime.Sub(s.StartTime)
}
