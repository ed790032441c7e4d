package messaging

import (
	"sync"
	"time"
)

// OutcomeRecord is the terminal record published when a call ends
type OutcomeRecord struct {
	CallUUID     string            `json:"call_uuid"`
	CallSID      string            `json:"call_sid,omitempty"`
	LeadID       string            `json:"lead_id,omitempty"`
	CampaignID   string            `json:"campaign_id,omitempty"`
	FromNumber   string            `json:"from_number,omitempty"`
	ToNumber     string            `json:"to_number,omitempty"`
	Outcome      string            `json:"outcome"`
	Reason       string            `json:"reason,omitempty"`
	Duration     time.Duration     `json:"duration_ms"`
	ContactName  string            `json:"contact_name,omitempty"`
	ContactEmail string            `json:"contact_email,omitempty"`
	MeetingTime  time.Time         `json:"meeting_time,omitempty"`
	CallbackTime time.Time         `json:"callback_time,omitempty"`
	Notes        []string          `json:"notes,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Sink receives call outcomes and transcript lines. Implementations must be
// safe for concurrent use by multiple sessions.
type Sink interface {
	PublishOutcome(record OutcomeRecord) error
	PublishTranscript(callUUID, speaker, text string, metadata map[string]interface{}) error
}

// TranscriptLine is one published utterance
type TranscriptLine struct {
	CallUUID string
	Speaker  string
	Text     string
	Metadata map[string]interface{}
}

// MemorySink collects published records in memory for tests and local runs
type MemorySink struct {
	mu          sync.Mutex
	outcomes    []OutcomeRecord
	transcripts []TranscriptLine
}

// NewMemorySink creates an in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// PublishOutcome records the outcome
func (s *MemorySink) PublishOutcome(record OutcomeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, record)
	return nil
}

// PublishTranscript records the line
func (s *MemorySink) PublishTranscript(callUUID, speaker, text string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, TranscriptLine{
		CallUUID: callUUID,
		Speaker:  speaker,
		Text:     text,
		Metadata: metadata,
	})
	return nil
}

// Outcomes returns the outcomes published so far
func (s *MemorySink) Outcomes() []OutcomeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutcomeRecord, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Transcripts returns the transcript lines published so far
func (s *MemorySink) Transcripts() []TranscriptLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptLine, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

// NoopSink drops everything; used when messaging is disabled
type NoopSink struct{}

// PublishOutcome discards the record
func (NoopSink) PublishOutcome(record OutcomeRecord) error { return nil }

// PublishTranscript discards the line
func (NoopSink) PublishTranscript(callUUID, speaker, text string, metadata map[string]interface{}) error {
	return nil
}
