package tools

import (
	"sync"
	"time"
)

// Call outcomes recorded by the end_call tool and published at teardown
const (
	OutcomeMeetingBooked     = "meeting_booked"
	OutcomeInterested        = "interested"
	OutcomeCallbackRequested = "callback_requested"
	OutcomeNotInterested     = "not_interested"
	OutcomeWrongNumber       = "wrong_number"
	OutcomeGatekeeper        = "gatekeeper"
	OutcomeVoicemail         = "voicemail"
	OutcomeHostile           = "hostile"
)

var validOutcomes = map[string]bool{
	OutcomeMeetingBooked:     true,
	OutcomeInterested:        true,
	OutcomeCallbackRequested: true,
	OutcomeNotInterested:     true,
	OutcomeWrongNumber:       true,
	OutcomeGatekeeper:        true,
	OutcomeVoicemail:         true,
	OutcomeHostile:           true,
}

// ValidOutcome reports whether s is a recognized call outcome
func ValidOutcome(s string) bool {
	return validOutcomes[s]
}

// CallContext carries per-call state that tools read and mutate. Tools run
// sequentially within a turn but the session layer reads the context
// concurrently at teardown, so access is guarded.
type CallContext struct {
	CallID      string
	CallSID     string
	LeadID      string
	CampaignID  string
	Business    string
	PhoneNumber string
	OwnerName   string

	mu           sync.Mutex
	contactName  string
	contactEmail string
	meetingTime  time.Time
	callbackTime time.Time
	outcome      string
	ended        bool
	notes        []string
}

// SetContact records the prospect's name and email
func (c *CallContext) SetContact(name, email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contactName = name
	c.contactEmail = email
}

// SetMeetingTime records the agreed meeting slot
func (c *CallContext) SetMeetingTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meetingTime = t
}

// SetCallbackTime records when the prospect asked to be called back
func (c *CallContext) SetCallbackTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbackTime = t
}

// SetOutcome records the call outcome
func (c *CallContext) SetOutcome(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcome = outcome
}

// MarkEnded flags the call as ended by the agent
func (c *CallContext) MarkEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
}

// Ended reports whether the agent has ended the call
func (c *CallContext) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// AddNote appends a free-form note about the call
func (c *CallContext) AddNote(note string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, note)
}

// Snapshot is an immutable copy of the mutable call state
type Snapshot struct {
	ContactName  string
	ContactEmail string
	MeetingTime  time.Time
	CallbackTime time.Time
	Outcome      string
	Ended        bool
	Notes        []string
}

// Snapshot returns a copy of the collected call state
func (c *CallContext) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	notes := make([]string, len(c.notes))
	copy(notes, c.notes)

	return Snapshot{
		ContactName:  c.contactName,
		ContactEmail: c.contactEmail,
		MeetingTime:  c.meetingTime,
		CallbackTime: c.callbackTime,
		Outcome:      c.outcome,
		Ended:        c.ended,
		Notes:        notes,
	}
}
