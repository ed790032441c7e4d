package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent-server/pkg/errors"
	"voiceagent-server/pkg/stt"
	"voiceagent-server/pkg/tools"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type stallTool struct{}

func (t *stallTool) Name() string { return "stall" }

func (t *stallTool) Execute(ctx context.Context, call *tools.CallContext, args json.RawMessage) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func newTestOrchestrator(t *testing.T, service Service, toolTimeout time.Duration) (*Orchestrator, *tools.CallContext) {
	t.Helper()

	call := &tools.CallContext{
		CallID:      "call-1",
		Business:    "Acme Dental",
		PhoneNumber: "+15550100",
		LeadID:      "lead-1",
	}
	registry := tools.NewRegistry(testLogger(), toolTimeout,
		append(tools.Builtin(testLogger(), tools.NewMockCalendar(), tools.NewMockMessenger(),
			tools.NewMockBookings(), tools.NewMockCallControl(), nil), &stallTool{})...)

	return NewOrchestrator(testLogger(), service, registry, call), call
}

func segment(id, text string) stt.Segment {
	return stt.Segment{ID: id, Text: text, Confidence: 0.9}
}

func TestPlainTurnReturnsText(t *testing.T) {
	service := NewMockService()
	service.Script(Response{Text: "We build voice assistants for clinics."})
	o, _ := newTestOrchestrator(t, service, time.Second)

	turn, err := o.HandleSegment(context.Background(), "s1", segment("seg-1", "what do you do?"))
	require.NoError(t, err)
	assert.Equal(t, "We build voice assistants for clinics.", turn.Text)
	assert.False(t, turn.EndCall)
	assert.Equal(t, StateIdle, o.State())

	reqs := service.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "what do you do?", reqs[0].Transcript)
	assert.Equal(t, "Acme Dental", reqs[0].Context["business_name"])
}

func TestSegmentDedup(t *testing.T) {
	service := NewMockService()
	service.Script(Response{Text: "first answer"})
	o, _ := newTestOrchestrator(t, service, time.Second)

	_, err := o.HandleSegment(context.Background(), "s1", segment("seg-1", "hello"))
	require.NoError(t, err)

	turn, err := o.HandleSegment(context.Background(), "s1", segment("seg-1", "hello"))
	require.NoError(t, err)
	assert.Empty(t, turn.Text, "duplicate segment must not trigger a turn")
	assert.Len(t, service.Requests(), 1)
}

func TestToolResultsFeedBackUntilFinalText(t *testing.T) {
	service := NewMockService()
	service.Script(
		Response{ToolCalls: []ToolCall{
			{ID: "tc-1", Name: "check_availability", Arguments: json.RawMessage(`{"day":"tomorrow"}`)},
		}},
		Response{Text: "I have 9am or 2pm open tomorrow."},
	)
	o, _ := newTestOrchestrator(t, service, time.Second)

	turn, err := o.HandleSegment(context.Background(), "s1", segment("seg-1", "got anything tomorrow?"))
	require.NoError(t, err)
	assert.Equal(t, "I have 9am or 2pm open tomorrow.", turn.Text)

	reqs := service.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].ToolResults, 1)
	assert.Equal(t, "tc-1", reqs[1].ToolResults[0].CallID)
	assert.Contains(t, reqs[1].ToolResults[0].Content, "AVAILABLE")
	assert.Empty(t, reqs[1].Transcript, "follow-up round carries results, not the transcript again")
}

func TestSecondToolTimeoutAbortsRestAndCallContinues(t *testing.T) {
	service := NewMockService()
	service.Script(
		Response{ToolCalls: []ToolCall{
			{ID: "tc-1", Name: "add_note", Arguments: json.RawMessage(`{"note":"asked about pricing"}`)},
			{ID: "tc-2", Name: "stall", Arguments: json.RawMessage(`{}`)},
			{ID: "tc-3", Name: "add_note", Arguments: json.RawMessage(`{"note":"never runs"}`)},
		}},
		Response{Text: "Sorry about the wait. Where were we?"},
	)
	o, call := newTestOrchestrator(t, service, 30*time.Millisecond)

	turn, err := o.HandleSegment(context.Background(), "s1", segment("seg-1", "book me in"))
	require.NoError(t, err, "a tool failure must not kill the call")
	assert.Equal(t, "Sorry about the wait. Where were we?", turn.Text)
	assert.False(t, turn.EndCall)

	reqs := service.Requests()
	require.Len(t, reqs, 2)
	results := reqs[1].ToolResults
	require.Len(t, results, 3)

	assert.NotEmpty(t, results[0].Content)
	assert.Empty(t, results[0].Error)

	assert.NotEmpty(t, results[1].Error, "timed-out tool reports exactly one error")
	assert.False(t, results[1].Skipped)

	assert.True(t, results[2].Skipped, "tools after the failure are aborted")
	assert.Empty(t, results[2].Error)

	// Only the first note landed
	assert.Equal(t, []string{"asked about pricing"}, call.Snapshot().Notes)
}

func TestEndCallToolTerminates(t *testing.T) {
	service := NewMockService()
	service.Script(
		Response{ToolCalls: []ToolCall{
			{ID: "tc-1", Name: "end_call", Arguments: json.RawMessage(`{"outcome":"not_interested"}`)},
		}},
		Response{Text: "Thanks for your time, goodbye!"},
	)
	o, call := newTestOrchestrator(t, service, time.Second)

	turn, err := o.HandleSegment(context.Background(), "s1", segment("seg-1", "not interested, thanks"))
	require.NoError(t, err)
	assert.True(t, turn.EndCall)
	assert.Equal(t, "Thanks for your time, goodbye!", turn.Text)
	assert.Equal(t, StateTerminated, o.State())
	assert.Equal(t, tools.OutcomeNotInterested, call.Snapshot().Outcome)

	// Segments after termination are rejected
	_, err = o.HandleSegment(context.Background(), "s1", segment("seg-2", "wait"))
	assert.ErrorIs(t, err, errors.ErrSessionTerminated)
}

func TestAgentErrorPropagatesAndStateRecovers(t *testing.T) {
	service := NewMockService()
	service.FailAt(0, errors.NewAgentUnavailable("connection refused"))
	o, _ := newTestOrchestrator(t, service, time.Second)

	_, err := o.HandleSegment(context.Background(), "s1", segment("seg-1", "hello?"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAgentUnavailable)
	assert.Equal(t, StateIdle, o.State(), "orchestrator stays usable after an agent error")
}

func TestSpeakingStateTransitions(t *testing.T) {
	o, _ := newTestOrchestrator(t, NewMockService(), time.Second)

	o.SetSpeaking(true)
	assert.Equal(t, StateSpeaking, o.State())
	o.SetSpeaking(false)
	assert.Equal(t, StateIdle, o.State())

	o.Terminate()
	o.SetSpeaking(false)
	assert.Equal(t, StateTerminated, o.State(), "termination is sticky")
}
