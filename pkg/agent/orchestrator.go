package agent

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/errors"
	"voiceagent-server/pkg/metrics"
	"voiceagent-server/pkg/stt"
	"voiceagent-server/pkg/tools"
)

// State is the orchestrator's turn state
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingAgent State = "awaiting_agent"
	StateExecuting     State = "executing"
	StateSpeaking      State = "speaking"
	StateTerminated    State = "terminated"
)

// Turn is the final product of one caller utterance: the text to speak and
// whether the agent decided the call is over
type Turn struct {
	Text    string
	EndCall bool
}

// maxToolRounds bounds the tool feedback loop within a single turn
const maxToolRounds = 5

// Orchestrator drives one call's conversation: it hands finalized
// transcript segments to the agent service, executes requested tools
// sequentially, feeds results back until the agent produces a final text,
// and tracks the turn state machine.
type Orchestrator struct {
	logger   *logrus.Logger
	service  Service
	registry *tools.Registry
	call     *tools.CallContext

	mu        sync.Mutex
	state     State
	processed map[string]bool
}

// NewOrchestrator creates a conversation orchestrator for one call
func NewOrchestrator(logger *logrus.Logger, service Service, registry *tools.Registry, call *tools.CallContext) *Orchestrator {
	return &Orchestrator{
		logger:    logger,
		service:   service,
		registry:  registry,
		call:      call,
		state:     StateIdle,
		processed: make(map[string]bool),
	}
}

// State returns the current turn state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetSpeaking transitions between Idle and Speaking as the session layer
// starts and finishes rendering a reply
func (o *Orchestrator) SetSpeaking(speaking bool) {
	if speaking {
		o.setState(StateSpeaking)
		return
	}
	o.mu.Lock()
	terminated := o.state == StateTerminated
	o.mu.Unlock()
	if !terminated {
		o.setState(StateIdle)
	}
}

// Terminate moves the orchestrator to its terminal state
func (o *Orchestrator) Terminate() {
	o.setState(StateTerminated)
}

func (o *Orchestrator) setState(next State) {
	o.mu.Lock()
	prev := o.state
	o.state = next
	o.mu.Unlock()

	if prev != next {
		metrics.RecordTurnStateChange(string(prev), string(next))
		o.logger.WithFields(logrus.Fields{
			"from": prev,
			"to":   next,
		}).Debug("Turn state changed")
	}
}

// HandleSegment runs one full turn for a transcript segment. Each segment
// id is processed at most once; replays return an empty turn. A turn with
// EndCall set means the orchestrator has reached its terminal state.
func (o *Orchestrator) HandleSegment(ctx context.Context, sessionID string, segment stt.Segment) (Turn, error) {
	o.mu.Lock()
	if o.state == StateTerminated {
		o.mu.Unlock()
		return Turn{}, errors.ErrSessionTerminated
	}
	if o.processed[segment.ID] {
		o.mu.Unlock()
		o.logger.WithField("segment_id", segment.ID).Debug("Skipping already-processed segment")
		return Turn{}, nil
	}
	o.processed[segment.ID] = true
	o.mu.Unlock()

	o.setState(StateAwaitingAgent)
	started := time.Now()

	req := Request{
		SessionID:  sessionID,
		Transcript: segment.Text,
		Context:    o.callContext(),
	}

	for round := 0; ; round++ {
		resp, err := o.service.Respond(ctx, req)
		if err != nil {
			metrics.RecordAgentTurn("error", time.Since(started))
			o.setState(StateIdle)
			return Turn{}, err
		}

		if len(resp.ToolCalls) == 0 || round == maxToolRounds {
			endCall := resp.EndCall || o.call.Ended()
			metrics.RecordAgentTurn("ok", time.Since(started))
			if endCall {
				o.setState(StateTerminated)
			}
			return Turn{Text: resp.Text, EndCall: endCall}, nil
		}

		o.setState(StateExecuting)
		req.ToolResults = o.executeTools(ctx, resp.ToolCalls)
		req.Transcript = ""
		o.setState(StateAwaitingAgent)
	}
}

// executeTools runs the agent's tool calls in list order. The first failure
// aborts the remainder of the batch; the failure and the skips are both
// reported back so the agent can react.
func (o *Orchestrator) executeTools(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	failed := false

	for _, call := range calls {
		if failed {
			results = append(results, ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Skipped: true,
			})
			continue
		}

		content, err := o.registry.Execute(ctx, o.call, call.Name, call.Arguments)
		if err != nil {
			failed = true
			results = append(results, ToolResult{
				CallID: call.ID,
				Name:   call.Name,
				Error:  err.Error(),
			})
			continue
		}
		results = append(results, ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: content,
		})
	}
	return results
}

// callContext summarizes lead metadata for the agent prompt
func (o *Orchestrator) callContext() map[string]string {
	ctx := map[string]string{
		"business_name": o.call.Business,
		"phone_number":  o.call.PhoneNumber,
	}
	if o.call.LeadID != "" {
		ctx["lead_id"] = o.call.LeadID
	}
	if o.call.CampaignID != "" {
		ctx["campaign_id"] = o.call.CampaignID
	}
	if o.call.OwnerName != "" {
		ctx["owner_name"] = o.call.OwnerName
	}
	return ctx
}
