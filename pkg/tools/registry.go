package tools

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/errors"
	"voiceagent-server/pkg/metrics"
)

// Tool is one action the agent can take during a call. Execute returns a
// human-readable result string that is fed back to the agent.
type Tool interface {
	Name() string
	Execute(ctx context.Context, call *CallContext, args json.RawMessage) (string, error)
}

// Registry holds the closed set of tools available to the agent. Requests
// for names outside the set fail rather than falling through to anything
// dynamic.
type Registry struct {
	logger  *logrus.Logger
	timeout time.Duration
	tools   map[string]Tool
}

// NewRegistry creates a tool registry with a per-invocation timeout
func NewRegistry(logger *logrus.Logger, timeout time.Duration, tools ...Tool) *Registry {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	r := &Registry{
		logger:  logger,
		timeout: timeout,
		tools:   make(map[string]Tool, len(tools)),
	}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Names returns the registered tool names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one named tool under the registry timeout. Unknown names and
// timeouts both surface as tool errors carrying the tool name.
func (r *Registry) Execute(ctx context.Context, call *CallContext, name string, args json.RawMessage) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		metrics.RecordToolInvocation(name, "unknown", 0)
		return "", errors.NewToolFailed(name, errors.New("unknown tool"))
	}

	toolCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	result, err := tool.Execute(toolCtx, call, args)
	elapsed := time.Since(started)

	if err != nil {
		status := "error"
		if toolCtx.Err() == context.DeadlineExceeded {
			status = "timeout"
		}
		metrics.RecordToolInvocation(name, status, elapsed)
		r.logger.WithFields(logrus.Fields{
			"tool":        name,
			"duration_ms": elapsed.Milliseconds(),
			"error":       err,
		}).Error("Tool execution failed")
		return "", errors.NewToolFailed(name, err)
	}

	metrics.RecordToolInvocation(name, "ok", elapsed)
	r.logger.WithFields(logrus.Fields{
		"tool":        name,
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Tool executed")

	return result, nil
}
