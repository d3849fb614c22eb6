// Package agent drives tool-use conversations between a model backend
// and the trading tool executor.
package agent

import (
	"context"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"

	"tradepilot/pkg/llm"
	"tradepilot/pkg/tool"
)

const (
	// DefaultMaxTurns bounds the model/tool loop for one conversation.
	DefaultMaxTurns = 10

	// MaxTurnsAdvisory is returned when the loop hits its bound without a
	// final textual answer. Hitting the bound is not an error.
	MaxTurnsAdvisory = "I've reached the maximum number of conversation turns. Please try again."
)

// Orchestrator runs the turn loop: send history, execute requested
// tools, append correlated results, repeat until the model answers in
// text or the turn bound is reached.
type Orchestrator struct {
	backend   llm.Backend
	exec      *tool.Executor
	maxTurns  int
	maxTokens int
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxTurns overrides the turn bound.
func WithMaxTurns(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTurns = n
		}
	}
}

// WithMaxTokens sets the per-completion token limit forwarded to the
// backend.
func WithMaxTokens(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// NewOrchestrator wires a backend to an executor.
func NewOrchestrator(backend llm.Backend, exec *tool.Executor, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		backend:  backend,
		exec:     exec,
		maxTurns: DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the loop starting from history and returns the final
// text plus the full augmented history. Tool calls within one turn are
// executed in issue order and their results appended in the same order.
func (o *Orchestrator) Run(ctx context.Context, system string, history []llm.Message) (string, []llm.Message, error) {
	messages := append([]llm.Message(nil), history...)

	for turn := 0; turn < o.maxTurns; turn++ {
		reply, err := o.backend.Complete(ctx, &llm.Request{
			System:    system,
			Messages:  messages,
			Tools:     tool.Definitions(),
			MaxTokens: o.maxTokens,
		})
		if err != nil {
			return "", messages, fmt.Errorf("agent: completion failed on turn %d: %w", turn+1, err)
		}

		messages = append(messages, llm.AssistantTurn(reply))

		if len(reply.ToolCalls) == 0 {
			return reply.Text, messages, nil
		}

		results := make([]llm.ToolResult, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			logx.WithContext(ctx).Infof("executing tool %s (call %s)", call.Name, call.ID)
			content := o.exec.Execute(ctx, call.Name, call.Arguments)
			results = append(results, llm.ToolResult{CallID: call.ID, Content: content})
		}
		messages = append(messages, llm.ToolResults(results))
	}

	logx.WithContext(ctx).Slowf("conversation hit the %d turn bound", o.maxTurns)
	return MaxTurnsAdvisory, messages, nil
}
