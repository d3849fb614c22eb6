package agent

import (
	"context"
	"sync"

	"tradepilot/internal/notes"
	"tradepilot/pkg/broker"
	"tradepilot/pkg/llm"
	"tradepilot/pkg/tool"
)

// maxHistoryMessages bounds the retained conversation. When exceeded,
// the first message is kept for initial context and the rest is trimmed
// to the most recent entries.
const maxHistoryMessages = 20

// DefaultSystemPrompt frames the assistant's role for interactive chat.
const DefaultSystemPrompt = `You are an AI trading assistant with access to a brokerage account through tools.
You can check the account, inspect positions, fetch market data, place and cancel orders, and maintain a persistent trading memory file.
Before trading, review the account, current positions and your trading memory. Explain what you did and why in your final answer.
Never risk more than the account can support, and respect market hours for stock orders.`

// Session binds one broker, one model backend and one conversation
// history. A re-initialization builds a fresh Session; in-flight
// operations keep their own reference so state is never mutated
// underneath them.
type Session struct {
	mu      sync.Mutex
	broker  broker.Broker
	backend llm.Backend
	exec    *tool.Executor
	orch    *Orchestrator
	system  string
	history []llm.Message
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) SessionOption {
	return func(s *Session) {
		if prompt != "" {
			s.system = prompt
		}
	}
}

// WithOrchestrator replaces the default orchestrator, mainly for tests
// and for callers that tune the turn bound.
func WithOrchestrator(o *Orchestrator) SessionOption {
	return func(s *Session) { s.orch = o }
}

// NewSession builds a session over a broker and backend, wiring the
// tool executor to the given notes store.
func NewSession(b broker.Broker, backend llm.Backend, store *notes.Store, opts ...SessionOption) *Session {
	exec := tool.NewExecutor(b, store)
	s := &Session{
		broker:  b,
		backend: backend,
		exec:    exec,
		system:  DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.orch == nil {
		s.orch = NewOrchestrator(backend, exec)
	}
	return s
}

// Broker returns the broker this session trades through.
func (s *Session) Broker() broker.Broker { return s.broker }

// Executor returns the session's tool executor.
func (s *Session) Executor() *tool.Executor { return s.exec }

// Chat appends the user message, runs the tool-use loop to completion
// and returns the final text. The augmented history is retained for the
// next call, trimmed to the session's history bound.
func (s *Session) Chat(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.history, llm.UserMessage(text))
	reply, augmented, err := s.orch.Run(ctx, s.system, history)
	if err != nil {
		return "", err
	}

	s.history = trimHistory(augmented)
	return reply, nil
}

// History returns a copy of the retained conversation.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

// Reset drops the conversation history, keeping broker and backend.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// trimHistory keeps the first message plus the most recent entries so
// long sessions do not grow the request without bound.
func trimHistory(history []llm.Message) []llm.Message {
	if len(history) <= maxHistoryMessages {
		return history
	}
	start := len(history) - (maxHistoryMessages - 1)
	// The window must not open on tool results whose assistant
	// tool-call message was trimmed away; both wire protocols reject
	// orphaned results.
	for start < len(history) && len(history[start].ToolResults) > 0 {
		start++
	}
	trimmed := make([]llm.Message, 0, 1+len(history)-start)
	trimmed = append(trimmed, history[0])
	return append(trimmed, history[start:]...)
}
