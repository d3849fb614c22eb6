package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/internal/notes"
	"tradepilot/pkg/broker"
	_ "tradepilot/pkg/broker/sim"
	"tradepilot/pkg/llm"
	"tradepilot/pkg/tool"
)

// scriptedBackend replays canned turns and records every request.
type scriptedBackend struct {
	turns    []*llm.Turn
	requests []*llm.Request
	err      error
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Complete(_ context.Context, req *llm.Request) (*llm.Turn, error) {
	b.requests = append(b.requests, req)
	if b.err != nil {
		return nil, b.err
	}
	if len(b.turns) == 0 {
		return &llm.Turn{Text: "out of script", StopReason: llm.StopEndTurn}, nil
	}
	turn := b.turns[0]
	b.turns = b.turns[1:]
	return turn, nil
}

func testExecutor(t *testing.T) *tool.Executor {
	t.Helper()
	b, err := broker.New("sim", broker.Credentials{Paper: true})
	require.NoError(t, err)
	store := notes.NewStore(filepath.Join(t.TempDir(), "memory.md"))
	return tool.NewExecutor(b, store)
}

func TestRunFinalTextFirstTurn(t *testing.T) {
	backend := &scriptedBackend{turns: []*llm.Turn{
		{Text: "nothing to do today", StopReason: llm.StopEndTurn},
	}}
	orch := NewOrchestrator(backend, testExecutor(t))

	reply, history, err := orch.Run(context.Background(), "system", []llm.Message{llm.UserMessage("status?")})
	require.NoError(t, err)
	assert.Equal(t, "nothing to do today", reply)
	require.Len(t, history, 2)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)

	// The registry travels with every completion request.
	require.Len(t, backend.requests, 1)
	assert.Len(t, backend.requests[0].Tools, len(tool.Definitions()))
	assert.Equal(t, "system", backend.requests[0].System)
}

func TestRunExecutesToolCallsInOrder(t *testing.T) {
	backend := &scriptedBackend{turns: []*llm.Turn{
		{
			StopReason: llm.StopToolUse,
			ToolCalls: []llm.ToolCall{
				{ID: "call_1", Name: "get_account", Arguments: map[string]any{}},
				{ID: "call_2", Name: "get_all_positions", Arguments: map[string]any{}},
			},
		},
		{Text: "account looks healthy", StopReason: llm.StopEndTurn},
	}}
	orch := NewOrchestrator(backend, testExecutor(t))

	reply, history, err := orch.Run(context.Background(), "system", []llm.Message{llm.UserMessage("check")})
	require.NoError(t, err)
	assert.Equal(t, "account looks healthy", reply)

	// user, assistant tool calls, tool results, final assistant.
	require.Len(t, history, 4)
	results := history[2].ToolResults
	require.Len(t, results, 2)
	assert.Equal(t, "call_1", results[0].CallID)
	assert.Equal(t, "call_2", results[1].CallID)
	assert.Contains(t, results[0].Content, "cash")
	assert.Equal(t, "[]", results[1].Content)

	// The second completion sees the augmented history.
	require.Len(t, backend.requests, 2)
	assert.Len(t, backend.requests[1].Messages, 3)
}

func TestRunMaxTurnsAdvisory(t *testing.T) {
	loop := &llm.Turn{
		StopReason: llm.StopToolUse,
		ToolCalls:  []llm.ToolCall{{ID: "call_x", Name: "get_account", Arguments: map[string]any{}}},
	}
	backend := &scriptedBackend{turns: []*llm.Turn{loop, loop, loop, loop}}
	orch := NewOrchestrator(backend, testExecutor(t), WithMaxTurns(3))

	reply, _, err := orch.Run(context.Background(), "system", []llm.Message{llm.UserMessage("go")})
	require.NoError(t, err, "hitting the turn bound is not an error")
	assert.Equal(t, MaxTurnsAdvisory, reply)
	assert.Len(t, backend.requests, 3)
}

func TestRunBackendErrorSurfaces(t *testing.T) {
	backend := &scriptedBackend{err: fmt.Errorf("upstream down")}
	orch := NewOrchestrator(backend, testExecutor(t))

	_, _, err := orch.Run(context.Background(), "system", []llm.Message{llm.UserMessage("go")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestRunUnknownToolKeepsLoopAlive(t *testing.T) {
	backend := &scriptedBackend{turns: []*llm.Turn{
		{
			StopReason: llm.StopToolUse,
			ToolCalls:  []llm.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: map[string]any{}}},
		},
		{Text: "skipped the unavailable tool", StopReason: llm.StopEndTurn},
	}}
	orch := NewOrchestrator(backend, testExecutor(t))

	reply, history, err := orch.Run(context.Background(), "system", []llm.Message{llm.UserMessage("go")})
	require.NoError(t, err)
	assert.Equal(t, "skipped the unavailable tool", reply)
	assert.Contains(t, history[2].ToolResults[0].Content, "unknown tool")
}
