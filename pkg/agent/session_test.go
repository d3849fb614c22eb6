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
	"tradepilot/pkg/llm"
)

func testSession(t *testing.T, backend llm.Backend, opts ...SessionOption) *Session {
	t.Helper()
	b, err := broker.New("sim", broker.Credentials{Paper: true})
	require.NoError(t, err)
	store := notes.NewStore(filepath.Join(t.TempDir(), "memory.md"))
	return NewSession(b, backend, store, opts...)
}

func TestSessionChatRetainsHistory(t *testing.T) {
	backend := &scriptedBackend{turns: []*llm.Turn{
		{Text: "hello", StopReason: llm.StopEndTurn},
		{Text: "still here", StopReason: llm.StopEndTurn},
	}}
	session := testSession(t, backend)

	reply, err := session.Chat(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)
	assert.Len(t, session.History(), 2)

	_, err = session.Chat(context.Background(), "anything new?")
	require.NoError(t, err)
	assert.Len(t, session.History(), 4)

	// The second completion carries the first exchange.
	require.Len(t, backend.requests, 2)
	assert.Len(t, backend.requests[1].Messages, 3)
}

func TestSessionHistoryTrimmed(t *testing.T) {
	turns := make([]*llm.Turn, 0, 30)
	for i := 0; i < 30; i++ {
		turns = append(turns, &llm.Turn{Text: fmt.Sprintf("reply %d", i), StopReason: llm.StopEndTurn})
	}
	backend := &scriptedBackend{turns: turns}
	session := testSession(t, backend)

	for i := 0; i < 30; i++ {
		_, err := session.Chat(context.Background(), fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	history := session.History()
	require.Len(t, history, maxHistoryMessages)
	assert.Equal(t, "message 0", history[0].Text, "the opening message is pinned")
	assert.Equal(t, "reply 29", history[len(history)-1].Text)
}

func TestTrimHistorySkipsOrphanedToolResults(t *testing.T) {
	// Lay out the history so the trim cut lands exactly on a
	// tool-results batch whose tool-call message falls outside the
	// window.
	history := []llm.Message{
		llm.UserMessage("message 0"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "tu_1", Name: "get_account"}}},
		llm.ToolResults([]llm.ToolResult{{CallID: "tu_1", Content: `{"cash":100}`}}),
	}
	for i := 1; len(history) < maxHistoryMessages+1; i++ {
		history = append(history, llm.UserMessage(fmt.Sprintf("message %d", i)))
	}

	cut := len(history) - (maxHistoryMessages - 1)
	require.NotEmpty(t, history[cut].ToolResults, "cut must land on a tool-results batch")

	trimmed := trimHistory(history)
	assert.Equal(t, "message 0", trimmed[0].Text, "the opening message is pinned")
	assert.Equal(t, "message 1", trimmed[1].Text, "the window must not open on tool results")
	for _, msg := range trimmed {
		assert.Empty(t, msg.ToolResults)
	}
	assert.Len(t, trimmed, maxHistoryMessages-1)
}

func TestSessionReset(t *testing.T) {
	backend := &scriptedBackend{turns: []*llm.Turn{{Text: "ok", StopReason: llm.StopEndTurn}}}
	session := testSession(t, backend)

	_, err := session.Chat(context.Background(), "hi")
	require.NoError(t, err)
	session.Reset()
	assert.Empty(t, session.History())
}

func TestSessionCustomSystemPrompt(t *testing.T) {
	backend := &scriptedBackend{turns: []*llm.Turn{{Text: "ok", StopReason: llm.StopEndTurn}}}
	session := testSession(t, backend, WithSystemPrompt("be terse"))

	_, err := session.Chat(context.Background(), "hi")
	require.NoError(t, err)
	require.Len(t, backend.requests, 1)
	assert.Equal(t, "be terse", backend.requests[0].System)
}
