package svc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/internal/config"
	"tradepilot/internal/notes"
	"tradepilot/pkg/autotrade"
	"tradepilot/pkg/broker"
	"tradepilot/pkg/broker/sim"
	"tradepilot/pkg/llm"
)

type idleBackend struct{}

func (idleBackend) Name() string { return "idle" }

func (idleBackend) Complete(_ context.Context, _ *llm.Request) (*llm.Turn, error) {
	return &llm.Turn{Text: "nothing to do", StopReason: llm.StopEndTurn}, nil
}

func testServiceContext(t *testing.T) *ServiceContext {
	t.Helper()
	return &ServiceContext{
		Brokers:       map[string]broker.Broker{"sim": sim.New()},
		DefaultBroker: "sim",
		Backend:       idleBackend{},
		Notes:         notes.NewStore(filepath.Join(t.TempDir(), "memory.md")),
		AuditLog:      autotrade.NewLog(50),
	}
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewServiceContextFromConfig(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	dir := t.TempDir()

	writeConfig(t, dir, "broker.yaml", `
default: sim
brokers:
  sim:
    paper: true
`)
	writeConfig(t, dir, "llm.yaml", `
protocol: anthropic
api_key: test-key
model: claude-test
`)
	main := writeConfig(t, dir, "tradepilot.yaml", `
Name: tradepilot
Host: 127.0.0.1
Port: 8891
Env: test
MemoryPath: data/trading_memory.md
Broker:
  File: broker.yaml
LLM:
  File: llm.yaml
`)

	cfg, err := config.Load(main)
	require.NoError(t, err)

	svcCtx, err := NewServiceContext(*cfg)
	require.NoError(t, err)

	assert.Contains(t, svcCtx.Brokers, "sim")
	assert.Equal(t, "sim", svcCtx.DefaultBroker)
	require.NotNil(t, svcCtx.Backend)
	assert.Equal(t, filepath.Join(dir, "data/trading_memory.md"), svcCtx.Notes.Path())

	// A default broker plus a backend means the session is ready at boot.
	require.NotNil(t, svcCtx.Session())
	assert.Equal(t, "sim", svcCtx.Session().Broker().Name())
}

func TestInitializeUnknownBroker(t *testing.T) {
	svcCtx := testServiceContext(t)

	err := svcCtx.Initialize("kraken")
	require.Error(t, err)

	var unknown *broker.UnknownBrokerError
	require.ErrorAs(t, err, &unknown)
	assert.Contains(t, err.Error(), "sim")
}

func TestInitializeRequiresBackend(t *testing.T) {
	svcCtx := testServiceContext(t)
	svcCtx.Backend = nil

	err := svcCtx.Initialize("sim")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
}

func TestInitializeSwapsSession(t *testing.T) {
	svcCtx := testServiceContext(t)

	require.NoError(t, svcCtx.Initialize("sim"))
	first := svcCtx.Session()
	require.NotNil(t, first)

	require.NoError(t, svcCtx.Initialize("sim"))
	second := svcCtx.Session()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
}

func TestAutotradingLifecycle(t *testing.T) {
	svcCtx := testServiceContext(t)
	require.NoError(t, svcCtx.Initialize("sim"))

	cfg := autotrade.Config{Interval: time.Hour, StrategyPrompt: "sit tight"}
	require.NoError(t, svcCtx.StartAutotrading(cfg))
	assert.True(t, svcCtx.AutotradingRunning())

	got, ok := svcCtx.AutotradingConfig()
	require.True(t, ok)
	assert.Equal(t, "sit tight", got.StrategyPrompt)

	err := svcCtx.StartAutotrading(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	svcCtx.StopAutotrading()
	assert.False(t, svcCtx.AutotradingRunning())

	// A stopped worker is replaced by a fresh one on the next start.
	require.NoError(t, svcCtx.StartAutotrading(cfg))
	assert.True(t, svcCtx.AutotradingRunning())
	svcCtx.StopAutotrading()
}

func TestStartAutotradingRequiresSession(t *testing.T) {
	svcCtx := testServiceContext(t)

	err := svcCtx.StartAutotrading(autotrade.Config{Interval: time.Hour})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize")
}
