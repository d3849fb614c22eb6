package autotrade

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/internal/notes"
	"tradepilot/pkg/broker/sim"
	"tradepilot/pkg/llm"
	"tradepilot/pkg/tool"
)

// countingRunner records runs and returns a canned reply.
type countingRunner struct {
	mu      sync.Mutex
	calls   int
	systems []string
	prompts []string
	reply   string
}

func (r *countingRunner) Run(_ context.Context, system string, history []llm.Message) (string, []llm.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.systems = append(r.systems, system)
	if len(history) > 0 {
		r.prompts = append(r.prompts, history[0].Text)
	}
	reply := r.reply
	if reply == "" {
		reply = "no trades today"
	}
	augmented := append(append([]llm.Message(nil), history...), llm.Message{Role: llm.RoleAssistant, Text: reply})
	return reply, augmented, nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testWorker(t *testing.T, b *sim.Broker, runner Runner, cfg Config) (*Worker, *Log) {
	t.Helper()
	store := notes.NewStore(filepath.Join(t.TempDir(), "memory.md"))
	exec := tool.NewExecutor(b, store)
	audit := NewLog(100)
	worker, err := NewWorker(runner, exec, audit, cfg)
	require.NoError(t, err)
	return worker, audit
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func auditContains(audit *Log, fragment string) bool {
	for _, entry := range audit.Entries() {
		if strings.Contains(entry.Message, fragment) {
			return true
		}
	}
	return false
}

func TestWorkerRunsIteration(t *testing.T) {
	runner := &countingRunner{reply: "holding steady"}
	worker, audit := testWorker(t, sim.New(), runner, Config{Interval: 10 * time.Millisecond})

	require.NoError(t, worker.Start())
	defer worker.Stop()

	waitFor(t, func() bool { return runner.count() >= 2 })
	waitFor(t, func() bool { return auditContains(audit, "holding steady") })

	assert.True(t, auditContains(audit, "auto-trading loop started"))
	assert.True(t, auditContains(audit, "analyzing market conditions"))

	// The context bundle carries account state and constraints.
	runner.mu.Lock()
	prompt := runner.prompts[0]
	runner.mu.Unlock()
	assert.Contains(t, prompt, "STRATEGY:")
	assert.Contains(t, prompt, "ACCOUNT STATUS:")
	assert.Contains(t, prompt, `"cash":100000`)
	assert.Contains(t, prompt, "max_trade_amount")
}

func TestWorkerUnfundedSkips(t *testing.T) {
	b := sim.New()
	b.SetCash(0)
	runner := &countingRunner{}
	worker, audit := testWorker(t, b, runner, Config{Interval: 10 * time.Millisecond})

	require.NoError(t, worker.Start())
	defer worker.Stop()

	waitFor(t, func() bool { return auditContains(audit, "appears unfunded") })
	assert.Equal(t, 0, runner.count(), "unfunded accounts must not reach the model")
	assert.True(t, auditContains(audit, "skipping trading"))
}

func TestWorkerStopsBetweenIterations(t *testing.T) {
	runner := &countingRunner{}
	worker, audit := testWorker(t, sim.New(), runner, Config{Interval: time.Hour})

	require.NoError(t, worker.Start())
	waitFor(t, func() bool { return runner.count() >= 1 })

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while the worker slept")
	}

	assert.False(t, worker.Running())
	assert.True(t, auditContains(audit, "auto-trading loop stopped"))
	assert.Equal(t, 1, runner.count())
}

func TestWorkerStartTwice(t *testing.T) {
	worker, _ := testWorker(t, sim.New(), &countingRunner{}, Config{Interval: time.Hour})
	require.NoError(t, worker.Start())
	defer worker.Stop()
	assert.Error(t, worker.Start())
}

func TestWorkerStoppedCannotRestart(t *testing.T) {
	worker, _ := testWorker(t, sim.New(), &countingRunner{}, Config{Interval: time.Hour})
	require.NoError(t, worker.Start())
	worker.Stop()
	assert.Error(t, worker.Start())
}

func TestWorkerUpdateConfig(t *testing.T) {
	worker, _ := testWorker(t, sim.New(), &countingRunner{}, Config{Interval: time.Hour})

	worker.UpdateConfig(Config{Interval: 5 * time.Second, StrategyPrompt: "trade BTC only"})
	cfg := worker.Config()
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, "trade BTC only", cfg.StrategyPrompt)
	assert.Equal(t, float64(DefaultMaxTradeAmount), cfg.MaxTradeAmount, "defaults are re-applied on swap")
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader("interval: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, float64(DefaultMaxTradeAmount), cfg.MaxTradeAmount)
	assert.NotEmpty(t, cfg.SystemPrompt)
	assert.NotEmpty(t, cfg.StrategyPrompt)
}

func TestConfigIntervalParsing(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader("interval: 5m\n"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Interval)

	_, err = LoadConfigFromReader(strings.NewReader("interval: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse interval")
}

func TestConfigEnvExpansion(t *testing.T) {
	t.Setenv("STRATEGY_OVERRIDE", "follow the signals")
	cfg, err := LoadConfigFromReader(strings.NewReader("strategy_prompt: ${STRATEGY_OVERRIDE}\n"))
	require.NoError(t, err)
	assert.Equal(t, "follow the signals", cfg.StrategyPrompt)
}
