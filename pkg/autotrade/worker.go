package autotrade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradepilot/pkg/llm"
	"tradepilot/pkg/prompt"
	"tradepilot/pkg/tool"
)

// Runner executes one fresh conversation to completion and returns the
// final text plus the augmented history. Satisfied by agent.Orchestrator.
type Runner interface {
	Run(ctx context.Context, system string, history []llm.Message) (string, []llm.Message, error)
}

// contextTemplate renders the per-iteration context bundle handed to the
// model as the opening user message.
const contextTemplate = `MARKET CLOCK:
{{.Clock}}

IMPORTANT:
- If the market is closed (is_open = false): only trade crypto.
- If the market is open: both stocks and crypto can be traded.
- Crypto trades 24/7 regardless of market status.

ACCOUNT STATUS:
{{.Account}}

CURRENT POSITIONS:
{{.Positions}}

EXTERNAL SIGNALS:
{{.Signals}}

TRADING CONSTRAINTS:
{{.Constraints}}

TASK: Based on your current portfolio state and the signals above, determine if any trades should be executed. Follow your systematic analysis process, starting with portfolio review and your trading memory.`

type bundleData struct {
	Clock       string
	Account     string
	Positions   string
	Signals     string
	Constraints string
}

// Worker is the single background trading loop: an explicit handle with
// start, request-stop and await-stopped semantics. The stop signal is
// observed only between iterations; a running iteration always finishes.
type Worker struct {
	runner Runner
	exec   *tool.Executor
	audit  *Log
	tmpl   *prompt.Template

	// runMu is held for the whole of an iteration so the config slot can
	// only be swapped while no run is executing.
	runMu sync.Mutex

	mu      sync.Mutex
	cfg     Config
	started bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker wires a runner, executor and audit ring under the given
// config.
func NewWorker(runner Runner, exec *tool.Executor, audit *Log, cfg Config) (*Worker, error) {
	if runner == nil || exec == nil || audit == nil {
		return nil, errors.New("autotrade: worker requires runner, executor and audit log")
	}
	tmpl, err := prompt.NewTemplateFromString("autotrade-context", contextTemplate, nil)
	if err != nil {
		return nil, err
	}
	cfg.normalise()
	return &Worker{
		runner:   runner,
		exec:     exec,
		audit:    audit,
		tmpl:     tmpl,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}, nil
}

// Start launches the loop. A worker runs at most once; build a new one
// to restart.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.New("autotrade: worker already started")
	}
	select {
	case <-w.stopChan:
		return errors.New("autotrade: worker already stopped")
	default:
	}
	w.started = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop requests termination and waits for the loop to exit. Safe to
// call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool {
	select {
	case <-w.stopChan:
		return false
	default:
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// UpdateConfig swaps the configuration slot. It blocks until no
// iteration is executing, so a run never observes a half-applied config.
func (w *Worker) UpdateConfig(cfg Config) {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	cfg.normalise()
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
}

// Config returns a copy of the current configuration.
func (w *Worker) Config() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

func (w *Worker) loop() {
	defer w.wg.Done()
	w.audit.Append(LevelSuccess, "auto-trading loop started")

	for {
		select {
		case <-w.stopChan:
			w.audit.Append(LevelInfo, "auto-trading loop stopped")
			return
		default:
		}

		w.runMu.Lock()
		delay := w.runOnce(context.Background())
		w.runMu.Unlock()

		select {
		case <-w.stopChan:
			w.audit.Append(LevelInfo, "auto-trading loop stopped")
			return
		case <-time.After(delay):
		}
	}
}

// runOnce executes one iteration and returns how long to sleep before
// the next.
func (w *Worker) runOnce(ctx context.Context) time.Duration {
	cfg := w.Config()

	w.audit.Append(LevelInfo, "analyzing market conditions")

	clock := w.exec.Execute(ctx, "get_market_clock", nil)
	if msg, failed := errorPayload(clock); failed {
		w.audit.Append(LevelError, fmt.Sprintf("failed to get market clock: %s", msg))
		// Degrade to closed so the model stays off stock orders.
		clock = `{"is_open": false, "timestamp": "unknown"}`
	}

	account := w.exec.Execute(ctx, "get_account", nil)
	if msg, failed := errorPayload(account); failed {
		w.audit.Append(LevelError, fmt.Sprintf("failed to get account: %s", msg))
		w.audit.Append(LevelInfo, "skipping this cycle, will retry next interval")
		return cfg.Interval
	}

	positions := w.exec.Execute(ctx, "get_all_positions", nil)
	if msg, failed := errorPayload(positions); failed {
		w.audit.Append(LevelError, fmt.Sprintf("failed to get positions: %s", msg))
		positions = "[]"
	}

	if skip := w.checkFunding(account, positions); skip {
		return cfg.Interval
	}

	bundle, err := w.tmpl.Render(bundleData{
		Clock:       clock,
		Account:     account,
		Positions:   positions,
		Signals:     orDefault(cfg.Signals, "No external signal data available."),
		Constraints: renderConstraints(cfg),
	})
	if err != nil {
		w.audit.Append(LevelError, fmt.Sprintf("render context bundle: %v", err))
		return ErrorBackoff
	}

	userPrompt := fmt.Sprintf("STRATEGY: %s\n\n%s", cfg.StrategyPrompt, bundle)

	w.audit.Append(LevelInfo, "consulting model for trading decision")
	start := time.Now()
	reply, history, err := w.runner.Run(ctx, cfg.SystemPrompt, []llm.Message{llm.UserMessage(userPrompt)})
	if err != nil {
		w.audit.Append(LevelError, fmt.Sprintf("model run failed: %v", err))
		return ErrorBackoff
	}
	w.audit.Append(LevelSuccess, fmt.Sprintf("model responded in %.1fs", time.Since(start).Seconds()))

	w.auditToolExchanges(history)
	w.audit.Append(LevelInfo, fmt.Sprintf("model says: %s", truncate(reply, 800)))

	return cfg.Interval
}

// checkFunding skips the iteration when the account snapshot shows no
// usable funds. Zero balances alongside open positions indicate a venue
// sync problem; trading on that snapshot is worse than a missed cycle.
func (w *Worker) checkFunding(account, positions string) bool {
	var snapshot struct {
		PortfolioValue float64 `json:"portfolio_value"`
		Cash           float64 `json:"cash"`
		BuyingPower    float64 `json:"buying_power"`
	}
	if err := json.Unmarshal([]byte(account), &snapshot); err != nil {
		return false
	}
	if snapshot.PortfolioValue != 0 || snapshot.Cash != 0 || snapshot.BuyingPower != 0 {
		return false
	}

	var held []json.RawMessage
	_ = json.Unmarshal([]byte(positions), &held)

	if len(held) > 0 {
		w.audit.Append(LevelError, fmt.Sprintf(
			"account shows $0 balances but %d position(s) exist; likely a venue sync issue", len(held)))
	} else {
		w.audit.Append(LevelError, "account appears unfunded: $0 balance and no positions")
	}
	w.audit.Append(LevelInfo, "skipping trading until the account reports funds")
	return true
}

func (w *Worker) auditToolExchanges(history []llm.Message) {
	for _, msg := range history {
		for _, call := range msg.ToolCalls {
			args, _ := json.Marshal(call.Arguments)
			w.audit.Append(LevelInfo, fmt.Sprintf("tool call %s %s", call.Name, truncate(string(args), 200)))
		}
		for _, result := range msg.ToolResults {
			level := LevelInfo
			if _, failed := errorPayload(result.Content); failed {
				level = LevelError
			}
			w.audit.Append(level, fmt.Sprintf("tool result %s: %s", result.CallID, truncate(result.Content, 200)))
		}
	}
}

func renderConstraints(cfg Config) string {
	constraints := map[string]any{
		"categories":       cfg.Categories,
		"keywords":         cfg.Keywords,
		"max_trade_amount": cfg.MaxTradeAmount,
	}
	data, err := json.Marshal(constraints)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// errorPayload reports whether a tool result is a structured error.
func errorPayload(result string) (string, bool) {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		return "", false
	}
	return payload.Error, payload.Error != ""
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... [+%d more chars]", s[:n], len(s)-n)
}
