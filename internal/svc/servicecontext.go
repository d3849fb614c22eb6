package svc

import (
	"fmt"
	"sync"

	"tradepilot/internal/config"
	"tradepilot/internal/notes"
	"tradepilot/pkg/agent"
	"tradepilot/pkg/autotrade"
	"tradepilot/pkg/broker"
	_ "tradepilot/pkg/broker/alpaca"
	_ "tradepilot/pkg/broker/binance"
	_ "tradepilot/pkg/broker/bybit"
	_ "tradepilot/pkg/broker/sim"
	"tradepilot/pkg/llm"
)

// ServiceContext wires the configured brokers, model backend, notes
// store and audit ring. The active session and worker sit behind a
// mutex: re-initialization swaps pointers while in-flight requests keep
// their old references.
type ServiceContext struct {
	Config config.Config

	Brokers       map[string]broker.Broker
	DefaultBroker string

	Backend  llm.Backend
	Notes    *notes.Store
	AuditLog *autotrade.Log

	mu      sync.RWMutex
	session *agent.Session
	worker  *autotrade.Worker
}

// NewServiceContext builds the context from loaded configuration.
func NewServiceContext(c config.Config) (*ServiceContext, error) {
	svc := &ServiceContext{
		Config:   c,
		Brokers:  make(map[string]broker.Broker),
		AuditLog: autotrade.NewLog(autotrade.DefaultLogCapacity),
		Notes:    notes.NewStore(c.ResolvePath(c.MemoryPath)),
	}

	if c.Broker.Value != nil {
		brokerCfg := c.Broker.Value
		// Test mode forces paper endpoints on every venue.
		if c.IsTestEnv() {
			for _, venue := range brokerCfg.Brokers {
				venue.Paper = true
			}
		}
		brokers, err := brokerCfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build brokers: %w", err)
		}
		svc.Brokers = brokers
		svc.DefaultBroker = brokerCfg.Default
	}

	if c.LLM.Value != nil {
		backend, err := c.LLM.Value.NewBackend()
		if err != nil {
			return nil, fmt.Errorf("build llm backend: %w", err)
		}
		svc.Backend = backend
	}

	if svc.DefaultBroker != "" && svc.Backend != nil {
		if err := svc.Initialize(svc.DefaultBroker); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// MustNewServiceContext builds the context or panics.
func MustNewServiceContext(c config.Config) *ServiceContext {
	svc, err := NewServiceContext(c)
	if err != nil {
		panic(err)
	}
	return svc
}

// Initialize builds a fresh session against the named broker and swaps
// it in. The previous session remains valid for requests already holding
// it.
func (s *ServiceContext) Initialize(brokerID string) error {
	b, ok := s.Brokers[brokerID]
	if !ok {
		ids := make([]string, 0, len(s.Brokers))
		for id := range s.Brokers {
			ids = append(ids, id)
		}
		return &broker.UnknownBrokerError{ID: brokerID, Valid: ids}
	}
	if s.Backend == nil {
		return fmt.Errorf("svc: no llm backend configured")
	}

	session := agent.NewSession(b, s.Backend, s.Notes)

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
	return nil
}

// Session returns the active session, or nil before initialization.
func (s *ServiceContext) Session() *agent.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// StartAutotrading builds and starts a fresh worker over the active
// session's broker. An already-running worker is an error.
func (s *ServiceContext) StartAutotrading(cfg autotrade.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker != nil && s.worker.Running() {
		return fmt.Errorf("svc: autotrading already running")
	}
	if s.session == nil {
		return fmt.Errorf("svc: initialize a broker session first")
	}

	orch := agent.NewOrchestrator(s.Backend, s.session.Executor())
	worker, err := autotrade.NewWorker(orch, s.session.Executor(), s.AuditLog, cfg)
	if err != nil {
		return err
	}
	if err := worker.Start(); err != nil {
		return err
	}
	s.worker = worker
	return nil
}

// StopAutotrading requests a stop and waits for the loop to exit. A
// no-op when nothing runs.
func (s *ServiceContext) StopAutotrading() {
	s.mu.Lock()
	worker := s.worker
	s.mu.Unlock()
	if worker != nil {
		worker.Stop()
	}
}

// AutotradingConfig returns the running worker's configuration.
func (s *ServiceContext) AutotradingConfig() (autotrade.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.worker == nil {
		return autotrade.Config{}, false
	}
	return s.worker.Config(), true
}

// AutotradingRunning reports whether the worker loop is active.
func (s *ServiceContext) AutotradingRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worker != nil && s.worker.Running()
}
