package handler

import (
	"net/http"
	"time"

	"github.com/zeromicro/go-zero/rest/httpx"

	"tradepilot/internal/svc"
	"tradepilot/pkg/autotrade"
	"tradepilot/pkg/broker"
)

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	httpx.WriteJsonCtx(r.Context(), w, status, ErrorResponse{Error: err.Error()})
}

// HealthHandler reports liveness plus the active broker.
func HealthHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Autotrading: svcCtx.AutotradingRunning()}
		if session := svcCtx.Session(); session != nil {
			resp.Broker = session.Broker().Name()
		}
		httpx.OkJsonCtx(r.Context(), w, resp)
	}
}

// BrokersHandler serves the static broker metadata table. No venue
// connection is made.
func BrokersHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		configured := make([]string, 0, len(svcCtx.Brokers))
		for id := range svcCtx.Brokers {
			configured = append(configured, id)
		}
		httpx.OkJsonCtx(r.Context(), w, BrokersResponse{
			Brokers:    broker.Infos(),
			Configured: configured,
			Default:    svcCtx.DefaultBroker,
		})
	}
}

// InitializeHandler swaps in a fresh session against the named broker.
func InitializeHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InitializeRequest
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		if err := svcCtx.Initialize(req.Broker); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, InitializeResponse{Status: "initialized", Broker: req.Broker})
	}
}

// AutotradingStartHandler builds and starts a fresh worker.
func AutotradingStartHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AutotradingStartRequest
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		cfg := autotrade.Config{
			MaxTradeAmount: req.MaxTradeAmount,
			Categories:     req.Categories,
			Keywords:       req.Keywords,
			SystemPrompt:   req.SystemPrompt,
			StrategyPrompt: req.StrategyPrompt,
			Signals:        req.Signals,
		}
		if req.IntervalSeconds > 0 {
			cfg.Interval = secondsToDuration(req.IntervalSeconds)
		}
		if err := svcCtx.StartAutotrading(cfg); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, StatusResponse{Status: "started"})
	}
}

// AutotradingStopHandler requests a stop and waits for the loop to exit.
func AutotradingStopHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svcCtx.StopAutotrading()
		httpx.OkJsonCtx(r.Context(), w, StatusResponse{Status: "stopped"})
	}
}

// AutotradingStatusHandler reports whether the worker loop is active.
func AutotradingStatusHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := AutotradingStatusResponse{Active: svcCtx.AutotradingRunning()}
		if cfg, ok := svcCtx.AutotradingConfig(); ok && resp.Active {
			resp.IntervalSeconds = cfg.Interval.Seconds()
			resp.StrategyPrompt = cfg.StrategyPrompt
		}
		httpx.OkJsonCtx(r.Context(), w, resp)
	}
}

// AutotradingLogsHandler serves the audit ring, oldest first.
func AutotradingLogsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := svcCtx.AuditLog.Entries()
		if entries == nil {
			entries = []autotrade.Entry{}
		}
		httpx.OkJsonCtx(r.Context(), w, LogsResponse{Logs: entries})
	}
}

// AutotradingLogsClearHandler drops all audit entries.
func AutotradingLogsClearHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svcCtx.AuditLog.Clear()
		svcCtx.AuditLog.Append(autotrade.LevelInfo, "logs cleared")
		httpx.OkJsonCtx(r.Context(), w, StatusResponse{Status: "cleared"})
	}
}
