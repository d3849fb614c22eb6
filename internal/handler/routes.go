// Package handler exposes the HTTP surface. Routes are a thin boundary
// adapter; all trading rules live in the packages below.
package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"tradepilot/internal/svc"
)

// RegisterHandlers attaches all API routes to the server.
func RegisterHandlers(server *rest.Server, svcCtx *svc.ServiceContext) {
	server.AddRoutes([]rest.Route{
		{Method: http.MethodGet, Path: "/api/health", Handler: HealthHandler(svcCtx)},
		{Method: http.MethodGet, Path: "/api/brokers", Handler: BrokersHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/api/initialize", Handler: InitializeHandler(svcCtx)},
		{Method: http.MethodGet, Path: "/api/account", Handler: AccountHandler(svcCtx)},
		{Method: http.MethodGet, Path: "/api/positions", Handler: PositionsHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/api/chat", Handler: ChatHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/api/autotrading/start", Handler: AutotradingStartHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/api/autotrading/stop", Handler: AutotradingStopHandler(svcCtx)},
		{Method: http.MethodGet, Path: "/api/autotrading/status", Handler: AutotradingStatusHandler(svcCtx)},
		{Method: http.MethodGet, Path: "/api/autotrading/logs", Handler: AutotradingLogsHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/api/autotrading/logs/clear", Handler: AutotradingLogsClearHandler(svcCtx)},
	})
}
