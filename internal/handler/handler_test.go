package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/internal/notes"
	"tradepilot/internal/svc"
	"tradepilot/pkg/autotrade"
	"tradepilot/pkg/broker"
	"tradepilot/pkg/broker/sim"
	"tradepilot/pkg/llm"
)

type cannedBackend struct {
	reply string
}

func (b *cannedBackend) Name() string { return "canned" }

func (b *cannedBackend) Complete(_ context.Context, _ *llm.Request) (*llm.Turn, error) {
	return &llm.Turn{Text: b.reply, StopReason: llm.StopEndTurn}, nil
}

func testContext(t *testing.T) *svc.ServiceContext {
	t.Helper()
	svcCtx := &svc.ServiceContext{
		Brokers:       map[string]broker.Broker{"sim": sim.New()},
		DefaultBroker: "sim",
		Backend:       &cannedBackend{reply: "all quiet"},
		Notes:         notes.NewStore(filepath.Join(t.TempDir(), "memory.md")),
		AuditLog:      autotrade.NewLog(100),
	}
	require.NoError(t, svcCtx.Initialize("sim"))
	return svcCtx
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthHandler(t *testing.T) {
	svcCtx := testContext(t)

	rec := doJSON(t, HealthHandler(svcCtx), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "sim", resp.Broker)
	assert.False(t, resp.Autotrading)
}

func TestBrokersHandler(t *testing.T) {
	svcCtx := testContext(t)

	rec := doJSON(t, BrokersHandler(svcCtx), http.MethodGet, "/api/brokers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BrokersResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "sim", resp.Default)
	assert.Contains(t, resp.Configured, "sim")

	ids := make([]string, 0, len(resp.Brokers))
	for _, info := range resp.Brokers {
		ids = append(ids, info.ID)
	}
	assert.Contains(t, ids, "sim")
}

func TestInitializeUnknownBroker(t *testing.T) {
	svcCtx := testContext(t)

	rec := doJSON(t, InitializeHandler(svcCtx), http.MethodPost, "/api/initialize", `{"broker":"kraken"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Error, `unknown broker "kraken"`)
	assert.Contains(t, resp.Error, "sim")
}

func TestAccountHandler(t *testing.T) {
	svcCtx := testContext(t)

	rec := doJSON(t, AccountHandler(svcCtx), http.MethodGet, "/api/account", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var account broker.Account
	decodeBody(t, rec, &account)
	assert.InDelta(t, 100000, account.Cash, 1e-9)
}

func TestPositionsHandlerEmpty(t *testing.T) {
	svcCtx := testContext(t)

	rec := doJSON(t, PositionsHandler(svcCtx), http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestChatHandler(t *testing.T) {
	svcCtx := testContext(t)

	rec := doJSON(t, ChatHandler(svcCtx), http.MethodPost, "/api/chat", `{"message":"how is my account?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "all quiet", resp.Response)
}

func TestChatHandlerRequiresMessage(t *testing.T) {
	svcCtx := testContext(t)

	rec := doJSON(t, ChatHandler(svcCtx), http.MethodPost, "/api/chat", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatHandlerRequiresSession(t *testing.T) {
	svcCtx := &svc.ServiceContext{
		Brokers:  map[string]broker.Broker{},
		AuditLog: autotrade.NewLog(10),
	}

	rec := doJSON(t, ChatHandler(svcCtx), http.MethodPost, "/api/chat", `{"message":"hi"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Error, "initialize")
}

func TestWriteBrokerErrorStatuses(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		contains string
	}{
		{
			name:     "auth upstream carries a credential hint",
			err:      &broker.UpstreamError{Broker: "binance", Status: http.StatusUnauthorized, Message: "invalid key"},
			status:   http.StatusBadGateway,
			contains: "check API credentials",
		},
		{
			name:     "plain upstream stays 502",
			err:      &broker.UpstreamError{Broker: "bybit", Status: http.StatusServiceUnavailable, Message: "maintenance"},
			status:   http.StatusBadGateway,
			contains: "maintenance",
		},
		{
			name:     "validation maps to 400",
			err:      &broker.ValidationError{Field: "qty", Reason: "must be positive"},
			status:   http.StatusBadRequest,
			contains: "qty",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
			writeBrokerError(rec, req, tc.err)

			assert.Equal(t, tc.status, rec.Code)
			var resp ErrorResponse
			decodeBody(t, rec, &resp)
			assert.Contains(t, resp.Error, tc.contains)
		})
	}
}

func TestAutotradingLifecycle(t *testing.T) {
	svcCtx := testContext(t)

	rec := doJSON(t, AutotradingStartHandler(svcCtx), http.MethodPost, "/api/autotrading/start",
		`{"interval_seconds":3600,"strategy_prompt":"hold everything"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, AutotradingStatusHandler(svcCtx), http.MethodGet, "/api/autotrading/status", "")
	var status AutotradingStatusResponse
	decodeBody(t, rec, &status)
	assert.True(t, status.Active)
	assert.Equal(t, float64(3600), status.IntervalSeconds)
	assert.Equal(t, "hold everything", status.StrategyPrompt)

	// A second start while running is rejected.
	rec = doJSON(t, AutotradingStartHandler(svcCtx), http.MethodPost, "/api/autotrading/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, AutotradingStopHandler(svcCtx), http.MethodPost, "/api/autotrading/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, AutotradingStatusHandler(svcCtx), http.MethodGet, "/api/autotrading/status", "")
	decodeBody(t, rec, &status)
	assert.False(t, status.Active)
}

func TestAutotradingLogs(t *testing.T) {
	svcCtx := testContext(t)
	svcCtx.AuditLog.Append(autotrade.LevelInfo, "first entry")

	rec := doJSON(t, AutotradingLogsHandler(svcCtx), http.MethodGet, "/api/autotrading/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LogsResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "first entry", resp.Logs[0].Message)
	assert.WithinDuration(t, time.Now(), resp.Logs[0].Time, time.Minute)

	rec = doJSON(t, AutotradingLogsClearHandler(svcCtx), http.MethodPost, "/api/autotrading/logs/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, AutotradingLogsHandler(svcCtx), http.MethodGet, "/api/autotrading/logs", "")
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Logs, 1, "the clear marker remains")
	assert.Equal(t, "logs cleared", resp.Logs[0].Message)
}
