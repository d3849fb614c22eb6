package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"tradepilot/internal/svc"
	"tradepilot/pkg/agent"
	"tradepilot/pkg/broker"
)

var errNoSession = errors.New("no broker session, call /api/initialize first")

func activeSession(svcCtx *svc.ServiceContext) (*agent.Session, error) {
	session := svcCtx.Session()
	if session == nil {
		return nil, errNoSession
	}
	return session, nil
}

// AccountHandler returns a fresh account snapshot from the active
// broker.
func AccountHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := activeSession(svcCtx)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		account, err := session.Broker().GetAccount(r.Context())
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, account)
	}
}

// PositionsHandler returns the open positions from the active broker.
func PositionsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := activeSession(svcCtx)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		positions, err := session.Broker().GetPositions(r.Context())
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		if positions == nil {
			positions = []broker.Position{}
		}
		httpx.OkJsonCtx(r.Context(), w, positions)
	}
}

// ChatHandler runs one conversational exchange through the tool loop.
func ChatHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		if req.Message == "" {
			writeError(w, r, http.StatusBadRequest, errors.New("no message provided"))
			return
		}
		session, err := activeSession(svcCtx)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		reply, err := session.Chat(r.Context(), req.Message)
		if err != nil {
			writeError(w, r, http.StatusBadGateway, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, ChatResponse{Response: reply})
	}
}

// writeBrokerError maps venue failures onto HTTP statuses. Credential
// problems keep the upstream status but carry a hint for the operator.
func writeBrokerError(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *broker.UpstreamError
	if errors.As(err, &upstream) && upstream.Auth() {
		err = fmt.Errorf("broker authentication failed, check API credentials: %w", err)
	}
	writeError(w, r, upstreamStatus(err), err)
}

// upstreamStatus maps venue failures onto HTTP statuses: upstream
// faults surface as 502, everything local stays 500.
func upstreamStatus(err error) int {
	var upstream *broker.UpstreamError
	if errors.As(err, &upstream) {
		return http.StatusBadGateway
	}
	var validation *broker.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
