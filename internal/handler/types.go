package handler

import (
	"tradepilot/pkg/autotrade"
	"tradepilot/pkg/broker"
)

type HealthResponse struct {
	Status      string `json:"status"`
	Broker      string `json:"broker,omitempty"`
	Autotrading bool   `json:"autotrading"`
}

type BrokersResponse struct {
	Brokers    []broker.Info `json:"brokers"`
	Configured []string      `json:"configured"`
	Default    string        `json:"default,omitempty"`
}

type InitializeRequest struct {
	Broker string `json:"broker"`
}

type InitializeResponse struct {
	Status string `json:"status"`
	Broker string `json:"broker"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

type AutotradingStartRequest struct {
	IntervalSeconds int      `json:"interval_seconds,optional"`
	MaxTradeAmount  float64  `json:"max_trade_amount,optional"`
	Categories      []string `json:"categories,optional"`
	Keywords        []string `json:"keywords,optional"`
	SystemPrompt    string   `json:"system_prompt,optional"`
	StrategyPrompt  string   `json:"strategy_prompt,optional"`
	Signals         string   `json:"signals,optional"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type AutotradingStatusResponse struct {
	Active          bool    `json:"active"`
	IntervalSeconds float64 `json:"interval_seconds,omitempty"`
	StrategyPrompt  string  `json:"strategy_prompt,omitempty"`
}

type LogsResponse struct {
	Logs []autotrade.Entry `json:"logs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
