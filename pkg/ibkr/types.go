package ibkr

import (
	"encoding/json"
	"fmt"
)

// Contract identifies the instrument a historical request is made for.
type Contract struct {
	Symbol   string `json:"symbol"`   // e.g., "AAPL"
	SecType  string `json:"secType"`  // always "STK" for this module
	Exchange string `json:"exchange"` // routing exchange, e.g., "SMART"
	Currency string `json:"currency"` // e.g., "USD"
}

// NewStock builds a USD equity contract routed through exchange.
func NewStock(symbol, exchange string) Contract {
	return Contract{
		Symbol:   symbol,
		SecType:  SecTypeStock,
		Exchange: exchange,
		Currency: CurrencyUSD,
	}
}

// Bar is one OHLCV record as delivered by the gateway.
type Bar struct {
	Date   string  `json:"date"` // "YYYYMMDD HH:MM:SS", separator may be padded
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Response is one tagged message of a historical-data page.
// The set of variants is closed: BarData, EndOfBatch and *APIError.
// An empty page carries no responses and signals exhaustion.
type Response interface {
	isResponse()
}

// BarData carries one bar.
type BarData struct {
	Bar Bar
}

// EndOfBatch closes a page and carries the span the page covered.
type EndOfBatch struct {
	Start string
	End   string
}

// APIError is an error reported by the gateway for a request.
type APIError struct {
	ReqID   int    `json:"reqId"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (BarData) isResponse()    {}
func (EndOfBatch) isResponse() {}
func (*APIError) isResponse()  {}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error: reqId=%d code=%d: %s", e.ReqID, e.Code, e.Message)
}

// request is the frame sent to the gateway bridge.
type request struct {
	Op         string   `json:"op"` // "head_timestamp" or "historical_data"
	ReqID      int      `json:"reqId"`
	Contract   Contract `json:"contract"`
	EndTime    string   `json:"endDateTime,omitempty"`
	Duration   string   `json:"duration,omitempty"`
	BarSize    string   `json:"barSize,omitempty"`
	WhatToShow string   `json:"whatToShow"`
	UseRTH     int      `json:"useRTH"`
}

// frame is a single message received from the websocket bridge.
type frame struct {
	ReqID     int    `json:"reqId"`
	Type      string `json:"type"` // "head_timestamp", "historical_data", "historical_data_end", "error"
	Timestamp string `json:"timestamp,omitempty"`
	Bar       *Bar   `json:"bar,omitempty"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Code      int    `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

const (
	opHeadTimestamp  = "head_timestamp"
	opHistoricalData = "historical_data"

	typeHeadTimestamp = "head_timestamp"
	typeBar           = "historical_data"
	typeEnd           = "historical_data_end"
	typeError         = "error"
)

// GatewayResponse is the envelope returned by the REST bridge.
type GatewayResponse struct {
	RetCode int             `json:"retCode"` // 0 means success
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"` // decoded per endpoint
	Time    int64           `json:"time"`   // server time in milliseconds
}

// HeadTimestampResult is the result of GET /v1/head-timestamp.
type HeadTimestampResult struct {
	Timestamp string `json:"timestamp"`
}

// HistoricalResult is the result of GET /v1/historical.
type HistoricalResult struct {
	Bars  []Bar  `json:"bars"`
	Start string `json:"start"`
	End   string `json:"end"`
}
