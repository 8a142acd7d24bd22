package ibkr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RESTClient talks to the HTTP side of the gateway bridge.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

// EarliestAvailable returns the earliest timestamp the gateway holds trade data for.
func (c *RESTClient) EarliestAvailable(ctx context.Context, contract Contract) (string, error) {
	q := contractQuery(contract)
	q.Set("whatToShow", WhatToShowTrades)
	q.Set("useRTH", "1")

	var result HeadTimestampResult
	if err := c.get(ctx, 0, "/v1/head-timestamp", q, &result); err != nil {
		return "", err
	}
	if result.Timestamp == "" {
		return "", fmt.Errorf("head timestamp for %s: empty result", contract.Symbol)
	}
	return result.Timestamp, nil
}

// HistoricalBars requests one window of bars starting at start.
// The returned page is empty once the gateway has no more data.
func (c *RESTClient) HistoricalBars(ctx context.Context, reqID int, contract Contract,
	start, duration, barSize string) ([]Response, error) {
	q := contractQuery(contract)
	q.Set("reqId", strconv.Itoa(reqID))
	q.Set("endDateTime", start)
	q.Set("duration", duration)
	q.Set("barSize", barSize)
	q.Set("whatToShow", WhatToShowTrades)
	q.Set("useRTH", "1")

	var result HistoricalResult
	err := c.get(ctx, reqID, "/v1/historical", q, &result)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == CodeNoData {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toPage(result), nil
}

// Disconnect releases idle connections. The REST bridge keeps no session state.
func (c *RESTClient) Disconnect() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *RESTClient) get(ctx context.Context, reqID int, path string, q url.Values, out any) error {
	endpoint := c.baseURL + path + "?" + q.Encode()

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway http %d: %s", resp.StatusCode, body)
	}

	var rawResp GatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&rawResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rawResp.RetCode != 0 {
		return &APIError{ReqID: reqID, Code: rawResp.RetCode, Message: rawResp.RetMsg}
	}

	if err := json.Unmarshal(rawResp.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func contractQuery(c Contract) url.Values {
	q := url.Values{}
	q.Set("symbol", c.Symbol)
	q.Set("secType", c.SecType)
	q.Set("exchange", c.Exchange)
	q.Set("currency", c.Currency)
	return q
}
