package ibkr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// headReqBase keeps head-timestamp request ids clear of the pagination ids.
const headReqBase = 1_000_000

// WSClient is one session with the websocket side of the gateway bridge.
// Requests are strictly sequential: each call writes one request frame and
// blocks until the matching terminal frame arrives.
type WSClient struct {
	url      string
	clientID int
	timeout  time.Duration
	conn     *websocket.Conn
	headReq  int
	logger   *zap.Logger
}

// NewWSClient creates a client for the given URL. Call Connect before use.
func NewWSClient(url string, clientID int, timeout time.Duration, logger *zap.Logger) *WSClient {
	return &WSClient{
		url:      url,
		clientID: clientID,
		timeout:  timeout,
		headReq:  headReqBase,
		logger:   logger,
	}
}

// Connect dials the bridge. The client id travels in the query string so the
// bridge can open a gateway session of the same id.
func (c *WSClient) Connect(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s?clientId=%d", c.url, c.clientID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.logger.Error("Failed to connect to gateway", zap.String("url", c.url), zap.Error(err))
		return fmt.Errorf("dial gateway: %w", err)
	}
	c.conn = conn
	c.logger.Info("Gateway connected", zap.String("url", c.url), zap.Int("client_id", c.clientID))
	return nil
}

// EarliestAvailable returns the earliest timestamp the gateway holds trade data for.
func (c *WSClient) EarliestAvailable(ctx context.Context, contract Contract) (string, error) {
	c.headReq++
	reqID := c.headReq
	err := c.send(request{
		Op:         opHeadTimestamp,
		ReqID:      reqID,
		Contract:   contract,
		WhatToShow: WhatToShowTrades,
		UseRTH:     1,
	})
	if err != nil {
		return "", err
	}

	for {
		f, err := c.next(ctx, reqID)
		if err != nil {
			return "", err
		}
		switch f.Type {
		case typeHeadTimestamp:
			return f.Timestamp, nil
		case typeError:
			return "", &APIError{ReqID: reqID, Code: f.Code, Message: f.Message}
		}
	}
}

// HistoricalBars requests one window of bars and collects the page.
// A "no data" error from the gateway yields the empty page. Any other gateway
// error is delivered as the last response of the page.
func (c *WSClient) HistoricalBars(ctx context.Context, reqID int, contract Contract,
	start, duration, barSize string) ([]Response, error) {
	err := c.send(request{
		Op:         opHistoricalData,
		ReqID:      reqID,
		Contract:   contract,
		EndTime:    start,
		Duration:   duration,
		BarSize:    barSize,
		WhatToShow: WhatToShowTrades,
		UseRTH:     1,
	})
	if err != nil {
		return nil, err
	}

	var page []Response
	for {
		f, err := c.next(ctx, reqID)
		if err != nil {
			return nil, err
		}
		resp, ok := toResponse(f)
		if !ok {
			c.logger.Debug("ignoring frame", zap.String("type", f.Type), zap.Int("req_id", reqID))
			continue
		}
		switch r := resp.(type) {
		case *APIError:
			if r.Code == CodeNoData && len(page) == 0 {
				return nil, nil
			}
			return append(page, r), nil
		case EndOfBatch:
			return append(page, r), nil
		default:
			page = append(page, r)
		}
	}
}

// Disconnect closes the session.
func (c *WSClient) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	c.logger.Info("Gateway disconnected", zap.Int("client_id", c.clientID))
	return err
}

func (c *WSClient) send(req request) error {
	if c.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send %s request %d: %w", req.Op, req.ReqID, err)
	}
	return nil
}

// next blocks until a frame for reqID arrives. Frames for other ids are dropped.
func (c *WSClient) next(ctx context.Context, reqID int) (frame, error) {
	for {
		if err := c.setDeadline(ctx); err != nil {
			return frame{}, err
		}
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return frame{}, fmt.Errorf("read request %d: %w", reqID, err)
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.logger.Warn("failed to parse gateway frame", zap.Error(err))
			continue
		}
		if f.ReqID != reqID {
			c.logger.Debug("dropping frame for other request",
				zap.Int("req_id", f.ReqID), zap.Int("want", reqID))
			continue
		}
		return f, nil
	}
}

func (c *WSClient) setDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if c.timeout > 0 {
		if d := time.Now().Add(c.timeout); deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	return c.conn.SetReadDeadline(deadline)
}
