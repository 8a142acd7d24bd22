package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"barsync/pkg/ibkr"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type call struct {
	reqID int
	start string
}

// scriptedClient replays pages in order; once exhausted it returns empty pages.
type scriptedClient struct {
	pages        [][]ibkr.Response
	errAt        int // 1-based call that fails, 0 for never
	head         string
	calls        []call
	disconnected int
}

func (c *scriptedClient) EarliestAvailable(context.Context, ibkr.Contract) (string, error) {
	if c.head == "" {
		return "", errors.New("no head timestamp")
	}
	return c.head, nil
}

func (c *scriptedClient) HistoricalBars(_ context.Context, reqID int, _ ibkr.Contract,
	start, duration, barSize string) ([]ibkr.Response, error) {
	c.calls = append(c.calls, call{reqID: reqID, start: start})
	if duration != "2 M" || barSize != "1 min" {
		return nil, errors.New("unexpected window " + duration + "/" + barSize)
	}
	if c.errAt == len(c.calls) {
		return nil, errors.New("gateway timeout")
	}
	if len(c.pages) == 0 {
		return nil, nil
	}
	page := c.pages[0]
	c.pages = c.pages[1:]
	return page, nil
}

func (c *scriptedClient) Disconnect() error {
	c.disconnected++
	return nil
}

func bar(date string, close float64) ibkr.Response {
	return ibkr.BarData{Bar: ibkr.Bar{Date: date, Open: close, High: close, Low: close, Close: close, Volume: 10}}
}

func end(ts string) ibkr.Response {
	return ibkr.EndOfBatch{Start: "", End: ts}
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := ibkr.ParseTimestamp(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func newEngine(t *testing.T, dir string, mutate ...func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		DataDir:      dir,
		BarSize:      "1 min",
		WindowMonths: 2,
		Floor:        ts(t, "20120201 00:00:00"),
		ClientID:     500,
		Now:          func() time.Time { return ts(t, "20230101 13:45:00") },
	}
	for _, m := range mutate {
		m(&opts)
	}
	e, err := New(opts, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// go test -v --run TestSyncSinglePage
func TestSyncSinglePage(t *testing.T) {
	dir := t.TempDir()
	client := &scriptedClient{pages: [][]ibkr.Response{
		{bar("20230101 09:30:00", 1), bar("20230101 09:31:00", 2), end("20230103 00:00:00")},
	}}

	res, err := newEngine(t, dir).Sync(context.Background(), client, ibkr.NewStock("SYM", "SMART"))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got := lines(t, filepath.Join(dir, "SYM_20230101_1M.log"))
	if len(got) != 2 || !strings.HasPrefix(got[0], "20230101 09:30:00~") || !strings.HasPrefix(got[1], "20230101 09:31:00~") {
		t.Errorf("unexpected day log: %q", got)
	}
	if len(client.calls) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(client.calls))
	}
	if client.calls[0].reqID != 500 || client.calls[1].reqID != 501 {
		t.Errorf("request ids = %d, %d; want 500, 501", client.calls[0].reqID, client.calls[1].reqID)
	}
	if client.calls[0].start != "20230101 00:00:00" || client.calls[1].start != "20230103 00:00:00" {
		t.Errorf("request starts = %q, %q", client.calls[0].start, client.calls[1].start)
	}
	if client.disconnected != 1 {
		t.Errorf("disconnected %d times, want 1", client.disconnected)
	}
	if res.Pages != 2 || res.Bars != 2 || res.Days != 1 || res.NextReqID != 502 {
		t.Errorf("unexpected result: %+v", res)
	}
}

// go test -v --run TestSyncDaySpansPages
func TestSyncDaySpansPages(t *testing.T) {
	dir := t.TempDir()
	client := &scriptedClient{pages: [][]ibkr.Response{
		{bar("20230102 15:58:00", 1), bar("20230103 09:30:00", 2), end("20230103 12:00:00")},
		{end("20230105 00:00:00"), bar("20230103 12:00:00", 3), bar("20230104 09:30:00", 4)},
		{end("20230105 00:00:00")},
	}}

	res, err := newEngine(t, dir).Sync(context.Background(), client, ibkr.NewStock("SYM", "SMART"))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got := lines(t, filepath.Join(dir, "SYM_20230103_1M.log"))
	if len(got) != 2 || !strings.HasPrefix(got[0], "20230103 09:30:00") || !strings.HasPrefix(got[1], "20230103 12:00:00") {
		t.Errorf("day spanning two pages not appended in order: %q", got)
	}
	if res.Days != 3 || res.Bars != 4 {
		t.Errorf("unexpected result: %+v", res)
	}

	// request ids increase by one per request
	for i, c := range client.calls {
		if c.reqID != 500+i {
			t.Errorf("call %d reqID = %d", i, c.reqID)
		}
	}
	// the cursor never regresses
	prev := time.Time{}
	for _, c := range client.calls {
		cur := ts(t, c.start)
		if cur.Before(prev) {
			t.Errorf("cursor regressed from %v to %v", prev, cur)
		}
		prev = cur
	}
	if ibkr.FormatTimestamp(res.Cursor) != "20230105 00:00:00" {
		t.Errorf("final cursor = %s", ibkr.FormatTimestamp(res.Cursor))
	}
}

// go test -v --run TestSyncIgnoresBackwardEnd
func TestSyncIgnoresBackwardEnd(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	e := newEngine(t, t.TempDir())
	e.logger = zap.New(core)

	client := &scriptedClient{pages: [][]ibkr.Response{
		{bar("20221215 09:30:00", 1), end("20221201 00:00:00")},
	}}
	res, err := e.Sync(context.Background(), client, ibkr.NewStock("SYM", "SMART"))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if ibkr.FormatTimestamp(res.Cursor) != "20230101 00:00:00" {
		t.Errorf("cursor moved backward to %s", ibkr.FormatTimestamp(res.Cursor))
	}
	if logs.FilterMessage("ignoring batch end behind cursor").Len() != 1 {
		t.Errorf("expected a warning for the backward batch end, got %v", logs.All())
	}
}

// go test -v --run TestSyncResumesFromEarliestDayLog
func TestSyncResumesFromEarliestDayLog(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"SYM_20230105_1M.log", "SYM_20230101_1M.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	client := &scriptedClient{}
	e := newEngine(t, dir, func(o *Options) { o.Now = func() time.Time { return ts(t, "20240601 08:00:00") } })

	res, err := e.Sync(context.Background(), client, ibkr.NewStock("SYM", "SMART"))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if client.calls[0].start != "20230101 00:00:00" {
		t.Errorf("resumed from %q, want earliest day log 20230101 00:00:00", client.calls[0].start)
	}
	if res.Pages != 1 || res.Bars != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

// go test -v --run TestSyncFloor
func TestSyncFloor(t *testing.T) {
	client := &scriptedClient{}
	e := newEngine(t, t.TempDir(), func(o *Options) { o.Now = func() time.Time { return ts(t, "20100301 10:00:00") } })

	if _, err := e.Sync(context.Background(), client, ibkr.NewStock("SYM", "SMART")); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if client.calls[0].start != "20120201 00:00:00" {
		t.Errorf("start = %q, want the floor", client.calls[0].start)
	}
}

// go test -v --run TestEarliestStart
func TestEarliestStart(t *testing.T) {
	e := newEngine(t, t.TempDir())
	tests := []struct {
		head string
		want string
	}{
		{head: "20100105  09:30:00", want: "20120201 00:00:00"},
		{head: "20150105  14:30:00", want: "20150305 00:00:00"},
		{head: "20111215  14:30:00", want: "20120215 00:00:00"},
	}
	for _, tt := range tests {
		got, err := e.EarliestStart(context.Background(), &scriptedClient{head: tt.head}, ibkr.NewStock("SYM", "SMART"))
		if err != nil {
			t.Fatalf("EarliestStart(%q): %v", tt.head, err)
		}
		if ibkr.FormatTimestamp(got) != tt.want {
			t.Errorf("EarliestStart(%q) = %s, want %s", tt.head, ibkr.FormatTimestamp(got), tt.want)
		}
	}
}

// go test -v --run TestSyncStartFromEarliest
func TestSyncStartFromEarliest(t *testing.T) {
	client := &scriptedClient{head: "20150105  14:30:00"}
	e := newEngine(t, t.TempDir(), func(o *Options) { o.StartFromEarliest = true })

	if _, err := e.Sync(context.Background(), client, ibkr.NewStock("SYM", "SMART")); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if client.calls[0].start != "20150305 00:00:00" {
		t.Errorf("start = %q", client.calls[0].start)
	}

	failing := &scriptedClient{}
	if _, err := e.Sync(context.Background(), failing, ibkr.NewStock("SYM2", "SMART")); err == nil {
		t.Fatal("expected error when the head timestamp is unavailable")
	}
	if len(failing.calls) != 0 || failing.disconnected != 1 {
		t.Errorf("calls=%d disconnected=%d", len(failing.calls), failing.disconnected)
	}
}

// go test -v --run TestSyncAbortsOnGatewayError
func TestSyncAbortsOnGatewayError(t *testing.T) {
	dir := t.TempDir()
	client := &scriptedClient{
		pages: [][]ibkr.Response{{bar("20230101 09:30:00", 1), end("20230103 00:00:00")}},
		errAt: 2,
	}

	res, err := newEngine(t, dir).Sync(context.Background(), client, ibkr.NewStock("SYM", "SMART"))
	if err == nil || !strings.Contains(err.Error(), "gateway timeout") {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if res.NextReqID != 502 {
		t.Errorf("request id must advance on failure too, next = %d", res.NextReqID)
	}
	if client.disconnected != 1 {
		t.Errorf("session not disconnected on failure")
	}
	if got := lines(t, filepath.Join(dir, "SYM_20230101_1M.log")); len(got) != 1 {
		t.Errorf("progress before the failure not kept: %q", got)
	}
}

// go test -v --run TestSyncAbortsOnErrorResponse
func TestSyncAbortsOnErrorResponse(t *testing.T) {
	client := &scriptedClient{pages: [][]ibkr.Response{
		{bar("20230101 09:30:00", 1), &ibkr.APIError{ReqID: 500, Code: 321, Message: "invalid contract"}},
	}}

	_, err := newEngine(t, t.TempDir()).Sync(context.Background(), client, ibkr.NewStock("SYM", "SMART"))
	var apiErr *ibkr.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 321 {
		t.Fatalf("expected gateway error 321, got %v", err)
	}
	if len(client.calls) != 1 {
		t.Errorf("expected no request after an error response, got %d", len(client.calls))
	}
}

// go test -v --run TestSyncMalformedCheckpoint
func TestSyncMalformedCheckpoint(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "SYM_2023_1M.log"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	client := &scriptedClient{}
	if _, err := newEngine(t, dir).Sync(context.Background(), client, ibkr.NewStock("SYM", "SMART")); err == nil {
		t.Fatal("expected error for malformed checkpoint")
	}
	if len(client.calls) != 0 {
		t.Errorf("no request expected, got %d", len(client.calls))
	}
}

// go test -v --run TestSyncCancelled
func TestSyncCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{}

	_, err := newEngine(t, t.TempDir()).Sync(ctx, client, ibkr.NewStock("SYM", "SMART"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(client.calls) != 0 || client.disconnected != 1 {
		t.Errorf("calls=%d disconnected=%d", len(client.calls), client.disconnected)
	}
}

type recorder struct {
	bars     int
	statuses []Status
}

func (r *recorder) WriteBars(_ context.Context, _ ibkr.Contract, _ string, bars []ibkr.Bar) error {
	r.bars += len(bars)
	return nil
}

func (r *recorder) ReportStatus(_ context.Context, s Status) error {
	r.statuses = append(r.statuses, s)
	return nil
}

// go test -v --run TestSyncSinkAndReporter
func TestSyncSinkAndReporter(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, t.TempDir(), func(o *Options) {
		o.Sink = rec
		o.Reporter = rec
	})
	client := &scriptedClient{pages: [][]ibkr.Response{
		{bar("20230101 09:30:00", 1), bar("20230101 09:31:00", 2), end("20230103 00:00:00")},
	}}

	if _, err := e.Sync(context.Background(), client, ibkr.NewStock("SYM", "SMART")); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rec.bars != 2 {
		t.Errorf("sink received %d bars, want 2", rec.bars)
	}
	if len(rec.statuses) != 2 {
		t.Fatalf("expected 2 status reports, got %+v", rec.statuses)
	}
	if rec.statuses[0].State != StatusSyncing || rec.statuses[1].State != StatusCompleted {
		t.Errorf("unexpected states: %+v", rec.statuses)
	}
	if rec.statuses[1].Bars != 2 || rec.statuses[1].Pages != 2 {
		t.Errorf("unexpected final status: %+v", rec.statuses[1])
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(Options{BarSize: "3 weeks", WindowMonths: 2}, zap.NewNop()); err == nil {
		t.Error("expected error for unsupported bar size")
	}
	if _, err := New(Options{BarSize: "1 min"}, zap.NewNop()); err == nil {
		t.Error("expected error for zero window")
	}
}
