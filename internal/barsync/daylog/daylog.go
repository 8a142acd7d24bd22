// Package daylog writes per-(symbol, day) append logs of bars.
//
// A Day Log is named <SYMBOL>_<YYYYMMDD>_<TAG>.log and holds one
// date~open~high~low~close~volume line per bar in append order.
package daylog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"barsync/pkg/ibkr"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

const ext = ".log"

// FileName returns the Day Log name for symbol on day (YYYYMMDD).
func FileName(symbol, day, tag string) string {
	return fmt.Sprintf("%s_%s_%s%s", symbol, day, tag, ext)
}

// ParseFileName extracts the day part of a Day Log name belonging to symbol.
// ok is false when name is not a Day Log of that symbol and tag. A name that
// matches the pattern but carries an invalid day is an error.
func ParseFileName(name, symbol, tag string) (day string, ok bool, err error) {
	prefix, suffix := symbol+"_", "_"+tag+ext
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) ||
		len(name) < len(prefix)+len(suffix) {
		return "", false, nil
	}
	middle := name[len(prefix) : len(name)-len(suffix)]
	if strings.Contains(middle, "_") {
		// belongs to another symbol sharing this prefix, e.g. BRK_B vs BRK
		return "", false, nil
	}
	if _, err := ibkr.ParseTimestamp(middle); err != nil || len(middle) != len(ibkr.DayLayout) {
		return "", true, fmt.Errorf("malformed day log name %q", name)
	}
	return middle, true, nil
}

type key struct {
	symbol string
	day    string
}

// Set owns the Day Logs opened during one sync run.
// It is not safe for concurrent use.
type Set struct {
	dir  string
	tag  string
	logs map[key]zapcore.Core
	fds  []*os.File
}

// NewSet creates an empty set writing into dir with the bar size tag.
func NewSet(dir, tag string) *Set {
	return &Set{
		dir:  dir,
		tag:  tag,
		logs: make(map[key]zapcore.Core),
	}
}

// Append writes bar to its Day Log, opening the log on first use in this
// run, and flushes the file to disk before returning.
func (s *Set) Append(symbol string, bar ibkr.Bar) (day string, err error) {
	day, err = bar.Day()
	if err != nil {
		return "", err
	}
	core, err := s.open(key{symbol: symbol, day: day})
	if err != nil {
		return "", err
	}
	if err := core.Write(zapcore.Entry{Level: zapcore.InfoLevel, Message: bar.Record()}, nil); err != nil {
		return "", fmt.Errorf("append %s: %w", FileName(symbol, day, s.tag), err)
	}
	if err := core.Sync(); err != nil {
		return "", fmt.Errorf("flush %s: %w", FileName(symbol, day, s.tag), err)
	}
	return day, nil
}

// Len reports how many Day Logs this run opened.
func (s *Set) Len() int { return len(s.logs) }

// Close closes every open Day Log. The set may not be reused.
func (s *Set) Close() error {
	var err error
	for _, f := range s.fds {
		err = multierr.Append(err, f.Close())
	}
	s.fds = nil
	s.logs = nil
	return err
}

func (s *Set) open(k key) (zapcore.Core, error) {
	if core, ok := s.logs[k]; ok {
		return core, nil
	}
	if s.logs == nil {
		return nil, fmt.Errorf("day log set is closed")
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create day log directory: %w", err)
	}
	path := filepath.Join(s.dir, FileName(k.symbol, k.day, s.tag))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open day log: %w", err)
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(recordEncoderConfig()), zapcore.AddSync(f), zapcore.InfoLevel)
	s.logs[k] = core
	s.fds = append(s.fds, f)
	return core, nil
}

// recordEncoderConfig emits the bare message followed by a newline.
func recordEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	}
}
