package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"barsync/internal/barsync/daylog"
	"barsync/pkg/ibkr"
)

// Store derives resume points from the Day Logs already on disk.
type Store struct {
	dir string
	tag string
}

func NewStore(dir, tag string) *Store {
	return &Store{dir: dir, tag: tag}
}

// Days lists the days symbol has Day Logs for, in ascending order.
func (s *Store) Days(symbol string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan day logs: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok, _ := daylog.ParseFileName(e.Name(), symbol, s.tag); ok {
			names = append(names, e.Name())
		}
	}
	// YYYYMMDD names sort chronologically
	sort.Strings(names)

	days := make([]string, 0, len(names))
	for _, name := range names {
		day, _, err := daylog.ParseFileName(name, symbol, s.tag)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, nil
}

// Resume returns midnight of the EARLIEST day symbol has a Day Log for.
// ok is false when no Day Log exists. Resuming from the earliest day makes a
// rerun backfill older history below what is already on disk.
func (s *Store) Resume(symbol string) (resume time.Time, ok bool, err error) {
	days, err := s.Days(symbol)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(days) == 0 {
		return time.Time{}, false, nil
	}
	t, err := ibkr.ParseTimestamp(days[0])
	if err != nil {
		return time.Time{}, false, fmt.Errorf("resume point for %s: %w", symbol, err)
	}
	return ibkr.Midnight(t), true, nil
}
