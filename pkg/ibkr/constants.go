package ibkr

import "fmt"

// BarSize is the bar size setting understood by the gateway, e.g. "1 min".
type BarSize string

// BarSizeMeta holds the gateway value and the tag used in Day Log file names.
type BarSizeMeta struct {
	APIValue string
	FileTag  string
	Minutes  int
}

const (
	BarSize1Min  BarSize = "1 min"
	BarSize5Min  BarSize = "5 mins"
	BarSize15Min BarSize = "15 mins"
	BarSize30Min BarSize = "30 mins"
	BarSize1Hour BarSize = "1 hour"
	BarSize1Day  BarSize = "1 day"
)

const (
	SecTypeStock     = "STK"
	CurrencyUSD      = "USD"
	ExchangeSmart    = "SMART"
	WhatToShowTrades = "TRADES"

	// CodeNoData is returned by the gateway when a historical query has no bars.
	CodeNoData = 162
)

var validBarSizes = map[BarSize]BarSizeMeta{
	BarSize1Min:  {APIValue: "1 min", FileTag: "1M", Minutes: 1},
	BarSize5Min:  {APIValue: "5 mins", FileTag: "5M", Minutes: 5},
	BarSize15Min: {APIValue: "15 mins", FileTag: "15M", Minutes: 15},
	BarSize30Min: {APIValue: "30 mins", FileTag: "30M", Minutes: 30},
	BarSize1Hour: {APIValue: "1 hour", FileTag: "1H", Minutes: 60},
	BarSize1Day:  {APIValue: "1 day", FileTag: "1D", Minutes: 1440},
}

// IsValid reports whether b is a supported bar size.
func (b BarSize) IsValid() bool {
	_, ok := validBarSizes[b]
	return ok
}

// ParseBarSize parses a string into its BarSizeMeta.
func ParseBarSize(s string) (BarSizeMeta, error) {
	meta, ok := validBarSizes[BarSize(s)]
	if !ok {
		return BarSizeMeta{}, fmt.Errorf("invalid bar size: %q", s)
	}
	return meta, nil
}

// MonthsDuration renders a window of n calendar months as a gateway duration ("2 M").
func MonthsDuration(n int) string {
	return fmt.Sprintf("%d M", n)
}
