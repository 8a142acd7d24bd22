package contracts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"barsync/pkg/ibkr"
)

// New builds the contract for a single symbol routed through exchange.
func New(symbol, exchange string) ibkr.Contract {
	return ibkr.NewStock(symbol, exchange)
}

// Resolver turns a CSV symbol list into contracts.
//
// The list has a header row. Each following row contributes the value of
// column SymbolColumn with its first PrefixLen characters dropped, e.g.
// "US.AAPL" with PrefixLen 3 yields "AAPL".
type Resolver struct {
	SymbolColumn int
	PrefixLen    int
	Exchange     string
}

// DefaultResolver reads symbols like "US.AAPL" from the second column and
// routes them through SMART.
func DefaultResolver() Resolver {
	return Resolver{SymbolColumn: 1, PrefixLen: 3, Exchange: ibkr.ExchangeSmart}
}

// Load reads the symbol list at path.
func (r Resolver) Load(path string) ([]ibkr.Contract, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open symbol list: %w", err)
	}
	defer f.Close()
	return r.Read(f)
}

// Read returns one contract per data row, in input order.
func (r Resolver) Read(in io.Reader) ([]ibkr.Contract, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	var out []ibkr.Contract
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read symbol list: %w", err)
		}
		if line == 1 {
			continue // header
		}

		if r.SymbolColumn >= len(row) {
			return nil, fmt.Errorf("symbol list line %d: column %d out of range (%d columns)", line, r.SymbolColumn, len(row))
		}
		code := row[r.SymbolColumn]
		if r.PrefixLen >= len(code) {
			return nil, fmt.Errorf("symbol list line %d: %q too short for prefix length %d", line, code, r.PrefixLen)
		}
		out = append(out, New(code[r.PrefixLen:], r.Exchange))
	}
}
