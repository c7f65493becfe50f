// Package export renders token holdings for download.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/portfolio-dashboard/internal/types"
)

// AllChains selects every chain in ToCSV
const AllChains = "all"

// Header is the first CSV row
var Header = []string{
	"chain",
	"symbol",
	"name",
	"contractAddress",
	"balance",
	"formatted",
	"decimals",
	"priceUsd",
	"valueUsd",
}

// ToCSV renders the holdings of chain as CSV. An empty chain or AllChains
// keeps every holding. The header row is always written.
func ToCSV(holdings []types.TokenHoldingDTO, chain string) (string, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, holdings, chain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteCSV streams the CSV rendering of ToCSV to w
func WriteCSV(w io.Writer, holdings []types.TokenHoldingDTO, chain string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, h := range holdings {
		if chain != "" && chain != AllChains && string(h.Chain) != chain {
			continue
		}
		if err := cw.Write(record(h)); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", h.ContractAddress, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func record(h types.TokenHoldingDTO) []string {
	return []string{
		string(h.Chain),
		optionalString(h.Symbol),
		optionalString(h.Name),
		h.ContractAddress,
		h.Balance,
		h.Formatted,
		optionalInt(h.Decimals),
		optionalFloat(h.PriceUSD),
		optionalFloat(h.ValueUSD),
	}
}

func optionalString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalInt(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func optionalFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
