// Package picks loads the pick list and narrows it to the picks a batch
// simulates.
package picks

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"picksim/pkg/model"
)

// Column names of the pick list
const (
	ColDate       = "date"
	ColTicker     = "ticker"
	ColSector     = "sector"
	ColPrice      = "price"
	ColMarketCap  = "mcap"
	ColPositiveMG = "is_positive_mg"
	ColProcessed  = "is_processed"
)

var dateLayouts = []string{
	model.DateLayout,
	"2006-01-02 15:04:05",
	"1/2/2006",
	"01/02/2006",
}

// ParseRecord converts one header-keyed record into a pick. Date and
// ticker are required; blank numeric and flag cells read as zero/false.
func ParseRecord(rec map[string]string, loc *time.Location) (model.Pick, error) {
	var p model.Pick

	date, err := parseDate(rec[ColDate], loc)
	if err != nil {
		return p, err
	}
	p.Date = date

	p.Ticker = normalizeTicker(rec[ColTicker])
	if p.Ticker == "" {
		return p, fmt.Errorf("missing ticker")
	}
	p.Sector = strings.TrimSpace(rec[ColSector])

	if p.Price, err = parseNumber(rec[ColPrice]); err != nil {
		return p, fmt.Errorf("price: %w", err)
	}
	if p.MarketCap, err = parseNumber(rec[ColMarketCap]); err != nil {
		return p, fmt.Errorf("mcap: %w", err)
	}
	p.PositiveMG = parseFlag(rec[ColPositiveMG])
	p.Processed = parseFlag(rec[ColProcessed])

	p.Extra = make(map[string]string, len(rec))
	for k, v := range rec {
		p.Extra[k] = v
	}
	return p, nil
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return model.DateOf(t, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// normalizeTicker upper-cases and trims a symbol
func normalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

// parseFlag reads 1, 1.0, true and yes as set
func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "1.0", "true", "yes", "y":
		return true
	}
	return false
}
