package picks

import (
	"sort"

	"picksim/pkg/model"
)

// FilterOptions selects the picks a batch simulates
type FilterOptions struct {
	MinMarketCap      float64
	RequirePositiveMG bool
	SkipProcessed     bool
}

// Filter keeps the picks matching opts, preserving order
func Filter(picks []model.Pick, opts FilterOptions) []model.Pick {
	out := make([]model.Pick, 0, len(picks))
	for _, p := range picks {
		if opts.RequirePositiveMG && !p.PositiveMG {
			continue
		}
		if p.MarketCap < opts.MinMarketCap {
			continue
		}
		if opts.SkipProcessed && p.Processed {
			continue
		}
		out = append(out, p)
	}
	return out
}

type dedupeKey struct {
	date       string
	ticker     string
	sector     string
	positiveMG bool
}

func keyOf(p model.Pick) dedupeKey {
	return dedupeKey{
		date:       p.Date.Format(model.DateLayout),
		ticker:     p.Ticker,
		sector:     p.Sector,
		positiveMG: p.PositiveMG,
	}
}

// Dedupe collapses picks sharing date, ticker, sector and the MG flag into
// one, keeping the largest market cap and the largest price. The result is
// sorted by those keys; the other fields come from the first pick of each
// group.
func Dedupe(picks []model.Pick) []model.Pick {
	index := make(map[dedupeKey]int)
	var out []model.Pick
	for _, p := range picks {
		k := keyOf(p)
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, p)
			continue
		}
		out[i].MarketCap = max(out[i].MarketCap, p.MarketCap)
		out[i].Price = max(out[i].Price, p.Price)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := keyOf(out[i]), keyOf(out[j])
		if a.date != b.date {
			return a.date < b.date
		}
		if a.ticker != b.ticker {
			return a.ticker < b.ticker
		}
		if a.sector != b.sector {
			return a.sector < b.sector
		}
		return !a.positiveMG && b.positiveMG
	})
	return out
}

// Select applies Filter then Dedupe
func Select(picks []model.Pick, opts FilterOptions) []model.Pick {
	return Dedupe(Filter(picks, opts))
}
