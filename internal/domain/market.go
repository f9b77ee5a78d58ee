package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Price scale shared by every venue: integer basis points in [0, BpsScale].
const (
	BpsScale        = 10000
	NeutralPriceBps = 5000
)

// MaxMarketNameLen bounds a market display name, in runes.
const MaxMarketNameLen = 200

// TruncateName cuts s to at most n runes, never splitting a UTF-8 sequence.
func TruncateName(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Outcome is one side of a binary prediction market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome accepts "yes"/"no" in any case.
func ParseOutcome(s string) (Outcome, bool) {
	switch Outcome(strings.ToUpper(strings.TrimSpace(s))) {
	case OutcomeYes:
		return OutcomeYes, true
	case OutcomeNo:
		return OutcomeNo, true
	default:
		return "", false
	}
}

// Index returns 0 for YES and 1 for NO, matching venue token ordering.
func (o Outcome) Index() int {
	if o == OutcomeNo {
		return 1
	}
	return 0
}

// PredictionMarket is the venue-independent view of one tradeable binary
// outcome. Instances are rebuilt on every catalog fetch and never mutated.
type PredictionMarket struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	YesPrice    int     `json:"yesPrice"`
	NoPrice     int     `json:"noPrice"`
	Volume24h   float64 `json:"volume24h"`
	Liquidity   float64 `json:"liquidity"`
	Category    string  `json:"category"`
}

// Price returns the listed price for the given outcome in bps.
func (m PredictionMarket) Price(o Outcome) int {
	if o == OutcomeNo {
		return m.NoPrice
	}
	return m.YesPrice
}

// MarketSnapshot is the result of a single catalog fetch.
type MarketSnapshot struct {
	Venue     string             `json:"venue"`
	Markets   []PredictionMarket `json:"markets"`
	FetchedAt time.Time          `json:"fetchedAt"`
}

// ClampBps bounds v to [0, BpsScale].
func ClampBps(v int) int {
	if v < 0 {
		return 0
	}
	if v > BpsScale {
		return BpsScale
	}
	return v
}

// PriceSource tells whether a price was read from a venue or substituted.
type PriceSource string

const (
	PriceObserved  PriceSource = "observed"
	PriceEstimated PriceSource = "estimated"
)

// PriceQuote is a bps price tagged with its provenance.
type PriceQuote struct {
	Bps    int
	Source PriceSource
}

// ObservedPrice returns a clamped quote read from a venue.
func ObservedPrice(bps int) PriceQuote {
	return PriceQuote{Bps: ClampBps(bps), Source: PriceObserved}
}

// EstimatedPrice returns the neutral fallback quote.
func EstimatedPrice() PriceQuote {
	return PriceQuote{Bps: NeutralPriceBps, Source: PriceEstimated}
}

// Estimated reports whether the quote is the neutral fallback.
func (q PriceQuote) Estimated() bool {
	return q.Source == PriceEstimated
}
