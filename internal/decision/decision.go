// Package decision is the boundary to the decision generator that turns a
// portfolio and a market list into trade intents. The LLM-backed generator
// never fails outward: any error yields Fallback.
package decision

import (
	"context"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// Risk levels reported in Analysis.RiskAssessment.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// OpenPosition is an open ledger trade with its current quote. PnlBps is
// computed from Current even when the quote is estimated.
type OpenPosition struct {
	MarketID   string
	MarketName string
	Position   domain.Outcome
	EntryPrice int
	Current    domain.PriceQuote
	PnlBps     int
}

// Limits are the risk rules stated to the generator.
type Limits struct {
	MaxPositionPct   float64
	StopLossBps      int
	TakeProfitBps    int
	MinEthBalance    float64
	MaxOpenPositions int
}

// Input is everything the generator sees for one iteration.
type Input struct {
	PortfolioEth  float64
	OpenPositions []OpenPosition
	Markets       []domain.PredictionMarket
	News          []string
	Limits        Limits
}

// Analysis is the generator's output.
type Analysis struct {
	Decisions               []domain.TradeIntent `json:"decisions"`
	MarketCommentary        string               `json:"marketCommentary"`
	PortfolioRecommendation string               `json:"portfolioRecommendation"`
	RiskAssessment          string               `json:"riskAssessment"`
}

// Generator produces an Analysis for one iteration.
type Generator interface {
	Analyze(ctx context.Context, in Input) (Analysis, error)
}

// Fallback is the analysis used whenever the generator fails: no trades.
func Fallback() Analysis {
	return Analysis{
		Decisions:               []domain.TradeIntent{},
		MarketCommentary:        "Taking a cautious approach today. Markets are uncertain.",
		PortfolioRecommendation: "Maintaining current positions",
		RiskAssessment:          RiskMedium,
	}
}

// Static returns a fixed analysis without calling a model. It is used for
// dry runs and when no API key is configured.
type Static struct {
	Analysis Analysis
}

// Analyze returns the configured analysis with its intents normalized, or
// Fallback when none is configured.
func (s Static) Analyze(context.Context, Input) (Analysis, error) {
	if len(s.Analysis.Decisions) == 0 && s.Analysis.MarketCommentary == "" {
		return Fallback(), nil
	}
	out := s.Analysis
	out.Decisions = make([]domain.TradeIntent, 0, len(s.Analysis.Decisions))
	for _, d := range s.Analysis.Decisions {
		out.Decisions = append(out.Decisions, d.Normalize())
	}
	return out, nil
}
