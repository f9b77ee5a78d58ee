package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

var errNoJSON = errors.New("decision: no JSON object in model output")

// rawAnalysis mirrors the model's JSON loosely so bad entries can be
// dropped one by one instead of failing the whole reply.
type rawAnalysis struct {
	Decisions               []rawDecision `json:"decisions"`
	MarketCommentary        string        `json:"marketCommentary"`
	PortfolioRecommendation string        `json:"portfolioRecommendation"`
	RiskAssessment          string        `json:"riskAssessment"`
}

type rawDecision struct {
	Action     string   `json:"action"`
	MarketID   string   `json:"marketId"`
	MarketName string   `json:"marketName"`
	Position   string   `json:"position"`
	AmountEth  *float64 `json:"amountEth"`
	Reasoning  string   `json:"reasoning"`
	Confidence float64  `json:"confidence"`
}

// extractJSON returns the span from the first '{' to the last '}'.
func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, errNoJSON
	}
	return []byte(content[start : end+1]), nil
}

// ParseAnalysis extracts and normalizes the analysis in a model reply.
func ParseAnalysis(content string) (Analysis, []string, error) {
	payload, err := extractJSON(content)
	if err != nil {
		return Analysis{}, nil, err
	}
	var raw rawAnalysis
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Analysis{}, nil, fmt.Errorf("decision: decode analysis: %w", err)
	}
	a, dropped := normalize(raw)
	return a, dropped, nil
}

// normalize clamps amounts and confidence, and drops decisions with an
// unknown action, an unknown position or no market. It returns the reasons
// for each dropped decision.
func normalize(raw rawAnalysis) (Analysis, []string) {
	out := Analysis{
		Decisions:               make([]domain.TradeIntent, 0, len(raw.Decisions)),
		MarketCommentary:        strings.TrimSpace(raw.MarketCommentary),
		PortfolioRecommendation: strings.TrimSpace(raw.PortfolioRecommendation),
		RiskAssessment:          strings.ToUpper(strings.TrimSpace(raw.RiskAssessment)),
	}
	if out.RiskAssessment == "" {
		out.RiskAssessment = RiskMedium
	}

	var dropped []string
	for i, d := range raw.Decisions {
		action := domain.TradeAction(strings.ToUpper(strings.TrimSpace(d.Action)))
		switch action {
		case domain.ActionBuy, domain.ActionSell, domain.ActionHold:
		default:
			dropped = append(dropped, fmt.Sprintf("decision %d: unknown action %q", i, d.Action))
			continue
		}
		pos, ok := domain.ParseOutcome(d.Position)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("decision %d: unknown position %q", i, d.Position))
			continue
		}
		if strings.TrimSpace(d.MarketID) == "" && strings.TrimSpace(d.MarketName) == "" {
			dropped = append(dropped, fmt.Sprintf("decision %d: no market", i))
			continue
		}
		amount := domain.MinIntentAmountEth
		if d.AmountEth != nil {
			amount = *d.AmountEth
		}
		out.Decisions = append(out.Decisions, domain.TradeIntent{
			Action:     action,
			MarketID:   strings.TrimSpace(d.MarketID),
			MarketName: d.MarketName,
			Position:   pos,
			AmountEth:  amount,
			Reasoning:  d.Reasoning,
			Confidence: d.Confidence,
		}.Normalize())
	}
	return out, dropped
}
