package limitless

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// Default CTF exchange contracts on Base.
var (
	NegRiskExchange = common.HexToAddress("0xe3E00BA3a9888d1DE4834269f62ac008b4BB5C47")
	SimpleExchange  = common.HexToAddress("0x05c748E2f4DcDe0ec9Fa8DDc40DE6b867f923fa5")
)

// TokenID resolves the outcome token id from, in order: positionIds, a
// numeric market id (YES = id, NO = id+1), and the nested markets array.
func TokenID(m Market, outcome domain.Outcome) (*big.Int, error) {
	idx := outcome.Index()
	if len(m.PositionIDs) > idx {
		if tok, ok := parseUint(string(m.PositionIDs[idx])); ok {
			return tok, nil
		}
	}
	if id, ok := parseUint(string(m.ID)); ok {
		if outcome == domain.OutcomeNo {
			id.Add(id, big.NewInt(1))
		}
		return id, nil
	}
	if len(m.Markets) > idx {
		if tok, ok := parseUint(string(m.Markets[idx].ID)); ok {
			return tok, nil
		}
	}
	return nil, fmt.Errorf("limitless: market %q (condition %q) has no %s token id: %w",
		m.ID, m.ConditionID, outcome, domain.ErrTokenUnresolved)
}

// Exchange resolves the settlement contract: the address embedded in the
// payload, then override, then the default for the market type.
func Exchange(m Market, override common.Address) (addr common.Address, source string) {
	candidates := []*venueInfo{m.Venue}
	if len(m.Markets) > 0 {
		candidates = append(candidates, m.Markets[0].Venue)
	}
	if m.Data != nil {
		candidates = append(candidates, m.Data.Venue)
		if len(m.Data.Markets) > 0 {
			candidates = append(candidates, m.Data.Markets[0].Venue)
		}
	}
	for _, v := range candidates {
		if v != nil && common.IsHexAddress(v.Exchange) {
			return common.HexToAddress(v.Exchange), "payload"
		}
	}
	if override != (common.Address{}) {
		return override, "override"
	}
	if m.negRisk() {
		return NegRiskExchange, "negrisk-default"
	}
	return SimpleExchange, "simple-default"
}

func (m Market) negRisk() bool {
	raw := strings.TrimSpace(string(m.NegRiskRequestID))
	return raw != "" && raw != "null"
}

func parseUint(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}
