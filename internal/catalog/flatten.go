// Package catalog turns venue market listings into tradeable
// domain.PredictionMarket rows and resolves trade intents to venue-native
// market identifiers.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

const (
	defaultCategory = "general"
)

// Flatten parses a market listing payload into tradeable markets. The
// payload may be a flat array, an object carrying the rows under
// "markets", "data" or "groups", or a list of groups whose elements hold
// their outcomes under "markets" or "children". Leaves inherit group-level
// fields they omit. Rows whose identifier fails rule are dropped with a
// warning.
func Flatten(payload []byte, rule Rule, logger *slog.Logger) ([]domain.PredictionMarket, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("catalog/flatten: decode payload: %w", err)
	}

	rows := topLevelRows(root)
	out := make([]domain.PredictionMarket, 0, len(rows))
	for _, item := range rows {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		children := nestedRows(row)
		if len(children) == 0 {
			if m, ok := buildMarket(row, nil, rule, logger); ok {
				out = append(out, m)
			}
			continue
		}
		for _, c := range children {
			leaf, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if m, ok := buildMarket(leaf, row, rule, logger); ok {
				out = append(out, m)
			}
		}
	}

	if len(out) == 0 && len(rows) > 0 {
		logger.Warn("no rows passed identifier validation",
			slog.String("rule", rule.Name),
			slog.Int("rows", len(rows)),
		)
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func topLevelRows(root any) []any {
	switch v := root.(type) {
	case []any:
		return v
	case map[string]any:
		for _, key := range []string{"markets", "data", "groups"} {
			if arr, ok := v[key].([]any); ok {
				return arr
			}
		}
	}
	return nil
}

func nestedRows(row map[string]any) []any {
	for _, key := range []string{"markets", "children"} {
		if arr, ok := row[key].([]any); ok && len(arr) > 0 {
			return arr
		}
	}
	return nil
}

// buildMarket maps one leaf row (with an optional parent group supplying
// defaults) into a PredictionMarket.
func buildMarket(leaf, group map[string]any, rule Rule, logger *slog.Logger) (domain.PredictionMarket, bool) {
	rawID := firstString(leaf, rule.idKeys()...)
	id := strings.TrimSpace(rawID)
	if !rule.Valid(id) {
		logger.Warn("dropping market with invalid identifier",
			slog.String("rule", rule.Name),
			slog.String("id", rawID),
		)
		return domain.PredictionMarket{}, false
	}

	lookup := func(keys ...string) (any, bool) {
		if v, ok := first(leaf, keys...); ok {
			return v, true
		}
		if group != nil {
			return first(group, keys...)
		}
		return nil, false
	}
	str := func(keys ...string) string {
		v, _ := lookup(keys...)
		s, _ := asString(v)
		return s
	}
	num := func(keys ...string) (float64, bool) {
		v, ok := lookup(keys...)
		if !ok {
			return 0, false
		}
		return asFloat(v)
	}

	name := str("title", "name", "question")
	if name == "" {
		name = "Unknown Market"
	}
	name = domain.TruncateName(name, domain.MaxMarketNameLen)
	category := str("category", "categoryId")
	if category == "" {
		category = defaultCategory
	}
	volume, _ := num("volume24h", "volume")
	liquidity, _ := num("liquidity")

	yes, hasYes := num("yesPriceBps", "yesPrice")
	no, hasNo := num("noPriceBps", "noPrice")
	yesBps, noBps := derivePrices(yes, hasYes, no, hasNo)

	return domain.PredictionMarket{
		ID:          strings.ToLower(id),
		Name:        name,
		Description: str("description", "details"),
		YesPrice:    yesBps,
		NoPrice:     noBps,
		Volume24h:   volume,
		Liquidity:   liquidity,
		Category:    category,
	}, true
}

// derivePrices fills a missing side as 10000 minus the known one, and
// defaults both to 5000 when neither is present.
func derivePrices(yes float64, hasYes bool, no float64, hasNo bool) (int, int) {
	switch {
	case hasYes && hasNo:
	case hasYes:
		no = domain.BpsScale - yes
	case hasNo:
		yes = domain.BpsScale - no
	default:
		yes, no = domain.NeutralPriceBps, domain.NeutralPriceBps
	}
	return domain.ClampBps(int(math.Round(yes))), domain.ClampBps(int(math.Round(no)))
}

func first(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s, isStr := v.(string); isStr && s == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func firstString(m map[string]any, keys ...string) string {
	v, _ := first(m, keys...)
	s, _ := asString(v)
	return s
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
