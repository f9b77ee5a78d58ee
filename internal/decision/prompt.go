package decision

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the trading prompt for one iteration.
func BuildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("You are an autonomous trading agent for binary prediction markets. ")
	b.WriteString("Be calm, precise and honest about losses. Never give financial advice.\n\n")

	fmt.Fprintf(&b, "CURRENT PORTFOLIO:\n- Total Value: %.4f ETH\n- Open Positions: %d\n\n",
		in.PortfolioEth, len(in.OpenPositions))

	b.WriteString("OPEN POSITIONS:\n")
	for i, p := range in.OpenPositions {
		est := ""
		if p.Current.Estimated() {
			est = " (estimated)"
		}
		fmt.Fprintf(&b, "%d. id: %s\n   name: %s (%s)\n   Entry: %.2f | Current: %.2f%s\n   P&L: %.2f%%\n",
			i+1, p.MarketID, p.MarketName, p.Position,
			float64(p.EntryPrice)/100, float64(p.Current.Bps)/100, est, float64(p.PnlBps)/100)
	}

	b.WriteString("\nAVAILABLE MARKETS (use the exact \"id\" as marketId in your JSON):\n")
	for i, m := range in.Markets {
		fmt.Fprintf(&b, "%d. id: %s\n   name: %s\n   YES: %.2f%% | NO: %.2f%%\n   Volume 24h: $%.0f\n",
			i+1, m.ID, m.Name, float64(m.YesPrice)/100, float64(m.NoPrice)/100, m.Volume24h)
	}

	if len(in.News) > 0 {
		b.WriteString("\nRECENT NEWS:\n")
		for i, n := range in.News {
			fmt.Fprintf(&b, "%d. %s\n", i+1, n)
		}
	}

	l := in.Limits
	b.WriteString("\nRISK MANAGEMENT RULES (STRICT):\n")
	fmt.Fprintf(&b, "1. Never risk more than %.0f%% of portfolio on a single trade\n", l.MaxPositionPct*100)
	fmt.Fprintf(&b, "2. Cut losses at -%.0f%% (stop loss)\n", float64(l.StopLossBps)/100)
	fmt.Fprintf(&b, "3. Take profits at +%.0f%% unless conviction is very strong\n", float64(l.TakeProfitBps)/100)
	fmt.Fprintf(&b, "4. Always keep at least %.3f ETH for gas\n", l.MinEthBalance)
	if l.MaxOpenPositions > 0 {
		fmt.Fprintf(&b, "5. Maximum %d open positions at once\n", l.MaxOpenPositions)
	}

	b.WriteString(`
OUTPUT FORMAT (JSON only):
{
  "decisions": [
    {
      "action": "BUY" | "SELL" | "HOLD",
      "marketId": "exact id from AVAILABLE MARKETS or OPEN POSITIONS",
      "marketName": "exact name from that market",
      "position": "YES" | "NO",
      "amountEth": number (0.001 to 0.1),
      "reasoning": "2-3 sentences",
      "confidence": number (0-100)
    }
  ],
  "marketCommentary": "1-2 sentences, no emojis or hashtags",
  "portfolioRecommendation": "brief assessment",
  "riskAssessment": "LOW" | "MEDIUM" | "HIGH"
}

For SELL, use the id and position of the open position to exit. Never use the market name as marketId.
`)
	return b.String()
}
