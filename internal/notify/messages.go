package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// TradeOpened renders the alert for a new position.
func TradeOpened(venue string, in domain.TradeIntent, res domain.TradeResult) (title, message string) {
	title = "Trade opened"
	if res.Simulated {
		title += " (simulated)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s\n", in.Position, in.MarketName)
	fmt.Fprintf(&b, "venue: %s  market: %s\n", venue, res.ResolvedMarketID)
	fmt.Fprintf(&b, "size: %.4f ETH ($%.2f) @ %s", in.AmountEth, res.AmountUsd, formatBps(res.ActualPrice))
	if res.PriceSource == domain.PriceEstimated {
		b.WriteString(" (estimated)")
	}
	fmt.Fprintf(&b, "\ntx: %s", res.TxHash)
	if in.Reasoning != "" {
		fmt.Fprintf(&b, "\n%s", in.Reasoning)
	}
	return title, b.String()
}

// TradeClosed renders the alert for a closed position.
func TradeClosed(t domain.TradeRecord, res domain.TradeResult) (title, message string) {
	title = "Trade closed"
	if res.Simulated {
		title += " (simulated)"
	}
	message = fmt.Sprintf("%s on %s\nentry %s -> exit %s\npnl: %+.2f%%\ntx: %s",
		t.Position, t.MarketName, formatBps(t.EntryPrice), formatBps(res.ActualPrice),
		float64(res.PnlBps)/100, res.TxHash)
	if res.InsufficientShares {
		message += "\nvenue held no shares; marked closed"
	}
	return title, message
}

// TradeRejected renders the alert for an intent the executor refused.
func TradeRejected(in domain.TradeIntent, err error) (title, message string) {
	return "Trade rejected", fmt.Sprintf("%s %s %.4f ETH on %s\n%v",
		in.Action, in.Position, in.AmountEth, in.MarketName, err)
}

// NFTEligible renders the alert for a trade that qualifies for minting.
func NFTEligible(t domain.TradeRecord) (title, message string) {
	pnl := 0
	if t.PnlBps != nil {
		pnl = *t.PnlBps
	}
	return "Notable trade", fmt.Sprintf("%s on %s closed at %+.2f%%; eligible for an NFT",
		t.Position, t.MarketName, float64(pnl)/100)
}

// formatBps renders a bps price as a probability, e.g. 6250 -> "62.5%".
func formatBps(bps int) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", float64(bps)/100), "0"), ".") + "%"
}
