package agent

import (
	"context"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// LedgerStats aggregates closed-trade performance.
type LedgerStats struct {
	Open      int
	Closed    int
	Cancelled int
	Wins      int
	AvgPnlBps float64
	Simulated int
}

// Stats computes LedgerStats over trades.
func Stats(trades []domain.TradeRecord) LedgerStats {
	var s LedgerStats
	var pnlSum int
	for _, t := range trades {
		if t.Simulated {
			s.Simulated++
		}
		switch t.Status {
		case domain.TradeStatusOpen:
			s.Open++
		case domain.TradeStatusCancelled:
			s.Cancelled++
		case domain.TradeStatusClosed:
			s.Closed++
			if t.PnlBps != nil {
				pnlSum += *t.PnlBps
				if *t.PnlBps > 0 {
					s.Wins++
				}
			}
		}
	}
	if s.Closed > 0 {
		s.AvgPnlBps = float64(pnlSum) / float64(s.Closed)
	}
	return s
}

// Report prints the open positions and the most recent limit trades.
func Report(ctx context.Context, w io.Writer, trades domain.TradeStore, limit int) error {
	open, err := trades.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("agent: report: %w", err)
	}
	recent, err := trades.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("agent: report: %w", err)
	}

	fmt.Fprintf(w, "\nOPEN POSITIONS (%d)\n", len(open))
	if len(open) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("ID", "Venue", "Market", "Pos", "ETH", "USD", "Entry", "Opened", "Sim")
		for _, t := range open {
			table.Append(
				shortID(t.ID),
				t.Venue,
				truncate(t.MarketName, 40),
				string(t.Position),
				fmt.Sprintf("%.4f", t.AmountEth),
				fmt.Sprintf("$%.2f", t.AmountUsd),
				fmt.Sprintf("%d", t.EntryPrice),
				t.EntryTimestamp.UTC().Format("2006-01-02 15:04"),
				yesNo(t.Simulated),
			)
		}
		table.Render()
	}

	fmt.Fprintf(w, "\nRECENT TRADES (%d)\n", len(recent))
	if len(recent) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("ID", "Market", "Pos", "Status", "Entry", "Exit", "PnL", "Sim")
		for _, t := range recent {
			exit, pnl := "-", "-"
			if t.ExitPrice != nil {
				exit = fmt.Sprintf("%d", *t.ExitPrice)
			}
			if t.PnlBps != nil {
				pnl = fmt.Sprintf("%+.2f%%", float64(*t.PnlBps)/100)
			}
			table.Append(
				shortID(t.ID),
				truncate(t.MarketName, 40),
				string(t.Position),
				string(t.Status),
				fmt.Sprintf("%d", t.EntryPrice),
				exit,
				pnl,
				yesNo(t.Simulated),
			)
		}
		table.Render()
	}

	s := Stats(recent)
	fmt.Fprintf(w, "\n  Closed: %d  Wins: %d  Avg PnL: %+.2f%%  Simulated: %d\n",
		s.Closed, s.Wins, s.AvgPnlBps/100, s.Simulated)
	return nil
}

// WriteIteration prints the outcome of one RunOnce call.
func WriteIteration(w io.Writer, res IterationResult) {
	fmt.Fprintf(w, "\nITERATION %s  venue=%s  markets=%d  open=%d  portfolio=%.6f ETH\n",
		res.StartedAt.UTC().Format("2006-01-02 15:04:05"), res.Venue, res.Markets, res.OpenPositions, res.PortfolioEth)
	if res.Skipped != "" {
		fmt.Fprintf(w, "  skipped: %s\n", res.Skipped)
		return
	}
	if res.Analysis.MarketCommentary != "" {
		fmt.Fprintf(w, "  %s\n  risk: %s\n", res.Analysis.MarketCommentary, res.Analysis.RiskAssessment)
	}

	if len(res.Opened)+len(res.Closed)+len(res.Rejected) == 0 {
		fmt.Fprintln(w, "  no trades")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("Result", "Trade", "Market", "Price", "PnL", "Tx / Error")
	for _, r := range res.Opened {
		table.Append("opened", shortID(r.TradeID), r.ResolvedMarketID, fmt.Sprintf("%d", r.ActualPrice), "-", shortID(r.TxHash))
	}
	for _, r := range res.Closed {
		table.Append("closed", shortID(r.TradeID), r.ResolvedMarketID, fmt.Sprintf("%d", r.ActualPrice),
			fmt.Sprintf("%+.2f%%", float64(r.PnlBps)/100), shortID(r.TxHash))
	}
	for _, r := range res.Rejected {
		table.Append("rejected", "-", truncate(r.Intent.MarketName, 40), "-", "-", truncate(r.Error, 60))
	}
	table.Render()
}

func shortID(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
