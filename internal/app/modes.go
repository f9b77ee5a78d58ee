package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictagent/internal/agent"
	"github.com/alanyoungcy/predictagent/internal/server"
	"github.com/alanyoungcy/predictagent/internal/server/handler"
)

// reportLimit is the number of recent trades printed by report mode.
const reportLimit = 25

// LoopMode runs agent iterations on the configured interval until ctx is
// cancelled.
func (a *App) LoopMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting loop mode",
		slog.Duration("interval", a.cfg.Agent.LoopInterval.Duration),
	)
	return deps.Agent.RunLoop(ctx)
}

// OnceMode runs a single iteration and prints its outcome.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	res, err := deps.Agent.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}
	agent.WriteIteration(a.out, res)
	return nil
}

// ReportMode prints the open positions and recent ledger history.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	if err := agent.Report(ctx, a.out, deps.TradeStore, reportLimit); err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	return nil
}

// ServeMode exposes the agent over HTTP. Iterations are triggered by
// requests to /api/run, typically from an external scheduler. The server is
// shut down gracefully when ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	runs := handler.NewRunHandler(deps.Agent, a.logger)
	srv := server.New(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RequestsPerMin: a.cfg.Server.RequestsPerMin,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Venue.Name()),
		Status:  handler.NewStatusHandler(a.cfg.Mode, deps.Venue.Name(), deps.Venue.Live(), runs),
		Markets: handler.NewMarketHandler(deps.Resolver, a.logger),
		Trades:  handler.NewTradeHandler(deps.TradeStore, a.logger),
		Audit:   handler.NewAuditHandler(deps.AuditStore, a.logger),
		Run:     runs,
	}, a.logger)

	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "server api key not set, /api/run is unauthenticated")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if a.cfg.Server.RunOnStart {
		g.Go(func() error {
			res, err := runs.Execute(ctx)
			switch {
			case errors.Is(err, context.Canceled):
			case err != nil:
				a.logger.ErrorContext(ctx, "startup iteration failed", slog.String("error", err.Error()))
			default:
				a.logger.InfoContext(ctx, "startup iteration complete",
					slog.Int("opened", len(res.Opened)),
					slog.Int("closed", len(res.Closed)),
				)
			}
			return nil
		})
	}

	return g.Wait()
}
