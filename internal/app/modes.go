package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/server"
	"github.com/predictlabs/marketcore/internal/server/handler"
	"github.com/predictlabs/marketcore/internal/server/ws"
)

// ServerMode runs the engines, the event fanout, and the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	engines, err := a.startCore(ctx, g, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, engines)
	} else {
		a.logger.WarnContext(ctx, "server.enabled is false; engines run without an API surface")
	}

	return g.Wait()
}

// ArchiveMode runs only the settlement report archiver against the shared
// stores. It is meant to run beside a server-mode instance.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archival is not enabled (set archive.enabled and the s3 section)")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: engines, event fanout, API, and the archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	engines, err := a.startCore(ctx, g, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, engines)
	}
	if deps.Archiver != nil {
		a.startArchiver(ctx, g, deps)
	}

	return g.Wait()
}

// startCore builds the engine graph, binds the event fanout and the operator
// notifier, and starts the fanout worker.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*Engines, error) {
	fo := newFanout(deps, a.logger)

	engines, err := buildEngines(a.cfg, fo.Sink())
	if err != nil {
		return nil, err
	}
	fo.SetOracle(engines.Oracle)

	if deps.Notifier != nil {
		engines.Oracle.SetNotifier(deps.Notifier.Bind(domain.EventMarketResolved))
	}

	g.Go(func() error {
		err := fo.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.logger.InfoContext(ctx, "engines ready",
		slog.String("owner", engines.Owner.Hex()),
		slog.String("oracle", engines.Oracle.Address().Hex()),
	)
	return engines, nil
}

// startHTTPServer adds the HTTP server and websocket hub goroutines to the
// given errgroup. The server is shut down gracefully on context cancel.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, engines *Engines) {
	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger, deps.Pingers),
		Status:      handler.NewStatusHandler(a.cfg.Mode),
		Markets:     handler.NewMarketHandler(engines.Oracle, deps.MarketDataCache, deps.DailyStatsCache, a.logger),
		Points:      handler.NewPointsHandler(engines.Points, a.logger),
		Staking:     handler.NewStakingHandler(engines.Staking, a.logger),
		Settlements: handler.NewSettlementHandler(deps.SettlementStore, a.logger),
		Audit:       handler.NewAuditHandler(deps.AuditStore, a.logger),
		Social:      handler.NewSocialHandler(engines.Social, a.logger),
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.AuthToken,
	}
	if a.cfg.Server.RateLimitPerMin > 0 {
		srvCfg.RateLimiter = deps.RateLimiter
		srvCfg.RateLimit = a.cfg.Server.RateLimitPerMin
		srvCfg.RateLimitWindow = time.Minute
	}

	srv := server.NewServer(srvCfg, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// settlementReport is the JSON document archived per resolved market.
type settlementReport struct {
	QuestionID  string             `json:"question_id"`
	ConditionID string             `json:"condition_id"`
	PoolID      string             `json:"pool_id"`
	EndTime     time.Time          `json:"end_time"`
	AnswerCID   string             `json:"answer_cid"`
	Payouts     []string           `json:"payouts"`
	GeneratedAt time.Time          `json:"generated_at"`
	Settlements []settlementRecord `json:"settlements"`
}

type settlementRecord struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Amount    string    `json:"amount"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// startArchiver adds the periodic settlement report archiver to the errgroup.
// A distributed lock keeps concurrent instances from duplicating the work.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}

	g.Go(func() error {
		logger := a.logger.With(slog.String("component", "archiver"))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runOnce := func() {
			unlock, err := deps.LockManager.Acquire(ctx, "archive:run", interval)
			if err != nil {
				if errors.Is(err, domain.ErrLockHeld) {
					logger.DebugContext(ctx, "archive run skipped, lock held elsewhere")
					return
				}
				logger.WarnContext(ctx, "archive lock failed", slog.String("error", err.Error()))
				return
			}
			defer unlock()

			archived, err := a.archiveResolved(ctx, deps)
			if err != nil {
				logger.ErrorContext(ctx, "archive cycle failed", slog.String("error", err.Error()))
				return
			}
			if archived > 0 {
				logger.InfoContext(ctx, "archived settlement reports", slog.Int("count", archived))
			}

			if days := a.cfg.Archive.RetentionDays; days > 0 {
				pruned, err := deps.Archiver.Prune(ctx, days)
				if err != nil {
					logger.WarnContext(ctx, "archive prune failed", slog.String("error", err.Error()))
				} else if pruned > 0 {
					logger.InfoContext(ctx, "pruned expired reports", slog.Int("count", pruned))
				}
			}
		}

		runOnce()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

// archiveResolved exports a settlement report for every resolved question.
// Reports overwrite their previous version, so re-running is harmless.
func (a *App) archiveResolved(ctx context.Context, deps *Dependencies) (int, error) {
	questions, err := deps.QuestionStore.List(ctx, domain.ListOpts{Limit: 500})
	if err != nil {
		return 0, fmt.Errorf("list questions: %w", err)
	}

	archived := 0
	for _, q := range questions {
		if !q.Resolved {
			continue
		}

		settlements, err := deps.SettlementStore.ListByQuestion(ctx, q.QuestionID, domain.ListOpts{Limit: 10000})
		if err != nil {
			return archived, fmt.Errorf("list settlements for %s: %w", q.QuestionID.Hex(), err)
		}

		report := settlementReport{
			QuestionID:  q.QuestionID.Hex(),
			ConditionID: q.ConditionID.Hex(),
			PoolID:      q.PoolID.Hex(),
			EndTime:     q.EndTime,
			AnswerCID:   q.AnswerCID,
			GeneratedAt: time.Now().UTC(),
			Settlements: make([]settlementRecord, 0, len(settlements)),
		}
		for _, p := range q.ProposedPayouts {
			report.Payouts = append(report.Payouts, p.String())
		}
		for _, s := range settlements {
			amount := "0"
			if s.Amount != nil {
				amount = s.Amount.String()
			}
			report.Settlements = append(report.Settlements, settlementRecord{
				ID:        s.ID,
				Account:   s.Account.Hex(),
				Amount:    amount,
				Kind:      s.Kind,
				CreatedAt: s.CreatedAt,
			})
		}

		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return archived, fmt.Errorf("marshal report for %s: %w", q.QuestionID.Hex(), err)
		}
		if _, err := deps.Archiver.ArchiveReport(ctx, q.QuestionID, data); err != nil {
			return archived, fmt.Errorf("archive report for %s: %w", q.QuestionID.Hex(), err)
		}
		archived++
	}
	return archived, nil
}
