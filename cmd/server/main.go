package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/sentinel/internal/api"
	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/dispatch"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/logging"
	"github.com/gyaneshwarpardhi/sentinel/internal/response"
	"github.com/gyaneshwarpardhi/sentinel/internal/scoring"
	"github.com/gyaneshwarpardhi/sentinel/internal/stream"
	"github.com/gyaneshwarpardhi/sentinel/internal/transaction"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/sentinel.yaml", "Path to YAML config")
	flag.Parse()

	// Load config.
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		// No logger yet.
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		os.Stderr.WriteString("config validation failed: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	// Audit trail.
	store, err := audit.OpenFileStore(cfg.Audit.Dir, cfg.Audit.SegmentMaxEntries, cfg.Audit.Compress)
	if err != nil {
		log.Fatal("failed to open audit store", zap.Error(err))
	}
	trail, err := audit.Open(store, log.Named("audit"))
	if err != nil {
		log.Fatal("failed to open audit trail", zap.Error(err))
	}
	log.Info("audit trail open", zap.String("dir", cfg.Audit.Dir), zap.Int64("entries", trail.Count()))

	// Workload distributor.
	dist, err := dispatch.New(cfg.Dispatch, trail, log.Named("dispatch"))
	if err != nil {
		log.Fatal("failed to build distributor", zap.Error(err))
	}

	// Response engine.
	eng := response.New(cfg.Response, trail, log.Named("response"))
	eng.SetDispatcher(dist)
	if err := installRules(eng, cfg); err != nil {
		log.Fatal("failed to install rules", zap.Error(err))
	}
	log.Info("rules installed", zap.Int("count", len(cfg.Rules)))

	// Scorer + stream processor.
	critical, err := decimal.NewFromString(cfg.Stream.CriticalAmount)
	if err != nil {
		log.Fatal("invalid critical_amount", zap.Error(err))
	}
	scorer := scoring.NewHeuristic(critical, cfg.Stream.HomeCurrency, cfg.Stream.HomeCountry,
		scoring.WithVelocity(5*time.Minute, 5))
	proc, err := stream.New(cfg.Stream, scorer, trail, log.Named("stream"))
	if err != nil {
		log.Fatal("failed to build processor", zap.Error(err))
	}
	// Flagged and declined transactions feed the response engine.
	proc.RegisterResultHandler(func(tx *transaction.Transaction, res *transaction.Result) {
		if res.Decision == transaction.DecisionApprove {
			return
		}
		ev := &event.FraudEvent{
			ID:            uuid.NewString(),
			Type:          event.TypeHighRiskTransaction,
			Severity:      event.SeverityHigh,
			Source:        "stream",
			RiskScore:     res.RiskScore,
			Confidence:    res.Confidence,
			TransactionID: tx.ID,
			UserID:        tx.UserID,
			Timestamp:     time.Now().UTC(),
			Details: map[string]interface{}{
				"decision":   string(res.Decision),
				"indicators": res.FraudIndicators,
			},
		}
		if res.Decision == transaction.DecisionDecline {
			ev.Type = event.TypeFraudDetected
			ev.Severity = event.SeverityCritical
		}
		if !eng.Submit(ev) {
			log.Warn("event queue full, signal dropped", zap.String("transaction_id", tx.ID))
		}
	})

	// Hot-reload watcher.
	loader.OnChange(func(newCfg *config.Config) {
		if err := config.Validate(newCfg); err != nil {
			log.Warn("hot-reload skipped: config invalid", zap.Error(err))
			return
		}
		if err := installRules(eng, newCfg); err != nil {
			log.Warn("hot-reload skipped: rule install failed", zap.Error(err))
			return
		}
		log.Info("rules hot-reloaded", zap.Int("count", len(newCfg.Rules)))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		log.Warn("config watcher unavailable (hot-reload disabled)", zap.Error(err))
	} else {
		defer stopWatch()
	}

	// Start pipeline.
	dist.Start()
	eng.Start()
	proc.Start()

	// HTTP server.
	handler := api.New(proc, eng, dist, trail, loader, log.Named("http"))
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
	}

	// Drain in reverse dependency order: intake first, sinks last.
	proc.Stop()
	eng.Stop()
	dist.Stop()
	if err := trail.Close(); err != nil {
		log.Error("audit close failed", zap.Error(err))
	}
	log.Info("goodbye")
}

func installRules(eng *response.Engine, cfg *config.Config) error {
	rules := make([]*response.Rule, 0, len(cfg.Rules))
	for _, def := range cfg.Rules {
		r, err := response.RuleFromDef(def)
		if err != nil {
			return err
		}
		rules = append(rules, r)
	}
	return eng.SetRules(rules)
}
