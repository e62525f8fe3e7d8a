// Command agent runs the autonomous payment-remediation control loop and
// the thin external driver around it: POST /ingest feeds transactions,
// POST /cycle forces an out-of-band pass, GET /healthz and GET /metrics
// expose operational status (spec.md §2, §6).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/mbd888/remediation-agent/internal/agentstate"
	"github.com/mbd888/remediation-agent/internal/audit"
	"github.com/mbd888/remediation-agent/internal/config"
	"github.com/mbd888/remediation-agent/internal/controlloop"
	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/executor"
	"github.com/mbd888/remediation-agent/internal/feed"
	"github.com/mbd888/remediation-agent/internal/health"
	"github.com/mbd888/remediation-agent/internal/learner"
	"github.com/mbd888/remediation-agent/internal/logging"
	"github.com/mbd888/remediation-agent/internal/metrics"
	"github.com/mbd888/remediation-agent/internal/observer"
	"github.com/mbd888/remediation-agent/internal/payment"
	"github.com/mbd888/remediation-agent/internal/ratelimit"
	"github.com/mbd888/remediation-agent/internal/reasoner"
	"github.com/mbd888/remediation-agent/internal/security"
	"github.com/mbd888/remediation-agent/internal/traces"
	"github.com/mbd888/remediation-agent/internal/validation"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")
	logger.Info("starting remediation agent", "version", Version, "commit", Commit, "build_time", BuildTime)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, "text")
	logger.Info("configuration loaded", "env", cfg.Env, "cycle_interval", cfg.CycleInterval, "window_size", cfg.WindowSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	outcomeStore, denialStore, closeDB := buildAuditStores(cfg, logger)
	if closeDB != nil {
		defer closeDB()
	}
	writer := audit.NewWriter(outcomeStore, denialStore, logger)
	go writer.Start(ctx)
	defer writer.Stop()
	auditSink := audit.NewSink(writer)

	feedHub := feed.NewHub(logger)
	go feedHub.Run(ctx)
	feedSink := feed.NewSink(feedHub)

	loop := buildControlLoop(cfg, logger, multiSink{auditSink, feedSink})

	healthRegistry := health.NewRegistry()
	healthRegistry.Register("control_loop", func(context.Context) health.Status {
		return controlLoopHealth(loop, cfg.CycleInterval)
	})

	go loop.Start(ctx)
	defer loop.Stop()

	router := buildRouter(cfg, logger, loop, feedHub, healthRegistry)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}

// multiSink fans a CycleResult out to every configured controlloop.ReportSink.
type multiSink []controlloop.ReportSink

func (m multiSink) Publish(result controlloop.CycleResult) {
	for _, s := range m {
		if s != nil {
			s.Publish(result)
		}
	}
}

func buildAuditStores(cfg *config.Config, logger *slog.Logger) (audit.OutcomeStore, audit.DenialStore, func()) {
	if cfg.DatabaseURL == "" {
		store := audit.NewMemoryStore(0)
		return store, store, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open postgres connection, falling back to in-memory audit store", "error", err)
		store := audit.NewMemoryStore(0)
		return store, store, nil
	}
	if err := db.Ping(); err != nil {
		logger.Error("postgres ping failed, falling back to in-memory audit store", "error", err)
		_ = db.Close()
		store := audit.NewMemoryStore(0)
		return store, store, nil
	}

	store := audit.NewPostgresStore(db)
	return store, store, func() { _ = db.Close() }
}

func buildControlLoop(cfg *config.Config, logger *slog.Logger, sink controlloop.ReportSink) *controlloop.ControlLoop {
	obs := observer.New(cfg.WindowSize)
	r := reasoner.New()
	dm := decisionmaker.New()
	state := agentstate.New()
	exec := executor.New(state, &executor.LogSink{Logger: logger})
	l := learner.New(state)

	limits := agentstate.Limits{
		ActionsPerHourCap:         cfg.SafetyActionsPerHour,
		RollbacksPerHourCap:       cfg.SafetyRollbacksPerHour,
		HighRiskRollbackCap:       cfg.SafetyHighRiskRollbackCap,
		MinConfidence:             cfg.MinActionConfidence,
		MinScoreForAction:         cfg.MinActionScore,
		MaxConcurrentIntervention: cfg.SafetyMaxConcurrentInterventions,
	}

	loop := controlloop.New(obs, r, dm, state, exec, l, limits, cfg.CycleInterval, logger, sink)
	if cfg.ApprovalMode != "" {
		loop.SetApprovalModeOverride(cfg.ApprovalMode)
	}
	return loop
}

func controlLoopHealth(loop *controlloop.ControlLoop, interval time.Duration) health.Status {
	last := loop.LastCycleAt()
	if last.IsZero() {
		return health.Status{Name: "control_loop", Healthy: true, Detail: "no cycle run yet"}
	}
	age := time.Since(last)
	if age > 2*interval {
		return health.Status{Name: "control_loop", Healthy: false, Detail: fmt.Sprintf("last cycle %s ago, exceeds 2x interval (%s)", age, 2*interval)}
	}
	return health.Status{Name: "control_loop", Healthy: true, Detail: fmt.Sprintf("last cycle %s ago", age)}
}

func buildRouter(cfg *config.Config, logger *slog.Logger, loop *controlloop.ControlLoop, feedHub *feed.Hub, healthRegistry *health.Registry) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(security.HeadersMiddleware())
	router.Use(validation.RequestSizeMiddleware(1 << 20)) // 1MiB

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	router.Use(limiter.Middleware())

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		healthy, statuses := healthRegistry.CheckAll(ctx)
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"healthy": healthy, "checks": statuses})
	})

	router.GET("/metrics", metrics.Handler())

	router.GET("/feed", func(c *gin.Context) {
		feedHub.HandleWebSocket(c.Writer, c.Request)
	})

	router.POST("/ingest", func(c *gin.Context) {
		var txn payment.Transaction
		if err := c.ShouldBindJSON(&txn); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if txn.Timestamp.IsZero() {
			txn.Timestamp = time.Now()
		}
		if err := loop.Ingest(txn); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "ingested"})
	})

	router.POST("/cycle", func(c *gin.Context) {
		result := loop.RunCycle(c.Request.Context())
		c.JSON(http.StatusOK, result)
	})

	return router
}

