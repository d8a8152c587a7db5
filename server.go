package zerohack

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/oarkflow/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options control how the engine boots.
type Options struct {
	ConfigPath string
	Port       string
}

// Run boots the detection engine and serves the HTTP API until interrupted.
func Run(opts Options) error {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.Port != "" {
		cfg.Port = opts.Port
	}

	logger := newLogger(cfg.LogLevel)
	metrics := NewPrometheusMetricsCollector()

	detectors := buildDetectors(cfg, onnxArtifactLoader(cfg.ONNXLibrary()), logger)

	signatures := NewSignatureEngine(cfg.RulesPath, logger, metrics)
	if err := signatures.StartWatcher(); err != nil {
		logger.Warn().Err(err).Msg("rule config watcher unavailable")
	}

	hub := NewAlertHub(cfg.AlertSuppression(), logger, metrics)

	var store *SQLIncidentStore
	if cfg.DBPath != "" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create incident store directory: %w", err)
			}
		}
		store, err = NewSQLIncidentStore(cfg.DBPath, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var archiver EvidenceArchiver
	if cfg.ArchiveURL != "" {
		archiver = NewHTTPEvidenceArchiver(cfg.ArchiveURL, cfg.DispatchTimeout(), logger)
	} else {
		logger.Warn().Msg("evidence archive not configured; incidents will carry no archival reference")
	}
	var ledgerClient LedgerClient
	if cfg.LedgerURL != "" {
		ledgerClient = NewChainLedgerClient(cfg.LedgerURL, cfg.DispatchTimeout(), logger)
	} else {
		logger.Warn().Msg("chain ledger not configured; incidents will carry no ledger reference")
	}

	throttle := NewTokenBucketRateLimiter(cfg.LedgerBurst, cfg.LedgerRefill())

	var recorder IncidentRecorder
	if store != nil {
		recorder = store
	}
	dispatcher := NewDispatcher(DispatcherOptions{
		Archiver:    archiver,
		Ledger:      ledgerClient,
		Store:       recorder,
		Alerts:      hub,
		Throttle:    throttle,
		CallTimeout: cfg.DispatchTimeout(),
		MaxRetries:  cfg.DispatchRetries,
		Metrics:     metrics,
		Logger:      logger,
	})

	verdicts := NewVerdictLedger(cfg.VerdictTTL())
	profiler := NewSourceProfiler(cfg.ProfileWindow(), 512)
	telemetry := NewTrafficTelemetry(cfg.VerdictTTL())

	pipeline := NewPipeline(detectors, signatures, NewAggregator(cfg.Aggregator, logger),
		dispatcher, verdicts, profiler, telemetry, metrics, logger)

	app := fiber.New(fiber.Config{
		AppName: "zerohack",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(cors.New())

	deps := &apiDeps{
		cfg:       cfg,
		pipeline:  pipeline,
		store:     store,
		verdicts:  verdicts,
		profiler:  profiler,
		telemetry: telemetry,
		hub:       hub,
		throttle:  throttle,
		metrics:   metrics,
		logger:    logger,
	}
	registerRoutes(app, deps)

	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				verdicts.Cleanup()
				telemetry.Cleanup()
				throttle.Prune(time.Hour)
			case <-cleanupDone:
				return
			}
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		logger.Info().Msg("shutting down gracefully")
		close(cleanupDone)
		if err := signatures.StopWatcher(); err != nil {
			logger.Error().Err(err).Msg("error stopping rule config watcher")
		}
		if err := app.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("error shutting down server")
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr()).Str("rules", cfg.RulesPath).Msg("detection engine listening")
	return app.Listen(cfg.ListenAddr())
}

// buildDetectors wires the configured anomaly channels. Channel keys must
// line up with the aggregator configuration.
func buildDetectors(cfg *Config, load artifactLoader, logger *log.Logger) map[string]AnomalyDetector {
	detectors := map[string]AnomalyDetector{
		"isolation_forest": NewIsolationForestDetector(
			cfg.ModelPath(cfg.IsolationForest.Model),
			cfg.ModelPath(cfg.IsolationForest.Scaler),
			cfg.IsolationForest.Cutoff,
			load, logger),
	}
	if strings.EqualFold(cfg.Behavioral.ModelType, "LSTM") {
		detectors["behavioral"] = NewLSTMDetector(
			cfg.ModelPath(cfg.Behavioral.Model),
			cfg.ModelPath(cfg.Behavioral.Scaler),
			cfg.Behavioral.Cutoff,
			cfg.Behavioral.Timesteps,
			load, logger)
	} else {
		detectors["behavioral"] = NewAutoencoderDetector(
			cfg.ModelPath(cfg.Behavioral.Model),
			cfg.ModelPath(cfg.Behavioral.Scaler),
			cfg.Behavioral.Cutoff,
			load, logger)
	}
	return detectors
}

type apiDeps struct {
	cfg       *Config
	pipeline  *Pipeline
	store     *SQLIncidentStore
	verdicts  *VerdictLedger
	profiler  *SourceProfiler
	telemetry *TrafficTelemetry
	hub       *AlertHub
	throttle  RateLimiter
	metrics   *PrometheusMetricsCollector
	logger    *log.Logger
}

func registerRoutes(app *fiber.App, deps *apiDeps) {
	app.Post("/api/analyze", deps.handleAnalyze)
	app.Get("/api/incidents", deps.handleIncidents)
	app.Get("/api/incidents/:id", deps.handleIncidentByID)
	app.Get("/api/verdict/:ip", deps.handleVerdictForIP)
	app.Get("/api/status", deps.handleStatus)
	app.Get("/api/rules", deps.handleRules)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/alerts", websocket.New(deps.handleAlertSocket))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.metrics.Registry(), promhttp.HandlerOpts{})))

	admin := app.Group("/api/admin")
	if deps.cfg.AdminUser != "" && deps.cfg.AdminPass != "" {
		admin.Use(basicauth.New(basicauth.Config{
			Users: map[string]string{deps.cfg.AdminUser: deps.cfg.AdminPass},
		}))
	} else {
		deps.logger.Warn().Msg("admin credentials not configured; analytics endpoints disabled")
		admin.Use(func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusForbidden, "admin credentials not configured")
		})
	}
	admin.Get("/analytics/threats-over-time", deps.handleThreatsOverTime)
	admin.Get("/analytics/attack-types", deps.handleAttackTypes)
	admin.Get("/analytics/top-sources", deps.handleTopSources)
}

// handleAnalyze runs one traffic session through the detection pipeline.
func (d *apiDeps) handleAnalyze(c *fiber.Ctx) error {
	var req struct {
		Events []map[string]any `json:"events"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid input data format: %v", err))
	}
	session, err := ParseSession(req.Events)
	if err != nil {
		return asFiberError(err)
	}
	result, err := d.pipeline.Analyze(c.UserContext(), session)
	if err != nil {
		var inputErr *InputError
		if errors.As(err, &inputErr) || errors.Is(err, ErrEmptySession) {
			return asFiberError(err)
		}
		d.logger.Error().Err(err).Msg("analysis failed")
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("Error during threat analysis: %v", err))
	}
	return c.JSON(result)
}

func (d *apiDeps) handleIncidents(c *fiber.Ctx) error {
	if d.store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "incident store unavailable")
	}
	limit := c.QueryInt("limit", 100)
	ipFilter := c.Query("ip")
	typeFilter := c.Query("type")

	var (
		rows []StoredIncident
		err  error
	)
	if ipFilter != "" {
		rows, err = d.store.IncidentsByIP(c.UserContext(), ipFilter, limit)
	} else {
		rows, err = d.store.RecentIncidents(c.UserContext(), limit)
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("Failed to fetch incidents: %v", err))
	}
	if typeFilter != "" {
		needle := strings.ToLower(typeFilter)
		filtered := rows[:0]
		for _, row := range rows {
			if strings.Contains(strings.ToLower(row.AttackType), needle) {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	if rows == nil {
		rows = []StoredIncident{}
	}
	return c.JSON(rows)
}

func (d *apiDeps) handleIncidentByID(c *fiber.Ctx) error {
	if d.store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "incident store unavailable")
	}
	id := c.Params("id")
	row, err := d.store.GetIncident(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("Incident %s not found", id))
		}
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("Failed to fetch incident: %v", err))
	}
	return c.JSON(row)
}

// handleVerdictForIP returns the comprehensive live view for one source IP:
// the current ledger verdict, the behavioral profile, and recent incidents.
func (d *apiDeps) handleVerdictForIP(c *fiber.Ctx) error {
	address := c.Params("ip")
	resp := fiber.Map{"ip_address": address}

	if record, ok := d.verdicts.Lookup(address); ok {
		resp["recent_verdict"] = record
	}
	resp["profile"] = d.profiler.Snapshot(address, time.Now())
	if traffic := d.telemetry.Snapshot(address); traffic != nil {
		resp["telemetry"] = traffic
	}

	if d.store != nil {
		if incidents, err := d.store.IncidentsByIP(c.UserContext(), address, 5); err == nil {
			resp["recent_incidents"] = incidents
		} else {
			d.logger.Error().Str("ip", address).Err(err).Msg("incident lookup failed")
		}
	}
	return c.JSON(resp)
}

func (d *apiDeps) handleStatus(c *fiber.Ctx) error {
	health := fiber.Map{
		"status":            "ok",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"active_ws_clients": d.hub.ClientCount(),
		"verdict_summary":   d.verdicts.Summary(),
		"services":          fiber.Map{},
	}
	services := health["services"].(fiber.Map)

	if d.store == nil {
		services["incident_store"] = fiber.Map{"status": "disabled"}
	} else if err := d.store.HealthCheck(); err != nil {
		health["status"] = "degraded"
		services["incident_store"] = fiber.Map{"status": "error", "error": err.Error()}
	} else {
		services["incident_store"] = fiber.Map{"status": "ok"}
	}

	if err := d.metrics.HealthCheck(); err != nil {
		health["status"] = "degraded"
		services["metrics"] = fiber.Map{"status": "error", "error": err.Error()}
	} else {
		services["metrics"] = fiber.Map{"status": "ok"}
	}

	if err := d.throttle.HealthCheck(); err != nil {
		health["status"] = "degraded"
		services["ledger_throttle"] = fiber.Map{"status": "error", "error": err.Error()}
	} else {
		services["ledger_throttle"] = fiber.Map{"status": "ok"}
	}

	collaborator := func(url string) fiber.Map {
		if url == "" {
			return fiber.Map{"status": "disabled"}
		}
		return fiber.Map{"status": "configured"}
	}
	services["evidence_archive"] = collaborator(d.cfg.ArchiveURL)
	services["chain_ledger"] = collaborator(d.cfg.LedgerURL)

	code := fiber.StatusOK
	if health["status"] == "degraded" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(health)
}

func (d *apiDeps) handleRules(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"rules": d.pipeline.signatures.Rules()})
}

// handleAlertSocket pumps hub broadcasts to one websocket client. The read
// loop exists to notice the peer closing.
func (d *apiDeps) handleAlertSocket(conn *websocket.Conn) {
	sub := d.hub.Subscribe()
	defer d.hub.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (d *apiDeps) handleThreatsOverTime(c *fiber.Ctx) error {
	if d.store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "incident store unavailable")
	}
	rows, err := d.store.ThreatsOverTime(c.UserContext(), c.Query("period", "day"), c.QueryInt("limit", 30))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("Failed to compute analytics: %v", err))
	}
	return c.JSON(rows)
}

func (d *apiDeps) handleAttackTypes(c *fiber.Ctx) error {
	if d.store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "incident store unavailable")
	}
	rows, err := d.store.AttackTypeDistribution(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("Failed to compute analytics: %v", err))
	}
	return c.JSON(rows)
}

func (d *apiDeps) handleTopSources(c *fiber.Ctx) error {
	if d.store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "incident store unavailable")
	}
	rows, err := d.store.TopOffendingIPs(c.UserContext(), c.QueryInt("limit", 10))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("Failed to compute analytics: %v", err))
	}
	return c.JSON(rows)
}

func asFiberError(err error) error {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return fiber.NewError(fiber.StatusBadRequest, inputErr.Reason)
	}
	if errors.Is(err, ErrEmptySession) {
		return fiber.NewError(fiber.StatusBadRequest, "No events provided in the request.")
	}
	return err
}
