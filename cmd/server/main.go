// Package main is the entry point for the agent custody bank server. It exposes
// every bank operation as JSON over HTTP; the caller's identity travels in the
// X-Caller-Identity header.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/agent-bank/internal/alert"
	"github.com/yourorg/agent-bank/internal/audit"
	"github.com/yourorg/agent-bank/internal/bank"
	"github.com/yourorg/agent-bank/internal/circuitbreaker"
	"github.com/yourorg/agent-bank/internal/clock"
	"github.com/yourorg/agent-bank/internal/config"
	"github.com/yourorg/agent-bank/internal/model"
	tracing "github.com/yourorg/agent-bank/internal/otel"
	"github.com/yourorg/agent-bank/internal/ratelimit"
	"github.com/yourorg/agent-bank/internal/riskgate"
	"github.com/yourorg/agent-bank/internal/risksource"
	"github.com/yourorg/agent-bank/internal/security"
	"github.com/yourorg/agent-bank/internal/settlement"
	"github.com/yourorg/agent-bank/internal/types"
)

// version is reported by /health and /status
const version = "1.0.0"

// Server represents the bank server instance
type Server struct {
	config   *config.Config
	svc      *bank.Service
	custody  *settlement.Memory
	recorder audit.Recorder
	notifier *alert.WebhookNotifier
	metrics  *serverMetrics

	// ingress bounds the whole server ahead of the per-agent limiter
	ingress *rate.Limiter

	server    *http.Server
	startTime time.Time
}

// main is the entry point for the application
func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		logrus.Warnf("Ignoring .env: %v", err)
	}

	cfg, err := config.Load(config.GetEnvOrDefault("CONFIG_PATH", "config.yaml"))
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	setupLogging(cfg.Log)

	shutdownTracer := tracing.InitTracer(cfg.Otel)
	defer shutdownTracer()

	server, err := NewServer(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize server: %v", err)
	}
	defer server.Close()

	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging(cfg config.LogConfig) {
	switch strings.ToLower(cfg.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(cfg.Level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// NewServer wires the bank and its collaborators from configuration
func NewServer(cfg *config.Config) (*Server, error) {
	admin, err := types.ParseIdentity(cfg.Bank.Admin)
	if err != nil {
		return nil, fmt.Errorf("bank.admin: %w", err)
	}

	metrics := registerMetrics()
	notifier := alert.NewWebhookNotifier(cfg.Alert)

	breaker, err := circuitbreaker.New(admin, circuitbreaker.Options{
		ProtocolFeeBps:     cfg.Bank.ProtocolFeeBps,
		AutoPauseThreshold: cfg.Bank.AutoPauseThreshold,
	})
	if err != nil {
		return nil, err
	}
	breaker.WithTripCallback(func(reason model.PauseReason, count uint32) {
		metrics.breakerTrips.Inc()
		notifier.OnTrip(reason, count)
	})

	gate, err := buildRiskPipeline(cfg.RiskSources)
	if err != nil {
		return nil, err
	}
	gate.WithObserver(metrics.observeCheck)

	var recorder audit.Recorder = audit.NewMemoryRecorder()
	if cfg.Audit.SQLitePath != "" {
		sqlite, err := audit.NewSQLiteRecorder(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, err
		}
		recorder = sqlite
	}

	signer, err := security.NewReceiptSigner(cfg.Signer.PrivateKey)
	if err != nil {
		recorder.Close()
		return nil, err
	}

	custody := settlement.NewMemory()
	svc, err := bank.New(bank.Dependencies{
		Custody:  custody,
		Breaker:  breaker,
		Limiter:  ratelimit.New(cfg.RateLimit, clock.System{}),
		Gate:     gate,
		Clock:    clock.System{},
		Recorder: recorder,
		Signer:   signer,
	}, bank.Options{
		SuspiciousRiskScore: cfg.Bank.SuspiciousRiskScore,
		Governance:          cfg.Governance,
	})
	if err != nil {
		recorder.Close()
		return nil, err
	}
	metrics.registerBankGauges(svc)

	s := &Server{
		config:    cfg,
		svc:       svc,
		custody:   custody,
		recorder:  recorder,
		notifier:  notifier,
		metrics:   metrics,
		startTime: time.Now(),
	}
	if cfg.Server.IngressRPS > 0 {
		s.ingress = rate.NewLimiter(rate.Limit(cfg.Server.IngressRPS), cfg.Server.IngressBurst)
		logrus.Infof("Ingress rate limiting initialized: %v req/s, burst: %d", cfg.Server.IngressRPS, cfg.Server.IngressBurst)
	}

	logrus.WithFields(logrus.Fields{
		"port":         cfg.Server.Port,
		"admin":        admin,
		"risk_sources": gate.Len(),
		"audit_sqlite": cfg.Audit.SQLitePath != "",
		"alerts":       notifier.Enabled(),
		"faucet":       cfg.Server.EnableFaucet,
	}).Info("Server initialized")
	return s, nil
}

// buildRiskPipeline creates the ordered risk checks
func buildRiskPipeline(sources []config.RiskSourceConfig) (*riskgate.Pipeline, error) {
	checks := make([]riskgate.Check, 0, len(sources))
	for i, rs := range sources {
		policy, err := riskgate.ParseFailurePolicy(rs.OnError)
		if err != nil {
			return nil, fmt.Errorf("risk_sources[%d]: %w", i, err)
		}

		opts := risksource.HTTPOptions{BaseURL: rs.URL, APIKey: rs.APIKey, RetryMax: rs.RetryMax}
		var src risksource.Source
		switch rs.Kind {
		case config.SourceHeuristic:
			src = risksource.NewHeuristicSource()
		case config.SourceScamCheck:
			src = risksource.NewScamCheckClient(opts)
		case config.SourceReputation:
			src = risksource.NewReputationClient(opts, rs.MinScore)
		case config.SourceBlocklist:
			src = risksource.NewBlocklist(rs.Entries)
		default:
			return nil, fmt.Errorf("risk_sources[%d]: unknown kind %q", i, rs.Kind)
		}

		checks = append(checks, riskgate.Check{
			Source:        src,
			Penalty:       rs.Penalty,
			Timeout:       rs.Timeout,
			OnError:       policy,
			MaxSourceRisk: rs.MaxSourceRisk,
		})
	}
	return riskgate.New(checks...), nil
}

// Handler returns the routed, instrumented HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /health", s.handleHealth)
	s.handle(mux, "GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	s.handle(mux, "POST /v1/agents", s.handleRegisterAgent)
	s.handle(mux, "GET /v1/agents/{owner}", s.handleGetAgent)
	s.handle(mux, "POST /v1/agents/{owner}/deposit", s.handleDeposit)
	s.handle(mux, "POST /v1/agents/{owner}/withdraw", s.handleWithdraw)
	s.handle(mux, "POST /v1/agents/{owner}/intent", s.handleValidateIntent)
	s.handle(mux, "GET /v1/agents/{owner}/rate-limit", s.handleRateLimitCheck)
	s.handle(mux, "GET /v1/agents/{owner}/events", s.handleEvents)

	s.handle(mux, "GET /v1/agents/{owner}/delegates", s.handleListDelegates)
	s.handle(mux, "POST /v1/agents/{owner}/delegates", s.handleAddDelegate)
	s.handle(mux, "DELETE /v1/agents/{owner}/delegates/{delegate}", s.handleRemoveDelegate)

	s.handle(mux, "PUT /v1/agents/{owner}/yield", s.handleConfigureYield)
	s.handle(mux, "GET /v1/agents/{owner}/yield/status", s.handleHookStatus)
	s.handle(mux, "POST /v1/agents/{owner}/yield/trigger", s.handleTriggerYield)
	s.handle(mux, "POST /v1/agents/{owner}/yield/accrue", s.handleAccrueYield)

	s.handle(mux, "GET /v1/bank", s.handleBankConfig)
	s.handle(mux, "POST /v1/bank/pause", s.handleTogglePause)
	s.handle(mux, "POST /v1/bank/reset-suspicious", s.handleResetSuspicious)
	s.handle(mux, "PUT /v1/bank/auto-pause-threshold", s.handleSetAutoPauseThreshold)

	s.handle(mux, "POST /v1/governance", s.handleInitializeGovernance)
	s.handle(mux, "GET /v1/governance", s.handleAdminRegistry)
	s.handle(mux, "GET /v1/treasury", s.handleTreasury)
	s.handle(mux, "POST /v1/treasury/fund", s.handleFundTreasury)
	s.handle(mux, "POST /v1/proposals", s.handleCreateProposal)
	s.handle(mux, "GET /v1/proposals", s.handleListProposals)
	s.handle(mux, "GET /v1/proposals/{id}", s.handleGetProposal)
	s.handle(mux, "POST /v1/proposals/{id}/vote", s.handleVote)
	s.handle(mux, "POST /v1/proposals/{id}/execute", s.handleExecuteProposal)

	s.handle(mux, "GET /v1/wallets/{wallet}", s.handleWallet)
	if s.config.Server.EnableFaucet {
		s.handle(mux, "POST /v1/wallets/{wallet}/fund", s.handleFaucet)
	}

	return mux
}

// handle registers h under pattern with ingress limiting, a request timeout
// and per-route metrics
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if s.ingress != nil && !s.ingress.Allow() {
			s.metrics.ingressRejected.Inc()
			writeJSON(rec, http.StatusTooManyRequests, errorBody{Error: "server rate limit exceeded", Kind: "RateLimited", Class: "retry_later"})
		} else {
			if s.config.Server.RequestTimeout > 0 {
				ctx, cancel := context.WithTimeout(r.Context(), s.config.Server.RequestTimeout)
				defer cancel()
				r = r.WithContext(ctx)
			}
			h(rec, r)
		}

		s.metrics.requestCounter.WithLabelValues(pattern, fmt.Sprint(rec.status)).Inc()
		s.metrics.requestDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         ":" + s.config.Server.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.config.Server.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	logrus.Info("Server stopped")
}

// Close releases the audit journal
func (s *Server) Close() {
	if err := s.recorder.Close(); err != nil {
		logrus.Errorf("Failed to close audit journal: %v", err)
	}
}
