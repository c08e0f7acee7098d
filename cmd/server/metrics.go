package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourorg/agent-bank/internal/bank"
	"github.com/yourorg/agent-bank/internal/model"
)

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	registry *prometheus.Registry

	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	withdrawals     *prometheus.CounterVec
	riskChecks      *prometheus.CounterVec
	riskLatency     *prometheus.HistogramVec
	breakerTrips    prometheus.Counter
	ingressRejected prometheus.Counter
}

// registerMetrics sets up Prometheus metrics collection on a private registry
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_bank_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_bank_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		withdrawals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_bank_withdrawals_total",
				Help: "Withdrawals by outcome (success or error kind)",
			},
			[]string{"outcome"},
		),
		riskChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_bank_risk_checks_total",
				Help: "Risk source results by outcome (passed, failed, skipped)",
			},
			[]string{"source", "outcome"},
		),
		riskLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_bank_risk_check_duration_seconds",
				Help:    "Risk source call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		breakerTrips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_bank_breaker_trips_total",
				Help: "Number of automatic pauses",
			},
		),
		ingressRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_bank_ingress_rejected_total",
				Help: "Requests rejected by the server-wide rate limit",
			},
		),
	}

	m.registry.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.withdrawals,
		m.riskChecks,
		m.riskLatency,
		m.breakerTrips,
		m.ingressRejected,
	)
	return m
}

// registerBankGauges exposes the pause controller state
func (m *serverMetrics) registerBankGauges(svc *bank.Service) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "agent_bank_paused",
				Help: "1 while fund movement is halted",
			},
			func() float64 {
				if svc.BankConfig().Paused {
					return 1
				}
				return 0
			},
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "agent_bank_suspicious_activity_count",
				Help: "Suspicious events since the last reset",
			},
			func() float64 { return float64(svc.BankConfig().SuspiciousActivityCount) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "agent_bank_treasury_balance",
				Help: "Treasury balance in base units",
			},
			func() float64 { return float64(svc.TreasuryBalance()) },
		),
	)
}

// observeCheck is the risk pipeline observer
func (m *serverMetrics) observeCheck(res model.CheckResult) {
	outcome := "failed"
	switch {
	case res.Skipped:
		outcome = "skipped"
	case res.Passed:
		outcome = "passed"
	}
	m.riskChecks.WithLabelValues(res.Source, outcome).Inc()
	m.riskLatency.WithLabelValues(res.Source).Observe(res.Latency.Seconds())
}
