// Package riskgate runs every configured risk source against a withdrawal
// destination and turns their verdicts into one approve/deny decision.
package riskgate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/agent-bank/internal/model"
	tracing "github.com/yourorg/agent-bank/internal/otel"
	"github.com/yourorg/agent-bank/internal/risksource"
	"github.com/yourorg/agent-bank/internal/types"
)

// DefaultTimeout bounds a single source call
const DefaultTimeout = 3 * time.Second

// MaxRiskScore caps the aggregate score
const MaxRiskScore = 100

// DefaultMaxSourceRisk is the highest source-reported score a passing
// verdict may carry
const DefaultMaxSourceRisk = 80

// Check binds a source to its penalty, timeout and failure policy
type Check struct {
	Source  risksource.Source
	Penalty int
	Timeout time.Duration
	OnError FailurePolicy

	// MaxSourceRisk fails a verdict the source passed when its own score is
	// above it. Zero means DefaultMaxSourceRisk; 100 disables the rule.
	MaxSourceRisk int
}

// Observer is told about every individual check result
type Observer func(res model.CheckResult)

// Pipeline evaluates its checks concurrently and reports them in fixed order
type Pipeline struct {
	checks   []Check
	observer Observer
}

// New creates a pipeline; checks keep the order given
func New(checks ...Check) *Pipeline {
	for i := range checks {
		if checks[i].Timeout <= 0 {
			checks[i].Timeout = DefaultTimeout
		}
		if checks[i].MaxSourceRisk <= 0 {
			checks[i].MaxSourceRisk = DefaultMaxSourceRisk
		}
	}
	return &Pipeline{checks: checks}
}

// WithObserver sets a per-check callback and returns the pipeline
func (p *Pipeline) WithObserver(o Observer) *Pipeline {
	p.observer = o
	return p
}

// Len returns the number of checks
func (p *Pipeline) Len() int {
	return len(p.checks)
}

// Evaluate runs every check against destination. A single failed check
// blocks the transfer regardless of the aggregate score.
func (p *Pipeline) Evaluate(ctx context.Context, destination types.Identity, amount uint64) model.SecurityCheckResult {
	ctx, span := tracing.Tracer().Start(ctx, "riskgate.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("destination", destination.String()),
		attribute.Int64("amount", int64(amount)),
		attribute.Int("checks", len(p.checks)),
	)

	results := make([]model.CheckResult, len(p.checks))
	var wg sync.WaitGroup
	for i, c := range p.checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = runCheck(ctx, c, destination)
		}(i, c)
	}
	wg.Wait()

	out := model.SecurityCheckResult{Approved: true, Checks: results}
	var blocked []string
	for _, r := range results {
		if p.observer != nil {
			p.observer(r)
		}
		if r.Passed {
			continue
		}
		out.Approved = false
		out.RiskScore += r.Penalty
		blocked = append(blocked, r.Source+": "+r.Detail)
	}
	if out.RiskScore > MaxRiskScore {
		out.RiskScore = MaxRiskScore
	}
	out.BlockedReason = strings.Join(blocked, "; ")

	span.SetAttributes(
		attribute.Bool("approved", out.Approved),
		attribute.Int("risk_score", out.RiskScore),
	)
	logrus.WithFields(logrus.Fields{
		"destination": destination,
		"amount":      amount,
		"approved":    out.Approved,
		"risk_score":  out.RiskScore,
	}).Debug("Risk gate evaluated")
	return out
}

// runCheck calls one source under its own timeout. A source that ignores
// cancellation is abandoned once the timeout fires.
func runCheck(ctx context.Context, c Check, destination types.Identity) model.CheckResult {
	name := c.Source.Name()
	ctx, span := tracing.Tracer().Start(ctx, "riskgate.check."+name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	type answer struct {
		v   risksource.Verdict
		err error
	}
	ch := make(chan answer, 1)
	start := time.Now()
	go func() {
		v, err := c.Source.Check(ctx, destination)
		ch <- answer{v, err}
	}()

	var a answer
	select {
	case a = <-ch:
	case <-ctx.Done():
		a.err = fmt.Errorf("timed out after %s", c.Timeout)
	}

	res := model.CheckResult{Source: name, Latency: time.Since(start)}
	switch {
	case a.err == nil:
		res.Passed = a.v.Passed
		res.Detail = a.v.Detail
		res.SourceRiskScore = a.v.RiskScore
		if res.Passed && a.v.RiskScore > c.MaxSourceRisk {
			res.Passed = false
			res.Detail = fmt.Sprintf("%s (source risk %d above %d)", a.v.Detail, a.v.RiskScore, c.MaxSourceRisk)
		}
	case c.OnError == FailOpen:
		res.Passed = true
		res.Skipped = true
		res.Detail = "skipped: " + a.err.Error()
	default:
		res.Detail = "unavailable: " + a.err.Error()
	}
	if !res.Passed {
		res.Penalty = c.Penalty
	}

	if a.err != nil {
		tracing.RecordError(ctx, a.err)
		logrus.WithFields(logrus.Fields{
			"source": name,
			"policy": c.OnError,
		}).WithError(a.err).Warn("Risk source unavailable")
	}
	span.SetAttributes(
		attribute.Bool("passed", res.Passed),
		attribute.Bool("skipped", res.Skipped),
		attribute.Int("source_risk_score", res.SourceRiskScore),
	)
	return res
}
