package keeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Cranker is the subset of Client the scheduler needs
type Cranker interface {
	Trigger(ctx context.Context, agent string) (Outcome, error)
	Accrue(ctx context.Context, agent string) (Outcome, error)
}

// expectedRefusals are answers a healthy keeper sees routinely
var expectedRefusals = map[string]bool{
	"HookConditionNotMet": true,
	"HookDisabled":        true,
	"NotFound":            true,
}

// Scheduler runs the cranks for a fixed set of agents on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	cranker Cranker
	agents  []string
	timeout time.Duration
	ctx     context.Context
}

// NewScheduler creates a scheduler using six-field (seconds) cron specs
func NewScheduler(ctx context.Context, cranker Cranker, agents []string, timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		cranker: cranker,
		agents:  agents,
		timeout: timeout,
		ctx:     ctx,
	}
}

// Register adds the trigger and accrue jobs. An empty spec skips that job.
func (s *Scheduler) Register(triggerCron, accrueCron string) error {
	if triggerCron != "" {
		if _, err := s.cron.AddFunc(triggerCron, func() { s.RunOnce(ActionTrigger) }); err != nil {
			return fmt.Errorf("register trigger job: %w", err)
		}
	}
	if accrueCron != "" {
		if _, err := s.cron.AddFunc(accrueCron, func() { s.RunOnce(ActionAccrue) }); err != nil {
			return fmt.Errorf("register accrue job: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	logrus.WithField("agents", len(s.agents)).Info("Keeper scheduler started")
}

// Stop waits for running jobs and stops the scheduler
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logrus.Info("Keeper scheduler stopped")
}

// RunOnce turns one crank for every agent and returns the outcomes
func (s *Scheduler) RunOnce(action Action) []Outcome {
	outcomes := make([]Outcome, 0, len(s.agents))
	for _, agent := range s.agents {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		var (
			out Outcome
			err error
		)
		switch action {
		case ActionAccrue:
			out, err = s.cranker.Accrue(ctx, agent)
		default:
			out, err = s.cranker.Trigger(ctx, agent)
		}
		cancel()

		entry := logrus.WithFields(logrus.Fields{"agent": agent, "action": action})
		switch {
		case err != nil:
			entry.Errorf("Keeper call failed: %v", err)
			out = Outcome{Agent: agent, Action: action, Kind: "TransportError"}
		case out.Succeeded():
			entry.WithField("status", out.Status).Info("Keeper call succeeded")
		case expectedRefusals[out.Kind]:
			entry.WithField("kind", out.Kind).Debug("Keeper call refused")
		default:
			entry.WithFields(logrus.Fields{"status": out.Status, "kind": out.Kind}).Warn("Keeper call refused")
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}
