package cmd

import (
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourorg/agent-bank/internal/keeper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cranks on their cron schedules until interrupted",
	Long: `Run schedules keeper.trigger_cron and keeper.accrue_cron (six-field
specs with seconds) and blocks until SIGINT or SIGTERM.

Example:
  keeper run --agent 0xabc... --agent 0xdef...`,
	RunE: runKeeper,
}

var runOnStart bool

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "turn both cranks once before waiting for the schedule")
}

func runKeeper(cmd *cobra.Command, args []string) error {
	cfg := loaded
	if err := requireAgents(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := keeper.NewScheduler(ctx, newClient(cfg), cfg.Keeper.Agents, cfg.Keeper.Timeout)
	if err := s.Register(cfg.Keeper.TriggerCron, cfg.Keeper.AccrueCron); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"server":       cfg.Keeper.ServerURL,
		"trigger_cron": cfg.Keeper.TriggerCron,
		"accrue_cron":  cfg.Keeper.AccrueCron,
	}).Info("Keeper configured")

	if runOnStart {
		s.RunOnce(keeper.ActionAccrue)
		s.RunOnce(keeper.ActionTrigger)
	}

	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}
