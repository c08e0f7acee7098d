package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourorg/agent-bank/internal/keeper"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger every configured agent's yield hook once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return crankOnce(cmd, keeper.ActionTrigger)
	},
}

var accrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Accrue staking yield for every configured agent once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return crankOnce(cmd, keeper.ActionAccrue)
	},
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(accrueCmd)
}

func crankOnce(cmd *cobra.Command, action keeper.Action) error {
	cfg := loaded
	if err := requireAgents(cfg); err != nil {
		return err
	}

	s := keeper.NewScheduler(cmd.Context(), newClient(cfg), cfg.Keeper.Agents, cfg.Keeper.Timeout)
	failed := 0
	for _, out := range s.RunOnce(action) {
		switch {
		case out.Succeeded():
			fmt.Fprintf(cmd.OutOrStdout(), "%-44s %s ok\n", out.Agent, action)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%-44s %s %s (%d)\n", out.Agent, action, out.Kind, out.Status)
			if out.Status == 0 || out.Status >= 500 {
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d %s calls failed", failed, len(cfg.Keeper.Agents), action)
	}
	return nil
}
