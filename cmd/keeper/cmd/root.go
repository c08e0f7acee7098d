package cmd

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourorg/agent-bank/internal/config"
	"github.com/yourorg/agent-bank/internal/keeper"
)

var rootCmd = &cobra.Command{
	Use:   "keeper",
	Short: "Turns the agent bank's permissionless cranks",
	Long: `Keeper calls the bank server's permissionless endpoints on behalf of
a list of agents:

  - yield hook triggers, which deploy idle funds once a strategy's condition holds
  - staking yield accrual, which pays pending yield from the treasury

Neither call needs the agent's authority. Refusals such as
HookConditionNotMet are routine and logged at debug level.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if serverURL != "" {
			cfg.Keeper.ServerURL = serverURL
		}
		if len(agents) > 0 {
			cfg.Keeper.Agents = agents
		}
		setupLogging(cfg.Log)
		loaded = cfg
		return nil
	},
}

var (
	configPath string
	envFile    string
	serverURL  string
	agents     []string

	loaded *config.Config
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.GetEnvOrDefault("CONFIG_PATH", "config.yaml"), "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "bank server URL (overrides keeper.server_url)")
	rootCmd.PersistentFlags().StringSliceVarP(&agents, "agent", "a", nil, "agent owner to crank (repeatable, overrides keeper.agents)")
}

// setupLogging configures the logging for the keeper
func setupLogging(cfg config.LogConfig) {
	if strings.ToLower(cfg.Format) == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func newClient(cfg *config.Config) *keeper.Client {
	return keeper.NewClient(cfg.Keeper.ServerURL, cfg.Keeper.Identity, cfg.Keeper.Timeout, 3)
}

func requireAgents(cfg *config.Config) error {
	if len(cfg.Keeper.Agents) == 0 {
		return fmt.Errorf("no agents configured: set keeper.agents, KEEPER_AGENTS or --agent")
	}
	return nil
}
