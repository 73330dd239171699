package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/order-lifecycle/internal/config"
)

const serviceName = "order-service"

var Version = "dev"

type app struct {
	envFile string
	cfg     *config.Config
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// newRootCmd loads configuration before every subcommand. Only the commands
// that open a database check the DB_* settings.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Order lifecycle and payment reconciliation service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			setupLogger(cfg)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "optional dotenv file loaded before the environment")

	rootCmd.AddCommand(serveCmd(a))
	rootCmd.AddCommand(migrateCmd(a))
	rootCmd.AddCommand(sweepCmd(a))
	rootCmd.AddCommand(resetOrdersCmd(a))
	rootCmd.AddCommand(seedSettingsCmd(a))
	rootCmd.AddCommand(issueTokenCmd(a))
	return rootCmd
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	log.Logger = log.With().Str("service", serviceName).Logger()
}
