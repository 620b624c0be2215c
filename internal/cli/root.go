package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"musiguess/internal/config"
)

var (
	port       string
	configPath string
	logLevel   string
)

// Execute runs the CLI. A .env file in the working directory is loaded first so it can feed
// both flag defaults and ${VAR} references in the config file.
func Execute() error {
	if err := config.LoadEnv(); err != nil {
		log.Error().Err(err).Msg("load .env")
		return err
	}
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envPort := os.Getenv("PORT")
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:           "musiguess",
		Short:         "Real-time music guessing game server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&port, "port", envPort, "port to listen on (overrides server.port)")
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level (overrides log.level)")
	cmd.AddCommand(NewStartCmd(&configPath, &port))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	return cmd
}

func configureLogging(cfg config.Config) {
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	raw := cfg.Log.Level
	if logLevel != "" {
		raw = logLevel
	}
	level, err := zerolog.ParseLevel(raw)
	if err != nil || raw == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
