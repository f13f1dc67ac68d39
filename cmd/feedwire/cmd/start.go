package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/brianly1003/feedwire/internal/app"
	"github.com/brianly1003/feedwire/internal/config"
)

var (
	port         int
	brokerDriver string
	noWatch      bool
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the feedwire server",
	Long: `Start the feedwire server: subscribe to the shared event channel,
accept WebSocket connections on /ws and collaborator events on POST /api/events.

Rate-limit rules and the log level are reloaded when the config file changes.

Example:
  feedwire start
  feedwire start --port 9000
  feedwire start --broker memory      # single process, no Redis/NATS
  feedwire start --config /etc/feedwire/config.yaml`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVar(&port, "port", 0, "server port for HTTP and WebSocket (default: 8780)")
	startCmd.Flags().StringVar(&brokerDriver, "broker", "", "broker driver: redis, nats or memory")
	startCmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
}

func runStart(cmd *cobra.Command, args []string) error {
	var application atomic.Pointer[app.App]

	cfg, err := loadConfigWatching(func(next *config.Config) {
		if a := application.Load(); a != nil {
			a.Reload(next)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags
	if port != 0 {
		cfg.Server.Port = port
	}
	if brokerDriver != "" {
		cfg.Broker.Driver = brokerDriver
	}

	// Re-validate after overrides
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("broker", cfg.Broker.Driver).
		Int("port", cfg.Server.Port).
		Msg("starting feedwire")

	a, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	application.Store(a)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("feedwire stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func loadConfigWatching(onChange func(*config.Config)) (*config.Config, error) {
	if noWatch {
		return loadConfig()
	}
	return config.Watch(cfgFile, onChange)
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" || verbose {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
