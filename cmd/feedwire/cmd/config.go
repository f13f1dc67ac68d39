package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brianly1003/feedwire/internal/config"
)

var (
	configInitLocal bool
	configInitForce bool
)

// configCmd displays or manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display and manage configuration",
	Long: `Display and manage feedwire configuration.

Without subcommands, prints the effective configuration as YAML
(file values, FEEDWIRE_* environment overrides and defaults merged).

Examples:
  feedwire config              # Show current config
  feedwire config show         # Same as above
  feedwire config init         # Create config file with defaults
  feedwire config path         # Show config file location`,
	RunE: runConfigShow,
}

// configInitCmd creates a config file with defaults.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with default settings",
	Long: `Create a config file with default settings and documentation.

By default, creates ~/.feedwire/config.yaml.
Use --local to create ./config.yaml in the current directory.

Examples:
  feedwire config init          # Create ~/.feedwire/config.yaml
  feedwire config init --local  # Create ./config.yaml
  feedwire config init --force  # Overwrite existing file`,
	RunE: runConfigInit,
}

// configShowCmd prints the effective configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfigShow,
}

// configPathCmd shows config file location.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file location",
	Run:   runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "create config in current directory instead of ~/.feedwire/")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite existing config file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out, err := renderConfig(cfg)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// renderConfig marshals cfg as YAML with secrets masked.
func renderConfig(cfg *config.Config) (string, error) {
	shown := *cfg
	if shown.Redis.Password != "" {
		shown.Redis.Password = "********"
	}
	if shown.Auth.JWTSecret != "" {
		shown.Auth.JWTSecret = "********"
	}

	content, err := yaml.Marshal(&shown)
	if err != nil {
		return "", fmt.Errorf("failed to serialize config: %w", err)
	}
	return string(content), nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var configPath string

	if configInitLocal {
		configPath = "config.yaml"
	} else {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("Edit this file to customize feedwire behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) {
	configDir, err := config.GetConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting config dir: %v\n", err)
		os.Exit(1)
	}

	locations := []string{
		"./config.yaml",
		filepath.Join(configDir, "config.yaml"),
		"/etc/feedwire/config.yaml",
	}

	fmt.Println("Config search paths (in order):")
	for i, loc := range locations {
		exists := "not found"
		if _, err := os.Stat(loc); err == nil {
			exists = "exists"
		}
		fmt.Printf("  %d. %s (%s)\n", i+1, loc, exists)
	}

	fmt.Printf("\nConfig directory: %s\n", configDir)
}

const defaultConfig = `# feedwire configuration
# Every key can be overridden with FEEDWIRE_<SECTION>_<KEY>, e.g. FEEDWIRE_SERVER_PORT.

server:
  # Bind address and port for HTTP and WebSocket
  host: "127.0.0.1"
  port: 8780

  # Origins allowed to open sockets. Empty allows all.
  # Supports exact origins, "*" and "*.example.com".
  allowed_origins: []

  # Trust X-Forwarded-For / X-Real-IP for client addresses (behind a proxy)
  trust_proxy: false

  # Serve the REST API docs (Swagger UI) at /swagger/
  docs: true

# Pub/sub transport shared by every feedwire process
broker:
  # redis, nats or memory (memory = single process only)
  driver: "redis"
  channel: "feedwire:events"
  # How long to wait for the broker at startup
  connect_timeout: 10s

redis:
  addr: "127.0.0.1:6379"
  password: ""
  db: 0

nats:
  url: "nats://127.0.0.1:4222"

websocket:
  # Outbound frames queued per connection before it is considered slow
  send_buffer: 1024
  max_message_kb: 64
  # Client commands (subscribe/unsubscribe) per second, and burst
  inbound_rate: 5
  inbound_burst: 10

auth:
  # Session cookie resolved through the session store
  session_cookie: "sid"
  session_store: "redis"
  session_prefix: "sess:"
  session_cache_ttl: 30s

  # Bearer tokens (Authorization header or ?token=). Empty disables them.
  jwt_secret: ""
  jwt_issuer: "feedwire"

ratelimit:
  namespace: "feedwire"
  # redis or memory
  store: "redis"
  # entity -> HTTP method -> limit. Reloaded without restart.
  rules:
    events:
      post:
        requests: 60
        period_ms: 60000

metrics:
  enabled: true
  path: "/metrics"

logging:
  # Log level: trace, debug, info, warn, error
  level: "info"
  # Log format: console (human-readable) or json
  format: "console"
`
