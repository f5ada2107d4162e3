package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/re-trade/chatlink/internal/domain"
)

// Default configuration values (production).
const (
	DefaultRelayURL = "wss://relay.re-trade.dev/ws"
	DefaultAuthURL  = "https://api.re-trade.dev"
	DefaultRole     = "seller"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
)

// Config holds the application configuration.
type Config struct {
	RelayURL  string
	AuthURL   string
	Role      string
	ConfigDir string

	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// Options carries CLI flag overrides into Load.
type Options struct {
	RelayURL  string
	AuthURL   string
	Role      string
	ConfigDir string

	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// Load reads configuration with the following precedence:
// CLI flags (via Options) > environment variables > defaults.
// A .env file in the working directory is read first; existing env vars win.
func Load(opts Options) (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		RelayURL:   pick(opts.RelayURL, "CHATLINK_RELAY_URL", DefaultRelayURL),
		AuthURL:    pick(opts.AuthURL, "CHATLINK_AUTH_URL", DefaultAuthURL),
		Role:       pick(opts.Role, "CHATLINK_ROLE", DefaultRole),
		ConfigDir:  pick(opts.ConfigDir, "CHATLINK_CONFIG_DIR", ""),
		STUNServer: pick(opts.STUNServer, "CHATLINK_STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "CHATLINK_TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "CHATLINK_TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "CHATLINK_TURN_PASSWORD", ""),
	}

	if cfg.ConfigDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.ConfigDir = filepath.Join(home, ".chatlink")
	}

	return cfg, nil
}

func pick(flagValue, envName, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envName); v != "" {
		return v
	}
	return fallback
}

// ICEServers returns the STUN/TURN configuration for the media engine.
func (c *Config) ICEServers() []domain.ICEServer {
	servers := []domain.ICEServer{{URLs: []string{c.STUNServer}}}
	if c.TURNServer != "" {
		servers = append(servers, domain.ICEServer{
			URLs: []string{
				fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
				fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
			},
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}
