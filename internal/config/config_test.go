package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RelayURL != DefaultRelayURL {
		t.Errorf("expected default relay url, got %q", cfg.RelayURL)
	}
	if cfg.Role != DefaultRole {
		t.Errorf("expected default role, got %q", cfg.Role)
	}
	if cfg.ConfigDir == "" {
		t.Error("expected config dir to be resolved")
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("CHATLINK_RELAY_URL", "wss://staging.example.com/ws")
	t.Setenv("CHATLINK_ROLE", "customer")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RelayURL != "wss://staging.example.com/ws" {
		t.Errorf("env override lost: %q", cfg.RelayURL)
	}
	if cfg.Role != "customer" {
		t.Errorf("env override lost: %q", cfg.Role)
	}
}

func TestLoad_FlagOverridesEnv(t *testing.T) {
	t.Setenv("CHATLINK_RELAY_URL", "wss://staging.example.com/ws")

	cfg, err := Load(Options{RelayURL: "ws://localhost:9000/ws"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RelayURL != "ws://localhost:9000/ws" {
		t.Errorf("flag should win over env, got %q", cfg.RelayURL)
	}
}

func TestICEServers_STUNOnly(t *testing.T) {
	cfg := &Config{STUNServer: DefaultSTUN}
	servers := cfg.ICEServers()
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if servers[0].URLs[0] != DefaultSTUN {
		t.Errorf("unexpected url %q", servers[0].URLs[0])
	}
}

func TestICEServers_WithTURN(t *testing.T) {
	cfg := &Config{
		STUNServer: DefaultSTUN,
		TURNServer: "turn:turn.re-trade.dev",
		TURNUser:   "u",
		TURNPass:   "p",
	}
	servers := cfg.ICEServers()
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	turn := servers[1]
	if len(turn.URLs) != 2 {
		t.Errorf("expected udp+tcp TURN urls, got %v", turn.URLs)
	}
	if turn.Username != "u" || turn.Credential != "p" {
		t.Errorf("TURN credentials lost: %+v", turn)
	}
}
