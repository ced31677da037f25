package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Postgres: PostgresConfig{Host: "localhost", DbName: "bidforge"},
		Redis:    RedisConfig{Host: "localhost"},
		JWT:      JWTConfig{Secret: "secret"},
		Gateway: GatewayConfig{
			ViolationThreshold: 3,
			MaxMessageLength:   2000,
			ConnectLimit:       RateLimitConfig{Max: 10, Window: time.Minute},
			JoinLimit:          RateLimitConfig{Max: 30, Window: time.Minute},
			SendLimit:          RateLimitConfig{Max: 30, Window: time.Minute},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: true},
		{name: "missing postgres host", mutate: func(c *Config) { c.Postgres.Host = "" }, wantErr: true},
		{name: "missing db name", mutate: func(c *Config) { c.Postgres.DbName = "" }, wantErr: true},
		{name: "missing redis host", mutate: func(c *Config) { c.Redis.Host = "" }, wantErr: true},
		{name: "missing jwt secret", mutate: func(c *Config) { c.JWT.Secret = "" }, wantErr: true},
		{name: "zero violation threshold", mutate: func(c *Config) { c.Gateway.ViolationThreshold = 0 }, wantErr: true},
		{name: "zero message length", mutate: func(c *Config) { c.Gateway.MaxMessageLength = 0 }, wantErr: true},
		{name: "zero send limit", mutate: func(c *Config) { c.Gateway.SendLimit.Max = 0 }, wantErr: true},
		{name: "negative join window", mutate: func(c *Config) { c.Gateway.JoinLimit.Window = -time.Second }, wantErr: true},
		{name: "zero connect window", mutate: func(c *Config) { c.Gateway.ConnectLimit.Window = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected a validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestGatewayDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := ParseConfig(v)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	g := cfg.Gateway
	if g.ViolationThreshold != 3 {
		t.Fatalf("violationThreshold = %d, want 3", g.ViolationThreshold)
	}
	if g.MaxMessageLength != 2000 {
		t.Fatalf("maxMessageLength = %d, want 2000", g.MaxMessageLength)
	}
	if g.HistoryLimit != 50 || g.ReplayLimit != 50 {
		t.Fatalf("history/replay limits = %d/%d, want 50/50", g.HistoryLimit, g.ReplayLimit)
	}
	if g.HeartbeatInterval != 30*time.Second || g.PongWait != 60*time.Second {
		t.Fatalf("heartbeat/pongWait = %v/%v", g.HeartbeatInterval, g.PongWait)
	}
	// The heartbeat must fit inside the pong window or healthy
	// connections would be dropped.
	if g.HeartbeatInterval >= g.PongWait {
		t.Fatal("heartbeat interval must be shorter than the pong wait")
	}
	if g.ConnectLimit.Max != 10 || g.ConnectLimit.Window != time.Minute {
		t.Fatalf("connectLimit = %d/%v, want 10/1m", g.ConnectLimit.Max, g.ConnectLimit.Window)
	}
	if g.JoinLimit.Max != 30 || g.JoinLimit.Window != time.Minute {
		t.Fatalf("joinLimit = %d/%v, want 30/1m", g.JoinLimit.Max, g.JoinLimit.Window)
	}
	if g.SendLimit.Max != 30 || g.SendLimit.Window != time.Minute {
		t.Fatalf("sendLimit = %d/%v, want 30/1m", g.SendLimit.Max, g.SendLimit.Window)
	}
}

func TestAddressHelpers(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Port = "6379"

	if got := cfg.GetServerAddress(); got != ":8080" {
		t.Fatalf("server address = %q", got)
	}
	if got := cfg.GetRedisAddress(); got != "localhost:6379" {
		t.Fatalf("redis address = %q", got)
	}
	if cfg.IsProduction() {
		t.Fatal("empty run mode is not production")
	}
	cfg.Server.RunMode = "release"
	if !cfg.IsProduction() {
		t.Fatal("release run mode is production")
	}
}
