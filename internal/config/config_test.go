package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8200",
			check:  func(c *Config) bool { return c.Port == 8200 },
			expect: "8200",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "default auto-seal timeout is 30s",
			check:  func(c *Config) bool { return c.AutoSealTimeout == 30*time.Second },
			expect: "30s",
		},
		{
			name:   "default init lock timeout is 5s",
			check:  func(c *Config) bool { return c.InitLockTimeout == 5*time.Second },
			expect: "5s",
		},
		{
			name:   "default leader lock timeout is 1s",
			check:  func(c *Config) bool { return c.LeaderLockTimeout == time.Second },
			expect: "1s",
		},
		{
			name:   "default lock probe interval is 100ms",
			check:  func(c *Config) bool { return c.LockProbeInterval == 100*time.Millisecond },
			expect: "100ms",
		},
		{
			name:   "default node timeout is 30s",
			check:  func(c *Config) bool { return c.NodeTimeout == 30*time.Second },
			expect: "30s",
		},
		{
			name:   "default policy cache ttl is 5m",
			check:  func(c *Config) bool { return c.PolicyCacheTTL == 5*time.Minute },
			expect: "5m",
		},
		{
			name:   "auto-unseal disabled by default",
			check:  func(c *Config) bool { return !c.AutoUnsealEnabled },
			expect: "false",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8200" },
			expect: "0.0.0.0:8200",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}
