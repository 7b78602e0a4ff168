package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{"default mode is api", func(c *Config) bool { return c.Mode == "api" }, "api"},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }, "0.0.0.0"},
		{"default port is 4500", func(c *Config) bool { return c.Port == 4500 }, "4500"},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }, "info"},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }, "json"},
		{"default metrics path", func(c *Config) bool { return c.MetricsPath == "/metrics" }, "/metrics"},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:4500" }, "0.0.0.0:4500"},
		{"access ttl default", func(c *Config) bool { return c.AccessTTLSeconds == 3600 }, "3600"},
		{"refresh ttl default", func(c *Config) bool { return c.RefreshTTLSeconds == 604800 }, "604800"},
		{"lockout threshold default", func(c *Config) bool { return c.LoginLockoutThreshold == 5 }, "5"},
		{"sweep interval default", func(c *Config) bool { return c.ExpirySweepIntervalSeconds == 300 }, "300"},
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

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: 5432, DBName: "d"}
	want := "postgres://u:p@h:5432/d?sslmode=disable"
	if got := cfg.DatabaseURL(); got != want {
		t.Errorf("DatabaseURL() = %q, want %q", got, want)
	}
}
