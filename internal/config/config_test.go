package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PROXY_HOST", "PROXY_PORT", "OPENSONG_HOST", "OPENSONG_PORT",
		"RECONNECT_BACKOFF_MIN_MS", "RECONNECT_BACKOFF_MAX_MS",
		"MAX_CONNECTIONS_PER_IP", "LOG_LEVEL",
	}
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProxyHost != "localhost" || cfg.ProxyPort != 8082 {
		t.Errorf("unexpected proxy bind defaults: %+v", cfg)
	}
	if cfg.OpenSongHost != "opensong" || cfg.OpenSongPort != 8082 {
		t.Errorf("unexpected upstream defaults: %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
}

func TestFlagsOverrideDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load([]string{"--proxy-port", "9000", "--opensong-host", "songhost"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProxyPort != 9000 {
		t.Errorf("expected flag override to win, got port %d", cfg.ProxyPort)
	}
	if cfg.OpenSongHost != "songhost" {
		t.Errorf("expected flag override to win, got host %q", cfg.OpenSongHost)
	}
}

func TestEnvOverridesDefaultsButNotFlags(t *testing.T) {
	clearEnv(t)
	os.Setenv("PROXY_PORT", "7000")
	os.Setenv("OPENSONG_HOST", "env-host")
	defer os.Unsetenv("PROXY_PORT")
	defer os.Unsetenv("OPENSONG_HOST")

	cfg, err := Load([]string{"--opensong-host", "flag-host"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProxyPort != 7000 {
		t.Errorf("expected env to override default, got port %d", cfg.ProxyPort)
	}
	if cfg.OpenSongHost != "flag-host" {
		t.Errorf("expected flag to win over env, got host %q", cfg.OpenSongHost)
	}
}

func TestInvalidBackoffRangeRejected(t *testing.T) {
	clearEnv(t)
	_, err := Load([]string{"--reconnect-backoff-min", "5000", "--reconnect-backoff-max", "1000"})
	if err == nil {
		t.Fatal("expected error when backoff-max < backoff-min")
	}
}
