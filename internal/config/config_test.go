package config

import "testing"

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Serve.Port != 34872 {
		t.Errorf("Serve.Port = %d, want 34872", cfg.Serve.Port)
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"ROJO_LOG_LEVEL":  "debug",
		"XDG_CONFIG_HOME": t.TempDir(),
	}
	cfg, err := LoadWithEnv(func(key string) string { return env[key] })
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadWithEnvMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	env := map[string]string{"XDG_CONFIG_HOME": t.TempDir()}
	cfg, err := LoadWithEnv(func(key string) string { return env[key] })
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Serve.Port != 34872 {
		t.Errorf("Serve.Port = %d", cfg.Serve.Port)
	}
}
