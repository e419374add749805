package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/cadre/pkg/models"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Orchestrator.Strategy != string(models.StrategySerial) {
		t.Errorf("expected serial strategy, got %q", cfg.Orchestrator.Strategy)
	}
	if cfg.Orchestrator.FailLoopBound != 3 {
		t.Errorf("expected fail loop bound 3, got %d", cfg.Orchestrator.FailLoopBound)
	}
	if cfg.Orchestrator.TaskTimeout != 30*time.Minute {
		t.Errorf("expected task timeout 30m, got %v", cfg.Orchestrator.TaskTimeout)
	}
	if cfg.Health.HeartbeatTTL != 60*time.Second {
		t.Errorf("expected heartbeat ttl 60s, got %v", cfg.Health.HeartbeatTTL)
	}
	if cfg.Health.StatusTTL != 24*time.Hour || cfg.Health.MetricsTTL != 24*time.Hour {
		t.Errorf("expected 24h status and metrics ttl, got %v %v", cfg.Health.StatusTTL, cfg.Health.MetricsTTL)
	}
	if cfg.Improve.VerifyCommand != "go test ./..." || cfg.Improve.BackupRetention != 5 {
		t.Errorf("unexpected improve defaults: %+v", cfg.Improve)
	}
	if cfg.Store.Backend != BackendSQLite || cfg.Store.Driver != "sqlite" {
		t.Errorf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Anthropic.MaxTokens != 8192 {
		t.Errorf("expected max tokens 8192, got %d", cfg.Anthropic.MaxTokens)
	}
	if cfg.TUI.RefreshRate != 100*time.Millisecond {
		t.Errorf("expected refresh rate 100ms, got %v", cfg.TUI.RefreshRate)
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("TEST_CADRE_KEY", "expanded-key")
	path := writeConfig(t, t.TempDir(), `
anthropic:
  api_key: ${TEST_CADRE_KEY}
  use_bedrock: true
  aws_region: eu-west-1
orchestrator:
  strategy: adaptive
  fail_loop_bound: 0
  adaptive_threshold: 5
  task_timeout: 10m
improve:
  verify_command: make check
  protected_patterns:
    - "deploy/**"
    - "*.lock"
store:
  backend: memory
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "expanded-key" {
		t.Errorf("expected expanded api key, got %q", cfg.Anthropic.APIKey)
	}
	if !cfg.Anthropic.UseBedrock || cfg.Anthropic.AWSRegion != "eu-west-1" {
		t.Errorf("unexpected anthropic section: %+v", cfg.Anthropic)
	}
	if cfg.Orchestrator.Strategy != "adaptive" || cfg.Orchestrator.FailLoopBound != 0 {
		t.Errorf("unexpected orchestrator section: %+v", cfg.Orchestrator)
	}
	if cfg.Orchestrator.TaskTimeout != 10*time.Minute {
		t.Errorf("expected 10m task timeout, got %v", cfg.Orchestrator.TaskTimeout)
	}
	if cfg.Orchestrator.MaxParallel != 10 {
		t.Errorf("expected default max parallel to survive, got %d", cfg.Orchestrator.MaxParallel)
	}
	if len(cfg.Improve.ProtectedPatterns) != 2 || cfg.Improve.ProtectedPatterns[0] != "deploy/**" {
		t.Errorf("unexpected protected patterns: %v", cfg.Improve.ProtectedPatterns)
	}
	if cfg.Improve.VerifyCommand != "make check" {
		t.Errorf("expected verify command override, got %q", cfg.Improve.VerifyCommand)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("expected memory backend, got %q", cfg.Store.Backend)
	}
}

func TestLoadFromPathEnvOverride(t *testing.T) {
	t.Setenv("CADRE_ORCHESTRATOR_STRATEGY", "parallel")
	path := writeConfig(t, t.TempDir(), "orchestrator:\n  strategy: serial\n")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Orchestrator.Strategy != "parallel" {
		t.Errorf("expected env to win, got %q", cfg.Orchestrator.Strategy)
	}
}

func TestLoadFromPathRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown strategy", "orchestrator:\n  strategy: random\n"},
		{"unknown backend", "store:\n  backend: redis\n"},
		{"negative bound", "orchestrator:\n  fail_loop_bound: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			if _, err := LoadFromPath(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPolicy(t *testing.T) {
	cfg := Default()
	cfg.Orchestrator.Strategy = "parallel"
	cfg.Orchestrator.FailLoopBound = 1
	cfg.Orchestrator.MaxReplans = 2
	cfg.Health.HeartbeatInterval = 5 * time.Second

	p := cfg.Policy()
	if err := p.Validate(); err != nil {
		t.Fatalf("policy invalid: %v", err)
	}
	if p.Execution.Strategy != models.StrategyParallel || p.Retry.FailLoopBound != 1 {
		t.Errorf("unexpected policy: %+v", p)
	}
	if p.Replan.MaxReplans != 2 || p.Loop.HeartbeatInterval != 5*time.Second {
		t.Errorf("unexpected policy: %+v", p)
	}
}

func TestUserConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if got := UserConfigPath(); got != "/custom/config/cadre/config.yaml" {
		t.Errorf("expected XDG path, got %q", got)
	}
}

func TestSetUserValue(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CADRE_ORCHESTRATOR_FAIL_LOOP_BOUND", "")
	t.Chdir(t.TempDir())

	if err := SetUserValue("orchestrator.fail_loop_bound", "7"); err != nil {
		t.Fatalf("SetUserValue failed: %v", err)
	}
	if err := SetUserValue("tui.refresh_rate", "250ms"); err != nil {
		t.Fatalf("SetUserValue failed: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Orchestrator.FailLoopBound != 7 {
		t.Errorf("expected bound 7, got %d", cfg.Orchestrator.FailLoopBound)
	}
	if cfg.TUI.RefreshRate != 250*time.Millisecond {
		t.Errorf("expected earlier value kept, got %v", cfg.TUI.RefreshRate)
	}

	v, err := Value("orchestrator.fail_loop_bound")
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != "7" && v != 7 {
		t.Errorf("expected 7, got %v", v)
	}
}

func TestSetUserValueRejects(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetUserValue("no.such_key", "1"); err == nil {
		t.Error("expected unknown key error")
	}
	if err := SetUserValue("orchestrator.strategy", "random"); err == nil {
		t.Error("expected invalid value error")
	}
	if _, err := os.Stat(UserConfigPath()); err == nil {
		t.Error("expected nothing written for rejected values")
	}
}

func TestProjectConfigOverridesUser(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CADRE_ORCHESTRATOR_STRATEGY", "")
	if err := SetUserValue("orchestrator.strategy", "parallel"); err != nil {
		t.Fatalf("SetUserValue failed: %v", err)
	}

	project := t.TempDir()
	if err := os.WriteFile(filepath.Join(project, ProjectFile), []byte("orchestrator:\n  strategy: adaptive\n"), 0644); err != nil {
		t.Fatalf("write project config: %v", err)
	}
	sub := filepath.Join(project, "pkg", "deep")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(sub)

	if got := ProjectConfigPath(); got == "" {
		t.Fatal("expected project config found from a subdirectory")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Orchestrator.Strategy != "adaptive" {
		t.Errorf("expected project value, got %q", cfg.Orchestrator.Strategy)
	}
}

func TestAPIKey(t *testing.T) {
	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
		cfg := Default()
		cfg.Anthropic.APIKey = "sk-ant-config"

		key, src, err := cfg.APIKey()
		if err != nil || key != "sk-ant-env" || src != KeySourceEnv {
			t.Errorf("got %q %s %v", key, src, err)
		}
	})

	t.Run("config file", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		cfg := Default()
		cfg.Anthropic.APIKey = "sk-ant-config"

		key, src, err := cfg.APIKey()
		if err != nil || key != "sk-ant-config" || src != KeySourceConfig {
			t.Errorf("got %q %s %v", key, src, err)
		}
	})

	t.Run("unexpanded reference", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		cfg := Default()
		cfg.Anthropic.APIKey = "${MISSING}"

		if _, _, err := cfg.APIKey(); !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})

	t.Run("bedrock needs no key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		cfg := Default()
		cfg.Anthropic.UseBedrock = true

		if _, src, err := cfg.APIKey(); err != nil || src != KeySourceNone {
			t.Errorf("got %s %v", src, err)
		}
	})
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-api03-abcdefghijkl", "sk-ant-...ijkl"},
	}
	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	if len(keys) != len(defaults) {
		t.Fatalf("expected %d keys, got %d", len(defaults), len(keys))
	}
	if !IsKnownKey("Orchestrator.Strategy") {
		t.Error("expected case-insensitive key lookup")
	}
	if IsKnownKey("defaults.tier") {
		t.Error("expected unknown key")
	}
}
