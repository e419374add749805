// Package config handles configuration loading for cadre. It layers
// built-in defaults, the user config under the XDG config directory, a
// project .cadre.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/cadre/internal/orchestrator/policy"
	"github.com/ShayCichocki/cadre/pkg/models"
)

// ProjectFile is the project-level config file name.
const ProjectFile = ".cadre.yaml"

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config holds all configuration for cadre.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Health       HealthConfig       `mapstructure:"health"`
	Improve      ImproveConfig      `mapstructure:"improve"`
	Store        StoreConfig        `mapstructure:"store"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	TUI          TUIConfig          `mapstructure:"tui"`
}

// AnthropicConfig holds Claude API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// OrchestratorConfig maps onto policy.Config.
type OrchestratorConfig struct {
	Strategy          string        `mapstructure:"strategy"`
	FailLoopBound     int           `mapstructure:"fail_loop_bound"`
	AdaptiveThreshold int           `mapstructure:"adaptive_threshold"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	MaxReplans        int           `mapstructure:"max_replans"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
}

// HealthConfig holds agent health TTLs.
type HealthConfig struct {
	HeartbeatTTL      time.Duration `mapstructure:"heartbeat_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StatusTTL         time.Duration `mapstructure:"status_ttl"`
	MetricsTTL        time.Duration `mapstructure:"metrics_ttl"`
}

// ImproveConfig holds retry-and-patch settings.
type ImproveConfig struct {
	// VerifyCommand runs after each applied patch; empty disables verification.
	VerifyCommand     string        `mapstructure:"verify_command"`
	VerifyTimeout     time.Duration `mapstructure:"verify_timeout"`
	BackupRetention   int           `mapstructure:"backup_retention"`
	ProtectedPatterns []string      `mapstructure:"protected_patterns"`
}

// StoreConfig selects the WorkStore backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// Path is the SQLite file; empty means <workdir>/.cadre/workstore.db.
	Path   string `mapstructure:"path"`
	Driver string `mapstructure:"driver"`
}

// NotifyConfig holds alert delivery settings.
type NotifyConfig struct {
	// AlertsFile overrides <workdir>/.cadre/alerts.md.
	AlertsFile string `mapstructure:"alerts_file"`
}

// TUIConfig holds live monitor settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// defaults is the single source of default values. Keys use viper's
// dot notation.
var defaults = map[string]any{
	"anthropic.api_key":     "",
	"anthropic.model":       "claude-sonnet-4-20250514",
	"anthropic.max_tokens":  8192,
	"anthropic.use_bedrock": false,
	"anthropic.aws_region":  "",
	"anthropic.aws_profile": "",

	"orchestrator.strategy":           string(models.StrategySerial),
	"orchestrator.fail_loop_bound":    3,
	"orchestrator.adaptive_threshold": 3,
	"orchestrator.max_parallel":       10,
	"orchestrator.max_replans":        10,
	"orchestrator.task_timeout":       "30m",

	"health.heartbeat_ttl":      "60s",
	"health.heartbeat_interval": "15s",
	"health.status_ttl":         "24h",
	"health.metrics_ttl":        "24h",

	"improve.verify_command":     "go test ./...",
	"improve.verify_timeout":     "5m",
	"improve.backup_retention":   5,
	"improve.protected_patterns": []string{},

	"store.backend": BackendSQLite,
	"store.path":    "",
	"store.driver":  "sqlite",

	"notify.alerts_file": "",

	"tui.refresh_rate": "100ms",
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CADRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY", "CADRE_ANTHROPIC_API_KEY")
	return v
}

// Load loads configuration. Precedence, highest first:
//  1. Environment (ANTHROPIC_API_KEY, CADRE_<SECTION>_<KEY>)
//  2. Project config (.cadre.yaml in the current directory or a parent)
//  3. User config ($XDG_CONFIG_HOME/cadre/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v, err := loadViper()
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func loadViper() (*viper.Viper, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if project := findProjectConfig(); project != "" {
		pv := viper.New()
		pv.SetConfigFile(project)
		if err := pv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", project, err)
		}
		if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}
	return v, nil
}

// LoadFromPath loads defaults overlaid with a single config file.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with default values.
func Default() *Config {
	cfg, err := decode(newViperWithoutEnv())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

func newViperWithoutEnv() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// Validate rejects values no component could run with.
func (c *Config) Validate() error {
	if !models.Strategy(c.Orchestrator.Strategy).Valid() {
		return fmt.Errorf("orchestrator.strategy: unknown strategy %q", c.Orchestrator.Strategy)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Orchestrator.FailLoopBound < 0 {
		return fmt.Errorf("orchestrator.fail_loop_bound: must be >= 0, got %d", c.Orchestrator.FailLoopBound)
	}
	return nil
}

// Policy returns the orchestrator policy described by the config.
func (c *Config) Policy() *policy.Config {
	p := policy.Default()
	p.Retry.FailLoopBound = c.Orchestrator.FailLoopBound
	p.Execution.Strategy = models.Strategy(c.Orchestrator.Strategy)
	p.Execution.AdaptiveThreshold = c.Orchestrator.AdaptiveThreshold
	p.Execution.MaxParallel = c.Orchestrator.MaxParallel
	p.Execution.TaskTimeout = c.Orchestrator.TaskTimeout
	p.Replan.MaxReplans = c.Orchestrator.MaxReplans
	p.Loop.HeartbeatInterval = c.Health.HeartbeatInterval
	return p
}

// KeySource is where the API key came from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// ErrNoAPIKey is returned when no API key is configured and Bedrock is off.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// APIKey resolves the Anthropic API key. ANTHROPIC_API_KEY wins over the
// config files; an unexpanded ${VAR} reference counts as unset.
func (c *Config) APIKey() (string, KeySource, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, KeySourceEnv, nil
	}
	if key := c.Anthropic.APIKey; key != "" && !strings.HasPrefix(key, "${") {
		return key, KeySourceConfig, nil
	}
	if c.Anthropic.UseBedrock {
		return "", KeySourceNone, nil
	}
	return "", KeySourceNone, ErrNoAPIKey
}

// MaskAPIKey shortens a key for display.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 15:
		return "***"
	default:
		return key[:7] + "..." + key[len(key)-4:]
	}
}

// Keys returns every known config key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsKnownKey reports whether key is a config key.
func IsKnownKey(key string) bool {
	_, ok := defaults[strings.ToLower(key)]
	return ok
}

// Value returns the effective value of key as Load would see it.
func Value(key string) (any, error) {
	key = strings.ToLower(key)
	if !IsKnownKey(key) {
		return nil, fmt.Errorf("unknown configuration key: %s", key)
	}
	v, err := loadViper()
	if err != nil {
		return nil, err
	}
	return v.Get(key), nil
}

// SetUserValue writes key=value into the user config file, keeping the
// other values already there.
func SetUserValue(key, value string) error {
	key = strings.ToLower(key)
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	dir := userConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := UserConfigPath()
	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading user config: %w", err)
		}
	}
	v.Set(key, value)

	// Round-trip through the full loader so a bad value is rejected before
	// it is persisted.
	check := newViperWithoutEnv()
	if err := check.MergeConfigMap(v.AllSettings()); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if _, err := decode(check); err != nil {
		return err
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// UserConfigPath returns the path to the user config file.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

// ProjectConfigPath returns the project config file, or "" if none exists.
func ProjectConfigPath() string {
	return findProjectConfig()
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cadre")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "cadre")
	}
	return filepath.Join(home, ".config", "cadre")
}

// findProjectConfig searches for ProjectFile in the current directory and
// its parents.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, ProjectFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
