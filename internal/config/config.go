// Package config handles configuration loading for The Stoic Leek.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "STOICLEEK"

// Config represents the complete application configuration.
type Config struct {
	LLM          LLMConfig          `mapstructure:"llm"          yaml:"llm" json:"llm"`
	Prescription PrescriptionConfig `mapstructure:"prescription" yaml:"prescription" json:"prescription"`
	Fund         FundConfig         `mapstructure:"fund"         yaml:"fund" json:"fund"`
	Market       MarketConfig       `mapstructure:"market"       yaml:"market" json:"market"`
	Store        StoreConfig        `mapstructure:"store"        yaml:"store" json:"store"`
	API          APIConfig          `mapstructure:"api"          yaml:"api" json:"api"`
	Logging      LoggingConfig      `mapstructure:"logging"      yaml:"logging" json:"logging"`
}

// LLMConfig holds the chat-completion provider settings.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"    yaml:"base_url" json:"base_url"`
	APIKey      string        `mapstructure:"api_key"     yaml:"api_key" json:"-"`
	Model       string        `mapstructure:"model"       yaml:"model" json:"model"`
	Models      []ModelOption `mapstructure:"models"      yaml:"models" json:"models"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"  yaml:"max_tokens" json:"max_tokens"`
	TimeoutSec  int           `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// ModelOption pairs a display name with a provider model id.
type ModelOption struct {
	Name string `mapstructure:"name" yaml:"name" json:"name"`
	ID   string `mapstructure:"id"   yaml:"id"   json:"id"`
}

// Timeout returns the per-call deadline as a duration.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// PrescriptionConfig holds the tier policy and vocabularies.
type PrescriptionConfig struct {
	Exercises    []string  `mapstructure:"exercises"     yaml:"exercises" json:"exercises"`
	MoodKeywords []string  `mapstructure:"mood_keywords" yaml:"mood_keywords" json:"mood_keywords"`
	Thresholds   []float64 `mapstructure:"thresholds"    yaml:"thresholds" json:"thresholds"`
	Strategy     string    `mapstructure:"strategy"      yaml:"strategy" json:"strategy"` // "model" or "formula"
	BaseReps     int       `mapstructure:"base_reps"     yaml:"base_reps" json:"base_reps"`
	PromptFile   string    `mapstructure:"prompt_file"   yaml:"prompt_file" json:"prompt_file"`
}

// FundConfig holds fund quote settings.
type FundConfig struct {
	CacheTTL   int `mapstructure:"cache_ttl"   yaml:"cache_ttl" json:"cache_ttl"` // seconds
	BatchLimit int `mapstructure:"batch_limit" yaml:"batch_limit" json:"batch_limit"`
}

// TTL returns the quote cache lifetime.
func (c FundConfig) TTL() time.Duration { return time.Duration(c.CacheTTL) * time.Second }

// MarketConfig holds sector, news and daily summary settings.
type MarketConfig struct {
	CacheTTL    int      `mapstructure:"cache_ttl"    yaml:"cache_ttl" json:"cache_ttl"` // seconds
	RefreshCron string   `mapstructure:"refresh_cron" yaml:"refresh_cron" json:"refresh_cron"`
	SectorTopN  int      `mapstructure:"sector_top_n" yaml:"sector_top_n" json:"sector_top_n"`
	NewsFeeds   []string `mapstructure:"news_feeds"   yaml:"news_feeds" json:"news_feeds"`
}

// TTL returns the sector and news cache lifetime.
func (c MarketConfig) TTL() time.Duration { return time.Duration(c.CacheTTL) * time.Second }

// StoreConfig selects the settings/history backend.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"      yaml:"driver" json:"driver"` // "sqlite" or "memory"
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path" json:"sqlite_path"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host" json:"host"`
	Port        int      `mapstructure:"port"         yaml:"port" json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level" json:"level"`   // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" json:"format"` // "text" or "json"
}

// DefaultModels lists the free SiliconFlow models offered in the UI.
var DefaultModels = []ModelOption{
	{Name: "DeepSeek-V3 (免费)", ID: "deepseek-ai/DeepSeek-V3"},
	{Name: "DeepSeek-V2.5 (免费)", ID: "deepseek-ai/DeepSeek-V2.5"},
	{Name: "Qwen2.5-7B (免费)", ID: "Qwen/Qwen2.5-7B-Instruct"},
	{Name: "Qwen2.5-72B (免费)", ID: "Qwen/Qwen2.5-72B-Instruct"},
}

// DefaultExercises is the built-in exercise pool.
var DefaultExercises = []string{
	"深蹲", "俯卧撑", "卷腹", "高抬腿", "波比跳",
	"开合跳", "平板支撑", "拉伸", "靠墙静蹲",
	"仰卧起坐", "跳绳", "原地跑",
}

// DefaultMoodKeywords is the recognized mood vocabulary.
var DefaultMoodKeywords = []string{
	"上头", "膨胀", "装死", "幻觉", "麻木",
	"恐惧", "贪婪", "崩溃", "狂欢", "平静",
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.stoicleek/config.yaml (home directory)
//  3. /etc/stoicleek/config.yaml (system)
//
// Environment variables override config file values.
// Format: STOICLEEK_<SECTION>_<KEY>, e.g., STOICLEEK_LLM_API_KEY
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".stoicleek"))
	v.AddConfigPath("/etc/stoicleek")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

// Default returns the configuration built purely from defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SaveToFile writes cfg as YAML to path, creating parent directories.
// Secrets are written as-is; callers should clear them first if needed.
func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file %s: %w", path, err)
	}
	return nil
}

// ResolveModel maps a display name or model id to a model id.
// Unknown values are returned unchanged; empty falls back to the default model.
func (c LLMConfig) ResolveModel(nameOrID string) string {
	if nameOrID == "" {
		return c.Model
	}
	for _, m := range c.Models {
		if m.Name == nameOrID {
			return m.ID
		}
	}
	return nameOrID
}

// ConfigFilePath returns the per-user config location.
func ConfigFilePath() string {
	return filepath.Join(homeDir(), ".stoicleek", "config.yaml")
}

// Validate checks invariants that viper cannot express.
func (c *Config) Validate() error {
	t := c.Prescription.Thresholds
	if len(t) != 3 {
		return fmt.Errorf("prescription.thresholds: need 3 values, got %d", len(t))
	}
	prev := 0.0
	for i, x := range t {
		if x <= prev {
			return fmt.Errorf("prescription.thresholds[%d]: %v must be > %v", i, x, prev)
		}
		prev = x
	}
	switch c.Prescription.Strategy {
	case "model", "formula":
	default:
		return fmt.Errorf("prescription.strategy: unknown %q", c.Prescription.Strategy)
	}
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("store.driver: unknown %q", c.Store.Driver)
	}
	if c.LLM.TimeoutSec <= 0 {
		return fmt.Errorf("llm.timeout_sec must be positive")
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// LLM defaults (SiliconFlow, OpenAI-compatible)
	v.SetDefault("llm.base_url", "https://api.siliconflow.cn/v1")
	v.SetDefault("llm.model", "deepseek-ai/DeepSeek-V3")
	models := make([]map[string]any, len(DefaultModels))
	for i, m := range DefaultModels {
		models[i] = map[string]any{"name": m.Name, "id": m.ID}
	}
	v.SetDefault("llm.models", models)
	v.SetDefault("llm.temperature", 0.6)
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.timeout_sec", 30)

	// Prescription defaults
	v.SetDefault("prescription.exercises", DefaultExercises)
	v.SetDefault("prescription.mood_keywords", DefaultMoodKeywords)
	v.SetDefault("prescription.thresholds", []float64{1, 3, 7})
	v.SetDefault("prescription.strategy", "model")
	v.SetDefault("prescription.base_reps", 10)
	v.SetDefault("prescription.prompt_file", "")

	// Fund defaults
	v.SetDefault("fund.cache_ttl", 60)
	v.SetDefault("fund.batch_limit", 20)

	// Market defaults
	v.SetDefault("market.cache_ttl", 900) // 15 minutes
	v.SetDefault("market.refresh_cron", "@every 15m")
	v.SetDefault("market.sector_top_n", 10)
	v.SetDefault("market.news_feeds", []string{
		"https://rsshub.app/cls/telegraph",
		"https://rsshub.app/eastmoney/report/strategyreport",
	})

	// Store defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "data/stoicleek.db")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8000)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv(EnvPrefix + "_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	// SiliconFlow's own variable name, as printed in its console.
	if cfg.LLM.APIKey == "" {
		if key := os.Getenv("SILICONFLOW_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
