// Package config resolves settings from defaults, a YAML file and the
// environment, in that order of precedence (flags are applied by the CLI).
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/pbaille/postkeep/internal/enrich"
)

// Config is the resolved configuration.
type Config struct {
	DBPath    string        `yaml:"db_path"`
	Addr      string        `yaml:"addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	// Client side: where the persistence API lives and the bearer token.
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	LLM     LLM     `yaml:"llm"`
	Browser Browser `yaml:"browser"`
	Limits  Limits  `yaml:"limits"`
}

// LLM selects the enrichment provider.
type LLM struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

// Browser configures the live capture.
type Browser struct {
	Headless       bool          `yaml:"headless"`
	ExecPath       string        `yaml:"exec_path"`
	ProfileDir     string        `yaml:"profile_dir"`
	InteractionTTL time.Duration `yaml:"interaction_ttl"`
	Debounce       time.Duration `yaml:"debounce"`
	// Coalesce groups bursts of DOM mutations into one change event
	Coalesce time.Duration `yaml:"coalesce"`
}

// Limits are the per-owner server-side rate limits.
type Limits struct {
	SavesPerMinute int `yaml:"saves_per_minute"`
	AIPerHour      int `yaml:"ai_per_hour"`
}

// DefaultPath is ~/.postkeep/config.yaml
func DefaultPath() string {
	return filepath.Join(Home(), "config.yaml")
}

// Home is the directory holding the config file and the default database.
func Home() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".postkeep")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath:   filepath.Join(Home(), "postkeep.db"),
		Addr:     ":8080",
		TokenTTL: 30 * 24 * time.Hour,
		APIURL:   "http://localhost:8080/api",
		LogLevel: "info",
		LLM: LLM{
			Provider: "ollama",
		},
		Browser: Browser{
			Headless:       true,
			ProfileDir:     filepath.Join(Home(), "chrome"),
			InteractionTTL: 30 * time.Second,
			Debounce:       800 * time.Millisecond,
			Coalesce:       100 * time.Millisecond,
		},
		Limits: Limits{
			SavesPerMinute: 10,
			AIPerHour:      20,
		},
	}
}

// Load resolves the configuration. An empty path reads DefaultPath and
// tolerates its absence; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath()
	}
	if err := loadFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return eris.Wrapf(err, "parse config %s", path)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DBPath, "POSTKEEP_DB")
	setString(&cfg.Addr, "POSTKEEP_ADDR")
	setString(&cfg.JWTSecret, "POSTKEEP_JWT_SECRET")
	setString(&cfg.APIURL, "POSTKEEP_API_URL")
	setString(&cfg.Token, "POSTKEEP_TOKEN")
	setString(&cfg.LogLevel, "POSTKEEP_LOG_LEVEL")
	setString(&cfg.LLM.Provider, "POSTKEEP_LLM_PROVIDER")
	setString(&cfg.LLM.Model, "POSTKEEP_LLM_MODEL")

	if strings.EqualFold(cfg.LLM.Provider, "ollama") || cfg.LLM.Provider == "" {
		setString(&cfg.LLM.BaseURL, "OLLAMA_BASE_URL")
		setString(&cfg.LLM.Model, "OLLAMA_MODEL")
	}
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

// Provider converts the LLM section for the enrichment package. Empty API
// keys are read from the provider's usual environment variable.
func (c Config) Provider() enrich.ProviderConfig {
	return enrich.ProviderConfig{
		Provider: c.LLM.Provider,
		Model:    c.LLM.Model,
		APIKey:   c.LLM.APIKey,
		BaseURL:  c.LLM.BaseURL,
	}
}
