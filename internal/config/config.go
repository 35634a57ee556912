// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Registry     RegistryConfig     `mapstructure:"registry" yaml:"registry"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Learning     LearningConfig     `mapstructure:"learning" yaml:"learning"`
	AI           AIConfig           `mapstructure:"ai" yaml:"ai"`
}

// LoggerConfig controls the zap logger setup.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // console | json
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	// File rotation (lumberjack). Empty LogFile disables the file core.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls the chromedp driver adapter.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	// ActionsPerSecond rate-limits CDP actions so driver call bursts stay
	// behaviorally plausible. Zero disables the limiter.
	ActionsPerSecond float64 `mapstructure:"actions_per_second" yaml:"actions_per_second"`
}

// RegistryConfig controls session tracking and eviction.
type RegistryConfig struct {
	MaxSessions     int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	IdleThreshold   time.Duration `mapstructure:"idle_threshold" yaml:"idle_threshold"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	ParallelEnabled bool          `mapstructure:"parallel_enabled" yaml:"parallel_enabled"`
	// EventBuffer bounds the new-target event channel drained by the
	// registry owner loop.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// OrchestratorConfig controls the poll run state machine.
type OrchestratorConfig struct {
	MaxPages         int           `mapstructure:"max_pages" yaml:"max_pages"`
	QuestionDelayMin time.Duration `mapstructure:"question_delay_min" yaml:"question_delay_min"`
	QuestionDelayMax time.Duration `mapstructure:"question_delay_max" yaml:"question_delay_max"`
	NavRetryAttempts int           `mapstructure:"nav_retry_attempts" yaml:"nav_retry_attempts"`
	NavRetryBackoff  time.Duration `mapstructure:"nav_retry_backoff" yaml:"nav_retry_backoff"`
	// Extra container selectors appended to the detector's structural pass.
	QuestionSelectors []string `mapstructure:"question_selectors" yaml:"question_selectors"`
}

// LearningConfig controls the selector-strategy learning store.
type LearningConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // file | postgres
	Path    string `mapstructure:"path" yaml:"path"`
	// DatabaseURL is used when Backend is "postgres" (POLLFLOW_LEARNING_DATABASE_URL).
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	// Threshold is the minimum recorded attempts before reordering kicks in.
	Threshold int `mapstructure:"threshold" yaml:"threshold"`
}

// AIConfig controls the optional AI answering collaborator.
type AIConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // none | genai | sidecar
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	Model    string `mapstructure:"model" yaml:"model"`
	// Endpoint is the answering sidecar base URL when Provider is "sidecar".
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// setDefaults registers every default with viper so env vars and the config
// file can override them individually.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "pollflow-cli")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 45*time.Second)
	v.SetDefault("browser.post_load_wait", 1500*time.Millisecond)
	v.SetDefault("browser.actions_per_second", 8.0)

	v.SetDefault("registry.max_sessions", 8)
	v.SetDefault("registry.idle_threshold", 5*time.Minute)
	v.SetDefault("registry.cleanup_interval", 30*time.Second)
	v.SetDefault("registry.parallel_enabled", false)
	v.SetDefault("registry.event_buffer", 16)

	v.SetDefault("orchestrator.max_pages", 25)
	v.SetDefault("orchestrator.question_delay_min", 400*time.Millisecond)
	v.SetDefault("orchestrator.question_delay_max", 1800*time.Millisecond)
	v.SetDefault("orchestrator.nav_retry_attempts", 2)
	v.SetDefault("orchestrator.nav_retry_backoff", 750*time.Millisecond)

	v.SetDefault("learning.backend", "file")
	v.SetDefault("learning.threshold", 5)

	v.SetDefault("ai.provider", "none")
	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.timeout", 30*time.Second)
}

// Load reads configuration from the given file (or ./config.yaml), POLLFLOW_*
// environment variables, and defaults, in ascending precedence of
// defaults < file < env.
func Load(cfgFile string) (*Config, error) {
	v := viper.GetViper()
	return load(v, cfgFile)
}

func load(v *viper.Viper, cfgFile string) (*Config, error) {
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("POLLFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Learning.Path == "" {
		cfg.Learning.Path = defaultLearningPath()
	}

	return &cfg, nil
}

// defaultLearningPath resolves ~/.pollflow/learning.json, falling back to the
// working directory when the home dir cannot be determined.
func defaultLearningPath() string {
	home, err := homedir.Dir()
	if err != nil {
		return "learning.json"
	}
	return filepath.Join(home, ".pollflow", "learning.json")
}
