// Package config loads the ingestion service's configuration through the
// layered strategy the teacher applies to its own settings: built-in
// defaults, overridden by a YAML file on disk, overridden by PKM_* environment
// variables — implemented with spf13/viper rather than the teacher's
// hand-rolled JSON layering, since viper is already a teacher dependency and
// does exactly this.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// LLMConfig is the abstract LLM capability's provider configuration (§6).
type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	DefaultModel string `mapstructure:"default_model"`
}

// ClassifierConfig is the Enhanced Filter's configurable policy (§4.7).
type ClassifierConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	AllowedTypes  []string `mapstructure:"allowed_types"`
	MinConfidence float64  `mapstructure:"min_confidence"`
	LogDecisions  bool     `mapstructure:"log_decisions"`
}

// QueueConfig tunes the Visit Queue (§4.3).
type QueueConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	ShutdownDrain  time.Duration `mapstructure:"shutdown_drain"`
	LLMCallTimeout time.Duration `mapstructure:"llm_call_timeout"`
}

// OrphanConfig holds the orphan settings (§4.2) as loaded from configuration.
// Nothing reads them at present: the Orphan Manager uses its own MaxRetries
// and TTL constants and the Visit Queue its own fixed retry interval.
type OrphanConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// TreeConfig tunes the Tree Builder's membership heuristic (§4.4, SPEC_FULL.md §13).
type TreeConfig struct {
	MembershipWindow time.Duration `mapstructure:"membership_window"`
}

// ObservabilityConfig selects the tracing/metrics exporters.
type ObservabilityConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	TraceExporter  string `mapstructure:"trace_exporter"` // none | stdout | otlphttp | jaeger | zipkin
	TraceEndpoint  string `mapstructure:"trace_endpoint"`
}

// MarkdownIndexConfig configures the append-only markdown index (§6).
type MarkdownIndexConfig struct {
	Path       string `mapstructure:"path"`
	Heading    string `mapstructure:"heading"`
	GitVersion bool   `mapstructure:"git_version"`
}

// Config is the ingestion service's fully-resolved configuration.
type Config struct {
	HTTPAddr      string              `mapstructure:"http_addr"`
	DataDir       string              `mapstructure:"data_dir"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Classifier    ClassifierConfig    `mapstructure:"classifier"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Orphan        OrphanConfig        `mapstructure:"orphan"`
	Tree          TreeConfig          `mapstructure:"tree"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	MarkdownIndex MarkdownIndexConfig `mapstructure:"markdown_index"`
	LogLevel      string              `mapstructure:"log_level"`
}

func defaultHomeDir() string {
	dir := ".pkm-assistant"
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, dir)
	}
	return dir
}

// SetDefaults populates v with every default this spec mandates, so a config
// file or environment can override as few or as many keys as it wants.
func SetDefaults(v *viper.Viper) {
	home := defaultHomeDir()

	v.SetDefault("http_addr", "127.0.0.1:0")
	v.SetDefault("data_dir", home)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.default_model", "gpt-4o-mini")

	v.SetDefault("classifier.enabled", true)
	v.SetDefault("classifier.allowed_types", []string{"knowledge"})
	v.SetDefault("classifier.min_confidence", 0.7)
	v.SetDefault("classifier.log_decisions", true)

	v.SetDefault("queue.batch_size", 3)
	v.SetDefault("queue.batch_timeout", "1s")
	v.SetDefault("queue.shutdown_drain", "10s")
	v.SetDefault("queue.llm_call_timeout", "30s")

	v.SetDefault("orphan.max_retries", 5)
	v.SetDefault("orphan.ttl", "60s")
	v.SetDefault("orphan.retry_interval", "5s")

	v.SetDefault("tree.membership_window", "30m")

	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.trace_exporter", "none")
	v.SetDefault("observability.trace_endpoint", "")

	v.SetDefault("markdown_index.path", filepath.Join(home, "index.md"))
	v.SetDefault("markdown_index.heading", "Knowledge Base")
	v.SetDefault("markdown_index.git_version", true)

	v.SetDefault("log_level", "info")
}

// Load resolves configuration from defaults, an optional YAML file, and
// PKM_* environment variables, in that overriding order.
func Load(configFile string) (Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("PKM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envReplacer{})

	if configFile == "" {
		configFile = filepath.Join(defaultHomeDir(), "config.yaml")
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// envReplacer maps PKM_LLM_API_KEY -> llm.api_key etc.
type envReplacer struct{}

func (envReplacer) Replace(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch r {
		case '.':
			out = append(out, '_')
		default:
			out = append(out, byte(r))
		}
	}
	return string(out)
}
