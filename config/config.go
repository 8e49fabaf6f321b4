package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the researcher service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Research  ResearchConfig  `mapstructure:"research"`
	Credits   CreditsConfig   `mapstructure:"credits"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Index     IndexConfig     `mapstructure:"index"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	JWTSecret    string   `mapstructure:"jwt_secret"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// LLMConfig configures the chat-completion provider used by the pipeline.
type LLMConfig struct {
	APIKey      string           `mapstructure:"api_key"`
	BaseURL     string           `mapstructure:"base_url"`
	Timeout     time.Duration    `mapstructure:"timeout"`
	MaxRetries  int              `mapstructure:"max_retries"`
	Backoff     time.Duration    `mapstructure:"backoff"`
	Temperature float64          `mapstructure:"temperature"`
	MaxTokens   int              `mapstructure:"max_tokens"`
	Routing     LLMRoutingConfig `mapstructure:"routing"`
}

// LLMRoutingConfig defines which model serves each pipeline phase.
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`
	Synthesis string `mapstructure:"synthesis"`
	Sections  string `mapstructure:"sections"`
	Fallback  string `mapstructure:"fallback"`
}

// Model returns the routed model for a phase, falling back when unset.
func (r LLMRoutingConfig) Model(phase string) string {
	var m string
	switch phase {
	case "planning":
		m = r.Planning
	case "synthesis":
		m = r.Synthesis
	case "sections":
		m = r.Sections
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

// SearchConfig configures web source providers and page enrichment.
type SearchConfig struct {
	Brave                 ProviderKeyConfig `mapstructure:"brave"`
	Serper                ProviderKeyConfig `mapstructure:"serper"`
	NewsAPI               ProviderKeyConfig `mapstructure:"newsapi"`
	MaxSourcesPerVertical int               `mapstructure:"max_sources_per_vertical"`
	Timeout               time.Duration     `mapstructure:"timeout"`
	Enrich                EnrichConfig      `mapstructure:"enrich"`
}

// ProviderKeyConfig is the credential block shared by search providers. A
// provider participates when its key is set and it is not disabled.
type ProviderKeyConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Disabled bool   `mapstructure:"disabled"`
}

// EnrichConfig controls fetching and extracting source page content.
type EnrichConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	MaxPages   int           `mapstructure:"max_pages"`
	MaxChars   int           `mapstructure:"max_chars"`
	UseBrowser bool          `mapstructure:"use_browser"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ResearchConfig tunes the pipeline itself.
type ResearchConfig struct {
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	MaxVerticals int           `mapstructure:"max_verticals"`
	MaxSections  int           `mapstructure:"max_sections"`
}

// CreditsConfig controls the credit ledger defaults.
type CreditsConfig struct {
	SignupGrant int64 `mapstructure:"signup_grant"`
}

// SchedulerConfig controls the periodic refresh scheduler.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// IndexConfig locates the bleve surface index.
type IndexConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig groups backing stores.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig holds the primary database settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles a postgres connection string from the configured parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig holds queue/lock settings. Redis is optional for serve,
// required for the worker and the scheduler.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Configured reports whether a redis endpoint is set at all.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.Host) != ""
}

// Addr returns host:port with the default redis port applied.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// TelemetryConfig contains observability settings. OTLP export is optional;
// prometheus metrics are always served from the HTTP server.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// LoadConfig reads configuration from file and RESEARCHER_* environment
// variables. It panics on unreadable or invalid configuration, matching the
// fail-fast startup behaviour of the binaries.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":10001")
	viper.SetDefault("llm.timeout", "90s")
	viper.SetDefault("llm.max_retries", 3)
	viper.SetDefault("llm.backoff", "2s")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.max_tokens", 4000)
	viper.SetDefault("llm.routing.fallback", "gpt-4o-mini")
	viper.SetDefault("search.max_sources_per_vertical", 8)
	viper.SetDefault("search.timeout", "20s")
	viper.SetDefault("search.enrich.enabled", true)
	viper.SetDefault("search.enrich.max_pages", 3)
	viper.SetDefault("search.enrich.max_chars", 20000)
	viper.SetDefault("search.enrich.use_browser", false)
	viper.SetDefault("search.enrich.timeout", "15s")
	viper.SetDefault("research.run_timeout", "15m")
	viper.SetDefault("research.call_timeout", "2m")
	viper.SetDefault("research.max_verticals", 6)
	viper.SetDefault("research.max_sections", 8)
	viper.SetDefault("credits.signup_grant", 10)
	viper.SetDefault("scheduler.enabled", false)
	viper.SetDefault("scheduler.interval", "1h")
	viper.SetDefault("scheduler.lock_ttl", "2m")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.service_name", "researcher")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("RESEARCHER")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
