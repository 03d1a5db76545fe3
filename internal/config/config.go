package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultFeedURLs are the RSS feeds ingested when none are configured.
var DefaultFeedURLs = []string{
	"https://rss.nytimes.com/services/xml/rss/nyt/World.xml",
	"https://rss.nytimes.com/services/xml/rss/nyt/US.xml",
	"https://rss.nytimes.com/services/xml/rss/nyt/Business.xml",
	"https://rss.nytimes.com/services/xml/rss/nyt/Technology.xml",
	"https://rss.nytimes.com/services/xml/rss/nyt/Science.xml",
	"https://rss.nytimes.com/services/xml/rss/nyt/Health.xml",
}

// Config holds all application configuration
type Config struct {
	App       App       `mapstructure:"app"`
	AI        AI        `mapstructure:"ai"`
	Store     Store     `mapstructure:"store"`
	Feeds     Feeds     `mapstructure:"feeds"`
	Recommend Recommend `mapstructure:"recommend"`
	Server    Server    `mapstructure:"server"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	LogLevel   string `mapstructure:"log_level"`
	LogFormat  string `mapstructure:"log_format"`
	DataDir    string `mapstructure:"data_dir"`
	ConfigFile string `mapstructure:"config_file"`
}

// AI holds AI/LLM configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey              string  `mapstructure:"api_key"`
	Model               string  `mapstructure:"model"`
	EmbeddingModel      string  `mapstructure:"embedding_model"`
	EmbeddingDimensions int32   `mapstructure:"embedding_dimensions"`
	Temperature         float32 `mapstructure:"temperature"`
	Timeout             string  `mapstructure:"timeout"`
	MaxRetries          int     `mapstructure:"max_retries"`
}

// Store selects the article collection backend.
type Store struct {
	Backend     string `mapstructure:"backend"` // sqlite or pgvector
	DatabaseURL string `mapstructure:"database_url"`
}

// Feeds holds RSS/feed configuration
type Feeds struct {
	URLs           []string `mapstructure:"urls"`
	UserAgent      string   `mapstructure:"user_agent"`
	Timeout        string   `mapstructure:"timeout"`
	StalenessDays  int      `mapstructure:"staleness_days"`
	RefreshTTL     string   `mapstructure:"refresh_ttl"`
	RefreshTimeout string   `mapstructure:"refresh_timeout"`
}

// Recommend holds recommendation pipeline tuning.
type Recommend struct {
	WindowDays           int    `mapstructure:"window_days"`
	PerTopicLimit        int    `mapstructure:"per_topic_limit"`
	CandidateLimit       int    `mapstructure:"candidate_limit"`
	RankedLimit          int    `mapstructure:"ranked_limit"`
	DiscoveryCount       int    `mapstructure:"discovery_count"`
	DiscoveryExplanation string `mapstructure:"discovery_explanation"`
}

// Server holds HTTP server configuration
type Server struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration   `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig holds per-IP rate limiting settings
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".newsrec")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = viper.ConfigFileUsed()

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.log_format", "json")
	viper.SetDefault("app.data_dir", ".newsrec")

	// AI defaults
	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.embedding_dimensions", 768)
	viper.SetDefault("ai.gemini.temperature", 0.1)
	viper.SetDefault("ai.gemini.timeout", "30s")
	viper.SetDefault("ai.gemini.max_retries", 1)

	// Store defaults
	viper.SetDefault("store.backend", "sqlite")

	// Feed defaults
	viper.SetDefault("feeds.urls", DefaultFeedURLs)
	viper.SetDefault("feeds.user_agent", "newsrec/1.0")
	viper.SetDefault("feeds.timeout", "30s")
	viper.SetDefault("feeds.staleness_days", 3)
	viper.SetDefault("feeds.refresh_ttl", "24h")
	viper.SetDefault("feeds.refresh_timeout", "5m")

	// Recommendation defaults
	viper.SetDefault("recommend.window_days", 7)
	viper.SetDefault("recommend.per_topic_limit", 5)
	viper.SetDefault("recommend.candidate_limit", 30)
	viper.SetDefault("recommend.ranked_limit", 10)
	viper.SetDefault("recommend.discovery_count", 5)
	viper.SetDefault("recommend.discovery_explanation", "discovery")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "120s")
	viper.SetDefault("server.request_timeout", "90s")
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("server.cors.enabled", false)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})
	viper.SetDefault("server.rate_limit.enabled", true)
	viper.SetDefault("server.rate_limit.requests", 60)
	viper.SetDefault("server.rate_limit.window", "1m")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	// Gemini API key - support multiple formats
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("store.database_url", []string{
		"DATABASE_URL",
		"NEWSREC_DATABASE_URL",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"NEWSREC_DEBUG",
	})

	bindEnvKeys("server.port", []string{
		"PORT",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.App.Debug {
		config.App.LogLevel = "debug"
	}
	if len(config.Feeds.URLs) == 0 {
		config.Feeds.URLs = DefaultFeedURLs
	}

	durations := map[string]string{
		"ai.gemini.timeout":     config.AI.Gemini.Timeout,
		"feeds.timeout":         config.Feeds.Timeout,
		"feeds.refresh_ttl":     config.Feeds.RefreshTTL,
		"feeds.refresh_timeout": config.Feeds.RefreshTimeout,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures required configuration is present
func validateConfig(config *Config) error {
	var errors []string

	if config.AI.Gemini.APIKey == "" {
		errors = append(errors, "Gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file.\nGet your API key from: https://aistudio.google.com/app/apikey")
	}

	switch config.Store.Backend {
	case "sqlite":
	case "pgvector":
		if config.Store.DatabaseURL == "" {
			errors = append(errors, "pgvector backend requires a database URL. Set DATABASE_URL or store.database_url")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown store backend: %s. Supported: sqlite, pgvector", config.Store.Backend))
	}

	if config.Feeds.StalenessDays <= 0 {
		errors = append(errors, "feeds.staleness_days must be positive")
	}

	r := config.Recommend
	if r.WindowDays <= 0 || r.PerTopicLimit <= 0 || r.CandidateLimit <= 0 || r.RankedLimit <= 0 || r.DiscoveryCount < 0 {
		errors = append(errors, "recommend limits must be positive (discovery_count may be 0)")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GeminiTimeout returns the per-call LLM timeout.
func (g GeminiConfig) GeminiTimeout() time.Duration {
	d, err := time.ParseDuration(g.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// FetchTimeout returns the per-feed fetch timeout.
func (f Feeds) FetchTimeout() time.Duration {
	d, err := time.ParseDuration(f.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// TTL returns how long an ingestion stays fresh.
func (f Feeds) TTL() time.Duration {
	d, err := time.ParseDuration(f.RefreshTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// CycleTimeout bounds one whole ingestion cycle.
func (f Feeds) CycleTimeout() time.Duration {
	d, err := time.ParseDuration(f.RefreshTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// Convenience getters for commonly used configuration values
func GetApp() App             { return Get().App }
func GetAI() AI               { return Get().AI }
func GetStore() Store         { return Get().Store }
func GetFeeds() Feeds         { return Get().Feeds }
func GetRecommend() Recommend { return Get().Recommend }
func GetServer() Server       { return Get().Server }
func GetDataDir() string      { return Get().App.DataDir }
func IsDebugMode() bool       { return Get().App.Debug }

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
