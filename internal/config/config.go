// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.blentor/config.yaml or ./config.yaml)
//  3. Default values
//
// Security: sensitive values (API keys, database password, auth secret) are
// masked in MarshalJSON/String and never logged in clear text.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates GEMINI_API_KEY is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates a model identifier is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidTopK indicates the retrieval limit is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidPostgres indicates an invalid PostgreSQL setting.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidLearnInterval indicates the learning loop interval is too short.
	ErrInvalidLearnInterval = errors.New("invalid learning loop interval")

	// ErrInvalidLearnRate indicates the background model-call budget is not
	// positive.
	ErrInvalidLearnRate = errors.New("invalid learning rate")

	// ErrInvalidAuthSecret indicates the auth secret is set but too short.
	ErrInvalidAuthSecret = errors.New("invalid auth secret")
)

// Defaults shared with the knowledge and ask packages.
const (
	// DefaultGenerativeModel is the Gemini model used for all text generation.
	DefaultGenerativeModel = "gemini-2.5-flash"

	// DefaultEmbedderModel produces 768-dimension vectors, matching the
	// vector(768) column in db/migrations. Changing one requires changing
	// the other.
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultMatchThreshold is the minimum cosine similarity for a chunk
	// to count as a match.
	DefaultMatchThreshold = 0.6

	// DefaultTopK is the maximum context chunks per answer.
	DefaultTopK = 5
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// HTTP server
	Host        string   `mapstructure:"host" json:"host"`
	Port        int      `mapstructure:"port" json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Optional bearer auth. Empty secret disables auth entirely.
	AuthSecret string `mapstructure:"auth_secret" json:"auth_secret"` // SENSITIVE: masked in MarshalJSON

	// AI models
	GenerativeModel string  `mapstructure:"generative_model" json:"generative_model"`
	EmbedderModel   string  `mapstructure:"embedder_model" json:"embedder_model"`
	MatchThreshold  float64 `mapstructure:"match_threshold" json:"match_threshold"`
	TopK            int     `mapstructure:"top_k" json:"top_k"`

	// Call timeouts
	EmbedTimeout    time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout" json:"generate_timeout"`

	// Storage
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Background learning loop
	LearnEnabled      bool          `mapstructure:"learn_enabled" json:"learn_enabled"`
	LearnInterval     time.Duration `mapstructure:"learn_interval" json:"learn_interval"`
	LearnCooldown     time.Duration `mapstructure:"learn_cooldown" json:"learn_cooldown"`
	CurationInterval  time.Duration `mapstructure:"curation_interval" json:"curation_interval"`
	MaxTaskAttempts   int           `mapstructure:"max_task_attempts" json:"max_task_attempts"`
	LearnRatePerMin   float64       `mapstructure:"learn_rate_per_min" json:"learn_rate_per_min"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".blentor")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when present.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("host", "0.0.0.0")
	viper.SetDefault("port", 8080)
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	viper.SetDefault("generative_model", DefaultGenerativeModel)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("match_threshold", DefaultMatchThreshold)
	viper.SetDefault("top_k", DefaultTopK)

	viper.SetDefault("embed_timeout", 30*time.Second)
	viper.SetDefault("generate_timeout", 180*time.Second)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "blentor")
	viper.SetDefault("postgres_password", "blentor_dev_password")
	viper.SetDefault("postgres_db_name", "blentor")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("learn_enabled", true)
	viper.SetDefault("learn_interval", 5*time.Minute)
	viper.SetDefault("learn_cooldown", 60*time.Second)
	viper.SetDefault("curation_interval", time.Hour)
	viper.SetDefault("max_task_attempts", 3)
	viper.SetDefault("learn_rate_per_min", 6.0)
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by the googlegenai plugin, not via viper;
// Validate() only checks its presence.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("auth_secret", "AUTH_SECRET")
	mustBind("cors_origins", "BLENTOR_CORS_ORIGINS")
	mustBind("trust_proxy", "BLENTOR_TRUST_PROXY")
	mustBind("port", "PORT")
	mustBind("generative_model", "BLENTOR_GENERATIVE_MODEL")
	mustBind("embedder_model", "BLENTOR_EMBEDDER_MODEL")
	mustBind("learn_enabled", "BLENTOR_LEARN_ENABLED")
}

const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.AuthSecret = maskSecret(a.AuthSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
