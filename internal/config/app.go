package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sati-chat/internal/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Providers ProvidersConfig
	Transport TransportConfig
	Auth      AuthConfig
	Prefs     PrefsConfig
	Models    *ModelsConfig
	// KnowledgeDir optionally overrides the built-in institute sections
	KnowledgeDir string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver     string // "postgres" or "sqlite"
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

// ProvidersConfig holds the proxy endpoints and the initial selection
type ProvidersConfig struct {
	GroqEndpoint    string
	GeminiEndpoint  string
	DefaultProvider string
	DefaultModel    string
}

// TransportConfig controls retries and timeouts for provider calls
type TransportConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	RequestTimeout time.Duration
	// RateLimit is the allowed requests per second; zero disables pacing.
	RateLimit float64
	RateBurst int
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret       []byte
	TokenExpiration time.Duration
}

// PrefsConfig locates the local preference store
type PrefsConfig struct {
	Path string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// LoadConfig loads application configuration from the environment and, when
// SATI_CONFIG names a file, from that file.
func LoadConfig() (*AppConfig, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	config := &AppConfig{}

	// Load Server config
	config.Server = ServerConfig{
		Port:            getEnvOrDefault(v, "SERVER_PORT", "8080"),
		ShutdownTimeout: getEnvAsDuration(v, "SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	// Load Database config
	config.Database = DatabaseConfig{
		Driver:     strings.ToLower(getEnvOrDefault(v, "DB_DRIVER", DriverSQLite)),
		Host:       getEnvOrDefault(v, "DB_HOST", "postgres"),
		Port:       getEnvOrDefault(v, "DB_PORT", "5432"),
		User:       getEnvOrDefault(v, "DB_USER", "postgres"),
		Password:   getEnvOrDefault(v, "DB_PASSWORD", "postgres"),
		Name:       getEnvOrDefault(v, "DB_NAME", "sati"),
		SSLMode:    getEnvOrDefault(v, "DB_SSLMODE", "disable"),
		SQLitePath: getEnvOrDefault(v, "SQLITE_PATH", filepath.Join(defaultDataDir(), "sati.db")),
	}
	if config.Database.Driver != DriverPostgres && config.Database.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (want postgres or sqlite)", config.Database.Driver)
	}

	// Load provider config
	baseURL := strings.TrimRight(getEnvOrDefault(v, "PROXY_BASE_URL", "http://localhost:3000"), "/")
	config.Providers = ProvidersConfig{
		GroqEndpoint:    resolveEndpoint(baseURL, getEnvOrDefault(v, "GROQ_API_ENDPOINT", "/api/groq")),
		GeminiEndpoint:  resolveEndpoint(baseURL, getEnvOrDefault(v, "GEMINI_API_ENDPOINT", "/api/gemini")),
		DefaultProvider: getEnvOrDefault(v, "DEFAULT_PROVIDER", "groq"),
		DefaultModel:    getEnvOrDefault(v, "DEFAULT_MODEL", "llama-3.1-8b-instant"),
	}

	// Load transport config
	config.Transport = TransportConfig{
		MaxRetries:     getEnvAsInt(v, "TRANSPORT_MAX_RETRIES", 3),
		BaseDelay:      getEnvAsDuration(v, "TRANSPORT_BASE_DELAY", time.Second),
		RequestTimeout: getEnvAsDuration(v, "TRANSPORT_REQUEST_TIMEOUT", 30*time.Second),
		RateLimit:      getEnvAsFloat(v, "TRANSPORT_RATE_LIMIT", 0),
		RateBurst:      getEnvAsInt(v, "TRANSPORT_RATE_BURST", 1),
	}
	if config.Transport.MaxRetries < 0 {
		return nil, fmt.Errorf("TRANSPORT_MAX_RETRIES must not be negative")
	}

	// Load Auth config. The secret is only checked by callers that issue tokens.
	config.Auth = AuthConfig{
		JWTSecret:       []byte(v.GetString("JWT_SECRET")),
		TokenExpiration: getEnvAsDuration(v, "JWT_TOKEN_EXPIRATION", 24*time.Hour),
	}

	config.Prefs = PrefsConfig{
		Path: getEnvOrDefault(v, "PREFS_PATH", filepath.Join(defaultDataDir(), "prefs.db")),
	}

	config.KnowledgeDir = v.GetString("KNOWLEDGE_DIR")

	// Load Models config
	if modelsConfigPath := v.GetString("MODELS_CONFIG_PATH"); modelsConfigPath != "" {
		modelsConfig, err := NewModelsConfig(modelsConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load models config: %w", err)
		}
		config.Models = modelsConfig
	} else {
		config.Models = NewDefaultModelsConfig()
	}

	return config, nil
}

// Validate checks that the token signing secret is usable
func (c *AuthConfig) Validate() error {
	if len(c.JWTSecret) == 0 {
		return errors.New("JWT_SECRET environment variable must be set")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters (current length: %d)", len(c.JWTSecret))
	}
	return nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()

	if path := os.Getenv("SATI_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		logger.Log.WithField("path", v.ConfigFileUsed()).Info("Loaded config file")
	}
	return v, nil
}

func resolveEndpoint(baseURL, endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return baseURL + endpoint
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sati-chat")
	}
	return "."
}

// Helper functions for configuration value parsing

func getEnvOrDefault(v *viper.Viper, key, defaultValue string) string {
	if value := v.GetString(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(v *viper.Viper, key string, defaultValue int) int {
	valueStr := v.GetString(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsFloat(v *viper.Viper, key string, defaultValue float64) float64 {
	valueStr := v.GetString(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid float value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	valueStr := v.GetString(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}
