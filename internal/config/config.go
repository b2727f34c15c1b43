package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHost     = "0.0.0.0"
	defaultPort     = 1337
	defaultEnvFile  = ".env"
	redactedValue   = "[redacted]"
	defaultLogLevel = "info"
)

// Known deployment environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > Environment variables > YAML config > Defaults
type Config struct {
	Environment string           `yaml:"environment"`
	LogLevel    string           `yaml:"log_level"`
	Server      ServerConfig     `yaml:"server"`
	Admin       AdminConfig      `yaml:"admin"`
	Database    DatabaseConfig   `yaml:"database"`
	Middleware  MiddlewareConfig `yaml:"middleware"`
	Mongo       MongoConfig      `yaml:"mongo"`
	Auth        AuthConfig       `yaml:"auth"`
}

// IsProduction reports whether the service runs in the production environment.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	AppKeys             []string      `yaml:"app_keys"`
	PublicURL           string        `yaml:"public_url"`
	Proxy               bool          `yaml:"proxy"`
	CronEnabled         bool          `yaml:"cron_enabled"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
}

// Address returns the host:port pair the server listens on.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AdminConfig declares the admin panel settings of the deployment.
type AdminConfig struct {
	JWTSecret         string     `yaml:"jwt_secret"`
	APITokenSalt      string     `yaml:"api_token_salt"`
	TransferTokenSalt string     `yaml:"transfer_token_salt"`
	Flags             AdminFlags `yaml:"flags"`
	URL               string     `yaml:"url"`
	Host              string     `yaml:"host"`
	Port              int        `yaml:"port"`
	ServeAdminPanel   bool       `yaml:"serve_admin_panel"`
	AutoOpen          bool       `yaml:"auto_open"`
}

// AdminFlags toggles optional admin panel prompts.
type AdminFlags struct {
	NPS       bool `yaml:"nps"`
	PromoteEE bool `yaml:"promote_ee"`
}

// MongoConfig describes the external document database used by the user bridge.
type MongoConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	Collection     string        `yaml:"collection"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Enabled reports whether a document database is configured.
func (m MongoConfig) Enabled() bool {
	return strings.TrimSpace(m.URI) != ""
}

// AuthConfig holds the secret used to verify end-user tokens.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	EnvFile        string
	Host           *string
	Port           *int
	Environment    *string
	DatabaseClient *string
	LogLevel       *string
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > Environment variables > YAML config > Defaults.
// Variables from the .env file never override the process environment.
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if err := loadEnvFile(overrides); err != nil {
		return Config{}, err
	}

	if overrides != nil && overrides.ConfigFile != "" {
		if err := loadFromFile(overrides.ConfigFile, &cfg); err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
	}

	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := resolve(&cfg); err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Environment: EnvDevelopment,
		LogLevel:    defaultLogLevel,
		Server: ServerConfig{
			Host:                defaultHost,
			Port:                defaultPort,
			PublicURL:           "http://localhost:1337",
			ShutdownGracePeriod: 10 * time.Second,
			ReadHeaderTimeout:   5 * time.Second,
			WriteTimeout:        15 * time.Second,
			IdleTimeout:         60 * time.Second,
		},
		Admin: AdminConfig{
			Flags: AdminFlags{
				NPS:       true,
				PromoteEE: true,
			},
			URL:             "/admin",
			Host:            "localhost",
			Port:            8000,
			ServeAdminPanel: true,
		},
		Database:   defaultDatabaseConfig(),
		Middleware: defaultMiddlewareConfig(),
		Mongo: MongoConfig{
			Collection:     "users",
			ConnectTimeout: 10 * time.Second,
		},
	}
}

func loadEnvFile(overrides *CLIOverrides) error {
	path := defaultEnvFile
	explicit := overrides != nil && overrides.EnvFile != ""
	if explicit {
		path = overrides.EnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// loadFromFile decodes a YAML file on top of cfg; absent keys keep their value.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}

	return nil
}

// applyEnvConfig applies environment variable configuration. Malformed
// typed values are reported by variable name instead of being ignored.
func applyEnvConfig(cfg *Config) error {
	env := &envParser{}

	if name, ok := envString("APP_ENV"); ok {
		cfg.Environment = name
	} else if name, ok := envString("NODE_ENV"); ok {
		cfg.Environment = name
	}
	if level, ok := envString("LOG_LEVEL"); ok {
		cfg.LogLevel = level
	}

	applyServerEnv(env, &cfg.Server)
	applyAdminEnv(env, &cfg.Admin)
	applyDatabaseEnv(env, &cfg.Database)
	applyMiddlewareEnv(env, &cfg.Middleware)

	if frontend, ok := envString("FRONTEND_URL"); ok {
		cfg.Middleware.CORS.appendOrigin(frontend)
	}

	if uri, ok := envString("MONGODB_URI"); ok {
		cfg.Mongo.URI = uri
	}
	if database, ok := envString("MONGODB_DATABASE"); ok {
		cfg.Mongo.Database = database
	}
	if secret, ok := envString("JWT_SECRET"); ok {
		cfg.Auth.JWTSecret = secret
	}

	return env.err()
}

func applyServerEnv(env *envParser, s *ServerConfig) {
	if host, ok := envString("HOST"); ok {
		s.Host = host
	}
	if port, ok := env.integer("PORT"); ok {
		s.Port = port
	}
	if keys, ok := envArray("APP_KEYS"); ok {
		s.AppKeys = keys
	}
	if publicURL, ok := envString("PUBLIC_URL"); ok {
		s.PublicURL = publicURL
	}
	if proxy, ok := env.boolean("BEHIND_PROXY"); ok {
		s.Proxy = proxy
	}
	if cron, ok := env.boolean("CRON_ENABLED"); ok {
		s.CronEnabled = cron
	}
}

func applyAdminEnv(env *envParser, a *AdminConfig) {
	if secret, ok := envString("ADMIN_JWT_SECRET"); ok {
		a.JWTSecret = secret
	}
	if salt, ok := envString("API_TOKEN_SALT"); ok {
		a.APITokenSalt = salt
	}
	if salt, ok := envString("TRANSFER_TOKEN_SALT"); ok {
		a.TransferTokenSalt = salt
	}
	if nps, ok := env.boolean("FLAG_NPS"); ok {
		a.Flags.NPS = nps
	}
	if promote, ok := env.boolean("FLAG_PROMOTE_EE"); ok {
		a.Flags.PromoteEE = promote
	}
	if adminURL, ok := envString("ADMIN_URL"); ok {
		a.URL = adminURL
	}
	if host, ok := envString("ADMIN_HOST"); ok {
		a.Host = host
	}
	if port, ok := env.integer("ADMIN_PORT"); ok {
		a.Port = port
	}
	if serve, ok := env.boolean("SERVE_ADMIN"); ok {
		a.ServeAdminPanel = serve
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Host != nil && *overrides.Host != "" {
		cfg.Server.Host = *overrides.Host
	}
	if overrides.Port != nil && *overrides.Port > 0 {
		cfg.Server.Port = *overrides.Port
	}
	if overrides.Environment != nil && *overrides.Environment != "" {
		cfg.Environment = *overrides.Environment
	}
	if overrides.DatabaseClient != nil && *overrides.DatabaseClient != "" {
		cfg.Database.Client = *overrides.DatabaseClient
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}
}

// resolve normalizes values that depend on more than one source.
func resolve(cfg *Config) error {
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Database.Client = normalizeClient(cfg.Database.Client)
	cfg.Middleware.CORS.appendOrigin(cfg.Admin.URL)

	if cfg.Mongo.Collection == "" {
		cfg.Mongo.Collection = "users"
	}

	return cfg.Middleware.CORS.Compile()
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535 {
		return fmt.Errorf("ADMIN_PORT must be between 1 and 65535, got %d", cfg.Admin.Port)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", cfg.LogLevel)
	}
	if cfg.Middleware.RateLimit.RPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.Middleware.RateLimit.Burst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.Middleware.BodyLimit <= 0 {
		return fmt.Errorf("body limit must be positive")
	}
	if err := validateDatabase(cfg.Database); err != nil {
		return err
	}
	if cfg.IsProduction() {
		return validateSecrets(cfg)
	}
	return nil
}

// validateSecrets requires the deployment secrets produced by gensecrets.
func validateSecrets(cfg Config) error {
	var missing []string
	if len(cfg.Server.AppKeys) == 0 {
		missing = append(missing, "APP_KEYS")
	}
	if cfg.Admin.JWTSecret == "" {
		missing = append(missing, "ADMIN_JWT_SECRET")
	}
	if cfg.Admin.APITokenSalt == "" {
		missing = append(missing, "API_TOKEN_SALT")
	}
	if cfg.Admin.TransferTokenSalt == "" {
		missing = append(missing, "TRANSFER_TOKEN_SALT")
	}
	if cfg.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required secrets for %s: %s", cfg.Environment, strings.Join(missing, ", "))
	}
	return nil
}

// Redacted returns a copy of the configuration safe to print.
func (c Config) Redacted() Config {
	out := c
	if len(c.Server.AppKeys) > 0 {
		out.Server.AppKeys = make([]string, len(c.Server.AppKeys))
		for i := range out.Server.AppKeys {
			out.Server.AppKeys[i] = redactedValue
		}
	}
	out.Admin.JWTSecret = redact(c.Admin.JWTSecret)
	out.Admin.APITokenSalt = redact(c.Admin.APITokenSalt)
	out.Admin.TransferTokenSalt = redact(c.Admin.TransferTokenSalt)
	out.Auth.JWTSecret = redact(c.Auth.JWTSecret)
	out.Database.Password = redact(c.Database.Password)
	if u, err := url.Parse(c.Mongo.URI); err == nil {
		if u.User != nil {
			out.Mongo.URI = u.Redacted()
		}
	} else if strings.Contains(c.Mongo.URI, "@") {
		// multi-host seed lists do not parse as URLs
		out.Mongo.URI = redactedValue
	}
	return out
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return redactedValue
}
