package config

import (
	"fmt"
	"strings"
	"time"
)

// Supported database clients.
const (
	ClientPostgres = "postgres"
	ClientSQLite   = "sqlite"
)

// DatabaseConfig describes the connection used for the local user store.
// Only the fields relevant to the resolved Client are used.
type DatabaseConfig struct {
	Client   string `yaml:"client"`
	Filename string `yaml:"filename,omitempty"`

	Host                  string `yaml:"host,omitempty"`
	Port                  int    `yaml:"port,omitempty"`
	Name                  string `yaml:"name,omitempty"`
	User                  string `yaml:"user,omitempty"`
	Password              string `yaml:"password,omitempty"`
	SSL                   bool   `yaml:"ssl"`
	SSLRejectUnauthorized bool   `yaml:"ssl_reject_unauthorized"`
	Schema                string `yaml:"schema,omitempty"`

	Pool  PoolConfig `yaml:"pool"`
	Debug bool       `yaml:"debug"`
}

// PoolConfig holds connection pool bounds.
type PoolConfig struct {
	Min            int           `yaml:"min"`
	Max            int           `yaml:"max"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// IsSQLite reports whether the SQLite client is selected.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Client == ClientSQLite
}

// Address returns host:port for network clients.
func (d DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

func defaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Client:   ClientPostgres,
		Filename: ".tmp/data.db",
		Host:     "localhost",
		Port:     5432,
		Name:     "strapi_local",
		User:     "strapidev",
		Schema:   "public",
		Pool: PoolConfig{
			Min:            2,
			Max:            10,
			AcquireTimeout: 60 * time.Second,
			IdleTimeout:    30 * time.Second,
		},
	}
}

// normalizeClient maps the configured client name onto a supported client.
// Anything that is not SQLite is served by PostgreSQL.
func normalizeClient(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqlite", "sqlite3", "better-sqlite3":
		return ClientSQLite
	default:
		return ClientPostgres
	}
}

func applyDatabaseEnv(env *envParser, d *DatabaseConfig) {
	if client, ok := envString("DATABASE_CLIENT"); ok {
		d.Client = client
	}
	if filename, ok := envString("DATABASE_FILENAME"); ok {
		d.Filename = filename
	}
	if host, ok := envString("DATABASE_HOST"); ok {
		d.Host = host
	}
	if port, ok := env.integer("DATABASE_PORT"); ok {
		d.Port = port
	}
	if name, ok := envString("DATABASE_NAME"); ok {
		d.Name = name
	}
	if user, ok := envString("DATABASE_USERNAME"); ok {
		d.User = user
	}
	if password, ok := envString("DATABASE_PASSWORD"); ok {
		d.Password = password
	}
	if ssl, ok := env.boolean("DATABASE_SSL"); ok {
		d.SSL = ssl
	}
	if reject, ok := env.boolean("DATABASE_SSL_REJECT_UNAUTHORIZED"); ok {
		d.SSLRejectUnauthorized = reject
	}
	if schema, ok := envString("DATABASE_SCHEMA"); ok {
		d.Schema = schema
	}
	if poolMin, ok := env.integer("DATABASE_POOL_MIN"); ok {
		d.Pool.Min = poolMin
	}
	if poolMax, ok := env.integer("DATABASE_POOL_MAX"); ok {
		d.Pool.Max = poolMax
	}
	if ms, ok := env.integer("DATABASE_CONNECTION_TIMEOUT"); ok && ms >= 0 {
		d.Pool.AcquireTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms, ok := env.integer("DATABASE_IDLE_TIMEOUT"); ok && ms >= 0 {
		d.Pool.IdleTimeout = time.Duration(ms) * time.Millisecond
	}
	if debug, ok := env.boolean("DATABASE_DEBUG"); ok {
		d.Debug = debug
	}
}

func validateDatabase(d DatabaseConfig) error {
	if d.IsSQLite() {
		if strings.TrimSpace(d.Filename) == "" {
			return fmt.Errorf("DATABASE_FILENAME cannot be empty for the sqlite client")
		}
		return nil
	}
	if d.Host == "" {
		return fmt.Errorf("DATABASE_HOST cannot be empty for the postgres client")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("DATABASE_PORT must be between 1 and 65535, got %d", d.Port)
	}
	if strings.TrimSpace(d.User) == "" {
		return fmt.Errorf("DATABASE_USERNAME cannot be empty for the postgres client")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("DATABASE_NAME cannot be empty for the postgres client")
	}
	if d.Pool.Min < 0 || d.Pool.Max <= 0 {
		return fmt.Errorf("database pool bounds must be positive (min %d, max %d)", d.Pool.Min, d.Pool.Max)
	}
	if d.Pool.Min > d.Pool.Max {
		return fmt.Errorf("DATABASE_POOL_MIN (%d) cannot exceed DATABASE_POOL_MAX (%d)", d.Pool.Min, d.Pool.Max)
	}
	return nil
}
