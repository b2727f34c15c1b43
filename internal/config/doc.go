// Package config loads runtime configuration from multiple sources (YAML files,
// environment variables, an optional .env file, CLI flags) with precedence:
// CLI flags > Environment variables > YAML config > Defaults. It resolves the
// database client, the security header policy and the CORS policy from those
// settings and exposes them as strongly typed values.
package config
