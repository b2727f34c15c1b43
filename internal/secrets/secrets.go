// Package secrets generates the key material a production deployment needs:
// application session keys, token salts, JWT signing secrets and a database
// password.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// DefaultAppKeys is the number of session keys generated for APP_KEYS.
	DefaultAppKeys = 4

	secretBytes   = 32
	passwordBytes = 16
)

// ErrInvalidKeyCount is returned when fewer than one app key is requested.
var ErrInvalidKeyCount = errors.New("at least one app key is required")

// Bundle holds one generated set of deployment secrets.
type Bundle struct {
	AppKeys           []string
	APITokenSalt      string
	AdminJWTSecret    string
	TransferTokenSalt string
	JWTSecret         string
	DatabasePassword  string
}

// Pair is a single environment variable assignment.
type Pair struct {
	Key   string
	Value string
}

// Generate draws every secret from source. Pass crypto/rand.Reader outside tests.
func Generate(source io.Reader, appKeys int) (Bundle, error) {
	if appKeys < 1 {
		return Bundle{}, ErrInvalidKeyCount
	}
	if source == nil {
		source = rand.Reader
	}

	var (
		b   Bundle
		err error
	)
	b.AppKeys = make([]string, appKeys)
	for i := range b.AppKeys {
		if b.AppKeys[i], err = base64Secret(source); err != nil {
			return Bundle{}, err
		}
	}
	for _, field := range []*string{&b.APITokenSalt, &b.AdminJWTSecret, &b.TransferTokenSalt, &b.JWTSecret} {
		if *field, err = base64Secret(source); err != nil {
			return Bundle{}, err
		}
	}

	buf := make([]byte, passwordBytes)
	if _, err := io.ReadFull(source, buf); err != nil {
		return Bundle{}, fmt.Errorf("read random bytes: %w", err)
	}
	b.DatabasePassword = hex.EncodeToString(buf)

	return b, nil
}

func base64Secret(source io.Reader) (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := io.ReadFull(source, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Pairs lists the secrets in the order they are presented to operators.
func (b Bundle) Pairs() []Pair {
	return []Pair{
		{Key: "APP_KEYS", Value: strings.Join(b.AppKeys, ",")},
		{Key: "API_TOKEN_SALT", Value: b.APITokenSalt},
		{Key: "ADMIN_JWT_SECRET", Value: b.AdminJWTSecret},
		{Key: "TRANSFER_TOKEN_SALT", Value: b.TransferTokenSalt},
		{Key: "JWT_SECRET", Value: b.JWTSecret},
		{Key: "DATABASE_PASSWORD", Value: b.DatabasePassword},
	}
}

// WriteEnv writes the bundle in .env format, readable by config.Load.
func (b Bundle) WriteEnv(w io.Writer) error {
	env := make(map[string]string, 6)
	for _, p := range b.Pairs() {
		env[p.Key] = p.Value
	}
	content, err := godotenv.Marshal(env)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, content+"\n")
	return err
}
