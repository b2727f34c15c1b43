package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingToken = errors.New("missing or malformed bearer token")

// tokenVerifier checks HS256 bearer tokens against a set of shared secrets.
type tokenVerifier struct {
	secrets [][]byte
	parser  *jwt.Parser
}

// newTokenVerifier returns nil when no secret is configured, which disables
// bearer authentication.
func newTokenVerifier(secrets ...string) *tokenVerifier {
	v := &tokenVerifier{
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
	for _, secret := range secrets {
		if secret = strings.TrimSpace(secret); secret != "" {
			v.secrets = append(v.secrets, []byte(secret))
		}
	}
	if len(v.secrets) == 0 {
		return nil
	}
	return v
}

func (v *tokenVerifier) verify(raw string) (jwt.MapClaims, error) {
	var lastErr error
	for _, secret := range v.secrets {
		claims := jwt.MapClaims{}
		token, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err == nil && token.Valid {
			return claims, nil
		}
		lastErr = err
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}
	if lastErr == nil {
		lastErr = jwt.ErrTokenInvalidClaims
	}
	return nil, lastErr
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

func authMiddleware(verifier *tokenVerifier, next http.Handler) http.Handler {
	if verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err == nil {
			_, err = verifier.verify(raw)
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			writeError(w, http.StatusUnauthorized, "Missing or invalid credentials", map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}
