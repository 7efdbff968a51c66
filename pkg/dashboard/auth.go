package dashboard

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig controls the dashboard's single protected endpoint: a
// manual sweep trigger that drops stored events older than a max age.
// Trimmed from the teacher's API-key/OAuth/JWT three-way to JWT bearer
// tokens only, since this system has exactly one protected endpoint, not
// a multi-key admin surface; the other POST endpoints are not gated.
type AuthConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Secret      string        `yaml:"secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
	Issuer      string        `yaml:"issuer"`
}

// AuthManager issues and validates the bearer tokens that gate write
// access to the dashboard API.
type AuthManager struct {
	config AuthConfig
	secret []byte
}

// NewAuthManager builds an AuthManager, generating a random secret when
// none is configured.
func NewAuthManager(config AuthConfig) (*AuthManager, error) {
	am := &AuthManager{config: config}
	if !config.Enabled {
		return am, nil
	}

	if config.Secret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		am.secret = secret
	} else {
		am.secret = []byte(config.Secret)
	}
	return am, nil
}

// GenerateToken issues a signed bearer token for an operator.
func (am *AuthManager) GenerateToken(subject string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(am.config.TokenExpiry).Unix(),
		"iss": am.config.Issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(am.secret)
}

func (am *AuthManager) authenticate(r *http.Request) error {
	if !am.config.Enabled {
		return nil
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return fmt.Errorf("missing or malformed bearer token")
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return am.secret, nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("invalid bearer token: %w", err)
	}
	return nil
}

// RequireAuth wraps a handler with bearer-token enforcement.
func (am *AuthManager) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := am.authenticate(r); err != nil {
			http.Error(w, fmt.Sprintf("authentication failed: %v", err), http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
