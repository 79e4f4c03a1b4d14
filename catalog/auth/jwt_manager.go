package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
)

type JwtManager struct {
	auth *jwtauth.JWTAuth
}

func NewJwtManager(secret []byte) *JwtManager {
	return &JwtManager{auth: jwtauth.New("HS256", secret, nil)}
}

// Verifier parses and validates the request token if one is present. It
// never rejects requests itself, principal resolution downstream decides
// how to treat a missing or invalid token.
func (m *JwtManager) Verifier() func(http.Handler) http.Handler {
	return jwtauth.Verifier(m.auth)
}

const userIdKey = "user_id"

const sessionDuration = 30 * time.Minute

func (m *JwtManager) CreateUserJwt(userId string) (string, error) {
	claims := map[string]interface{}{
		userIdKey: userId,
		"exp":     time.Now().Add(sessionDuration),
	}
	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating jwt", "error", err)
		return "", fmt.Errorf("error generating access token: %w", err)
	}
	return token, nil
}
