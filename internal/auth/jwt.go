package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the lifetime of tokens minted by the console.
const DefaultTTL = 15 * time.Minute

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

func GenerateToken(secret string, userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	return generateAt(secret, userID, role, time.Now(), ttl)
}

func generateAt(secret string, userID uuid.UUID, role string, now time.Time, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ServiceTokenSource mints the token the background poller uses against the
// order API. The token is cached and minted again shortly before it expires.
type ServiceTokenSource struct {
	secret string
	userID uuid.UUID
	role   string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewServiceTokenSource(secret string, userID uuid.UUID, role string, ttl time.Duration) *ServiceTokenSource {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ServiceTokenSource{secret: secret, userID: userID, role: role, ttl: ttl, now: time.Now}
}

// Token returns a valid token, minting a new one when the cached token has
// less than a fifth of its lifetime left.
func (s *ServiceTokenSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.expires.Add(-s.ttl/5)) {
		return s.token, nil
	}

	token, err := generateAt(s.secret, s.userID, s.role, now, s.ttl)
	if err != nil {
		return "", fmt.Errorf("mint service token: %w", err)
	}
	s.token = token
	s.expires = now.Add(s.ttl)
	return token, nil
}
