package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken токен не прошёл проверку
var ErrInvalidToken = errors.New("invalid token")

// Claims represents JWT claims
type Claims struct {
	PlayerID uint64 `json:"player_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin роль администратора
func (c *Claims) IsAdmin() bool { return c.Role == "admin" }

// TokenIssuer выпускает и проверяет JWT админ-API
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewTokenIssuer создаёт издателя. Пустой секрет заменяется случайным,
// тогда токены не переживают перезапуск.
func NewTokenIssuer(secret []byte, expiry time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("генерация JWT секрета: %w", err)
		}
	}
	if len(secret) < 32 {
		return nil, errors.New("secret key must be at least 32 bytes")
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, expiry: expiry, issuer: "tileverse"}, nil
}

// NewTokenIssuerFromBase64 секрет из конфигурации
func NewTokenIssuerFromBase64(secret string, expiry time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return NewTokenIssuer(nil, expiry)
	}
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, err
	}
	return NewTokenIssuer(decoded, expiry)
}

// Generate creates a signed JWT token for the given user
func (ti *TokenIssuer) Generate(user *User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ti.expiry)
	claims := &Claims{
		PlayerID: user.ID,
		Username: user.Username,
		Role:     user.GetRole(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    ti.issuer,
			Subject:   user.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ошибка подписи JWT токена: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate checks token validity and returns its claims
func (ti *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный алгоритм подписи: %v", token.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithIssuer(ti.issuer))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateSecureSecret generates a new secure secret key
func GenerateSecureSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
