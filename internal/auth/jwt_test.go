package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	ti, err := NewTokenIssuer(nil, time.Hour)
	require.NoError(t, err)
	return ti
}

// TestGenerateJWT тестирует создание JWT токена
func TestGenerateJWT(t *testing.T) {
	ti := newIssuer(t)
	token, expires, err := ti.Generate(&User{ID: 1, Username: "testuser"})
	require.NoError(t, err, "Ошибка генерации JWT")
	assert.Equal(t, 2, strings.Count(token, "."), "Неверный формат JWT токена")
	assert.True(t, expires.After(time.Now()), "Срок действия должен быть в будущем")
}

// TestValidateJWT тестирует валидацию JWT токена
func TestValidateJWT(t *testing.T) {
	ti := newIssuer(t)
	user := &User{ID: 42, Username: "validuser", IsAdmin: true}
	token, _, err := ti.Generate(user)
	require.NoError(t, err)

	claims, err := ti.Validate(token)
	require.NoError(t, err, "Валидный токен определен как недействительный")
	assert.Equal(t, user.ID, claims.PlayerID)
	assert.True(t, claims.IsAdmin())
	assert.Equal(t, "validuser", claims.Username)
}

// TestValidateInvalidJWT тестирует валидацию недействительного JWT
func TestValidateInvalidJWT(t *testing.T) {
	ti := newIssuer(t)
	for _, invalid := range []string{
		"invalid.token.here",
		"",
		"not.a.jwt",
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
	} {
		_, err := ti.Validate(invalid)
		assert.ErrorIs(t, err, ErrInvalidToken, "Недействительный токен %q прошел валидацию", invalid)
	}

	// Токен другого издателя не принимается
	other := newIssuer(t)
	token, _, err := other.Generate(&User{ID: 7, Username: "x"})
	require.NoError(t, err)
	_, err = ti.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// TestGenerateSecureSecret тестирует генерацию секретного ключа
func TestGenerateSecureSecret(t *testing.T) {
	secret1, err := GenerateSecureSecret()
	require.NoError(t, err)
	secret2, err := GenerateSecureSecret()
	require.NoError(t, err)

	assert.NotEqual(t, secret1, secret2, "Два последовательных вызова вернули одинаковый результат")
	assert.GreaterOrEqual(t, len(secret1), 40, "Секрет слишком короткий")

	_, err = NewTokenIssuerFromBase64(secret1, 0)
	assert.NoError(t, err)

	for _, invalid := range []string{"too-short", "invalid-base64-@#$%"} {
		_, err := NewTokenIssuerFromBase64(invalid, 0)
		assert.Error(t, err, "Недействительный секрет %q был принят", invalid)
	}
}
