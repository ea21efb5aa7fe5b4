package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// NonceSize длина одноразового числа вызова
const NonceSize = 16

// ErrBadChallenge вызов сервера имеет неверную длину
var ErrBadChallenge = errors.New("некорректный вызов рукопожатия")

// Challenge вызов рукопожатия: соль учётной записи и одноразовое число.
// По сети передаётся склеенным в одно поле соли.
type Challenge struct {
	Salt  []byte
	Nonce []byte
}

// NewChallenge вызов для учётной записи
func NewChallenge(u *User) (Challenge, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Challenge{}, fmt.Errorf("генерация nonce: %w", err)
	}
	return Challenge{Salt: u.PasswordSalt, Nonce: nonce}, nil
}

// Encode сетевое представление
func (c Challenge) Encode() []byte {
	out := make([]byte, 0, len(c.Salt)+len(c.Nonce))
	out = append(out, c.Salt...)
	return append(out, c.Nonce...)
}

// ParseChallenge разбирает сетевое представление вызова
func ParseChallenge(data []byte) (Challenge, error) {
	if len(data) != SaltSize+NonceSize {
		return Challenge{}, ErrBadChallenge
	}
	return Challenge{
		Salt:  append([]byte(nil), data[:SaltSize]...),
		Nonce: append([]byte(nil), data[SaltSize:]...),
	}, nil
}

// Response HMAC-SHA3 одноразового числа на ключе рукопожатия
func (c Challenge) Response(key []byte) []byte {
	mac := hmac.New(sha3.New256, key)
	mac.Write(c.Nonce)
	return mac.Sum(nil)
}

// Verify сверяет ответ клиента с ключом учётной записи
func (c Challenge) Verify(u *User, response []byte) bool {
	return hmac.Equal(c.Response(u.PasswordKey), response)
}

// RespondToChallenge клиентская сторона: ключ из пароля и ответ на вызов
func RespondToChallenge(password string, data []byte) ([]byte, error) {
	c, err := ParseChallenge(data)
	if err != nil {
		return nil, err
	}
	return c.Response(DeriveKey(password, c.Salt)), nil
}
