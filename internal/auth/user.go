package auth

import (
	"fmt"
	"time"
)

// User учётная запись игрока или администратора.
//
// PasswordHash (bcrypt) проверяет вход в админ-API, PasswordKey (pbkdf2 с
// PasswordSalt) используется в рукопожатии игрового протокола: клиент
// выводит тот же ключ из пароля и отвечает на вызов сервера.
type User struct {
	ID           uint64    // Неизменяемый идентификатор
	Username     string    // Уникальное имя (без учёта регистра)
	PasswordHash string    // bcrypt
	PasswordSalt []byte    // соль ключа рукопожатия
	PasswordKey  []byte    // pbkdf2(password, salt)
	CreatedAt    time.Time // Время создания
	LastLogin    time.Time // Последний успешный вход
	IsAdmin      bool
}

// NewUser готовит учётную запись: bcrypt-хэш и ключ рукопожатия
func NewUser(username, password string, isAdmin bool) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("хэш пароля: %w", err)
	}
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &User{
		Username:     normalize(username),
		PasswordHash: hash,
		PasswordSalt: salt,
		PasswordKey:  DeriveKey(password, salt),
		CreatedAt:    now,
		LastLogin:    now,
		IsAdmin:      isAdmin,
	}, nil
}

// GetRole роль для JWT
func (u *User) GetRole() string {
	if u.IsAdmin {
		return "admin"
	}
	return "player"
}
