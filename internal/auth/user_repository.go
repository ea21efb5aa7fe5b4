package auth

import "errors"

// UserRepository defines operations for user persistence and retrieval.
// Реализации: память (тесты и одиночный сервер), MariaDB, MongoDB.
type UserRepository interface {
	// GetUserByUsername returns a user by username (case-insensitive). If the user
	// is not found, (nil, ErrUserNotFound) should be returned.
	GetUserByUsername(username string) (*User, error)

	// GetUserByID returns a user by ID. If the user is not found, (nil, ErrUserNotFound) should be returned.
	GetUserByID(id uint64) (*User, error)

	// CreateUser сохраняет подготовленную NewUser учётную запись и присваивает ей ID.
	// Implementations must enforce unique usernames and return ErrUserExists on
	// conflict.
	CreateUser(user *User) error

	// UpdateLastLogin отмечает успешный вход
	UpdateLastLogin(id uint64) error
}

// Domain-level errors returned by the repository.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Register создаёт учётную запись с паролем
func Register(repo UserRepository, username, password string, isAdmin bool) (*User, error) {
	user, err := NewUser(username, password, isAdmin)
	if err != nil {
		return nil, err
	}
	if err := repo.CreateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// ValidateCredentials проверяет пару имя/пароль по bcrypt-хэшу.
// Несуществующий пользователь и неверный пароль неразличимы для вызывающего.
func ValidateCredentials(repo UserRepository, username, password string) (*User, error) {
	user, err := repo.GetUserByUsername(username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	_ = repo.UpdateLastLogin(user.ID)
	return user, nil
}
