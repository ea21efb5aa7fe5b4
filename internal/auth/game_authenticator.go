package auth

import (
	"errors"
	"fmt"

	"github.com/annel0/tileverse/internal/logging"
)

// Причины отказа, уходящие клиенту в ConnectFailure
var (
	ErrAccountRequired = errors.New("сервер требует учётную запись")
	ErrAuthFailed      = errors.New("неверная учётная запись или пароль")
)

// GameAuthenticator проверяет учётные записи в рукопожатии игрового протокола.
// Ход: Begin по имени из ClientConnect выдаёт вызов, Complete сверяет ответ.
type GameAuthenticator struct {
	repo     UserRepository
	required bool
	logger   *logging.Logger
}

// NewGameAuthenticator создает новый аутентификатор. При required == false
// подключения без имени учётной записи пропускаются без вызова.
func NewGameAuthenticator(repo UserRepository, required bool) *GameAuthenticator {
	return &GameAuthenticator{repo: repo, required: required, logger: logging.GetNetworkLogger()}
}

// PendingAuth незавершённое рукопожатие
type PendingAuth struct {
	User      *User
	Challenge Challenge
}

// Begin начинает проверку. Возвращает nil без ошибки, если вызов не нужен.
func (ga *GameAuthenticator) Begin(account string) (*PendingAuth, error) {
	if account == "" {
		if ga.required {
			return nil, ErrAccountRequired
		}
		return nil, nil
	}
	if ga.repo == nil {
		return nil, ErrAuthFailed
	}
	user, err := ga.repo.GetUserByUsername(account)
	if errors.Is(err, ErrUserNotFound) {
		ga.logger.Warn("❌ Неизвестная учётная запись %s", account)
		return nil, ErrAuthFailed
	}
	if err != nil {
		return nil, fmt.Errorf("поиск учётной записи: %w", err)
	}
	ch, err := NewChallenge(user)
	if err != nil {
		return nil, err
	}
	return &PendingAuth{User: user, Challenge: ch}, nil
}

// Complete сверяет ответ клиента
func (ga *GameAuthenticator) Complete(p *PendingAuth, response []byte) (*User, error) {
	if !p.Challenge.Verify(p.User, response) {
		ga.logger.Warn("❌ Неверный ответ на вызов для %s", p.User.Username)
		return nil, ErrAuthFailed
	}
	_ = ga.repo.UpdateLastLogin(p.User.ID)
	ga.logger.Info("✅ Учётная запись %s подтверждена", p.User.Username)
	return p.User, nil
}
