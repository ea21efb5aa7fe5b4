package auth

import (
	"strings"
	"sync"
	"time"
)

// MemoryUserRepo is a threadsafe in-memory storage useful for tests & single-instance servers.
// ID counter starts from 1.
type MemoryUserRepo struct {
	mu     sync.RWMutex
	users  map[string]*User // key = lowercase(username)
	byID   map[uint64]*User
	nextID uint64
}

// NewMemoryUserRepo пустой репозиторий
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:  make(map[string]*User),
		byID:   make(map[uint64]*User),
		nextID: 1,
	}
}

// GetUserByUsername retrieves user by case-insensitive username.
func (r *MemoryUserRepo) GetUserByUsername(username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[normalize(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetUserByID retrieves user by ID.
func (r *MemoryUserRepo) GetUserByID(id uint64) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// CreateUser inserts a new user if username not present.
func (r *MemoryUserRepo) CreateUser(user *User) error {
	key := normalize(user.Username)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[key]; exists {
		return ErrUserExists
	}
	user.ID = r.nextID
	r.nextID++
	r.users[key] = user
	r.byID[user.ID] = user
	return nil
}

// UpdateLastLogin отмечает вход
func (r *MemoryUserRepo) UpdateLastLogin(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	user.LastLogin = time.Now()
	return nil
}

// Helper to normalise usernames.
func normalize(username string) string {
	return strings.ToLower(username)
}
