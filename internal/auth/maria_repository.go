package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MariaConfig содержит настройки подключения к MariaDB
type MariaConfig struct {
	Host     string // например, localhost
	Port     int    // например, 3306
	Database string // например, tileverse
	Username string // пользователь БД
	Password string // пароль БД
}

// MariaUserRepo реализует UserRepository для MariaDB
type MariaUserRepo struct {
	db *sql.DB
}

// код ошибки MySQL для нарушения уникального ключа
const mysqlDuplicateEntry = 1062

// NewMariaUserRepo создает новое подключение к MariaDB и возвращает репозиторий
func NewMariaUserRepo(cfg MariaConfig) (*MariaUserRepo, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.Database == "" {
		cfg.Database = "tileverse"
	}

	dsnCfg := mysql.NewConfig()
	dsnCfg.User = cfg.Username
	dsnCfg.Passwd = cfg.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsnCfg.DBName = cfg.Database
	dsnCfg.ParseTime = true
	dsnCfg.Loc = time.Local
	dsnCfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	repo := &MariaUserRepo{db: db}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}

	return repo, nil
}

func (m *MariaUserRepo) createTables() error {
	createUsersTable := `
	CREATE TABLE IF NOT EXISTS accounts (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(50) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		password_salt VARBINARY(32) NOT NULL,
		password_key VARBINARY(64) NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_login TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_username (username)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createUsersTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу accounts: %w", err)
	}
	return nil
}

const selectUser = `SELECT id, username, password_hash, password_salt, password_key, is_admin, created_at, last_login FROM accounts`

func scanUser(row *sql.Row) (*User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.PasswordSalt,
		&user.PasswordKey,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.LastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}
	return &user, nil
}

// GetUserByUsername получает пользователя по имени
func (m *MariaUserRepo) GetUserByUsername(username string) (*User, error) {
	return scanUser(m.db.QueryRow(selectUser+` WHERE username = ?`, strings.ToLower(username)))
}

// GetUserByID получает пользователя по идентификатору
func (m *MariaUserRepo) GetUserByID(id uint64) (*User, error) {
	return scanUser(m.db.QueryRow(selectUser+` WHERE id = ?`, id))
}

// CreateUser создает нового пользователя
func (m *MariaUserRepo) CreateUser(user *User) error {
	query := `INSERT INTO accounts (username, password_hash, password_salt, password_key, is_admin, created_at, last_login)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := m.db.Exec(query, normalize(user.Username), user.PasswordHash, user.PasswordSalt,
		user.PasswordKey, user.IsAdmin, user.CreatedAt, user.LastLogin)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return ErrUserExists
		}
		return fmt.Errorf("ошибка при создании пользователя: %w", err)
	}

	userID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("ошибка при получении ID пользователя: %w", err)
	}
	user.ID = uint64(userID)
	return nil
}

// UpdateLastLogin обновляет время последнего входа пользователя
func (m *MariaUserRepo) UpdateLastLogin(userID uint64) error {
	_, err := m.db.Exec(`UPDATE accounts SET last_login = CURRENT_TIMESTAMP WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("ошибка при обновлении времени входа: %w", err)
	}
	return nil
}

// Close закрывает подключение к БД
func (m *MariaUserRepo) Close() error {
	return m.db.Close()
}
