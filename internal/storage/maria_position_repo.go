package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MariaPositionRepo реализует PositionRepo для MariaDB/MySQL.
// Использует таблицу player_positions.
type MariaPositionRepo struct {
	db *sql.DB
}

const upsertPositionQuery = `
	INSERT INTO player_positions (player_uuid, world, x, y)
	VALUES (?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		world = VALUES(world),
		x = VALUES(x),
		y = VALUES(y),
		updated_at = CURRENT_TIMESTAMP
`

// NewMariaPositionRepo подключается по dsn (user:pass@tcp(host:port)/dbname?parseTime=true)
// и создает таблицу, если её нет.
func NewMariaPositionRepo(dsn string) (*MariaPositionRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaPositionRepo{db: db}
	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *MariaPositionRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS player_positions (
			player_uuid CHAR(36)     PRIMARY KEY,
			world       VARCHAR(128) NOT NULL,
			x           DOUBLE       NOT NULL,
			y           DOUBLE       NOT NULL,
			updated_at  TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			            ON UPDATE    CURRENT_TIMESTAMP,
			INDEX idx_world (world)
		) ENGINE=InnoDB
	`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы player_positions: %w", err)
	}
	return nil
}

// Save INSERT ... ON DUPLICATE KEY UPDATE
func (r *MariaPositionRepo) Save(ctx context.Context, pos PlayerPosition) error {
	if err := pos.validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, upsertPositionQuery, pos.PlayerUUID.String(), pos.World, pos.Position.X, pos.Position.Y)
	if err != nil {
		return fmt.Errorf("ошибка сохранения позиции игрока %s: %w", pos.PlayerUUID, err)
	}
	return nil
}

func (r *MariaPositionRepo) Load(ctx context.Context, player uuid.UUID) (PlayerPosition, bool, error) {
	if player == uuid.Nil {
		return PlayerPosition{}, false, ErrInvalidPlayer
	}
	query := `SELECT world, x, y, updated_at FROM player_positions WHERE player_uuid = ?`

	pos := PlayerPosition{PlayerUUID: player}
	err := r.db.QueryRowContext(ctx, query, player.String()).
		Scan(&pos.World, &pos.Position.X, &pos.Position.Y, &pos.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PlayerPosition{}, false, nil
	}
	if err != nil {
		return PlayerPosition{}, false, fmt.Errorf("ошибка загрузки позиции игрока %s: %w", player, err)
	}
	return pos, true, nil
}

func (r *MariaPositionRepo) Delete(ctx context.Context, player uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM player_positions WHERE player_uuid = ?`, player.String())
	if err != nil {
		return fmt.Errorf("ошибка удаления позиции игрока %s: %w", player, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("позиция игрока %s не найдена", player)
	}
	return nil
}

// BatchSave сохраняет позиции в одной транзакции
func (r *MariaPositionRepo) BatchSave(ctx context.Context, positions []PlayerPosition) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertPositionQuery)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for _, pos := range positions {
		if err := pos.validate(); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, pos.PlayerUUID.String(), pos.World, pos.Position.X, pos.Position.Y); err != nil {
			return fmt.Errorf("ошибка сохранения позиции игрока %s в batch: %w", pos.PlayerUUID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Close закрывает соединение с базой данных.
func (r *MariaPositionRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
