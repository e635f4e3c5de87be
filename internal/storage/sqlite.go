// Package storage - долговременное хранилище снимков сессии поверх sqlite.
// Снимок хранится одним версионированным JSON-документом; миграций нет -
// несовместимый документ отбрасывается целиком при загрузке.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tale-weaver/internal/domain"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// snapshotKey версионирует схему снимка: смена формата = смена ключа.
const snapshotKey = "tale-weaver:v1"

const createTableQuery = `
CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SnapshotRepository реализует session.SnapshotStore.
type SnapshotRepository struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSnapshotRepository открывает (при необходимости создавая) базу по пути path.
func NewSnapshotRepository(path string, log *zap.Logger) (*SnapshotRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть базу снимков '%s': %w", path, err)
	}
	// Однопользовательское хранилище, одного соединения достаточно
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableQuery); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу снимков: %w", err)
	}

	log.Info("Хранилище снимков готово", zap.String("path", path), zap.String("key", snapshotKey))
	return &SnapshotRepository{db: db, log: log}, nil
}

// Save санирует и записывает снимок, затирая предыдущий.
func (r *SnapshotRepository) Save(snap *domain.Snapshot) error {
	payload, err := json.Marshal(Sanitize(snap))
	if err != nil {
		return fmt.Errorf("не удалось сериализовать снимок: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO snapshots (key, payload, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		snapshotKey, payload)
	if err != nil {
		return fmt.Errorf("не удалось записать снимок: %w", err)
	}
	return nil
}

// Load возвращает последний снимок. Отсутствующий, нечитаемый или битый
// снимок - это "снимка нет" (nil, nil): холодный старт никогда не падает
// из-за хранилища.
func (r *SnapshotRepository) Load() (*domain.Snapshot, error) {
	var payload []byte
	err := r.db.QueryRow(`SELECT payload FROM snapshots WHERE key = ?`, snapshotKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Warn("Не удалось прочитать снимок, стартуем без него", zap.Error(err))
		return nil, nil
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		r.log.Warn("Снимок поврежден, отбрасываем целиком", zap.Error(err))
		return nil, nil
	}
	return &snap, nil
}

// Clear удаляет сохраненный снимок.
func (r *SnapshotRepository) Clear() error {
	if _, err := r.db.Exec(`DELETE FROM snapshots WHERE key = ?`, snapshotKey); err != nil {
		return fmt.Errorf("не удалось удалить снимок: %w", err)
	}
	return nil
}

// Close закрывает базу.
func (r *SnapshotRepository) Close() error {
	return r.db.Close()
}
