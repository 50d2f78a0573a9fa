// Package db provides the persisted queue partition repository.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/models"
)

// PartitionRepository stores each (user, organization) queue partition as a
// single row holding the JSON-serialized ordered item array. Concurrent
// writers to the same partition row are last-writer-wins; the queue store is
// the only component that touches this table.
type PartitionRepository struct {
	db *sql.DB
}

// NewPartitionRepository creates a new PartitionRepository.
func NewPartitionRepository(db *sql.DB) *PartitionRepository {
	return &PartitionRepository{db: db}
}

// Load reads the item array for a partition key. A missing partition is not
// an error: it returns an empty slice.
func (r *PartitionRepository) Load(key string) ([]*models.QueueItem, error) {
	var raw string
	err := r.db.QueryRow(
		`SELECT items FROM sync_queue_partitions WHERE partition_key = ?`, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue partition %q: %w", key, err)
	}

	var items []*models.QueueItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("failed to decode queue partition %q: %w", key, err)
	}
	return items, nil
}

// Save writes the full item array for a partition key, replacing any
// previous value.
func (r *PartitionRepository) Save(key string, items []*models.QueueItem) error {
	if items == nil {
		items = []*models.QueueItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fserrors.Wrap(fserrors.ErrStorageWrite, "failed to serialize queue partition", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO sync_queue_partitions (partition_key, items, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(partition_key) DO UPDATE SET
			items = excluded.items,
			updated_at = excluded.updated_at
	`, key, string(raw), time.Now().Unix())
	if err != nil {
		return fserrors.Wrap(fserrors.ErrStorageWrite, "failed to persist queue partition", err)
	}
	return nil
}

// Delete removes a partition row entirely. No-op if absent.
func (r *PartitionRepository) Delete(key string) error {
	if _, err := r.db.Exec(`DELETE FROM sync_queue_partitions WHERE partition_key = ?`, key); err != nil {
		return fserrors.Wrap(fserrors.ErrStorageWrite, "failed to delete queue partition", err)
	}
	return nil
}

// Keys returns all stored partition keys.
func (r *PartitionRepository) Keys() ([]string, error) {
	rows, err := r.db.Query(`SELECT partition_key FROM sync_queue_partitions ORDER BY partition_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// SaveRefreshToken stores the encrypted session refresh token.
func (r *PartitionRepository) SaveRefreshToken(encrypted string) error {
	_, err := r.db.Exec(`
		INSERT INTO session_tokens (id, refresh_token_encrypted, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			refresh_token_encrypted = excluded.refresh_token_encrypted,
			updated_at = excluded.updated_at
	`, encrypted, time.Now().Unix())
	if err != nil {
		return fserrors.Wrap(fserrors.ErrStorageWrite, "failed to persist refresh token", err)
	}
	return nil
}

// LoadRefreshToken reads the encrypted session refresh token. Returns an
// empty string when none is stored.
func (r *PartitionRepository) LoadRefreshToken() (string, error) {
	var encrypted string
	err := r.db.QueryRow(`SELECT refresh_token_encrypted FROM session_tokens WHERE id = 1`).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return encrypted, nil
}
