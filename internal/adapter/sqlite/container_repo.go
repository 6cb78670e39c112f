package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vertextoedge/diskguard/internal/domain"
)

// SaveContainers upserts every container in one transaction
func (s *Store) SaveContainers(ctx context.Context, containers []domain.BlockContainer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO containers (id, dir, state, live_bytes, max_bytes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			live_bytes = excluded.live_bytes,
			max_bytes = excluded.max_bytes,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range containers {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.Dir, string(c.State), int64(c.LiveBytes), int64(c.MaxBytes),
			c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to save container %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// ListContainers returns all stored containers ordered by creation time
func (s *Store) ListContainers(ctx context.Context) ([]domain.BlockContainer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dir, state, live_bytes, max_bytes, created_at, updated_at
		FROM containers
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var containers []domain.BlockContainer
	for rows.Next() {
		var (
			c                    domain.BlockContainer
			state                string
			liveBytes, maxBytes  int64
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&c.ID, &c.Dir, &state, &liveBytes, &maxBytes, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.State = domain.ContainerState(state)
		c.LiveBytes = uint64(liveBytes)
		c.MaxBytes = uint64(maxBytes)
		c.CreatedAt = time.Unix(0, createdAt)
		c.UpdatedAt = time.Unix(0, updatedAt)
		containers = append(containers, c)
	}

	return containers, rows.Err()
}

// DeleteContainer removes a retired container
func (s *Store) DeleteContainer(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM containers WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete container %s: %w", id, domain.ErrContainerNotFound)
	}
	return nil
}

// SetMeta stores a bookkeeping value
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixNano())
	return err
}

// GetMeta returns a bookkeeping value, or "" if it was never set
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}
