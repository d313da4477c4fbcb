package store

import (
	"context"
	"fmt"
)

// ConfigStore is a simple key/value table for system-level settings that
// outlive a process restart (e.g. paper-trading initial capital), mirroring
// the teacher's GetSystemConfig/SetSystemConfig pattern.
type ConfigStore struct{ db *DB }

// NewConfigStore builds a ConfigStore.
func NewConfigStore(db *DB) *ConfigStore { return &ConfigStore{db: db} }

// Get returns the stored value for key, or ErrNotFound.
func (s *ConfigStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM system_config WHERE key = ?`, key)
	if isNoRows(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get system config %q: %w", key, err)
	}
	return value, nil
}

// Set upserts a key/value pair.
func (s *ConfigStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("store: set system config %q: %w", key, err)
	}
	return nil
}
