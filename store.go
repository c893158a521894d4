package brandloom

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// SettingsStore persists notification settings as a JSON blob under a fixed
// key in a local bbolt file, the SDK's stand-in for browser local storage.
type SettingsStore struct {
	db *bolt.DB
}

var (
	settingsBucket = []byte("brandloom")
	settingsKey    = []byte("notification_settings")
)

// OpenSettingsStore opens (creating if needed) the settings database at path.
func OpenSettingsStore(path string) (*SettingsStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(settingsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings bucket: %w", err)
	}
	return &SettingsStore{db: db}, nil
}

// Load returns the stored settings, or nil when none were saved yet.
func (s *SettingsStore) Load() (*NotificationSettings, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(settingsBucket).Get(settingsKey); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var settings NotificationSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &settings, nil
}

// Save writes the settings synchronously.
func (s *SettingsStore) Save(settings NotificationSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Put(settingsKey, raw)
	})
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SettingsStore) Close() error {
	return s.db.Close()
}
