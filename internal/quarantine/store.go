package quarantine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads the quarantine database. A missing file is an empty database.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDatabase(), nil
		}
		return nil, fmt.Errorf("failed to read quarantine file %s: %w", path, err)
	}

	db := NewDatabase()
	if err := json.Unmarshal(data, db); err != nil {
		return nil, fmt.Errorf("failed to parse quarantine file %s: %w", path, err)
	}
	if db.Tests == nil {
		db.Tests = map[string]*Record{}
	}
	if db.Version > databaseVersion {
		return nil, fmt.Errorf("quarantine file %s has unsupported version %d", path, db.Version)
	}
	db.Version = databaseVersion
	return db, nil
}

// Save writes the database atomically by renaming a temp file over path.
func Save(path string, db *Database) error {
	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal quarantine database: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".quarantine-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write quarantine database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
