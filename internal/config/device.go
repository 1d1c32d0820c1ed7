package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// DeviceIdentity is the terminal's durable identity. It lives in its
// own file, outside the document store, so a data wipe and re-bootstrap
// never re-registers the terminal.
type DeviceIdentity struct {
	RegisterID   string    `toml:"register_id"`
	StoreID      string    `toml:"store_id"`
	RegisterName string    `toml:"register_name,omitempty"`
	CreatedAt    time.Time `toml:"created_at"`
}

// LoadOrCreateIdentity reads the identity file, creating a fresh one
// with a generated register ID on first run.
func LoadOrCreateIdentity(path, storeID string) (*DeviceIdentity, error) {
	var identity DeviceIdentity
	if _, err := toml.DecodeFile(path, &identity); err == nil {
		if identity.RegisterID == "" {
			return nil, fmt.Errorf("identity file %s has no register_id", path)
		}
		return &identity, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity file %s: %w", path, err)
	}

	identity = DeviceIdentity{
		RegisterID: uuid.NewString(),
		StoreID:    storeID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := identity.save(path); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (d *DeviceIdentity) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create identity file %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(d); err != nil {
		return fmt.Errorf("failed to write identity file %s: %w", path, err)
	}
	return nil
}
