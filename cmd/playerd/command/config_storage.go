package command

import (
	"fmt"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-playerdata/internal/storage"
)

type StorageBackend int

const (
	StorageBackendSqlite StorageBackend = iota
	StorageBackendFile
)

func (b *StorageBackend) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "sqlite":
		*b = StorageBackendSqlite
	case "file":
		*b = StorageBackendFile
	default:
		return fmt.Errorf("unknown storage backend: %s", text)
	}
	return nil
}

type StorageConfig struct {
	Backend StorageBackend `json:"backend"`
	Path    string         `json:"path"`
}

func (c *StorageConfig) Validate() error {
	el := errors.NewErrorList()

	if c.Path == "" {
		el.Add(fmt.Errorf("storage path is required"))
	}

	return el.Err()
}

func (c *StorageConfig) BuildStore() (storage.Storer, error) {
	switch c.Backend {
	case StorageBackendSqlite:
		return storage.NewSqliteStore(c.Path)
	case StorageBackendFile:
		return storage.NewFileStore(c.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend: %v", c.Backend)
	}
}
