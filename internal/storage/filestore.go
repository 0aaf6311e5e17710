package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-playerdata/internal/record"
)

// Asset is the on-disk envelope around a record.
type Asset struct {
	Version    uint            `json:"version"`
	Identifier record.Identity `json:"id"`
	Spec       *record.Record  `json:"spec"`
}

func (a *Asset) Validate() error {
	el := errors.NewErrorList()

	if a.Version == 0 {
		el.Add(fmt.Errorf("version must be set"))
	}
	if a.Identifier == "" {
		el.Add(fmt.Errorf("id must be set"))
	}
	if a.Spec == nil {
		el.Add(fmt.Errorf("spec must be set"))
	} else {
		el.Add(a.Spec.Validate())
	}

	return el.Err()
}

// FileStore keeps one JSON file per identity under a directory. It is meant
// for small deployments and tests; production deployments use SqliteStore.
type FileStore struct {
	path    string
	records map[record.Identity]*record.Record

	mu sync.RWMutex
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		records: map[record.Identity]*record.Record{},
	}

	err := s.load()
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = map[record.Identity]*record.Record{}

	return filepath.Walk(s.path, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		asset, err := s.loadAsset(path)
		if err != nil {
			return err
		}

		err = asset.Validate()
		if err != nil {
			return fmt.Errorf("validating %s: %w", filepath.Base(path), err)
		}

		if _, ok := s.records[asset.Identifier]; ok {
			return fmt.Errorf("duplicate identity detected: %s", asset.Identifier)
		}

		s.records[asset.Identifier] = asset.Spec
		return nil
	})
}

func (s *FileStore) Find(ctx context.Context, id record.Identity) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}

	// Hand back a copy so queue workers never share a struct with the cache.
	cp := *r
	cp.Inventory = append([]record.ItemStack(nil), r.Inventory...)
	return &cp, nil
}

func (s *FileStore) Save(ctx context.Context, r *record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("validating record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	cp.Inventory = append([]record.ItemStack(nil), r.Inventory...)
	s.records[r.Identity] = &cp

	asset := &Asset{
		Version:    1,
		Identifier: r.Identity,
		Spec:       &cp,
	}

	jsonData, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("marshalling json: %w", err)
	}

	return atomicWrite(s.filePath(r.Identity), jsonData, 0644)
}

func (s *FileStore) IdentitiesInPhase(ctx context.Context, p record.Phase) ([]record.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []record.Identity
	for id, r := range s.records {
		if r.Phase == p {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *FileStore) Close() error {
	return nil
}

// atomicWrite writes data to a temp file then renames it to the target path.
// This prevents partial or empty files if the process is interrupted.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
			slog.Warn("failed to remove temp file after rename failure", "path", tmp, "error", removeErr)
		}
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func (s *FileStore) filePath(id record.Identity) string {
	return filepath.Join(s.path, fmt.Sprintf("%s.json", id))
}

func (s *FileStore) loadAsset(path string) (*Asset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}

	// Ignoring close error - file is read-only, error is not actionable
	defer func() { _ = file.Close() }()

	jsonData, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	asset := &Asset{}
	err = json.Unmarshal(jsonData, asset)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling asset: %w", err)
	}

	return asset, nil
}
