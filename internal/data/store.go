// Package data provides the persistence layer for the account pool.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kratos/kratos/v2/log"
)

// StoreRepo is the load/save contract for the persisted account pool.
// Implementations must rewrite the full document on every Save; there is no
// incremental diffing.
type StoreRepo interface {
	// Load reads the persisted store. It returns an empty store (and
	// existed=false) when nothing usable is found; decode and validation
	// failures fall back to the empty store rather than failing startup.
	Load(ctx context.Context) (store *AccountStore, existed bool)

	// Save durably rewrites the full store document. Errors propagate to the
	// mutating caller.
	Save(ctx context.Context, store *AccountStore) error
}

// DefaultAccountsPath resolves the per-user store location used when no path
// is configured.
func DefaultAccountsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "copilotlane", "accounts.json"), nil
}

// fileStore persists the store as an owner-only JSON file.
type fileStore struct {
	path   string
	logger *log.Helper
}

// NewFileStore creates a file-backed StoreRepo at path.
func NewFileStore(path string, logger log.Logger) StoreRepo {
	return &fileStore{
		path:   path,
		logger: log.NewHelper(logger),
	}
}

// Load implements StoreRepo.
func (s *fileStore) Load(_ context.Context) (*AccountStore, bool) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warnw("msg", "failed to read account store, starting empty",
				"path", s.path, "error", err.Error())
		}
		return NewAccountStore(), false
	}

	store := &AccountStore{}
	if err := json.Unmarshal(raw, store); err != nil {
		s.logger.Warnw("msg", "account store is not valid JSON, starting empty",
			"path", s.path, "error", err.Error())
		return NewAccountStore(), false
	}
	store.normalize()
	if !store.valid() {
		s.logger.Warnw("msg", "account store failed schema validation, starting empty",
			"path", s.path, "version", store.Version)
		return NewAccountStore(), false
	}

	return store, true
}

// Save implements StoreRepo. The document is written to a temp file in the
// same directory and renamed into place so a crash never leaves a torn file.
func (s *fileStore) Save(_ context.Context, store *AccountStore) error {
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal account store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set store file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close store file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace store file %s: %w", s.path, err)
	}

	return nil
}

// memoryStore is the ephemeral backend: nothing is read or written, every
// process starts empty.
type memoryStore struct{}

// NewMemoryStore creates the ephemeral StoreRepo.
func NewMemoryStore() StoreRepo {
	return &memoryStore{}
}

// Load implements StoreRepo.
func (s *memoryStore) Load(_ context.Context) (*AccountStore, bool) {
	return NewAccountStore(), false
}

// Save implements StoreRepo.
func (s *memoryStore) Save(_ context.Context, _ *AccountStore) error {
	return nil
}
