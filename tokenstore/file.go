package tokenstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	clienterrors "github.com/tractionboard/traction-go/internal/errors"
)

// persistedState is the on-disk layout of the store.
type persistedState struct {
	Pair    *TokenPair                   `json:"pair,omitempty"`
	Values  map[string]string            `json:"values,omitempty"`
	Tenants map[string]map[string]string `json:"tenants,omitempty"`
}

// FileStore is a file-backed Store. The whole state is rewritten through a
// temporary file and an atomic rename on every mutation, so a crashed write
// leaves the previous state intact and readers never see a partial pair.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	state persistedState
}

var _ Store = (*FileStore)(nil)

// NewFileStore loads the state persisted at path, if any.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	fs.state.Values = make(map[string]string)
	fs.state.Tenants = make(map[string]map[string]string)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[NewFileStore] read")
	}
	if err := json.Unmarshal(data, &fs.state); err != nil {
		// A corrupt store is treated as empty rather than unusable.
		fs.state = persistedState{
			Values:  make(map[string]string),
			Tenants: make(map[string]map[string]string),
		}
		return fs, nil
	}
	if fs.state.Values == nil {
		fs.state.Values = make(map[string]string)
	}
	if fs.state.Tenants == nil {
		fs.state.Tenants = make(map[string]map[string]string)
	}
	return fs, nil
}

func (fs *FileStore) Pair() (TokenPair, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.state.Pair == nil {
		return TokenPair{}, false
	}
	return *fs.state.Pair, true
}

func (fs *FileStore) SetPair(pair TokenPair) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.state.Pair = &pair
	return fs.persistLocked()
}

func (fs *FileStore) SwapPair(current, next TokenPair) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.state.Pair == nil || fs.state.Pair.RefreshToken != current.RefreshToken {
		return clienterrors.ErrPairConflict
	}
	fs.state.Pair = &next
	return fs.persistLocked()
}

func (fs *FileStore) Value(key string) (string, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	v, ok := fs.state.Values[key]
	return v, ok
}

func (fs *FileStore) SetValue(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.state.Values[key] = value
	return fs.persistLocked()
}

func (fs *FileStore) DeleteValue(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.state.Values, key)
	return fs.persistLocked()
}

func (fs *FileStore) TenantValue(tenantID, key string) (string, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	entries, ok := fs.state.Tenants[tenantID]
	if !ok {
		return "", false
	}
	v, ok := entries[key]
	return v, ok
}

func (fs *FileStore) SetTenantValue(tenantID, key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	entries, ok := fs.state.Tenants[tenantID]
	if !ok {
		entries = make(map[string]string)
		fs.state.Tenants[tenantID] = entries
	}
	entries[key] = value
	return fs.persistLocked()
}

func (fs *FileStore) ClearTenant(tenantID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.state.Tenants, tenantID)
	return fs.persistLocked()
}

func (fs *FileStore) Clear() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.state = persistedState{
		Values:  make(map[string]string),
		Tenants: make(map[string]map[string]string),
	}
	return fs.persistLocked()
}

func (fs *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(fs.state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[FileStore.persist] marshal")
	}
	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "[FileStore.persist] mkdir")
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return errors.Wrap(err, "[FileStore.persist] create temp")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "[FileStore.persist] write")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "[FileStore.persist] close")
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "[FileStore.persist] rename")
	}
	return nil
}
