package repofake

import (
	"sync"

	clienterrors "github.com/tractionboard/traction-go/internal/errors"
	"github.com/tractionboard/traction-go/tokenstore"
)

// FakeStore is an in-memory tokenstore.Store for tests.
type FakeStore struct {
	mu      sync.RWMutex
	pair    *tokenstore.TokenPair
	values  map[string]string
	tenants map[string]map[string]string

	// SwapCalls counts SwapPair invocations, letting tests assert how many
	// writers attempted a rotation.
	SwapCalls int
}

var _ tokenstore.Store = (*FakeStore)(nil)

func NewFakeStore() *FakeStore {
	return &FakeStore{
		values:  make(map[string]string),
		tenants: make(map[string]map[string]string),
	}
}

func (f *FakeStore) Pair() (tokenstore.TokenPair, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.pair == nil {
		return tokenstore.TokenPair{}, false
	}
	return *f.pair, true
}

func (f *FakeStore) SetPair(pair tokenstore.TokenPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pair = &pair
	return nil
}

func (f *FakeStore) SwapPair(current, next tokenstore.TokenPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SwapCalls++
	if f.pair == nil || f.pair.RefreshToken != current.RefreshToken {
		return clienterrors.ErrPairConflict
	}
	f.pair = &next
	return nil
}

func (f *FakeStore) Value(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *FakeStore) SetValue(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *FakeStore) DeleteValue(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *FakeStore) TenantValue(tenantID, key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entries, ok := f.tenants[tenantID]
	if !ok {
		return "", false
	}
	v, ok := entries[key]
	return v, ok
}

func (f *FakeStore) SetTenantValue(tenantID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, ok := f.tenants[tenantID]
	if !ok {
		entries = make(map[string]string)
		f.tenants[tenantID] = entries
	}
	entries[key] = value
	return nil
}

func (f *FakeStore) ClearTenant(tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tenants, tenantID)
	return nil
}

func (f *FakeStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pair = nil
	f.values = make(map[string]string)
	f.tenants = make(map[string]map[string]string)
	return nil
}

// TenantKeys returns the tenant ids that still hold cache entries.
func (f *FakeStore) TenantKeys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.tenants))
	for k := range f.tenants {
		keys = append(keys, k)
	}
	return keys
}
