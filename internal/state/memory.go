package state

import (
	"encoding/json"
	"fmt"
	"sync"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// MemoryStore is an in-memory implementation of the StateStore interface.
// Documents are stored encoded so callers never share pointers with the
// store, matching the filesystem semantics. Safe for concurrent use.
type MemoryStore struct {
	docs map[string][]byte
	mu   sync.RWMutex
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Put stores raw bytes under a document name. Tests use it to plant
// corrupt documents.
func (m *MemoryStore) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[name] = append([]byte(nil), data...)
}

// Raw returns the stored bytes for a document name.
func (m *MemoryStore) Raw(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[name]
	return data, ok
}

func (m *MemoryStore) LoadPolicyState() (*model.PolicyState, error) {
	st := model.NewPolicyState()
	found, err := m.load(PolicyStateFile, st)
	if err != nil || !found {
		return model.NewPolicyState(), err
	}
	if st.Targets == nil {
		st.Targets = make(map[string]model.AppliedPolicyRecord)
	}
	return st, nil
}

func (m *MemoryStore) SavePolicyState(st *model.PolicyState) error {
	return m.save(PolicyStateFile, st)
}

func (m *MemoryStore) LoadFetchCache() (*model.FetchCacheToken, error) {
	token := &model.FetchCacheToken{}
	found, err := m.load(FetchCacheFile, token)
	if err != nil || !found {
		return nil, err
	}
	return token, nil
}

func (m *MemoryStore) SaveFetchCache(token *model.FetchCacheToken) error {
	return m.save(FetchCacheFile, token)
}

func (m *MemoryStore) LoadUsageState() (*model.UsageState, error) {
	st := model.NewUsageState()
	found, err := m.load(UsageStateFile, st)
	if err != nil || !found {
		return model.NewUsageState(), err
	}
	if st.Days == nil {
		st.Days = make(map[string]*model.UsageDay)
	}
	return st, nil
}

func (m *MemoryStore) SaveUsageState(st *model.UsageState) error {
	return m.save(UsageStateFile, st)
}

func (m *MemoryStore) SaveUsageHistory(history *model.UsageHistory) error {
	return m.save(UsageHistoryFile, history)
}

func (m *MemoryStore) LoadUsageHistory() (*model.UsageHistory, error) {
	history := &model.UsageHistory{SchemaVersion: model.UsageHistorySchemaVersion}
	found, err := m.load(UsageHistoryFile, history)
	if err != nil || !found {
		return &model.UsageHistory{SchemaVersion: model.UsageHistorySchemaVersion}, err
	}
	return history, nil
}

func (m *MemoryStore) LoadAdminCredential() (*model.AdminCredential, error) {
	m.mu.RLock()
	data, ok := m.docs[AdminCredentialFile]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var cred model.AdminCredential
	if err := json.Unmarshal(data, &cred); err != nil || cred.Hash == "" {
		return nil, curfew.NewError(curfew.ErrStoreCorrupt, "load "+AdminCredentialFile, err)
	}
	return &cred, nil
}

func (m *MemoryStore) SaveAdminCredential(cred *model.AdminCredential) error {
	return m.save(AdminCredentialFile, cred)
}

func (m *MemoryStore) load(name string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.docs[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		delete(m.docs, name)
		return false, curfew.NewError(curfew.ErrStoreCorrupt, "load "+name, err)
	}
	return true, nil
}

func (m *MemoryStore) save(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[name] = data
	return nil
}

var _ curfew.StateStore = (*MemoryStore)(nil)
