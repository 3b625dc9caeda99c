package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// Document file names inside the state directory.
const (
	PolicyStateFile     = "policy-state.json"
	FetchCacheFile      = "fetch-cache.json"
	UsageStateFile      = "usage-state.json"
	UsageHistoryFile    = "usage-history.json"
	AdminCredentialFile = "admin-credential.json"
)

// FileSystemStore is a filesystem-based implementation of the StateStore
// interface. Each document is one JSON file:
//
//	<dir>/
//	  policy-state.json
//	  fetch-cache.json
//	  usage-state.json
//	  usage-history.json
//	  admin-credential.json   (0600)
//
// Unparseable documents are renamed to <name>.corrupt-<unix> and replaced
// by an empty document.
type FileSystemStore struct {
	dir   string
	clock curfew.Clock
	mu    sync.Mutex
}

// NewFileSystemStore creates the state directory if needed.
func NewFileSystemStore(dir string, clock curfew.Clock) (*FileSystemStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileSystemStore{dir: dir, clock: clock}, nil
}

// Dir returns the state directory.
func (s *FileSystemStore) Dir() string {
	return s.dir
}

func (s *FileSystemStore) LoadPolicyState() (*model.PolicyState, error) {
	st := model.NewPolicyState()
	found, err := s.load(PolicyStateFile, st)
	if err != nil || !found {
		return model.NewPolicyState(), err
	}
	if st.Targets == nil {
		st.Targets = make(map[string]model.AppliedPolicyRecord)
	}
	return st, nil
}

func (s *FileSystemStore) SavePolicyState(st *model.PolicyState) error {
	return s.save(PolicyStateFile, st, 0644)
}

func (s *FileSystemStore) LoadFetchCache() (*model.FetchCacheToken, error) {
	token := &model.FetchCacheToken{}
	found, err := s.load(FetchCacheFile, token)
	if err != nil || !found {
		return nil, err
	}
	return token, nil
}

func (s *FileSystemStore) SaveFetchCache(token *model.FetchCacheToken) error {
	return s.save(FetchCacheFile, token, 0644)
}

func (s *FileSystemStore) LoadUsageState() (*model.UsageState, error) {
	st := model.NewUsageState()
	found, err := s.load(UsageStateFile, st)
	if err != nil || !found {
		return model.NewUsageState(), err
	}
	if st.Days == nil {
		st.Days = make(map[string]*model.UsageDay)
	}
	return st, nil
}

func (s *FileSystemStore) SaveUsageState(st *model.UsageState) error {
	return s.save(UsageStateFile, st, 0644)
}

func (s *FileSystemStore) SaveUsageHistory(history *model.UsageHistory) error {
	return s.save(UsageHistoryFile, history, 0644)
}

func (s *FileSystemStore) LoadUsageHistory() (*model.UsageHistory, error) {
	history := &model.UsageHistory{SchemaVersion: model.UsageHistorySchemaVersion}
	found, err := s.load(UsageHistoryFile, history)
	if err != nil || !found {
		return &model.UsageHistory{SchemaVersion: model.UsageHistorySchemaVersion}, err
	}
	return history, nil
}

// LoadAdminCredential never quarantines: a credential that cannot be parsed
// stays in place and every load fails until an operator resets it.
func (s *FileSystemStore) LoadAdminCredential() (*model.AdminCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, AdminCredentialFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading admin credential: %w", err)
	}
	var cred model.AdminCredential
	if err := json.Unmarshal(data, &cred); err != nil || cred.Hash == "" {
		return nil, curfew.NewError(curfew.ErrStoreCorrupt, "load "+AdminCredentialFile, err)
	}
	return &cred, nil
}

func (s *FileSystemStore) SaveAdminCredential(cred *model.AdminCredential) error {
	return s.save(AdminCredentialFile, cred, 0600)
}

// load decodes name into v. found is false when the file does not exist.
// A decode failure quarantines the file and returns an ErrStoreCorrupt error.
func (s *FileSystemStore) load(name string, v any) (found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", name, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		quarantined := fmt.Sprintf("%s.corrupt-%d", path, s.clock.Now().Unix())
		if renameErr := os.Rename(path, quarantined); renameErr != nil {
			return false, curfew.NewError(curfew.ErrStoreCorrupt, "load "+name,
				errors.Join(err, fmt.Errorf("quarantine failed: %w", renameErr)))
		}
		return false, curfew.NewError(curfew.ErrStoreCorrupt, "load "+name,
			fmt.Errorf("%w (moved to %s)", err, filepath.Base(quarantined)))
	}
	return true, nil
}

func (s *FileSystemStore) save(name string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteFileAtomic(filepath.Join(s.dir, name), data, perm); err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	return nil
}

// WriteFileAtomic writes data to path using a temp file in the same
// directory, fsync and rename, then syncs the directory so the rename
// survives power loss.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true

	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

var _ curfew.StateStore = (*FileSystemStore)(nil)
