package state

import (
	"errors"
	"testing"
	"time"

	"curfew/internal/config"
	"curfew/internal/curfew"
	"curfew/internal/model"
	"curfew/internal/testutil"
)

func TestMemoryStore_NoAliasing(t *testing.T) {
	m := NewMemoryStore()
	us := model.NewUsageState()
	us.Days["bob"] = &model.UsageDay{IdentityID: "bob", Accumulated: time.Minute}
	if err := m.SaveUsageState(us); err != nil {
		t.Fatal(err)
	}

	us.Days["bob"].Accumulated = time.Hour

	got, err := m.LoadUsageState()
	if err != nil {
		t.Fatal(err)
	}
	if got.Days["bob"].Accumulated != time.Minute {
		t.Errorf("Accumulated = %v, want 1m (store must not share pointers)", got.Days["bob"].Accumulated)
	}
}

func TestMemoryStore_Corrupt(t *testing.T) {
	m := NewMemoryStore()
	m.Put(PolicyStateFile, []byte("]["))

	got, err := m.LoadPolicyState()
	if !errors.Is(err, curfew.ErrStoreCorrupt) {
		t.Fatalf("LoadPolicyState() error = %v, want ErrStoreCorrupt", err)
	}
	if got == nil || got.Targets == nil {
		t.Error("LoadPolicyState() should return a usable fresh document")
	}
	if _, ok := m.Raw(PolicyStateFile); ok {
		t.Error("corrupt document should be dropped")
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		storeType string
		wantErr   bool
	}{
		{name: "memory", storeType: "memory"},
		{name: "filesystem", storeType: "filesystem"},
		{name: "unknown", storeType: "etcd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig(t.TempDir())
			cfg.Store.Type = tt.storeType
			s, err := NewStoreFromConfig(cfg, testutil.FixedClock())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && s == nil {
				t.Error("NewStoreFromConfig() returned nil store")
			}
		})
	}
}
