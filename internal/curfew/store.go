package curfew

import "curfew/internal/model"

// StateStore persists the typed state documents. It is the only component
// that touches the state directory.
//
// Every Save replaces the whole document atomically: a reader sees either
// the previous or the new version, never a mix. A Load of a missing
// document returns a fresh empty one. A Load of an unparseable document
// moves the file aside and returns a fresh empty document together with an
// error wrapping ErrStoreCorrupt, so callers can log and carry on.
type StateStore interface {
	LoadPolicyState() (*model.PolicyState, error)
	SavePolicyState(state *model.PolicyState) error

	LoadFetchCache() (*model.FetchCacheToken, error)
	SaveFetchCache(token *model.FetchCacheToken) error

	LoadUsageState() (*model.UsageState, error)
	SaveUsageState(state *model.UsageState) error

	SaveUsageHistory(history *model.UsageHistory) error
	LoadUsageHistory() (*model.UsageHistory, error)

	// LoadAdminCredential returns nil, nil when no password has been set.
	// A corrupt credential is an error; callers must fail closed.
	LoadAdminCredential() (*model.AdminCredential, error)
	SaveAdminCredential(credential *model.AdminCredential) error
}
