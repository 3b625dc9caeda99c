package curfew

import (
	"context"

	"curfew/internal/model"
)

// FetchStatus is the outcome of a successful fetch.
type FetchStatus int

const (
	// FetchUnchanged means the source confirmed the cached validator; no body was transferred.
	FetchUnchanged FetchStatus = iota
	// FetchUpdated means a full document was received and parsed.
	FetchUpdated
)

func (s FetchStatus) String() string {
	switch s {
	case FetchUnchanged:
		return "unchanged"
	case FetchUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// FetchResult carries a successful fetch. Token is always fresh.
type FetchResult struct {
	Status   FetchStatus
	Document *model.PolicyDocument
	Token    *model.FetchCacheToken
}

// Fetcher retrieves the remote policy document.
//
// A nil token, or a token whose Validator is empty, requests the document
// unconditionally. Failures are *Error values of kind ErrNetworkTransient,
// ErrNetworkPermanent or ErrDocumentInvalid.
type Fetcher interface {
	Fetch(ctx context.Context, token *model.FetchCacheToken) (*FetchResult, error)
	Source() string
}
