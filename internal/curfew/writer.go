package curfew

import "curfew/internal/model"

// PolicyWriter enforces one target's settings at its OS-specific location.
//
// Replace puts the complete desired settings in place; Remove takes them out
// again. Both are idempotent and atomic from a reader's point of view:
// either the old or the new state is observable, never an interleaving.
// Remove on an already-absent policy succeeds. Both block on OS calls and
// are run on the worker pool, never on a loop's own goroutine.
type PolicyWriter interface {
	Target() string
	Location() string
	Replace(settings model.TargetSettings) (model.TargetSummary, error)
	Remove() error
}

// Translator maps the document's section for a target into the structure
// that target's writer consumes.
type Translator interface {
	Translate(target string, policy model.TargetPolicy) (model.TargetSettings, error)
}

// DigestReporter is implemented by file-backed writers. CurrentDigest
// hashes what is on disk now so drift from the last written Summary.Digest
// can be detected. An absent file reports "".
type DigestReporter interface {
	CurrentDigest() (string, error)
}
