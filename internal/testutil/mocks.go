package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// MockPolicyWriter records Replace and Remove calls in memory.
type MockPolicyWriter struct {
	mu       sync.Mutex
	target   string
	current  *model.TargetSettings
	replaces int
	removes  int

	// FailReplace and FailRemove make the next calls fail until cleared.
	FailReplace error
	FailRemove  error
}

var _ curfew.PolicyWriter = (*MockPolicyWriter)(nil)

// NewMockPolicyWriter creates a writer for target.
func NewMockPolicyWriter(target string) *MockPolicyWriter {
	return &MockPolicyWriter{target: target}
}

func (w *MockPolicyWriter) Target() string   { return w.target }
func (w *MockPolicyWriter) Location() string { return "mock://" + w.target }

func (w *MockPolicyWriter) Replace(settings model.TargetSettings) (model.TargetSummary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.replaces++
	if w.FailReplace != nil {
		return model.TargetSummary{}, w.FailReplace
	}
	s := settings
	w.current = &s
	return model.TargetSummary{
		AppliedIdentifiers: settings.Identifiers,
		Toggles:            settings.Toggles,
		Location:           w.Location(),
	}, nil
}

func (w *MockPolicyWriter) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removes++
	if w.FailRemove != nil {
		return w.FailRemove
	}
	w.current = nil
	return nil
}

// Calls returns the number of Replace and Remove calls so far.
func (w *MockPolicyWriter) Calls() (replaces, removes int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.replaces, w.removes
}

// Current returns the settings in place, or nil.
func (w *MockPolicyWriter) Current() *model.TargetSettings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// SetFailReplace sets FailReplace under the lock.
func (w *MockPolicyWriter) SetFailReplace(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.FailReplace = err
}

// InlineOffloader runs fn on the caller's goroutine.
type InlineOffloader struct{}

var _ curfew.Offloader = InlineOffloader{}

func (InlineOffloader) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// MockFetcher returns scripted results in order. Once the script is
// exhausted the last entry repeats.
type MockFetcher struct {
	mu     sync.Mutex
	script []MockFetch
	calls  []*model.FetchCacheToken
}

// MockFetch is one scripted Fetch outcome.
type MockFetch struct {
	Result *curfew.FetchResult
	Err    error
}

var _ curfew.Fetcher = (*MockFetcher)(nil)

func NewMockFetcher(script ...MockFetch) *MockFetcher {
	return &MockFetcher{script: script}
}

func (f *MockFetcher) Source() string { return "mock" }

func (f *MockFetcher) Fetch(ctx context.Context, token *model.FetchCacheToken) (*curfew.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var copied *model.FetchCacheToken
	if token != nil {
		t := *token
		copied = &t
	}
	f.calls = append(f.calls, copied)
	if len(f.script) == 0 {
		return nil, curfew.NewError(curfew.ErrNetworkTransient, "fetch", errors.New("no scripted result"))
	}
	next := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return next.Result, next.Err
}

// Calls returns the tokens passed to each Fetch call.
func (f *MockFetcher) Calls() []*model.FetchCacheToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.FetchCacheToken(nil), f.calls...)
}

// MockSessionProbe returns a settable session.
type MockSessionProbe struct {
	mu      sync.Mutex
	session *curfew.Session
	err     error
}

var _ curfew.SessionProbe = (*MockSessionProbe)(nil)

func NewMockSessionProbe() *MockSessionProbe {
	return &MockSessionProbe{}
}

// Set replaces the active session; nil means nobody is logged in.
func (p *MockSessionProbe) Set(s *curfew.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
	p.err = nil
}

// SetIdle updates the idle time of the current session.
func (p *MockSessionProbe) SetIdle(idle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		s := *p.session
		s.Idle = idle
		s.IdleKnown = true
		p.session = &s
	}
}

// Fail makes the next probes return err.
func (p *MockSessionProbe) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *MockSessionProbe) ActiveSession(ctx context.Context) (*curfew.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.session == nil {
		return nil, nil
	}
	s := *p.session
	return &s, nil
}

// MockCommandRunner records commands, fails the ones listed in Fail and
// answers with the scripted Output. Both maps are keyed by "name first-arg"
// or, failing that, by program name.
type MockCommandRunner struct {
	mu       sync.Mutex
	commands []string
	Fail     map[string]error
	Output   map[string][]byte
}

var _ curfew.CommandRunner = (*MockCommandRunner)(nil)

func NewMockCommandRunner() *MockCommandRunner {
	return &MockCommandRunner{Fail: make(map[string]error), Output: make(map[string][]byte)}
}

func (r *MockCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, fmt.Sprint(append([]string{name}, args...)))
	keys := []string{name}
	if len(args) > 0 {
		keys = []string{name + " " + args[0], name}
	}
	for _, k := range keys {
		if err, ok := r.Fail[k]; ok {
			return r.Output[k], err
		}
	}
	for _, k := range keys {
		if out, ok := r.Output[k]; ok {
			return out, nil
		}
	}
	return nil, nil
}

// Commands returns every command run, formatted as "[name arg ...]".
func (r *MockCommandRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// MockNotifier records notifications.
type MockNotifier struct {
	mu       sync.Mutex
	Messages []string
}

var _ curfew.Notifier = (*MockNotifier)(nil)

func (n *MockNotifier) Notify(ctx context.Context, s *curfew.Session, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, title+": "+message)
	return nil
}

// Count returns the number of notifications sent.
func (n *MockNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Messages)
}

// MockEnforcer records invocations and returns a fixed outcome.
type MockEnforcer struct {
	mu       sync.Mutex
	Invoked  []model.EnforcementAction
	Sessions []string
	FailAll  bool
}

var _ curfew.Enforcer = (*MockEnforcer)(nil)

func (e *MockEnforcer) Invoke(ctx context.Context, action model.EnforcementAction, s *curfew.Session) curfew.EnforcementOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Invoked = append(e.Invoked, action)
	if s != nil {
		e.Sessions = append(e.Sessions, s.SessionID)
	}
	if e.FailAll {
		return curfew.EnforcementOutcome{Action: action, Attempts: 1,
			Err: curfew.NewError(curfew.ErrEnforcement, string(action), errors.New("all mechanisms failed"))}
	}
	return curfew.EnforcementOutcome{Action: action, Mechanism: "mock", Attempts: 1}
}

// Count returns the number of invocations.
func (e *MockEnforcer) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Invoked)
}
