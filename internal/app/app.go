package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"curfew/internal/admin"
	"curfew/internal/auth"
	"curfew/internal/config"
	"curfew/internal/curfew"
	"curfew/internal/database"
	"curfew/internal/metrics"
	"curfew/internal/model"
	"curfew/internal/policy"
	"curfew/internal/secret"
	"curfew/internal/state"
	"curfew/internal/usage"
	"curfew/internal/worker"
	"curfew/internal/writer"
)

// App is the application layer between the CLI and the daemon components.
// It constructs all dependencies from config, exposes the operations the
// CLI offers, and closes the database and log file on Close.
type App struct {
	cfg        *config.Config
	op         *Operation
	goos       string
	clock      curfew.Clock
	ids        curfew.IDGenerator
	logger     curfew.Logger
	logFile    *os.File
	store      curfew.StateStore
	db         curfew.HistoryDatabase
	elevation  curfew.Elevation
	identities []model.Identity
	location   *time.Location
	metrics    *metrics.Metrics
	auth       *auth.Authenticator

	// Collaborators left nil are built for the running platform.
	fetcher  curfew.Fetcher
	probe    curfew.SessionProbe
	enforcer curfew.Enforcer
	notifier curfew.Notifier
	hive     writer.RegistryHive
}

// New creates a fully wired App from the given config. command names the
// CLI command being run and prefixes the log operation ID.
// The caller must call Close when done.
func New(cfg *config.Config, command string) (*App, error) {
	clock := curfew.RealClock{}
	op := NewOperation(command, clock.Now(), currentActor())

	l, logFile, err := newLogger(cfg.Daemon.LogDir, op.ID, cfg.Daemon.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	// Commands that only read state work without elevation; anything that
	// writes machine policy checks the token itself.
	elevation, err := curfew.AcquireElevation()
	if err != nil {
		logger.Debug("running unelevated", "elevation", elevation.String())
	}

	a, err := newApp(cfg, op, clock, logger, elevation)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func newApp(cfg *config.Config, op *Operation, clock curfew.Clock, logger curfew.Logger, elevation curfew.Elevation) (*App, error) {
	loc := time.Local
	if cfg.Usage.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Usage.Timezone); err != nil {
			return nil, fmt.Errorf("loading timezone: %w", err)
		}
	}

	store, err := state.NewStoreFromConfig(cfg, clock)
	if err != nil {
		return nil, fmt.Errorf("creating state store: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	m := metrics.New(clock)
	authn := auth.NewAuthenticator(store, clock, auth.Options{
		MaxAttempts: cfg.Auth.MaxAttempts,
		Lockout:     cfg.Auth.Lockout,
	}, logger)
	authn.OnFailure = m.AuthFailed

	return &App{
		cfg:        cfg,
		op:         op,
		goos:       runtime.GOOS,
		clock:      clock,
		ids:        curfew.UUIDGenerator{},
		logger:     logger,
		store:      store,
		db:         db,
		elevation:  elevation,
		identities: usage.IdentitiesFromConfig(cfg.Identities),
		location:   loc,
		metrics:    m,
		auth:       authn,
	}, nil
}

// Operation returns the operation this App was created for.
func (a *App) Operation() *Operation { return a.op }

// Elevation returns the process's elevation token.
func (a *App) Elevation() curfew.Elevation { return a.elevation }

// Close writes the admin metrics, closes the database and the log file.
func (a *App) Close() error {
	var firstErr error
	a.logger.Debug("operation finished", "command", a.op.Command, "status", a.op.Status)

	if strings.HasPrefix(a.op.Command, "admin") && a.cfg.Daemon.MetricsTextfile != "" {
		// The daemon owns metrics_textfile; admin invocations leave a
		// sibling file for the same textfile collector.
		path := filepath.Join(filepath.Dir(a.cfg.Daemon.MetricsTextfile), "curfew-admin.prom")
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("writing admin metrics failed", "error", err)
		}
	}

	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// writers builds the policy writers for the configured targets.
func (a *App) writers() ([]curfew.PolicyWriter, error) {
	return writer.New(a.goos, a.cfg.Policy.Targets, writer.Options{
		Elevation: a.elevation,
		Overrides: a.cfg.Writers,
		Hive:      a.hive,
	})
}

func (a *App) newEngine(offload curfew.Offloader) (*policy.Engine, error) {
	ws, err := a.writers()
	if err != nil {
		return nil, err
	}
	return policy.NewEngine(a.store, ws, policy.DefaultTranslator{}, offload, a.clock, a.logger), nil
}

// ApplyFile runs one convergence pass from a local policy document.
func (a *App) ApplyFile(ctx context.Context, path string) (*policy.ConvergenceResult, error) {
	if err := a.elevation.Require("apply policy"); err != nil {
		return nil, err
	}
	doc, err := policy.ReadFile(path)
	if err != nil {
		return nil, err
	}

	pool := worker.NewPool(a.cfg.Daemon.Workers)
	defer pool.Drain()
	engine, err := a.newEngine(pool)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	a.logger.Info("applying local policy", "path", path, "actor", a.op.Actor)
	res, err := engine.Apply(ctx, doc)
	if err != nil {
		return res, err
	}
	return res, res.Err()
}

// IdentityStatus is one identity's standing for today.
type IdentityStatus struct {
	Identity  model.Identity
	Budget    time.Duration
	Remaining time.Duration
	// Day is nil until the tracker has seen the identity today.
	Day *model.UsageDay
}

// Phase is the identity's usage phase, idle when nothing was recorded.
func (s IdentityStatus) Phase() model.UsagePhase {
	if s.Day == nil {
		return model.PhaseIdle
	}
	return s.Day.Phase
}

// Status is a snapshot of the persisted daemon state.
type Status struct {
	Date       string
	Paused     bool
	LastTick   *time.Time
	Identities []IdentityStatus
	Policy     *model.PolicyState
	Pending    int
}

// Status reads the usage-state and policy-state documents. A day whose
// date is not today is stale: the daemon will seal it on its next tick.
func (a *App) Status() (*Status, error) {
	us, err := a.store.LoadUsageState()
	if err != nil && !errors.Is(err, curfew.ErrStoreCorrupt) {
		return nil, fmt.Errorf("loading usage state: %w", err)
	}
	if us == nil {
		us = model.NewUsageState()
	}
	// The tracker dates days by trusted time; match it.
	now := a.clock.Now().Add(-us.ClockOffset).In(a.location)
	today := now.Format(time.DateOnly)
	ps, err := a.store.LoadPolicyState()
	if err != nil && !errors.Is(err, curfew.ErrStoreCorrupt) {
		return nil, fmt.Errorf("loading policy state: %w", err)
	}
	if ps == nil {
		ps = model.NewPolicyState()
	}
	pending, err := a.db.PendingOverrides()
	if err != nil {
		return nil, fmt.Errorf("listing pending overrides: %w", err)
	}

	st := &Status{
		Date:     today,
		Paused:   us.Paused,
		LastTick: us.LastTickWall,
		Policy:   ps,
		Pending:  len(pending),
	}
	for _, id := range a.identities {
		is := IdentityStatus{Identity: id, Budget: usage.Budget(id, now)}
		is.Remaining = is.Budget
		if day, ok := us.Days[id.ID]; ok && day.Date == today {
			is.Day = day
			is.Budget = day.Budget
			is.Remaining = day.Remaining()
		}
		st.Identities = append(st.Identities, is)
	}
	return st, nil
}

// Admin returns the authenticated override service, acting as the
// invoking user.
func (a *App) Admin() *admin.Service {
	return admin.NewService(a.auth, a.db, a.identities, a.clock, a.ids, a.logger, a.op.Actor)
}

// UsageHistory returns the identity's sealed days from the last days
// days, oldest first.
func (a *App) UsageHistory(identityID string, days int) ([]*model.HistoryEntry, error) {
	since := a.clock.Now().In(a.location).AddDate(0, 0, -days).Format(time.DateOnly)
	return a.db.ListHistory(identityID, since)
}

// Identities returns the configured identities sorted by ID.
func (a *App) Identities() []model.Identity {
	return slices.Clone(a.identities)
}

// SetAdminPassword replaces the admin password.
func (a *App) SetAdminPassword(password string) error {
	if err := a.auth.SetPassword(a.elevation, password); err != nil {
		return err
	}
	a.logger.Info("admin password changed", "actor", a.op.Actor)
	return nil
}

// VerifyAdminPassword checks password, counting failures toward the lockout.
func (a *App) VerifyAdminPassword(password string) error {
	return a.auth.Authenticate(password)
}

// HasAdminPassword reports whether an admin password was set.
func (a *App) HasAdminPassword() (bool, error) {
	return a.auth.HasPassword()
}

// SetPolicyCredential seals the policy-source credential with the
// machine's age identity, creating the identity on first use.
func (a *App) SetPolicyCredential(credential secret.Redacted) error {
	if err := a.elevation.Require("set policy credential"); err != nil {
		return err
	}
	pc := a.cfg.Policy
	if pc.CredentialFile == "" || pc.IdentityFile == "" {
		return fmt.Errorf("policy.credential_file and policy.identity_file must be configured")
	}
	if err := secret.NewAgeSealed(pc.IdentityFile, pc.CredentialFile).Seal(credential); err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}
	a.logger.Info("policy credential sealed", "path", pc.CredentialFile)
	return nil
}
