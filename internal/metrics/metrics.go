// Package metrics keeps the daemon's prometheus counters. The daemon has
// no listener; the registry is written to a node_exporter textfile.
package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"curfew/internal/curfew"
	"curfew/internal/model"
	"curfew/internal/policy"
	"curfew/internal/scheduler"
	"curfew/internal/usage"
)

const namespace = "curfew"

// Metrics observes the loops, the tracker and the authenticator.
type Metrics struct {
	reg   *prometheus.Registry
	clock curfew.Clock

	loopTicks     *prometheus.CounterVec
	loopDuration  *prometheus.HistogramVec
	loopStreak    *prometheus.GaugeVec
	loopHeartbeat *prometheus.GaugeVec
	loopRestarts  *prometheus.CounterVec

	fetches *prometheus.CounterVec
	applies *prometheus.CounterVec

	usageTicks   prometheus.Counter
	accumulated  *prometheus.GaugeVec
	remaining    *prometheus.GaugeVec
	tamper       *prometheus.CounterVec
	enforcements *prometheus.CounterVec

	authFailures *prometheus.CounterVec
}

var (
	_ scheduler.Observer = (*Metrics)(nil)
	_ usage.Observer     = (*Metrics)(nil)
)

// New registers every collector on a fresh registry.
func New(clock curfew.Clock) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg:   reg,
		clock: clock,

		loopTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_ticks_total",
			Help:      "Completed loop ticks by loop and result.",
		}, []string{"loop", "result"}),
		loopDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_tick_duration_seconds",
			Help:      "Loop tick duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
		}, []string{"loop"}),
		loopStreak: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_failure_streak",
			Help:      "Consecutive transient failures per loop.",
		}, []string{"loop"}),
		loopHeartbeat: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_heartbeat_timestamp_seconds",
			Help:      "Unix time of each loop's last completed tick.",
		}, []string{"loop"}),
		loopRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_restarts_total",
			Help:      "Supervisor restarts of dead tasks.",
		}, []string{"task"}),

		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_fetches_total",
			Help:      "Policy fetches by result.",
		}, []string{"result"}),
		applies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_target_results_total",
			Help:      "Per-target convergence outcomes.",
		}, []string{"target", "outcome"}),

		usageTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_tracked_ticks_total",
			Help:      "Ticks that credited an identity.",
		}),
		accumulated: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_accumulated_seconds",
			Help:      "Screen time used today per identity.",
		}, []string{"identity"}),
		remaining: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_remaining_seconds",
			Help:      "Screen time left today per identity, negative once exceeded.",
		}, []string{"identity"}),
		tamper: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tamper_events_total",
			Help:      "Discarded ticks by reason.",
		}, []string{"reason"}),
		enforcements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enforcements_total",
			Help:      "Enforcement attempts by action, mechanism and result.",
		}, []string{"action", "mechanism", "result"}),

		authFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_auth_failures_total",
			Help:      "Rejected admin authentications.",
		}, []string{"reason"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) TickDone(loop string, err error, elapsed time.Duration, streak int) {
	m.loopTicks.WithLabelValues(loop, errorClass(err)).Inc()
	m.loopDuration.WithLabelValues(loop).Observe(elapsed.Seconds())
	m.loopStreak.WithLabelValues(loop).Set(float64(streak))
	m.loopHeartbeat.WithLabelValues(loop).Set(float64(m.clock.Now().Unix()))
}

// TaskRestarted matches scheduler.Supervisor.OnRestart.
func (m *Metrics) TaskRestarted(task string, _ error) {
	m.loopRestarts.WithLabelValues(task).Inc()
}

// FetchDone records one fetch attempt.
func (m *Metrics) FetchDone(res *curfew.FetchResult, err error) {
	switch {
	case err != nil:
		m.fetches.WithLabelValues(errorClass(err)).Inc()
	case res != nil:
		m.fetches.WithLabelValues(res.Status.String()).Inc()
	}
}

// Converged records the per-target outcomes of a pass.
func (m *Metrics) Converged(res *policy.ConvergenceResult) {
	if res == nil {
		return
	}
	for _, t := range res.Targets {
		m.applies.WithLabelValues(t.Target, string(t.Outcome)).Inc()
	}
}

func (m *Metrics) Ticked(identity string, accumulated, remaining time.Duration) {
	m.usageTicks.Inc()
	m.accumulated.WithLabelValues(identity).Set(accumulated.Seconds())
	m.remaining.WithLabelValues(identity).Set(remaining.Seconds())
}

func (m *Metrics) Tampered(reason string) {
	m.tamper.WithLabelValues(reason).Inc()
}

func (m *Metrics) Enforced(action model.EnforcementAction, mechanism string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
		mechanism = "none"
	}
	m.enforcements.WithLabelValues(string(action), mechanism, result).Inc()
}

// AuthFailed matches auth.Authenticator.OnFailure.
func (m *Metrics) AuthFailed(lockedOut bool) {
	reason := "wrong_password"
	if lockedOut {
		reason = "locked_out"
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// WriteTextfile writes the registry to path for the node_exporter
// textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

func errorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case curfew.IsTransient(err):
		return "transient"
	case errors.Is(err, curfew.ErrDocumentInvalid):
		return "invalid"
	case curfew.IsPermanent(err):
		return "permanent"
	default:
		return "error"
	}
}
