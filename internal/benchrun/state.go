// Package benchrun tracks a timed benchmark run against the monitor
// facade. The run is a four-phase state machine advanced only by Tick,
// which compares an injected monotonic clock against stored deadlines.
// No phase change happens between Tick calls, so the tracker works the
// same whether it is driven by a UI timer, a cron loop or a test.
package benchrun

import (
	"fmt"
	"time"

	plog "github.com/phuslu/log"

	"frame_exporter/internal/logger"
	"frame_exporter/internal/monitor"
)

// Phase is the tracker's current state.
type Phase int

const (
	// PhaseOff: no run in progress.
	PhaseOff Phase = iota
	// PhaseWaiting: Begin was called, the start delay is counting down.
	PhaseWaiting
	// PhaseRunning: monitoring is active for the configured duration.
	PhaseRunning
	// PhaseCooldown: the run duration elapsed; monitoring continues so
	// trailing frames land in the history before the final drain.
	PhaseCooldown
)

func (p Phase) String() string {
	switch p {
	case PhaseOff:
		return "OFF"
	case PhaseWaiting:
		return "WAITING"
	case PhaseRunning:
		return "RUNNING"
	case PhaseCooldown:
		return "COOLDOWN"
	default:
		return "UNKNOWN"
	}
}

// Facade is the slice of the monitor service the tracker drives. The
// production implementation is *monitor.Service.
type Facade interface {
	StartMonitoring(pid, updateFrequencyMs uint32) monitor.Status
	StopMonitoring(pid uint32) monitor.Status
	GetMetrics(pid uint32, out *monitor.MetricsSnapshot, history *[]monitor.MetricsSnapshot) monitor.Status
}

// Config describes one benchmark run.
type Config struct {
	PID               uint32
	UpdateFrequencyMs uint32

	// StartDelay is the WAITING phase length, giving the target time to
	// settle after Begin (load screens, shader compilation).
	StartDelay time.Duration
	// Duration is the RUNNING phase length.
	Duration time.Duration
	// Cooldown is the COOLDOWN phase length before the final drain.
	Cooldown time.Duration
}

// Tracker runs the OFF -> WAITING -> RUNNING -> COOLDOWN -> OFF cycle.
// Not safe for concurrent use; drive it from a single goroutine.
type Tracker struct {
	cfg    Config
	facade Facade
	now    func() time.Time

	phase    Phase
	deadline time.Time
	result   []monitor.MetricsSnapshot

	log plog.Logger
}

// New builds a Tracker on the real clock.
func New(cfg Config, facade Facade) *Tracker {
	return NewWithClock(cfg, facade, time.Now)
}

// NewWithClock builds a Tracker with an injected clock.
func NewWithClock(cfg Config, facade Facade, now func() time.Time) *Tracker {
	return &Tracker{
		cfg:    cfg,
		facade: facade,
		now:    now,
		log:    logger.NewLoggerWithContext("benchrun"),
	}
}

// Begin arms the tracker: OFF -> WAITING with the start-delay deadline.
func (t *Tracker) Begin() error {
	if t.phase != PhaseOff {
		return fmt.Errorf("benchmark run already in progress (phase %s)", t.phase)
	}
	if t.cfg.PID == 0 || t.cfg.UpdateFrequencyMs == 0 {
		return fmt.Errorf("invalid benchmark config: pid=%d update_ms=%d", t.cfg.PID, t.cfg.UpdateFrequencyMs)
	}
	t.result = nil
	t.phase = PhaseWaiting
	t.deadline = t.now().Add(t.cfg.StartDelay)
	t.log.Info().Uint32("pid", t.cfg.PID).
		Dur("start_delay", t.cfg.StartDelay).
		Dur("duration", t.cfg.Duration).
		Msg("Benchmark run armed")
	return nil
}

// Tick advances the state machine. Call it periodically; the granularity
// of the phase transitions is the granularity of the calls. Returns the
// phase after any transition.
func (t *Tracker) Tick() Phase {
	switch t.phase {
	case PhaseWaiting:
		if !t.now().Before(t.deadline) {
			t.startRunning()
		}
	case PhaseRunning:
		if !t.now().Before(t.deadline) {
			t.phase = PhaseCooldown
			t.deadline = t.now().Add(t.cfg.Cooldown)
			t.log.Info().Uint32("pid", t.cfg.PID).Msg("Benchmark duration elapsed, cooling down")
		}
	case PhaseCooldown:
		if !t.now().Before(t.deadline) {
			t.finish()
		}
	}
	return t.phase
}

func (t *Tracker) startRunning() {
	if st := t.facade.StartMonitoring(t.cfg.PID, t.cfg.UpdateFrequencyMs); st != monitor.StatusSuccess {
		t.log.Error().Uint32("pid", t.cfg.PID).Str("status", st.String()).
			Msg("Benchmark aborted, monitoring failed to start")
		t.phase = PhaseOff
		return
	}
	t.phase = PhaseRunning
	t.deadline = t.now().Add(t.cfg.Duration)
}

// finish drains the accumulated history, stops monitoring and disarms.
func (t *Tracker) finish() {
	var latest monitor.MetricsSnapshot
	var history []monitor.MetricsSnapshot
	if st := t.facade.GetMetrics(t.cfg.PID, &latest, &history); st == monitor.StatusSuccess {
		t.result = history
	} else {
		t.log.Warn().Uint32("pid", t.cfg.PID).Str("status", st.String()).
			Msg("Final metrics drain failed")
	}
	if st := t.facade.StopMonitoring(t.cfg.PID); st != monitor.StatusSuccess {
		t.log.Warn().Uint32("pid", t.cfg.PID).Str("status", st.String()).
			Msg("Benchmark stop reported an error")
	}
	t.phase = PhaseOff
	t.log.Info().Uint32("pid", t.cfg.PID).Int("snapshots", len(t.result)).
		Msg("Benchmark run finished")
}

// Cancel aborts an in-progress run. Monitoring is stopped if it was
// started; any partial result is discarded.
func (t *Tracker) Cancel() {
	switch t.phase {
	case PhaseRunning, PhaseCooldown:
		if st := t.facade.StopMonitoring(t.cfg.PID); st != monitor.StatusSuccess {
			t.log.Warn().Uint32("pid", t.cfg.PID).Str("status", st.String()).
				Msg("Cancel stop reported an error")
		}
	case PhaseOff:
		return
	}
	t.phase = PhaseOff
	t.result = nil
	t.log.Info().Uint32("pid", t.cfg.PID).Msg("Benchmark run cancelled")
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase { return t.phase }

// Result returns the snapshots drained when the last run finished.
func (t *Tracker) Result() []monitor.MetricsSnapshot { return t.result }
