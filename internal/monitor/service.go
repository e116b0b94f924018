package monitor

import (
	"sync"
	"sync/atomic"

	plog "github.com/phuslu/log"

	"frame_exporter/internal/logger"
	"frame_exporter/internal/windowsapi"
)

// Options configures a Service. Zero values select production defaults;
// tests inject a fake capture factory and a fake clock.
type Options struct {
	// Capture builds the event source for each monitored pid. Required.
	Capture CaptureFactory

	// Frequency is the tick rate of NowTicks. Zero means the machine's
	// QPC frequency.
	Frequency uint64

	// NowTicks reads the monotonic clock in Frequency units. Zero means
	// the QPC counter.
	NowTicks func() uint64

	// HistoryCapacity bounds each monitor's snapshot queue. Zero means 60.
	HistoryCapacity int
}

// Service is the registry of active monitors behind the public facade.
// One coarse mutex orders all lifecycle operations; per-monitor locks are
// only ever taken while it is held or from the monitor's own goroutine,
// so lock order is always registry then monitor.
type Service struct {
	mu          sync.Mutex
	initialized bool
	monitors    map[uint32]*Monitor

	opts Options

	// callback is the single global snapshot callback slot. Stored
	// atomically so aggregation goroutines read it without the registry
	// lock.
	callback atomic.Value // of MetricsCallback

	log plog.Logger
}

// NewService builds an uninitialized Service. Operations that need it call
// Initialize implicitly.
func NewService(opts Options) *Service {
	return &Service{
		opts: opts,
		log:  logger.NewLoggerWithContext("monitor_service"),
	}
}

// Initialize prepares the registry. It is idempotent; every lifecycle
// operation calls it implicitly, so explicit calls are optional.
func (s *Service) Initialize() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initializeLocked()
	return StatusSuccess
}

func (s *Service) initializeLocked() {
	if s.initialized {
		return
	}
	if s.opts.Frequency == 0 {
		s.opts.Frequency = windowsapi.QPCFrequency()
	}
	if s.opts.NowTicks == nil {
		s.opts.NowTicks = windowsapi.QPCNow
	}
	if s.opts.HistoryCapacity <= 0 {
		s.opts.HistoryCapacity = 60
	}
	s.monitors = make(map[uint32]*Monitor)
	s.initialized = true
	s.log.Debug().Uint64("frequency", s.opts.Frequency).Msg("Monitor service initialized")
}

// StartMonitoring creates and starts a monitor for pid, publishing
// snapshots every updateFrequencyMs milliseconds. A start failure leaves
// no registry entry and no running goroutines behind.
func (s *Service) StartMonitoring(pid uint32, updateFrequencyMs uint32) Status {
	if pid == 0 || updateFrequencyMs == 0 {
		return StatusErrorInvalidParameter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.initializeLocked()

	if m, exists := s.monitors[pid]; exists {
		if m.isRunning() {
			return StatusErrorAlreadyRunning
		}
		// The previous monitor died in the background; reap it so the pid
		// can be monitored again.
		delete(s.monitors, pid)
		s.reap(pid, m)
	}
	if s.opts.Capture == nil {
		s.log.Error().Msg("No capture factory configured")
		return StatusErrorStartFailed
	}

	m := newMonitor(pid, updateFrequencyMs, s.opts.Frequency, s.opts.NowTicks,
		s.opts.Capture(pid), s.opts.HistoryCapacity, s.loadCallback)
	if err := m.start(); err != nil {
		s.log.Error().Err(err).Uint32("pid", pid).Msg("Failed to start capture for process")
		return StatusErrorStartFailed
	}

	s.monitors[pid] = m
	s.log.Info().Uint32("pid", pid).Uint32("update_ms", updateFrequencyMs).
		Msg("Monitoring started")
	return StatusSuccess
}

// StopMonitoring tears down the monitor for pid. The registry entry is
// removed even when the underlying trace refuses to stop cleanly; a
// capture stop error is logged, not surfaced, because the monitor is down
// either way.
func (s *Service) StopMonitoring(pid uint32) Status {
	if pid == 0 {
		return StatusErrorInvalidParameter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.initializeLocked()

	m, exists := s.monitors[pid]
	if !exists {
		return StatusErrorNotRunning
	}
	delete(s.monitors, pid)

	if err := m.stop(); err != nil {
		s.log.Warn().Err(err).Uint32("pid", pid).Msg("Capture stop reported an error")
	}
	s.log.Info().Uint32("pid", pid).Msg("Monitoring stopped")
	return StatusSuccess
}

// GetMetrics copies the latest snapshot for pid into out. When history is
// non-nil it also receives the queued snapshots, and the queue is cleared:
// a second call with no snapshots produced in between yields an empty
// history. out must be non-nil.
func (s *Service) GetMetrics(pid uint32, out *MetricsSnapshot, history *[]MetricsSnapshot) Status {
	if pid == 0 || out == nil {
		return StatusErrorInvalidParameter
	}

	s.mu.Lock()
	m, exists := s.monitors[pid]
	if exists && !m.isRunning() {
		delete(s.monitors, pid)
		s.mu.Unlock()
		s.reap(pid, m)
		return StatusErrorNotRunning
	}
	s.mu.Unlock()
	if !exists {
		return StatusErrorNotRunning
	}

	snap, _ := m.latestSnapshot()
	*out = snap
	if history != nil {
		*history = m.drainHistory()
	}
	return StatusSuccess
}

// reap joins a dead monitor's goroutine and releases its capture source.
// Called after the registry entry is already gone.
func (s *Service) reap(pid uint32, m *Monitor) {
	if err := m.stop(); err != nil {
		s.log.Warn().Err(err).Uint32("pid", pid).Msg("Capture stop reported an error while reaping")
	}
	s.log.Warn().Uint32("pid", pid).Msg("Monitor had terminated in the background, entry removed")
}

// SetMetricsCallback installs fn as the single global snapshot callback.
// Passing nil clears it. The change applies to running monitors from their
// next materialization.
func (s *Service) SetMetricsCallback(fn MetricsCallback) Status {
	s.callback.Store(callbackSlot{fn})
	return StatusSuccess
}

// callbackSlot wraps the callback so atomic.Value accepts a nil fn.
type callbackSlot struct{ fn MetricsCallback }

func (s *Service) loadCallback() MetricsCallback {
	v := s.callback.Load()
	if v == nil {
		return nil
	}
	return v.(callbackSlot).fn
}

// Shutdown stops every monitor and returns the service to its
// uninitialized state. Safe to call on an uninitialized service.
func (s *Service) Shutdown() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return StatusSuccess
	}

	for pid, m := range s.monitors {
		if err := m.stop(); err != nil {
			s.log.Warn().Err(err).Uint32("pid", pid).Msg("Capture stop reported an error during shutdown")
		}
	}
	s.monitors = nil
	s.initialized = false
	s.log.Info().Msg("Monitor service shut down")
	return StatusSuccess
}

// MonitoredPIDs lists the pids with active monitors, for metric scrapes.
func (s *Service) MonitoredPIDs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	pids := make([]uint32, 0, len(s.monitors))
	for pid := range s.monitors {
		pids = append(pids, pid)
	}
	return pids
}
