package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	plog "github.com/phuslu/log"

	"frame_exporter/internal/logger"
	"frame_exporter/internal/present"
	"frame_exporter/internal/stats"
)

// CaptureSource is the event feed a Monitor consumes. The production
// implementation wraps an ETW real-time session; tests substitute a fake.
//
// Events() must stay drainable until Done() is closed. Done() closes when
// the source's delivery loop exits, whether through Stop or through an
// external fault such as the trace session being killed.
type CaptureSource interface {
	Start() error
	Stop() error
	Events() <-chan present.Event
	Done() <-chan struct{}
}

// CaptureFactory builds a CaptureSource for one target process.
type CaptureFactory func(pid uint32) CaptureSource

// liveMetrics holds the instantaneous fields carried into every snapshot.
// Only the aggregation goroutine touches it.
type liveMetrics struct {
	frameTimeMs    float64
	gpuTimeMs      float64
	gpuVideoTimeMs float64
	cpuTimeMs      float64

	destWidth       uint32
	destHeight      uint32
	supportsTearing bool
	syncInterval    uint32
	frameID         uint64
	presentFlags    uint32
	runtime         present.Runtime
	mode            present.Mode
}

// Monitor owns the aggregation side of one monitored process: it drains the
// capture source, pairs presents per swap chain into frame samples, keeps
// the rolling statistics window and materializes snapshots on a fixed
// cadence.
type Monitor struct {
	pid               uint32
	updateFrequencyMs uint32

	// frequency is the QPC tick rate used both for the window span and for
	// tick-to-millisecond conversion.
	frequency uint64
	nowTicks  func() uint64

	capture   CaptureSource
	collector *stats.Collector
	history   *snapshotHistory

	// lastPresent tracks the previous present per swap chain so frame time
	// is the gap between consecutive presents on the same chain.
	lastPresent map[uint64]present.Event
	live        liveMetrics

	// metricsMu guards latest/hasLatest only. It is never held while the
	// history lock is held or while the callback runs.
	metricsMu sync.Mutex
	latest    MetricsSnapshot
	hasLatest bool

	// callback is resolved per materialization so SetMetricsCallback takes
	// effect without restarting monitors.
	callback func() MetricsCallback

	// firstPublish is latched in start, before the aggregation goroutine
	// launches, so the first snapshot deadline is fixed the moment
	// StartMonitoring returns.
	firstPublish uint64

	running atomic.Bool
	done    chan struct{}

	log plog.Logger
}

func newMonitor(pid, updateFrequencyMs uint32, frequency uint64, nowTicks func() uint64,
	capture CaptureSource, historyCap int, callback func() MetricsCallback) *Monitor {
	return &Monitor{
		pid:               pid,
		updateFrequencyMs: updateFrequencyMs,
		frequency:         frequency,
		nowTicks:          nowTicks,
		capture:           capture,
		collector:         stats.NewCollector(frequency),
		history:           newSnapshotHistory(historyCap),
		lastPresent:       make(map[uint64]present.Event, 4),
		callback:          callback,
		done:              make(chan struct{}),
		log:               logger.NewLoggerWithContext("frame_monitor"),
	}
}

// start launches the capture source and the aggregation goroutine.
func (m *Monitor) start() error {
	if err := m.capture.Start(); err != nil {
		return err
	}
	m.running.Store(true)
	m.firstPublish = m.nowTicks() + m.publishTicks()
	go m.run()
	return nil
}

// publishTicks is the snapshot cadence converted to clock ticks.
func (m *Monitor) publishTicks() uint64 {
	t := uint64(m.updateFrequencyMs) * m.frequency / 1000
	if t == 0 {
		t = 1
	}
	return t
}

// stop signals the aggregation goroutine, joins it, then stops the capture
// source. A capture stop failure is reported but the monitor is still down.
func (m *Monitor) stop() error {
	m.running.Store(false)
	<-m.done
	return m.capture.Stop()
}

// pollInterval is the aggregation loop's sleep, a tenth of the update
// cadence clamped to keep the loop responsive without spinning.
func (m *Monitor) pollInterval() time.Duration {
	d := time.Duration(m.updateFrequencyMs) * time.Millisecond / 10
	if d < time.Millisecond {
		d = time.Millisecond
	}
	if d > 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// run is the aggregation loop. Each iteration drains every queued event
// without blocking, then materializes a snapshot when the update cadence
// has elapsed. The loop exits when the running flag clears or the capture
// source terminates.
func (m *Monitor) run() {
	defer close(m.done)

	sleep := m.pollInterval()
	publishTicks := m.publishTicks()
	nextPublish := m.firstPublish

	for m.running.Load() {
		m.drainEvents()

		if now := m.nowTicks(); now >= nextPublish {
			m.materialize(now)
			nextPublish = now + publishTicks
		}

		select {
		case <-m.capture.Done():
			// Normal Stop also closes Done; only an unexpected close is
			// worth flagging.
			if m.running.CompareAndSwap(true, false) {
				m.log.Warn().
					Uint32("pid", m.pid).
					Msg("Capture source terminated unexpectedly, monitor going down")
			}
		case <-time.After(sleep):
		}
	}

	// Pick up anything delivered between the last drain and shutdown so
	// the final snapshot reflects every captured present.
	m.drainEvents()
	m.materialize(m.nowTicks())
}

func (m *Monitor) drainEvents() {
	for {
		select {
		case ev := <-m.capture.Events():
			m.ingest(ev)
		default:
			return
		}
	}
}

// ingest folds one present event into the live fields and, when it pairs
// with a previous present on the same swap chain, into the rolling window.
func (m *Monitor) ingest(ev present.Event) {
	if ev.ProcessID != m.pid {
		return
	}
	if ev.FinalState == present.StateLost {
		return
	}

	m.live.destWidth = ev.DestWidth
	m.live.destHeight = ev.DestHeight
	m.live.supportsTearing = ev.SupportsTearing
	m.live.syncInterval = ev.SyncInterval
	m.live.frameID = ev.FrameID
	m.live.presentFlags = ev.PresentFlags
	m.live.runtime = ev.Runtime
	m.live.mode = ev.Mode

	// The previous present always gets replaced, but a pair only yields a
	// frame sample when the predecessor actually reached the screen.
	prev, seen := m.lastPresent[ev.SwapChain]
	m.lastPresent[ev.SwapChain] = ev
	if !seen || prev.FinalState != present.StatePresented {
		return
	}

	var frameMs float64
	if ev.StartTicks > prev.StartTicks {
		frameMs = float64(ev.StartTicks-prev.StartTicks) / float64(m.frequency) * 1000
	}
	gpuMs := float64(ev.GPUDurationTicks) / float64(m.frequency) * 1000
	cpuMs := frameMs - gpuMs
	if cpuMs < 0 {
		cpuMs = 0
	}

	m.live.frameTimeMs = frameMs
	m.live.gpuTimeMs = gpuMs
	m.live.gpuVideoTimeMs = float64(ev.GPUVideoDurationTicks) / float64(m.frequency) * 1000
	m.live.cpuTimeMs = cpuMs

	m.collector.AddSample(stats.FrameSample{
		FrameTimeMs: frameMs,
		GPUTimeMs:   gpuMs,
		CPUTimeMs:   cpuMs,
		Timestamp:   ev.StartTicks,
	})
}

// materialize evicts stale samples against the current clock, builds a
// snapshot and publishes it to the latest slot, the history queue and the
// callback. An idle window still publishes, with FrameCount zero, so
// consumers can tell "no frames" from "no data".
func (m *Monitor) materialize(now uint64) {
	if now > m.frequency {
		m.collector.EvictBefore(now - m.frequency)
	}
	ws := m.collector.WindowStats()

	snap := MetricsSnapshot{
		FrameTime:     m.live.frameTimeMs,
		GPURenderTime: m.live.gpuTimeMs,
		GPUVideoTime:  m.live.gpuVideoTimeMs,
		CPURenderTime: m.live.cpuTimeMs,
		AppRenderTime: m.live.cpuTimeMs,

		DestWidth:       m.live.destWidth,
		DestHeight:      m.live.destHeight,
		SupportsTearing: m.live.supportsTearing,
		SyncInterval:    m.live.syncInterval,
		FrameID:         m.live.frameID,
		PresentFlags:    m.live.presentFlags,
		Runtime:         m.live.runtime.String(),
		PresentMode:     m.live.mode.String(),

		MinFrameTime:     ws.MinFrameTimeMs,
		MaxFrameTime:     ws.MaxFrameTimeMs,
		MinGPURenderTime: ws.MinGPUTimeMs,
		MaxGPURenderTime: ws.MaxGPUTimeMs,
		MinCPURenderTime: ws.MinCPUTimeMs,
		MaxCPURenderTime: ws.MaxCPUTimeMs,

		FrameTimeStdDev:        ws.StdDevMs,
		FrameTime99Percentile:  ws.P99FrameTimeMs,
		FrameTime95Percentile:  ws.P95FrameTimeMs,
		FrameTime995Percentile: ws.P995FrameTimeMs,
		FrameCount:             uint32(ws.Count),
	}
	if ws.Count > 0 && ws.AvgFrameTimeMs > 0 {
		snap.FPS = 1000 / ws.AvgFrameTimeMs
	}

	m.metricsMu.Lock()
	m.latest = snap
	m.hasLatest = true
	m.metricsMu.Unlock()

	m.history.push(snap)

	if cb := m.callback(); cb != nil {
		cb(m.pid, snap)
	}
}

// latestSnapshot returns the most recent materialized snapshot, if any.
func (m *Monitor) latestSnapshot() (MetricsSnapshot, bool) {
	m.metricsMu.Lock()
	defer m.metricsMu.Unlock()
	return m.latest, m.hasLatest
}

// drainHistory destructively returns all queued snapshots.
func (m *Monitor) drainHistory() []MetricsSnapshot {
	return m.history.drain()
}

// isRunning reports whether the aggregation loop is still live.
func (m *Monitor) isRunning() bool {
	return m.running.Load()
}
