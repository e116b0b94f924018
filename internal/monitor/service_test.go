package monitor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"frame_exporter/internal/present"
)

// Test clock: one tick per microsecond, advanced manually. Snapshots are
// only materialized when the test moves the clock past the update cadence,
// which keeps every assertion deterministic.
const testFrequency = 1_000_000

type fakeClock struct {
	ticks atomic.Uint64
}

func newFakeClock(start uint64) *fakeClock {
	c := &fakeClock{}
	c.ticks.Store(start)
	return c
}

func (c *fakeClock) now() uint64      { return c.ticks.Load() }
func (c *fakeClock) advance(d uint64) { c.ticks.Add(d) }
func (c *fakeClock) set(ticks uint64) { c.ticks.Store(ticks) }

type fakeCapture struct {
	events   chan present.Event
	done     chan struct{}
	startErr error
	closed   atomic.Bool
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{
		events: make(chan present.Event, 256),
		done:   make(chan struct{}),
	}
}

func (f *fakeCapture) Start() error { return f.startErr }

func (f *fakeCapture) Stop() error {
	f.terminate()
	return nil
}

// terminate closes the done channel exactly once, whether through Stop or
// through a simulated external session kill.
func (f *fakeCapture) terminate() {
	if f.closed.CompareAndSwap(false, true) {
		close(f.done)
	}
}

func (f *fakeCapture) Events() <-chan present.Event { return f.events }
func (f *fakeCapture) Done() <-chan struct{}        { return f.done }

// testService wires a Service to fakes and records each capture by pid.
func testService(clock *fakeClock) (*Service, map[uint32]*fakeCapture) {
	captures := make(map[uint32]*fakeCapture)
	svc := NewService(Options{
		Capture: func(pid uint32) CaptureSource {
			f := newFakeCapture()
			captures[pid] = f
			return f
		},
		Frequency:       testFrequency,
		NowTicks:        clock.now,
		HistoryCapacity: 16,
	})
	return svc, captures
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func presentAt(pid uint32, swapChain, ticks uint64) present.Event {
	return present.Event{
		ProcessID:  pid,
		SwapChain:  swapChain,
		StartTicks: ticks,
		FinalState: present.StatePresented,
		Runtime:    present.RuntimeDXGI,
	}
}

func TestStartMonitoringValidatesParameters(t *testing.T) {
	svc, _ := testService(newFakeClock(0))
	defer svc.Shutdown()

	tests := []struct {
		name     string
		pid      uint32
		updateMs uint32
		want     Status
	}{
		{"zero pid", 0, 100, StatusErrorInvalidParameter},
		{"zero update frequency", 1234, 0, StatusErrorInvalidParameter},
		{"both zero", 0, 0, StatusErrorInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.StartMonitoring(tt.pid, tt.updateMs); got != tt.want {
				t.Errorf("StartMonitoring(%d, %d) = %v, want %v", tt.pid, tt.updateMs, got, tt.want)
			}
		})
	}
}

func TestDoubleStartReturnsAlreadyRunning(t *testing.T) {
	svc, _ := testService(newFakeClock(0))
	defer svc.Shutdown()

	if got := svc.StartMonitoring(42, 10); got != StatusSuccess {
		t.Fatalf("first StartMonitoring = %v", got)
	}
	if got := svc.StartMonitoring(42, 10); got != StatusErrorAlreadyRunning {
		t.Fatalf("second StartMonitoring = %v, want %v", got, StatusErrorAlreadyRunning)
	}
}

func TestStopUnknownReturnsNotRunning(t *testing.T) {
	svc, _ := testService(newFakeClock(0))
	defer svc.Shutdown()

	if got := svc.StopMonitoring(9999); got != StatusErrorNotRunning {
		t.Fatalf("StopMonitoring(9999) = %v, want %v", got, StatusErrorNotRunning)
	}
	if got := svc.StopMonitoring(0); got != StatusErrorInvalidParameter {
		t.Fatalf("StopMonitoring(0) = %v, want %v", got, StatusErrorInvalidParameter)
	}
}

func TestStartFailureLeavesNoEntry(t *testing.T) {
	clock := newFakeClock(0)
	failing := newFakeCapture()
	failing.startErr = errors.New("access denied")

	first := true
	svc := NewService(Options{
		Capture: func(pid uint32) CaptureSource {
			if first {
				first = false
				return failing
			}
			return newFakeCapture()
		},
		Frequency: testFrequency,
		NowTicks:  clock.now,
	})
	defer svc.Shutdown()

	if got := svc.StartMonitoring(42, 10); got != StatusErrorStartFailed {
		t.Fatalf("StartMonitoring with failing capture = %v, want %v", got, StatusErrorStartFailed)
	}
	// The failed attempt must not leave a registry entry behind.
	if got := svc.StartMonitoring(42, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring after failure = %v, want %v", got, StatusSuccess)
	}
}

func TestGetMetricsValidatesParameters(t *testing.T) {
	svc, _ := testService(newFakeClock(0))
	defer svc.Shutdown()

	var out MetricsSnapshot
	if got := svc.GetMetrics(0, &out, nil); got != StatusErrorInvalidParameter {
		t.Errorf("GetMetrics(0, ...) = %v, want %v", got, StatusErrorInvalidParameter)
	}
	if got := svc.GetMetrics(42, nil, nil); got != StatusErrorInvalidParameter {
		t.Errorf("GetMetrics(42, nil, nil) = %v, want %v", got, StatusErrorInvalidParameter)
	}
	if got := svc.GetMetrics(42, &out, nil); got != StatusErrorNotRunning {
		t.Errorf("GetMetrics for unmonitored pid = %v, want %v", got, StatusErrorNotRunning)
	}
}

func TestSteadyPresentsProduceExpectedRates(t *testing.T) {
	clock := newFakeClock(5_000_000)
	svc, captures := testService(clock)
	defer svc.Shutdown()

	const pid = 42
	if got := svc.StartMonitoring(pid, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring = %v", got)
	}

	// 61 presents at 16.667ms spacing over one swap chain: 60 paired
	// frame samples at ~60 fps.
	const spacing = 16_667
	base := clock.now()
	last := base
	for i := 0; i < 61; i++ {
		ts := base + uint64(i)*spacing
		captures[pid].events <- presentAt(pid, 0xAB, ts)
		last = ts
	}
	clock.set(last + 20_000)

	var out MetricsSnapshot
	waitFor(t, "windowed snapshot", func() bool {
		return svc.GetMetrics(pid, &out, nil) == StatusSuccess && out.FrameCount > 0
	})

	if out.FrameCount < 55 || out.FrameCount > 60 {
		t.Errorf("FrameCount = %d, want ~60", out.FrameCount)
	}
	if out.FPS < 59.5 || out.FPS > 60.5 {
		t.Errorf("FPS = %.3f, want ~60", out.FPS)
	}
	wantFrame := float64(spacing) / testFrequency * 1000
	if diff := out.FrameTime - wantFrame; diff < -0.01 || diff > 0.01 {
		t.Errorf("FrameTime = %.4f, want %.4f", out.FrameTime, wantFrame)
	}
	if out.Runtime != "DXGI" {
		t.Errorf("Runtime = %q, want DXGI", out.Runtime)
	}
}

func TestHistoryDrainIsDestructive(t *testing.T) {
	clock := newFakeClock(5_000_000)
	svc, captures := testService(clock)
	defer svc.Shutdown()

	const pid = 7
	if got := svc.StartMonitoring(pid, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring = %v", got)
	}
	captures[pid].events <- presentAt(pid, 1, clock.now())
	captures[pid].events <- presentAt(pid, 1, clock.now()+10_000)

	// One clock step past the cadence materializes exactly one snapshot,
	// then the frozen clock keeps further publishes from happening.
	clock.advance(20_000)

	var out MetricsSnapshot
	waitFor(t, "first snapshot", func() bool {
		return svc.GetMetrics(pid, &out, nil) == StatusSuccess && out.FrameCount > 0
	})

	var history []MetricsSnapshot
	if got := svc.GetMetrics(pid, &out, &history); got != StatusSuccess {
		t.Fatalf("GetMetrics with history = %v", got)
	}
	if len(history) == 0 {
		t.Fatal("first drain returned no snapshots")
	}
	if got := svc.GetMetrics(pid, &out, &history); got != StatusSuccess {
		t.Fatalf("second GetMetrics = %v", got)
	}
	if len(history) != 0 {
		t.Fatalf("second drain returned %d snapshots, want 0", len(history))
	}
}

func TestIdleWindowPublishesZeroFrameCount(t *testing.T) {
	clock := newFakeClock(5_000_000)
	svc, _ := testService(clock)
	defer svc.Shutdown()

	const pid = 11
	if got := svc.StartMonitoring(pid, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring = %v", got)
	}
	clock.advance(20_000)

	var out MetricsSnapshot
	var hist []MetricsSnapshot
	waitFor(t, "idle snapshot", func() bool {
		return svc.GetMetrics(pid, &out, &hist) == StatusSuccess && len(hist) > 0
	})

	if out.FrameCount != 0 {
		t.Errorf("idle FrameCount = %d, want 0", out.FrameCount)
	}
	if out.FPS != 0 {
		t.Errorf("idle FPS = %.3f, want 0", out.FPS)
	}
}

func TestLostAndForeignEventsAreSkipped(t *testing.T) {
	clock := newFakeClock(5_000_000)
	svc, captures := testService(clock)
	defer svc.Shutdown()

	const pid = 13
	if got := svc.StartMonitoring(pid, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring = %v", got)
	}

	base := clock.now()
	captures[pid].events <- presentAt(pid, 1, base)

	lost := presentAt(pid, 1, base+5_000)
	lost.FinalState = present.StateLost
	captures[pid].events <- lost

	captures[pid].events <- presentAt(999, 1, base+8_000)
	captures[pid].events <- presentAt(pid, 1, base+20_000)

	clock.set(base + 40_000)

	var out MetricsSnapshot
	waitFor(t, "snapshot", func() bool {
		return svc.GetMetrics(pid, &out, nil) == StatusSuccess && out.FrameCount > 0
	})

	if out.FrameCount != 1 {
		t.Fatalf("FrameCount = %d, want 1", out.FrameCount)
	}
	// The only valid pair spans base to base+20000 ticks: 20ms.
	if out.FrameTime < 19.99 || out.FrameTime > 20.01 {
		t.Errorf("FrameTime = %.4f, want 20.0", out.FrameTime)
	}
}

func TestDiscardedPresentsDoNotPairForward(t *testing.T) {
	clock := newFakeClock(5_000_000)
	svc, captures := testService(clock)
	defer svc.Shutdown()

	const pid = 17
	if got := svc.StartMonitoring(pid, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring = %v", got)
	}

	base := clock.now()
	captures[pid].events <- presentAt(pid, 1, base)

	discarded := presentAt(pid, 1, base+10_000)
	discarded.FinalState = present.StateDiscarded
	captures[pid].events <- discarded

	captures[pid].events <- presentAt(pid, 1, base+20_000)

	clock.set(base + 40_000)

	var out MetricsSnapshot
	waitFor(t, "snapshot", func() bool {
		return svc.GetMetrics(pid, &out, nil) == StatusSuccess && out.FrameCount > 0
	})

	// The discarded present still replaces the previous one, so the
	// discarded-to-presented gap never becomes a frame sample. Only the
	// presented-to-discarded gap pairs: one sample of 10ms.
	if out.FrameCount != 1 {
		t.Fatalf("FrameCount = %d, want 1", out.FrameCount)
	}
	if out.FrameTime < 9.99 || out.FrameTime > 10.01 {
		t.Errorf("FrameTime = %.4f, want 10.0", out.FrameTime)
	}
}

func TestGPUTimeExceedingFrameTimeClampsCPUTime(t *testing.T) {
	clock := newFakeClock(5_000_000)
	svc, captures := testService(clock)
	defer svc.Shutdown()

	const pid = 23
	if got := svc.StartMonitoring(pid, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring = %v", got)
	}

	base := clock.now()
	captures[pid].events <- presentAt(pid, 1, base)

	// GPU busy for 50ms against a 10ms present gap: the CPU residual
	// would be negative and must clamp to zero.
	heavy := presentAt(pid, 1, base+10_000)
	heavy.GPUDurationTicks = 50_000
	captures[pid].events <- heavy

	clock.set(base + 30_000)

	var out MetricsSnapshot
	waitFor(t, "snapshot", func() bool {
		return svc.GetMetrics(pid, &out, nil) == StatusSuccess && out.FrameCount > 0
	})

	if out.CPURenderTime != 0 {
		t.Errorf("CPURenderTime = %.4f, want 0", out.CPURenderTime)
	}
	if out.MinCPURenderTime != 0 || out.MaxCPURenderTime != 0 {
		t.Errorf("CPU extrema = [%.4f, %.4f], want [0, 0]",
			out.MinCPURenderTime, out.MaxCPURenderTime)
	}
	if out.GPURenderTime < 49.99 || out.GPURenderTime > 50.01 {
		t.Errorf("GPURenderTime = %.4f, want 50.0", out.GPURenderTime)
	}
}

func TestFirstSnapshotDeadlineLatchedAtStart(t *testing.T) {
	clock := newFakeClock(5_000_000)
	svc, _ := testService(clock)
	defer svc.Shutdown()

	const pid = 19
	if got := svc.StartMonitoring(pid, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring = %v", got)
	}

	// A single step of exactly one cadence must be enough to publish: the
	// first deadline derives from the clock as it stood when
	// StartMonitoring returned, not from whenever the aggregation
	// goroutine happened to run first.
	clock.advance(10_000)

	var out MetricsSnapshot
	var hist []MetricsSnapshot
	waitFor(t, "first snapshot", func() bool {
		return svc.GetMetrics(pid, &out, &hist) == StatusSuccess && len(hist) > 0
	})
}

func TestMetricsCallbackReceivesSnapshots(t *testing.T) {
	clock := newFakeClock(5_000_000)
	svc, captures := testService(clock)
	defer svc.Shutdown()

	received := make(chan MetricsSnapshot, 64)
	svc.SetMetricsCallback(func(pid uint32, snap MetricsSnapshot) {
		if pid != 21 {
			return
		}
		select {
		case received <- snap:
		default:
		}
	})

	const pid = 21
	if got := svc.StartMonitoring(pid, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring = %v", got)
	}
	captures[pid].events <- presentAt(pid, 1, clock.now())
	captures[pid].events <- presentAt(pid, 1, clock.now()+16_667)
	clock.advance(30_000)

	select {
	case snap := <-received:
		if snap.FrameCount != 1 {
			t.Errorf("callback FrameCount = %d, want 1", snap.FrameCount)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never invoked")
	}

	// Clearing the slot must stop further deliveries.
	if got := svc.SetMetricsCallback(nil); got != StatusSuccess {
		t.Fatalf("SetMetricsCallback(nil) = %v", got)
	}
}

func TestCaptureTerminationSurfacesNotRunning(t *testing.T) {
	clock := newFakeClock(5_000_000)
	svc, captures := testService(clock)
	defer svc.Shutdown()

	const pid = 31
	if got := svc.StartMonitoring(pid, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring = %v", got)
	}

	// Simulate the trace session being killed externally.
	captures[pid].terminate()

	var out MetricsSnapshot
	waitFor(t, "not-running status", func() bool {
		return svc.GetMetrics(pid, &out, nil) == StatusErrorNotRunning
	})

	// The pid can be monitored again after the dead entry is reaped.
	if got := svc.StartMonitoring(pid, 10); got != StatusSuccess {
		t.Fatalf("restart after termination = %v", got)
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	clock := newFakeClock(0)
	svc, captures := testService(clock)

	if got := svc.StartMonitoring(1, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring(1) = %v", got)
	}
	if got := svc.StartMonitoring(2, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring(2) = %v", got)
	}
	if got := svc.Shutdown(); got != StatusSuccess {
		t.Fatalf("Shutdown = %v", got)
	}

	for pid, f := range captures {
		if !f.closed.Load() {
			t.Errorf("capture for pid %d not stopped", pid)
		}
	}
	var out MetricsSnapshot
	if got := svc.GetMetrics(1, &out, nil); got != StatusErrorNotRunning {
		t.Errorf("GetMetrics after shutdown = %v, want %v", got, StatusErrorNotRunning)
	}

	// The service is reusable after shutdown.
	if got := svc.StartMonitoring(3, 10); got != StatusSuccess {
		t.Fatalf("StartMonitoring after shutdown = %v", got)
	}
	svc.Shutdown()
}

func TestShutdownOnUninitializedService(t *testing.T) {
	svc, _ := testService(newFakeClock(0))
	if got := svc.Shutdown(); got != StatusSuccess {
		t.Fatalf("Shutdown on fresh service = %v", got)
	}
}
