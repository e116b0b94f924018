package stats

import (
	"math"
	"testing"
)

const testFrequency = 10_000_000 // 10 MHz QPC, matches common hardware

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// exactSums recomputes sums over the live window from scratch.
func exactSums(c *Collector) (frame, gpu, cpu float64) {
	for _, s := range c.window() {
		frame += s.FrameTimeMs
		gpu += s.GPUTimeMs
		cpu += s.CPUTimeMs
	}
	return
}

func TestIncrementalSumsMatchRecomputation(t *testing.T) {
	c := NewCollector(testFrequency)

	// Irregular cadence so samples continuously age in and out of the window.
	ts := uint64(1)
	for i := 0; i < 5000; i++ {
		step := uint64(50_000 + (i%37)*13_000) // 5ms..~9.7ms
		ts += step
		c.AddSample(FrameSample{
			FrameTimeMs: float64(step) / testFrequency * 1000,
			GPUTimeMs:   float64(i%11) + 0.5,
			CPUTimeMs:   float64(i%7) + 0.25,
			Timestamp:   ts,
		})

		if i%211 == 0 {
			frame, gpu, cpu := exactSums(c)
			if !almostEqual(frame, c.sumFrame, 1e-6) {
				t.Fatalf("frame sum drift at sample %d: incremental %v exact %v", i, c.sumFrame, frame)
			}
			if !almostEqual(gpu, c.sumGPU, 1e-6) {
				t.Fatalf("gpu sum drift at sample %d: incremental %v exact %v", i, c.sumGPU, gpu)
			}
			if !almostEqual(cpu, c.sumCPU, 1e-6) {
				t.Fatalf("cpu sum drift at sample %d: incremental %v exact %v", i, c.sumCPU, cpu)
			}
			if c.count != len(c.window()) {
				t.Fatalf("count %d does not match window length %d", c.count, len(c.window()))
			}
		}
	}
}

func TestLazyExtremaMatchRescan(t *testing.T) {
	c := NewCollector(testFrequency)

	ts := uint64(1)
	values := []float64{40, 5, 33, 12, 7, 90, 2, 55, 18, 61}
	for i := 0; i < 400; i++ {
		ts += 300_000 // 30ms apart, window holds ~33 samples
		c.AddSample(FrameSample{
			FrameTimeMs: values[i%len(values)] + float64(i%3),
			GPUTimeMs:   values[(i+4)%len(values)],
			CPUTimeMs:   values[(i+7)%len(values)],
			Timestamp:   ts,
		})
	}
	if !c.extremaDirty {
		t.Fatal("expected stale extrema after evictions")
	}

	c.recomputeExtremaIfStale()

	var wantMin, wantMax float64 = math.Inf(1), math.Inf(-1)
	for _, s := range c.window() {
		wantMin = math.Min(wantMin, s.FrameTimeMs)
		wantMax = math.Max(wantMax, s.FrameTimeMs)
	}
	if c.minFrame != wantMin || c.maxFrame != wantMax {
		t.Fatalf("extrema mismatch: got [%v, %v], want [%v, %v]", c.minFrame, c.maxFrame, wantMin, wantMax)
	}
}

func TestPercentileMonotonicInP(t *testing.T) {
	c := NewCollector(testFrequency)
	ts := uint64(1)
	for i := 0; i < 100; i++ {
		ts += 100_000
		c.AddSample(FrameSample{
			FrameTimeMs: float64((i*37)%100) + 1,
			Timestamp:   ts,
		})
	}

	prev := -1.0
	for p := 0.0; p <= 100.0; p += 0.5 {
		v := c.Percentile(p)
		if v < prev {
			t.Fatalf("percentile(%v) = %v < percentile(previous) = %v", p, v, prev)
		}
		prev = v
	}
}

func TestPercentileNearestRank(t *testing.T) {
	c := NewCollector(testFrequency)
	ts := uint64(1)
	for _, v := range []float64{10, 20, 30, 40} {
		ts += 1000
		c.AddSample(FrameSample{FrameTimeMs: v, Timestamp: ts})
	}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},    // index 0
		{25, 20},   // floor(4*0.25) = 1
		{50, 30},   // floor(4*0.50) = 2
		{95, 40},   // floor(4*0.95) = 3
		{100, 40},  // clamped to last
		{99.5, 40}, // floor(4*0.995) = 3
	}
	for _, tt := range tests {
		if got := c.Percentile(tt.p); got != tt.want {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestWindowStatsIdempotent(t *testing.T) {
	c := NewCollector(testFrequency)
	ts := uint64(1)
	for i := 0; i < 120; i++ {
		ts += 166_670
		c.AddSample(FrameSample{
			FrameTimeMs: 16.667 + float64(i%5)*0.1,
			GPUTimeMs:   12.0,
			CPUTimeMs:   4.0,
			Timestamp:   ts,
		})
	}

	first := c.WindowStats()
	second := c.WindowStats()
	if first != second {
		t.Fatalf("materialization is not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestSteadySixtyHzWindow(t *testing.T) {
	c := NewCollector(testFrequency)

	// 60 presents spaced exactly 166,670 ticks apart. The first present has
	// no predecessor, so 59 samples are produced.
	ts := uint64(1_000_000)
	for i := 0; i < 59; i++ {
		ts += 166_670
		c.AddSample(FrameSample{
			FrameTimeMs: 166_670.0 / testFrequency * 1000,
			GPUTimeMs:   10.0,
			CPUTimeMs:   6.667,
			Timestamp:   ts,
		})
	}

	ws := c.WindowStats()
	if ws.Count != 59 {
		t.Fatalf("expected 59 samples in window, got %d", ws.Count)
	}
	fps := 1000.0 / ws.AvgFrameTimeMs
	if !almostEqual(fps, 60.0, 0.05) {
		t.Fatalf("expected ~60 fps, got %v", fps)
	}
	if !almostEqual(ws.StdDevMs, 0, 1e-4) {
		t.Fatalf("expected zero deviation on a perfectly steady source, got %v", ws.StdDevMs)
	}
}

func TestEvictionBoundary(t *testing.T) {
	c := NewCollector(testFrequency)

	c.AddSample(FrameSample{FrameTimeMs: 1, Timestamp: 1_000_000})
	c.AddSample(FrameSample{FrameTimeMs: 2, Timestamp: 5_000_000})
	// Newest at 11,500,000: cutoff is 1,500,000, evicting only the first.
	c.AddSample(FrameSample{FrameTimeMs: 3, Timestamp: 11_500_000})
	if c.Count() != 2 {
		t.Fatalf("expected 2 samples after aging out the oldest, got %d", c.Count())
	}

	// An explicit eviction past everything empties the window.
	c.EvictBefore(12_000_000)
	if c.Count() != 0 {
		t.Fatalf("expected empty window, got %d samples", c.Count())
	}
	if ws := c.WindowStats(); ws != (WindowStats{}) {
		t.Fatalf("expected zero-valued stats on empty window, got %+v", ws)
	}
}

func BenchmarkAddSample(b *testing.B) {
	c := NewCollector(testFrequency)
	ts := uint64(1)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ts += 166_670
		c.AddSample(FrameSample{
			FrameTimeMs: 16.667,
			GPUTimeMs:   12,
			CPUTimeMs:   4,
			Timestamp:   ts,
		})
	}
}

func BenchmarkWindowStats(b *testing.B) {
	c := NewCollector(testFrequency)
	ts := uint64(1)
	for i := 0; i < 600; i++ {
		ts += 166_670
		c.AddSample(FrameSample{FrameTimeMs: 16.667 + float64(i%9)*0.3, Timestamp: ts})
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = c.WindowStats()
	}
}
