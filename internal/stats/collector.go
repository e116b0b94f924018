// Package stats implements the rolling-window frame statistics collector.
//
// The collector keeps the per-frame hot path cheap: adding a sample is O(1)
// amortized (append, FIFO eviction, running sums, add-side min/max), while
// exact order statistics (percentiles, extrema after evictions) are computed
// lazily only when a snapshot is materialized.
package stats

import (
	"math"
	"sort"
)

// FrameSample is one derived frame measurement. Samples are immutable once
// added; Timestamp is the QPC tick of the present that closed the frame and
// must be monotonically non-decreasing across AddSample calls.
type FrameSample struct {
	FrameTimeMs float64
	GPUTimeMs   float64
	CPUTimeMs   float64
	Timestamp   uint64
}

// WindowStats is the materialized view of the rolling window. Materializing
// twice with no intervening mutation yields identical values.
type WindowStats struct {
	Count int

	AvgFrameTimeMs float64
	MinFrameTimeMs float64
	MaxFrameTimeMs float64

	AvgGPUTimeMs float64
	MinGPUTimeMs float64
	MaxGPUTimeMs float64

	AvgCPUTimeMs float64
	MinCPUTimeMs float64
	MaxCPUTimeMs float64

	// StdDevMs is the population standard deviation of frame times over the
	// window (divisor = count). Downstream consumers historically label this
	// field "variance"; the value is the standard deviation.
	StdDevMs float64

	P95FrameTimeMs  float64
	P99FrameTimeMs  float64
	P995FrameTimeMs float64
}

// Collector maintains a one-second rolling window of frame samples with
// incremental aggregates. It is not safe for concurrent use; the owning
// monitor mutates it exclusively under its metrics lock.
type Collector struct {
	// frequency is the QPC tick rate; the window spans one frequency period
	// (~1 second) behind the newest sample.
	frequency uint64

	// window is a FIFO: samples[head:] are live. The backing array is
	// compacted when the dead prefix grows past the live region.
	samples []FrameSample
	head    int

	count        int
	sumFrame     float64
	sumSqFrame   float64
	sumGPU       float64
	sumCPU       float64
	minFrame     float64
	maxFrame     float64
	minGPU       float64
	maxGPU       float64
	minCPU       float64
	maxCPU       float64
	extremaDirty bool

	// scratch is reused across percentile computations to avoid per-snapshot
	// allocations on the materialization path.
	scratch []float64
}

// NewCollector creates a collector whose window spans one period of the
// given timestamp frequency (ticks per second).
func NewCollector(frequency uint64) *Collector {
	return &Collector{
		frequency: frequency,
		samples:   make([]FrameSample, 0, 512),
		scratch:   make([]float64, 0, 512),
	}
}

// AddSample appends a sample and evicts everything that has aged out of the
// window. Eviction only marks extrema stale; no rescan happens here.
func (c *Collector) AddSample(s FrameSample) {
	c.samples = append(c.samples, s)
	c.count++
	c.sumFrame += s.FrameTimeMs
	c.sumSqFrame += s.FrameTimeMs * s.FrameTimeMs
	c.sumGPU += s.GPUTimeMs
	c.sumCPU += s.CPUTimeMs

	if c.count == 1 {
		c.minFrame, c.maxFrame = s.FrameTimeMs, s.FrameTimeMs
		c.minGPU, c.maxGPU = s.GPUTimeMs, s.GPUTimeMs
		c.minCPU, c.maxCPU = s.CPUTimeMs, s.CPUTimeMs
	} else {
		c.minFrame = math.Min(c.minFrame, s.FrameTimeMs)
		c.maxFrame = math.Max(c.maxFrame, s.FrameTimeMs)
		c.minGPU = math.Min(c.minGPU, s.GPUTimeMs)
		c.maxGPU = math.Max(c.maxGPU, s.GPUTimeMs)
		c.minCPU = math.Min(c.minCPU, s.CPUTimeMs)
		c.maxCPU = math.Max(c.maxCPU, s.CPUTimeMs)
	}

	if s.Timestamp > c.frequency {
		c.EvictBefore(s.Timestamp - c.frequency)
	}
}

// EvictBefore drops all samples with Timestamp < cutoff from the front of
// the window. Timestamps are monotonic, so this is a FIFO scan from the
// oldest end. Sums and count are maintained in O(1) per evicted sample;
// extrema are only marked stale.
func (c *Collector) EvictBefore(cutoff uint64) {
	for c.head < len(c.samples) && c.samples[c.head].Timestamp < cutoff {
		s := c.samples[c.head]
		c.sumFrame -= s.FrameTimeMs
		c.sumSqFrame -= s.FrameTimeMs * s.FrameTimeMs
		c.sumGPU -= s.GPUTimeMs
		c.sumCPU -= s.CPUTimeMs
		c.count--
		c.head++
		c.extremaDirty = true
	}

	if c.count == 0 {
		c.samples = c.samples[:0]
		c.head = 0
		c.sumFrame, c.sumSqFrame, c.sumGPU, c.sumCPU = 0, 0, 0, 0
		c.extremaDirty = false
		return
	}

	// Compact once the dead prefix dominates the backing array.
	if c.head > len(c.samples)/2 {
		n := copy(c.samples, c.samples[c.head:])
		c.samples = c.samples[:n]
		c.head = 0
	}
}

// Count returns the number of samples currently in the window.
func (c *Collector) Count() int {
	return c.count
}

// window returns the live slice of samples.
func (c *Collector) window() []FrameSample {
	return c.samples[c.head:]
}

// recomputeExtremaIfStale rescans the window for min/max after evictions
// invalidated the running extrema. O(window size), invoked only right
// before extrema are actually needed.
func (c *Collector) recomputeExtremaIfStale() {
	if !c.extremaDirty {
		return
	}
	c.extremaDirty = false
	if c.count == 0 {
		return
	}

	w := c.window()
	first := w[0]
	c.minFrame, c.maxFrame = first.FrameTimeMs, first.FrameTimeMs
	c.minGPU, c.maxGPU = first.GPUTimeMs, first.GPUTimeMs
	c.minCPU, c.maxCPU = first.CPUTimeMs, first.CPUTimeMs
	for _, s := range w[1:] {
		c.minFrame = math.Min(c.minFrame, s.FrameTimeMs)
		c.maxFrame = math.Max(c.maxFrame, s.FrameTimeMs)
		c.minGPU = math.Min(c.minGPU, s.GPUTimeMs)
		c.maxGPU = math.Max(c.maxGPU, s.GPUTimeMs)
		c.minCPU = math.Min(c.minCPU, s.CPUTimeMs)
		c.maxCPU = math.Max(c.maxCPU, s.CPUTimeMs)
	}
}

// Percentile returns the nearest-rank p-th percentile of the window's frame
// times: the sorted element at index floor(n*p/100), clamped to the window.
// This is truncated-index selection, not rank interpolation; consumers are
// calibrated to this estimator.
func (c *Collector) Percentile(p float64) float64 {
	if c.count == 0 {
		return 0
	}
	c.sortScratch()
	return c.percentileFromSorted(p)
}

// percentileFromSorted assumes scratch holds the sorted frame times.
func (c *Collector) percentileFromSorted(p float64) float64 {
	idx := int(float64(len(c.scratch)) * p / 100.0)
	if idx < 0 {
		idx = 0
	}
	if idx > len(c.scratch)-1 {
		idx = len(c.scratch) - 1
	}
	return c.scratch[idx]
}

// sortScratch copies the window's frame times into the reusable scratch
// buffer and sorts it ascending.
func (c *Collector) sortScratch() {
	c.scratch = c.scratch[:0]
	for _, s := range c.window() {
		c.scratch = append(c.scratch, s.FrameTimeMs)
	}
	sort.Float64s(c.scratch)
}

// StdDev returns the population standard deviation of frame times over the
// window (divisor = count, not count-1).
func (c *Collector) StdDev() float64 {
	if c.count == 0 {
		return 0
	}
	n := float64(c.count)
	mean := c.sumFrame / n
	variance := c.sumSqFrame/n - mean*mean
	// Incremental sums can go fractionally negative near zero variance.
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// WindowStats materializes exact windowed statistics. This is the expensive
// path: it recomputes stale extrema and sorts a copy of the window's frame
// times for the percentile selections.
func (c *Collector) WindowStats() WindowStats {
	if c.count == 0 {
		return WindowStats{}
	}

	c.recomputeExtremaIfStale()
	c.sortScratch()

	n := float64(c.count)
	return WindowStats{
		Count:           c.count,
		AvgFrameTimeMs:  c.sumFrame / n,
		MinFrameTimeMs:  c.minFrame,
		MaxFrameTimeMs:  c.maxFrame,
		AvgGPUTimeMs:    c.sumGPU / n,
		MinGPUTimeMs:    c.minGPU,
		MaxGPUTimeMs:    c.maxGPU,
		AvgCPUTimeMs:    c.sumCPU / n,
		MinCPUTimeMs:    c.minCPU,
		MaxCPUTimeMs:    c.maxCPU,
		StdDevMs:        c.StdDev(),
		P95FrameTimeMs:  c.percentileFromSorted(95),
		P99FrameTimeMs:  c.percentileFromSorted(99),
		P995FrameTimeMs: c.percentileFromSorted(99.5),
	}
}
