// Package framepacing exposes the monitor service's latest snapshots and
// the capture pipeline counters as Prometheus metrics.
package framepacing

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	etwcap "frame_exporter/internal/etw"
	"frame_exporter/internal/logger"
	"frame_exporter/internal/monitor"
	"frame_exporter/internal/windowsapi"

	"github.com/tekert/goetw/logsampler/adapters/phusluadapter"
)

// Collector implements prometheus.Collector over the monitor service.
// Metrics are built fresh on each scrape from the latest materialized
// snapshot of every monitored pid. The destructive history drain is never
// touched here; it belongs to the facade's GetMetrics consumers.
type Collector struct {
	service *monitor.Service

	// names caches pid -> executable name so the Toolhelp snapshot is not
	// walked on every scrape.
	mu    sync.Mutex
	names map[uint32]string

	log *phusluadapter.SampledLogger

	// Instantaneous snapshot metrics
	fpsDesc       *prometheus.Desc
	frameTimeDesc *prometheus.Desc
	gpuTimeDesc   *prometheus.Desc
	gpuVideoDesc  *prometheus.Desc
	cpuTimeDesc   *prometheus.Desc

	// Windowed statistics
	frameTimeMinDesc    *prometheus.Desc
	frameTimeMaxDesc    *prometheus.Desc
	frameTimeStdDevDesc *prometheus.Desc
	frameTimeP95Desc    *prometheus.Desc
	frameTimeP99Desc    *prometheus.Desc
	frameTimeP995Desc   *prometheus.Desc
	frameCountDesc      *prometheus.Desc

	// Display state
	presentInfoDesc  *prometheus.Desc
	syncIntervalDesc *prometheus.Desc
	tearingDesc      *prometheus.Desc

	// Capture pipeline health
	captureRecordsDesc *prometheus.Desc
}

// New creates a frame pacing collector bound to a monitor service.
func New(service *monitor.Service) *Collector {
	procLabels := []string{"pid", "process"}
	return &Collector{
		service: service,
		names:   make(map[uint32]string),
		log:     logger.NewSampledLoggerCtx("framepacing_collector"),

		fpsDesc: prometheus.NewDesc(
			"frame_fps",
			"Frames per second derived from the windowed average frame time",
			procLabels, nil,
		),
		frameTimeDesc: prometheus.NewDesc(
			"frame_time_milliseconds",
			"Most recent frame time",
			procLabels, nil,
		),
		gpuTimeDesc: prometheus.NewDesc(
			"frame_gpu_time_milliseconds",
			"Most recent GPU render time attributed to the frame",
			procLabels, nil,
		),
		gpuVideoDesc: prometheus.NewDesc(
			"frame_gpu_video_time_milliseconds",
			"Most recent GPU video engine time attributed to the frame",
			procLabels, nil,
		),
		cpuTimeDesc: prometheus.NewDesc(
			"frame_cpu_time_milliseconds",
			"Most recent CPU time residual (frame time minus GPU time)",
			procLabels, nil,
		),
		frameTimeMinDesc: prometheus.NewDesc(
			"frame_time_min_milliseconds",
			"Minimum frame time over the rolling window",
			procLabels, nil,
		),
		frameTimeMaxDesc: prometheus.NewDesc(
			"frame_time_max_milliseconds",
			"Maximum frame time over the rolling window",
			procLabels, nil,
		),
		frameTimeStdDevDesc: prometheus.NewDesc(
			"frame_time_stddev_milliseconds",
			"Population standard deviation of frame times over the rolling window",
			procLabels, nil,
		),
		frameTimeP95Desc: prometheus.NewDesc(
			"frame_time_p95_milliseconds",
			"95th percentile frame time over the rolling window",
			procLabels, nil,
		),
		frameTimeP99Desc: prometheus.NewDesc(
			"frame_time_p99_milliseconds",
			"99th percentile frame time over the rolling window",
			procLabels, nil,
		),
		frameTimeP995Desc: prometheus.NewDesc(
			"frame_time_p995_milliseconds",
			"99.5th percentile frame time over the rolling window",
			procLabels, nil,
		),
		frameCountDesc: prometheus.NewDesc(
			"frame_window_count",
			"Number of frame samples in the rolling window",
			procLabels, nil,
		),
		presentInfoDesc: prometheus.NewDesc(
			"frame_present_info",
			"Present mode and runtime of the most recent present (value is always 1)",
			[]string{"pid", "process", "mode", "runtime", "resolution"}, nil,
		),
		syncIntervalDesc: prometheus.NewDesc(
			"frame_sync_interval",
			"Sync interval of the most recent present",
			procLabels, nil,
		),
		tearingDesc: prometheus.NewDesc(
			"frame_tearing_supported",
			"Whether the most recent present allowed tearing (1) or not (0)",
			procLabels, nil,
		),
		captureRecordsDesc: prometheus.NewDesc(
			"frame_capture_records_total",
			"Capture pipeline record counts per decode stage",
			[]string{"pid", "stage"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.fpsDesc
	ch <- c.frameTimeDesc
	ch <- c.gpuTimeDesc
	ch <- c.gpuVideoDesc
	ch <- c.cpuTimeDesc
	ch <- c.frameTimeMinDesc
	ch <- c.frameTimeMaxDesc
	ch <- c.frameTimeStdDevDesc
	ch <- c.frameTimeP95Desc
	ch <- c.frameTimeP99Desc
	ch <- c.frameTimeP995Desc
	ch <- c.frameCountDesc
	ch <- c.presentInfoDesc
	ch <- c.syncIntervalDesc
	ch <- c.tearingDesc
	ch <- c.captureRecordsDesc
}

// Collect implements prometheus.Collector. It is called by Prometheus on
// each scrape and must create new metrics from the current snapshots.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, pid := range c.service.MonitoredPIDs() {
		var snap monitor.MetricsSnapshot
		if st := c.service.GetMetrics(pid, &snap, nil); st != monitor.StatusSuccess {
			continue
		}

		pidLabel := strconv.FormatUint(uint64(pid), 10)
		process := c.processName(pid)

		gauge := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, pidLabel, process)
		}

		gauge(c.fpsDesc, snap.FPS)
		gauge(c.frameTimeDesc, snap.FrameTime)
		gauge(c.gpuTimeDesc, snap.GPURenderTime)
		gauge(c.gpuVideoDesc, snap.GPUVideoTime)
		gauge(c.cpuTimeDesc, snap.CPURenderTime)
		gauge(c.frameTimeMinDesc, snap.MinFrameTime)
		gauge(c.frameTimeMaxDesc, snap.MaxFrameTime)
		gauge(c.frameTimeStdDevDesc, snap.FrameTimeStdDev)
		gauge(c.frameTimeP95Desc, snap.FrameTime95Percentile)
		gauge(c.frameTimeP99Desc, snap.FrameTime99Percentile)
		gauge(c.frameTimeP995Desc, snap.FrameTime995Percentile)
		gauge(c.frameCountDesc, float64(snap.FrameCount))
		gauge(c.syncIntervalDesc, float64(snap.SyncInterval))

		tearing := 0.0
		if snap.SupportsTearing {
			tearing = 1.0
		}
		gauge(c.tearingDesc, tearing)

		resolution := strconv.FormatUint(uint64(snap.DestWidth), 10) + "x" +
			strconv.FormatUint(uint64(snap.DestHeight), 10)
		ch <- prometheus.MustNewConstMetric(
			c.presentInfoDesc,
			prometheus.GaugeValue,
			1,
			pidLabel, process, snap.PresentMode, snap.Runtime, resolution,
		)
	}

	etwcap.RangeStats(func(pid uint32, s *etwcap.CaptureStats) bool {
		pidLabel := strconv.FormatUint(uint64(pid), 10)
		counter := func(stage string, v uint64) {
			ch <- prometheus.MustNewConstMetric(
				c.captureRecordsDesc,
				prometheus.CounterValue,
				float64(v),
				pidLabel, stage,
			)
		}
		counter("seen", s.RecordsSeen.Load())
		counter("filtered", s.Filtered.Load())
		counter("decoded", s.Decoded.Load())
		counter("dropped", s.Dropped.Load())
		counter("unmatched", s.Unmatched.Load())
		counter("lost", s.Lost.Load())
		return true
	})
}

// processName resolves and caches the executable name for a pid. Unknown
// pids (exited processes, access failures) are reported as "unknown" and
// retried on the next scrape.
func (c *Collector) processName(pid uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.names[pid]; ok {
		return name
	}

	info, ok, err := windowsapi.FindProcess(pid)
	if err != nil {
		c.log.Debug().Err(err).Uint32("pid", pid).Msg("Process name lookup failed")
		return "unknown"
	}
	if !ok {
		return "unknown"
	}
	c.names[pid] = info.ExeFile
	return info.ExeFile
}
