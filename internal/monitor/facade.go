package monitor

import (
	"sync"

	etwcap "frame_exporter/internal/etw"
)

var (
	defaultOnce    sync.Once
	defaultService *Service
)

// Default returns the process-wide Service, backed by real ETW capture
// sessions. It is created on first use.
func Default() *Service {
	defaultOnce.Do(func() {
		defaultService = NewService(Options{
			Capture: func(pid uint32) CaptureSource {
				return etwcap.NewPresentCapture(pid, etwcap.DefaultConfig())
			},
		})
	})
	return defaultService
}

// Package-level wrappers mirroring the flat facade surface.

func Initialize() Status { return Default().Initialize() }

func StartMonitoring(pid, updateFrequencyMs uint32) Status {
	return Default().StartMonitoring(pid, updateFrequencyMs)
}

func StopMonitoring(pid uint32) Status { return Default().StopMonitoring(pid) }

func GetMetrics(pid uint32, out *MetricsSnapshot, history *[]MetricsSnapshot) Status {
	return Default().GetMetrics(pid, out, history)
}

func SetMetricsCallback(fn MetricsCallback) Status {
	return Default().SetMetricsCallback(fn)
}

func Shutdown() Status { return Default().Shutdown() }
