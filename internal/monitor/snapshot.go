package monitor

// MetricsSnapshot is a materialized, point-in-time record of instantaneous
// and windowed frame-pacing statistics. The field set and order are stable;
// external consumers depend on the JSON names, including the historical
// "variance" label on what is actually the standard deviation.
type MetricsSnapshot struct {
	// Instantaneous per-frame values from the most recent paired present.
	FrameTime     float64 `json:"frametime"`
	FPS           float64 `json:"fps"`
	GPURenderTime float64 `json:"gpuRenderTime"`
	GPUVideoTime  float64 `json:"gpuVideoTime"`
	CPURenderTime float64 `json:"cpuRenderTime"`
	// AppRenderTime mirrors CPURenderTime: both are the same residual of
	// frame time minus GPU time until a direct CPU timing source exists.
	AppRenderTime float64 `json:"appRenderTime"`
	AppSleepTime  float64 `json:"appSleepTime"`

	// Display state from the most recent present carrying it.
	DestWidth       uint32 `json:"destWidth"`
	DestHeight      uint32 `json:"destHeight"`
	SupportsTearing bool   `json:"supportsTearing"`
	SyncInterval    uint32 `json:"syncInterval"`
	FrameID         uint64 `json:"frameId"`
	PresentFlags    uint32 `json:"presentFlags"`
	Runtime         string `json:"runtime"`
	PresentMode     string `json:"presentMode"`

	// Windowed statistics over the rolling ~1-second window.
	MinFrameTime     float64 `json:"minFrameTime"`
	MaxFrameTime     float64 `json:"maxFrameTime"`
	MinGPURenderTime float64 `json:"minGpuRenderTime"`
	MaxGPURenderTime float64 `json:"maxGpuRenderTime"`
	MinCPURenderTime float64 `json:"minCpuRenderTime"`
	MaxCPURenderTime float64 `json:"maxCpuRenderTime"`
	// FrameTimeStdDev is the population standard deviation of windowed
	// frame times. The external name stays "variance" for compatibility.
	FrameTimeStdDev        float64 `json:"variance"`
	FrameTime99Percentile  float64 `json:"frameTime99Percentile"`
	FrameTime95Percentile  float64 `json:"frameTime95Percentile"`
	FrameTime995Percentile float64 `json:"frameTime995Percentile"`
	FrameCount             uint32  `json:"frameCount"`
}

// MetricsCallback receives every materialized snapshot, invoked
// synchronously on the producing monitor's aggregation goroutine. Callback
// bodies must not block and must not call back into the monitor service.
type MetricsCallback func(pid uint32, snapshot MetricsSnapshot)
