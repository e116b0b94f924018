// main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"frame_exporter/internal/collectors/framepacing"
	"frame_exporter/internal/config"
	etwcap "frame_exporter/internal/etw"
	"frame_exporter/internal/logger"
	"frame_exporter/internal/monitor"
	"frame_exporter/internal/windowsapi"
)

var (
	version = "0.1.0"
)

func main() {
	cfg, flags, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		// Config generation mode, already handled.
		return
	}

	if err := logger.ConfigureLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure loggers: %v\n", err)
		os.Exit(1)
	}

	pid, err := resolveTarget(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ No monitorable target")
	}

	log.Info().
		Str("version", version).
		Uint32("pid", pid).
		Uint32("update_ms", cfg.Monitor.UpdateFrequencyMs).
		Bool("track_display", cfg.Monitor.TrackDisplay).
		Bool("track_gpu", cfg.Monitor.TrackGPU).
		Str("listen_address", cfg.Server.ListenAddress).
		Str("metrics_path", cfg.Server.MetricsPath).
		Msg("Starting Frame Exporter")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if cfg.Server.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof HTTP server on localhost:6060")
			http.ListenAndServe("localhost:6060", nil)
		}()
	}

	// Build the monitor service on top of real ETW capture sessions
	captureCfg := etwcap.Config{
		TrackDisplay: cfg.Monitor.TrackDisplay,
		TrackGPU:     cfg.Monitor.TrackGPU,
		QueueSize:    cfg.Monitor.QueueSize,
	}
	svc := monitor.NewService(monitor.Options{
		Capture: func(pid uint32) monitor.CaptureSource {
			return etwcap.NewPresentCapture(pid, captureCfg)
		},
		HistoryCapacity: cfg.Monitor.HistoryCapacity,
	})
	defer svc.Shutdown()

	log.Info().Msg("🔄 Starting ETW trace session...")
	if st := svc.StartMonitoring(pid, cfg.Monitor.UpdateFrequencyMs); st != monitor.StatusSuccess {
		log.Fatal().Str("status", st.String()).Uint32("pid", pid).
			Msg("❌ Failed to start monitoring")
	}
	log.Debug().Msg("- Monitoring started")

	// Register the Prometheus surface
	registry := prometheus.NewRegistry()
	registry.MustRegister(framepacing.New(svc))
	log.Debug().Msg("- Collectors registered")

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
            <head><title>Frame Exporter</title></head>
            <body>
            <h1>Frame Exporter v` + version + ` </h1>
            <p><a href="` + cfg.Server.MetricsPath + `">Metrics</a></p>
            </body>
            </html>`))
	})

	log.Info().Str("address", cfg.Server.ListenAddress).Msg("🌐 Starting HTTP server")
	srv := &http.Server{Addr: cfg.Server.ListenAddress, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("❌ Failed to start HTTP server")
		}
	}()

	log.Info().Msg("Frame Exporter is ready and collecting presents...")

	<-ctx.Done()
	log.Info().Msg("🛑 Received shutdown signal, shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Debug().Msg("🔌 Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("❌ Error shutting down HTTP server")
	}

	if st := svc.Shutdown(); st != monitor.StatusSuccess {
		log.Error().Str("status", st.String()).Msg("❌ Error shutting down monitor service")
	}
	log.Info().Msg("Frame Exporter stopped")
}

// resolveTarget turns the -pid / -process.name flags into a pid, verifying
// the process actually exists.
func resolveTarget(flags *config.Flags) (uint32, error) {
	if flags.TargetPID != 0 {
		pid := uint32(flags.TargetPID)
		if _, ok, err := windowsapi.FindProcess(pid); err != nil {
			return 0, err
		} else if !ok {
			return 0, fmt.Errorf("no process with pid %d", pid)
		}
		return pid, nil
	}
	if flags.TargetProcess != "" {
		info, err := windowsapi.FindProcessByName(flags.TargetProcess)
		if err != nil {
			return 0, err
		}
		return info.PID, nil
	}
	return 0, fmt.Errorf("specify a target with -pid or -process.name")
}
