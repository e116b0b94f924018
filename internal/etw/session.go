package etwcap

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	plog "github.com/phuslu/log"
	"github.com/tekert/goetw/etw"
	"golang.org/x/sys/windows"

	"frame_exporter/internal/etw/guids"
	"frame_exporter/internal/logger"
	"frame_exporter/internal/present"
)

// Config selects what the capture decodes. Input, video-frame and
// frame-type tracking have no wired providers; presents and GPU timing are
// the supported surface.
type Config struct {
	// TrackDisplay decodes flip/blit events for present mode and display
	// dimensions.
	TrackDisplay bool
	// TrackGPU decodes GPU queue packets for per-frame GPU/video time.
	TrackGPU bool
	// QueueSize bounds the decoded-event queue between the capture thread
	// and the aggregation loop.
	QueueSize int
}

// DefaultConfig enables display and GPU timing, the monitor's standard
// low-overhead profile.
func DefaultConfig() Config {
	return Config{
		TrackDisplay: true,
		TrackGPU:     true,
		QueueSize:    2048,
	}
}

const (
	// staleStopAttempts bounds the cleanup of a same-named session left
	// behind by a crashed prior run.
	staleStopAttempts = 3
	staleStopDelay    = 250 * time.Millisecond

	consumerStopTimeout = 10 * time.Second
)

// SessionName returns the deterministic trace-session name for a pid.
// Determinism is what makes stale-session cleanup after a crash possible.
func SessionName(pid uint32) string {
	return fmt.Sprintf("frame_exporter_pid%d", pid)
}

// PresentCapture owns one per-process real-time ETW session and its
// consumer. The consumer's ProcessTrace goroutine is the capture thread:
// it blocks on the trace read primitive and runs the decoder callback for
// every delivered buffer. Closing the session via Stop unblocks it.
type PresentCapture struct {
	pid     uint32
	cfg     Config
	name    string
	log     plog.Logger
	decoder *presentDecoder

	ctx    context.Context
	cancel context.CancelFunc

	session  *etw.RealTimeSession
	consumer *etw.Consumer

	// done is closed when the capture thread exits, expectedly or not.
	done     chan struct{}
	stopping atomic.Bool
}

// NewPresentCapture builds an unstarted capture for one process.
func NewPresentCapture(pid uint32, cfg Config) *PresentCapture {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PresentCapture{
		pid:     pid,
		cfg:     cfg,
		name:    SessionName(pid),
		log:     logger.NewLoggerWithContext("etw_capture"),
		decoder: newPresentDecoder(pid, cfg, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start defensively stops any stale same-named session, creates the
// session with the present providers enabled, and starts the consumer. On
// any failure every partially built piece is released; no goroutine
// outlives a failed Start.
func (p *PresentCapture) Start() error {
	p.stopStaleSession()

	p.session = etw.NewRealTimeSession(p.name)
	for _, provider := range p.providers() {
		// EnableProvider starts the session on first use.
		if err := p.session.EnableProvider(provider); err != nil {
			p.session.Stop()
			p.session = nil
			return fmt.Errorf("failed to enable provider %s: %w", provider.Name, err)
		}
		p.log.Debug().Str("provider", provider.Name).Str("session", p.name).Msg("Enabled provider")
	}

	p.consumer = etw.NewConsumer(p.ctx).FromSessions(p.session)
	p.consumer.EventPreparedCallback = p.decoder.EventPreparedCallback

	if err := p.consumer.Start(); err != nil {
		p.session.Stop()
		p.session = nil
		p.consumer = nil
		return fmt.Errorf("failed to start trace consumer: %w", err)
	}

	// Watch for the capture thread exiting. During Stop this is the normal
	// unwind; any other exit is a trace fault and is surfaced through
	// Done() so the monitor can flag itself not-running instead of
	// crashing the host.
	go func() {
		p.consumer.Wait()
		if !p.stopping.Load() {
			p.log.Warn().Uint32("pid", p.pid).Str("session", p.name).
				Msg("Trace read loop terminated unexpectedly")
		}
		close(p.done)
	}()

	p.log.Info().Uint32("pid", p.pid).Str("session", p.name).Msg("Present capture started")
	return nil
}

// stopStaleSession attempts to stop a leftover session with our name from
// a crashed prior run. Bounded fixed-delay retries; a genuinely conflicting
// live session will still fail the subsequent provider enable, which is the
// hard-failure path.
func (p *PresentCapture) stopStaleSession() {
	stale := etw.NewRealTimeSession(p.name)
	for attempt := 1; attempt <= staleStopAttempts; attempt++ {
		err := stale.Stop()
		if err == nil {
			p.log.Warn().Str("session", p.name).Int("attempt", attempt).
				Msg("Stopped stale trace session from a previous run")
			return
		}
		if errors.Is(err, windows.ERROR_WMI_INSTANCE_NOT_FOUND) {
			// Nothing stale to clean up, the common case.
			return
		}
		p.log.Debug().Err(err).Str("session", p.name).Int("attempt", attempt).
			Msg("Stale session stop failed, retrying")
		time.Sleep(staleStopDelay)
	}
	p.log.Warn().Str("session", p.name).Msg("Giving up on stale session cleanup")
}

// providers builds the enabled provider set from the capture config.
func (p *PresentCapture) providers() []etw.Provider {
	providers := []etw.Provider{
		{
			Name:        "Microsoft-Windows-DXGI",
			GUID:        *guids.MicrosoftWindowsDXGIGUID,
			EnableLevel: 0xFF,
			Filters: []etw.ProviderFilter{
				etw.NewEventIDFilter(true, dxgiPresentStartID, dxgiPresentStopID),
			},
		},
		{
			Name:        "Microsoft-Windows-D3D9",
			GUID:        *guids.MicrosoftWindowsD3D9GUID,
			EnableLevel: 0xFF,
			Filters: []etw.ProviderFilter{
				etw.NewEventIDFilter(true, d3d9PresentStartID, d3d9PresentStopID),
			},
		},
	}

	var dxgkIDs []uint16
	if p.cfg.TrackDisplay {
		dxgkIDs = append(dxgkIDs, dxgkBlitID, dxgkFlipID, dxgkFlipMPOID)
	}
	if p.cfg.TrackGPU {
		dxgkIDs = append(dxgkIDs, dxgkQueuePacketStart, dxgkQueuePacketStop)
	}
	if len(dxgkIDs) > 0 {
		providers = append(providers, etw.Provider{
			Name:        "Microsoft-Windows-DxgKrnl",
			GUID:        *guids.MicrosoftWindowsDxgKrnlGUID,
			EnableLevel: 0xFF,
			Filters: []etw.ProviderFilter{
				etw.NewEventIDFilter(true, dxgkIDs...),
			},
		})
	}

	return providers
}

// Stop flushes and releases the session, then stops the consumer, which
// unblocks the capture thread's read call. Safe to call once after a
// successful Start.
func (p *PresentCapture) Stop() error {
	p.stopping.Store(true)

	var firstErr error
	if p.session != nil {
		if err := p.session.Stop(); err != nil {
			firstErr = fmt.Errorf("failed to stop trace session: %w", err)
		}
	}
	if p.consumer != nil {
		if err := p.consumer.StopWithTimeout(consumerStopTimeout); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to stop trace consumer: %w", err)
		}
	}
	p.cancel()

	// Join the capture thread. The watcher only exists after a successful
	// Start; without it there is nothing to wait on.
	if p.consumer != nil {
		<-p.done
	}

	p.log.Info().Uint32("pid", p.pid).Str("session", p.name).Msg("Present capture stopped")
	return firstErr
}

// Events is the decoded-present queue drained by the aggregation loop.
func (p *PresentCapture) Events() <-chan present.Event {
	return p.decoder.out
}

// Done is closed when the capture thread has exited. If it closes before
// Stop was requested, the trace terminated abnormally.
func (p *PresentCapture) Done() <-chan struct{} {
	return p.done
}

// Stats exposes the decode counters for this capture's pid.
func (p *PresentCapture) Stats() *CaptureStats {
	return p.decoder.stats
}
