package etwcap

import (
	"github.com/tekert/goetw/etw"
	"github.com/tekert/goetw/logsampler/adapters/phusluadapter"

	"frame_exporter/internal/etw/guids"
	"frame_exporter/internal/logger"
	"frame_exporter/internal/present"
)

// DXGI runtime event IDs (Microsoft-Windows-DXGI manifest).
const (
	dxgiPresentStartID = 42
	dxgiPresentStopID  = 43
)

// D3D9 runtime event IDs (Microsoft-Windows-D3D9 manifest).
const (
	d3d9PresentStartID = 1
	d3d9PresentStopID  = 2
)

// DxgKrnl event IDs (Microsoft-Windows-DxgKrnl manifest).
const (
	dxgkBlitID           = 166
	dxgkFlipID           = 168
	dxgkQueuePacketStart = 178
	dxgkQueuePacketStop  = 180
	dxgkFlipMPOID        = 252
)

// DXGI_PRESENT_ALLOW_TEARING present flag.
const dxgiPresentAllowTearing = 0x200

// DXGK engine types attributed to the video accumulator.
const (
	dxgkEngineVideoDecode     = 5
	dxgkEngineVideoEncode     = 6
	dxgkEngineVideoProcessing = 7
)

// pendingPresent is a present call whose stop event has not arrived yet,
// keyed by the issuing thread (start and stop share a thread).
type pendingPresent struct {
	ev present.Event
}

// gpuSubmit is a GPU queue packet in flight between its submit and its
// completion, keyed by SubmitSequence.
type gpuSubmit struct {
	startTicks uint64
	video      bool
}

// presentDecoder turns raw ETW records into present.Event values. It runs
// entirely on the consumer's ProcessTrace goroutine (the capture thread),
// so its state needs no locking. Its only downstream contract is
// decode-and-enqueue: the send into the queue never blocks.
type presentDecoder struct {
	pid   uint32
	cfg   Config
	out   chan present.Event
	stats *CaptureStats
	log   *phusluadapter.SampledLogger

	frameID  uint64
	inflight map[uint32]*pendingPresent

	// GPU work accumulated since the last emitted present, attributed to
	// the next present that completes. An approximation: packets are
	// charged to the frame in flight when they complete.
	submits       map[uint32]gpuSubmit
	gpuAccum      uint64
	gpuVideoAccum uint64

	// Latest display information observed from kernel-side flip/blit
	// events; carried into every emitted present.
	lastMode   present.Mode
	lastWidth  uint32
	lastHeight uint32
}

func newPresentDecoder(pid uint32, cfg Config, queueSize int) *presentDecoder {
	return &presentDecoder{
		pid:      pid,
		cfg:      cfg,
		out:      make(chan present.Event, queueSize),
		stats:    StatsFor(pid),
		log:      logger.NewSampledLoggerCtx("present_decoder"),
		inflight: make(map[uint32]*pendingPresent, 4),
		submits:  make(map[uint32]gpuSubmit, 256),
		lastMode: present.ModeUnknown,
	}
}

// EventPreparedCallback routes prepared records to the per-provider decode
// paths. Everything is skipped after decoding; no downstream computation
// happens on this thread.
func (d *presentDecoder) EventPreparedCallback(helper *etw.EventRecordHelper) error {
	defer helper.Skip()

	record := helper.EventRec
	d.stats.RecordsSeen.Add(1)

	if record.EventHeader.ProcessId != d.pid {
		d.stats.Filtered.Add(1)
		return nil
	}

	providerGUID := &record.EventHeader.ProviderId
	eventID := record.EventHeader.EventDescriptor.Id

	switch {
	case providerGUID.Equals(guids.MicrosoftWindowsDXGIGUID):
		switch eventID {
		case dxgiPresentStartID:
			return d.handlePresentStart(helper, present.RuntimeDXGI)
		case dxgiPresentStopID:
			return d.handlePresentStop(helper)
		}

	case providerGUID.Equals(guids.MicrosoftWindowsD3D9GUID):
		switch eventID {
		case d3d9PresentStartID:
			return d.handlePresentStart(helper, present.RuntimeD3D9)
		case d3d9PresentStopID:
			return d.handlePresentStop(helper)
		}

	case providerGUID.Equals(guids.MicrosoftWindowsDxgKrnlGUID):
		switch eventID {
		case dxgkQueuePacketStart:
			return d.handleQueuePacketStart(helper)
		case dxgkQueuePacketStop:
			return d.handleQueuePacketStop(helper)
		case dxgkFlipID, dxgkFlipMPOID:
			return d.handleFlip(helper)
		case dxgkBlitID:
			return d.handleBlit(helper)
		}
	}

	return nil
}

// handlePresentStart opens an in-flight present for the issuing thread.
//
// ETW Event Details:
//   - Provider: Microsoft-Windows-DXGI {ca11c036-0102-4a2d-a6ad-f03cfed5d3c9}
//   - Event ID(s): 42 (Present_Start); D3D9 uses ID 1 with the same shape
//   - Schema: Manifest
//
// Schema (Present_Start):
//   - pIDXGISwapChain (pointer): swap-chain interface address.
//   - Flags (uint32): DXGI_PRESENT_* flags of the call.
//   - SyncInterval (int32): requested sync interval.
func (d *presentDecoder) handlePresentStart(helper *etw.EventRecordHelper, runtime present.Runtime) error {
	record := helper.EventRec
	tid := record.EventHeader.ThreadId

	// A start with a still-open present on the same thread means its stop
	// was never seen; surface the stale one as lost so downstream state
	// does not pair frames across the gap.
	if stale, ok := d.inflight[tid]; ok {
		stale.ev.FinalState = present.StateLost
		d.stats.Lost.Add(1)
		d.emit(stale.ev)
		delete(d.inflight, tid)
	}

	swapChain, err := helper.GetPropertyUint("pIDXGISwapChain")
	if err != nil {
		// D3D9 names the field differently.
		swapChain, _ = helper.GetPropertyUint("pSwapchain")
	}
	flags, _ := helper.GetPropertyUint("Flags")
	syncInterval, _ := helper.GetPropertyUint("SyncInterval")

	d.inflight[tid] = &pendingPresent{
		ev: present.Event{
			ProcessID:       d.pid,
			SwapChain:       swapChain,
			StartTicks:      uint64(record.EventHeader.TimeStamp),
			FinalState:      present.StatePresented,
			SyncInterval:    uint32(syncInterval),
			SupportsTearing: flags&dxgiPresentAllowTearing != 0,
			PresentFlags:    uint32(flags),
			Runtime:         runtime,
		},
	}
	return nil
}

// handlePresentStop finalizes the thread's in-flight present and enqueues
// it. GPU time accumulated since the previous present is attributed here.
//
// ETW Event Details:
//   - Provider: Microsoft-Windows-DXGI {ca11c036-0102-4a2d-a6ad-f03cfed5d3c9}
//   - Event ID(s): 43 (Present_Stop); D3D9 uses ID 2
//   - Schema: Manifest
//
// Schema (Present_Stop):
//   - Result (uint32): HRESULT of the present call.
func (d *presentDecoder) handlePresentStop(helper *etw.EventRecordHelper) error {
	record := helper.EventRec
	tid := record.EventHeader.ThreadId

	pending, ok := d.inflight[tid]
	if !ok {
		d.stats.Unmatched.Add(1)
		return nil
	}
	delete(d.inflight, tid)

	result, _ := helper.GetPropertyUint("Result")
	if uint32(result)&0x80000000 != 0 {
		// Failed present: the frame never reached the screen.
		pending.ev.FinalState = present.StateDiscarded
	}

	ev := pending.ev
	ev.FrameID = d.nextFrameID()
	ev.Mode = d.lastMode
	ev.DestWidth = d.lastWidth
	ev.DestHeight = d.lastHeight
	if d.cfg.TrackGPU {
		ev.GPUDurationTicks = d.gpuAccum
		ev.GPUVideoDurationTicks = d.gpuVideoAccum
	}
	d.gpuAccum = 0
	d.gpuVideoAccum = 0

	d.emit(ev)
	return nil
}

// handleQueuePacketStart records a GPU packet submission.
//
// ETW Event Details:
//   - Provider: Microsoft-Windows-DxgKrnl {802ec45a-1e99-4b83-9920-87c98277ba9d}
//   - Event ID(s): 178 (QueuePacket_Start)
//   - Schema: Manifest
//
// Schema (QueuePacket_Start, relevant fields):
//   - SubmitSequence (uint32): correlates with the completion event.
//   - EngineType (uint32): DXGK_ENGINE_TYPE of the target node, when the
//     provider version reports it. Video engines are attributed separately.
func (d *presentDecoder) handleQueuePacketStart(helper *etw.EventRecordHelper) error {
	if !d.cfg.TrackGPU {
		return nil
	}

	seq, err := helper.GetPropertyUint("SubmitSequence")
	if err != nil {
		d.log.SampledWarn("queuepacket_seq").Err(err).Msg("QueuePacket_Start without SubmitSequence")
		return nil
	}

	video := false
	if engine, err := helper.GetPropertyUint("EngineType"); err == nil {
		switch engine {
		case dxgkEngineVideoDecode, dxgkEngineVideoEncode, dxgkEngineVideoProcessing:
			video = true
		}
	}

	// Bound the table against completions we will never see.
	if len(d.submits) > 4096 {
		d.submits = make(map[uint32]gpuSubmit, 256)
	}

	d.submits[uint32(seq)] = gpuSubmit{
		startTicks: uint64(helper.EventRec.EventHeader.TimeStamp),
		video:      video,
	}
	return nil
}

// handleQueuePacketStop charges a completed GPU packet's duration to the
// frame currently in flight.
//
// ETW Event Details:
//   - Provider: Microsoft-Windows-DxgKrnl {802ec45a-1e99-4b83-9920-87c98277ba9d}
//   - Event ID(s): 180 (QueuePacket_Stop)
//   - Schema: Manifest
//
// Schema (QueuePacket_Stop, relevant fields):
//   - SubmitSequence (uint32): matches the submission event.
func (d *presentDecoder) handleQueuePacketStop(helper *etw.EventRecordHelper) error {
	if !d.cfg.TrackGPU {
		return nil
	}

	seq, err := helper.GetPropertyUint("SubmitSequence")
	if err != nil {
		return nil
	}
	submit, ok := d.submits[uint32(seq)]
	if !ok {
		d.stats.Unmatched.Add(1)
		return nil
	}
	delete(d.submits, uint32(seq))

	end := uint64(helper.EventRec.EventHeader.TimeStamp)
	if end <= submit.startTicks {
		return nil
	}
	delta := end - submit.startTicks
	if submit.video {
		d.gpuVideoAccum += delta
	} else {
		d.gpuAccum += delta
	}
	return nil
}

// handleFlip updates the present mode and, when the event carries them, the
// destination dimensions. Flip-model delivery maps to independent flip.
func (d *presentDecoder) handleFlip(helper *etw.EventRecordHelper) error {
	if !d.cfg.TrackDisplay {
		return nil
	}
	d.lastMode = present.ModeHardwareIndependentFlip
	d.updateDimensions(helper)
	return nil
}

// handleBlit marks blt-model delivery (composed copy through the GPU).
func (d *presentDecoder) handleBlit(helper *etw.EventRecordHelper) error {
	if !d.cfg.TrackDisplay {
		return nil
	}
	d.lastMode = present.ModeComposedCopyGPU
	d.updateDimensions(helper)
	return nil
}

// updateDimensions reads optional Width/Height properties. Not every
// provider version carries them; absent values keep the last observation.
func (d *presentDecoder) updateDimensions(helper *etw.EventRecordHelper) {
	if w, err := helper.GetPropertyUint("Width"); err == nil && w > 0 {
		d.lastWidth = uint32(w)
	}
	if h, err := helper.GetPropertyUint("Height"); err == nil && h > 0 {
		d.lastHeight = uint32(h)
	}
}

func (d *presentDecoder) nextFrameID() uint64 {
	d.frameID++
	return d.frameID
}

// emit performs the non-blocking enqueue. A full queue sheds the event and
// counts it; the ETW delivery path is never stalled from here.
func (d *presentDecoder) emit(ev present.Event) {
	select {
	case d.out <- ev:
		d.stats.Decoded.Add(1)
	default:
		d.stats.Dropped.Add(1)
	}
}
