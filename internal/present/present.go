// Package present defines the decoded frame-presentation event model shared
// between the ETW decode layer and the per-process aggregation pipeline.
package present

// FinalState describes what ultimately happened to a presented frame.
type FinalState uint8

const (
	// StatePresented means the frame reached the screen (flip or blit completed).
	StatePresented FinalState = iota
	// StateDiscarded means the frame was replaced before it was displayed.
	StateDiscarded
	// StateLost means tracking for the frame was lost (process exit, mode
	// change, or the decode layer gave up matching it). Lost presents carry
	// no timing information and must be skipped by consumers.
	StateLost
)

func (s FinalState) String() string {
	switch s {
	case StatePresented:
		return "presented"
	case StateDiscarded:
		return "discarded"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Runtime identifies the presentation API a present call came through.
type Runtime uint8

const (
	RuntimeOther Runtime = iota
	RuntimeDXGI
	RuntimeD3D9
)

func (r Runtime) String() string {
	switch r {
	case RuntimeDXGI:
		return "DXGI"
	case RuntimeD3D9:
		return "D3D9"
	default:
		return "Other"
	}
}

// Mode identifies how the frame was delivered to the display.
type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeHardwareLegacyFlip
	ModeHardwareIndependentFlip
	ModeComposedFlip
	ModeComposedCopyGPU
)

func (m Mode) String() string {
	switch m {
	case ModeHardwareLegacyFlip:
		return "Hardware: Legacy Flip"
	case ModeHardwareIndependentFlip:
		return "Hardware: Independent Flip"
	case ModeComposedFlip:
		return "Composed: Flip"
	case ModeComposedCopyGPU:
		return "Composed: Copy with GPU GDI"
	default:
		return "Unknown"
	}
}

// Event is one decoded presentation occurrence observed via ETW. It is
// produced by the decode layer and consumed exactly once by a monitor's
// aggregation loop, after which it either becomes the swap chain's
// "last present" or is discarded.
type Event struct {
	// ProcessID of the presenting process.
	ProcessID uint32

	// SwapChain is the opaque per-process swap-chain address the frame was
	// presented through. Deltas are only meaningful between events that
	// share a swap chain.
	SwapChain uint64

	// StartTicks is the QPC timestamp of the present call.
	StartTicks uint64

	// GPUDurationTicks is the accumulated GPU work time attributed to the
	// frame, in QPC ticks. Zero when no GPU timing was observed.
	GPUDurationTicks uint64

	// GPUVideoDurationTicks is GPU time spent on video-engine work for the
	// frame, in QPC ticks.
	GPUVideoDurationTicks uint64

	// FinalState of the frame.
	FinalState FinalState

	// Destination surface dimensions, when the present carried them.
	DestWidth  uint32
	DestHeight uint32

	// SyncInterval requested by the present call.
	SyncInterval uint32

	// SupportsTearing reports whether the present allowed tearing.
	SupportsTearing bool

	// FrameID is a monotonically increasing decode-side frame counter.
	FrameID uint64

	// PresentFlags are the raw flags of the present call.
	PresentFlags uint32

	Runtime Runtime
	Mode    Mode
}
