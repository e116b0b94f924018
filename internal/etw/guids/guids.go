package guids

import "github.com/tekert/goetw/etw"

// Pre-defined provider GUIDs for performance (no string comparisons on the
// event hot path).
var (
	// Microsoft-Windows-DXGI: user-mode present calls through the DXGI
	// runtime (Present_Start/Present_Stop and friends).
	MicrosoftWindowsDXGIGUID = etw.MustParseGUID("{ca11c036-0102-4a2d-a6ad-f03cfed5d3c9}")

	// Microsoft-Windows-DxgKrnl: the DirectX graphics kernel. Flips, DMA
	// packet scheduling on the GPU nodes, vsync.
	MicrosoftWindowsDxgKrnlGUID = etw.MustParseGUID("{802ec45a-1e99-4b83-9920-87c98277ba9d}")

	// Microsoft-Windows-D3D9: legacy D3D9 runtime presents.
	MicrosoftWindowsD3D9GUID = etw.MustParseGUID("{783aca0a-790e-4d7f-8451-aa850511c6b9}")
)
