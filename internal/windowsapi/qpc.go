package windowsapi

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modKernel32                   = windows.NewLazySystemDLL("kernel32.dll")
	procQueryPerformanceFrequency = modKernel32.NewProc("QueryPerformanceFrequency")
	procQueryPerformanceCounter   = modKernel32.NewProc("QueryPerformanceCounter")
)

// QPCFrequency returns the performance-counter tick rate in ticks per
// second. The value is fixed at boot; callers may cache it.
func QPCFrequency() uint64 {
	var freq int64
	procQueryPerformanceFrequency.Call(uintptr(unsafe.Pointer(&freq)))
	return uint64(freq)
}

// QPCNow returns the current performance-counter value. ETW real-time
// sessions stamp events on the same clock, so these ticks are directly
// comparable with event timestamps.
func QPCNow() uint64 {
	var ticks int64
	procQueryPerformanceCounter.Call(uintptr(unsafe.Pointer(&ticks)))
	return uint64(ticks)
}
