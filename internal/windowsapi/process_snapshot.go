// Package windowsapi wraps the few Win32 calls the monitor needs directly:
// QPC timing and Toolhelp process enumeration.
package windowsapi

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ProcessInfo holds basic information about a running process obtained via
// the Toolhelp snapshot API.
type ProcessInfo struct {
	PID       uint32
	ParentPID uint32
	ExeFile   string
}

// GetProcessSnapshot enumerates all running processes with
// CreateToolhelp32Snapshot and returns a map of PID to ProcessInfo.
func GetProcessSnapshot() (map[uint32]ProcessInfo, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(snapshot)

	var pe32 windows.ProcessEntry32
	pe32.Size = uint32(unsafe.Sizeof(pe32))
	if err := windows.Process32First(snapshot, &pe32); err != nil {
		return nil, err
	}

	processes := make(map[uint32]ProcessInfo)
	for {
		processes[pe32.ProcessID] = ProcessInfo{
			PID:       pe32.ProcessID,
			ParentPID: pe32.ParentProcessID,
			ExeFile:   windows.UTF16ToString(pe32.ExeFile[:]),
		}

		if err := windows.Process32Next(snapshot, &pe32); err != nil {
			if err == windows.ERROR_NO_MORE_FILES {
				break
			}
			return nil, err
		}
	}
	return processes, nil
}

// FindProcess looks up a single PID in a fresh process snapshot.
func FindProcess(pid uint32) (ProcessInfo, bool, error) {
	processes, err := GetProcessSnapshot()
	if err != nil {
		return ProcessInfo{}, false, err
	}
	info, ok := processes[pid]
	return info, ok, nil
}

// FindProcessByName returns the first process whose image name matches
// (case-insensitive). Used by the exporter binary to resolve -process flags.
func FindProcessByName(name string) (ProcessInfo, error) {
	processes, err := GetProcessSnapshot()
	if err != nil {
		return ProcessInfo{}, err
	}
	for _, info := range processes {
		if strings.EqualFold(info.ExeFile, name) {
			return info, nil
		}
	}
	return ProcessInfo{}, fmt.Errorf("no running process named %q", name)
}
