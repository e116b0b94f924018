package monitor

// Status is the result code returned by every public facade operation.
// Nothing crosses the API boundary as a panic; background faults surface
// as StatusErrorNotRunning on the next call.
type Status int

const (
	StatusSuccess Status = iota
	StatusErrorInvalidParameter
	StatusErrorAlreadyRunning
	StatusErrorNotRunning
	StatusErrorStartFailed
	StatusErrorStopFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusErrorInvalidParameter:
		return "ERROR_INVALID_PARAMETER"
	case StatusErrorAlreadyRunning:
		return "ERROR_ALREADY_RUNNING"
	case StatusErrorNotRunning:
		return "ERROR_NOT_RUNNING"
	case StatusErrorStartFailed:
		return "ERROR_START_FAILED"
	case StatusErrorStopFailed:
		return "ERROR_STOP_FAILED"
	default:
		return "UNKNOWN"
	}
}
