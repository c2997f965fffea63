package job

import (
	"errors"
	"strings"
)

// Status is the lifecycle state of a remote synthesis task.
type Status string

// Task statuses, in lifecycle order.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

var (
	// ErrJobFailed is wrapped by the ProviderError returned for a FAILED task.
	ErrJobFailed = errors.New("synthesis job failed")
	// ErrUnknownStatus is wrapped when the service reports a status outside the lifecycle.
	ErrUnknownStatus = errors.New("unknown job status")
)

// ParseStatus normalizes a status string reported by the service.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(value)))

	switch status {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed:
		return status, nil
	default:
		return "", ErrUnknownStatus
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusSuccess, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Job tracks one submitted chunk through polling.
type Job struct {
	TaskID        string
	Status        Status
	ResultHandle  string
	FailureReason string
	Attempts      int
}

// Advance moves the job to status if that is a forward transition. Regressions and any
// change after a terminal state are ignored. It reports whether the status changed.
func (j *Job) Advance(status Status) bool {
	if j.Status.Terminal() {
		return false
	}

	if status.rank() <= j.Status.rank() {
		return false
	}

	j.Status = status

	return true
}
