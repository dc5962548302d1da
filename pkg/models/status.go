package models

import "fmt"

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusWaiting    JobStatus = "waiting" // legacy synonym of queued
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusSkipped    JobStatus = "skipped"
)

// AllStatuses lists the canonical statuses in UX order
var AllStatuses = []JobStatus{
	JobStatusProcessing,
	JobStatusQueued,
	JobStatusPaused,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
	JobStatusSkipped,
}

// Normalize maps legacy states onto canonical ones
func Normalize(s JobStatus) JobStatus {
	if s == JobStatusWaiting {
		return JobStatusQueued
	}
	return s
}

// ParseStatus validates a status string
func ParseStatus(s string) (JobStatus, error) {
	st := Normalize(JobStatus(s))
	for _, known := range AllStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status: %q", s)
}

// IsWaitingGroup reports whether the job is waiting to run (queued or paused)
func IsWaitingGroup(s JobStatus) bool {
	s = Normalize(s)
	return s == JobStatusQueued || s == JobStatusPaused
}

// IsTerminal returns true if the job will not run again without a restart
func IsTerminal(s JobStatus) bool {
	switch Normalize(s) {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusSkipped:
		return true
	}
	return false
}

// IsActive returns true if the job is actively being processed
func IsActive(s JobStatus) bool {
	return Normalize(s) == JobStatusProcessing
}

// StatusRank is the fixed UX order used when sorting by status.
// Unknown statuses rank after every known one.
func StatusRank(s JobStatus) int {
	switch Normalize(s) {
	case JobStatusProcessing:
		return 0
	case JobStatusQueued:
		return 1
	case JobStatusPaused:
		return 2
	case JobStatusCompleted:
		return 3
	case JobStatusFailed:
		return 4
	case JobStatusCancelled:
		return 5
	case JobStatusSkipped:
		return 6
	default:
		return 7
	}
}
