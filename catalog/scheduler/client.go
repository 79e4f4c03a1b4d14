package scheduler

import "strings"

// Status is the catalog-level view of a job's life on the batch scheduler.
type Status string

const (
	StatusQueued         Status = "QUEUED"
	StatusRunning        Status = "RUNNING"
	StatusTransferred    Status = "TRANSFERRED"
	StatusError          Status = "ERROR"
	StatusFinished       Status = "FINISHED"
	StatusExecutionError Status = "EXECUTION_ERROR"
	StatusQueueError     Status = "QUEUE_ERROR"
	StatusUnknown        Status = "UNKNOWN"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusExecutionError, StatusQueueError, StatusError:
		return true
	}
	return false
}

// Job describes a submission to the batch scheduler. CommandLine is passed
// through verbatim, the scheduler is the source of truth once accepted.
type Job struct {
	Tool        string
	JobId       string
	OutDir      string
	CommandLine []string
	Queue       string
}

// Name is the identifier the job carries on the external scheduler. Spaces
// are not legal in scheduler job names, so the tool name is sanitized.
func (j Job) Name() string {
	return strings.ReplaceAll(j.Tool, " ", "_") + "_" + j.JobId
}

// ActiveJob is one row of the scheduler's active queue snapshot. State is
// the scheduler's raw state code, e.g. "r" or "qw".
type ActiveJob struct {
	Name  string
	State string
}

// Accounting holds the post-mortem record for a terminated job.
type Accounting struct {
	ExitStatus string
	Failed     string
}

type Client interface {
	Submit(job Job) error

	ActiveJobs() ([]ActiveJob, error)

	// TerminatedJob returns ErrJobNotFound if the scheduler retains no
	// accounting record for the name.
	TerminatedJob(name string) (*Accounting, error)
}
