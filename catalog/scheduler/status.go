package scheduler

import (
	"errors"
	"strings"
)

// ErrJobNotFound indicates the scheduler retains no record, active or
// accounted, for the requested job name.
var ErrJobNotFound = errors.New("job not found on scheduler")

// ResolveStatus reconciles a job's catalog status against the external
// scheduler. The active queue is checked first, matching any job whose name
// contains ref (ref may be the bare catalog id or the full scheduler name).
// Jobs missing from the active queue are classified from the accounting
// post-mortem. StatusUnknown is returned only when neither source has data.
func ResolveStatus(client Client, ref string) (Status, error) {
	active, err := client.ActiveJobs()
	if err != nil {
		return StatusUnknown, err
	}

	for _, job := range active {
		if !strings.Contains(job.Name, ref) {
			continue
		}
		switch job.State {
		case "r":
			return StatusRunning, nil
		case "t":
			return StatusTransferred, nil
		case "qw":
			return StatusQueued, nil
		case "Eqw":
			return StatusError, nil
		default:
			return StatusUnknown, nil
		}
	}

	acct, err := client.TerminatedJob(ref)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return StatusUnknown, nil
		}
		return StatusUnknown, err
	}

	if acct.Failed != "0" {
		return StatusQueueError, nil
	}
	if acct.ExitStatus == "0" {
		return StatusFinished, nil
	}
	return StatusExecutionError, nil
}
