package tests

import (
	"strings"
	"sync"

	"genome_catalog/catalog/scheduler"
)

// SchedulerStub is an in-memory stand-in for the SGE driver. Submitted jobs
// sit in the active queue as "qw" until a test moves or terminates them.
type SchedulerStub struct {
	mu         sync.Mutex
	submitted  []scheduler.Job
	active     map[string]string
	accounting map[string]scheduler.Accounting
	submitErr  error
}

func newSchedulerStub() *SchedulerStub {
	return &SchedulerStub{
		active:     make(map[string]string),
		accounting: make(map[string]scheduler.Accounting),
	}
}

func (s *SchedulerStub) Submit(job scheduler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitErr != nil {
		return s.submitErr
	}
	s.submitted = append(s.submitted, job)
	s.active[job.Name()] = "qw"
	return nil
}

func (s *SchedulerStub) ActiveJobs() ([]scheduler.ActiveJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]scheduler.ActiveJob, 0, len(s.active))
	for name, state := range s.active {
		jobs = append(jobs, scheduler.ActiveJob{Name: name, State: state})
	}
	return jobs, nil
}

func (s *SchedulerStub) TerminatedJob(name string) (*scheduler.Accounting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for recorded, acct := range s.accounting {
		if strings.Contains(recorded, name) {
			result := acct
			return &result, nil
		}
	}
	return nil, scheduler.ErrJobNotFound
}

func (s *SchedulerStub) Submissions() []scheduler.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]scheduler.Job, len(s.submitted))
	copy(jobs, s.submitted)
	return jobs
}

// SetState overrides the queue state of an active job, e.g. "qw" -> "r".
func (s *SchedulerStub) SetState(name, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[name] = state
}

// Terminate drops a job from the active queue and records its post-mortem.
func (s *SchedulerStub) Terminate(name, exitStatus, failed string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, name)
	s.accounting[name] = scheduler.Accounting{ExitStatus: exitStatus, Failed: failed}
}

// FailSubmissions makes every subsequent Submit return err.
func (s *SchedulerStub) FailSubmissions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}
