// Package sge drives a Sun Grid Engine batch scheduler through its command
// line tools: qsub for submission, qstat for the active queue snapshot, and
// qacct for the accounting post-mortem of terminated jobs.
package sge

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"genome_catalog/catalog/scheduler"
)

// Runner executes a scheduler command and returns its stdout. Tests
// substitute canned output here.
type Runner func(name string, args ...string) ([]byte, error)

type Client struct {
	config *Config
	run    Runner
}

var _ scheduler.Client = (*Client)(nil)

func NewClient(config *Config) *Client {
	return NewClientWithRunner(config, func(name string, args ...string) ([]byte, error) {
		return exec.Command(name, args...).Output()
	})
}

func NewClientWithRunner(config *Config, run Runner) *Client {
	return &Client{config: config, run: run}
}

// Submit hands the job to qsub. Stdout and stderr land in fixed log files
// under the job's out dir, and the job inherits the daemon's environment.
// Submission is fire and forget, the scheduler is the source of truth once
// qsub accepts.
func (c *Client) Submit(job scheduler.Job) error {
	queue := job.Queue
	if queue == "" {
		queue = c.config.SelectQueue(job.Tool)
	}

	args := []string{
		"-V",
		"-N", job.Name(),
		"-o", filepath.Join(job.OutDir, "sge_out.log"),
		"-e", filepath.Join(job.OutDir, "sge_err.log"),
		"-q", queue,
		"-b", "y",
	}
	args = append(args, job.CommandLine...)

	slog.Info("submitting job to sge", "name", job.Name(), "queue", queue)

	if _, err := c.run("qsub", args...); err != nil {
		return fmt.Errorf("error submitting job %v to sge: %w", job.Name(), err)
	}
	return nil
}

type qstatJob struct {
	Name  string `xml:"JB_name"`
	State string `xml:"state"`
}

// qstat -xml nests job_list rows under queue_info (running) and a second
// job_info element (pending).
type qstatReport struct {
	Running []qstatJob `xml:"queue_info>job_list"`
	Pending []qstatJob `xml:"job_info>job_list"`
}

func (c *Client) ActiveJobs() ([]scheduler.ActiveJob, error) {
	out, err := c.run("qstat", "-xml")
	if err != nil {
		return nil, fmt.Errorf("error querying sge active jobs: %w", err)
	}

	var report qstatReport
	if err := xml.Unmarshal(out, &report); err != nil {
		return nil, fmt.Errorf("error parsing qstat xml: %w", err)
	}

	jobs := make([]scheduler.ActiveJob, 0, len(report.Running)+len(report.Pending))
	for _, job := range report.Running {
		jobs = append(jobs, scheduler.ActiveJob{Name: job.Name, State: job.State})
	}
	for _, job := range report.Pending {
		jobs = append(jobs, scheduler.ActiveJob{Name: job.Name, State: job.State})
	}
	return jobs, nil
}

// TerminatedJob scans qacct output for the exit_status and failed fields.
// qacct exits nonzero when it retains no record for the name, which maps to
// ErrJobNotFound rather than an invocation failure.
func (c *Client) TerminatedJob(name string) (*scheduler.Accounting, error) {
	out, err := c.run("qacct", "-j", name)
	if err != nil {
		return nil, fmt.Errorf("no accounting record for %v: %w", name, scheduler.ErrJobNotFound)
	}

	acct := &scheduler.Accounting{}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "exit_status":
			acct.ExitStatus = fields[1]
		case "failed":
			acct.Failed = fields[1]
		}
	}

	if acct.ExitStatus == "" && acct.Failed == "" {
		return nil, fmt.Errorf("no accounting record for %v: %w", name, scheduler.ErrJobNotFound)
	}
	return acct, nil
}
