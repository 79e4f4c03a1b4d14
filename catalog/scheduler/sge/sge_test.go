package sge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"genome_catalog/catalog/scheduler"

	"github.com/stretchr/testify/assert"
)

func routingConfig() *Config {
	return &Config{
		DefaultQueue: "default.q",
		Queues: []QueueSpec{
			{Name: "short.q", Tools: []string{"fastqc", "bwa"}},
			{Name: "long.q", Tools: []string{"BWA", "gatk"}},
			{Name: "default.q", Tools: []string{"fastqc"}},
		},
	}
}

func TestSelectQueue(t *testing.T) {
	config := routingConfig()

	// The default queue's own tool list is never consulted.
	assert.Equal(t, "short.q", config.SelectQueue("fastqc"))
	// A tool listed under two queues lands on the one configured last.
	assert.Equal(t, "long.q", config.SelectQueue("bwa"))
	assert.Equal(t, "long.q", config.SelectQueue("GATK"))
	assert.Equal(t, "default.q", config.SelectQueue("unrouted"))
}

func TestSubmitBuildsQsubInvocation(t *testing.T) {
	var gotCmd string
	var gotArgs []string
	client := NewClientWithRunner(routingConfig(), func(name string, args ...string) ([]byte, error) {
		gotCmd = name
		gotArgs = args
		return []byte(`Your job 101 ("variant_caller_42") has been submitted`), nil
	})

	job := scheduler.Job{
		Tool:        "variant caller",
		JobId:       "42",
		OutDir:      "/data/jobs/J_42",
		CommandLine: []string{"vcall", "--input", "sample.bam"},
	}
	if err := client.Submit(job); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "qsub", gotCmd)
	assert.Equal(t, []string{
		"-V",
		"-N", "variant_caller_42",
		"-o", "/data/jobs/J_42/sge_out.log",
		"-e", "/data/jobs/J_42/sge_err.log",
		"-q", "default.q",
		"-b", "y",
		"vcall", "--input", "sample.bam",
	}, gotArgs)
}

func TestSubmitExplicitQueueWins(t *testing.T) {
	var gotArgs []string
	client := NewClientWithRunner(routingConfig(), func(name string, args ...string) ([]byte, error) {
		gotArgs = args
		return nil, nil
	})

	job := scheduler.Job{
		Tool:        "bwa",
		JobId:       "7",
		OutDir:      "/data/jobs/J_7",
		CommandLine: []string{"bwa", "mem"},
		Queue:       "urgent.q",
	}
	if err := client.Submit(job); err != nil {
		t.Fatal(err)
	}

	assert.Contains(t, gotArgs, "urgent.q")
	assert.NotContains(t, gotArgs, "long.q")
}

func TestSubmitReportsQsubFailure(t *testing.T) {
	client := NewClientWithRunner(routingConfig(), func(name string, args ...string) ([]byte, error) {
		return nil, errors.New("qsub: unable to contact qmaster")
	})

	err := client.Submit(scheduler.Job{Tool: "bwa", JobId: "7", OutDir: "/tmp", CommandLine: []string{"bwa"}})
	assert.Error(t, err)
}

const qstatOutput = `<?xml version='1.0'?>
<job_info xmlns:xsd="http://arc.liv.ac.uk/repos/darcs/sge/source/dist/util/resources/schemas/qstat/qstat.xsd">
  <queue_info>
    <job_list state="running">
      <JB_job_number>101</JB_job_number>
      <JB_name>alignment_7</JB_name>
      <JB_owner>daemon</JB_owner>
      <state>r</state>
    </job_list>
  </queue_info>
  <job_info>
    <job_list state="pending">
      <JB_job_number>102</JB_job_number>
      <JB_name>gwas_8</JB_name>
      <JB_owner>daemon</JB_owner>
      <state>qw</state>
    </job_list>
    <job_list state="pending">
      <JB_job_number>103</JB_job_number>
      <JB_name>gwas_9</JB_name>
      <JB_owner>daemon</JB_owner>
      <state>Eqw</state>
    </job_list>
  </job_info>
</job_info>`

func TestActiveJobsParsesQstatXml(t *testing.T) {
	client := NewClientWithRunner(routingConfig(), func(name string, args ...string) ([]byte, error) {
		assert.Equal(t, "qstat", name)
		assert.Equal(t, []string{"-xml"}, args)
		return []byte(qstatOutput), nil
	})

	jobs, err := client.ActiveJobs()
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, []scheduler.ActiveJob{
		{Name: "alignment_7", State: "r"},
		{Name: "gwas_8", State: "qw"},
		{Name: "gwas_9", State: "Eqw"},
	}, jobs)
}

func TestActiveJobsRejectsMalformedXml(t *testing.T) {
	client := NewClientWithRunner(routingConfig(), func(name string, args ...string) ([]byte, error) {
		return []byte("qstat: not xml today"), nil
	})

	_, err := client.ActiveJobs()
	assert.Error(t, err)
}

const qacctOutput = `==============================================================
qname        default.q
hostname     compute-0-1
group        daemon
owner        daemon
jobname      alignment_7
jobnumber    101
taskid       undefined
qsub_time    Mon Aug 25 10:00:00 2026
start_time   Mon Aug 25 10:00:05 2026
end_time     Mon Aug 25 10:12:41 2026
failed       0
exit_status  1
ru_wallclock 756
`

func TestTerminatedJobParsesAccounting(t *testing.T) {
	client := NewClientWithRunner(routingConfig(), func(name string, args ...string) ([]byte, error) {
		assert.Equal(t, "qacct", name)
		assert.Equal(t, []string{"-j", "alignment_7"}, args)
		return []byte(qacctOutput), nil
	})

	acct, err := client.TerminatedJob("alignment_7")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "1", acct.ExitStatus)
	assert.Equal(t, "0", acct.Failed)
}

func TestTerminatedJobParsesAnnotatedFailure(t *testing.T) {
	// qacct appends a reason after the failed code.
	output := "failed       26  : opening input/output file\nexit_status  0\n"
	client := NewClientWithRunner(routingConfig(), func(name string, args ...string) ([]byte, error) {
		return []byte(output), nil
	})

	acct, err := client.TerminatedJob("alignment_8")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "26", acct.Failed)
	assert.Equal(t, "0", acct.ExitStatus)
}

func TestTerminatedJobNotFound(t *testing.T) {
	client := NewClientWithRunner(routingConfig(), func(name string, args ...string) ([]byte, error) {
		return nil, errors.New("error: job name alignment_9 not found")
	})

	_, err := client.TerminatedJob("alignment_9")
	if !errors.Is(err, scheduler.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestTerminatedJobWithoutAccountingFields(t *testing.T) {
	client := NewClientWithRunner(routingConfig(), func(name string, args ...string) ([]byte, error) {
		return []byte("Total System Usage\nWALLCLOCK 0\n"), nil
	})

	_, err := client.TerminatedJob("alignment_10")
	if !errors.Is(err, scheduler.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sge.yaml")
	content := `default_queue: default.q
queues:
  - name: short.q
    tools: [fastqc]
  - name: long.q
    tools: [gatk, bwa]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "default.q", config.DefaultQueue)
	assert.Len(t, config.Queues, 2)
	assert.Equal(t, "long.q", config.SelectQueue("bwa"))
}

func TestLoadConfigRequiresDefaultQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sge.yaml")
	if err := os.WriteFile(path, []byte("queues: []\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
