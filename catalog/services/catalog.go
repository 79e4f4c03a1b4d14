package services

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"genome_catalog/catalog/auth"
	"genome_catalog/catalog/authz"
	"genome_catalog/catalog/metadata"
	"genome_catalog/catalog/resolve"
	"genome_catalog/catalog/schema"
	"genome_catalog/catalog/scheduler"
	"genome_catalog/catalog/storage"
	"genome_catalog/utils"
	"genome_catalog/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Catalog struct {
	user       UserService
	project    ProjectService
	study      StudyService
	file       FileService
	sample     SampleService
	individual IndividualService
	cohort     CohortService
	dataset    DatasetService
	panel      PanelService
	job        JobService
	admin      AdminService

	db    *gorm.DB
	sched scheduler.Client
	stop  chan bool
}

func NewCatalog(
	db *gorm.DB, store storage.Storage, sched scheduler.Client, userAuth auth.IdentityProvider, audit *auth.AuditLogger, meta *metadata.Manager, idOffset int64,
) Catalog {
	resolver := resolve.NewResolver(db, idOffset)
	aclManager := authz.NewManager(db, meta)
	access := aclManager.Resolver()

	aclsFor := func(kind schema.EntityKind) aclEndpoints {
		return aclEndpoints{kind: kind, acl: aclManager, resolver: resolver, audit: audit}
	}

	return Catalog{
		user:    UserService{db: db, userAuth: userAuth},
		project: ProjectService{db: db, resolver: resolver, userAuth: userAuth},
		study: StudyService{
			db:       db,
			resolver: resolver,
			access:   access,
			meta:     meta,
			userAuth: userAuth,
			audit:    audit,
			acls:     aclsFor(schema.KindStudy),
		},
		file: FileService{
			db:       db,
			resolver: resolver,
			access:   access,
			store:    store,
			userAuth: userAuth,
			acls:     aclsFor(schema.KindFile),
		},
		sample: SampleService{
			db:       db,
			resolver: resolver,
			access:   access,
			userAuth: userAuth,
			acls:     aclsFor(schema.KindSample),
		},
		individual: IndividualService{
			db:       db,
			resolver: resolver,
			access:   access,
			userAuth: userAuth,
			acls:     aclsFor(schema.KindIndividual),
		},
		cohort: CohortService{
			db:       db,
			resolver: resolver,
			access:   access,
			userAuth: userAuth,
			acls:     aclsFor(schema.KindCohort),
		},
		dataset: DatasetService{
			db:       db,
			resolver: resolver,
			access:   access,
			userAuth: userAuth,
			acls:     aclsFor(schema.KindDataset),
		},
		panel: PanelService{
			db:       db,
			resolver: resolver,
			access:   access,
			userAuth: userAuth,
			acls:     aclsFor(schema.KindPanel),
		},
		job: JobService{
			db:       db,
			resolver: resolver,
			access:   access,
			store:    store,
			sched:    sched,
			userAuth: userAuth,
			audit:    audit,
			acls:     aclsFor(schema.KindJob),
		},
		admin: AdminService{db: db, acl: aclManager, store: store, userAuth: userAuth, audit: audit},

		db:    db,
		sched: sched,
		stop:  make(chan bool, 1),
	}
}

func (c *Catalog) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/users", c.user.Routes())
	r.Mount("/projects", c.project.Routes())
	r.Mount("/studies", c.study.Routes())
	r.Mount("/files", c.file.Routes())
	r.Mount("/samples", c.sample.Routes())
	r.Mount("/individuals", c.individual.Routes())
	r.Mount("/cohorts", c.cohort.Routes())
	r.Mount("/datasets", c.dataset.Routes())
	r.Mount("/panels", c.panel.Routes())
	r.Mount("/jobs", c.job.Routes())
	r.Mount("/admin", c.admin.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (c *Catalog) syncJobStatus(job *schema.Job) {
	status, err := scheduler.ResolveStatus(c.sched, job.SchedulerName())
	if err != nil {
		schedulerProbeFailures.Inc()
		slog.Error("status sync: scheduler probe", "job_id", job.Id, "error", err)
		return
	}

	var next string
	switch status {
	case scheduler.StatusQueued:
		next = schema.ExecStatusQueued
	case scheduler.StatusRunning, scheduler.StatusTransferred:
		next = schema.ExecStatusRunning
	case scheduler.StatusFinished:
		next = schema.ExecStatusDone
	case scheduler.StatusError, scheduler.StatusExecutionError, scheduler.StatusQueueError:
		next = schema.ExecStatusError
	default:
		// The scheduler has no record yet. Leave the row alone rather than
		// guessing, the next probe will catch up.
		return
	}

	if next == job.ExecutionStatus {
		return
	}

	updates := map[string]interface{}{"execution_status": next}
	if status.Terminal() {
		updates["end_date"] = time.Now().UTC()
	}

	result := c.db.Model(job).Where("execution_status = ?", job.ExecutionStatus).Updates(updates)
	if result.Error != nil {
		slog.Error("status sync: sql error updating job execution status", "job_id", job.Id, "error", result.Error)
		return
	}
	slog.Info("status sync: updated job execution status", "job_id", job.Id, "status", next, "code", logging.JOB_STATUS)
}

func (c *Catalog) statusSync() {
	var jobs []schema.Job

	result := c.db.
		Where("execution_status IN ?", []string{schema.ExecStatusQueued, schema.ExecStatusRunning}).
		Find(&jobs)

	if result.Error != nil {
		slog.Error("status sync: sql error querying active jobs", "error", result.Error)
		return
	}

	for i := range jobs {
		c.syncJobStatus(&jobs[i])
	}
}

func (c *Catalog) JobStatusSync(interval time.Duration) {
	slog.Info("status sync: starting")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.statusSync()
		case <-c.stop:
			slog.Info("status sync: process stopped")
			return
		}
	}
}

func (c *Catalog) StopJobStatusSync() {
	close(c.stop)
}
