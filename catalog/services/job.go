package services

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"genome_catalog/catalog/auth"
	"genome_catalog/catalog/authz"
	"genome_catalog/catalog/resolve"
	"genome_catalog/catalog/schema"
	"genome_catalog/catalog/scheduler"
	"genome_catalog/catalog/storage"
	"genome_catalog/utils"
	"genome_catalog/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JobService struct {
	db       *gorm.DB
	resolver *resolve.Resolver
	access   *authz.Resolver
	store    storage.Storage
	sched    scheduler.Client
	userAuth auth.IdentityProvider
	audit    *auth.AuditLogger
	acls     aclEndpoints
}

func (s *JobService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/", s.Create)
		r.Get("/search", s.Search)
		r.Get("/{id}/info", s.Info)
		r.Get("/{id}/visit", s.Visit)
		r.Delete("/{id}", s.Delete)

		s.acls.Mount(r)
	})

	return r
}

type createJobRequest struct {
	Study       string   `json:"study"`
	Name        string   `json:"name"`
	ToolName    string   `json:"toolName"`
	Description string   `json:"description,omitempty"`
	CommandLine []string `json:"commandLine"`
	Queue       string   `json:"queue,omitempty"`
}

func (s *JobService) Create(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	var params createJobRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	studyId, err := s.resolver.Study(userId, params.Study)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.CreatePermission(schema.KindJob)); err != nil {
		writeQueryError(w, err)
		return
	}

	if params.Name == "" || params.ToolName == "" {
		writeQueryError(w, CodedError(fmt.Errorf("job name and toolName must not be empty"), http.StatusBadRequest))
		return
	}
	if len(params.CommandLine) == 0 {
		writeQueryError(w, CodedError(fmt.Errorf("job commandLine must not be empty"), http.StatusBadRequest))
		return
	}

	outDir := storage.JobOutDir(uuid.New().String())
	if err := s.store.CreateDir(outDir); err != nil {
		slog.Error("error creating job output directory", "out_dir", outDir, "error", err)
		writeQueryError(w, CodedError(fmt.Errorf("could not create job output directory"), http.StatusInternalServerError))
		return
	}

	var job schema.Job
	err = s.db.Transaction(func(txn *gorm.DB) error {
		id, err := schema.NextId(txn)
		if err != nil {
			return err
		}

		job = schema.Job{
			Id:              id,
			Name:            params.Name,
			ToolName:        params.ToolName,
			StudyId:         studyId,
			UserId:          userId,
			Description:     params.Description,
			CommandLine:     strings.Join(params.CommandLine, " "),
			OutDir:          outDir,
			Queue:           params.Queue,
			CreationDate:    time.Now().UTC(),
			Status:          schema.StatusReady,
			ExecutionStatus: schema.ExecStatusPrepared,
		}
		if result := txn.Create(&job); result.Error != nil {
			slog.Error("sql error creating job", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	submission := scheduler.Job{
		Tool:        job.ToolName,
		JobId:       strconv.FormatInt(job.Id, 10),
		OutDir:      filepath.Join(s.store.Location(), outDir),
		CommandLine: params.CommandLine,
		Queue:       params.Queue,
	}
	if err := s.sched.Submit(submission); err != nil {
		slog.Error("error submitting job to scheduler", "job_id", job.Id, "tool", job.ToolName, "error", err)
		s.setExecutionStatus(&job, schema.ExecStatusError)
		writeQueryError(w, CodedError(fmt.Errorf("could not submit job to scheduler"), http.StatusInternalServerError))
		return
	}

	s.setExecutionStatus(&job, schema.ExecStatusQueued)
	jobSubmissions.Inc()

	s.audit.Record("submit-job", userId, "job_id", job.Id, "study_id", studyId, "tool", job.ToolName)
	slog.Info("submitted job", "job_id", job.Id, "name", job.SchedulerName(), "user", userId, "code", logging.JOB_SUBMIT)

	writeQueryResponse(w, resultOf(started, jobInfoOf(&job)))
}

func (s *JobService) setExecutionStatus(job *schema.Job, status string) {
	result := s.db.Model(&schema.Job{}).Where("id = ?", job.Id).Update("execution_status", status)
	if result.Error != nil {
		slog.Error("sql error updating job execution status", "job_id", job.Id, "status", status, "error", result.Error)
		return
	}
	job.ExecutionStatus = status
}

type jobInfo struct {
	Id              int64      `json:"id"`
	Name            string     `json:"name"`
	ToolName        string     `json:"toolName"`
	StudyId         int64      `json:"studyId"`
	UserId          string     `json:"userId"`
	Description     string     `json:"description,omitempty"`
	CommandLine     string     `json:"commandLine"`
	OutDir          string     `json:"outDir"`
	Queue           string     `json:"queue,omitempty"`
	Visited         bool       `json:"visited"`
	CreationDate    time.Time  `json:"creationDate"`
	EndDate         *time.Time `json:"endDate,omitempty"`
	Status          string     `json:"status"`
	ExecutionStatus string     `json:"executionStatus"`
}

func jobInfoOf(job *schema.Job) jobInfo {
	return jobInfo{
		Id:              job.Id,
		Name:            job.Name,
		ToolName:        job.ToolName,
		StudyId:         job.StudyId,
		UserId:          job.UserId,
		Description:     job.Description,
		CommandLine:     job.CommandLine,
		OutDir:          job.OutDir,
		Queue:           job.Queue,
		Visited:         job.Visited,
		CreationDate:    job.CreationDate,
		EndDate:         job.EndDate,
		Status:          job.Status,
		ExecutionStatus: job.ExecutionStatus,
	}
}

func (s *JobService) Info(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	idsParam, err := utils.URLParam(r, "id")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}
	silent := utils.QueryFlag(r, "silent")

	resources, err := s.resolver.Many(userId, schema.KindJob, splitRefs(idsParam), studyHint(r), silent)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	results := make([]QueryResult, 0, len(resources))
	for _, resource := range resources {
		if resource.Err != nil {
			results = append(results, errorResultOf(started, resource.Err))
			continue
		}

		info, err := s.jobInfo(userId, resource.Id)
		if err != nil {
			if !silent {
				writeQueryError(w, err)
				return
			}
			results = append(results, errorResultOf(started, err))
			continue
		}
		results = append(results, resultOf(started, info))
	}

	writeQueryResponse(w, results...)
}

func (s *JobService) jobInfo(userId string, jobId int64) (jobInfo, error) {
	if err := checkEntityPermission(s.access, schema.KindJob, jobId, userId, authz.PermView); err != nil {
		return jobInfo{}, err
	}

	job, err := schema.GetJob(jobId, s.db)
	if err != nil {
		return jobInfo{}, err
	}
	return jobInfoOf(&job), nil
}

// Visit marks jobs as seen by the caller. The flag lets clients distinguish
// finished jobs whose results were already collected from fresh ones.
func (s *JobService) Visit(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	idsParam, err := utils.URLParam(r, "id")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}
	silent := utils.QueryFlag(r, "silent")

	resources, err := s.resolver.Many(userId, schema.KindJob, splitRefs(idsParam), studyHint(r), silent)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	results := make([]QueryResult, 0, len(resources))
	for _, resource := range resources {
		if resource.Err != nil {
			results = append(results, errorResultOf(started, resource.Err))
			continue
		}

		info, err := s.visitJob(userId, resource.Id)
		if err != nil {
			if !silent {
				writeQueryError(w, err)
				return
			}
			results = append(results, errorResultOf(started, err))
			continue
		}
		results = append(results, resultOf(started, info))
	}

	writeQueryResponse(w, results...)
}

func (s *JobService) visitJob(userId string, jobId int64) (jobInfo, error) {
	if err := checkEntityPermission(s.access, schema.KindJob, jobId, userId, authz.PermView); err != nil {
		return jobInfo{}, err
	}

	job, err := schema.GetJob(jobId, s.db)
	if err != nil {
		return jobInfo{}, err
	}

	if !job.Visited {
		result := s.db.Model(&schema.Job{}).Where("id = ?", jobId).Update("visited", true)
		if result.Error != nil {
			slog.Error("sql error marking job visited", "job_id", jobId, "error", result.Error)
			return jobInfo{}, schema.ErrDbAccessFailed
		}
		job.Visited = true
	}

	return jobInfoOf(&job), nil
}

func (s *JobService) Delete(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	ref, err := utils.URLParam(r, "id")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	resource, err := s.resolver.One(userId, schema.KindJob, ref, studyHint(r))
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkEntityPermission(s.access, schema.KindJob, resource.Id, userId, authz.PermDelete); err != nil {
		writeQueryError(w, err)
		return
	}

	job, err := schema.GetJob(resource.Id, s.db)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := s.store.Delete(job.OutDir); err != nil {
		slog.Error("error deleting job output directory", "job_id", job.Id, "out_dir", job.OutDir, "error", err)
		writeQueryError(w, CodedError(fmt.Errorf("could not delete job output directory"), http.StatusInternalServerError))
		return
	}

	if result := s.db.Delete(&schema.Job{}, "id = ?", job.Id); result.Error != nil {
		slog.Error("sql error deleting job", "job_id", job.Id, "error", result.Error)
		writeQueryError(w, schema.ErrDbAccessFailed)
		return
	}

	s.audit.Record("delete-job", userId, "job_id", job.Id, "study_id", job.StudyId)
	slog.Info("deleted job", "job_id", job.Id, "user", userId, "code", logging.JOB_DELETE)

	writeQueryResponse(w, resultOf(started, jobInfoOf(&job)))
}

func (s *JobService) Search(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	study := r.URL.Query().Get("study")
	if study == "" {
		writeQueryError(w, CodedError(fmt.Errorf("missing study query parameter"), http.StatusBadRequest))
		return
	}

	studyId, err := s.resolver.Study(userId, study)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	query := s.db.Where("study_id = ?", studyId)
	if name := r.URL.Query().Get("name"); name != "" {
		query = query.Where("name = ?", name)
	}
	if tool := r.URL.Query().Get("tool"); tool != "" {
		query = query.Where("tool_name = ?", tool)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("execution_status = ?", status)
	}

	var jobs []schema.Job
	result := query.Order("id asc").Find(&jobs)
	if result.Error != nil {
		slog.Error("sql error searching jobs", "study_id", studyId, "error", result.Error)
		writeQueryError(w, schema.ErrDbAccessFailed)
		return
	}

	visible, err := s.access.FilterJobs(userId, studyId, jobs)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	items := make([]interface{}, 0, len(visible))
	for i := range visible {
		items = append(items, jobInfoOf(&visible[i]))
	}
	writeQueryResponse(w, resultOf(started, items...))
}
