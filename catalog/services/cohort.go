package services

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"genome_catalog/catalog/auth"
	"genome_catalog/catalog/authz"
	"genome_catalog/catalog/resolve"
	"genome_catalog/catalog/schema"
	"genome_catalog/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type CohortService struct {
	db       *gorm.DB
	resolver *resolve.Resolver
	access   *authz.Resolver
	userAuth auth.IdentityProvider
	acls     aclEndpoints
}

func (s *CohortService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/", s.Create)
		r.Get("/search", s.Search)
		r.Get("/{id}/info", s.Info)

		s.acls.Mount(r)
	})

	return r
}

type createCohortRequest struct {
	Study          string                 `json:"study"`
	Name           string                 `json:"name"`
	Type           string                 `json:"type,omitempty"`
	Description    string                 `json:"description,omitempty"`
	SampleIds      []int64                `json:"sampleIds,omitempty"`
	AnnotationSets []schema.AnnotationSet `json:"annotationSets,omitempty"`
}

func (s *CohortService) Create(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	var params createCohortRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	studyId, err := s.resolver.Study(userId, params.Study)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.CreatePermission(schema.KindCohort)); err != nil {
		writeQueryError(w, err)
		return
	}

	if params.Name == "" {
		writeQueryError(w, CodedError(fmt.Errorf("cohort name must not be empty"), http.StatusBadRequest))
		return
	}

	annotations, err := schema.FormatAnnotationSets(params.AnnotationSets)
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	var cohort schema.Cohort
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing []schema.Cohort
		result := txn.Where("study_id = ? AND name = ?", studyId, params.Name).Limit(1).Find(&existing)
		if result.Error != nil {
			slog.Error("sql error checking cohort name", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if len(existing) > 0 {
			return CodedError(fmt.Errorf("cohort '%v' already exists in study %v", params.Name, studyId), http.StatusConflict)
		}

		for _, sampleId := range params.SampleIds {
			sample, err := schema.GetSample(sampleId, txn)
			if err != nil {
				return err
			}
			if sample.StudyId != studyId {
				return CodedError(fmt.Errorf("sample %v belongs to a different study", sampleId), http.StatusBadRequest)
			}
		}

		id, err := schema.NextId(txn)
		if err != nil {
			return err
		}

		cohort = schema.Cohort{
			Id:           id,
			Name:         params.Name,
			StudyId:      studyId,
			Type:         params.Type,
			Description:  params.Description,
			Annotations:  annotations,
			CreationDate: time.Now().UTC(),
			Status:       schema.StatusReady,
		}
		if result := txn.Create(&cohort); result.Error != nil {
			slog.Error("sql error creating cohort", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		for _, sampleId := range params.SampleIds {
			link := schema.CohortSample{CohortId: id, SampleId: sampleId}
			if result := txn.Create(&link); result.Error != nil {
				slog.Error("sql error linking cohort sample", "cohort_id", id, "sample_id", sampleId, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		return nil
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	info, err := s.cohortInfoOf(&cohort)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryResponse(w, resultOf(started, info))
}

type cohortInfo struct {
	Id             int64                  `json:"id"`
	Name           string                 `json:"name"`
	StudyId        int64                  `json:"studyId"`
	Type           string                 `json:"type,omitempty"`
	Description    string                 `json:"description,omitempty"`
	SampleIds      []int64                `json:"sampleIds"`
	AnnotationSets []schema.AnnotationSet `json:"annotationSets,omitempty"`
	CreationDate   time.Time              `json:"creationDate"`
	Status         string                 `json:"status"`
}

func (s *CohortService) cohortInfoOf(cohort *schema.Cohort) (cohortInfo, error) {
	sets, err := schema.ParseAnnotationSets(cohort.Annotations)
	if err != nil {
		return cohortInfo{}, CodedError(err, http.StatusInternalServerError)
	}

	var sampleIds []int64
	result := s.db.Model(&schema.CohortSample{}).
		Where("cohort_id = ?", cohort.Id).Order("sample_id asc").Pluck("sample_id", &sampleIds)
	if result.Error != nil {
		slog.Error("sql error listing cohort samples", "cohort_id", cohort.Id, "error", result.Error)
		return cohortInfo{}, schema.ErrDbAccessFailed
	}
	if sampleIds == nil {
		sampleIds = []int64{}
	}

	return cohortInfo{
		Id:             cohort.Id,
		Name:           cohort.Name,
		StudyId:        cohort.StudyId,
		Type:           cohort.Type,
		Description:    cohort.Description,
		SampleIds:      sampleIds,
		AnnotationSets: sets,
		CreationDate:   cohort.CreationDate,
		Status:         cohort.Status,
	}, nil
}

func (s *CohortService) Info(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	idsParam, err := utils.URLParam(r, "id")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}
	silent := utils.QueryFlag(r, "silent")

	resources, err := s.resolver.Many(userId, schema.KindCohort, splitRefs(idsParam), studyHint(r), silent)
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

		info, err := s.cohortInfo(userId, resource.Id)
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

func (s *CohortService) cohortInfo(userId string, cohortId int64) (cohortInfo, error) {
	if err := checkEntityPermission(s.access, schema.KindCohort, cohortId, userId, authz.PermView); err != nil {
		return cohortInfo{}, err
	}

	cohort, err := schema.GetCohort(cohortId, s.db)
	if err != nil {
		return cohortInfo{}, err
	}

	visible, err := annotationsVisible(s.access, schema.KindCohort, cohortId, userId)
	if err != nil {
		return cohortInfo{}, err
	}
	if !visible {
		cohort.Annotations = ""
	}

	return s.cohortInfoOf(&cohort)
}

func (s *CohortService) Search(w http.ResponseWriter, r *http.Request) {
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
	if cohortType := r.URL.Query().Get("type"); cohortType != "" {
		query = query.Where("type = ?", cohortType)
	}

	var cohorts []schema.Cohort
	result := query.Order("name asc").Find(&cohorts)
	if result.Error != nil {
		slog.Error("sql error searching cohorts", "study_id", studyId, "error", result.Error)
		writeQueryError(w, schema.ErrDbAccessFailed)
		return
	}

	visible, err := s.access.FilterCohorts(userId, studyId, cohorts)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	items := make([]interface{}, 0, len(visible))
	for i := range visible {
		info, err := s.cohortInfoOf(&visible[i])
		if err != nil {
			writeQueryError(w, err)
			return
		}
		items = append(items, info)
	}
	writeQueryResponse(w, resultOf(started, items...))
}
