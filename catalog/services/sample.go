package services

import (
	"errors"
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

type SampleService struct {
	db       *gorm.DB
	resolver *resolve.Resolver
	access   *authz.Resolver
	userAuth auth.IdentityProvider
	acls     aclEndpoints
}

func (s *SampleService) Routes() chi.Router {
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

// annotationsVisible reports whether the caller may read the annotation sets
// of an entity. A denial is not an error here; the entity is served with the
// annotations cleared instead.
func annotationsVisible(access *authz.Resolver, kind schema.EntityKind, entityId int64, userId string) (bool, error) {
	err := checkEntityPermission(access, kind, entityId, userId, authz.PermViewAnnotations)
	if err == nil {
		return true, nil
	}
	var deny *authz.DenyError
	if errors.As(err, &deny) {
		return false, nil
	}
	return false, err
}

type createSampleRequest struct {
	Study          string                 `json:"study"`
	Name           string                 `json:"name"`
	Source         string                 `json:"source,omitempty"`
	Description    string                 `json:"description,omitempty"`
	IndividualId   *int64                 `json:"individualId,omitempty"`
	AnnotationSets []schema.AnnotationSet `json:"annotationSets,omitempty"`
}

func (s *SampleService) Create(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	var params createSampleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	studyId, err := s.resolver.Study(userId, params.Study)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.CreatePermission(schema.KindSample)); err != nil {
		writeQueryError(w, err)
		return
	}

	if params.Name == "" {
		writeQueryError(w, CodedError(fmt.Errorf("sample name must not be empty"), http.StatusBadRequest))
		return
	}

	annotations, err := schema.FormatAnnotationSets(params.AnnotationSets)
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	var sample schema.Sample
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing []schema.Sample
		result := txn.Where("study_id = ? AND name = ?", studyId, params.Name).Limit(1).Find(&existing)
		if result.Error != nil {
			slog.Error("sql error checking sample name", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if len(existing) > 0 {
			return CodedError(fmt.Errorf("sample '%v' already exists in study %v", params.Name, studyId), http.StatusConflict)
		}

		if params.IndividualId != nil {
			individual, err := schema.GetIndividual(*params.IndividualId, txn)
			if err != nil {
				return err
			}
			if individual.StudyId != studyId {
				return CodedError(fmt.Errorf("individual %v belongs to a different study", individual.Id), http.StatusBadRequest)
			}
		}

		id, err := schema.NextId(txn)
		if err != nil {
			return err
		}

		sample = schema.Sample{
			Id:           id,
			Name:         params.Name,
			StudyId:      studyId,
			Source:       params.Source,
			Description:  params.Description,
			IndividualId: params.IndividualId,
			Annotations:  annotations,
			CreationDate: time.Now().UTC(),
			Status:       schema.StatusReady,
		}
		if result := txn.Create(&sample); result.Error != nil {
			slog.Error("sql error creating sample", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	info, err := sampleInfoOf(&sample)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryResponse(w, resultOf(started, info))
}

type sampleInfo struct {
	Id             int64                  `json:"id"`
	Name           string                 `json:"name"`
	StudyId        int64                  `json:"studyId"`
	Source         string                 `json:"source,omitempty"`
	Description    string                 `json:"description,omitempty"`
	IndividualId   *int64                 `json:"individualId,omitempty"`
	AnnotationSets []schema.AnnotationSet `json:"annotationSets,omitempty"`
	CreationDate   time.Time              `json:"creationDate"`
	Status         string                 `json:"status"`
}

func sampleInfoOf(sample *schema.Sample) (sampleInfo, error) {
	sets, err := schema.ParseAnnotationSets(sample.Annotations)
	if err != nil {
		return sampleInfo{}, CodedError(err, http.StatusInternalServerError)
	}
	return sampleInfo{
		Id:             sample.Id,
		Name:           sample.Name,
		StudyId:        sample.StudyId,
		Source:         sample.Source,
		Description:    sample.Description,
		IndividualId:   sample.IndividualId,
		AnnotationSets: sets,
		CreationDate:   sample.CreationDate,
		Status:         sample.Status,
	}, nil
}

func (s *SampleService) Info(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	idsParam, err := utils.URLParam(r, "id")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}
	silent := utils.QueryFlag(r, "silent")

	resources, err := s.resolver.Many(userId, schema.KindSample, splitRefs(idsParam), studyHint(r), silent)
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

		info, err := s.sampleInfo(userId, resource.Id)
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

func (s *SampleService) sampleInfo(userId string, sampleId int64) (sampleInfo, error) {
	if err := checkEntityPermission(s.access, schema.KindSample, sampleId, userId, authz.PermView); err != nil {
		return sampleInfo{}, err
	}

	sample, err := schema.GetSample(sampleId, s.db)
	if err != nil {
		return sampleInfo{}, err
	}

	visible, err := annotationsVisible(s.access, schema.KindSample, sampleId, userId)
	if err != nil {
		return sampleInfo{}, err
	}
	if !visible {
		sample.Annotations = ""
	}

	return sampleInfoOf(&sample)
}

func (s *SampleService) Search(w http.ResponseWriter, r *http.Request) {
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
	if individual := r.URL.Query().Get("individual"); individual != "" {
		resource, err := s.resolver.One(userId, schema.KindIndividual, individual, study)
		if err != nil {
			writeQueryError(w, err)
			return
		}
		query = query.Where("individual_id = ?", resource.Id)
	}

	var samples []schema.Sample
	result := query.Order("name asc").Find(&samples)
	if result.Error != nil {
		slog.Error("sql error searching samples", "study_id", studyId, "error", result.Error)
		writeQueryError(w, schema.ErrDbAccessFailed)
		return
	}

	visible, err := s.access.FilterSamples(userId, studyId, samples)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	items := make([]interface{}, 0, len(visible))
	for i := range visible {
		info, err := sampleInfoOf(&visible[i])
		if err != nil {
			writeQueryError(w, err)
			return
		}
		items = append(items, info)
	}
	writeQueryResponse(w, resultOf(started, items...))
}
