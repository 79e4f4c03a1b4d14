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

type IndividualService struct {
	db       *gorm.DB
	resolver *resolve.Resolver
	access   *authz.Resolver
	userAuth auth.IdentityProvider
	acls     aclEndpoints
}

func (s *IndividualService) Routes() chi.Router {
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

type createIndividualRequest struct {
	Study          string                 `json:"study"`
	Name           string                 `json:"name"`
	FatherId       *int64                 `json:"fatherId,omitempty"`
	MotherId       *int64                 `json:"motherId,omitempty"`
	Sex            string                 `json:"sex,omitempty"`
	AnnotationSets []schema.AnnotationSet `json:"annotationSets,omitempty"`
}

func (s *IndividualService) Create(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	var params createIndividualRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	studyId, err := s.resolver.Study(userId, params.Study)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.CreatePermission(schema.KindIndividual)); err != nil {
		writeQueryError(w, err)
		return
	}

	if params.Name == "" {
		writeQueryError(w, CodedError(fmt.Errorf("individual name must not be empty"), http.StatusBadRequest))
		return
	}

	annotations, err := schema.FormatAnnotationSets(params.AnnotationSets)
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	var individual schema.Individual
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing []schema.Individual
		result := txn.Where("study_id = ? AND name = ?", studyId, params.Name).Limit(1).Find(&existing)
		if result.Error != nil {
			slog.Error("sql error checking individual name", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if len(existing) > 0 {
			return CodedError(fmt.Errorf("individual '%v' already exists in study %v", params.Name, studyId), http.StatusConflict)
		}

		for _, parentId := range []*int64{params.FatherId, params.MotherId} {
			if parentId == nil {
				continue
			}
			parent, err := schema.GetIndividual(*parentId, txn)
			if err != nil {
				return err
			}
			if parent.StudyId != studyId {
				return CodedError(fmt.Errorf("individual %v belongs to a different study", parent.Id), http.StatusBadRequest)
			}
		}

		id, err := schema.NextId(txn)
		if err != nil {
			return err
		}

		individual = schema.Individual{
			Id:           id,
			Name:         params.Name,
			StudyId:      studyId,
			FatherId:     params.FatherId,
			MotherId:     params.MotherId,
			Sex:          params.Sex,
			Annotations:  annotations,
			CreationDate: time.Now().UTC(),
			Status:       schema.StatusReady,
		}
		if result := txn.Create(&individual); result.Error != nil {
			slog.Error("sql error creating individual", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	info, err := individualInfoOf(&individual)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryResponse(w, resultOf(started, info))
}

type individualInfo struct {
	Id             int64                  `json:"id"`
	Name           string                 `json:"name"`
	StudyId        int64                  `json:"studyId"`
	FatherId       *int64                 `json:"fatherId,omitempty"`
	MotherId       *int64                 `json:"motherId,omitempty"`
	Sex            string                 `json:"sex,omitempty"`
	AnnotationSets []schema.AnnotationSet `json:"annotationSets,omitempty"`
	CreationDate   time.Time              `json:"creationDate"`
	Status         string                 `json:"status"`
}

func individualInfoOf(individual *schema.Individual) (individualInfo, error) {
	sets, err := schema.ParseAnnotationSets(individual.Annotations)
	if err != nil {
		return individualInfo{}, CodedError(err, http.StatusInternalServerError)
	}
	return individualInfo{
		Id:             individual.Id,
		Name:           individual.Name,
		StudyId:        individual.StudyId,
		FatherId:       individual.FatherId,
		MotherId:       individual.MotherId,
		Sex:            individual.Sex,
		AnnotationSets: sets,
		CreationDate:   individual.CreationDate,
		Status:         individual.Status,
	}, nil
}

func (s *IndividualService) Info(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	idsParam, err := utils.URLParam(r, "id")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}
	silent := utils.QueryFlag(r, "silent")

	resources, err := s.resolver.Many(userId, schema.KindIndividual, splitRefs(idsParam), studyHint(r), silent)
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

		info, err := s.individualInfo(userId, resource.Id)
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

func (s *IndividualService) individualInfo(userId string, individualId int64) (individualInfo, error) {
	if err := checkEntityPermission(s.access, schema.KindIndividual, individualId, userId, authz.PermView); err != nil {
		return individualInfo{}, err
	}

	individual, err := schema.GetIndividual(individualId, s.db)
	if err != nil {
		return individualInfo{}, err
	}

	visible, err := annotationsVisible(s.access, schema.KindIndividual, individualId, userId)
	if err != nil {
		return individualInfo{}, err
	}
	if !visible {
		individual.Annotations = ""
	}

	return individualInfoOf(&individual)
}

func (s *IndividualService) Search(w http.ResponseWriter, r *http.Request) {
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
	if sex := r.URL.Query().Get("sex"); sex != "" {
		query = query.Where("sex = ?", sex)
	}

	var individuals []schema.Individual
	result := query.Order("name asc").Find(&individuals)
	if result.Error != nil {
		slog.Error("sql error searching individuals", "study_id", studyId, "error", result.Error)
		writeQueryError(w, schema.ErrDbAccessFailed)
		return
	}

	visible, err := s.access.FilterIndividuals(userId, studyId, individuals)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	items := make([]interface{}, 0, len(visible))
	for i := range visible {
		info, err := individualInfoOf(&visible[i])
		if err != nil {
			writeQueryError(w, err)
			return
		}
		items = append(items, info)
	}
	writeQueryResponse(w, resultOf(started, items...))
}
