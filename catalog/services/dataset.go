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

type DatasetService struct {
	db       *gorm.DB
	resolver *resolve.Resolver
	access   *authz.Resolver
	userAuth auth.IdentityProvider
	acls     aclEndpoints
}

func (s *DatasetService) Routes() chi.Router {
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

type createDatasetRequest struct {
	Study       string  `json:"study"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	FileIds     []int64 `json:"fileIds,omitempty"`
}

func (s *DatasetService) Create(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	var params createDatasetRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	studyId, err := s.resolver.Study(userId, params.Study)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.CreatePermission(schema.KindDataset)); err != nil {
		writeQueryError(w, err)
		return
	}

	if params.Name == "" {
		writeQueryError(w, CodedError(fmt.Errorf("dataset name must not be empty"), http.StatusBadRequest))
		return
	}

	var dataset schema.Dataset
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing []schema.Dataset
		result := txn.Where("study_id = ? AND name = ?", studyId, params.Name).Limit(1).Find(&existing)
		if result.Error != nil {
			slog.Error("sql error checking dataset name", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if len(existing) > 0 {
			return CodedError(fmt.Errorf("dataset '%v' already exists in study %v", params.Name, studyId), http.StatusConflict)
		}

		for _, fileId := range params.FileIds {
			file, err := schema.GetFile(fileId, txn)
			if err != nil {
				return err
			}
			if file.StudyId != studyId {
				return CodedError(fmt.Errorf("file %v belongs to a different study", fileId), http.StatusBadRequest)
			}
		}

		id, err := schema.NextId(txn)
		if err != nil {
			return err
		}

		dataset = schema.Dataset{
			Id:           id,
			Name:         params.Name,
			StudyId:      studyId,
			Description:  params.Description,
			CreationDate: time.Now().UTC(),
			Status:       schema.StatusReady,
		}
		if result := txn.Create(&dataset); result.Error != nil {
			slog.Error("sql error creating dataset", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		for _, fileId := range params.FileIds {
			link := schema.DatasetFile{DatasetId: id, FileId: fileId}
			if result := txn.Create(&link); result.Error != nil {
				slog.Error("sql error linking dataset file", "dataset_id", id, "file_id", fileId, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		return nil
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	info, err := s.datasetInfoOf(&dataset)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryResponse(w, resultOf(started, info))
}

type datasetInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	StudyId      int64     `json:"studyId"`
	Description  string    `json:"description,omitempty"`
	FileIds      []int64   `json:"fileIds"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func (s *DatasetService) datasetInfoOf(dataset *schema.Dataset) (datasetInfo, error) {
	var fileIds []int64
	result := s.db.Model(&schema.DatasetFile{}).
		Where("dataset_id = ?", dataset.Id).Order("file_id asc").Pluck("file_id", &fileIds)
	if result.Error != nil {
		slog.Error("sql error listing dataset files", "dataset_id", dataset.Id, "error", result.Error)
		return datasetInfo{}, schema.ErrDbAccessFailed
	}
	if fileIds == nil {
		fileIds = []int64{}
	}

	return datasetInfo{
		Id:           dataset.Id,
		Name:         dataset.Name,
		StudyId:      dataset.StudyId,
		Description:  dataset.Description,
		FileIds:      fileIds,
		CreationDate: dataset.CreationDate,
		Status:       dataset.Status,
	}, nil
}

func (s *DatasetService) Info(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	idsParam, err := utils.URLParam(r, "id")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}
	silent := utils.QueryFlag(r, "silent")

	resources, err := s.resolver.Many(userId, schema.KindDataset, splitRefs(idsParam), studyHint(r), silent)
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

		info, err := s.datasetInfo(userId, resource.Id)
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

func (s *DatasetService) datasetInfo(userId string, datasetId int64) (datasetInfo, error) {
	if err := checkEntityPermission(s.access, schema.KindDataset, datasetId, userId, authz.PermView); err != nil {
		return datasetInfo{}, err
	}

	dataset, err := schema.GetDataset(datasetId, s.db)
	if err != nil {
		return datasetInfo{}, err
	}
	return s.datasetInfoOf(&dataset)
}

func (s *DatasetService) Search(w http.ResponseWriter, r *http.Request) {
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

	var datasets []schema.Dataset
	result := query.Order("name asc").Find(&datasets)
	if result.Error != nil {
		slog.Error("sql error searching datasets", "study_id", studyId, "error", result.Error)
		writeQueryError(w, schema.ErrDbAccessFailed)
		return
	}

	visible, err := s.access.FilterDatasets(userId, studyId, datasets)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	items := make([]interface{}, 0, len(visible))
	for i := range visible {
		info, err := s.datasetInfoOf(&visible[i])
		if err != nil {
			writeQueryError(w, err)
			return
		}
		items = append(items, info)
	}
	writeQueryResponse(w, resultOf(started, items...))
}
