package services

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"genome_catalog/catalog/auth"
	"genome_catalog/catalog/authz"
	"genome_catalog/catalog/resolve"
	"genome_catalog/catalog/schema"
	"genome_catalog/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type PanelService struct {
	db       *gorm.DB
	resolver *resolve.Resolver
	access   *authz.Resolver
	userAuth auth.IdentityProvider
	acls     aclEndpoints
}

func (s *PanelService) Routes() chi.Router {
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

type createPanelRequest struct {
	Study       string   `json:"study"`
	Name        string   `json:"name"`
	Disease     string   `json:"disease,omitempty"`
	Description string   `json:"description,omitempty"`
	Genes       []string `json:"genes,omitempty"`
	Regions     []string `json:"regions,omitempty"`
	Variants    []string `json:"variants,omitempty"`
}

func (s *PanelService) Create(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	var params createPanelRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	studyId, err := s.resolver.Study(userId, params.Study)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.CreatePermission(schema.KindPanel)); err != nil {
		writeQueryError(w, err)
		return
	}

	if params.Name == "" {
		writeQueryError(w, CodedError(fmt.Errorf("panel name must not be empty"), http.StatusBadRequest))
		return
	}

	var panel schema.Panel
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing []schema.Panel
		result := txn.Where("study_id = ? AND name = ?", studyId, params.Name).Limit(1).Find(&existing)
		if result.Error != nil {
			slog.Error("sql error checking panel name", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if len(existing) > 0 {
			return CodedError(fmt.Errorf("panel '%v' already exists in study %v", params.Name, studyId), http.StatusConflict)
		}

		id, err := schema.NextId(txn)
		if err != nil {
			return err
		}

		panel = schema.Panel{
			Id:           id,
			Name:         params.Name,
			StudyId:      studyId,
			Disease:      params.Disease,
			Description:  params.Description,
			Genes:        strings.Join(params.Genes, ";"),
			Regions:      strings.Join(params.Regions, ";"),
			Variants:     strings.Join(params.Variants, ";"),
			CreationDate: time.Now().UTC(),
			Status:       schema.StatusReady,
		}
		if result := txn.Create(&panel); result.Error != nil {
			slog.Error("sql error creating panel", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeQueryResponse(w, resultOf(started, panelInfoOf(&panel)))
}

type panelInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	StudyId      int64     `json:"studyId"`
	Disease      string    `json:"disease,omitempty"`
	Description  string    `json:"description,omitempty"`
	Genes        []string  `json:"genes"`
	Regions      []string  `json:"regions"`
	Variants     []string  `json:"variants"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func splitPanelList(column string) []string {
	if column == "" {
		return []string{}
	}
	return strings.Split(column, ";")
}

func panelInfoOf(panel *schema.Panel) panelInfo {
	return panelInfo{
		Id:           panel.Id,
		Name:         panel.Name,
		StudyId:      panel.StudyId,
		Disease:      panel.Disease,
		Description:  panel.Description,
		Genes:        splitPanelList(panel.Genes),
		Regions:      splitPanelList(panel.Regions),
		Variants:     splitPanelList(panel.Variants),
		CreationDate: panel.CreationDate,
		Status:       panel.Status,
	}
}

func (s *PanelService) Info(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	idsParam, err := utils.URLParam(r, "id")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}
	silent := utils.QueryFlag(r, "silent")

	resources, err := s.resolver.Many(userId, schema.KindPanel, splitRefs(idsParam), studyHint(r), silent)
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

		info, err := s.panelInfo(userId, resource.Id)
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

func (s *PanelService) panelInfo(userId string, panelId int64) (panelInfo, error) {
	if err := checkEntityPermission(s.access, schema.KindPanel, panelId, userId, authz.PermView); err != nil {
		return panelInfo{}, err
	}

	panel, err := schema.GetPanel(panelId, s.db)
	if err != nil {
		return panelInfo{}, err
	}
	return panelInfoOf(&panel), nil
}

func (s *PanelService) Search(w http.ResponseWriter, r *http.Request) {
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
	if disease := r.URL.Query().Get("disease"); disease != "" {
		query = query.Where("disease = ?", disease)
	}

	var panels []schema.Panel
	result := query.Order("name asc").Find(&panels)
	if result.Error != nil {
		slog.Error("sql error searching panels", "study_id", studyId, "error", result.Error)
		writeQueryError(w, schema.ErrDbAccessFailed)
		return
	}

	visible, err := s.access.FilterPanels(userId, studyId, panels)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	items := make([]interface{}, 0, len(visible))
	for i := range visible {
		items = append(items, panelInfoOf(&visible[i]))
	}
	writeQueryResponse(w, resultOf(started, items...))
}
