package services

import (
	"errors"
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

type ProjectService struct {
	db       *gorm.DB
	resolver *resolve.Resolver
	userAuth auth.IdentityProvider
}

func (s *ProjectService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/", s.Create)
		r.Get("/{id}/info", s.Info)
	})

	return r
}

// Aliases appear inside reference strings, so the separators the reference
// grammar assigns meaning to are forbidden, as they are in user ids.
func validateAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("alias must not be empty")
	}
	if strings.ContainsAny(alias, "@:,!/ ") {
		return fmt.Errorf("alias '%v' contains reserved characters", alias)
	}
	return nil
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Alias       string `json:"alias"`
	Description string `json:"description,omitempty"`
}

func (s *ProjectService) Create(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	if userId == schema.AnonymousUser {
		writeQueryError(w, CodedError(fmt.Errorf("anonymous users cannot create projects"), http.StatusForbidden))
		return
	}

	var params createProjectRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	if params.Name == "" {
		writeQueryError(w, CodedError(fmt.Errorf("project name must not be empty"), http.StatusBadRequest))
		return
	}
	if err := validateAlias(params.Alias); err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	var project schema.Project
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var existing []schema.Project
		result := txn.Where("owner_id = ? AND alias = ?", userId, params.Alias).Limit(1).Find(&existing)
		if result.Error != nil {
			slog.Error("sql error checking project alias", "owner", userId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if len(existing) > 0 {
			return CodedError(fmt.Errorf("project alias '%v' already exists for user %v", params.Alias, userId), http.StatusConflict)
		}

		id, err := schema.NextId(txn)
		if err != nil {
			return err
		}

		project = schema.Project{
			Id:           id,
			Name:         params.Name,
			Alias:        params.Alias,
			OwnerId:      userId,
			Description:  params.Description,
			CreationDate: time.Now().UTC(),
			Status:       schema.StatusReady,
		}
		if result := txn.Create(&project); result.Error != nil {
			slog.Error("sql error creating project", "owner", userId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	slog.Info("created project", "project_id", project.Id, "owner", userId)

	writeQueryResponse(w, resultOf(started, projectInfoOf(&project)))
}

type projectInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	Alias        string    `json:"alias"`
	Owner        string    `json:"owner"`
	Description  string    `json:"description,omitempty"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func projectInfoOf(project *schema.Project) projectInfo {
	return projectInfo{
		Id:           project.Id,
		Name:         project.Name,
		Alias:        project.Alias,
		Owner:        project.OwnerId,
		Description:  project.Description,
		CreationDate: project.CreationDate,
		Status:       project.Status,
	}
}

func (s *ProjectService) Info(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	idsParam, err := utils.URLParam(r, "id")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}
	silent := utils.QueryFlag(r, "silent")

	refs := splitRefs(idsParam)
	results := make([]QueryResult, 0, len(refs))
	for _, ref := range refs {
		info, err := s.projectInfo(userId, ref)
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

func (s *ProjectService) projectInfo(userId, ref string) (projectInfo, error) {
	projectId, err := s.resolver.Project(userId, ref)
	if err != nil {
		return projectInfo{}, err
	}

	project, err := schema.GetProject(projectId, s.db)
	if err != nil {
		return projectInfo{}, err
	}

	allowed, err := s.canView(userId, &project)
	if err != nil {
		return projectInfo{}, err
	}
	if !allowed {
		return projectInfo{}, &authz.DenyError{
			Message: fmt.Sprintf("Permission denied. User '%v' cannot VIEW project { id: %v }", userId, project.Id),
		}
	}

	return projectInfoOf(&project), nil
}

// canView allows the project owner, the daemon admin holding a daemon acl,
// and anyone with access to at least one study inside the project. Projects
// carry no acls of their own.
func (s *ProjectService) canView(userId string, project *schema.Project) (bool, error) {
	if project.OwnerId == userId {
		return true, nil
	}

	if userId == schema.AdminUser {
		if _, err := schema.GetDaemonAcl(schema.AdminUser, s.db); err != nil {
			if errors.Is(err, schema.ErrAclNotFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}

	studyIds, err := s.resolver.AccessibleStudyIds(userId)
	if err != nil {
		return false, err
	}
	if len(studyIds) == 0 {
		return false, nil
	}

	var count int64
	result := s.db.Model(&schema.Study{}).Where("project_id = ? AND id IN ?", project.Id, studyIds).Count(&count)
	if result.Error != nil {
		slog.Error("sql error counting accessible studies", "project_id", project.Id, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	return count > 0, nil
}
