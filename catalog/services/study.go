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
	"genome_catalog/catalog/metadata"
	"genome_catalog/catalog/resolve"
	"genome_catalog/catalog/schema"
	"genome_catalog/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type StudyService struct {
	db       *gorm.DB
	resolver *resolve.Resolver
	access   *authz.Resolver
	meta     *metadata.Manager
	userAuth auth.IdentityProvider
	audit    *auth.AuditLogger
	acls     aclEndpoints
}

func (s *StudyService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/", s.Create)
		r.Get("/{id}/info", s.Info)

		r.Get("/{id}/groups", s.Groups)
		r.Post("/{id}/groups", s.CreateGroup)
		r.Post("/{id}/groups/{group}/members", s.AddGroupMembers)
		r.Delete("/{id}/groups/{group}/members/{user}", s.RemoveGroupMember)

		s.acls.Mount(r)
	})

	return r
}

type createStudyRequest struct {
	Project     string `json:"project"`
	Name        string `json:"name"`
	Alias       string `json:"alias"`
	Description string `json:"description,omitempty"`
}

func (s *StudyService) Create(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	var params createStudyRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	if params.Name == "" {
		writeQueryError(w, CodedError(fmt.Errorf("study name must not be empty"), http.StatusBadRequest))
		return
	}
	if err := validateAlias(params.Alias); err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	projectId, err := s.resolver.Project(userId, params.Project)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	project, err := schema.GetProject(projectId, s.db)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if project.OwnerId != userId {
		writeQueryError(w, &authz.DenyError{
			Message: fmt.Sprintf("Permission denied. User '%v' cannot CREATE_STUDIES project { id: %v }", userId, projectId),
		})
		return
	}

	var study schema.Study
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing []schema.Study
		result := txn.Where("project_id = ? AND alias = ?", projectId, params.Alias).Limit(1).Find(&existing)
		if result.Error != nil {
			slog.Error("sql error checking study alias", "project_id", projectId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if len(existing) > 0 {
			return CodedError(fmt.Errorf("study alias '%v' already exists in project %v", params.Alias, project.Alias), http.StatusConflict)
		}

		id, err := schema.NextId(txn)
		if err != nil {
			return err
		}

		study = schema.Study{
			Id:           id,
			Name:         params.Name,
			Alias:        params.Alias,
			ProjectId:    projectId,
			Description:  params.Description,
			CreationDate: time.Now().UTC(),
			Status:       schema.StatusReady,
		}
		if result := txn.Create(&study); result.Error != nil {
			slog.Error("sql error creating study", "project_id", projectId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		// Every study carries a root folder row (path "") so that acls can
		// be attached at the top of the file tree.
		rootId, err := schema.NextId(txn)
		if err != nil {
			return err
		}
		root := schema.File{
			Id:           rootId,
			Name:         ".",
			Path:         "",
			Type:         schema.FileTypeDirectory,
			StudyId:      id,
			CreationDate: study.CreationDate,
			Status:       schema.StatusReady,
		}
		if result := txn.Create(&root); result.Error != nil {
			slog.Error("sql error creating study root folder", "study_id", id, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	// Seed the configuration document so metadata operations and the study
	// lock have a record to work against from the first request.
	cfg := metadata.NewStudyConfiguration(study.Id, study.Fqn(project.OwnerId, project.Alias))
	if err := s.meta.UpdateStudyConfiguration(cfg); err != nil {
		writeQueryError(w, err)
		return
	}

	slog.Info("created study", "study_id", study.Id, "project_id", projectId)

	writeQueryResponse(w, resultOf(started, studyInfoOf(&study)))
}

type studyInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	Alias        string    `json:"alias"`
	ProjectId    int64     `json:"projectId"`
	Description  string    `json:"description,omitempty"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func studyInfoOf(study *schema.Study) studyInfo {
	return studyInfo{
		Id:           study.Id,
		Name:         study.Name,
		Alias:        study.Alias,
		ProjectId:    study.ProjectId,
		Description:  study.Description,
		CreationDate: study.CreationDate,
		Status:       study.Status,
	}
}

func (s *StudyService) Info(w http.ResponseWriter, r *http.Request) {
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
		info, err := s.studyInfo(userId, ref)
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

func (s *StudyService) studyInfo(userId, ref string) (studyInfo, error) {
	studyId, err := s.resolver.Study(userId, ref)
	if err != nil {
		return studyInfo{}, err
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.ViewStudy); err != nil {
		return studyInfo{}, err
	}

	study, err := schema.GetStudy(studyId, s.db)
	if err != nil {
		return studyInfo{}, err
	}
	return studyInfoOf(&study), nil
}

// Group names are stored with the leading '@' so they compare directly
// against acl members; clients may send either form.
func normalizeGroupName(name string) (string, error) {
	name = strings.TrimPrefix(name, "@")
	if name == "" {
		return "", fmt.Errorf("group name must not be empty")
	}
	if strings.ContainsAny(name, "@:,!/ *") {
		return "", fmt.Errorf("group name '%v' contains reserved characters", name)
	}
	return "@" + name, nil
}

type groupInfo struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
}

func groupInfoOf(group *schema.Group) groupInfo {
	users := make([]string, 0, len(group.Members))
	for _, member := range group.Members {
		users = append(users, member.UserId)
	}
	return groupInfo{Name: group.Name, Users: users}
}

func (s *StudyService) Groups(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	studyId, err := s.studyIdParam(r, userId)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.ViewStudy); err != nil {
		writeQueryError(w, err)
		return
	}

	var groups []schema.Group
	result := s.db.Preload("Members").Where("study_id = ?", studyId).Order("name asc").Find(&groups)
	if result.Error != nil {
		slog.Error("sql error listing groups", "study_id", studyId, "error", result.Error)
		writeQueryError(w, schema.ErrDbAccessFailed)
		return
	}

	items := make([]interface{}, len(groups))
	for i := range groups {
		items[i] = groupInfoOf(&groups[i])
	}
	writeQueryResponse(w, resultOf(started, items...))
}

type createGroupRequest struct {
	Name  string   `json:"name"`
	Users []string `json:"users,omitempty"`
}

func (s *StudyService) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	var params createGroupRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	studyId, err := s.studyIdParam(r, userId)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.UpdateStudy); err != nil {
		writeQueryError(w, err)
		return
	}

	name, err := normalizeGroupName(params.Name)
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing []schema.Group
		result := txn.Where("study_id = ? AND name = ?", studyId, name).Limit(1).Find(&existing)
		if result.Error != nil {
			slog.Error("sql error checking group name", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if len(existing) > 0 {
			return CodedError(fmt.Errorf("group %v already exists in study %v", name, studyId), http.StatusConflict)
		}

		if result := txn.Create(&schema.Group{StudyId: studyId, Name: name}); result.Error != nil {
			slog.Error("sql error creating group", "study_id", studyId, "group", name, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		return s.addMembers(txn, studyId, name, params.Users)
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	s.audit.Record("create-group", userId, "study_id", studyId, "group", name)

	group, err := schema.GetGroup(studyId, name, s.db)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryResponse(w, resultOf(started, groupInfoOf(&group)))
}

// addMembers enforces the one-group-per-user rule: a user already in any
// group of the study cannot be added to a second one.
func (s *StudyService) addMembers(txn *gorm.DB, studyId int64, group string, users []string) error {
	for _, user := range users {
		if _, err := schema.GetUser(user, txn); err != nil {
			return err
		}

		current, err := schema.GetUserGroup(studyId, user, txn)
		if err != nil && !errors.Is(err, schema.ErrGroupNotFound) {
			return err
		}
		if current == group {
			continue
		}
		if current != "" {
			return CodedError(fmt.Errorf("user %v already belongs to group %v of study %v", user, current, studyId), http.StatusBadRequest)
		}

		member := schema.GroupMember{StudyId: studyId, GroupName: group, UserId: user}
		if result := txn.Create(&member); result.Error != nil {
			slog.Error("sql error adding group member", "study_id", studyId, "group", group, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
	}
	return nil
}

type addGroupMembersRequest struct {
	Users []string `json:"users"`
}

func (s *StudyService) AddGroupMembers(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	var params addGroupMembersRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	studyId, err := s.studyIdParam(r, userId)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.UpdateStudy); err != nil {
		writeQueryError(w, err)
		return
	}

	groupParam, err := utils.URLParam(r, "group")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}
	name, err := normalizeGroupName(groupParam)
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	if _, err := schema.GetGroup(studyId, name, s.db); err != nil {
		writeQueryError(w, err)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		return s.addMembers(txn, studyId, name, params.Users)
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	s.audit.Record("add-group-members", userId,
		"study_id", studyId, "group", name, "users", strings.Join(params.Users, ","))

	group, err := schema.GetGroup(studyId, name, s.db)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryResponse(w, resultOf(started, groupInfoOf(&group)))
}

func (s *StudyService) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	studyId, err := s.studyIdParam(r, userId)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.UpdateStudy); err != nil {
		writeQueryError(w, err)
		return
	}

	groupParam, err := utils.URLParam(r, "group")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}
	name, err := normalizeGroupName(groupParam)
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	user, err := utils.URLParam(r, "user")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	result := s.db.Where("study_id = ? AND group_name = ? AND user_id = ?", studyId, name, user).Delete(&schema.GroupMember{})
	if result.Error != nil {
		slog.Error("sql error removing group member", "study_id", studyId, "group", name, "error", result.Error)
		writeQueryError(w, schema.ErrDbAccessFailed)
		return
	}
	if result.RowsAffected == 0 {
		writeQueryError(w, CodedError(fmt.Errorf("user %v is not a member of group %v", user, name), http.StatusNotFound))
		return
	}

	s.audit.Record("remove-group-member", userId, "study_id", studyId, "group", name, "user", user)

	writeQueryResponse(w, resultOf(started))
}

func (s *StudyService) studyIdParam(r *http.Request, userId string) (int64, error) {
	ref, err := utils.URLParam(r, "id")
	if err != nil {
		return 0, CodedError(err, http.StatusBadRequest)
	}
	return s.resolver.Study(userId, ref)
}
