package services

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"genome_catalog/catalog/auth"
	"genome_catalog/catalog/authz"
	"genome_catalog/catalog/resolve"
	"genome_catalog/catalog/schema"
	"genome_catalog/catalog/storage"
	"genome_catalog/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type FileService struct {
	db       *gorm.DB
	resolver *resolve.Resolver
	access   *authz.Resolver
	store    storage.Storage
	userAuth auth.IdentityProvider
	acls     aclEndpoints
}

func (s *FileService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/", s.Create)
		r.Get("/search", s.Search)
		r.Get("/{id}/info", s.Info)
		r.Get("/{id}/download", s.Download)

		s.acls.Mount(r)
	})

	return r
}

type createFileRequest struct {
	Study       string  `json:"study"`
	Name        string  `json:"name,omitempty"`
	Path        string  `json:"path"`
	Type        string  `json:"type,omitempty"`
	Format      string  `json:"format,omitempty"`
	Bioformat   string  `json:"bioformat,omitempty"`
	Description string  `json:"description,omitempty"`
	Size        int64   `json:"size,omitempty"`
	ExternalUri string  `json:"externalUri,omitempty"`
	SampleIds   []int64 `json:"sampleIds,omitempty"`
}

func (s *FileService) Create(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	var params createFileRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	studyId, err := s.resolver.Study(userId, params.Study)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkStudyPermission(s.access, studyId, userId, authz.CreatePermission(schema.KindFile)); err != nil {
		writeQueryError(w, err)
		return
	}

	fileType := params.Type
	if fileType == "" {
		fileType = schema.FileTypeFile
	}
	if fileType != schema.FileTypeFile && fileType != schema.FileTypeDirectory {
		writeQueryError(w, CodedError(fmt.Errorf("invalid file type '%v'", params.Type), http.StatusBadRequest))
		return
	}

	// Paths are study relative. Folders end with '/', the root folder is
	// created with the study and cannot be created again.
	path := strings.TrimPrefix(params.Path, "/")
	if fileType == schema.FileTypeDirectory && path != "" && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	if fileType == schema.FileTypeFile && (path == "" || strings.HasSuffix(path, "/")) {
		writeQueryError(w, CodedError(fmt.Errorf("file path '%v' must name a file", params.Path), http.StatusBadRequest))
		return
	}
	if path == "" {
		writeQueryError(w, CodedError(fmt.Errorf("the root folder already exists"), http.StatusBadRequest))
		return
	}

	name := params.Name
	if name == "" {
		trimmed := strings.TrimSuffix(path, "/")
		if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
			name = trimmed[idx+1:]
		} else {
			name = trimmed
		}
	}

	var file schema.File
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing []schema.File
		result := txn.Where("study_id = ? AND path = ?", studyId, path).Limit(1).Find(&existing)
		if result.Error != nil {
			slog.Error("sql error checking file path", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if len(existing) > 0 {
			return CodedError(fmt.Errorf("path '%v' already exists in study %v", path, studyId), http.StatusConflict)
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

		file = schema.File{
			Id:           id,
			Name:         name,
			Path:         path,
			Type:         fileType,
			StudyId:      studyId,
			Format:       params.Format,
			Bioformat:    params.Bioformat,
			Description:  params.Description,
			Size:         params.Size,
			ExternalUri:  params.ExternalUri,
			CreationDate: time.Now().UTC(),
			Status:       schema.StatusReady,
		}
		if result := txn.Create(&file); result.Error != nil {
			slog.Error("sql error creating file", "study_id", studyId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		for _, sampleId := range params.SampleIds {
			link := schema.FileSample{FileId: id, SampleId: sampleId}
			if result := txn.Create(&link); result.Error != nil {
				slog.Error("sql error linking file sample", "file_id", id, "sample_id", sampleId, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		return nil
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeQueryResponse(w, resultOf(started, fileInfoOf(&file)))
}

type fileInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Type         string    `json:"type"`
	StudyId      int64     `json:"studyId"`
	Format       string    `json:"format,omitempty"`
	Bioformat    string    `json:"bioformat,omitempty"`
	Description  string    `json:"description,omitempty"`
	Size         int64     `json:"size"`
	ExternalUri  string    `json:"externalUri,omitempty"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func fileInfoOf(file *schema.File) fileInfo {
	return fileInfo{
		Id:           file.Id,
		Name:         file.Name,
		Path:         file.Path,
		Type:         file.Type,
		StudyId:      file.StudyId,
		Format:       file.Format,
		Bioformat:    file.Bioformat,
		Description:  file.Description,
		Size:         file.Size,
		ExternalUri:  file.ExternalUri,
		CreationDate: file.CreationDate,
		Status:       file.Status,
	}
}

// Info resolves each reference and checks VIEW through the path walking
// resolver. One auth context per study keeps the ancestor acl lookups to a
// single bulk query per distinct path set.
func (s *FileService) Info(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	idsParam, err := utils.URLParam(r, "id")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}
	silent := utils.QueryFlag(r, "silent")

	resources, err := s.resolver.Many(userId, schema.KindFile, splitRefs(idsParam), studyHint(r), silent)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	authCtxs := make(map[int64]*authz.StudyAuthContext)
	results := make([]QueryResult, 0, len(resources))
	for _, resource := range resources {
		if resource.Err != nil {
			results = append(results, errorResultOf(started, resource.Err))
			continue
		}

		authCtx := authCtxs[resource.StudyId]
		if authCtx == nil {
			authCtx = authz.NewStudyAuthContext(resource.StudyId)
			authCtxs[resource.StudyId] = authCtx
		}

		info, err := s.fileInfo(authCtx, resource.Id, userId)
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

func (s *FileService) fileInfo(authCtx *authz.StudyAuthContext, fileId int64, userId string) (fileInfo, error) {
	if err := checkFilePermission(s.access, authCtx, fileId, userId, authz.PermView); err != nil {
		return fileInfo{}, err
	}

	file, err := schema.GetFile(fileId, s.db)
	if err != nil {
		return fileInfo{}, err
	}
	return fileInfoOf(&file), nil
}

func (s *FileService) Search(w http.ResponseWriter, r *http.Request) {
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
	if dir := r.URL.Query().Get("directory"); dir != "" {
		dir = strings.TrimPrefix(dir, "/")
		if !strings.HasSuffix(dir, "/") {
			dir += "/"
		}
		query = query.Where("path LIKE ?", dir+"%")
	}
	if name := r.URL.Query().Get("name"); name != "" {
		query = query.Where("name = ?", name)
	}
	if fileType := r.URL.Query().Get("type"); fileType != "" {
		query = query.Where("type = ?", fileType)
	}

	var files []schema.File
	result := query.Order("path asc").Find(&files)
	if result.Error != nil {
		slog.Error("sql error searching files", "study_id", studyId, "error", result.Error)
		writeQueryError(w, schema.ErrDbAccessFailed)
		return
	}

	visible, err := s.access.FilterFiles(userId, studyId, files)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	items := make([]interface{}, len(visible))
	for i := range visible {
		items[i] = fileInfoOf(&visible[i])
	}
	writeQueryResponse(w, resultOf(started, items...))
}

// Download streams the file's content from the shared workspace, or a zip
// archive when the target is a folder. Files tracked by an external uri have
// no content in the workspace.
func (s *FileService) Download(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	ref, err := utils.URLParam(r, "id")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	resource, err := s.resolver.One(userId, schema.KindFile, ref, studyHint(r))
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if err := checkFilePermission(s.access, nil, resource.Id, userId, authz.PermDownload); err != nil {
		writeQueryError(w, err)
		return
	}

	file, err := schema.GetFile(resource.Id, s.db)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	if file.ExternalUri != "" {
		writeQueryError(w, CodedError(fmt.Errorf("file %v is tracked externally at %v", file.Id, file.ExternalUri), http.StatusBadRequest))
		return
	}

	workspacePath := storage.StudyFilePath(file.StudyId, file.Path)

	if file.Type == schema.FileTypeDirectory {
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name+".zip"))
		if err := s.store.Zip(workspacePath, w); err != nil {
			slog.Error("error streaming folder archive", "file_id", file.Id, "error", err)
		}
		return
	}

	data, err := s.store.Read(workspacePath)
	if err != nil {
		writeQueryError(w, CodedError(fmt.Errorf("error reading file %v: %w", file.Id, err), http.StatusInternalServerError))
		return
	}
	defer data.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	if _, err := io.Copy(w, data); err != nil {
		slog.Error("error streaming file content", "file_id", file.Id, "error", err)
	}
}
