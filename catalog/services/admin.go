package services

import (
	"log/slog"
	"net/http"
	"time"

	"genome_catalog/catalog/auth"
	"genome_catalog/catalog/authz"
	"genome_catalog/catalog/schema"
	"genome_catalog/catalog/storage"
	"genome_catalog/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// AdminService groups the maintenance endpoints reserved for the admin
// principal: the daemon acl and workspace usage.
type AdminService struct {
	db       *gorm.DB
	acl      *authz.Manager
	store    storage.Storage
	userAuth auth.IdentityProvider
	audit    *auth.AuditLogger
}

func (s *AdminService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)
		r.Use(auth.AdminOnly())

		r.Get("/daemon/acl", s.GetDaemonAcl)
		r.Post("/daemon/acl", s.SetDaemonAcl)
		r.Get("/usage", s.Usage)
	})

	return r
}

func (s *AdminService) GetDaemonAcl(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	member := r.URL.Query().Get("member")
	if member == "" {
		member = schema.AdminUser
	}

	acl, err := s.acl.GetDaemonAcl(member)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeQueryResponse(w, resultOf(started, acl))
}

type setDaemonAclRequest struct {
	Member      string   `json:"member"`
	Permissions []string `json:"permissions"`
}

func (s *AdminService) SetDaemonAcl(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)

	var params setDaemonAclRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	started := time.Now()

	member := params.Member
	if member == "" {
		member = schema.AdminUser
	}

	if err := s.acl.SetDaemonAcl(member, params.Permissions); err != nil {
		writeQueryError(w, err)
		return
	}

	s.audit.Record("set-daemon-acl", userId, "member", member)
	slog.Info("updated daemon acl", "member", member, "user", userId)

	acl, err := s.acl.GetDaemonAcl(member)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryResponse(w, resultOf(started, acl))
}

func (s *AdminService) Usage(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	usage, err := s.store.Usage()
	if err != nil {
		slog.Error("error reading workspace usage", "error", err)
		writeQueryError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	writeQueryResponse(w, resultOf(started, usage))
}
