package services

import (
	"net/http"
	"strings"
	"time"

	"genome_catalog/catalog/auth"
	"genome_catalog/catalog/authz"
	"genome_catalog/catalog/resolve"
	"genome_catalog/catalog/schema"
	"genome_catalog/utils"

	"github.com/go-chi/chi/v5"
)

// aclEndpoints is the acl subtree shared by every guarded kind, mounted
// under /{id}/acls. The endpoints only translate references and bodies; the
// preconditions live in the acl manager.
type aclEndpoints struct {
	kind     schema.EntityKind
	acl      *authz.Manager
	resolver *resolve.Resolver
	audit    *auth.AuditLogger
}

func (e *aclEndpoints) Mount(r chi.Router) {
	r.Route("/{id}/acls", func(r chi.Router) {
		r.Post("/", e.Create)
		r.Get("/", e.List)

		r.Get("/{member}", e.Get)
		r.Put("/{member}", e.Update)
		r.Delete("/{member}", e.Remove)
	})
}

// entityId resolves the {id} url parameter. Studies go through the study
// grammar, everything else through the generic resolver with the optional
// ?study= hint. Mutation targets may not be negated or lists, which the
// resolver already rejects.
func (e *aclEndpoints) entityId(r *http.Request, userId string) (int64, error) {
	ref, err := utils.URLParam(r, "id")
	if err != nil {
		return 0, CodedError(err, http.StatusBadRequest)
	}

	if e.kind == schema.KindStudy {
		return e.resolver.Study(userId, ref)
	}

	resource, err := e.resolver.One(userId, e.kind, ref, studyHint(r))
	if err != nil {
		return 0, err
	}
	return resource.Id, nil
}

func aclItems(acls []schema.MemberAcl) []interface{} {
	items := make([]interface{}, len(acls))
	for i, acl := range acls {
		items[i] = acl
	}
	return items
}

type createAclsRequest struct {
	Members     []string `json:"members"`
	Permissions []string `json:"permissions"`
	Template    string   `json:"template,omitempty"`
}

func (e *aclEndpoints) Create(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	entityId, err := e.entityId(r, userId)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	var params createAclsRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	acls, err := e.acl.CreateAcls(userId, e.kind, entityId, params.Members, params.Permissions, params.Template)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	aclMutations.Inc()
	e.audit.Record("create-acls", userId,
		"kind", string(e.kind), "entity_id", entityId, "members", strings.Join(params.Members, ","))

	writeQueryResponse(w, resultOf(started, aclItems(acls)...))
}

func (e *aclEndpoints) List(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	entityId, err := e.entityId(r, userId)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	acls, err := e.acl.GetAllAcls(userId, e.kind, entityId)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeQueryResponse(w, resultOf(started, aclItems(acls)...))
}

func (e *aclEndpoints) Get(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	entityId, err := e.entityId(r, userId)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	member, err := utils.URLParam(r, "member")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	acls, err := e.acl.GetAcl(userId, e.kind, entityId, member)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	writeQueryResponse(w, resultOf(started, aclItems(acls)...))
}

type updateAclRequest struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
	Set    []string `json:"set,omitempty"`
}

func (e *aclEndpoints) Update(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	entityId, err := e.entityId(r, userId)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	member, err := utils.URLParam(r, "member")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	var params updateAclRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	acl, err := e.acl.UpdateAcl(userId, e.kind, entityId, member, params.Add, params.Remove, params.Set)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	aclMutations.Inc()
	e.audit.Record("update-acl", userId, "kind", string(e.kind), "entity_id", entityId, "member", member)

	writeQueryResponse(w, resultOf(started, acl))
}

// Remove deletes a member's acl entry. With ?reset=true the target state is
// "no entry" rather than "entry removed": resetting a member that holds no
// acl succeeds where a second remove fails.
func (e *aclEndpoints) Remove(w http.ResponseWriter, r *http.Request) {
	userId := auth.Principal(r)
	started := time.Now()

	entityId, err := e.entityId(r, userId)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	member, err := utils.URLParam(r, "member")
	if err != nil {
		writeQueryError(w, CodedError(err, http.StatusBadRequest))
		return
	}

	if utils.QueryFlag(r, "reset") {
		if err := e.acl.ResetAcl(userId, e.kind, entityId, member); err != nil {
			writeQueryError(w, err)
			return
		}

		aclMutations.Inc()
		e.audit.Record("reset-acl", userId, "kind", string(e.kind), "entity_id", entityId, "member", member)

		writeQueryResponse(w, resultOf(started))
		return
	}

	removed, err := e.acl.RemoveAcl(userId, e.kind, entityId, member)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	aclMutations.Inc()
	e.audit.Record("remove-acl", userId, "kind", string(e.kind), "entity_id", entityId, "member", member)

	writeQueryResponse(w, resultOf(started, removed))
}
