package authz

import (
	"errors"
	"fmt"
	"strings"

	"genome_catalog/catalog/schema"

	"gorm.io/gorm"
)

// Resolver computes effective permissions for (principal, entity) pairs.
// Resolution order: study owner bypasses everything; the reserved admin
// principal resolves through the global daemon acl table; everyone else is
// matched against entity acls with user > group > '*' precedence, falling
// back to the study acl projected through the derivation table. Files walk
// their ancestor paths, deepest first, before falling back to the study.
type Resolver struct {
	db *gorm.DB
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// groupOf returns the name of the group the user belongs to in the study,
// or "" if none.
func (r *Resolver) groupOf(studyId int64, userId string) (string, error) {
	if userId == schema.AnonymousUser || userId == schema.AllMembers {
		return "", nil
	}
	group, err := schema.GetUserGroup(studyId, userId, r.db)
	if err != nil {
		if errors.Is(err, schema.ErrGroupNotFound) {
			return "", nil
		}
		return "", err
	}
	return group, nil
}

// memberTriple lists the members to match acls against, in precedence order.
func memberTriple(userId, group string) []string {
	if group == "" {
		return []string{userId, schema.AllMembers}
	}
	return []string{userId, group, schema.AllMembers}
}

// pickAcl returns the acl of the first member in precedence order, nil when
// none of them has one.
func pickAcl(acls []schema.MemberAcl, members []string) *schema.MemberAcl {
	for _, member := range members {
		for i := range acls {
			if acls[i].Member == member {
				return &acls[i]
			}
		}
	}
	return nil
}

// studyAclBelonging returns the study acl the user resolves to, following
// user > group > '*' precedence. Nil when no acl matches.
func (r *Resolver) studyAclBelonging(studyId int64, userId, group string) (*schema.MemberAcl, error) {
	members := memberTriple(userId, group)
	acls, err := schema.GetEntityAcls(schema.KindStudy, studyId, members, r.db)
	if err != nil {
		return nil, err
	}
	return pickAcl(acls, members), nil
}

// daemonAcl returns the global daemon acl for the admin principal, nil when
// none is defined.
func (r *Resolver) daemonAcl() (*schema.MemberAcl, error) {
	acl, err := schema.GetDaemonAcl(schema.AdminUser, r.db)
	if err != nil {
		if errors.Is(err, schema.ErrAclNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &acl, nil
}

// CheckStudyPermission verifies the user holds a study level permission.
// A nil return means allow; a *DenyError means deny.
func (r *Resolver) CheckStudyPermission(studyId int64, userId string, permission string) error {
	owner, err := schema.GetStudyOwner(studyId, r.db)
	if err != nil {
		return err
	}
	if userId == owner {
		return nil
	}

	var studyAcl *schema.MemberAcl
	if userId == schema.AdminUser {
		studyAcl, err = r.daemonAcl()
		if err != nil {
			return err
		}
		if studyAcl == nil {
			return denyDaemon(schema.KindStudy, studyId)
		}
	} else {
		group, err := r.groupOf(studyId, userId)
		if err != nil {
			return err
		}
		studyAcl, err = r.studyAclBelonging(studyId, userId, group)
		if err != nil {
			return err
		}
	}

	if studyAcl != nil && studyAcl.Has(permission) {
		return nil
	}
	return deny(userId, permission, schema.KindStudy, studyId)
}

// CheckEntityPermission verifies the user holds a permission on an entity.
// Study checks expect a study permission name; file checks walk ancestor
// paths with a throwaway context, use CheckFilePermission to share one.
func (r *Resolver) CheckEntityPermission(kind schema.EntityKind, entityId int64, userId string, permission string) error {
	switch kind {
	case schema.KindStudy:
		return r.CheckStudyPermission(entityId, userId, permission)
	case schema.KindFile:
		return r.CheckFilePermission(nil, entityId, userId, permission)
	}

	studyId, err := schema.GetEntityStudyId(kind, entityId, r.db)
	if err != nil {
		return err
	}

	owner, err := schema.GetStudyOwner(studyId, r.db)
	if err != nil {
		return err
	}
	if userId == owner {
		return nil
	}

	var acl schema.MemberAcl
	if userId == schema.AdminUser {
		daemonAcl, err := r.daemonAcl()
		if err != nil {
			return err
		}
		if daemonAcl == nil {
			return denyDaemon(kind, entityId)
		}
		acl = DeriveEntityAcl(kind, daemonAcl)
	} else {
		acl, err = r.resolveEntityAcl(kind, entityId, studyId, userId)
		if err != nil {
			return err
		}
	}

	if acl.Has(permission) {
		return nil
	}
	return deny(userId, permission, kind, entityId)
}

// resolveEntityAcl returns the effective acl for a non-file entity:
// the entity acl for user > group > '*', else the projected study acl.
func (r *Resolver) resolveEntityAcl(kind schema.EntityKind, entityId, studyId int64, userId string) (schema.MemberAcl, error) {
	group, err := r.groupOf(studyId, userId)
	if err != nil {
		return schema.MemberAcl{}, err
	}

	members := memberTriple(userId, group)
	acls, err := schema.GetEntityAcls(kind, entityId, members, r.db)
	if err != nil {
		return schema.MemberAcl{}, err
	}
	if acl := pickAcl(acls, members); acl != nil {
		return *acl, nil
	}

	studyAcl, err := r.studyAclBelonging(studyId, userId, group)
	if err != nil {
		return schema.MemberAcl{}, err
	}
	return DeriveEntityAcl(kind, studyAcl), nil
}

// ResolveEntityAcl computes the effective acl of the user on an entity,
// looking up its study first. The returned acl may carry an empty permission
// set, which denies everything.
func (r *Resolver) ResolveEntityAcl(kind schema.EntityKind, entityId int64, userId string) (schema.MemberAcl, error) {
	if kind == schema.KindFile {
		return r.ResolveFileAcl(nil, entityId, userId)
	}

	studyId, err := schema.GetEntityStudyId(kind, entityId, r.db)
	if err != nil {
		return schema.MemberAcl{}, err
	}
	return r.resolveEntityAcl(kind, entityId, studyId, userId)
}

// CheckFilePermission verifies the user holds a permission on a file or
// folder. authCtx may be nil for one-off checks; callers touching several
// files of the same study should share one context across calls.
func (r *Resolver) CheckFilePermission(authCtx *StudyAuthContext, fileId int64, userId string, permission string) error {
	file, err := schema.GetFile(fileId, r.db)
	if err != nil {
		return err
	}

	owner, err := schema.GetStudyOwner(file.StudyId, r.db)
	if err != nil {
		return err
	}
	if userId == owner {
		return nil
	}

	var acl schema.MemberAcl
	if userId == schema.AdminUser {
		daemonAcl, err := r.daemonAcl()
		if err != nil {
			return err
		}
		if daemonAcl == nil {
			return denyDaemon(schema.KindFile, fileId)
		}
		acl = DeriveEntityAcl(schema.KindFile, daemonAcl)
	} else {
		if authCtx == nil {
			authCtx = NewStudyAuthContext(file.StudyId)
		}
		acl, err = r.resolveFileAcl(&file, userId, authCtx)
		if err != nil {
			return err
		}
	}

	if acl.Has(permission) {
		return nil
	}
	return deny(userId, permission, schema.KindFile, fileId)
}

// ResolveFileAcl computes the effective acl of the user on a file.
func (r *Resolver) ResolveFileAcl(authCtx *StudyAuthContext, fileId int64, userId string) (schema.MemberAcl, error) {
	file, err := schema.GetFile(fileId, r.db)
	if err != nil {
		return schema.MemberAcl{}, err
	}
	if authCtx == nil {
		authCtx = NewStudyAuthContext(file.StudyId)
	}
	return r.resolveFileAcl(&file, userId, authCtx)
}

// resolveFileAcl walks the ancestor paths of the file, deepest first. The
// first path carrying an acl for any member of the triple decides, with
// user > group > '*' precedence within the path. If no ancestor has one, the
// study acl is projected instead.
func (r *Resolver) resolveFileAcl(file *schema.File, userId string, authCtx *StudyAuthContext) (schema.MemberAcl, error) {
	group, err := r.groupOf(authCtx.StudyId, userId)
	if err != nil {
		return schema.MemberAcl{}, err
	}

	members := memberTriple(userId, group)
	paths := ParentPaths(file.Path)

	if err := r.populatePathAcls(authCtx, paths, members); err != nil {
		return schema.MemberAcl{}, err
	}

	for i := len(paths) - 1; i >= 0; i-- {
		if acl := authCtx.lookup(paths[i], members); acl != nil {
			return *acl, nil
		}
	}

	studyAcl, err := r.studyAclBelonging(authCtx.StudyId, userId, group)
	if err != nil {
		return schema.MemberAcl{}, err
	}
	return DeriveEntityAcl(schema.KindFile, studyAcl), nil
}

// populatePathAcls fetches the acl rows for every path the context does not
// know yet, in a single bulk query, and merges them into the cache.
func (r *Resolver) populatePathAcls(authCtx *StudyAuthContext, paths []string, members []string) error {
	missing := authCtx.missingPaths(paths, members)
	if len(missing) == 0 {
		return nil
	}

	fetched, err := schema.GetFileAclsByPath(authCtx.StudyId, missing, members, r.db)
	if err != nil {
		return err
	}

	authCtx.merge(missing, members, fetched)
	return nil
}

// MemberHasPermissionsInStudy reports whether the member has some acl
// defined at study level, directly or through its group. The admin principal
// and the study owner always count as having permissions.
func (r *Resolver) MemberHasPermissionsInStudy(studyId int64, member string) (bool, error) {
	members := []string{member}
	if !strings.HasPrefix(member, "@") {
		if member == schema.AdminUser {
			return true, nil
		}
		owner, err := schema.GetStudyOwner(studyId, r.db)
		if err != nil {
			return false, err
		}
		if member == owner {
			return true, nil
		}
		if member != schema.AnonymousUser && member != schema.AllMembers {
			group, err := r.groupOf(studyId, member)
			if err != nil {
				return false, err
			}
			if group != "" {
				members = append(members, group)
			}
		}
	}

	acls, err := schema.GetEntityAcls(schema.KindStudy, studyId, members, r.db)
	if err != nil {
		return false, err
	}
	return len(acls) > 0, nil
}

// CheckMembersExist validates that every member is a known user, a group
// defined in the study, the wildcard or anonymous.
func (r *Resolver) CheckMembersExist(studyId int64, members []string) error {
	for _, member := range members {
		if member == schema.AllMembers || member == schema.AnonymousUser {
			continue
		}
		if member == "" {
			return &PreconditionError{Message: "member names cannot be empty"}
		}
		if strings.HasPrefix(member, "@") {
			if _, err := schema.GetGroup(studyId, member, r.db); err != nil {
				if errors.Is(err, schema.ErrGroupNotFound) {
					return &PreconditionError{Message: fmt.Sprintf("the group %v does not exist in study %v", member, studyId)}
				}
				return err
			}
			continue
		}
		if _, err := schema.GetUser(member, r.db); err != nil {
			if errors.Is(err, schema.ErrUserNotFound) {
				return &PreconditionError{Message: fmt.Sprintf("the user %v does not exist", member)}
			}
			return err
		}
	}
	return nil
}
