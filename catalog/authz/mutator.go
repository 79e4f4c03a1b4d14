package authz

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"genome_catalog/catalog/schema"

	"gorm.io/gorm"
)

// StudyLocker serializes acl mutations against study configuration updates
// touching the same study.
type StudyLocker interface {
	LockStudy(studyId int64, duration, timeout time.Duration) (string, error)
	UnlockStudy(studyId int64, token string) error
}

const (
	aclLockDuration = 20 * time.Second
	aclLockTimeout  = 10 * time.Second
)

// Manager mutates acl entries for every entity kind, enforcing the acl
// preconditions: members must exist, child entity acls require a study level
// acl first, and no member may hold two acls on one entity.
type Manager struct {
	db       *gorm.DB
	resolver *Resolver
	locker   StudyLocker
}

func NewManager(db *gorm.DB, locker StudyLocker) *Manager {
	return &Manager{db: db, resolver: NewResolver(db), locker: locker}
}

// Resolver exposes the read side of the manager.
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

func (m *Manager) withStudyLock(studyId int64, fn func(txn *gorm.DB) error) error {
	token, err := m.locker.LockStudy(studyId, aclLockDuration, aclLockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.locker.UnlockStudy(studyId, token); err != nil {
			slog.Error("error releasing study lock", "study_id", studyId, "error", err)
		}
	}()

	return m.db.Transaction(fn)
}

func (m *Manager) checkShare(kind schema.EntityKind, entityId int64, userId string) error {
	if kind == schema.KindStudy {
		return m.resolver.CheckStudyPermission(entityId, userId, ShareStudy)
	}
	return m.resolver.CheckEntityPermission(kind, entityId, userId, PermShare)
}

func (m *Manager) checkAclPermissions(kind schema.EntityKind, permissions []string) error {
	if kind == schema.KindStudy {
		return CheckStudyPermissions(permissions)
	}
	return CheckEntityPermissions(kind, permissions)
}

// CreateAcls creates one acl row per member on the entity. The caller must
// hold SHARE on the entity (SHARE_STUDY for studies). Members of child
// entity acls must already have a study level acl, except '*' and anonymous.
// A template ("admin", "analyst") preselects a baseline permission set and
// is only valid for study acls.
func (m *Manager) CreateAcls(userId string, kind schema.EntityKind, entityId int64, members []string, permissions []string, template string) ([]schema.MemberAcl, error) {
	if kind == schema.KindStudy {
		return m.createStudyAcls(userId, entityId, members, permissions, template)
	}
	if template != "" {
		return nil, &PreconditionError{Message: "acl templates can only be used with study acls"}
	}
	return m.createEntityAcls(userId, kind, entityId, members, permissions)
}

func (m *Manager) createStudyAcls(userId string, studyId int64, members []string, permissions []string, template string) ([]schema.MemberAcl, error) {
	if _, err := schema.GetStudy(studyId, m.db); err != nil {
		return nil, err
	}
	if err := m.resolver.CheckMembersExist(studyId, members); err != nil {
		return nil, err
	}
	if err := m.resolver.CheckStudyPermission(studyId, userId, ShareStudy); err != nil {
		return nil, err
	}

	if err := CheckStudyPermissions(permissions); err != nil {
		return nil, err
	}
	granted := unionPermissions(TemplatePermissions(template), permissions)

	for _, member := range members {
		has, err := m.resolver.MemberHasPermissionsInStudy(studyId, member)
		if err != nil {
			return nil, err
		}
		if has {
			return nil, &PreconditionError{Message: fmt.Sprintf("the member %v already has some permissions set in study, use update or remove instead", member)}
		}
	}

	created := make([]schema.MemberAcl, 0, len(members))
	err := m.withStudyLock(studyId, func(txn *gorm.DB) error {
		for _, member := range members {
			if err := schema.SaveEntityAcl(schema.KindStudy, studyId, member, granted, txn); err != nil {
				return err
			}
			created = append(created, schema.MemberAcl{Member: member, Permissions: granted})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (m *Manager) createEntityAcls(userId string, kind schema.EntityKind, entityId int64, members []string, permissions []string) ([]schema.MemberAcl, error) {
	studyId, err := schema.GetEntityStudyId(kind, entityId, m.db)
	if err != nil {
		return nil, err
	}

	if err := m.checkShare(kind, entityId, userId); err != nil {
		return nil, err
	}

	for _, member := range members {
		if member == schema.AllMembers || member == schema.AnonymousUser {
			continue
		}
		has, err := m.resolver.MemberHasPermissionsInStudy(studyId, member)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, &PreconditionError{Message: fmt.Sprintf("cannot create ACL for %v: a general study permission must be defined for that member first", member)}
		}
	}

	if err := m.resolver.CheckMembersExist(studyId, members); err != nil {
		return nil, err
	}
	if err := CheckEntityPermissions(kind, permissions); err != nil {
		return nil, err
	}

	created := make([]schema.MemberAcl, 0, len(members))
	err = m.withStudyLock(studyId, func(txn *gorm.DB) error {
		existing, err := schema.GetEntityAcls(kind, entityId, members, txn)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &PreconditionError{Message: fmt.Sprintf("cannot create ACL: at least one of the members already has permissions set for this %v, use update instead", kind)}
		}

		for _, member := range members {
			if err := schema.SaveEntityAcl(kind, entityId, member, permissions, txn); err != nil {
				return err
			}
			created = append(created, schema.MemberAcl{Member: member, Permissions: permissions})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetAllAcls returns every acl on the entity. Requires SHARE.
func (m *Manager) GetAllAcls(userId string, kind schema.EntityKind, entityId int64) ([]schema.MemberAcl, error) {
	if err := m.checkEntityExists(kind, entityId); err != nil {
		return nil, err
	}
	if err := m.checkShare(kind, entityId, userId); err != nil {
		return nil, err
	}
	return schema.GetAllEntityAcls(kind, entityId, m.db)
}

// GetAcl returns the acl rows for a member and, for user members, the group
// they belong to. Callers without SHARE may only ask about themselves or a
// group they belong to.
func (m *Manager) GetAcl(userId string, kind schema.EntityKind, entityId int64, member string) ([]schema.MemberAcl, error) {
	studyId, err := m.entityStudyId(kind, entityId)
	if err != nil {
		return nil, err
	}
	if err := m.resolver.CheckMembersExist(studyId, []string{member}); err != nil {
		return nil, err
	}

	if err := m.checkShare(kind, entityId, userId); err != nil {
		var denyErr *DenyError
		if !errors.As(err, &denyErr) {
			return nil, err
		}
		if strings.HasPrefix(member, "@") {
			group, err := m.resolver.groupOf(studyId, userId)
			if err != nil {
				return nil, err
			}
			if group != member {
				return nil, &DenyError{Message: fmt.Sprintf("the user %v does not have permissions to see the ACLs of %v", userId, member)}
			}
		} else if userId != member {
			return nil, &DenyError{Message: fmt.Sprintf("the user %v does not have permissions to see the ACLs of %v", userId, member)}
		}
	}

	members := []string{member}
	if !strings.HasPrefix(member, "@") && member != schema.AnonymousUser && member != schema.AllMembers {
		group, err := m.resolver.groupOf(studyId, member)
		if err != nil {
			return nil, err
		}
		if group != "" {
			members = append(members, group)
		}
	}

	acls, err := schema.GetEntityAcls(kind, entityId, members, m.db)
	if err != nil {
		return nil, err
	}

	// Preserve member before group in the response.
	ordered := make([]schema.MemberAcl, 0, len(acls))
	for _, wanted := range members {
		for i := range acls {
			if acls[i].Member == wanted {
				ordered = append(ordered, acls[i])
			}
		}
	}
	return ordered, nil
}

// UpdateAcl amends the acl of a member that already has one. set replaces
// the permission set outright and wins over add/remove; otherwise add is
// applied first, then remove. Nil slices mean "not requested": an empty
// non-nil set clears every permission while keeping the entry.
func (m *Manager) UpdateAcl(userId string, kind schema.EntityKind, entityId int64, member string, add, remove, set []string) (schema.MemberAcl, error) {
	studyId, err := m.entityStudyId(kind, entityId)
	if err != nil {
		return schema.MemberAcl{}, err
	}
	if err := m.checkShare(kind, entityId, userId); err != nil {
		return schema.MemberAcl{}, err
	}
	if err := m.resolver.CheckMembersExist(studyId, []string{member}); err != nil {
		return schema.MemberAcl{}, err
	}

	for _, permissions := range [][]string{add, remove, set} {
		if err := m.checkAclPermissions(kind, permissions); err != nil {
			return schema.MemberAcl{}, err
		}
	}

	var updated schema.MemberAcl
	err = m.withStudyLock(studyId, func(txn *gorm.DB) error {
		existing, err := schema.GetEntityAcl(kind, entityId, member, txn)
		if err != nil {
			if errors.Is(err, schema.ErrAclNotFound) {
				return &PreconditionError{Message: fmt.Sprintf("could not update ACLs for %v: the member does not have any permissions set yet", member)}
			}
			return err
		}

		var permissions []string
		if set != nil {
			permissions = sortedCopy(set)
		} else {
			permissions = existing.Permissions
			if add != nil {
				permissions = unionPermissions(permissions, add)
			}
			if remove != nil {
				permissions = removeFromPermissions(permissions, remove)
			}
		}

		if err := schema.SaveEntityAcl(kind, entityId, member, permissions, txn); err != nil {
			return err
		}
		updated = schema.MemberAcl{Member: member, Permissions: permissions}
		return nil
	})
	if err != nil {
		return schema.MemberAcl{}, err
	}
	return updated, nil
}

// RemoveAcl deletes the acl entry of a member. Removing the study owner's
// permissions is forbidden. Removing an entry that does not exist fails with
// ErrAclNotFound and changes nothing.
func (m *Manager) RemoveAcl(userId string, kind schema.EntityKind, entityId int64, member string) (schema.MemberAcl, error) {
	studyId, err := m.entityStudyId(kind, entityId)
	if err != nil {
		return schema.MemberAcl{}, err
	}
	if err := m.checkShare(kind, entityId, userId); err != nil {
		return schema.MemberAcl{}, err
	}
	if err := m.resolver.CheckMembersExist(studyId, []string{member}); err != nil {
		return schema.MemberAcl{}, err
	}

	if kind == schema.KindStudy {
		owner, err := schema.GetStudyOwner(studyId, m.db)
		if err != nil {
			return schema.MemberAcl{}, err
		}
		if member == owner {
			return schema.MemberAcl{}, &PreconditionError{Message: "it is not allowed to remove the permissions of the study owner"}
		}
	}

	var removed schema.MemberAcl
	err = m.withStudyLock(studyId, func(txn *gorm.DB) error {
		existing, err := schema.GetEntityAcl(kind, entityId, member, txn)
		if err != nil {
			if errors.Is(err, schema.ErrAclNotFound) {
				return fmt.Errorf("could not remove the ACLs for %v, the member does not have any ACLs defined: %w", member, schema.ErrAclNotFound)
			}
			return err
		}
		removed = existing

		return schema.DeleteEntityAcl(kind, entityId, member, txn)
	})
	if err != nil {
		return schema.MemberAcl{}, err
	}
	return removed, nil
}

// ResetAcl deletes the acl entry of a member if present. Unlike RemoveAcl it
// does not require the entry to exist.
func (m *Manager) ResetAcl(userId string, kind schema.EntityKind, entityId int64, member string) error {
	studyId, err := m.entityStudyId(kind, entityId)
	if err != nil {
		return err
	}
	if err := m.checkShare(kind, entityId, userId); err != nil {
		return err
	}
	if err := m.resolver.CheckMembersExist(studyId, []string{member}); err != nil {
		return err
	}

	return m.withStudyLock(studyId, func(txn *gorm.DB) error {
		err := schema.DeleteEntityAcl(kind, entityId, member, txn)
		if errors.Is(err, schema.ErrAclNotFound) {
			return nil
		}
		return err
	})
}

// SetDaemonAcl grants the reserved admin principal a global set of study
// level permissions.
func (m *Manager) SetDaemonAcl(member string, permissions []string) error {
	if err := CheckStudyPermissions(permissions); err != nil {
		return err
	}
	result := m.db.Save(&schema.DaemonAcl{Member: member, Permissions: schema.JoinPermissions(sortedCopy(permissions))})
	if result.Error != nil {
		slog.Error("sql error in set daemon acl", "member", member, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func (m *Manager) GetDaemonAcl(member string) (schema.MemberAcl, error) {
	return schema.GetDaemonAcl(member, m.db)
}

func (m *Manager) entityStudyId(kind schema.EntityKind, entityId int64) (int64, error) {
	if kind == schema.KindStudy {
		study, err := schema.GetStudy(entityId, m.db)
		if err != nil {
			return 0, err
		}
		return study.Id, nil
	}
	return schema.GetEntityStudyId(kind, entityId, m.db)
}

func (m *Manager) checkEntityExists(kind schema.EntityKind, entityId int64) error {
	_, err := m.entityStudyId(kind, entityId)
	return err
}

func unionPermissions(base, extra []string) []string {
	set := make(map[string]bool, len(base)+len(extra))
	for _, permission := range base {
		set[permission] = true
	}
	for _, permission := range extra {
		set[permission] = true
	}

	union := make([]string, 0, len(set))
	for permission := range set {
		union = append(union, permission)
	}
	sort.Strings(union)
	return union
}

func removeFromPermissions(base, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, permission := range remove {
		drop[permission] = true
	}

	kept := make([]string, 0, len(base))
	for _, permission := range base {
		if !drop[permission] {
			kept = append(kept, permission)
		}
	}
	return kept
}

func sortedCopy(permissions []string) []string {
	copied := make([]string, len(permissions))
	copy(copied, permissions)
	sort.Strings(copied)
	return copied
}
