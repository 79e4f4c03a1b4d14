package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
)

// One acl table per entity kind, each row keyed (entity, member). Permissions
// are stored comma joined. A row with an empty permission set is a valid
// deny-all entry and is distinct from no row at all.

type StudyAcl struct {
	StudyId     int64  `gorm:"primaryKey;autoIncrement:false"`
	Member      string `gorm:"primaryKey;size:64"`
	Permissions string
}

type FileAcl struct {
	FileId      int64  `gorm:"primaryKey;autoIncrement:false"`
	Member      string `gorm:"primaryKey;size:64"`
	Permissions string
}

type SampleAcl struct {
	SampleId    int64  `gorm:"primaryKey;autoIncrement:false"`
	Member      string `gorm:"primaryKey;size:64"`
	Permissions string
}

type IndividualAcl struct {
	IndividualId int64  `gorm:"primaryKey;autoIncrement:false"`
	Member       string `gorm:"primaryKey;size:64"`
	Permissions  string
}

type CohortAcl struct {
	CohortId    int64  `gorm:"primaryKey;autoIncrement:false"`
	Member      string `gorm:"primaryKey;size:64"`
	Permissions string
}

type DatasetAcl struct {
	DatasetId   int64  `gorm:"primaryKey;autoIncrement:false"`
	Member      string `gorm:"primaryKey;size:64"`
	Permissions string
}

type PanelAcl struct {
	PanelId     int64  `gorm:"primaryKey;autoIncrement:false"`
	Member      string `gorm:"primaryKey;size:64"`
	Permissions string
}

type JobAcl struct {
	JobId       int64  `gorm:"primaryKey;autoIncrement:false"`
	Member      string `gorm:"primaryKey;size:64"`
	Permissions string
}

// MemberAcl is the kind independent view of an acl row handed to the
// permission resolver and returned by the acl endpoints.
type MemberAcl struct {
	Member      string   `json:"member"`
	Permissions []string `json:"permissions"`
}

func (a MemberAcl) Has(permission string) bool {
	for _, p := range a.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

func SplitPermissions(column string) []string {
	if column == "" {
		return nil
	}
	return strings.Split(column, ",")
}

func JoinPermissions(permissions []string) string {
	return strings.Join(permissions, ",")
}

type aclTable struct {
	table    string
	idColumn string
}

var aclTables = map[EntityKind]aclTable{
	KindStudy:      {"study_acls", "study_id"},
	KindFile:       {"file_acls", "file_id"},
	KindSample:     {"sample_acls", "sample_id"},
	KindIndividual: {"individual_acls", "individual_id"},
	KindCohort:     {"cohort_acls", "cohort_id"},
	KindDataset:    {"dataset_acls", "dataset_id"},
	KindPanel:      {"panel_acls", "panel_id"},
	KindJob:        {"job_acls", "job_id"},
}

func aclTableFor(kind EntityKind) (aclTable, error) {
	t, ok := aclTables[kind]
	if !ok {
		return aclTable{}, fmt.Errorf("entity kind '%v' does not carry acls", kind)
	}
	return t, nil
}

type aclRow struct {
	Member      string
	Permissions string
}

// GetEntityAcls returns the acl rows for the given entity restricted to the
// given members. Missing members are simply absent from the result.
func GetEntityAcls(kind EntityKind, entityId int64, members []string, db *gorm.DB) ([]MemberAcl, error) {
	t, err := aclTableFor(kind)
	if err != nil {
		return nil, err
	}

	var rows []aclRow
	result := db.Table(t.table).
		Select("member, permissions").
		Where(fmt.Sprintf("%v = ? and member in ?", t.idColumn), entityId, members).
		Scan(&rows)
	if result.Error != nil {
		slog.Error("sql error in get entity acls", "kind", kind, "entity_id", entityId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}

	acls := make([]MemberAcl, 0, len(rows))
	for _, row := range rows {
		acls = append(acls, MemberAcl{Member: row.Member, Permissions: SplitPermissions(row.Permissions)})
	}
	return acls, nil
}

// GetEntityAcl returns the acl row for a single member, or ErrAclNotFound.
func GetEntityAcl(kind EntityKind, entityId int64, member string, db *gorm.DB) (MemberAcl, error) {
	acls, err := GetEntityAcls(kind, entityId, []string{member}, db)
	if err != nil {
		return MemberAcl{}, err
	}
	if len(acls) == 0 {
		return MemberAcl{}, ErrAclNotFound
	}
	return acls[0], nil
}

// GetAllEntityAcls returns every acl row on the entity.
func GetAllEntityAcls(kind EntityKind, entityId int64, db *gorm.DB) ([]MemberAcl, error) {
	t, err := aclTableFor(kind)
	if err != nil {
		return nil, err
	}

	var rows []aclRow
	result := db.Table(t.table).
		Select("member, permissions").
		Where(fmt.Sprintf("%v = ?", t.idColumn), entityId).
		Order("member").
		Scan(&rows)
	if result.Error != nil {
		slog.Error("sql error in get all entity acls", "kind", kind, "entity_id", entityId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}

	acls := make([]MemberAcl, 0, len(rows))
	for _, row := range rows {
		acls = append(acls, MemberAcl{Member: row.Member, Permissions: SplitPermissions(row.Permissions)})
	}
	return acls, nil
}

// SaveEntityAcl creates or replaces the acl row for (entity, member).
func SaveEntityAcl(kind EntityKind, entityId int64, member string, permissions []string, db *gorm.DB) error {
	joined := JoinPermissions(permissions)

	var result *gorm.DB
	switch kind {
	case KindStudy:
		result = db.Save(&StudyAcl{StudyId: entityId, Member: member, Permissions: joined})
	case KindFile:
		result = db.Save(&FileAcl{FileId: entityId, Member: member, Permissions: joined})
	case KindSample:
		result = db.Save(&SampleAcl{SampleId: entityId, Member: member, Permissions: joined})
	case KindIndividual:
		result = db.Save(&IndividualAcl{IndividualId: entityId, Member: member, Permissions: joined})
	case KindCohort:
		result = db.Save(&CohortAcl{CohortId: entityId, Member: member, Permissions: joined})
	case KindDataset:
		result = db.Save(&DatasetAcl{DatasetId: entityId, Member: member, Permissions: joined})
	case KindPanel:
		result = db.Save(&PanelAcl{PanelId: entityId, Member: member, Permissions: joined})
	case KindJob:
		result = db.Save(&JobAcl{JobId: entityId, Member: member, Permissions: joined})
	default:
		return fmt.Errorf("entity kind '%v' does not carry acls", kind)
	}

	if result.Error != nil {
		slog.Error("sql error in save entity acl", "kind", kind, "entity_id", entityId, "member", member, "error", result.Error)
		return ErrDbAccessFailed
	}
	return nil
}

// DeleteEntityAcl removes the acl row for (entity, member). Deleting a row
// that does not exist returns ErrAclNotFound and changes nothing.
func DeleteEntityAcl(kind EntityKind, entityId int64, member string, db *gorm.DB) error {
	var result *gorm.DB
	switch kind {
	case KindStudy:
		result = db.Delete(&StudyAcl{StudyId: entityId, Member: member})
	case KindFile:
		result = db.Delete(&FileAcl{FileId: entityId, Member: member})
	case KindSample:
		result = db.Delete(&SampleAcl{SampleId: entityId, Member: member})
	case KindIndividual:
		result = db.Delete(&IndividualAcl{IndividualId: entityId, Member: member})
	case KindCohort:
		result = db.Delete(&CohortAcl{CohortId: entityId, Member: member})
	case KindDataset:
		result = db.Delete(&DatasetAcl{DatasetId: entityId, Member: member})
	case KindPanel:
		result = db.Delete(&PanelAcl{PanelId: entityId, Member: member})
	case KindJob:
		result = db.Delete(&JobAcl{JobId: entityId, Member: member})
	default:
		return fmt.Errorf("entity kind '%v' does not carry acls", kind)
	}

	if result.Error != nil {
		slog.Error("sql error in delete entity acl", "kind", kind, "entity_id", entityId, "member", member, "error", result.Error)
		return ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return ErrAclNotFound
	}
	return nil
}

// GetFileAclsByPath bulk loads acl rows for every file whose path is in
// paths, restricted to the given members. The result maps path to the acl
// rows found for it; paths with no rows are absent. This is the single round
// trip backing the request scoped path cache.
func GetFileAclsByPath(studyId int64, paths []string, members []string, db *gorm.DB) (map[string][]MemberAcl, error) {
	acls := make(map[string][]MemberAcl, len(paths))
	if len(paths) == 0 {
		return acls, nil
	}

	type pathRow struct {
		Path        string
		Member      string
		Permissions string
	}

	var rows []pathRow
	result := db.Table("file_acls").
		Select("files.path as path, file_acls.member as member, file_acls.permissions as permissions").
		Joins("JOIN files ON files.id = file_acls.file_id").
		Where("files.study_id = ? and files.path in ? and file_acls.member in ?", studyId, paths, members).
		Scan(&rows)
	if result.Error != nil {
		slog.Error("sql error in get file acls by path", "study_id", studyId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}

	for _, row := range rows {
		acls[row.Path] = append(acls[row.Path], MemberAcl{Member: row.Member, Permissions: SplitPermissions(row.Permissions)})
	}
	return acls, nil
}

func GetDaemonAcl(member string, db *gorm.DB) (MemberAcl, error) {
	var acl DaemonAcl

	result := db.First(&acl, "member = ?", member)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return MemberAcl{}, ErrAclNotFound
		}
		slog.Error("sql error in get daemon acl", "member", member, "error", result.Error)
		return MemberAcl{}, ErrDbAccessFailed
	}

	return MemberAcl{Member: acl.Member, Permissions: SplitPermissions(acl.Permissions)}, nil
}
