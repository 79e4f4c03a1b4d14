package authz

import (
	"sort"

	"genome_catalog/catalog/schema"
)

// Entity level permissions. Every entity kind carries the basic four; files
// add the header, content and download permissions; samples, individuals and
// cohorts add the annotation permissions.
const (
	PermView   = "VIEW"
	PermUpdate = "UPDATE"
	PermDelete = "DELETE"
	PermShare  = "SHARE"

	PermDownload    = "DOWNLOAD"
	PermViewHeader  = "VIEW_HEADER"
	PermViewContent = "VIEW_CONTENT"

	PermCreateAnnotations = "CREATE_ANNOTATIONS"
	PermViewAnnotations   = "VIEW_ANNOTATIONS"
	PermUpdateAnnotations = "UPDATE_ANNOTATIONS"
	PermDeleteAnnotations = "DELETE_ANNOTATIONS"
)

// Study level permissions that do not derive onto a child entity.
const (
	ViewStudy   = "VIEW_STUDY"
	UpdateStudy = "UPDATE_STUDY"
	ShareStudy  = "SHARE_STUDY"

	CreateVariableSets             = "CREATE_VARIABLE_SETS"
	ViewVariableSets               = "VIEW_VARIABLE_SETS"
	UpdateVariableSets             = "UPDATE_VARIABLE_SETS"
	DeleteVariableSets             = "DELETE_VARIABLE_SETS"
	ConfidentialVariableSetsAccess = "CONFIDENTIAL_VARIABLE_SETS_ACCESS"
)

// derivationTables is the static map from study permissions onto the entity
// permission each one implies, per entity kind. A study permission absent
// from a kind's table grants nothing on that kind.
var derivationTables = map[schema.EntityKind]map[string]string{
	schema.KindFile: {
		"VIEW_FILES":         PermView,
		"UPDATE_FILES":       PermUpdate,
		"DELETE_FILES":       PermDelete,
		"SHARE_FILES":        PermShare,
		"DOWNLOAD_FILES":     PermDownload,
		"VIEW_FILE_HEADERS":  PermViewHeader,
		"VIEW_FILE_CONTENTS": PermViewContent,
	},
	schema.KindSample: {
		"VIEW_SAMPLES":              PermView,
		"UPDATE_SAMPLES":            PermUpdate,
		"DELETE_SAMPLES":            PermDelete,
		"SHARE_SAMPLES":             PermShare,
		"CREATE_SAMPLE_ANNOTATIONS": PermCreateAnnotations,
		"VIEW_SAMPLE_ANNOTATIONS":   PermViewAnnotations,
		"UPDATE_SAMPLE_ANNOTATIONS": PermUpdateAnnotations,
		"DELETE_SAMPLE_ANNOTATIONS": PermDeleteAnnotations,
	},
	schema.KindIndividual: {
		"VIEW_INDIVIDUALS":              PermView,
		"UPDATE_INDIVIDUALS":            PermUpdate,
		"DELETE_INDIVIDUALS":            PermDelete,
		"SHARE_INDIVIDUALS":             PermShare,
		"CREATE_INDIVIDUAL_ANNOTATIONS": PermCreateAnnotations,
		"VIEW_INDIVIDUAL_ANNOTATIONS":   PermViewAnnotations,
		"UPDATE_INDIVIDUAL_ANNOTATIONS": PermUpdateAnnotations,
		"DELETE_INDIVIDUAL_ANNOTATIONS": PermDeleteAnnotations,
	},
	schema.KindCohort: {
		"VIEW_COHORTS":              PermView,
		"UPDATE_COHORTS":            PermUpdate,
		"DELETE_COHORTS":            PermDelete,
		"SHARE_COHORTS":             PermShare,
		"CREATE_COHORT_ANNOTATIONS": PermCreateAnnotations,
		"VIEW_COHORT_ANNOTATIONS":   PermViewAnnotations,
		"UPDATE_COHORT_ANNOTATIONS": PermUpdateAnnotations,
		"DELETE_COHORT_ANNOTATIONS": PermDeleteAnnotations,
	},
	schema.KindDataset: {
		"VIEW_DATASETS":   PermView,
		"UPDATE_DATASETS": PermUpdate,
		"DELETE_DATASETS": PermDelete,
		"SHARE_DATASETS":  PermShare,
	},
	schema.KindPanel: {
		"VIEW_PANELS":   PermView,
		"UPDATE_PANELS": PermUpdate,
		"DELETE_PANELS": PermDelete,
		"SHARE_PANELS":  PermShare,
	},
	schema.KindJob: {
		"VIEW_JOBS":   PermView,
		"UPDATE_JOBS": PermUpdate,
		"DELETE_JOBS": PermDelete,
		"SHARE_JOBS":  PermShare,
	},
}

// createPermissions lists the study permission gating creation of each
// entity kind. Creation has no entity level counterpart.
var createPermissions = map[schema.EntityKind]string{
	schema.KindFile:       "CREATE_FILES",
	schema.KindSample:     "CREATE_SAMPLES",
	schema.KindIndividual: "CREATE_INDIVIDUALS",
	schema.KindCohort:     "CREATE_COHORTS",
	schema.KindDataset:    "CREATE_DATASETS",
	schema.KindPanel:      "CREATE_PANELS",
	schema.KindJob:        "CREATE_JOBS",
}

// CreatePermission returns the study permission required to create an entity
// of the given kind.
func CreatePermission(kind schema.EntityKind) string {
	return createPermissions[kind]
}

var entityPermissions = map[schema.EntityKind][]string{
	schema.KindFile:       {PermView, PermUpdate, PermDelete, PermShare, PermDownload, PermViewHeader, PermViewContent},
	schema.KindSample:     {PermView, PermUpdate, PermDelete, PermShare, PermCreateAnnotations, PermViewAnnotations, PermUpdateAnnotations, PermDeleteAnnotations},
	schema.KindIndividual: {PermView, PermUpdate, PermDelete, PermShare, PermCreateAnnotations, PermViewAnnotations, PermUpdateAnnotations, PermDeleteAnnotations},
	schema.KindCohort:     {PermView, PermUpdate, PermDelete, PermShare, PermCreateAnnotations, PermViewAnnotations, PermUpdateAnnotations, PermDeleteAnnotations},
	schema.KindDataset:    {PermView, PermUpdate, PermDelete, PermShare},
	schema.KindPanel:      {PermView, PermUpdate, PermDelete, PermShare},
	schema.KindJob:        {PermView, PermUpdate, PermDelete, PermShare},
}

// StudyPermissions is the full study permission enumeration, sorted.
var StudyPermissions = allStudyPermissions()

func allStudyPermissions() []string {
	set := map[string]bool{
		ViewStudy:                      true,
		UpdateStudy:                    true,
		ShareStudy:                     true,
		CreateVariableSets:             true,
		ViewVariableSets:               true,
		UpdateVariableSets:             true,
		DeleteVariableSets:             true,
		ConfidentialVariableSetsAccess: true,
	}
	for _, table := range derivationTables {
		for permission := range table {
			set[permission] = true
		}
	}
	for _, permission := range createPermissions {
		set[permission] = true
	}

	permissions := make([]string, 0, len(set))
	for permission := range set {
		permissions = append(permissions, permission)
	}
	sort.Strings(permissions)
	return permissions
}

var studyPermissionSet = func() map[string]bool {
	set := make(map[string]bool, len(StudyPermissions))
	for _, permission := range StudyPermissions {
		set[permission] = true
	}
	return set
}()

// CheckStudyPermissions verifies every name is a valid study permission.
func CheckStudyPermissions(permissions []string) error {
	for _, permission := range permissions {
		if !studyPermissionSet[permission] {
			return &InvalidPermissionError{Permission: permission}
		}
	}
	return nil
}

// CheckEntityPermissions verifies every name belongs to the permission
// enumeration of the given kind.
func CheckEntityPermissions(kind schema.EntityKind, permissions []string) error {
	valid, ok := entityPermissions[kind]
	if !ok {
		return &InvalidPermissionError{Permission: string(kind)}
	}
	for _, permission := range permissions {
		found := false
		for _, v := range valid {
			if v == permission {
				found = true
				break
			}
		}
		if !found {
			return &InvalidPermissionError{Permission: permission}
		}
	}
	return nil
}

// DeriveEntityAcl projects a study level acl onto an entity kind via the
// derivation table. A nil study acl yields an empty permission set, which
// denies everything.
func DeriveEntityAcl(kind schema.EntityKind, studyAcl *schema.MemberAcl) schema.MemberAcl {
	if studyAcl == nil {
		return schema.MemberAcl{}
	}

	table := derivationTables[kind]
	acl := schema.MemberAcl{Member: studyAcl.Member}
	for _, studyPermission := range studyAcl.Permissions {
		if entityPermission, ok := table[studyPermission]; ok {
			acl.Permissions = append(acl.Permissions, entityPermission)
		}
	}
	return acl
}

// Acl templates used when creating study acls. The admin template grants
// every study permission, the analyst template grants create, view, update
// and download rights but never delete, share or confidential access. Any
// other template name means locked: no permissions at all.
const (
	TemplateAdmin   = "admin"
	TemplateAnalyst = "analyst"
	TemplateLocked  = "locked"
)

var analystPermissions = []string{
	ViewStudy,
	ViewVariableSets,
	"CREATE_FILES", "VIEW_FILES", "UPDATE_FILES", "DOWNLOAD_FILES", "VIEW_FILE_HEADERS", "VIEW_FILE_CONTENTS",
	"CREATE_JOBS", "VIEW_JOBS", "UPDATE_JOBS",
	"CREATE_SAMPLES", "VIEW_SAMPLES", "UPDATE_SAMPLES",
	"CREATE_SAMPLE_ANNOTATIONS", "VIEW_SAMPLE_ANNOTATIONS", "UPDATE_SAMPLE_ANNOTATIONS",
	"CREATE_INDIVIDUALS", "VIEW_INDIVIDUALS", "UPDATE_INDIVIDUALS",
	"CREATE_INDIVIDUAL_ANNOTATIONS", "VIEW_INDIVIDUAL_ANNOTATIONS", "UPDATE_INDIVIDUAL_ANNOTATIONS",
	"CREATE_COHORTS", "VIEW_COHORTS", "UPDATE_COHORTS",
	"CREATE_COHORT_ANNOTATIONS", "VIEW_COHORT_ANNOTATIONS", "UPDATE_COHORT_ANNOTATIONS",
	"CREATE_DATASETS", "VIEW_DATASETS", "UPDATE_DATASETS",
	"CREATE_PANELS", "VIEW_PANELS", "UPDATE_PANELS",
}

// TemplatePermissions returns the baseline permission set for a study acl
// template.
func TemplatePermissions(template string) []string {
	switch template {
	case TemplateAdmin:
		permissions := make([]string, len(StudyPermissions))
		copy(permissions, StudyPermissions)
		return permissions
	case TemplateAnalyst:
		permissions := make([]string, len(analystPermissions))
		copy(permissions, analystPermissions)
		return permissions
	default:
		return nil
	}
}
