package resolve

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"genome_catalog/catalog/schema"

	"gorm.io/gorm"
)

// Resource is the result of resolving one reference: the entity id, the
// study enclosing it, and the caller the resolution ran for. In silent bulk
// mode a failed item keeps Id == -1 and carries its error in Err.
type Resource struct {
	Caller  string
	StudyId int64
	Id      int64
	Negated bool
	Err     error
}

// Resolver turns mixed textual/numeric references into typed ids. Supported
// shapes: a plain id above the configured offset, `user@project:study/path`,
// `project:study`, a bare name searched within the caller's accessible
// studies, `!ref` negation (queries only), and comma lists for bulk lookups.
type Resolver struct {
	db     *gorm.DB
	offset int64
}

func NewResolver(db *gorm.DB, offset int64) *Resolver {
	return &Resolver{db: db, offset: offset}
}

// Project resolves a project reference for the caller. Bare aliases default
// to the caller's own projects; anonymous callers search by alias across all
// owners and fail on zero or multiple matches.
func (r *Resolver) Project(userId string, ref string) (int64, error) {
	if id, ok := r.numericId(ref); ok {
		if _, err := schema.GetProject(id, r.db); err != nil {
			if errors.Is(err, schema.ErrProjectNotFound) {
				return 0, notFoundId(schema.KindProject, ref)
			}
			return 0, err
		}
		return id, nil
	}

	owner, alias := userId, ref
	if before, after, found := strings.Cut(ref, "@"); found {
		if before == "" || after == "" {
			return 0, &InvalidRefError{Message: fmt.Sprintf("malformed project reference '%v'", ref)}
		}
		owner, alias = before, after
	}

	return r.projectByOwnerAlias(owner, alias)
}

func (r *Resolver) projectByOwnerAlias(owner, alias string) (int64, error) {
	if owner != schema.AnonymousUser && alias != "" {
		var project schema.Project
		result := r.db.First(&project, "owner_id = ? AND alias = ?", owner, alias)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return 0, notFoundName(schema.KindProject, alias, "")
			}
			slog.Error("sql error resolving project", "owner", owner, "alias", alias, "error", result.Error)
			return 0, schema.ErrDbAccessFailed
		}
		return project.Id, nil
	}

	// Anonymous caller or blank alias: search by whatever is known.
	query := r.db.Model(&schema.Project{})
	if alias != "" {
		query = query.Where("alias = ?", alias)
	}
	if owner != schema.AnonymousUser {
		query = query.Where("owner_id = ?", owner)
	}

	var projects []schema.Project
	result := query.Find(&projects)
	if result.Error != nil {
		slog.Error("sql error searching projects", "owner", owner, "alias", alias, "error", result.Error)
		return 0, schema.ErrDbAccessFailed
	}

	switch len(projects) {
	case 0:
		return 0, notFoundName(schema.KindProject, alias, "")
	case 1:
		return projects[0].Id, nil
	default:
		return 0, &AmbiguousError{Kind: schema.KindProject, Ref: alias}
	}
}

// Study resolves a study reference: numeric id, `user@project:study`,
// `project:study` (owner defaults to the caller), `user@study`, or a bare
// alias searched across the studies the caller can access (owned, member of
// a group, or holding any study acl).
func (r *Resolver) Study(userId string, ref string) (int64, error) {
	if ref == "" {
		return 0, &InvalidRefError{Message: "missing study parameter"}
	}

	if id, ok := r.numericId(ref); ok {
		if _, err := schema.GetStudy(id, r.db); err != nil {
			if errors.Is(err, schema.ErrStudyNotFound) {
				return 0, notFoundId(schema.KindStudy, ref)
			}
			return 0, err
		}
		return id, nil
	}

	owner := ""
	rest := ref
	if before, after, found := strings.Cut(ref, "@"); found {
		if before == "" || after == "" {
			return 0, &InvalidRefError{Message: fmt.Sprintf("malformed study reference '%v'", ref)}
		}
		owner, rest = before, after
	}

	projectAlias := ""
	studyAlias := rest
	if before, after, found := strings.Cut(rest, ":"); found {
		if before == "" || after == "" {
			return 0, &InvalidRefError{Message: fmt.Sprintf("malformed study reference '%v'", ref)}
		}
		projectAlias, studyAlias = before, after
	}

	if projectAlias != "" {
		if owner == "" {
			owner = userId
		}
		projectId, err := r.projectByOwnerAlias(owner, projectAlias)
		if err != nil {
			return 0, err
		}

		var study schema.Study
		result := r.db.First(&study, "project_id = ? AND alias = ?", projectId, studyAlias)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return 0, notFoundName(schema.KindStudy, studyAlias, "")
			}
			slog.Error("sql error resolving study", "project_id", projectId, "alias", studyAlias, "error", result.Error)
			return 0, schema.ErrDbAccessFailed
		}
		return study.Id, nil
	}

	var candidates []schema.Study
	if owner != "" {
		result := r.db.Joins("JOIN projects ON projects.id = studies.project_id").
			Where("projects.owner_id = ? AND studies.alias = ?", owner, studyAlias).
			Find(&candidates)
		if result.Error != nil {
			slog.Error("sql error resolving owner study", "owner", owner, "alias", studyAlias, "error", result.Error)
			return 0, schema.ErrDbAccessFailed
		}
	} else {
		scope, err := r.AccessibleStudyIds(userId)
		if err != nil {
			return 0, err
		}
		if len(scope) == 0 {
			return 0, notFoundName(schema.KindStudy, ref, "")
		}
		result := r.db.Where("id IN ? AND alias = ?", scope, studyAlias).Find(&candidates)
		if result.Error != nil {
			slog.Error("sql error resolving study alias", "alias", studyAlias, "error", result.Error)
			return 0, schema.ErrDbAccessFailed
		}
	}

	switch len(candidates) {
	case 0:
		return 0, notFoundName(schema.KindStudy, ref, "")
	case 1:
		return candidates[0].Id, nil
	default:
		return 0, &AmbiguousError{Kind: schema.KindStudy, Ref: ref}
	}
}

// One resolves a single child entity reference. Numeric references must be
// above the offset to count as ids; anything else is looked up by name (or
// path, for files) within the hinted study, falling back to the caller's
// accessible studies. Comma lists and negation are rejected here.
func (r *Resolver) One(userId string, kind schema.EntityKind, ref string, studyHint string) (Resource, error) {
	if ref == "" {
		return Resource{}, &InvalidRefError{Message: fmt.Sprintf("missing %v parameter", kind)}
	}
	if strings.Contains(ref, ",") {
		return Resource{}, &InvalidRefError{Message: fmt.Sprintf("expected a single %v reference, got a list", kind)}
	}
	if strings.HasPrefix(ref, "!") {
		return Resource{}, &InvalidRefError{Message: fmt.Sprintf("negated %v reference is only valid in queries", kind)}
	}

	if id, ok := r.numericId(ref); ok {
		studyId, err := schema.GetEntityStudyId(kind, id, r.db)
		if err != nil {
			if errors.Is(err, schema.NotFoundError(kind)) {
				return Resource{}, notFoundId(kind, ref)
			}
			return Resource{}, err
		}
		return Resource{Caller: userId, StudyId: studyId, Id: id}, nil
	}

	if kind == schema.KindFile {
		return r.oneFile(userId, ref, studyHint)
	}

	scope, err := r.studyScope(userId, studyHint)
	if err != nil {
		return Resource{}, err
	}

	rows, err := r.entitiesByName(kind, scope, []string{ref})
	if err != nil {
		return Resource{}, err
	}

	switch len(rows) {
	case 0:
		return Resource{}, notFoundName(kind, ref, studyHint)
	case 1:
		return Resource{Caller: userId, StudyId: rows[0].StudyId, Id: rows[0].Id}, nil
	default:
		return Resource{}, &AmbiguousError{Kind: kind, Ref: ref}
	}
}

func (r *Resolver) oneFile(userId, ref, studyHint string) (Resource, error) {
	path := ref
	if strings.Contains(ref, ":") {
		// Study-scoped reference: the path starts at the first '/' after
		// the study alias.
		scopeEnd := strings.Index(ref, "/")
		if scopeEnd < 0 || scopeEnd == len(ref)-1 {
			return Resource{}, &InvalidRefError{Message: fmt.Sprintf("file reference '%v' does not name a file within the study", ref)}
		}
		studyHint = ref[:scopeEnd]
		path = ref[scopeEnd+1:]
	}

	scope, err := r.studyScope(userId, studyHint)
	if err != nil {
		return Resource{}, err
	}

	rows, err := r.filesByRef(scope, []string{path})
	if err != nil {
		return Resource{}, err
	}

	row, err := matchFileRef(rows, path)
	if err != nil {
		return Resource{}, err
	}
	if row == nil {
		return Resource{}, notFoundName(schema.KindFile, path, studyHint)
	}
	return Resource{Caller: userId, StudyId: row.StudyId, Id: row.Id}, nil
}

// Many resolves a comma-split reference list, preserving input order. In
// silent mode per-item failures are recorded on the item (Id == -1) and do
// not abort the batch; otherwise the first missing id fails the lookup.
// Numeric items are checked for existence regardless of the offset, so a
// reference like "0" fails as a missing id rather than a name.
func (r *Resolver) Many(userId string, kind schema.EntityKind, refs []string, studyHint string, silent bool) ([]Resource, error) {
	if len(refs) == 0 {
		return nil, &InvalidRefError{Message: fmt.Sprintf("missing %v parameter", kind)}
	}

	type nameItem struct {
		index int
		name  string
	}

	resources := make([]Resource, len(refs))
	var names []nameItem

	for i, raw := range refs {
		ref := strings.TrimSpace(raw)
		negated := strings.HasPrefix(ref, "!")
		if negated {
			ref = ref[1:]
		}
		resources[i] = Resource{Caller: userId, Id: -1, Negated: negated}

		if ref == "" {
			err := &InvalidRefError{Message: fmt.Sprintf("missing %v parameter", kind)}
			if !silent {
				return nil, err
			}
			resources[i].Err = err
			continue
		}

		if isNumeric(ref) {
			id, parseErr := strconv.ParseInt(ref, 10, 64)
			if parseErr != nil {
				err := &InvalidRefError{Message: fmt.Sprintf("invalid numeric %v id '%v'", kind, ref)}
				if !silent {
					return nil, err
				}
				resources[i].Err = err
				continue
			}

			studyId, err := schema.GetEntityStudyId(kind, id, r.db)
			if err != nil {
				if errors.Is(err, schema.NotFoundError(kind)) {
					missing := notFoundId(kind, ref)
					if !silent {
						return nil, missing
					}
					resources[i].Err = missing
					continue
				}
				return nil, err
			}
			resources[i].Id = id
			resources[i].StudyId = studyId
			continue
		}

		names = append(names, nameItem{index: i, name: ref})
	}

	if len(names) > 0 {
		scope, err := r.studyScope(userId, studyHint)
		if err != nil {
			return nil, err
		}

		lookup := make([]string, 0, len(names))
		for _, item := range names {
			lookup = append(lookup, item.name)
		}

		if kind == schema.KindFile {
			rows, err := r.filesByRef(scope, lookup)
			if err != nil {
				return nil, err
			}
			for _, item := range names {
				row, err := matchFileRef(rows, item.name)
				if err != nil {
					if !silent {
						return nil, err
					}
					resources[item.index].Err = err
					continue
				}
				if row == nil {
					resources[item.index].Err = notFoundName(kind, item.name, studyHint)
					continue
				}
				resources[item.index].Id = row.Id
				resources[item.index].StudyId = row.StudyId
			}
		} else {
			rows, err := r.entitiesByName(kind, scope, lookup)
			if err != nil {
				return nil, err
			}

			byName := make(map[string][]entityRow)
			for _, row := range rows {
				byName[row.Name] = append(byName[row.Name], row)
			}

			for _, item := range names {
				matches := byName[item.name]
				if len(matches) > 1 {
					ambiguous := &AmbiguousError{Kind: kind, Ref: item.name}
					if !silent {
						return nil, ambiguous
					}
					resources[item.index].Err = ambiguous
					continue
				}
				if len(matches) == 0 {
					resources[item.index].Err = notFoundName(kind, item.name, studyHint)
					continue
				}
				resources[item.index].Id = matches[0].Id
				resources[item.index].StudyId = matches[0].StudyId
			}
		}
	}

	if !silent {
		resolved := 0
		for i := range resources {
			if resources[i].Id != -1 {
				resolved++
			}
		}
		if resolved < len(resources) {
			return nil, &NotFoundError{
				Kind:    kind,
				Message: fmt.Sprintf("found only %d out of the %d %vs looked for", resolved, len(resources), kind),
			}
		}
	}

	return resources, nil
}

// studyScope returns the study ids a name lookup should search: the hinted
// study alone when given, otherwise every study accessible to the caller.
func (r *Resolver) studyScope(userId, studyHint string) ([]int64, error) {
	if studyHint != "" {
		id, err := r.Study(userId, studyHint)
		if err != nil {
			return nil, err
		}
		return []int64{id}, nil
	}
	return r.AccessibleStudyIds(userId)
}

// AccessibleStudyIds lists every study the user owns, belongs to through a
// group, or holds a direct or '*' acl on, in ascending id order.
func (r *Resolver) AccessibleStudyIds(userId string) ([]int64, error) {
	seen := make(map[int64]bool)
	var ids []int64
	appendIds := func(batch []int64) {
		for _, id := range batch {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	if userId != schema.AnonymousUser {
		var owned []int64
		result := r.db.Table("studies").Select("studies.id").
			Joins("JOIN projects ON projects.id = studies.project_id").
			Where("projects.owner_id = ?", userId).
			Scan(&owned)
		if result.Error != nil {
			slog.Error("sql error listing owned studies", "user_id", userId, "error", result.Error)
			return nil, schema.ErrDbAccessFailed
		}
		appendIds(owned)

		var member []int64
		result = r.db.Table("group_members").Select("study_id").Where("user_id = ?", userId).Scan(&member)
		if result.Error != nil {
			slog.Error("sql error listing group studies", "user_id", userId, "error", result.Error)
			return nil, schema.ErrDbAccessFailed
		}
		appendIds(member)
	}

	var granted []int64
	result := r.db.Table("study_acls").Select("study_id").
		Where("member IN ?", []string{userId, schema.AllMembers}).
		Scan(&granted)
	if result.Error != nil {
		slog.Error("sql error listing granted studies", "user_id", userId, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	appendIds(granted)

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type entityRow struct {
	Id      int64
	StudyId int64
	Name    string
}

var entityTables = map[schema.EntityKind]string{
	schema.KindSample:     "samples",
	schema.KindIndividual: "individuals",
	schema.KindCohort:     "cohorts",
	schema.KindDataset:    "datasets",
	schema.KindPanel:      "panels",
	schema.KindJob:        "jobs",
}

func (r *Resolver) entitiesByName(kind schema.EntityKind, studyIds []int64, names []string) ([]entityRow, error) {
	table, ok := entityTables[kind]
	if !ok {
		return nil, &InvalidRefError{Message: fmt.Sprintf("cannot resolve entities of kind '%v' by name", kind)}
	}
	if len(studyIds) == 0 {
		return nil, nil
	}

	var rows []entityRow
	result := r.db.Table(table).Select("id, study_id, name").
		Where("study_id IN ? AND name IN ?", studyIds, names).
		Scan(&rows)
	if result.Error != nil {
		slog.Error("sql error resolving names", "kind", kind, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return rows, nil
}

type fileRow struct {
	Id      int64
	StudyId int64
	Name    string
	Path    string
}

func (r *Resolver) filesByRef(studyIds []int64, refs []string) ([]fileRow, error) {
	if len(studyIds) == 0 {
		return nil, nil
	}

	// Bare names (no '/') may match either a file path in the study root or
	// a file name anywhere; fetch both and disambiguate per reference.
	var names []string
	for _, ref := range refs {
		if !strings.Contains(ref, "/") {
			names = append(names, ref)
		}
	}

	query := r.db.Table("files").Select("id, study_id, name, path").Where("study_id IN ?", studyIds)
	if len(names) > 0 {
		query = query.Where("path IN ? OR name IN ?", refs, names)
	} else {
		query = query.Where("path IN ?", refs)
	}

	var rows []fileRow
	result := query.Scan(&rows)
	if result.Error != nil {
		slog.Error("sql error resolving file refs", "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return rows, nil
}

func matchFileRef(rows []fileRow, ref string) (*fileRow, error) {
	var pathMatch, nameMatch *fileRow
	pathCount, nameCount := 0, 0
	for i := range rows {
		if rows[i].Path == ref {
			pathMatch = &rows[i]
			pathCount++
		}
		if !strings.Contains(ref, "/") && rows[i].Name == ref {
			nameMatch = &rows[i]
			nameCount++
		}
	}

	if pathCount > 1 || nameCount > 1 {
		return nil, &AmbiguousError{Kind: schema.KindFile, Ref: ref}
	}
	switch {
	case pathCount == 1 && nameCount == 1:
		if pathMatch.Id != nameMatch.Id {
			return nil, &AmbiguousError{Kind: schema.KindFile, Ref: ref}
		}
		return pathMatch, nil
	case pathCount == 1:
		return pathMatch, nil
	case nameCount == 1:
		return nameMatch, nil
	default:
		return nil, nil
	}
}

func (r *Resolver) numericId(ref string) (int64, bool) {
	if !isNumeric(ref) {
		return 0, false
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= r.offset {
		return 0, false
	}
	return id, true
}

func isNumeric(ref string) bool {
	if ref == "" {
		return false
	}
	for _, c := range ref {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
