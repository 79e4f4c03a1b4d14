package metadata

import (
	"errors"
	"slices"
	"strconv"
	"strings"
)

// splitResource splits a "scope:resource" reference at the last colon. A
// leading or absent colon leaves the reference unsplit.
func splitResource(value string) (string, string, bool) {
	idx := strings.LastIndex(value, ":")
	if idx <= 0 {
		return value, "", false
	}
	return value[:idx], value[idx+1:], true
}

// stripNegation removes a leading "!" and reports whether one was present.
func stripNegation(ref string) (string, bool) {
	stripped, negated := strings.CutPrefix(ref, "!")
	return stripped, negated
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func studyMatches(cfg *StudyConfiguration, scope string) bool {
	if scope == cfg.StudyName {
		return true
	}
	if isNumeric(scope) {
		id, err := strconv.ParseInt(scope, 10, 64)
		return err == nil && id == cfg.StudyId
	}
	return false
}

// lookupResource resolves a name or numeric id against one registry. Numeric
// ids must be registered.
func lookupResource(ids map[string]int64, ref string) (int64, bool) {
	if isNumeric(ref) {
		id, err := strconv.ParseInt(ref, 10, 64)
		if err != nil || !mapHasId(ids, id) {
			return 0, false
		}
		return id, true
	}
	id, ok := ids[ref]
	return id, ok
}

// resourceIDFromStudy resolves a reference within one study. A bare numeric
// reference is returned without a registry check; a "study:id" reference is
// checked against the registry and the study scope must match.
func resourceIDFromStudy(cfg *StudyConfiguration, ref string, ids map[string]int64) (int64, bool) {
	ref, _ = stripNegation(ref)
	if isNumeric(ref) {
		id, err := strconv.ParseInt(ref, 10, 64)
		return id, err == nil
	}
	if scope, resource, ok := splitResource(ref); ok {
		if !studyMatches(cfg, scope) {
			return 0, false
		}
		return lookupResource(ids, resource)
	}
	id, ok := ids[ref]
	return id, ok
}

// FileIDFromStudy resolves a file reference (name, id, or "study:ref")
// within one study.
func FileIDFromStudy(cfg *StudyConfiguration, ref string) (int64, bool) {
	return resourceIDFromStudy(cfg, ref, cfg.FileIds)
}

// FileIDsFromStudy resolves every reference within the study, failing on the
// first unknown file.
func FileIDsFromStudy(cfg *StudyConfiguration, refs []string) ([]int64, error) {
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		id, ok := FileIDFromStudy(cfg, ref)
		if !ok {
			return nil, &UnknownReferenceError{Resource: "file", Ref: ref, Study: cfg.StudyName}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SampleIDFromStudy resolves a sample reference within one study.
func SampleIDFromStudy(cfg *StudyConfiguration, ref string) (int64, bool) {
	return resourceIDFromStudy(cfg, ref, cfg.SampleIds)
}

// IndexedSampleIDFromStudy resolves a sample reference and additionally
// requires the sample to appear in an indexed file.
func IndexedSampleIDFromStudy(cfg *StudyConfiguration, ref string) (int64, bool) {
	sampleId, ok := SampleIDFromStudy(cfg, ref)
	if !ok {
		return 0, false
	}
	for _, fileId := range cfg.IndexedFiles {
		if slices.Contains(cfg.SamplesInFiles[fileId], sampleId) {
			return sampleId, true
		}
	}
	return 0, false
}

// CohortIDFromStudy resolves a cohort reference within one study.
func CohortIDFromStudy(cfg *StudyConfiguration, ref string) (int64, bool) {
	return resourceIDFromStudy(cfg, ref, cfg.CohortIds)
}

// CohortIDsFromStudy resolves every reference within the study, failing on
// the first unknown cohort.
func CohortIDsFromStudy(cfg *StudyConfiguration, refs []string) ([]int64, error) {
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		id, ok := CohortIDFromStudy(cfg, ref)
		if !ok {
			return nil, &UnknownReferenceError{Resource: "cohort", Ref: ref, Study: cfg.StudyName}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// StudyID resolves a study reference (name or id) against the known studies.
// A negated reference is skipped when skipNegated is set, reported by the
// second return value.
func (m *Manager) StudyID(ref string, skipNegated bool) (int64, bool, error) {
	stripped, negated := stripNegation(ref)
	if negated && skipNegated {
		return 0, false, nil
	}

	studies, err := m.Studies()
	if err != nil {
		return 0, false, err
	}

	var studyId int64
	if isNumeric(stripped) {
		studyId, err = strconv.ParseInt(stripped, 10, 64)
		if err != nil {
			return 0, false, &UnknownReferenceError{Resource: "study", Ref: stripped}
		}
	} else {
		id, ok := studies[stripped]
		if !ok {
			return 0, false, &UnknownReferenceError{Resource: "study", Ref: stripped}
		}
		studyId = id
	}

	for _, id := range studies {
		if id == studyId {
			return studyId, true, nil
		}
	}
	return 0, false, &UnknownReferenceError{Resource: "study", Ref: stripped}
}

// FileIDPair resolves a file reference to its (study id, file id) pair.
// Negated references are skipped when skipNegated is set. A "study:file"
// reference names the study explicitly; a bare reference is resolved against
// defaultStudy first and then against every known study in id order.
func (m *Manager) FileIDPair(ref string, skipNegated bool, defaultStudy *StudyConfiguration) (int64, int64, bool, error) {
	stripped, negated := stripNegation(ref)
	if negated && skipNegated {
		return 0, 0, false, nil
	}

	if scope, resource, ok := splitResource(stripped); ok {
		sc := defaultStudy
		if sc == nil || !studyMatches(sc, scope) {
			var err error
			sc, err = m.GetStudyConfigurationByName(scope, GetOptions{})
			if errors.Is(err, ErrStudyConfigurationNotFound) {
				return 0, 0, false, &UnknownReferenceError{Resource: "study", Ref: scope}
			} else if err != nil {
				return 0, 0, false, err
			}
		}
		fileId, ok := lookupResource(sc.FileIds, resource)
		if !ok {
			return 0, 0, false, &UnknownReferenceError{Resource: "file", Ref: resource, Study: sc.StudyName}
		}
		return sc.StudyId, fileId, true, nil
	}

	if defaultStudy != nil {
		if isNumeric(stripped) {
			fileId, err := strconv.ParseInt(stripped, 10, 64)
			if err == nil && defaultStudy.HasFileId(fileId) {
				return defaultStudy.StudyId, fileId, true, nil
			}
		} else if fileId, ok := defaultStudy.FileIds[stripped]; ok {
			return defaultStudy.StudyId, fileId, true, nil
		}
	}

	studies, err := m.Studies()
	if err != nil {
		return 0, 0, false, err
	}
	studyIds := make([]int64, 0, len(studies))
	for _, id := range studies {
		studyIds = append(studyIds, id)
	}
	slices.Sort(studyIds)

	for _, studyId := range studyIds {
		sc, err := m.GetStudyConfiguration(studyId, GetOptions{Cached: true, ReadOnly: true})
		if err != nil {
			return 0, 0, false, err
		}
		if fileId, ok := lookupResource(sc.FileIds, stripped); ok {
			return sc.StudyId, fileId, true, nil
		}
	}
	return 0, 0, false, &UnknownReferenceError{Resource: "file", Ref: stripped}
}
