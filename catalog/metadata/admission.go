package metadata

import (
	"fmt"
	"slices"
	"strconv"
)

// FileMetadata describes the input file whose samples are being admitted
// into a study. SampleNames keeps the file's column order.
type FileMetadata struct {
	FileName    string
	SampleNames []string
}

func (f *FileMetadata) samplePosition(name string) (int64, bool) {
	for i, sample := range f.SampleNames {
		if sample == name {
			return int64(i), true
		}
	}
	return 0, false
}

// CheckAndUpdateStudyConfiguration admits the file's samples into the study.
// Explicit "name:id" mappings are validated against the file and the
// existing registry; without them, ids are assigned automatically using the
// sample's position in the file when free, then the current sample count,
// then max(existing)+1. The sample set registered for the file must match
// the file's declared samples exactly. Callers must hold the study lock.
func CheckAndUpdateStudyConfiguration(cfg *StudyConfiguration, fileId int64, file FileMetadata, sampleIds []string) error {
	if len(sampleIds) > 0 {
		for _, entry := range sampleIds {
			name, idStr, ok := splitResource(entry)
			if !ok {
				return &AdmissionError{Message: fmt.Sprintf("sample entry '%v' is malformed, expected 'name:id'", entry)}
			}
			sampleId, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				return &AdmissionError{Message: fmt.Sprintf("sample id '%v' is not an integer", idStr)}
			}
			if _, ok := file.samplePosition(name); !ok {
				return &AdmissionError{Message: fmt.Sprintf("sample '%v' is not in the input file", name)}
			}
			if existing, ok := cfg.SampleIds[name]; ok {
				if existing != sampleId {
					return &AdmissionError{Message: fmt.Sprintf(
						"sample %v:%v is already registered with a different id: %v", name, sampleId, existing)}
				}
			} else {
				cfg.SampleIds[name] = sampleId
			}
		}

		var missing []string
		for _, name := range file.SampleNames {
			if _, ok := cfg.SampleIds[name]; !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return &AdmissionError{Message: fmt.Sprintf("samples %v have no assigned id", missing)}
		}
	} else {
		maxId := maxMapId(cfg.SampleIds)
		for position, name := range file.SampleNames {
			if _, ok := cfg.SampleIds[name]; ok {
				continue
			}

			samplePosition := int64(position)
			samplesSize := int64(len(cfg.SampleIds))
			var sampleId int64
			switch {
			case samplePosition != 0 && !mapHasId(cfg.SampleIds, samplePosition):
				sampleId = samplePosition
			case samplesSize != 0 && !mapHasId(cfg.SampleIds, samplesSize):
				sampleId = samplesSize
			default:
				sampleId = maxId + 1
			}
			cfg.SampleIds[name] = sampleId
			if sampleId > maxId {
				maxId = sampleId
			}
		}
	}

	if registered, ok := cfg.SamplesInFiles[fileId]; ok {
		var missing []string
		for _, name := range file.SampleNames {
			if !slices.Contains(registered, cfg.SampleIds[name]) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return &AdmissionError{Message: fmt.Sprintf("samples %v were not in file %v", missing, fileId)}
		}
		if len(registered) != len(file.SampleNames) {
			return &AdmissionError{Message: fmt.Sprintf("incorrect number of samples in file %v", fileId)}
		}
	} else {
		ids := make([]int64, 0, len(file.SampleNames))
		for _, name := range file.SampleNames {
			id := cfg.SampleIds[name]
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		cfg.SamplesInFiles[fileId] = ids
	}
	return nil
}

// CheckNewFile validates a (name, id) pair against the study's file registry
// and returns the id to load under. A negative id requests assignment: the
// existing id is reused when the name is already registered, otherwise
// max(existing)+1 is claimed.
func CheckNewFile(cfg *StudyConfiguration, fileId int64, fileName string) (int64, error) {
	if fileId < 0 {
		if existing, ok := cfg.FileIds[fileName]; ok {
			fileId = existing
		} else {
			fileId = maxMapId(cfg.FileIds) + 1
			cfg.FileIds[fileName] = fileId
		}
	}

	if existing, ok := cfg.FileIds[fileName]; ok && existing != fileId {
		return 0, &AdmissionError{Message: fmt.Sprintf(
			"file '%v' (%v) has a different id in study '%v' (%v): %v",
			fileName, fileId, cfg.StudyName, cfg.StudyId, existing)}
	}
	if existingName, ok := cfg.FileName(fileId); ok && existingName != fileName {
		return 0, &AdmissionError{Message: fmt.Sprintf(
			"file '%v' (%v) has a different name in the study configuration: '%v'",
			fileName, fileId, existingName)}
	}
	if cfg.IsIndexed(fileId) {
		return 0, &AdmissionError{Message: fmt.Sprintf("file '%v' (%v) is already loaded", fileName, fileId)}
	}
	return fileId, nil
}

// CheckStudyConfiguration verifies the id registries are still one-to-one.
func CheckStudyConfiguration(cfg *StudyConfiguration) error {
	if cfg == nil {
		return &AdmissionError{Message: "study configuration is nil"}
	}
	if cfg.StudyId < 0 {
		return &AdmissionError{Message: fmt.Sprintf("invalid study id: %v", cfg.StudyId)}
	}
	if dup, ok := duplicatedId(cfg.FileIds); ok {
		return &AdmissionError{Message: fmt.Sprintf("study configuration has duplicated file id %v", dup)}
	}
	if dup, ok := duplicatedId(cfg.CohortIds); ok {
		return &AdmissionError{Message: fmt.Sprintf("study configuration has duplicated cohort id %v", dup)}
	}
	return nil
}

func duplicatedId(m map[string]int64) (int64, bool) {
	seen := make(map[int64]struct{}, len(m))
	for _, id := range m {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return 0, false
}
