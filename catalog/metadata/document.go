package metadata

import (
	"slices"
	"time"
)

type OperationStatus string

const (
	StatusReady   OperationStatus = "READY"
	StatusRunning OperationStatus = "RUNNING"
	StatusDone    OperationStatus = "DONE"
	StatusError   OperationStatus = "ERROR"
)

type OperationType string

const (
	OperationLoad   OperationType = "LOAD"
	OperationRemove OperationType = "REMOVE"
	OperationOther  OperationType = "OTHER"
)

// StatusEntry is one step in a batch operation's status history.
type StatusEntry struct {
	Timestamp int64           `json:"timestamp"`
	Status    OperationStatus `json:"status"`
}

// BatchOperation is a named, typed unit of work over a file set. Its status
// history is append-only and chronologically ordered; the current status is
// the latest entry, or READY when the operation never started.
type BatchOperation struct {
	Name      string        `json:"name"`
	FileIds   []int64       `json:"fileIds"`
	Timestamp int64         `json:"timestamp"`
	Type      OperationType `json:"type"`
	History   []StatusEntry `json:"history"`
}

func (op *BatchOperation) CurrentStatus() OperationStatus {
	if len(op.History) == 0 {
		return StatusReady
	}
	return op.History[len(op.History)-1].Status
}

func (op *BatchOperation) AddStatus(status OperationStatus) {
	op.History = append(op.History, StatusEntry{Timestamp: time.Now().UnixMilli(), Status: status})
}

func (op *BatchOperation) same(name string, fileIds []int64, opType OperationType) bool {
	return op.Name == name && op.Type == opType && slices.Equal(op.FileIds, fileIds)
}

// VariableSet defines a reusable annotation schema within a study.
// Confidential sets require an extra study permission to read or write.
type VariableSet struct {
	Id           int64             `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Confidential bool              `json:"confidential"`
	Variables    map[string]string `json:"variables"`
}

// StudyConfiguration is the versioned per-study metadata document: name/id
// bimaps for samples, files and cohorts, the indexed file set, the sample
// composition of each file and cohort, variable sets, and the batch
// operation history. It is mutated only while holding the study lock.
type StudyConfiguration struct {
	StudyId        int64             `json:"studyId"`
	StudyName      string            `json:"studyName"`
	SampleIds      map[string]int64  `json:"sampleIds"`
	FileIds        map[string]int64  `json:"fileIds"`
	CohortIds      map[string]int64  `json:"cohortIds"`
	Cohorts        map[int64][]int64 `json:"cohorts"`
	IndexedFiles   []int64           `json:"indexedFiles"`
	SamplesInFiles map[int64][]int64 `json:"samplesInFiles"`
	VariableSets   []VariableSet     `json:"variableSets"`
	Batches        []BatchOperation  `json:"batches"`
	Attributes     map[string]any    `json:"attributes,omitempty"`
	TimeStamp      int64             `json:"timeStamp"`
}

func NewStudyConfiguration(studyId int64, studyName string) *StudyConfiguration {
	return &StudyConfiguration{
		StudyId:        studyId,
		StudyName:      studyName,
		SampleIds:      make(map[string]int64),
		FileIds:        make(map[string]int64),
		CohortIds:      make(map[string]int64),
		Cohorts:        make(map[int64][]int64),
		SamplesInFiles: make(map[int64][]int64),
	}
}

// Copy returns a deep copy. Readers outside the study lock always receive
// copies so cached documents are never mutated concurrently.
func (cfg *StudyConfiguration) Copy() *StudyConfiguration {
	copied := &StudyConfiguration{
		StudyId:        cfg.StudyId,
		StudyName:      cfg.StudyName,
		SampleIds:      copyIdMap(cfg.SampleIds),
		FileIds:        copyIdMap(cfg.FileIds),
		CohortIds:      copyIdMap(cfg.CohortIds),
		Cohorts:        copyIdListMap(cfg.Cohorts),
		IndexedFiles:   slices.Clone(cfg.IndexedFiles),
		SamplesInFiles: copyIdListMap(cfg.SamplesInFiles),
		TimeStamp:      cfg.TimeStamp,
	}

	copied.VariableSets = make([]VariableSet, len(cfg.VariableSets))
	for i, set := range cfg.VariableSets {
		copied.VariableSets[i] = set
		copied.VariableSets[i].Variables = make(map[string]string, len(set.Variables))
		for name, value := range set.Variables {
			copied.VariableSets[i].Variables[name] = value
		}
	}

	copied.Batches = make([]BatchOperation, len(cfg.Batches))
	for i, op := range cfg.Batches {
		copied.Batches[i] = op
		copied.Batches[i].FileIds = slices.Clone(op.FileIds)
		copied.Batches[i].History = slices.Clone(op.History)
	}

	if cfg.Attributes != nil {
		copied.Attributes = make(map[string]any, len(cfg.Attributes))
		for key, value := range cfg.Attributes {
			copied.Attributes[key] = value
		}
	}

	return copied
}

// HasFileId reports whether the id is bound to any file name. Negative ids
// mark files registered for exclusion and count as present.
func (cfg *StudyConfiguration) HasFileId(fileId int64) bool {
	return mapHasId(cfg.FileIds, fileId) || mapHasId(cfg.FileIds, -fileId)
}

func (cfg *StudyConfiguration) HasSampleId(sampleId int64) bool {
	return mapHasId(cfg.SampleIds, sampleId)
}

func (cfg *StudyConfiguration) HasCohortId(cohortId int64) bool {
	return mapHasId(cfg.CohortIds, cohortId)
}

func (cfg *StudyConfiguration) IsIndexed(fileId int64) bool {
	return slices.Contains(cfg.IndexedFiles, fileId)
}

// FileName returns the name bound to a file id, if any.
func (cfg *StudyConfiguration) FileName(fileId int64) (string, bool) {
	for name, id := range cfg.FileIds {
		if id == fileId {
			return name, true
		}
	}
	return "", false
}

func copyIdMap(m map[string]int64) map[string]int64 {
	copied := make(map[string]int64, len(m))
	for name, id := range m {
		copied[name] = id
	}
	return copied
}

func copyIdListMap(m map[int64][]int64) map[int64][]int64 {
	copied := make(map[int64][]int64, len(m))
	for key, ids := range m {
		copied[key] = slices.Clone(ids)
	}
	return copied
}

func mapHasId(m map[string]int64, id int64) bool {
	for _, existing := range m {
		if existing == id {
			return true
		}
	}
	return false
}

func maxMapId(m map[string]int64) int64 {
	var max int64
	for _, id := range m {
		if id > max {
			max = id
		}
	}
	return max
}
