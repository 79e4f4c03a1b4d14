package schema

// Entity lifecycle statuses. Soft deletion moves READY -> TRASHED -> DELETED,
// hard deletion goes through PENDING_DELETE. INVALID is set automatically
// when a referenced member changes underneath an entity. STAGE, MISSING and
// REMOVED apply to files only.
const (
	StatusReady         = "READY"
	StatusTrashed       = "TRASHED"
	StatusPendingDelete = "PENDING_DELETE"
	StatusDeleted       = "DELETED"
	StatusInvalid       = "INVALID"

	FileStatusStage   = "STAGE"
	FileStatusMissing = "MISSING"
	FileStatusRemoved = "REMOVED"
)

// Job execution statuses, synced from the batch scheduler. PREPARED means
// the job row exists but was never handed to the scheduler.
const (
	ExecStatusPrepared = "PREPARED"
	ExecStatusQueued   = "QUEUED"
	ExecStatusRunning  = "RUNNING"
	ExecStatusDone     = "DONE"
	ExecStatusError    = "ERROR"
)

type EntityKind string

const (
	KindProject    EntityKind = "project"
	KindStudy      EntityKind = "study"
	KindFile       EntityKind = "file"
	KindSample     EntityKind = "sample"
	KindIndividual EntityKind = "individual"
	KindCohort     EntityKind = "cohort"
	KindDataset    EntityKind = "dataset"
	KindPanel      EntityKind = "panel"
	KindJob        EntityKind = "job"
)
