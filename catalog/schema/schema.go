package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Reserved principals. Group members are always written with a leading '@'
// to distinguish them from user ids.
const (
	AdminUser     = "admin"
	AnonymousUser = "anonymous"
	AllMembers    = "*"
)

type User struct {
	Id string `gorm:"primaryKey;size:64"`

	Name     string `gorm:"size:128;not null"`
	Email    string `gorm:"unique;size:254;not null"`
	Password []byte

	CreationDate time.Time
	Status       string `gorm:"size:32;not null;default:'READY'"`

	Projects []Project `gorm:"foreignKey:OwnerId;constraint:OnDelete:CASCADE"`
}

type Project struct {
	Id int64 `gorm:"primaryKey;autoIncrement:false"`

	Name  string `gorm:"size:255;not null"`
	Alias string `gorm:"size:64;not null;uniqueIndex:idx_project_owner_alias"`

	OwnerId string `gorm:"size:64;not null;uniqueIndex:idx_project_owner_alias"`
	Owner   *User

	Description  string
	CreationDate time.Time
	Status       string `gorm:"size:32;not null;default:'READY'"`

	Studies []Study `gorm:"constraint:OnDelete:CASCADE"`
}

type Study struct {
	Id int64 `gorm:"primaryKey;autoIncrement:false"`

	Name  string `gorm:"size:255;not null"`
	Alias string `gorm:"size:64;not null;uniqueIndex:idx_study_project_alias"`

	ProjectId int64 `gorm:"not null;uniqueIndex:idx_study_project_alias"`
	Project   *Project

	Description  string
	CreationDate time.Time
	Status       string `gorm:"size:32;not null;default:'READY'"`

	Groups []Group `gorm:"constraint:OnDelete:CASCADE"`
}

// Fqn is the fully qualified study name, e.g. "owner@project:study". It is
// the key under which the study configuration is cached by name.
func (s *Study) Fqn(ownerId, projectAlias string) string {
	return fmt.Sprintf("%v@%v:%v", ownerId, projectAlias, s.Alias)
}

// Group names are stored with the leading '@' so that they can be compared
// directly against acl members.
type Group struct {
	StudyId int64  `gorm:"primaryKey;autoIncrement:false"`
	Name    string `gorm:"primaryKey;size:64"`

	Members []GroupMember `gorm:"foreignKey:StudyId,GroupName;references:StudyId,Name;constraint:OnDelete:CASCADE"`
}

type GroupMember struct {
	StudyId   int64  `gorm:"primaryKey;autoIncrement:false"`
	GroupName string `gorm:"primaryKey;size:64"`
	UserId    string `gorm:"primaryKey;size:64"`
}

const (
	FileTypeFile      = "FILE"
	FileTypeDirectory = "DIRECTORY"
)

// File rows represent both files and folders. Folder paths always end with
// '/', the study root is the empty path "".
type File struct {
	Id int64 `gorm:"primaryKey;autoIncrement:false"`

	Name string `gorm:"size:255;not null"`
	Path string `gorm:"size:1024;not null;uniqueIndex:idx_file_study_path"`
	Type string `gorm:"size:32;not null;default:'FILE'"`

	StudyId int64  `gorm:"not null;uniqueIndex:idx_file_study_path"`
	Study   *Study `gorm:"constraint:OnDelete:CASCADE"`

	Format      string `gorm:"size:64"`
	Bioformat   string `gorm:"size:64"`
	Description string
	Size        int64
	ExternalUri string `gorm:"size:1024"`

	Samples []FileSample `gorm:"constraint:OnDelete:CASCADE"`

	CreationDate time.Time
	Status       string `gorm:"size:32;not null;default:'READY'"`
}

type FileSample struct {
	FileId   int64 `gorm:"primaryKey;autoIncrement:false"`
	SampleId int64 `gorm:"primaryKey;autoIncrement:false"`
}

type Sample struct {
	Id int64 `gorm:"primaryKey;autoIncrement:false"`

	Name string `gorm:"size:255;not null;uniqueIndex:idx_sample_study_name"`

	StudyId int64  `gorm:"not null;uniqueIndex:idx_sample_study_name"`
	Study   *Study `gorm:"constraint:OnDelete:CASCADE"`

	Source       string `gorm:"size:255"`
	Description  string
	IndividualId *int64

	Annotations string

	CreationDate time.Time
	Status       string `gorm:"size:32;not null;default:'READY'"`
}

type Individual struct {
	Id int64 `gorm:"primaryKey;autoIncrement:false"`

	Name string `gorm:"size:255;not null;uniqueIndex:idx_individual_study_name"`

	StudyId int64  `gorm:"not null;uniqueIndex:idx_individual_study_name"`
	Study   *Study `gorm:"constraint:OnDelete:CASCADE"`

	FatherId *int64
	MotherId *int64
	Sex      string `gorm:"size:32"`

	Annotations string

	CreationDate time.Time
	Status       string `gorm:"size:32;not null;default:'READY'"`
}

type Cohort struct {
	Id int64 `gorm:"primaryKey;autoIncrement:false"`

	Name string `gorm:"size:255;not null;uniqueIndex:idx_cohort_study_name"`

	StudyId int64  `gorm:"not null;uniqueIndex:idx_cohort_study_name"`
	Study   *Study `gorm:"constraint:OnDelete:CASCADE"`

	Type        string `gorm:"size:64"`
	Description string

	Samples []CohortSample `gorm:"constraint:OnDelete:CASCADE"`

	Annotations string

	CreationDate time.Time
	Status       string `gorm:"size:32;not null;default:'READY'"`
}

type CohortSample struct {
	CohortId int64 `gorm:"primaryKey;autoIncrement:false"`
	SampleId int64 `gorm:"primaryKey;autoIncrement:false"`
}

type Dataset struct {
	Id int64 `gorm:"primaryKey;autoIncrement:false"`

	Name string `gorm:"size:255;not null;uniqueIndex:idx_dataset_study_name"`

	StudyId int64  `gorm:"not null;uniqueIndex:idx_dataset_study_name"`
	Study   *Study `gorm:"constraint:OnDelete:CASCADE"`

	Description string

	Files []DatasetFile `gorm:"constraint:OnDelete:CASCADE"`

	CreationDate time.Time
	Status       string `gorm:"size:32;not null;default:'READY'"`
}

type DatasetFile struct {
	DatasetId int64 `gorm:"primaryKey;autoIncrement:false"`
	FileId    int64 `gorm:"primaryKey;autoIncrement:false"`
}

type Panel struct {
	Id int64 `gorm:"primaryKey;autoIncrement:false"`

	Name string `gorm:"size:255;not null;uniqueIndex:idx_panel_study_name"`

	StudyId int64  `gorm:"not null;uniqueIndex:idx_panel_study_name"`
	Study   *Study `gorm:"constraint:OnDelete:CASCADE"`

	Disease     string `gorm:"size:255"`
	Description string

	// ';' separated lists, following the convention used for job file lists.
	Genes    string
	Regions  string
	Variants string

	CreationDate time.Time
	Status       string `gorm:"size:32;not null;default:'READY'"`
}

type Job struct {
	Id int64 `gorm:"primaryKey;autoIncrement:false"`

	Name     string `gorm:"size:255;not null"`
	ToolName string `gorm:"size:255;not null"`

	StudyId int64  `gorm:"not null;index"`
	Study   *Study `gorm:"constraint:OnDelete:CASCADE"`

	UserId string `gorm:"size:64;not null"`
	User   *User

	Description string
	CommandLine string
	OutDir      string `gorm:"size:1024"`
	OutDirId    *int64
	Queue       string `gorm:"size:64"`

	Visited bool `gorm:"not null;default:false"`

	CreationDate    time.Time
	EndDate         *time.Time
	Status          string `gorm:"size:32;not null;default:'READY'"`
	ExecutionStatus string `gorm:"size:32;not null;default:'PREPARED'"`
}

// SchedulerName is the job name handed to the batch scheduler. Status probes
// match on it, so it must be unique per job. The sanitization must stay in
// step with the scheduler driver's job naming.
func (j *Job) SchedulerName() string {
	return fmt.Sprintf("%v_%v", strings.ReplaceAll(j.ToolName, " ", "_"), j.Id)
}

// Daemon acls gate the reserved "admin" principal. They are global, not
// study scoped: the daemon either operates on every study or none.
type DaemonAcl struct {
	Member      string `gorm:"primaryKey;size:64"`
	Permissions string
}

// AnnotationSet is the JSON shape stored in the Annotations column of
// samples, individuals and cohorts.
type AnnotationSet struct {
	Name          string                 `json:"name"`
	VariableSetId int64                  `json:"variableSetId"`
	Annotations   map[string]interface{} `json:"annotations"`
}

func ParseAnnotationSets(column string) ([]AnnotationSet, error) {
	if column == "" {
		return nil, nil
	}
	var sets []AnnotationSet
	if err := json.Unmarshal([]byte(column), &sets); err != nil {
		return nil, fmt.Errorf("error parsing annotation sets: %w", err)
	}
	return sets, nil
}

func FormatAnnotationSets(sets []AnnotationSet) (string, error) {
	if len(sets) == 0 {
		return "", nil
	}
	data, err := json.Marshal(sets)
	if err != nil {
		return "", fmt.Errorf("error serializing annotation sets: %w", err)
	}
	return string(data), nil
}

// StudyConfigurationRecord persists the study configuration document as a
// single row. Name is the fully qualified study name, under which the
// manager caches the document alongside its numeric id.
type StudyConfigurationRecord struct {
	StudyId int64 `gorm:"primaryKey;autoIncrement:false"`

	Name      string `gorm:"size:255;not null;uniqueIndex"`
	Timestamp int64  `gorm:"not null"`
	Document  string
}

// StudyLock is a lease row providing the study scoped advisory lock. A lock
// is free when the token is empty or the lease has expired.
type StudyLock struct {
	StudyId int64 `gorm:"primaryKey;autoIncrement:false"`

	Token     string `gorm:"size:64"`
	ExpiresAt time.Time
}

// IdCounter is a single row table from which all entity ids are allocated.
// It is seeded at the configured offset, so the first id handed out is
// offset+1.
type IdCounter struct {
	Id     int   `gorm:"primaryKey;autoIncrement:false"`
	NextId int64 `gorm:"not null"`
}
