package schema

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrProjectNotFound    = errors.New("project not found")
	ErrStudyNotFound      = errors.New("study not found")
	ErrGroupNotFound      = errors.New("group not found")
	ErrFileNotFound       = errors.New("file not found")
	ErrSampleNotFound     = errors.New("sample not found")
	ErrIndividualNotFound = errors.New("individual not found")
	ErrCohortNotFound     = errors.New("cohort not found")
	ErrDatasetNotFound    = errors.New("dataset not found")
	ErrPanelNotFound      = errors.New("panel not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrAclNotFound        = errors.New("acl entry not found")
	ErrDbAccessFailed     = errors.New("db access failed")
)

// NotFoundError returns the sentinel used when a lookup for the given kind
// misses, so that callers dispatching on EntityKind report the right entity.
func NotFoundError(kind EntityKind) error {
	switch kind {
	case KindProject:
		return ErrProjectNotFound
	case KindStudy:
		return ErrStudyNotFound
	case KindFile:
		return ErrFileNotFound
	case KindSample:
		return ErrSampleNotFound
	case KindIndividual:
		return ErrIndividualNotFound
	case KindCohort:
		return ErrCohortNotFound
	case KindDataset:
		return ErrDatasetNotFound
	case KindPanel:
		return ErrPanelNotFound
	case KindJob:
		return ErrJobNotFound
	default:
		return fmt.Errorf("unknown entity kind '%v'", kind)
	}
}

func GetUser(userId string, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetProject(projectId int64, db *gorm.DB) (Project, error) {
	var project Project

	result := db.First(&project, "id = ?", projectId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return project, ErrProjectNotFound
		}
		slog.Error("sql error in get project", "project_id", projectId, "error", result.Error)
		return project, ErrDbAccessFailed
	}

	return project, nil
}

func GetStudy(studyId int64, db *gorm.DB) (Study, error) {
	var study Study

	result := db.First(&study, "id = ?", studyId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return study, ErrStudyNotFound
		}
		slog.Error("sql error in get study", "study_id", studyId, "error", result.Error)
		return study, ErrDbAccessFailed
	}

	return study, nil
}

// GetStudyOwner returns the id of the user owning the project that contains
// the study. The owner bypasses every acl check within the study.
func GetStudyOwner(studyId int64, db *gorm.DB) (string, error) {
	study, err := GetStudy(studyId, db)
	if err != nil {
		return "", err
	}

	project, err := GetProject(study.ProjectId, db)
	if err != nil {
		return "", err
	}

	return project.OwnerId, nil
}

func GetGroup(studyId int64, name string, db *gorm.DB) (Group, error) {
	var group Group

	result := db.Preload("Members").First(&group, "study_id = ? and name = ?", studyId, name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return group, ErrGroupNotFound
		}
		slog.Error("sql error in get group", "study_id", studyId, "group", name, "error", result.Error)
		return group, ErrDbAccessFailed
	}

	return group, nil
}

// GetUserGroup returns the name of the group the user belongs to within the
// study. Users belong to at most one group per study; membership in a second
// group is rejected at creation time.
func GetUserGroup(studyId int64, userId string, db *gorm.DB) (string, error) {
	var member GroupMember

	result := db.First(&member, "study_id = ? and user_id = ?", studyId, userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", ErrGroupNotFound
		}
		slog.Error("sql error in get user group", "study_id", studyId, "user_id", userId, "error", result.Error)
		return "", ErrDbAccessFailed
	}

	return member.GroupName, nil
}

func GetFile(fileId int64, db *gorm.DB) (File, error) {
	var file File

	result := db.First(&file, "id = ?", fileId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return file, ErrFileNotFound
		}
		slog.Error("sql error in get file", "file_id", fileId, "error", result.Error)
		return file, ErrDbAccessFailed
	}

	return file, nil
}

func GetSample(sampleId int64, db *gorm.DB) (Sample, error) {
	var sample Sample

	result := db.First(&sample, "id = ?", sampleId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return sample, ErrSampleNotFound
		}
		slog.Error("sql error in get sample", "sample_id", sampleId, "error", result.Error)
		return sample, ErrDbAccessFailed
	}

	return sample, nil
}

func GetIndividual(individualId int64, db *gorm.DB) (Individual, error) {
	var individual Individual

	result := db.First(&individual, "id = ?", individualId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return individual, ErrIndividualNotFound
		}
		slog.Error("sql error in get individual", "individual_id", individualId, "error", result.Error)
		return individual, ErrDbAccessFailed
	}

	return individual, nil
}

func GetCohort(cohortId int64, db *gorm.DB) (Cohort, error) {
	var cohort Cohort

	result := db.Preload("Samples").First(&cohort, "id = ?", cohortId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return cohort, ErrCohortNotFound
		}
		slog.Error("sql error in get cohort", "cohort_id", cohortId, "error", result.Error)
		return cohort, ErrDbAccessFailed
	}

	return cohort, nil
}

func GetDataset(datasetId int64, db *gorm.DB) (Dataset, error) {
	var dataset Dataset

	result := db.Preload("Files").First(&dataset, "id = ?", datasetId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return dataset, ErrDatasetNotFound
		}
		slog.Error("sql error in get dataset", "dataset_id", datasetId, "error", result.Error)
		return dataset, ErrDbAccessFailed
	}

	return dataset, nil
}

func GetPanel(panelId int64, db *gorm.DB) (Panel, error) {
	var panel Panel

	result := db.First(&panel, "id = ?", panelId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return panel, ErrPanelNotFound
		}
		slog.Error("sql error in get panel", "panel_id", panelId, "error", result.Error)
		return panel, ErrDbAccessFailed
	}

	return panel, nil
}

func GetJob(jobId int64, db *gorm.DB) (Job, error) {
	var job Job

	result := db.First(&job, "id = ?", jobId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return job, ErrJobNotFound
		}
		slog.Error("sql error in get job", "job_id", jobId, "error", result.Error)
		return job, ErrDbAccessFailed
	}

	return job, nil
}

// GetEntityStudyId resolves the study that owns an entity. Studies resolve
// to themselves; projects have no enclosing study.
func GetEntityStudyId(kind EntityKind, entityId int64, db *gorm.DB) (int64, error) {
	switch kind {
	case KindStudy:
		study, err := GetStudy(entityId, db)
		if err != nil {
			return 0, err
		}
		return study.Id, nil
	case KindFile:
		file, err := GetFile(entityId, db)
		if err != nil {
			return 0, err
		}
		return file.StudyId, nil
	case KindSample:
		sample, err := GetSample(entityId, db)
		if err != nil {
			return 0, err
		}
		return sample.StudyId, nil
	case KindIndividual:
		individual, err := GetIndividual(entityId, db)
		if err != nil {
			return 0, err
		}
		return individual.StudyId, nil
	case KindCohort:
		cohort, err := GetCohort(entityId, db)
		if err != nil {
			return 0, err
		}
		return cohort.StudyId, nil
	case KindDataset:
		dataset, err := GetDataset(entityId, db)
		if err != nil {
			return 0, err
		}
		return dataset.StudyId, nil
	case KindPanel:
		panel, err := GetPanel(entityId, db)
		if err != nil {
			return 0, err
		}
		return panel.StudyId, nil
	case KindJob:
		job, err := GetJob(entityId, db)
		if err != nil {
			return 0, err
		}
		return job.StudyId, nil
	default:
		return 0, fmt.Errorf("entity kind '%v' is not owned by a study", kind)
	}
}
