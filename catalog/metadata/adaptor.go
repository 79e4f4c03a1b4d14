package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"genome_catalog/catalog/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Adaptor is the persistence seam for study configuration documents and the
// study scoped advisory lock. Implementations must give LockStudy mutual
// exclusion across every process sharing the same backend, and reads must
// observe any write that completed before the call returned.
type Adaptor interface {
	// GetStudyConfiguration returns the document, or fresh == false with a
	// nil document when the caller's cached timestamp is still current.
	GetStudyConfiguration(studyId int64, cachedTimestamp int64) (*StudyConfiguration, bool, error)
	GetStudyConfigurationByName(name string, cachedTimestamp int64) (*StudyConfiguration, bool, error)
	UpdateStudyConfiguration(cfg *StudyConfiguration) error

	// LockStudy acquires a lease on the study for the given duration,
	// failing with ErrLockTimeout after timeout.
	LockStudy(studyId int64, duration, timeout time.Duration) (string, error)
	// UnlockStudy releases the lease. Expired or foreign tokens release
	// nothing and do not error.
	UnlockStudy(studyId int64, token string) error

	// Studies returns the known study names mapped to their ids.
	Studies() (map[string]int64, error)
}

const lockPollInterval = 100 * time.Millisecond

type gormAdaptor struct {
	db *gorm.DB
}

func NewGormAdaptor(db *gorm.DB) Adaptor {
	return &gormAdaptor{db: db}
}

func (a *gormAdaptor) GetStudyConfiguration(studyId int64, cachedTimestamp int64) (*StudyConfiguration, bool, error) {
	var record schema.StudyConfigurationRecord
	result := a.db.First(&record, "study_id = ?", studyId)
	return a.parseRecord(record, result, cachedTimestamp)
}

func (a *gormAdaptor) GetStudyConfigurationByName(name string, cachedTimestamp int64) (*StudyConfiguration, bool, error) {
	var record schema.StudyConfigurationRecord
	result := a.db.First(&record, "name = ?", name)
	return a.parseRecord(record, result, cachedTimestamp)
}

func (a *gormAdaptor) parseRecord(record schema.StudyConfigurationRecord, result *gorm.DB, cachedTimestamp int64) (*StudyConfiguration, bool, error) {
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, false, ErrStudyConfigurationNotFound
		}
		slog.Error("sql error in get study configuration", "error", result.Error)
		return nil, false, schema.ErrDbAccessFailed
	}

	if cachedTimestamp > 0 && record.Timestamp == cachedTimestamp {
		return nil, false, nil
	}

	var cfg StudyConfiguration
	if err := json.Unmarshal([]byte(record.Document), &cfg); err != nil {
		return nil, false, fmt.Errorf("error parsing study configuration document: %w", err)
	}
	return &cfg, true, nil
}

func (a *gormAdaptor) UpdateStudyConfiguration(cfg *StudyConfiguration) error {
	document, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error serializing study configuration document: %w", err)
	}

	record := schema.StudyConfigurationRecord{
		StudyId:   cfg.StudyId,
		Name:      cfg.StudyName,
		Timestamp: cfg.TimeStamp,
		Document:  string(document),
	}
	result := a.db.Save(&record)
	if result.Error != nil {
		slog.Error("sql error in update study configuration", "study_id", cfg.StudyId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func (a *gormAdaptor) LockStudy(studyId int64, duration, timeout time.Duration) (string, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(timeout)

	for {
		acquired, err := a.tryLock(studyId, token, duration)
		if err != nil {
			return "", err
		}
		if acquired {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
}

func (a *gormAdaptor) tryLock(studyId int64, token string, duration time.Duration) (bool, error) {
	now := time.Now()

	// Take over an expired lease first. The guarded update is atomic; only
	// one contender can move the expiry forward.
	result := a.db.Model(&schema.StudyLock{}).
		Where("study_id = ? AND expires_at <= ?", studyId, now).
		Updates(map[string]interface{}{"token": token, "expires_at": now.Add(duration)})
	if result.Error != nil {
		slog.Error("sql error claiming study lock", "study_id", studyId, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	// No expired lease. Insert a new one; losing the insert race means
	// another holder got there first.
	lock := schema.StudyLock{StudyId: studyId, Token: token, ExpiresAt: now.Add(duration)}
	result = a.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if result.Error != nil {
		slog.Error("sql error inserting study lock", "study_id", studyId, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	return result.RowsAffected == 1, nil
}

func (a *gormAdaptor) UnlockStudy(studyId int64, token string) error {
	result := a.db.Where("study_id = ? AND token = ?", studyId, token).Delete(&schema.StudyLock{})
	if result.Error != nil {
		slog.Error("sql error releasing study lock", "study_id", studyId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	// Zero rows deleted means the lease expired and was taken over, or the
	// token never held it. Releasing is idempotent either way.
	return nil
}

func (a *gormAdaptor) Studies() (map[string]int64, error) {
	var records []schema.StudyConfigurationRecord
	result := a.db.Select("study_id, name").Find(&records)
	if result.Error != nil {
		slog.Error("sql error listing study configurations", "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	studies := make(map[string]int64, len(records))
	for _, record := range records {
		studies[record.Name] = record.StudyId
	}
	return studies, nil
}
