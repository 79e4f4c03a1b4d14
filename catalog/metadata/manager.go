package metadata

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultLockDuration = 20 * time.Second
	DefaultLockTimeout  = 10 * time.Second
)

// GetOptions controls how a study configuration read is served. Cached
// returns the in-process copy without consulting the adaptor. ReadOnly skips
// the defensive copy; callers must not mutate the result.
type GetOptions struct {
	Cached   bool
	ReadOnly bool
}

// Manager caches study configuration documents per process, keyed both by
// study id and by name. Reads are optimistic: the cached timestamp is
// presented to the adaptor, which answers "unchanged" without deserializing
// when the cache is current. All mutation goes through LockAndUpdate.
type Manager struct {
	adaptor Adaptor

	mu     sync.Mutex
	byId   map[int64]*StudyConfiguration
	byName map[string]*StudyConfiguration
}

func NewManager(adaptor Adaptor) *Manager {
	return &Manager{
		adaptor: adaptor,
		byId:    make(map[int64]*StudyConfiguration),
		byName:  make(map[string]*StudyConfiguration),
	}
}

func (m *Manager) GetStudyConfiguration(studyId int64, opts GetOptions) (*StudyConfiguration, error) {
	m.mu.Lock()
	cached := m.byId[studyId]
	m.mu.Unlock()

	if cached != nil && opts.Cached {
		return m.checkout(cached, opts), nil
	}

	var cachedTimestamp int64
	if cached != nil {
		cachedTimestamp = cached.TimeStamp
	}

	fetched, fresh, err := m.adaptor.GetStudyConfiguration(studyId, cachedTimestamp)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return m.checkout(cached, opts), nil
	}

	m.store(fetched, "")
	return m.checkout(fetched, opts), nil
}

func (m *Manager) GetStudyConfigurationByName(name string, opts GetOptions) (*StudyConfiguration, error) {
	if isNumeric(name) {
		if id, err := strconv.ParseInt(name, 10, 64); err == nil {
			return m.GetStudyConfiguration(id, opts)
		}
	}

	m.mu.Lock()
	cached := m.byName[name]
	m.mu.Unlock()

	if cached != nil && opts.Cached {
		return m.checkout(cached, opts), nil
	}

	var cachedTimestamp int64
	if cached != nil {
		cachedTimestamp = cached.TimeStamp
	}

	fetched, fresh, err := m.adaptor.GetStudyConfigurationByName(name, cachedTimestamp)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return m.checkout(cached, opts), nil
	}

	// Cache under the requested alias too when it differs from the
	// canonical name.
	m.store(fetched, name)
	return m.checkout(fetched, opts), nil
}

// UpdateStudyConfiguration stamps a new monotonic timestamp, refreshes the
// cache, and persists the document. Callers must hold the study lock.
func (m *Manager) UpdateStudyConfiguration(cfg *StudyConfiguration) error {
	now := time.Now().UnixMilli()
	if now <= cfg.TimeStamp {
		now = cfg.TimeStamp + 1
	}
	cfg.TimeStamp = now

	copied := cfg.Copy()
	m.store(copied, "")
	return m.adaptor.UpdateStudyConfiguration(copied)
}

// LockAndUpdate acquires the study lock, reads the latest document, applies
// the updater, persists the result, and releases the lock on every path.
func (m *Manager) LockAndUpdate(studyId int64, updater func(cfg *StudyConfiguration) error) (*StudyConfiguration, error) {
	token, err := m.adaptor.LockStudy(studyId, DefaultLockDuration, DefaultLockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := m.adaptor.UnlockStudy(studyId, token); err != nil {
			slog.Error("error releasing study lock", "study_id", studyId, "error", err)
		}
	}()

	cfg, err := m.GetStudyConfiguration(studyId, GetOptions{})
	if err != nil {
		return nil, err
	}

	if err := updater(cfg); err != nil {
		return nil, err
	}

	if err := m.UpdateStudyConfiguration(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) LockAndUpdateByName(name string, updater func(cfg *StudyConfiguration) error) (*StudyConfiguration, error) {
	cfg, err := m.GetStudyConfigurationByName(name, GetOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	return m.LockAndUpdate(cfg.StudyId, updater)
}

// AtomicSetStatus updates the status of a batch operation under the study
// lock and returns the status it replaced.
func (m *Manager) AtomicSetStatus(studyId int64, status OperationStatus, name string, fileIds []int64) (OperationStatus, error) {
	var previous OperationStatus
	_, err := m.LockAndUpdate(studyId, func(cfg *StudyConfiguration) error {
		prev, err := SetStatus(cfg, status, name, fileIds)
		if err != nil {
			return err
		}
		previous = prev
		return nil
	})
	return previous, err
}

// LockStudy exposes the advisory lock so acl mutations can serialize with
// configuration updates on the same study.
func (m *Manager) LockStudy(studyId int64, duration, timeout time.Duration) (string, error) {
	return m.adaptor.LockStudy(studyId, duration, timeout)
}

func (m *Manager) UnlockStudy(studyId int64, token string) error {
	return m.adaptor.UnlockStudy(studyId, token)
}

// Studies returns the known study names mapped to their ids.
func (m *Manager) Studies() (map[string]int64, error) {
	return m.adaptor.Studies()
}

func (m *Manager) checkout(cfg *StudyConfiguration, opts GetOptions) *StudyConfiguration {
	if opts.ReadOnly {
		return cfg
	}
	return cfg.Copy()
}

func (m *Manager) store(cfg *StudyConfiguration, alias string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byId[cfg.StudyId] = cfg
	m.byName[cfg.StudyName] = cfg
	if alias != "" && alias != cfg.StudyName {
		m.byName[alias] = cfg
	}
}
