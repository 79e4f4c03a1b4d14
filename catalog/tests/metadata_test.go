package tests

import (
	"errors"
	"testing"
	"time"

	"genome_catalog/catalog/metadata"
)

func TestBatchOperationLifecycle(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	studyId, err := newStudy(owner, "batches")
	if err != nil {
		t.Fatal(err)
	}

	fileIds := []int64{1101, 1102}

	// Admission stamps the operation RUNNING under the study lock.
	cfg, err := env.meta.LockAndUpdate(studyId, func(cfg *metadata.StudyConfiguration) error {
		op, err := metadata.AddBatchOperation(cfg, "variant_load", fileIds, false, metadata.OperationLoad, nil)
		if err != nil {
			return err
		}
		if op.CurrentStatus() != metadata.StatusRunning {
			t.Fatalf("expected RUNNING, got %v", op.CurrentStatus())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Batches) != 1 {
		t.Fatalf("expected 1 batch operation, got %v", len(cfg.Batches))
	}

	// Submitting the same operation again without resume is a conflict.
	_, err = env.meta.LockAndUpdate(studyId, func(cfg *metadata.StudyConfiguration) error {
		_, err := metadata.AddBatchOperation(cfg, "variant_load", fileIds, false, metadata.OperationLoad, nil)
		return err
	})
	var current *metadata.CurrentOperationError
	if !errors.As(err, &current) || !metadata.IsConflict(err) {
		t.Fatalf("expected a current operation conflict, got %v", err)
	}
	if current.Operation.CurrentStatus() != metadata.StatusRunning {
		t.Fatalf("unexpected conflicting operation %+v", current.Operation)
	}

	// A different operation is blocked too, unless the caller's predicate
	// allows the overlap.
	_, err = env.meta.LockAndUpdate(studyId, func(cfg *metadata.StudyConfiguration) error {
		_, err := metadata.AddBatchOperation(cfg, "annotate", nil, false, metadata.OperationOther, nil)
		return err
	})
	var other *metadata.OtherOperationError
	if !errors.As(err, &other) {
		t.Fatalf("expected an other operation conflict, got %v", err)
	}
	_, err = env.meta.LockAndUpdate(studyId, func(cfg *metadata.StudyConfiguration) error {
		_, err := metadata.AddBatchOperation(cfg, "annotate", nil, false, metadata.OperationOther,
			func(op *metadata.BatchOperation) bool { return op.Type == metadata.OperationLoad })
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	// A failed operation is reused by the next admission, resume or not.
	previous, err := env.meta.AtomicSetStatus(studyId, metadata.StatusError, "variant_load", fileIds)
	if err != nil {
		t.Fatal(err)
	}
	if previous != metadata.StatusRunning {
		t.Fatalf("expected previous status RUNNING, got %v", previous)
	}

	cfg, err = env.meta.LockAndUpdate(studyId, func(cfg *metadata.StudyConfiguration) error {
		op, err := metadata.AddBatchOperation(cfg, "variant_load", fileIds, false, metadata.OperationLoad,
			func(op *metadata.BatchOperation) bool { return true })
		if err != nil {
			return err
		}
		if op.CurrentStatus() != metadata.StatusRunning {
			t.Fatalf("expected the failed operation to re-enter RUNNING, got %v", op.CurrentStatus())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Batches) != 2 {
		t.Fatalf("expected the operation to be reused, got %v batches", len(cfg.Batches))
	}

	// Once DONE the operation blocks repeats; resuming returns it as is
	// instead of running it again.
	if _, err := env.meta.AtomicSetStatus(studyId, metadata.StatusDone, "variant_load", fileIds); err != nil {
		t.Fatal(err)
	}
	_, err = env.meta.LockAndUpdate(studyId, func(cfg *metadata.StudyConfiguration) error {
		_, err := metadata.AddBatchOperation(cfg, "variant_load", fileIds, false, metadata.OperationLoad,
			func(op *metadata.BatchOperation) bool { return true })
		return err
	})
	if !errors.As(err, &current) {
		t.Fatalf("expected a conflict on the finished operation, got %v", err)
	}

	_, err = env.meta.LockAndUpdate(studyId, func(cfg *metadata.StudyConfiguration) error {
		op, err := metadata.AddBatchOperation(cfg, "variant_load", fileIds, true, metadata.OperationLoad,
			func(op *metadata.BatchOperation) bool { return true })
		if err != nil {
			return err
		}
		if op.CurrentStatus() != metadata.StatusDone {
			t.Fatalf("expected a resumed finished operation to stay DONE, got %v", op.CurrentStatus())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStudyLockExclusivity(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	studyId, err := newStudy(owner, "locks")
	if err != nil {
		t.Fatal(err)
	}

	token, err := env.meta.LockStudy(studyId, 10*time.Second, 0)
	if err != nil {
		t.Fatal(err)
	}

	// A second contender cannot take the lock while the lease is live.
	if _, err := env.meta.LockStudy(studyId, 10*time.Second, 0); !errors.Is(err, metadata.ErrLockTimeout) {
		t.Fatalf("expected a lock timeout, got %v", err)
	}

	// Releasing with a foreign token frees nothing.
	if err := env.meta.UnlockStudy(studyId, "not-the-token"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.meta.LockStudy(studyId, 10*time.Second, 0); !errors.Is(err, metadata.ErrLockTimeout) {
		t.Fatalf("expected the lock to still be held, got %v", err)
	}

	// Locks are per study.
	otherId, err := newStudy(owner, "otherlocks")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.meta.LockStudy(otherId, 10*time.Second, 0); err != nil {
		t.Fatal(err)
	}

	if err := env.meta.UnlockStudy(studyId, token); err != nil {
		t.Fatal(err)
	}
	token, err = env.meta.LockStudy(studyId, 50*time.Millisecond, 0)
	if err != nil {
		t.Fatal(err)
	}

	// An expired lease is taken over by the next contender, after which the
	// stale holder's release is a no-op.
	takeover, err := env.meta.LockStudy(studyId, 10*time.Second, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.meta.UnlockStudy(studyId, token); err != nil {
		t.Fatal(err)
	}
	if _, err := env.meta.LockStudy(studyId, 10*time.Second, 0); !errors.Is(err, metadata.ErrLockTimeout) {
		t.Fatalf("expected the new lease to hold, got %v", err)
	}

	if err := env.meta.UnlockStudy(studyId, takeover); err != nil {
		t.Fatal(err)
	}
	if _, err := env.meta.LockStudy(studyId, 10*time.Second, 0); err != nil {
		t.Fatal(err)
	}
}

func TestStudyConfigurationDocument(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	studyId, err := newStudy(owner, "config")
	if err != nil {
		t.Fatal(err)
	}

	// The document is seeded at study creation under the fully qualified
	// study name.
	cfg, err := env.meta.GetStudyConfiguration(studyId, metadata.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StudyId != studyId || cfg.StudyName != "owner@config_project:config" {
		t.Fatalf("unexpected configuration %+v", cfg)
	}

	byName, err := env.meta.GetStudyConfigurationByName("owner@config_project:config", metadata.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if byName.StudyId != studyId {
		t.Fatalf("unexpected configuration %+v", byName)
	}

	studies, err := env.meta.Studies()
	if err != nil {
		t.Fatal(err)
	}
	if studies["owner@config_project:config"] != studyId {
		t.Fatalf("unexpected studies %v", studies)
	}

	// Readers get copies: mutating one does not leak into the cache.
	cfg.SampleIds["NA12878"] = 42
	fresh, err := env.meta.GetStudyConfiguration(studyId, metadata.GetOptions{Cached: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fresh.SampleIds["NA12878"]; ok {
		t.Fatal("cached document was mutated through a read copy")
	}

	// Updates bump the timestamp and survive a reload.
	updated, err := env.meta.LockAndUpdate(studyId, func(cfg *metadata.StudyConfiguration) error {
		cfg.SampleIds["NA12878"] = 42
		cfg.IndexedFiles = append(cfg.IndexedFiles, 7)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.TimeStamp <= 0 || updated.SampleIds["NA12878"] != 42 {
		t.Fatalf("unexpected updated configuration %+v", updated)
	}

	reloaded, err := env.meta.GetStudyConfiguration(studyId, metadata.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.SampleIds["NA12878"] != 42 || !reloaded.IsIndexed(7) {
		t.Fatalf("unexpected reloaded configuration %+v", reloaded)
	}
	if reloaded.TimeStamp != updated.TimeStamp {
		t.Fatalf("timestamps diverged: %v vs %v", reloaded.TimeStamp, updated.TimeStamp)
	}

	if _, err := env.meta.GetStudyConfiguration(99999999, metadata.GetOptions{}); !errors.Is(err, metadata.ErrStudyConfigurationNotFound) {
		t.Fatalf("expected a configuration not found error, got %v", err)
	}
}
