package metadata

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"genome_catalog/utils/logging"
)

// AddBatchOperation admits a batch operation into the study. Every prior
// operation is inspected:
//
//   - READY operations never block.
//   - A RUNNING or DONE operation blocks unless resume is set. The same
//     operation fails with CurrentOperationError; a different one is
//     arbitrated by allowConcurrent.
//   - With resume set, RUNNING and DONE are treated like ERROR.
//   - An ERROR operation for the same (name, files, type) is reused and
//     re-enters RUNNING. A different one is arbitrated by allowConcurrent.
//
// The returned operation points into cfg.Batches. Callers must hold the
// study lock.
func AddBatchOperation(cfg *StudyConfiguration, name string, fileIds []int64, resume bool,
	opType OperationType, allowConcurrent func(op *BatchOperation) bool) (*BatchOperation, error) {

	resumeIndex := -1
	for i := range cfg.Batches {
		op := &cfg.Batches[i]

		switch status := op.CurrentStatus(); status {
		case StatusReady:
			// Never started, ignore.
		case StatusDone, StatusRunning:
			if !resume {
				if op.same(name, fileIds, opType) {
					return nil, &CurrentOperationError{Operation: *op}
				}
				if allowConcurrent != nil && allowConcurrent(op) {
					continue
				}
				return nil, &OtherOperationError{Operation: *op, Requested: name}
			}
			fallthrough
		case StatusError:
			if !op.same(name, fileIds, opType) {
				if allowConcurrent != nil && allowConcurrent(op) {
					continue
				}
				return nil, &OtherOperationError{Operation: *op, Requested: name}
			}
			slog.Info("resuming batch operation", "operation", op.Name, "files", op.FileIds, "code", logging.CATALOG_CONFIG)
			resumeIndex = i
		default:
			return nil, fmt.Errorf("unknown operation status '%v'", status)
		}
	}

	var operation *BatchOperation
	if resumeIndex >= 0 {
		operation = &cfg.Batches[resumeIndex]
	} else {
		cfg.Batches = append(cfg.Batches, BatchOperation{
			Name:      name,
			FileIds:   slices.Clone(fileIds),
			Timestamp: time.Now().UnixMilli(),
			Type:      opType,
		})
		operation = &cfg.Batches[len(cfg.Batches)-1]
	}

	if operation.CurrentStatus() != StatusDone {
		operation.AddStatus(StatusRunning)
	}
	return operation, nil
}

// GetOperation returns the most recent batch operation matching the name and
// file set, or nil. The operation type is not compared.
func GetOperation(cfg *StudyConfiguration, name string, fileIds []int64) *BatchOperation {
	for i := len(cfg.Batches) - 1; i >= 0; i-- {
		op := &cfg.Batches[i]
		if op.Name == name && slices.Equal(op.FileIds, fileIds) {
			return op
		}
	}
	return nil
}

// SetStatus stamps a new status on an existing batch operation and returns
// the status it replaced.
func SetStatus(cfg *StudyConfiguration, status OperationStatus, name string, fileIds []int64) (OperationStatus, error) {
	operation := GetOperation(cfg, name, fileIds)
	if operation == nil {
		return "", fmt.Errorf("batch operation '%v' for files %v not found", name, fileIds)
	}
	previous := operation.CurrentStatus()
	operation.AddStatus(status)
	return previous, nil
}
