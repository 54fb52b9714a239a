package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/edupay/feeledger/core/operation"
)

type operationRepository struct {
	db *DB
}

var _ operation.Repository = (*operationRepository)(nil) // interface compliance check

func NewOperationRepository(db *DB) operation.Repository {
	return &operationRepository{db: db}
}

func copyOperation(op operation.Operation) operation.Operation {
	op.Errors = append([]string{}, op.Errors...)
	op.Summary.Errors = append([]string(nil), op.Summary.Errors...)
	op.Results = append([]operation.UnitResult{}, op.Results...)
	return op
}

func (repo *operationRepository) CreateOperation(_ context.Context, op operation.Operation) (operation.Operation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, active := range repo.db.operations {
		if !active.Status.Terminal() && active.Scope.Overlaps(op.Scope) {
			return operation.Operation{}, &operation.ScopeBusyError{Blocking: active}
		}
	}
	repo.db.operations[op.ID] = copyOperation(op)
	return op, nil
}

func (repo *operationRepository) GetOperation(_ context.Context, id string) (operation.Operation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if op, ok := repo.db.operations[id]; ok {
		return copyOperation(op), nil
	}
	return operation.Operation{}, operation.ErrNotFound
}

func (repo *operationRepository) QueryOperations(_ context.Context, filter operation.QueryFilter) ([]operation.Operation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	ops := make([]operation.Operation, 0)
	for _, op := range repo.db.operations {
		if filter.Status != "" && op.Status != filter.Status {
			continue
		}
		if filter.Type != "" && op.Type != filter.Type {
			continue
		}
		ops = append(ops, copyOperation(op))
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].CreatedAt.After(ops[j].CreatedAt) })
	if filter.Limit > 0 && len(ops) > filter.Limit {
		ops = ops[:filter.Limit]
	}
	return ops, nil
}

func (repo *operationRepository) StartOperation(_ context.Context, id string, at time.Time) (operation.Operation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	op, ok := repo.db.operations[id]
	if !ok {
		return operation.Operation{}, operation.ErrNotFound
	}
	if op.Status != operation.StatusEnqueued {
		return operation.Operation{}, operation.ErrTerminal
	}
	op.Status = operation.StatusRunning
	op.StartedAt = &at
	repo.db.operations[id] = op
	return copyOperation(op), nil
}

func (repo *operationRepository) FinishOperation(_ context.Context, op operation.Operation) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.operations[op.ID]
	if !ok {
		return operation.ErrNotFound
	}
	if stored.Status.Terminal() {
		return operation.ErrTerminal
	}
	repo.db.operations[op.ID] = copyOperation(op)
	return nil
}

func (repo *operationRepository) FailActiveOperations(_ context.Context, reason string, at time.Time) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for id, op := range repo.db.operations {
		if op.Status.Terminal() {
			continue
		}
		op.Status = operation.StatusFailed
		op.Errors = append(op.Errors, reason)
		op.Summary.Errors = append([]string{}, op.Errors...)
		finished := at
		op.FinishedAt = &finished
		if op.StartedAt != nil {
			op.DurationMS = at.Sub(*op.StartedAt).Milliseconds()
		}
		repo.db.operations[id] = op
		n++
	}
	return n, nil
}
