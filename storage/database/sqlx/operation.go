package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/edupay/feeledger/core/operation"
)

const (
	operationColumns = `id, type, status, classroom_id, term_id, options, summary, errors, results,
		created_at, started_at, finished_at, duration_ms`

	// operationsLockID serializes the overlap check of concurrent CreateOperation calls.
	operationsLockID = 720531
)

type operationRow struct {
	ID          string         `db:"id"`
	Type        string         `db:"type"`
	Status      string         `db:"status"`
	ClassroomID null.String    `db:"classroom_id"`
	TermID      null.String    `db:"term_id"`
	Options     types.JSONText `db:"options"`
	Summary     types.JSONText `db:"summary"`
	Errors      types.JSONText `db:"errors"`
	Results     types.JSONText `db:"results"`
	CreatedAt   time.Time      `db:"created_at"`
	StartedAt   null.Time      `db:"started_at"`
	FinishedAt  null.Time      `db:"finished_at"`
	DurationMS  int64          `db:"duration_ms"`
}

func newOperationRow(op operation.Operation) (operationRow, error) {
	row := operationRow{
		ID:          op.ID,
		Type:        string(op.Type),
		Status:      string(op.Status),
		ClassroomID: null.NewString(op.Scope.ClassroomID, op.Scope.ClassroomID != ""),
		TermID:      null.NewString(op.Scope.TermID, op.Scope.TermID != ""),
		CreatedAt:   op.CreatedAt.UTC(),
		StartedAt:   null.TimeFromPtr(op.StartedAt),
		FinishedAt:  null.TimeFromPtr(op.FinishedAt),
		DurationMS:  op.DurationMS,
	}

	opErrors := op.Errors
	if opErrors == nil {
		opErrors = []string{}
	}
	results := op.Results
	if results == nil {
		results = []operation.UnitResult{}
	}

	var err error
	if row.Options, err = toJSON(op.Options); err != nil {
		return operationRow{}, err
	}
	if row.Summary, err = toJSON(op.Summary); err != nil {
		return operationRow{}, err
	}
	if row.Errors, err = toJSON(opErrors); err != nil {
		return operationRow{}, err
	}
	if row.Results, err = toJSON(results); err != nil {
		return operationRow{}, err
	}
	return row, nil
}

func (row operationRow) operation() (operation.Operation, error) {
	op := operation.Operation{
		ID:     row.ID,
		Type:   operation.Type(row.Type),
		Status: operation.Status(row.Status),
		Scope: operation.Scope{
			ClassroomID: row.ClassroomID.String,
			TermID:      row.TermID.String,
		},
		Errors:     []string{},
		Results:    []operation.UnitResult{},
		CreatedAt:  row.CreatedAt.UTC(),
		StartedAt:  row.StartedAt.Ptr(),
		FinishedAt: row.FinishedAt.Ptr(),
		DurationMS: row.DurationMS,
	}
	for _, col := range []struct {
		j types.JSONText
		v interface{}
	}{
		{row.Options, &op.Options},
		{row.Summary, &op.Summary},
		{row.Errors, &op.Errors},
		{row.Results, &op.Results},
	} {
		if err := fromJSON(col.j, col.v); err != nil {
			return operation.Operation{}, err
		}
	}
	return op, nil
}

type operationRepository struct {
	db *sqlx.DB
}

var _ operation.Repository = (*operationRepository)(nil) // interface compliance check

func NewOperationRepository(db *sqlx.DB) operation.Repository {
	return &operationRepository{db: db}
}

func (repo *operationRepository) CreateOperation(ctx context.Context, op operation.Operation) (operation.Operation, error) {
	row, err := newOperationRow(op)
	if err != nil {
		return operation.Operation{}, err
	}

	err = inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, operationsLockID); err != nil {
			return errors.Wrap(err, "acquiring operations lock")
		}

		var active []operationRow
		q := `SELECT ` + operationColumns + ` FROM fee_operations WHERE status IN ($1, $2)`
		if err := tx.SelectContext(ctx, &active, q, operation.StatusEnqueued, operation.StatusRunning); err != nil {
			return errors.Wrap(err, "selecting active operations")
		}
		for _, r := range active {
			blocking, err := r.operation()
			if err != nil {
				return err
			}
			if blocking.Scope.Overlaps(op.Scope) {
				return &operation.ScopeBusyError{Blocking: blocking}
			}
		}

		q = `INSERT INTO fee_operations (` + operationColumns + `)
			VALUES (:id, :type, :status, :classroom_id, :term_id, :options, :summary, :errors, :results,
				:created_at, :started_at, :finished_at, :duration_ms)`
		_, err := tx.NamedExecContext(ctx, q, row)
		return errors.Wrap(err, "inserting operation")
	})
	if err != nil {
		return operation.Operation{}, err
	}
	return row.operation()
}

func (repo *operationRepository) GetOperation(ctx context.Context, id string) (operation.Operation, error) {
	var row operationRow
	q := `SELECT ` + operationColumns + ` FROM fee_operations WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		return operation.Operation{}, trapNoRowsErr(err, operation.ErrNotFound, "selecting operation")
	}
	return row.operation()
}

func (repo *operationRepository) QueryOperations(ctx context.Context, filter operation.QueryFilter) ([]operation.Operation, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	q := `SELECT ` + operationColumns + ` FROM fee_operations` + where(conds) + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []operationRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting operations")
	}
	ops := make([]operation.Operation, 0, len(rows))
	for _, row := range rows {
		op, err := row.operation()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (repo *operationRepository) StartOperation(ctx context.Context, id string, at time.Time) (operation.Operation, error) {
	var row operationRow
	q := `UPDATE fee_operations SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4
		RETURNING ` + operationColumns
	err := repo.db.GetContext(ctx, &row, q, id, operation.StatusRunning, at.UTC(), operation.StatusEnqueued)
	if err == nil {
		return row.operation()
	}
	// no row updated: either unknown or no longer enqueued
	if _, getErr := repo.GetOperation(ctx, id); getErr != nil {
		return operation.Operation{}, getErr
	}
	return operation.Operation{}, trapNoRowsErr(err, operation.ErrTerminal, "starting operation")
}

func (repo *operationRepository) FinishOperation(ctx context.Context, op operation.Operation) error {
	row, err := newOperationRow(op)
	if err != nil {
		return err
	}
	q := `UPDATE fee_operations SET
			status = :status, summary = :summary, errors = :errors, results = :results,
			started_at = :started_at, finished_at = :finished_at, duration_ms = :duration_ms
		WHERE id = :id AND status IN ('enqueued', 'running')`
	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return errors.Wrap(err, "finishing operation")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, getErr := repo.GetOperation(ctx, op.ID); getErr != nil {
			return getErr
		}
		return operation.ErrTerminal
	}
	return nil
}

func (repo *operationRepository) FailActiveOperations(ctx context.Context, reason string, at time.Time) (int, error) {
	q := `UPDATE fee_operations SET
			status = $1,
			errors = errors || jsonb_build_array($2::text),
			summary = jsonb_set(summary, '{errors}', errors || jsonb_build_array($2::text)),
			finished_at = $3::timestamptz,
			duration_ms = COALESCE((EXTRACT(EPOCH FROM ($3::timestamptz - started_at)) * 1000)::bigint, 0)
		WHERE status IN ($4, $5)`
	res, err := repo.db.ExecContext(ctx, q,
		operation.StatusFailed, reason, at.UTC(), operation.StatusEnqueued, operation.StatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failing active operations")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "counting failed operations")
}
