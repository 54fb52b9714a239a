package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/edupay/feeledger/core/fee"
)

const (
	structureColumns = `id, classroom_id, term_id, amount, created_at, updated_at`
	recordColumns    = `id, student_id, term, session, amount, amount_paid, paid, pin_code, viewable,
		payment_history, adjustments, payment_date, payment_method, receipt_number, updated_by, created_at, updated_at`

	structureKeyConstraint = "fee_structures_classroom_term_key"
	pinCodeConstraint      = "term_fee_records_pin_code_key"
)

type structureRow struct {
	ID          string          `db:"id"`
	ClassroomID string          `db:"classroom_id"`
	TermID      string          `db:"term_id"`
	Amount      decimal.Decimal `db:"amount"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (row structureRow) structure() fee.Structure {
	return fee.Structure{
		ID:          row.ID,
		ClassroomID: row.ClassroomID,
		TermID:      row.TermID,
		Amount:      row.Amount,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}

type recordRow struct {
	ID             string          `db:"id"`
	StudentID      string          `db:"student_id"`
	Term           string          `db:"term"`
	Session        string          `db:"session"`
	Amount         decimal.Decimal `db:"amount"`
	AmountPaid     decimal.Decimal `db:"amount_paid"`
	Paid           bool            `db:"paid"`
	PinCode        string          `db:"pin_code"`
	Viewable       bool            `db:"viewable"`
	PaymentHistory types.JSONText  `db:"payment_history"`
	Adjustments    types.JSONText  `db:"adjustments"`
	PaymentDate    null.Time       `db:"payment_date"`
	PaymentMethod  null.String     `db:"payment_method"`
	ReceiptNumber  null.String     `db:"receipt_number"`
	UpdatedBy      null.String     `db:"updated_by"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func newRecordRow(r fee.Record) (recordRow, error) {
	history := r.PaymentHistory
	if history == nil {
		history = []fee.Payment{}
	}
	adjustments := r.Adjustments
	if adjustments == nil {
		adjustments = []fee.Adjustment{}
	}
	historyJSON, err := toJSON(history)
	if err != nil {
		return recordRow{}, err
	}
	adjustmentsJSON, err := toJSON(adjustments)
	if err != nil {
		return recordRow{}, err
	}
	return recordRow{
		ID:             r.ID,
		StudentID:      r.StudentID,
		Term:           r.Term,
		Session:        r.Session,
		Amount:         r.Amount,
		AmountPaid:     r.AmountPaid,
		Paid:           r.Paid,
		PinCode:        r.PinCode,
		Viewable:       r.Viewable,
		PaymentHistory: historyJSON,
		Adjustments:    adjustmentsJSON,
		PaymentDate:    null.TimeFromPtr(r.PaymentDate),
		PaymentMethod:  null.NewString(r.PaymentMethod, r.PaymentMethod != ""),
		ReceiptNumber:  null.NewString(r.ReceiptNumber, r.ReceiptNumber != ""),
		UpdatedBy:      null.NewString(r.UpdatedBy, r.UpdatedBy != ""),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}, nil
}

func (row recordRow) record() (fee.Record, error) {
	r := fee.Record{
		ID:             row.ID,
		StudentID:      row.StudentID,
		Term:           row.Term,
		Session:        row.Session,
		Amount:         row.Amount,
		AmountPaid:     row.AmountPaid,
		Paid:           row.Paid,
		PinCode:        row.PinCode,
		Viewable:       row.Viewable,
		PaymentHistory: []fee.Payment{},
		PaymentMethod:  row.PaymentMethod.String,
		ReceiptNumber:  row.ReceiptNumber.String,
		UpdatedBy:      row.UpdatedBy.String,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
	if row.PaymentDate.Valid {
		d := row.PaymentDate.Time.UTC()
		r.PaymentDate = &d
	}
	if err := fromJSON(row.PaymentHistory, &r.PaymentHistory); err != nil {
		return fee.Record{}, err
	}
	if err := fromJSON(row.Adjustments, &r.Adjustments); err != nil {
		return fee.Record{}, err
	}
	return r, nil
}

type feeRepository struct {
	db *sqlx.DB
}

var _ fee.Repository = (*feeRepository)(nil) // interface compliance check

func NewFeeRepository(db *sqlx.DB) fee.Repository {
	return &feeRepository{db: db}
}

func (repo *feeRepository) CreateStructure(ctx context.Context, s fee.Structure) (fee.Structure, error) {
	q := `INSERT INTO fee_structures (` + structureColumns + `)
		VALUES (:id, :classroom_id, :term_id, :amount, :created_at, :updated_at)`
	row := structureRow{
		ID:          s.ID,
		ClassroomID: s.ClassroomID,
		TermID:      s.TermID,
		Amount:      s.Amount,
		CreatedAt:   s.CreatedAt.UTC(),
		UpdatedAt:   s.UpdatedAt.UTC(),
	}
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err, structureKeyConstraint) {
			return fee.Structure{}, fee.ErrStructureExists
		}
		return fee.Structure{}, errors.Wrap(err, "inserting fee structure")
	}
	return row.structure(), nil
}

func (repo *feeRepository) GetStructure(ctx context.Context, id string) (fee.Structure, error) {
	var row structureRow
	q := `SELECT ` + structureColumns + ` FROM fee_structures WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		return fee.Structure{}, trapNoRowsErr(err, fee.ErrStructureNotFound, "selecting fee structure")
	}
	return row.structure(), nil
}

func (repo *feeRepository) FindStructure(ctx context.Context, classroomID, termID string) (fee.Structure, error) {
	var row structureRow
	q := `SELECT ` + structureColumns + ` FROM fee_structures WHERE classroom_id = $1 AND term_id = $2`
	if err := repo.db.GetContext(ctx, &row, q, classroomID, termID); err != nil {
		return fee.Structure{}, trapNoRowsErr(err, fee.ErrStructureNotFound, "selecting fee structure")
	}
	return row.structure(), nil
}

func (repo *feeRepository) QueryStructures(ctx context.Context, filter fee.StructureFilter) ([]fee.Structure, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.ClassroomID != "" {
		conds = append(conds, "classroom_id = ?")
		args = append(args, filter.ClassroomID)
	}
	if filter.TermID != "" {
		conds = append(conds, "term_id = ?")
		args = append(args, filter.TermID)
	}
	q := `SELECT ` + structureColumns + ` FROM fee_structures` + where(conds) + ` ORDER BY created_at`

	var rows []structureRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting fee structures")
	}
	structures := make([]fee.Structure, 0, len(rows))
	for _, row := range rows {
		structures = append(structures, row.structure())
	}
	return structures, nil
}

func (repo *feeRepository) UpdateStructure(ctx context.Context, s fee.Structure) (fee.Structure, error) {
	q := `UPDATE fee_structures SET amount = $2, updated_at = $3 WHERE id = $1 RETURNING ` + structureColumns
	var row structureRow
	if err := repo.db.GetContext(ctx, &row, q, s.ID, s.Amount, s.UpdatedAt.UTC()); err != nil {
		return fee.Structure{}, trapNoRowsErr(err, fee.ErrStructureNotFound, "updating fee structure")
	}
	return row.structure(), nil
}

func (repo *feeRepository) DeleteStructure(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM fee_structures WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting fee structure")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fee.ErrStructureNotFound
	}
	return nil
}

func (repo *feeRepository) DeleteStructureCascade(ctx context.Context, id string, recordIDs []string) error {
	return inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if err := deleteByIDs(ctx, tx, "term_fee_records", recordIDs); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM fee_structures WHERE id = $1`, id)
		if err != nil {
			return errors.Wrap(err, "deleting fee structure")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fee.ErrStructureNotFound
		}
		return nil
	})
}

func (repo *feeRepository) CreateRecord(ctx context.Context, r fee.Record) (fee.Record, error) {
	row, err := newRecordRow(r)
	if err != nil {
		return fee.Record{}, err
	}
	q := `INSERT INTO term_fee_records (` + recordColumns + `)
		VALUES (:id, :student_id, :term, :session, :amount, :amount_paid, :paid, :pin_code, :viewable,
			:payment_history, :adjustments, :payment_date, :payment_method, :receipt_number, :updated_by, :created_at, :updated_at)`
	if _, err = repo.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err, pinCodeConstraint) {
			return fee.Record{}, fee.ErrDuplicatePin
		}
		return fee.Record{}, errors.Wrap(err, "inserting fee record")
	}
	return row.record()
}

func (repo *feeRepository) GetRecord(ctx context.Context, id string) (fee.Record, error) {
	var row recordRow
	q := `SELECT ` + recordColumns + ` FROM term_fee_records WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		return fee.Record{}, trapNoRowsErr(err, fee.ErrRecordNotFound, "selecting fee record")
	}
	return row.record()
}

func (repo *feeRepository) QueryRecords(ctx context.Context, filter fee.RecordFilter) ([]fee.Record, error) {
	var (
		conds []string
		args  []interface{}
	)
	if len(filter.StudentIDs) > 0 {
		conds = append(conds, "student_id IN (?)")
		args = append(args, filter.StudentIDs)
	}
	if filter.Term != "" {
		conds = append(conds, "term = ?")
		args = append(args, filter.Term)
	}
	if filter.Session != "" {
		conds = append(conds, "session = ?")
		args = append(args, filter.Session)
	}
	if filter.UnpaidOnly {
		conds = append(conds, "NOT paid")
	}
	q := `SELECT ` + recordColumns + ` FROM term_fee_records` + where(conds) + ` ORDER BY created_at, id`

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "building fee records query")
	}
	var rows []recordRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting fee records")
	}

	records := make([]fee.Record, 0, len(rows))
	for _, row := range rows {
		r, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

const updateRecordQuery = `UPDATE term_fee_records SET
		amount = :amount, amount_paid = :amount_paid, paid = :paid, viewable = :viewable,
		payment_history = :payment_history, adjustments = :adjustments, payment_date = :payment_date,
		payment_method = :payment_method, receipt_number = :receipt_number, updated_by = :updated_by,
		updated_at = :updated_at
	WHERE id = :id`

func updateRecord(ctx context.Context, exec sqlx.ExtContext, r fee.Record) error {
	row, err := newRecordRow(r)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, exec, updateRecordQuery, row)
	if err != nil {
		return errors.Wrap(err, "updating fee record")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fee.ErrRecordNotFound
	}
	return nil
}

// guardedRecordRow only matches a row still carrying the updated_at it was read with.
type guardedRecordRow struct {
	recordRow
	PrevUpdatedAt time.Time `db:"prev_updated_at"`
}

func updateRecordIfUnchanged(ctx context.Context, exec sqlx.ExtContext, r fee.Record, prev time.Time) error {
	row, err := newRecordRow(r)
	if err != nil {
		return err
	}
	q := updateRecordQuery + ` AND updated_at = :prev_updated_at`
	res, err := sqlx.NamedExecContext(ctx, exec, q, guardedRecordRow{recordRow: row, PrevUpdatedAt: prev.UTC()})
	if err != nil {
		return errors.Wrap(err, "updating fee record")
	}
	return checkUnchanged(res)
}

func deleteRecordIfUnchanged(ctx context.Context, exec sqlx.ExtContext, r fee.Record) error {
	q := `DELETE FROM term_fee_records WHERE id = $1 AND updated_at = $2`
	res, err := exec.ExecContext(ctx, q, r.ID, r.UpdatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "deleting fee record")
	}
	return checkUnchanged(res)
}

func checkUnchanged(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if n == 0 {
		return fee.ErrStaleRecord
	}
	return nil
}

func (repo *feeRepository) UpdateRecord(ctx context.Context, r fee.Record) (fee.Record, error) {
	if err := updateRecord(ctx, repo.db, r); err != nil {
		return fee.Record{}, err
	}
	return repo.GetRecord(ctx, r.ID)
}

func (repo *feeRepository) MergeDuplicates(ctx context.Context, merged fee.Record, group []fee.Record) error {
	return inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		for _, r := range group {
			var err error
			if r.ID == merged.ID {
				err = updateRecordIfUnchanged(ctx, tx, merged, r.UpdatedAt)
			} else {
				err = deleteRecordIfUnchanged(ctx, tx, r)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
