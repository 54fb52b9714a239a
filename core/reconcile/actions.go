package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/edupay/feeledger/core/fee"
	"github.com/edupay/feeledger/core/operation"
)

const (
	systemActor      = "system:reconcile"
	syncAmountReason = "aligned with the current fee structure"
)

func itemError(studentID string, err error) string {
	return fmt.Sprintf("student %s: %v", studentID, err)
}

// backfill issues an unpaid record, at the current structure amount, for every missing student.
func (e *Engine) backfill(ctx context.Context, diff fee.DiffResult, res *operation.UnitResult) {
	if diff.Structure == nil || len(diff.Missing) == 0 {
		return
	}

	var created int
	for _, student := range diff.Missing {
		res.Summary.Attempted++
		rec := fee.NewRecord(student, diff.Unit.Term, diff.Structure.Amount, time.Now().UTC())
		if _, err := fee.Issue(ctx, e.fees, rec, e.pinLength); err != nil {
			res.Errors = append(res.Errors, itemError(student.StudentID, err))
			continue
		}
		created++
	}
	res.Summary.Created += created
	res.Summary.FeesBackfilled += created
	e.metrics.LedgerMutation("backfilled", created)
}

// deduplicate collapses every duplicate group onto its canonical record, keeping all payments.
func (e *Engine) deduplicate(ctx context.Context, diff fee.DiffResult, res *operation.UnitResult) {
	var removed int
	for _, group := range diff.Duplicates {
		res.Summary.Attempted++
		res.Summary.DuplicatesFound += len(group) - 1

		keep := fee.Canonical(group)
		merged := fee.Merge(keep, group, time.Now().UTC())
		// fails with fee.ErrStaleRecord if a writer outside the scope lock got there first
		if err := e.fees.MergeDuplicates(ctx, merged, group); err != nil {
			res.Errors = append(res.Errors, itemError(studentNumber(diff, keep.StudentID), err))
			continue
		}
		removed += len(group) - 1
	}
	res.Summary.DuplicatesRemoved += removed
	e.metrics.LedgerMutation("deduplicated", removed)
}

// syncAmounts rewrites mismatched amounts, and only when the caller asked for it.
func (e *Engine) syncAmounts(ctx context.Context, diff fee.DiffResult, opts operation.Options, res *operation.UnitResult) {
	if !opts.ApplyAmountChanges || diff.Structure == nil {
		return
	}

	var updated int
	for _, rec := range diff.AmountMismatches {
		res.Summary.Attempted++
		if diff.Structure.Amount.LessThan(rec.AmountPaid) {
			res.Errors = append(res.Errors, itemError(
				studentNumber(diff, rec.StudentID),
				fmt.Errorf("new amount %s is below the %s already paid", diff.Structure.Amount, rec.AmountPaid),
			))
			continue
		}
		rec = fee.ApplyAmount(rec, diff.Structure.Amount, syncAmountReason, systemActor, time.Now().UTC())
		if _, err := e.fees.UpdateRecord(ctx, rec); err != nil {
			res.Errors = append(res.Errors, itemError(studentNumber(diff, rec.StudentID), err))
			continue
		}
		updated++
	}
	res.Summary.Updated += updated
	e.metrics.LedgerMutation("amount_synced", updated)
}

// studentNumber maps an internal student id to the admission number used in reports.
func studentNumber(diff fee.DiffResult, id string) string {
	for _, s := range diff.Students {
		if s.ID == id {
			return s.StudentID
		}
	}
	return id
}
