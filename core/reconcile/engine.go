package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/fee"
	"github.com/edupay/feeledger/core/operation"
	"github.com/edupay/feeledger/core/school"
)

// Engine turns sync and reconcile requests into tracked operations and does their work.
type Engine struct {
	dir         school.Repository
	fees        fee.Repository
	tracker     *operation.Tracker
	runner      *operation.Runner
	locker      core.Locker
	logger      core.Logger
	metrics     core.MetricsRecorder
	pinLength   int
	lockTimeout time.Duration
}

type EngineDeps struct {
	Conf    *core.Config
	Dir     school.Repository
	Fees    fee.Repository
	Tracker *operation.Tracker
	Runner  *operation.Runner
	Locker  core.Locker
	Logger  core.Logger
	Metrics core.MetricsRecorder
}

func NewEngine(deps EngineDeps) *Engine {
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Conf, "conf"),
		vala.IsNotNil(deps.Dir, "dir"),
		vala.IsNotNil(deps.Fees, "fees"),
		vala.IsNotNil(deps.Tracker, "tracker"),
		vala.IsNotNil(deps.Locker, "locker"),
		vala.IsNotNil(deps.Logger, "logger"),
	).CheckAndPanic()

	metrics := deps.Metrics
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	lockTimeout := deps.Conf.Sync.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}
	return &Engine{
		dir:         deps.Dir,
		fees:        deps.Fees,
		tracker:     deps.Tracker,
		runner:      deps.Runner,
		locker:      deps.Locker,
		logger:      deps.Logger,
		metrics:     metrics,
		pinLength:   deps.Conf.Sync.PinLength,
		lockTimeout: lockTimeout,
	}
}

// Submit enqueues an operation and hands it to the runner. The returned channel
// is closed once the operation is terminal.
func (e *Engine) Submit(ctx context.Context, typ operation.Type, scope operation.Scope, opts operation.Options) (operation.Operation, <-chan struct{}, error) {
	if e.runner == nil {
		return operation.Operation{}, nil, errors.New("engine has no runner")
	}
	if err := e.checkScope(ctx, scope); err != nil {
		return operation.Operation{}, nil, err
	}
	op, err := e.tracker.Enqueue(ctx, typ, scope, opts)
	if err != nil {
		return operation.Operation{}, nil, err
	}
	done, err := e.runner.Submit(op, e.Execute)
	if err != nil {
		return operation.Operation{}, nil, err
	}
	return op, done, nil
}

// RunNow enqueues an operation and executes it on the calling goroutine.
func (e *Engine) RunNow(ctx context.Context, typ operation.Type, scope operation.Scope, opts operation.Options) (operation.Operation, error) {
	if err := e.checkScope(ctx, scope); err != nil {
		return operation.Operation{}, err
	}
	op, err := e.tracker.Enqueue(ctx, typ, scope, opts)
	if err != nil {
		return operation.Operation{}, err
	}
	return e.tracker.Run(ctx, op, e.Execute), nil
}

// checkScope rejects unknown classroom or term ids before anything is enqueued.
func (e *Engine) checkScope(ctx context.Context, scope operation.Scope) error {
	if scope.ClassroomID != "" {
		if _, err := e.dir.GetClassroom(ctx, scope.ClassroomID); err != nil {
			return scopeError(err, "classroomId", school.ErrClassroomNotFound)
		}
	}
	if scope.TermID != "" {
		if _, err := e.dir.GetTerm(ctx, scope.TermID); err != nil {
			return scopeError(err, "termId", school.ErrTermNotFound)
		}
	}
	return nil
}

// scopeError turns a not-found lookup into a validation error on field.
func scopeError(err error, field string, notFound error) error {
	if errors.Cause(err) != notFound {
		return err
	}
	return core.NewValidationError(nil, core.FieldError{Field: field, Error: notFound.Error()})
}

// IsUnknownTerm reports whether err is checkScope's rejection of an unknown term id.
func IsUnknownTerm(err error) bool {
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) {
		return false
	}
	for _, f := range vErr.Fields {
		if f.Field == "termId" {
			return true
		}
	}
	return false
}

// units expands a scope into its (classroom, term) units.
// Without a term, the active terms are used.
func (e *Engine) units(ctx context.Context, scope operation.Scope) ([]fee.Unit, error) {
	return expandScope(ctx, e.dir, scope)
}

func expandScope(ctx context.Context, dir school.Repository, scope operation.Scope) ([]fee.Unit, error) {
	var classrooms []school.Classroom
	if scope.ClassroomID != "" {
		c, err := dir.GetClassroom(ctx, scope.ClassroomID)
		if err != nil {
			return nil, errors.Wrap(err, "getting classroom")
		}
		classrooms = []school.Classroom{c}
	} else {
		var err error
		if classrooms, err = dir.ListClassrooms(ctx); err != nil {
			return nil, errors.Wrap(err, "listing classrooms")
		}
	}

	var terms []school.Term
	if scope.TermID != "" {
		t, err := dir.GetTerm(ctx, scope.TermID)
		if err != nil {
			return nil, errors.Wrap(err, "getting term")
		}
		terms = []school.Term{t}
	} else {
		all, err := dir.ListTerms(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "listing terms")
		}
		terms = school.ActiveTerms(all)
	}

	units := make([]fee.Unit, 0, len(classrooms)*len(terms))
	for _, c := range classrooms {
		for _, t := range terms {
			units = append(units, fee.Unit{Classroom: c, Term: t})
		}
	}
	return units, nil
}

// diffUnit loads a unit's roster, structure and records and diffs them.
func diffUnit(ctx context.Context, dir school.Repository, fees fee.Repository, unit fee.Unit) (fee.DiffResult, error) {
	students, err := dir.ListStudents(ctx, unit.Classroom.ID)
	if err != nil {
		return fee.DiffResult{}, errors.Wrap(err, "listing students")
	}

	var structure *fee.Structure
	s, err := fees.FindStructure(ctx, unit.Classroom.ID, unit.Term.ID)
	switch {
	case err == nil:
		structure = &s
	case errors.Cause(err) != fee.ErrStructureNotFound:
		return fee.DiffResult{}, errors.Wrap(err, "finding fee structure")
	}

	var records []fee.Record
	if len(students) > 0 {
		records, err = fees.QueryRecords(ctx, fee.RecordFilter{
			StudentIDs: school.StudentIDs(students),
			Term:       unit.Term.Name,
			Session:    unit.Term.Session,
		})
		if err != nil {
			return fee.DiffResult{}, errors.Wrap(err, "querying fee records")
		}
	}
	return fee.Diff(unit, students, structure, records), nil
}

// Execute is the operation.Job for every operation type.
// A unit that cannot be processed is reported and the next one is tried. The
// operation only fails when its scope cannot be expanded or no unit succeeded.
func (e *Engine) Execute(ctx context.Context, op operation.Operation) (operation.Outcome, error) {
	units, err := e.units(ctx, op.Scope)
	if err != nil {
		return operation.Outcome{}, err
	}

	out := operation.Outcome{Results: make([]operation.UnitResult, 0, len(units))}
	failed := 0
	for _, unit := range units {
		label := fmt.Sprintf("%s / %s %s", unit.Classroom.Name, unit.Term.Name, unit.Term.Session)
		res, err := e.runUnit(ctx, op, unit)
		if err != nil {
			failed++
			e.logger.Error(fmt.Sprintf("operation %s: %s: %v", op.ID, label, err), err)
			res.Errors = append(res.Errors, err.Error())
		}
		out.Summary.Add(res.Summary)
		for _, msg := range res.Errors {
			out.Errors = append(out.Errors, label+": "+msg)
		}
		res.Summary.Errors = res.Errors
		out.Results = append(out.Results, res)
	}
	out.Summary.Errors = out.Errors

	if failed > 0 && failed == len(units) {
		return out, errors.Errorf("all %d units failed", failed)
	}
	return out, nil
}

func (e *Engine) runUnit(ctx context.Context, op operation.Operation, unit fee.Unit) (operation.UnitResult, error) {
	res := operation.UnitResult{
		ClassroomID:   unit.Classroom.ID,
		ClassroomName: unit.Classroom.Name,
		TermID:        unit.Term.ID,
		TermName:      unit.Term.Name,
		Session:       unit.Term.Session,
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	release, err := e.locker.Lock(lockCtx, core.ScopeKey(unit.Classroom.ID, unit.Term.ID))
	cancel()
	if err != nil {
		return res, errors.Wrap(err, "acquiring scope lock")
	}
	defer release()

	diff, err := diffUnit(ctx, e.dir, e.fees, unit)
	if err != nil {
		return res, err
	}

	switch op.Type {
	case operation.TypeSync:
		e.backfill(ctx, diff, &res)
		e.syncAmounts(ctx, diff, op.Options, &res)
	case operation.TypeDeduplicate:
		e.deduplicate(ctx, diff, &res)
	case operation.TypeBackfill:
		e.backfill(ctx, diff, &res)
	case operation.TypeFull:
		e.deduplicate(ctx, diff, &res)
		if diff, err = diffUnit(ctx, e.dir, e.fees, unit); err != nil {
			return res, err
		}
		e.backfill(ctx, diff, &res)
	default:
		return res, fmt.Errorf("unknown operation type %q", op.Type)
	}

	res.Summary.AmountMismatches = len(diff.AmountMismatches)
	res.Summary.OrphanedRecords = len(diff.Orphaned)
	if len(res.Errors) > 0 {
		e.logger.Warn(fmt.Sprintf("operation %s: %d errors on %s / %s %s", op.ID, len(res.Errors), unit.Classroom.Name, unit.Term.Name, unit.Term.Session))
	}
	return res, nil
}
