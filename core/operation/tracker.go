package operation

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/edupay/feeledger/core"
)

// Job does the work of an operation. A returned error fails the operation but the
// outcome returned with it is still stored; per-item problems belong in Outcome.Errors.
type Job func(ctx context.Context, op Operation) (Outcome, error)

const interruptedReason = "interrupted: the service restarted before the operation finished"

// Tracker owns the lifecycle of operations.
type Tracker struct {
	repo     Repository
	logger   core.Logger
	metrics  core.MetricsRecorder
	mailSvc  core.EmailService
	notifyTo string
}

func NewTracker(repo Repository, logger core.Logger, metrics core.MetricsRecorder, mailSvc core.EmailService, conf *core.Config) *Tracker {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &Tracker{
		repo:     repo,
		logger:   logger,
		metrics:  metrics,
		mailSvc:  mailSvc,
		notifyTo: conf.NotifyEmail,
	}
}

// Enqueue records a new operation. It is rejected with a core.ConflictError
// while another active operation overlaps the scope.
func (t *Tracker) Enqueue(ctx context.Context, typ Type, scope Scope, opts Options) (Operation, error) {
	if !typ.Valid() {
		return Operation{}, core.NewValidationError(fmt.Errorf("unknown operation type %q", typ))
	}
	op, err := t.repo.CreateOperation(ctx, Operation{
		ID:        uuid.New().String(),
		Type:      typ,
		Status:    StatusEnqueued,
		Scope:     scope,
		Options:   opts,
		Errors:    []string{},
		Results:   []UnitResult{},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if busy, ok := errors.Cause(err).(*ScopeBusyError); ok {
			return Operation{}, core.NewConflictError(
				"a %s operation (%s) is already %s for an overlapping scope",
				busy.Blocking.Type, busy.Blocking.ID, busy.Blocking.Status,
			)
		}
		return Operation{}, errors.Wrap(err, "creating operation")
	}
	t.logger.Info(fmt.Sprintf("operation %s enqueued: %s %+v", op.ID, op.Type, op.Scope))
	return op, nil
}

// Get is a pure read and may be polled freely.
func (t *Tracker) Get(ctx context.Context, id string) (Operation, error) {
	return t.repo.GetOperation(ctx, id)
}

func (t *Tracker) List(ctx context.Context, filter QueryFilter) ([]Operation, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return t.repo.QueryOperations(ctx, filter)
}

// Run executes job for op and records the terminal state. It always returns the
// operation as last stored; a job panic fails the operation.
func (t *Tracker) Run(ctx context.Context, op Operation, job Job) Operation {
	started, err := t.repo.StartOperation(ctx, op.ID, time.Now().UTC())
	if err != nil {
		t.logger.Warn(fmt.Sprintf("operation %s not started: %v", op.ID, err), err)
		if stored, gErr := t.repo.GetOperation(ctx, op.ID); gErr == nil {
			return stored
		}
		return op
	}
	t.logger.Info(fmt.Sprintf("operation %s running", started.ID))

	outcome, err := t.safeRun(ctx, started, job)
	if err != nil {
		return t.fail(ctx, started, outcome, err)
	}
	return t.complete(ctx, started, outcome)
}

func (t *Tracker) safeRun(ctx context.Context, op Operation, job Job) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return job(ctx, op)
}

func (t *Tracker) complete(ctx context.Context, op Operation, outcome Outcome) Operation {
	op.Status = StatusCompleted
	op.Summary = outcome.Summary
	if outcome.Results != nil {
		op.Results = outcome.Results
	}
	op.Errors = append([]string{}, outcome.Errors...)
	op.Summary.Errors = append([]string{}, op.Errors...)
	return t.finish(ctx, op)
}

// Fail moves op to failed with cause as its error.
func (t *Tracker) Fail(ctx context.Context, op Operation, cause error) Operation {
	return t.fail(ctx, op, Outcome{Summary: op.Summary, Results: op.Results}, cause)
}

// fail keeps whatever outcome the job gathered before cause stopped it.
func (t *Tracker) fail(ctx context.Context, op Operation, outcome Outcome, cause error) Operation {
	op.Status = StatusFailed
	op.Summary = outcome.Summary
	if outcome.Results != nil {
		op.Results = outcome.Results
	}
	errs := append(append([]string{}, op.Errors...), outcome.Errors...)
	op.Errors = append(errs, cause.Error())
	op.Summary.Errors = append([]string{}, op.Errors...)
	t.logger.Error(fmt.Sprintf("operation %s failed: %v", op.ID, cause), cause)

	op = t.finish(ctx, op)
	t.notifyFailure(op)
	return op
}

func (t *Tracker) finish(ctx context.Context, op Operation) Operation {
	now := time.Now().UTC()
	op.FinishedAt = &now
	if op.StartedAt != nil {
		op.DurationMS = now.Sub(*op.StartedAt).Milliseconds()
	}
	if err := t.repo.FinishOperation(ctx, op); err != nil {
		t.logger.Error(fmt.Sprintf("operation %s: storing final state: %v", op.ID, err), err)
		return op
	}
	t.metrics.OperationFinished(string(op.Type), string(op.Status), time.Duration(op.DurationMS)*time.Millisecond)
	t.logger.Info(fmt.Sprintf("operation %s %s in %dms: %+v", op.ID, op.Status, op.DurationMS, op.Summary))
	return op
}

func (t *Tracker) notifyFailure(op Operation) {
	if t.mailSvc == nil || t.notifyTo == "" {
		return
	}
	to, err := mail.ParseAddress(t.notifyTo)
	if err != nil {
		t.logger.Warn(fmt.Sprintf("invalid notify email %q: %v", t.notifyTo, err), err)
		return
	}
	t.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{*to},
		Subject: fmt.Sprintf("Fee %s operation failed", op.Type),
		TextContent: fmt.Sprintf(
			"Operation %s (%s, scope %+v) failed after %dms.\n\nErrors:\n%v\n",
			op.ID, op.Type, op.Scope, op.DurationMS, op.Errors,
		),
	})
}

// Recover fails the operations a previous process left enqueued or running.
func (t *Tracker) Recover(ctx context.Context) error {
	n, err := t.repo.FailActiveOperations(ctx, interruptedReason, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failing interrupted operations")
	}
	if n > 0 {
		t.logger.Warn(fmt.Sprintf("%d interrupted operations marked as failed", n))
	}
	return nil
}
