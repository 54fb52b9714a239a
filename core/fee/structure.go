package fee

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/school"
)

// DeleteImpact describes what confirming the deletion of a structure removes.
type DeleteImpact struct {
	Structure            Structure       `json:"structure"`
	ClassroomName        string          `json:"classroomName"`
	TermName             string          `json:"termName"`
	Session              string          `json:"session"`
	AffectedStudents     int             `json:"affectedStudents"`
	RecordsToDelete      int             `json:"recordsToDelete"`
	PaidRecords          int             `json:"paidRecords"`
	PartiallyPaidRecords int             `json:"partiallyPaidRecords"`
	TotalAmountPaid      decimal.Decimal `json:"totalAmountPaid"`
	RequiresConfirmation bool            `json:"requiresConfirmation"`

	recordIDs []string
}

type StructureService struct {
	repo        Repository
	dir         school.Repository
	locker      core.Locker
	metrics     core.MetricsRecorder
	lockTimeout time.Duration
}

func NewStructureService(repo Repository, dir school.Repository, locker core.Locker, metrics core.MetricsRecorder, conf *core.Config) *StructureService {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(dir, "dir"),
		vala.IsNotNil(locker, "locker"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &StructureService{
		repo:        repo,
		dir:         dir,
		locker:      locker,
		metrics:     metrics,
		lockTimeout: conf.Sync.LockTimeout,
	}
}

func (svc *StructureService) Query(ctx context.Context, filter StructureFilter) ([]Structure, error) {
	return svc.repo.QueryStructures(ctx, filter)
}

func (svc *StructureService) GetByID(ctx context.Context, id string) (Structure, error) {
	return svc.repo.GetStructure(ctx, id)
}

// Get returns the structure of a (classroom, term) unit.
func (svc *StructureService) Get(ctx context.Context, classroomID, termID string) (Structure, error) {
	return svc.repo.FindStructure(ctx, classroomID, termID)
}

func (svc *StructureService) Create(ctx context.Context, ns NewStructure) (Structure, error) {
	classroomID := core.CleanString(ns.ClassroomID)
	termID := core.CleanString(ns.TermID)

	if _, err := svc.dir.GetClassroom(ctx, classroomID); err != nil {
		if errors.Cause(err) == school.ErrClassroomNotFound {
			return Structure{}, core.NewValidationError(err, core.FieldError{Field: "classroomId", Error: err.Error()})
		}
		return Structure{}, errors.Wrap(err, "getting classroom")
	}
	if _, err := svc.dir.GetTerm(ctx, termID); err != nil {
		if errors.Cause(err) == school.ErrTermNotFound {
			return Structure{}, core.NewValidationError(err, core.FieldError{Field: "termId", Error: err.Error()})
		}
		return Structure{}, errors.Wrap(err, "getting term")
	}

	now := time.Now().UTC()
	s, err := svc.repo.CreateStructure(ctx, Structure{
		ID:          uuid.New().String(),
		ClassroomID: classroomID,
		TermID:      termID,
		Amount:      *ns.Amount,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		if errors.Cause(err) == ErrStructureExists {
			return Structure{}, core.NewConflictError(ErrStructureExists.Error())
		}
		return Structure{}, errors.Wrap(err, "creating fee structure")
	}
	return s, nil
}

// Update changes the amount of a structure. Records already issued keep their amount.
func (svc *StructureService) Update(ctx context.Context, id string, us UpdateStructure) (Structure, error) {
	s, err := svc.repo.GetStructure(ctx, id)
	if err != nil {
		return Structure{}, err
	}
	s.Amount = *us.Amount
	s.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateStructure(ctx, s)
}

// Delete removes a structure that no record depends on. The check holds the scope
// lock so a concurrent backfill cannot issue records in between.
func (svc *StructureService) Delete(ctx context.Context, id string) error {
	s, err := svc.repo.GetStructure(ctx, id)
	if err != nil {
		return err
	}

	release, err := lockScope(ctx, svc.locker, svc.lockTimeout, s.ClassroomID, s.TermID)
	if err != nil {
		return err
	}
	defer release()

	impact, err := svc.PreviewDelete(ctx, id)
	if err != nil {
		return err
	}
	if impact.RecordsToDelete > 0 {
		return core.NewConflictError(
			"%d fee records depend on this structure; preview the deletion and confirm it to remove them",
			impact.RecordsToDelete,
		)
	}
	return svc.repo.DeleteStructure(ctx, id)
}

// PreviewDelete reports the records a confirmed deletion would remove. It changes nothing.
func (svc *StructureService) PreviewDelete(ctx context.Context, id string) (DeleteImpact, error) {
	s, err := svc.repo.GetStructure(ctx, id)
	if err != nil {
		return DeleteImpact{}, err
	}
	classroom, err := svc.dir.GetClassroom(ctx, s.ClassroomID)
	if err != nil {
		return DeleteImpact{}, errors.Wrap(err, "getting classroom")
	}
	term, err := svc.dir.GetTerm(ctx, s.TermID)
	if err != nil {
		return DeleteImpact{}, errors.Wrap(err, "getting term")
	}
	students, err := svc.dir.ListStudents(ctx, s.ClassroomID)
	if err != nil {
		return DeleteImpact{}, errors.Wrap(err, "listing students")
	}

	impact := DeleteImpact{
		Structure:       s,
		ClassroomName:   classroom.Name,
		TermName:        term.Name,
		Session:         term.Session,
		TotalAmountPaid: decimal.Zero,
	}
	if len(students) == 0 {
		return impact, nil
	}

	records, err := svc.repo.QueryRecords(ctx, RecordFilter{
		StudentIDs: school.StudentIDs(students),
		Term:       term.Name,
		Session:    term.Session,
	})
	if err != nil {
		return DeleteImpact{}, errors.Wrap(err, "querying fee records")
	}

	affected := make(map[string]bool)
	for _, r := range records {
		affected[r.StudentID] = true
		impact.recordIDs = append(impact.recordIDs, r.ID)
		impact.TotalAmountPaid = impact.TotalAmountPaid.Add(r.AmountPaid)
		switch {
		case r.Paid:
			impact.PaidRecords++
		case r.AmountPaid.IsPositive():
			impact.PartiallyPaidRecords++
		}
	}
	impact.AffectedStudents = len(affected)
	impact.RecordsToDelete = len(records)
	impact.RequiresConfirmation = len(records) > 0
	return impact, nil
}

// ConfirmDelete removes a structure together with its dependent records.
func (svc *StructureService) ConfirmDelete(ctx context.Context, id string, confirm bool) (DeleteImpact, error) {
	if !confirm {
		return DeleteImpact{}, core.NewValidationError(
			errors.New("deletion must be confirmed"),
			core.FieldError{Field: "confirm", Error: "must be true to delete the structure and its fee records"},
		)
	}
	s, err := svc.repo.GetStructure(ctx, id)
	if err != nil {
		return DeleteImpact{}, err
	}

	release, err := lockScope(ctx, svc.locker, svc.lockTimeout, s.ClassroomID, s.TermID)
	if err != nil {
		return DeleteImpact{}, err
	}
	defer release()

	// recompute under the lock; records may have changed since any preview
	impact, err := svc.PreviewDelete(ctx, id)
	if err != nil {
		return DeleteImpact{}, err
	}
	if err = svc.repo.DeleteStructureCascade(ctx, id, impact.recordIDs); err != nil {
		return DeleteImpact{}, errors.Wrap(err, "deleting fee structure")
	}
	svc.metrics.LedgerMutation("deleted", len(impact.recordIDs))
	return impact, nil
}
