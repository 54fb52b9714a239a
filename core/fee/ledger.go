package fee

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/school"
)

var (
	errAlreadyPaid   = errors.New("this term's fee is already fully paid")
	errUnknownTerm   = errors.New("no such term in this session")
	errBelowPaidText = "amount cannot be lower than the amount already paid"
)

type StudentFees struct {
	Student     school.Student  `json:"student"`
	Records     []Record        `json:"records"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	TotalPaid   decimal.Decimal `json:"totalPaid"`
	Balance     decimal.Decimal `json:"balance"`
	Currency    string          `json:"currency"`
}

type ArrearsFilter struct {
	ClassroomID string
	TermID      string
}

// ArrearsEntry is an unpaid or partially paid record.
type ArrearsEntry struct {
	StudentID     string          `json:"studentId"`
	StudentNumber string          `json:"studentNumber"`
	StudentName   string          `json:"studentName"`
	ClassroomID   string          `json:"classroomId"`
	ClassroomName string          `json:"classroomName"`
	Term          string          `json:"term"`
	Session       string          `json:"session"`
	Amount        decimal.Decimal `json:"amount"`
	AmountPaid    decimal.Decimal `json:"amountPaid"`
	Balance       decimal.Decimal `json:"balance"`
}

type LedgerService struct {
	repo        Repository
	dir         school.Repository
	locker      core.Locker
	metrics     core.MetricsRecorder
	lockTimeout time.Duration
}

func NewLedgerService(repo Repository, dir school.Repository, locker core.Locker, metrics core.MetricsRecorder, conf *core.Config) *LedgerService {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(dir, "dir"),
		vala.IsNotNil(locker, "locker"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &LedgerService{
		repo:        repo,
		dir:         dir,
		locker:      locker,
		metrics:     metrics,
		lockTimeout: conf.Sync.LockTimeout,
	}
}

// StudentFees lists every record of a student with running totals.
func (svc *LedgerService) StudentFees(ctx context.Context, studentID string) (StudentFees, error) {
	student, err := svc.dir.GetStudent(ctx, studentID)
	if err != nil {
		return StudentFees{}, err
	}
	records, err := svc.repo.QueryRecords(ctx, RecordFilter{StudentIDs: []string{student.ID}})
	if err != nil {
		return StudentFees{}, errors.Wrap(err, "querying fee records")
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Session != records[j].Session {
			return records[i].Session < records[j].Session
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	fees := StudentFees{
		Student:     student,
		Records:     records,
		TotalAmount: decimal.Zero,
		TotalPaid:   decimal.Zero,
		Balance:     decimal.Zero,
		Currency:    core.Currency,
	}
	for _, r := range records {
		fees.TotalAmount = fees.TotalAmount.Add(r.Amount)
		fees.TotalPaid = fees.TotalPaid.Add(r.AmountPaid)
		fees.Balance = fees.Balance.Add(r.Balance())
	}
	return fees, nil
}

// canonicalRecord locks the student's scope and returns the record payments apply to.
// The caller must call release once done.
func (svc *LedgerService) canonicalRecord(ctx context.Context, studentID, termName, session string) (rec Record, release func(), err error) {
	student, err := svc.dir.GetStudent(ctx, studentID)
	if err != nil {
		return Record{}, nil, err
	}
	terms, err := svc.dir.ListTerms(ctx)
	if err != nil {
		return Record{}, nil, errors.Wrap(err, "listing terms")
	}
	term, ok := school.FindTerm(terms, core.CleanString(termName), core.CleanString(session))
	if !ok {
		return Record{}, nil, core.NewValidationError(errUnknownTerm, core.FieldError{Field: "term", Error: errUnknownTerm.Error()})
	}

	release, err = lockScope(ctx, svc.locker, svc.lockTimeout, student.ClassroomID, term.ID)
	if err != nil {
		return Record{}, nil, err
	}

	records, err := svc.repo.QueryRecords(ctx, RecordFilter{
		StudentIDs: []string{student.ID},
		Term:       term.Name,
		Session:    term.Session,
	})
	if err != nil {
		release()
		return Record{}, nil, errors.Wrap(err, "querying fee records")
	}
	if len(records) == 0 {
		release()
		return Record{}, nil, ErrRecordNotFound
	}
	return Canonical(records), release, nil
}

// MarkPaid records a payment against the student's record for a term.
func (svc *LedgerService) MarkPaid(ctx context.Context, studentID string, np NewPayment, by core.Actor) (Record, error) {
	rec, release, err := svc.canonicalRecord(ctx, studentID, np.Term, np.Session)
	if err != nil {
		return Record{}, err
	}
	defer release()

	if rec.Paid {
		return Record{}, core.NewValidationError(errAlreadyPaid)
	}
	amount := *np.PaymentAmount
	if rec.AmountPaid.Add(amount).GreaterThan(rec.Amount) {
		msg := fmt.Sprintf("payment exceeds the outstanding balance of %s %s", rec.Balance().StringFixed(2), core.Currency)
		return Record{}, core.NewValidationError(errors.New(msg), core.FieldError{Field: "paymentAmount", Error: msg})
	}

	now := time.Now().UTC()
	rec.PaymentHistory = append(rec.PaymentHistory, Payment{
		Amount:        amount,
		Date:          now,
		Method:        np.PaymentMethod,
		ReceiptNumber: np.ReceiptNumber,
		RecordedBy:    by.String(),
	})
	rec.AmountPaid = rec.AmountPaid.Add(amount)
	rec.PaymentDate = &now
	rec.PaymentMethod = np.PaymentMethod
	rec.ReceiptNumber = np.ReceiptNumber
	rec.UpdatedBy = by.String()
	rec.UpdatedAt = now
	rec.settle()

	rec, err = svc.repo.UpdateRecord(ctx, rec)
	if err != nil {
		return Record{}, errors.Wrap(err, "updating fee record")
	}
	svc.metrics.LedgerMutation("payment", 1)
	return rec, nil
}

// AdjustAmount corrects the amount owed on an issued record and keeps an audit entry.
func (svc *LedgerService) AdjustAmount(ctx context.Context, studentID string, aa AmountAdjustment, by core.Actor) (Record, error) {
	rec, release, err := svc.canonicalRecord(ctx, studentID, aa.Term, aa.Session)
	if err != nil {
		return Record{}, err
	}
	defer release()

	amount := *aa.Amount
	if amount.LessThan(rec.AmountPaid) {
		return Record{}, core.NewValidationError(errors.New(errBelowPaidText), core.FieldError{Field: "amount", Error: errBelowPaidText})
	}
	rec = ApplyAmount(rec, amount, core.CleanString(aa.Reason), by.String(), time.Now().UTC())

	rec, err = svc.repo.UpdateRecord(ctx, rec)
	if err != nil {
		return Record{}, errors.Wrap(err, "updating fee record")
	}
	svc.metrics.LedgerMutation("adjustment", 1)
	return rec, nil
}

// ApplyAmount sets the amount owed on rec and appends the matching Adjustment.
func ApplyAmount(rec Record, amount decimal.Decimal, reason, by string, now time.Time) Record {
	rec.Adjustments = append(rec.Adjustments, Adjustment{
		PreviousAmount: rec.Amount,
		NewAmount:      amount,
		Reason:         reason,
		By:             by,
		At:             now,
	})
	rec.Amount = amount
	rec.UpdatedBy = by
	rec.UpdatedAt = now
	rec.settle()
	return rec
}

// Arrears lists records with an outstanding balance.
func (svc *LedgerService) Arrears(ctx context.Context, filter ArrearsFilter) ([]ArrearsEntry, error) {
	var classrooms []school.Classroom
	if filter.ClassroomID != "" {
		c, err := svc.dir.GetClassroom(ctx, filter.ClassroomID)
		if err != nil {
			return nil, err
		}
		classrooms = []school.Classroom{c}
	} else {
		var err error
		if classrooms, err = svc.dir.ListClassrooms(ctx); err != nil {
			return nil, errors.Wrap(err, "listing classrooms")
		}
	}

	var term school.Term
	if filter.TermID != "" {
		var err error
		if term, err = svc.dir.GetTerm(ctx, filter.TermID); err != nil {
			return nil, err
		}
	}

	entries := make([]ArrearsEntry, 0)
	for _, c := range classrooms {
		students, err := svc.dir.ListStudents(ctx, c.ID)
		if err != nil {
			return nil, errors.Wrap(err, "listing students")
		}
		if len(students) == 0 {
			continue
		}
		records, err := svc.repo.QueryRecords(ctx, RecordFilter{
			StudentIDs: school.StudentIDs(students),
			Term:       term.Name,
			Session:    term.Session,
			UnpaidOnly: true,
		})
		if err != nil {
			return nil, errors.Wrap(err, "querying fee records")
		}
		byID := make(map[string]school.Student, len(students))
		for _, s := range students {
			byID[s.ID] = s
		}
		for _, r := range records {
			s := byID[r.StudentID]
			entries = append(entries, ArrearsEntry{
				StudentID:     s.ID,
				StudentNumber: s.StudentID,
				StudentName:   s.Name,
				ClassroomID:   c.ID,
				ClassroomName: c.Name,
				Term:          r.Term,
				Session:       r.Session,
				Amount:        r.Amount,
				AmountPaid:    r.AmountPaid,
				Balance:       r.Balance(),
			})
		}
	}
	return entries, nil
}
