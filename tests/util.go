package testutil

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/fee"
	"github.com/edupay/feeledger/core/operation"
	"github.com/edupay/feeledger/core/school"
	logsvc "github.com/edupay/feeledger/services/logger"
	dummydb "github.com/edupay/feeledger/storage/database/dummy"
)

// Store bundles an in-memory database with its repositories.
type Store struct {
	DB         *dummydb.DB
	Dir        school.Repository
	Fees       fee.Repository
	Operations operation.Repository
}

func NewStore(t *testing.T) *Store {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	return &Store{
		DB:         db,
		Dir:        dummydb.NewDirectoryRepository(db),
		Fees:       dummydb.NewFeeRepository(db),
		Operations: dummydb.NewOperationRepository(db),
	}
}

// NewLogger returns a core.Logger writing nowhere.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "TEST : ", log.LstdFlags), conf)
	logger.Enable(false)
	return logger
}

func Dec(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func DecPtr(n int64) *decimal.Decimal {
	d := decimal.NewFromInt(n)
	return &d
}

func AddClassroom(s *Store, id, name string) school.Classroom {
	c := school.Classroom{ID: id, Name: name}
	s.DB.AddClassrooms(c)
	return c
}

func AddTerm(s *Store, id, name, session string, active bool) school.Term {
	t := school.Term{ID: id, Name: name, Session: session, Year: 2024, IsActive: active}
	s.DB.AddTerms(t)
	return t
}

// AddStudents enrolls n students in the classroom.
func AddStudents(s *Store, classroomID string, n int) []school.Student {
	students := make([]school.Student, 0, n)
	for i := 1; i <= n; i++ {
		students = append(students, school.Student{
			ID:          fmt.Sprintf("%s-stu-%02d", classroomID, i),
			StudentID:   fmt.Sprintf("ADM/%s/%03d", classroomID, i),
			Name:        fmt.Sprintf("Student %02d", i),
			ClassroomID: classroomID,
		})
	}
	s.DB.AddStudents(students...)
	return students
}

func CreateStructure(t *testing.T, s *Store, classroomID, termID string, amount int64) fee.Structure {
	now := time.Now().UTC()
	st, err := s.Fees.CreateStructure(context.Background(), fee.Structure{
		ID:          fmt.Sprintf("fs-%s-%s", classroomID, termID),
		ClassroomID: classroomID,
		TermID:      termID,
		Amount:      Dec(amount),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateStructure() failed: %v", err)
	}
	return st
}

// CreateRecord issues a record owing amount, with paid already paid in a single payment.
func CreateRecord(t *testing.T, s *Store, student school.Student, term school.Term, amount, paid int64, createdAt ...time.Time) fee.Record {
	now := time.Now().UTC()
	if len(createdAt) > 0 {
		now = createdAt[0].UTC()
	}
	rec := fee.NewRecord(student, term, Dec(amount), now)
	if paid > 0 {
		rec.AmountPaid = Dec(paid)
		rec.PaymentHistory = append(rec.PaymentHistory, fee.Payment{Amount: Dec(paid), Date: now, Method: "cash"})
		rec.PaymentDate = &now
		rec.PaymentMethod = "cash"
		rec.Paid = rec.AmountPaid.GreaterThanOrEqual(rec.Amount)
		rec.Viewable = rec.Paid
	}
	rec, err := fee.Issue(context.Background(), s.Fees, rec, fee.DefaultPinLength)
	if err != nil {
		t.Fatalf("CreateRecord() failed: %v", err)
	}
	return rec
}

// Records returns the records of a student for a term.
func Records(t *testing.T, s *Store, studentID string, term school.Term) []fee.Record {
	records, err := s.Fees.QueryRecords(context.Background(), fee.RecordFilter{
		StudentIDs: []string{studentID},
		Term:       term.Name,
		Session:    term.Session,
	})
	if err != nil {
		t.Fatalf("Records() failed: %v", err)
	}
	return records
}

// WaitTerminal polls the operation until it is completed or failed.
func WaitTerminal(t *testing.T, repo operation.Repository, id string) operation.Operation {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		op, err := repo.GetOperation(context.Background(), id)
		if err != nil {
			t.Fatalf("WaitTerminal() failed: %v", err)
		}
		if op.Status.Terminal() {
			return op
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("WaitTerminal(): operation %s did not finish", id)
	return operation.Operation{}
}
