package fee

import (
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Structure is the amount owed by every student of a classroom for a term.
type Structure struct {
	ID          string          `json:"id"`
	ClassroomID string          `json:"classroomId"`
	TermID      string          `json:"termId"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"createdAt"` // UTC
	UpdatedAt   time.Time       `json:"updatedAt"` // UTC
}

type Payment struct {
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"` // UTC
	Method        string          `json:"method,omitempty"`
	ReceiptNumber string          `json:"receiptNumber,omitempty"`
	RecordedBy    string          `json:"recordedBy,omitempty"`
}

// Adjustment is an audited change of a record's owed amount.
type Adjustment struct {
	PreviousAmount decimal.Decimal `json:"previousAmount"`
	NewAmount      decimal.Decimal `json:"newAmount"`
	Reason         string          `json:"reason"`
	By             string          `json:"by,omitempty"`
	At             time.Time       `json:"at"` // UTC
}

// Key identifies the single record a healthy ledger holds per student, term and session.
type Key struct {
	StudentID string
	Term      string
	Session   string
}

// Record is a student's fee obligation for one term.
// Invariants: Paid == (AmountPaid >= Amount); Viewable implies Paid; PaymentHistory is append-only.
type Record struct {
	ID             string          `json:"id"`
	StudentID      string          `json:"studentId"`
	Term           string          `json:"term"`
	Session        string          `json:"session"`
	Amount         decimal.Decimal `json:"amount"`
	AmountPaid     decimal.Decimal `json:"amountPaid"`
	Paid           bool            `json:"paid"`
	PinCode        string          `json:"pinCode"`
	Viewable       bool            `json:"viewable"`
	PaymentHistory []Payment       `json:"paymentHistory"`
	PaymentDate    *time.Time      `json:"paymentDate,omitempty"`
	PaymentMethod  string          `json:"paymentMethod,omitempty"`
	ReceiptNumber  string          `json:"receiptNumber,omitempty"`
	UpdatedBy      string          `json:"updatedBy,omitempty"`
	Adjustments    []Adjustment    `json:"adjustments,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"` // UTC
	UpdatedAt      time.Time       `json:"updatedAt"` // UTC
}

func (r Record) Key() Key {
	return Key{StudentID: r.StudentID, Term: r.Term, Session: r.Session}
}

func (r Record) Balance() decimal.Decimal {
	if bal := r.Amount.Sub(r.AmountPaid); bal.IsPositive() {
		return bal
	}
	return decimal.Zero
}

// settle recomputes the derived payment flags.
func (r *Record) settle() {
	r.Paid = r.AmountPaid.GreaterThanOrEqual(r.Amount)
	r.Viewable = r.Paid
}

// Canonical picks the record that survives among records sharing a Key:
// greatest AmountPaid, then earliest CreatedAt, then lowest ID.
func Canonical(records []Record) Record {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.AmountPaid.Equal(b.AmountPaid) {
			return a.AmountPaid.GreaterThan(b.AmountPaid)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return sorted[0]
}

// GroupByKey groups records by Key, preserving input order inside each group.
func GroupByKey(records []Record) map[Key][]Record {
	groups := make(map[Key][]Record, len(records))
	for _, r := range records {
		groups[r.Key()] = append(groups[r.Key()], r)
	}
	return groups
}

// NewStructure contains information needed to create a new Structure.
type NewStructure struct {
	ClassroomID string           `json:"classroomId" validate:"required,notblank"`
	TermID      string           `json:"termId" validate:"required,notblank"`
	Amount      *decimal.Decimal `json:"amount" validate:"required,gte=0"`
}

func (ns *NewStructure) Validate(validate *validator.Validate) error {
	return validate.Struct(ns)
}

// UpdateStructure changes the amount charged for future records only.
type UpdateStructure struct {
	Amount *decimal.Decimal `json:"amount" validate:"required,gte=0"`
}

func (us *UpdateStructure) Validate(validate *validator.Validate) error {
	return validate.Struct(us)
}

type NewPayment struct {
	Term          string           `json:"term" validate:"required,notblank"`
	Session       string           `json:"session" validate:"required,notblank"`
	PaymentAmount *decimal.Decimal `json:"paymentAmount" validate:"required,gt=0"`
	PaymentMethod string           `json:"paymentMethod"`
	ReceiptNumber string           `json:"receiptNumber"`
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	return validate.Struct(np)
}

type AmountAdjustment struct {
	Term    string           `json:"term" validate:"required,notblank"`
	Session string           `json:"session" validate:"required,notblank"`
	Amount  *decimal.Decimal `json:"amount" validate:"required,gte=0"`
	Reason  string           `json:"reason" validate:"required,notblank"`
}

func (aa *AmountAdjustment) Validate(validate *validator.Validate) error {
	return validate.Struct(aa)
}

type StructureFilter struct {
	ClassroomID string
	TermID      string
}

type RecordFilter struct {
	StudentIDs []string
	Term       string
	Session    string
	UnpaidOnly bool
}
