package fee

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/edupay/feeledger/core/school"
)

const (
	DefaultPinLength = 10
	pinAttempts      = 5
)

var pinDigits = big.NewInt(10)

// GeneratePin returns a random numeric pin of the given length.
func GeneratePin(length int) (string, error) {
	if length <= 0 {
		length = DefaultPinLength
	}
	pin := make([]byte, length)
	for i := range pin {
		n, err := rand.Int(rand.Reader, pinDigits)
		if err != nil {
			return "", errors.Wrap(err, "reading random digit")
		}
		pin[i] = byte('0' + n.Int64())
	}
	return string(pin), nil
}

// NewRecord builds an unpaid record owing amount for the student's term.
func NewRecord(student school.Student, term school.Term, amount decimal.Decimal, now time.Time) Record {
	return Record{
		ID:             uuid.New().String(),
		StudentID:      student.ID,
		Term:           term.Name,
		Session:        term.Session,
		Amount:         amount,
		AmountPaid:     decimal.Zero,
		Paid:           false,
		Viewable:       false,
		PaymentHistory: []Payment{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Issue stores rec with a fresh pin, drawing a new pin when the store reports a collision.
func Issue(ctx context.Context, repo Repository, rec Record, pinLength int) (Record, error) {
	var lastErr error
	for attempt := 0; attempt < pinAttempts; attempt++ {
		pin, err := GeneratePin(pinLength)
		if err != nil {
			return Record{}, err
		}
		rec.PinCode = pin
		created, err := repo.CreateRecord(ctx, rec)
		if err == nil {
			return created, nil
		}
		if errors.Cause(err) != ErrDuplicatePin {
			return Record{}, errors.Wrap(err, "creating fee record")
		}
		lastErr = err
	}
	return Record{}, errors.Wrap(lastErr, "issuing unique pin")
}
