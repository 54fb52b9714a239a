package fee

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupay/feeledger/core/school"
)

var (
	t0    = time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	term1 = school.Term{ID: "t1", Name: "First Term", Session: "2024/2025", IsActive: true}
	jss1  = school.Classroom{ID: "c1", Name: "JSS 1"}
)

func dec(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func record(id, studentID string, amount, paid int64, createdAt time.Time, payments ...Payment) Record {
	return Record{
		ID:             id,
		StudentID:      studentID,
		Term:           term1.Name,
		Session:        term1.Session,
		Amount:         dec(amount),
		AmountPaid:     dec(paid),
		Paid:           paid >= amount,
		Viewable:       paid >= amount,
		PaymentHistory: payments,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestRecord_Balance(t *testing.T) {
	assert.True(t, dec(5000).Equal(record("r1", "s1", 20000, 15000, t0).Balance()))
	assert.True(t, decimal.Zero.Equal(record("r1", "s1", 20000, 20000, t0).Balance()))
	assert.True(t, decimal.Zero.Equal(record("r1", "s1", 10000, 20000, t0).Balance()))
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
		wantID  string
	}{
		{
			name:    "single record",
			records: []Record{record("a", "s1", 20000, 0, t0)},
			wantID:  "a",
		},
		{
			name: "greatest amount paid wins",
			records: []Record{
				record("a", "s1", 20000, 0, t0),
				record("b", "s1", 20000, 5000, t0.Add(time.Hour)),
			},
			wantID: "b",
		},
		{
			name: "earliest created wins on equal payments",
			records: []Record{
				record("a", "s1", 20000, 0, t0.Add(time.Hour)),
				record("b", "s1", 20000, 0, t0),
			},
			wantID: "b",
		},
		{
			name: "lowest id breaks ties",
			records: []Record{
				record("z", "s1", 20000, 0, t0),
				record("m", "s1", 20000, 0, t0),
			},
			wantID: "m",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantID, Canonical(tt.records).ID)
		})
	}
}

func TestMerge(t *testing.T) {
	p1 := Payment{Amount: dec(5000), Date: t0.Add(time.Hour), Method: "cash", ReceiptNumber: "R1"}
	p2 := Payment{Amount: dec(3000), Date: t0.Add(2 * time.Hour), Method: "transfer", ReceiptNumber: "R2"}
	now := t0.Add(24 * time.Hour)

	t.Run("payments are unioned", func(t *testing.T) {
		keep := record("a", "s1", 20000, 5000, t0, p1)
		dup := record("b", "s1", 20000, 3000, t0.Add(time.Minute), p2)

		merged := Merge(keep, []Record{keep, dup}, now)
		require.Len(t, merged.PaymentHistory, 2)
		assert.Equal(t, "R1", merged.PaymentHistory[0].ReceiptNumber)
		assert.Equal(t, "R2", merged.PaymentHistory[1].ReceiptNumber)
		assert.True(t, dec(8000).Equal(merged.AmountPaid))
		assert.False(t, merged.Paid)
		assert.Equal(t, "transfer", merged.PaymentMethod)
		assert.Equal(t, "R2", merged.ReceiptNumber)
		assert.Equal(t, now, merged.UpdatedAt)
		assert.Equal(t, "a", merged.ID)
	})

	t.Run("identical payments count once", func(t *testing.T) {
		keep := record("a", "s1", 20000, 5000, t0, p1)
		dup := record("b", "s1", 20000, 5000, t0.Add(time.Minute), p1)

		merged := Merge(keep, []Record{dup}, now)
		assert.Len(t, merged.PaymentHistory, 1)
		assert.True(t, dec(5000).Equal(merged.AmountPaid))
	})

	t.Run("amount paid never decreases", func(t *testing.T) {
		// legacy record: paid without a history entry
		keep := record("a", "s1", 20000, 20000, t0)
		dup := record("b", "s1", 20000, 3000, t0.Add(time.Minute), p2)

		merged := Merge(keep, []Record{dup}, now)
		assert.True(t, dec(20000).Equal(merged.AmountPaid))
		assert.True(t, merged.Paid)
		assert.True(t, merged.Viewable)
	})

	t.Run("fully paid once merged", func(t *testing.T) {
		big := Payment{Amount: dec(15000), Date: t0.Add(3 * time.Hour), Method: "cash"}
		keep := record("a", "s1", 20000, 15000, t0, big)
		dup := record("b", "s1", 20000, 5000, t0.Add(time.Minute), p1)

		merged := Merge(keep, []Record{dup}, now)
		assert.True(t, dec(20000).Equal(merged.AmountPaid))
		assert.True(t, merged.Paid)
	})
}

func TestDiff(t *testing.T) {
	students := []school.Student{
		{ID: "s1", StudentID: "ADM/001", ClassroomID: "c1"},
		{ID: "s2", StudentID: "ADM/002", ClassroomID: "c1"},
		{ID: "s3", StudentID: "ADM/003", ClassroomID: "c1"},
	}
	structure := &Structure{ID: "fs", ClassroomID: "c1", TermID: "t1", Amount: dec(20000)}
	unit := Unit{Classroom: jss1, Term: term1}

	otherTerm := record("x", "s3", 20000, 0, t0)
	otherTerm.Term = "Second Term"

	records := []Record{
		record("a", "s1", 20000, 0, t0),
		record("b", "s1", 20000, 5000, t0.Add(time.Minute)),
		record("c", "s2", 18000, 0, t0),
		record("d", "gone", 20000, 0, t0), // not enrolled anymore
		otherTerm,
	}

	t.Run("with structure", func(t *testing.T) {
		res := Diff(unit, students, structure, records)

		assert.Equal(t, 3, res.Required)
		require.Len(t, res.Missing, 1)
		assert.Equal(t, "s3", res.Missing[0].ID)

		require.Len(t, res.Duplicates, 1)
		assert.Len(t, res.Duplicates[0], 2)
		assert.Equal(t, 1, res.SurplusRecords())

		require.Len(t, res.AmountMismatches, 1)
		assert.Equal(t, "c", res.AmountMismatches[0].ID)
		assert.Empty(t, res.Orphaned)
		assert.True(t, res.HasDrift())
	})

	t.Run("without structure", func(t *testing.T) {
		res := Diff(unit, students, nil, records)

		assert.Equal(t, 0, res.Required)
		assert.Empty(t, res.Missing)
		assert.Empty(t, res.AmountMismatches)
		assert.Len(t, res.Orphaned, 3)
		assert.Len(t, res.Duplicates, 1)
	})

	t.Run("in sync", func(t *testing.T) {
		in := []Record{
			record("a", "s1", 20000, 0, t0),
			record("b", "s2", 20000, 0, t0),
			record("c", "s3", 20000, 20000, t0),
		}
		res := Diff(unit, students, structure, in)
		assert.False(t, res.HasDrift())
		assert.Empty(t, res.AmountMismatches)
	})
}

func TestGeneratePin(t *testing.T) {
	pin, err := GeneratePin(0)
	require.NoError(t, err)
	assert.Len(t, pin, DefaultPinLength)

	pin, err = GeneratePin(6)
	require.NoError(t, err)
	assert.Len(t, pin, 6)
	for _, c := range pin {
		assert.True(t, c >= '0' && c <= '9', "unexpected pin char %q", c)
	}
}

func TestApplyAmount(t *testing.T) {
	rec := record("a", "s1", 20000, 20000, t0)
	now := t0.Add(time.Hour)

	got := ApplyAmount(rec, dec(25000), "new fee", "bursar", now)
	assert.True(t, dec(25000).Equal(got.Amount))
	assert.False(t, got.Paid)
	assert.False(t, got.Viewable)
	require.Len(t, got.Adjustments, 1)
	assert.True(t, dec(20000).Equal(got.Adjustments[0].PreviousAmount))
	assert.Equal(t, "bursar", got.Adjustments[0].By)
	assert.Equal(t, now, got.UpdatedAt)
	assert.Empty(t, rec.Adjustments)
}
