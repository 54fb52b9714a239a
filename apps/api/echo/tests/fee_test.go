package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/edupay/feeledger/apps/api/echo"
	"github.com/edupay/feeledger/core/fee"
	"github.com/edupay/feeledger/tests"
)

func Test_structureApi_auth(t *testing.T) {
	a := setup(t)

	tests := []httpTest{
		{name: "Auth required", path: "/admin/fees/structures", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/admin/fees/structures", token: getToken(t, a.conf),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "admin without a fee role", path: "/admin/fees/structures", token: getToken(t, a.conf, "accountant"),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{name: "superadmin", path: "/admin/fees/structures", token: getToken(t, a.conf, RoleSuperAdmin), wantCode: http.StatusOK, wantData: []byte(`[]`)},
		{name: "trailing slash", path: "/admin/fees/structures/", token: a.token, wantCode: http.StatusOK, wantData: []byte(`[]`)},
	}
	runHTTPTests(t, a, tests)
}

func Test_structureApi_create(t *testing.T) {
	a := setup(t)
	testutil.AddClassroom(a.store, "jss1", "JSS 1")
	testutil.AddTerm(a.store, "t1", "First Term", "2024/2025", true)

	tests := []httpTest{
		{
			name: "unknown classroom", method: http.MethodPost, path: "/admin/fees/structures", token: a.token,
			body:     []byte(`{"classroomId": "nope", "termId": "t1", "amount": 20000}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "classroom not found"}),
		},
		{
			name: "unknown term", method: http.MethodPost, path: "/admin/fees/structures", token: a.token,
			body:     []byte(`{"classroomId": "jss1", "termId": "nope", "amount": 20000}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "term not found"}),
		},
		{
			name: "missing fields", method: http.MethodPost, path: "/admin/fees/structures", token: a.token,
			body:     []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"classroomId": "this field is required", "termId": "this field is required", "amount": "this field is required"}`),
		},
		{
			name: "blank classroom", method: http.MethodPost, path: "/admin/fees/structures", token: a.token,
			body:     []byte(`{"classroomId": "  ", "termId": "t1", "amount": 100}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"classroomId": "classroomId must not be blank"}`),
		},
		{
			name: "created", method: http.MethodPost, path: "/admin/fees/structures", token: a.token,
			body:     []byte(`{"classroomId": "jss1", "termId": "t1", "amount": 20000}`),
			wantCode: http.StatusCreated,
		},
		{
			name: "duplicate", method: http.MethodPost, path: "/admin/fees/structures", token: a.token,
			body:     []byte(`{"classroomId": "jss1", "termId": "t1", "amount": 25000}`),
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: fee.ErrStructureExists.Error()}),
		},
	}
	runHTTPTests(t, a, tests)

	rec := a.do(http.MethodGet, "/admin/fees/structures?classroomId=jss1")
	require.Equal(t, http.StatusOK, rec.Code)
	var structures []fee.Structure
	unmarshal(t, rec, &structures)
	require.Len(t, structures, 1)
	assert.Equal(t, "t1", structures[0].TermID)
	assert.True(t, structures[0].Amount.Equal(testutil.Dec(20000)))
}

func Test_structureApi_negativeAmount(t *testing.T) {
	a := setup(t)
	testutil.AddClassroom(a.store, "jss1", "JSS 1")
	testutil.AddTerm(a.store, "t1", "First Term", "2024/2025", true)

	rec := a.do(http.MethodPost, "/admin/fees/structures", []byte(`{"classroomId": "jss1", "termId": "t1", "amount": -5}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var fldErrs map[string]string
	unmarshal(t, rec, &fldErrs)
	assert.Contains(t, fldErrs, "amount")
}

func Test_structureApi_update(t *testing.T) {
	a := setup(t)
	testutil.AddClassroom(a.store, "jss1", "JSS 1")
	term := testutil.AddTerm(a.store, "t1", "First Term", "2024/2025", true)
	students := testutil.AddStudents(a.store, "jss1", 2)
	s := testutil.CreateStructure(t, a.store, "jss1", "t1", 20000)
	issued := testutil.CreateRecord(t, a.store, students[0], term, 20000, 0)

	tests := []httpTest{
		{
			name: "not found", method: http.MethodPut, path: "/admin/fees/structures/nope", token: a.token,
			body:     []byte(`{"amount": 25000}`),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: fee.ErrStructureNotFound.Error()}),
		},
		{
			name: "updated", method: http.MethodPut, path: "/admin/fees/structures/" + s.ID, token: a.token,
			body:     []byte(`{"amount": 25000}`),
			wantCode: http.StatusOK,
		},
	}
	runHTTPTests(t, a, tests)

	// issued records keep their amount
	records := testutil.Records(t, a.store, students[0].ID, term)
	require.Len(t, records, 1)
	assert.Equal(t, issued.ID, records[0].ID)
	assert.True(t, records[0].Amount.Equal(testutil.Dec(20000)))
}

func Test_structureApi_delete(t *testing.T) {
	a := setup(t)
	testutil.AddClassroom(a.store, "jss1", "JSS 1")
	testutil.AddClassroom(a.store, "jss2", "JSS 2")
	term := testutil.AddTerm(a.store, "t1", "First Term", "2024/2025", true)
	students := testutil.AddStudents(a.store, "jss1", 3)
	s := testutil.CreateStructure(t, a.store, "jss1", "t1", 20000)
	empty := testutil.CreateStructure(t, a.store, "jss2", "t1", 15000)
	testutil.CreateRecord(t, a.store, students[0], term, 20000, 20000)
	testutil.CreateRecord(t, a.store, students[1], term, 20000, 5000)
	testutil.CreateRecord(t, a.store, students[2], term, 20000, 0)

	path := "/admin/fees/structures/" + s.ID

	t.Run("structure without records", func(t *testing.T) {
		rec := a.do(http.MethodDelete, "/admin/fees/structures/"+empty.ID)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("records depend on it", func(t *testing.T) {
		rec := a.do(http.MethodDelete, path)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("preview", func(t *testing.T) {
		rec := a.do(http.MethodGet, path+"/preview-delete")
		require.Equal(t, http.StatusOK, rec.Code)

		var impact fee.DeleteImpact
		unmarshal(t, rec, &impact)
		assert.Equal(t, "JSS 1", impact.ClassroomName)
		assert.Equal(t, "First Term", impact.TermName)
		assert.Equal(t, 3, impact.AffectedStudents)
		assert.Equal(t, 3, impact.RecordsToDelete)
		assert.Equal(t, 1, impact.PaidRecords)
		assert.Equal(t, 1, impact.PartiallyPaidRecords)
		assert.True(t, impact.TotalAmountPaid.Equal(testutil.Dec(25000)))
		assert.True(t, impact.RequiresConfirmation)
	})

	t.Run("confirmation required", func(t *testing.T) {
		rec := a.do(http.MethodPost, path+"/confirm-delete", []byte(`{"confirm": false}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Len(t, testutil.Records(t, a.store, students[0].ID, term), 1)
	})

	t.Run("confirmed", func(t *testing.T) {
		rec := a.do(http.MethodPost, path+"/confirm-delete", []byte(`{"confirm": true}`))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ConfirmDeleteResponse
		unmarshal(t, rec, &resp)
		assert.Equal(t, 3, resp.Impact.RecordsToDelete)
		for _, s := range students {
			assert.Empty(t, testutil.Records(t, a.store, s.ID, term))
		}

		rec = a.do(http.MethodGet, path+"/preview-delete")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_ledgerApi_pay(t *testing.T) {
	a := setup(t)
	testutil.AddClassroom(a.store, "jss1", "JSS 1")
	term := testutil.AddTerm(a.store, "t1", "First Term", "2024/2025", true)
	students := testutil.AddStudents(a.store, "jss1", 2)
	testutil.CreateRecord(t, a.store, students[0], term, 20000, 0)

	payPath := "/admin/fees/students/" + students[0].ID + "/pay"
	payment := func(amount int) []byte {
		return marchallObj(t, map[string]interface{}{
			"term": "First Term", "session": "2024/2025", "paymentAmount": amount, "paymentMethod": "transfer",
		})
	}

	tests := []httpTest{
		{
			name: "unknown student", method: http.MethodPost, path: "/admin/fees/students/nope/pay", token: a.token,
			body: payment(5000), wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "student not found"}),
		},
		{
			name: "no record", method: http.MethodPost, path: "/admin/fees/students/" + students[1].ID + "/pay", token: a.token,
			body: payment(5000), wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: fee.ErrRecordNotFound.Error()}),
		},
		{
			name: "unknown term", method: http.MethodPost, path: payPath, token: a.token,
			body:     []byte(`{"term": "Fourth Term", "session": "2024/2025", "paymentAmount": 5000}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "zero payment", method: http.MethodPost, path: payPath, token: a.token,
			body: payment(0), wantCode: http.StatusBadRequest,
		},
		{name: "first payment", method: http.MethodPost, path: payPath, token: a.token, body: payment(5000), wantCode: http.StatusOK},
		{name: "second payment", method: http.MethodPost, path: payPath, token: a.token, body: payment(3000), wantCode: http.StatusOK},
		{
			name: "overpayment", method: http.MethodPost, path: payPath, token: a.token,
			body: payment(13000), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "payment exceeds the outstanding balance of 12000.00 NGN"}),
		},
	}
	runHTTPTests(t, a, tests)

	records := testutil.Records(t, a.store, students[0].ID, term)
	require.Len(t, records, 1)
	got := records[0]
	assert.True(t, got.AmountPaid.Equal(testutil.Dec(8000)))
	assert.False(t, got.Paid)
	assert.False(t, got.Viewable)
	require.Len(t, got.PaymentHistory, 2)
	assert.True(t, got.PaymentHistory[0].Amount.Equal(testutil.Dec(5000)))
	assert.True(t, got.PaymentHistory[1].Amount.Equal(testutil.Dec(3000)))
	assert.Equal(t, "bursar", got.PaymentHistory[1].RecordedBy)
	assert.Equal(t, "bursar", got.UpdatedBy)

	t.Run("settles the record", func(t *testing.T) {
		rec := a.do(http.MethodPost, payPath, payment(12000))
		require.Equal(t, http.StatusOK, rec.Code)

		var r fee.Record
		unmarshal(t, rec, &r)
		assert.True(t, r.Paid)
		assert.True(t, r.Viewable)
		assert.True(t, r.Balance().IsZero())

		rec = a.do(http.MethodPost, payPath, payment(1))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func Test_ledgerApi_adjust(t *testing.T) {
	a := setup(t)
	testutil.AddClassroom(a.store, "jss1", "JSS 1")
	term := testutil.AddTerm(a.store, "t1", "First Term", "2024/2025", true)
	students := testutil.AddStudents(a.store, "jss1", 1)
	testutil.CreateRecord(t, a.store, students[0], term, 20000, 15000)

	path := "/admin/fees/students/" + students[0].ID + "/adjust"

	tests := []httpTest{
		{
			name: "reason required", method: http.MethodPost, path: path, token: a.token,
			body:     []byte(`{"term": "First Term", "session": "2024/2025", "amount": 15000}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"reason": "this field is required"}`),
		},
		{
			name: "below paid", method: http.MethodPost, path: path, token: a.token,
			body:     []byte(`{"term": "First Term", "session": "2024/2025", "amount": 10000, "reason": "scholarship"}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "adjusted", method: http.MethodPost, path: path, token: a.token,
			body:     []byte(`{"term": "First Term", "session": "2024/2025", "amount": 15000, "reason": "scholarship"}`),
			wantCode: http.StatusOK,
		},
	}
	runHTTPTests(t, a, tests)

	records := testutil.Records(t, a.store, students[0].ID, term)
	require.Len(t, records, 1)
	got := records[0]
	assert.True(t, got.Amount.Equal(testutil.Dec(15000)))
	assert.True(t, got.Paid)
	require.Len(t, got.Adjustments, 1)
	assert.True(t, got.Adjustments[0].PreviousAmount.Equal(testutil.Dec(20000)))
	assert.Equal(t, "scholarship", got.Adjustments[0].Reason)
}

func Test_ledgerApi_studentFeesAndArrears(t *testing.T) {
	a := setup(t)
	testutil.AddClassroom(a.store, "jss1", "JSS 1")
	t1 := testutil.AddTerm(a.store, "t1", "First Term", "2024/2025", true)
	t2 := testutil.AddTerm(a.store, "t2", "Second Term", "2024/2025", false)
	students := testutil.AddStudents(a.store, "jss1", 2)
	testutil.CreateRecord(t, a.store, students[0], t1, 20000, 20000)
	testutil.CreateRecord(t, a.store, students[0], t2, 20000, 5000)
	testutil.CreateRecord(t, a.store, students[1], t1, 20000, 0)

	t.Run("student fees", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/admin/fees/students/"+students[0].ID+"/fees")
		require.Equal(t, http.StatusOK, rec.Code)

		var fees fee.StudentFees
		unmarshal(t, rec, &fees)
		assert.Equal(t, students[0].ID, fees.Student.ID)
		assert.Len(t, fees.Records, 2)
		assert.True(t, fees.TotalAmount.Equal(testutil.Dec(40000)))
		assert.True(t, fees.TotalPaid.Equal(testutil.Dec(25000)))
		assert.True(t, fees.Balance.Equal(testutil.Dec(15000)))
		assert.Equal(t, "NGN", fees.Currency)
	})

	t.Run("unknown student", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/admin/fees/students/nope/fees")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("arrears", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/admin/fees/arrears")
		require.Equal(t, http.StatusOK, rec.Code)

		var entries []fee.ArrearsEntry
		unmarshal(t, rec, &entries)
		assert.Len(t, entries, 2)

		rec = a.do(http.MethodGet, "/admin/fees/arrears?termId=t1")
		require.Equal(t, http.StatusOK, rec.Code)
		unmarshal(t, rec, &entries)
		require.Len(t, entries, 1)
		assert.Equal(t, students[1].ID, entries[0].StudentID)
		assert.True(t, entries[0].Balance.Equal(testutil.Dec(20000)))
	})
}
