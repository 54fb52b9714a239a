package tests

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/edupay/feeledger/apps/api/echo"
	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/operation"
	"github.com/edupay/feeledger/core/reconcile"
	"github.com/edupay/feeledger/tests"
)

// seedBackfill enrolls 30 students of which 28 already have a record.
func seedBackfill(t *testing.T, a *app) {
	testutil.AddClassroom(a.store, "jss1", "JSS 1")
	term := testutil.AddTerm(a.store, "t1", "First Term", "2024/2025", true)
	students := testutil.AddStudents(a.store, "jss1", 30)
	testutil.CreateStructure(t, a.store, "jss1", "t1", 20000)
	for _, s := range students[:28] {
		testutil.CreateRecord(t, a.store, s, term, 20000, 0)
	}
}

func Test_syncApi_reconcileBackfill(t *testing.T) {
	a := setup(t)
	seedBackfill(t, a)

	rec := a.do(http.MethodPost, "/admin/fees/reconcile/backfill", []byte(`{"classroomId": "jss1", "termId": "t1"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp OperationResponse
	unmarshal(t, rec, &resp)
	assert.Equal(t, resp.Operation.ID, resp.OperationID)
	assert.Equal(t, operation.StatusCompleted, resp.Operation.Status)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 2, resp.Stats.FeesBackfilled)
	assert.Equal(t, 2, resp.Stats.Created)
	assert.NotNil(t, resp.Operation.FinishedAt)

	// nothing left to do
	rec = a.do(http.MethodPost, "/admin/fees/reconcile/backfill", []byte(`{"classroomId": "jss1", "termId": "t1"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	unmarshal(t, rec, &resp)
	assert.Equal(t, 0, resp.Stats.FeesBackfilled)
}

func Test_syncApi_reconcileUnknownScope(t *testing.T) {
	a := setup(t)
	testutil.AddClassroom(a.store, "jss1", "JSS 1")

	tests := []httpTest{
		{
			name: "unknown classroom", method: http.MethodPost, path: "/admin/fees/reconcile/full", token: a.token,
			body: []byte(`{"classroomId": "nope"}`), wantCode: http.StatusBadRequest, wantData: []byte(`{"classroomId": "classroom not found"}`),
		},
		{
			name: "unknown body term", method: http.MethodPost, path: "/admin/fees/reconcile/backfill", token: a.token,
			body: []byte(`{"termId": "nope"}`), wantCode: http.StatusBadRequest, wantData: []byte(`{"termId": "term not found"}`),
		},
		{
			name: "sync-all unknown classroom", method: http.MethodPost, path: "/admin/fees/sync-all", token: a.token,
			body: []byte(`{"classroomId": "nope"}`), wantCode: http.StatusBadRequest, wantData: []byte(`{"classroomId": "classroom not found"}`),
		},
		{
			name: "unknown term", method: http.MethodPost, path: "/admin/fees/terms/nope/sync", token: a.token,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "term not found"}),
		},
		{name: "unknown action", method: http.MethodPost, path: "/admin/fees/reconcile/purge", token: a.token, wantCode: http.StatusNotFound},
	}
	runHTTPTests(t, a, tests)
}

func Test_syncApi_syncAll(t *testing.T) {
	a := setup(t)
	seedBackfill(t, a)

	rec := a.do(http.MethodPost, "/admin/fees/sync-all", []byte(`{}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp OperationResponse
	unmarshal(t, rec, &resp)
	require.NotEmpty(t, resp.OperationID)
	assert.Equal(t, operation.TypeSync, resp.Operation.Type)
	assert.Nil(t, resp.Stats)

	op := testutil.WaitTerminal(t, a.store.Operations, resp.OperationID)
	assert.Equal(t, operation.StatusCompleted, op.Status)
	assert.Equal(t, 2, op.Summary.Created)
	assert.Equal(t, 0, op.Summary.Updated)
	require.Len(t, op.Results, 1)
	assert.Equal(t, "JSS 1", op.Results[0].ClassroomName)

	t.Run("poll", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/admin/fees/operations/"+resp.OperationID)
		require.Equal(t, http.StatusOK, rec.Code)

		var got operation.Operation
		unmarshal(t, rec, &got)
		assert.Equal(t, operation.StatusCompleted, got.Status)
		assert.Equal(t, 2, got.Summary.Created)
	})

	t.Run("list", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/admin/fees/operations?status=completed&type=sync")
		require.Equal(t, http.StatusOK, rec.Code)

		var ops []operation.Operation
		unmarshal(t, rec, &ops)
		require.Len(t, ops, 1)
		assert.Equal(t, resp.OperationID, ops[0].ID)
	})
}

func Test_syncApi_syncAllWhileRunning(t *testing.T) {
	a := setup(t)
	seedBackfill(t, a)

	// keep the first sync parked on its unit
	release, err := a.locker.Lock(context.Background(), core.ScopeKey("jss1", "t1"))
	require.NoError(t, err)
	defer release()

	rec := a.do(http.MethodPost, "/admin/fees/sync-all", []byte(`{}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var first OperationResponse
	unmarshal(t, rec, &first)

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "same scope", path: "/admin/fees/sync-all", body: `{}`},
		{name: "narrower scope", path: "/admin/fees/sync-all", body: `{"classroomId": "jss1"}`},
		{name: "term sync", path: "/admin/fees/terms/t1/sync", body: `{}`},
		{name: "reconciliation", path: "/admin/fees/reconcile/full", body: `{"classroomId": "jss1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(http.MethodPost, tt.path, []byte(tt.body))
			require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
			var got httpErr
			unmarshal(t, rec, &got)
			assert.Contains(t, got.Error, first.OperationID)
		})
	}

	release()
	op := testutil.WaitTerminal(t, a.store.Operations, first.OperationID)
	assert.Equal(t, operation.StatusCompleted, op.Status)
	assert.Equal(t, 2, op.Summary.Created)

	rec = a.do(http.MethodPost, "/admin/fees/sync-all", []byte(`{}`))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func Test_syncApi_termSyncAmountChanges(t *testing.T) {
	a := setup(t)
	testutil.AddClassroom(a.store, "jss1", "JSS 1")
	term := testutil.AddTerm(a.store, "t1", "First Term", "2024/2025", true)
	students := testutil.AddStudents(a.store, "jss1", 2)
	s := testutil.CreateStructure(t, a.store, "jss1", "t1", 20000)
	testutil.CreateRecord(t, a.store, students[0], term, 20000, 0)

	rec := a.do(http.MethodPut, "/admin/fees/structures/"+s.ID, []byte(`{"amount": 25000}`))
	require.Equal(t, http.StatusOK, rec.Code)

	sync := func(body string) operation.Operation {
		rec := a.do(http.MethodPost, "/admin/fees/terms/t1/sync", []byte(body))
		require.Equal(t, http.StatusAccepted, rec.Code)
		var resp OperationResponse
		unmarshal(t, rec, &resp)
		return testutil.WaitTerminal(t, a.store.Operations, resp.OperationID)
	}

	op := sync(`{}`)
	assert.Equal(t, 1, op.Summary.Created)
	assert.Equal(t, 0, op.Summary.Updated)
	assert.Equal(t, 1, op.Summary.AmountMismatches)
	assert.True(t, testutil.Records(t, a.store, students[0].ID, term)[0].Amount.Equal(testutil.Dec(20000)))
	assert.True(t, testutil.Records(t, a.store, students[1].ID, term)[0].Amount.Equal(testutil.Dec(25000)))

	op = sync(`{"applyAmountChanges": true}`)
	assert.Equal(t, 0, op.Summary.Created)
	assert.Equal(t, 1, op.Summary.Updated)
	assert.True(t, testutil.Records(t, a.store, students[0].ID, term)[0].Amount.Equal(testutil.Dec(25000)))
}

func Test_syncApi_operations(t *testing.T) {
	a := setup(t)

	tests := []httpTest{
		{
			name: "not found", path: "/admin/fees/operations/nope", token: a.token,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: operation.ErrNotFound.Error()}),
		},
		{
			name: "bad status", path: "/admin/fees/operations?status=paused", token: a.token,
			wantCode: http.StatusBadRequest, wantData: []byte(`{"status": "unknown operation status"}`),
		},
		{
			name: "bad limit", path: "/admin/fees/operations?limit=lots", token: a.token,
			wantCode: http.StatusBadRequest, wantData: []byte(`{"limit": "limit must be a positive number"}`),
		},
		{name: "empty", path: "/admin/fees/operations", token: a.token, wantCode: http.StatusOK, wantData: []byte(`[]`)},
	}
	runHTTPTests(t, a, tests)
}

func Test_syncApi_healthCheck(t *testing.T) {
	a := setup(t)
	seedBackfill(t, a)

	report := func() reconcile.HealthReport {
		rec := a.do(http.MethodGet, "/admin/fees/health-check")
		require.Equal(t, http.StatusOK, rec.Code)
		var r reconcile.HealthReport
		unmarshal(t, rec, &r)
		return r
	}

	before := report()
	assert.Equal(t, 30, before.Summary.TotalStudents)
	assert.Equal(t, 2, before.Summary.StudentsWithMissingFees)
	assert.Equal(t, 2, before.Summary.TotalFeeDiscrepancies)
	assert.Equal(t, reconcile.StatusWarning, before.HealthStatus.Status)
	assert.Len(t, before.Details.MissingFees, 2)

	rec := a.do(http.MethodPost, "/admin/fees/reconcile/full", []byte(`{}`))
	require.Equal(t, http.StatusOK, rec.Code)

	after := report()
	assert.Equal(t, 0, after.Summary.TotalFeeDiscrepancies)
	assert.Equal(t, reconcile.StatusHealthy, after.HealthStatus.Status)
	assert.WithinDuration(t, time.Now(), after.GeneratedAt, time.Minute)

	rec = a.do(http.MethodGet, "/admin/fees/health-check?termId=nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
