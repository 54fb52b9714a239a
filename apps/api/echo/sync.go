package echoapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/operation"
	"github.com/edupay/feeledger/core/reconcile"
	"github.com/edupay/feeledger/core/school"
)

type (
	SyncRequest struct {
		ClassroomID        string `json:"classroomId"`
		ApplyAmountChanges bool   `json:"applyAmountChanges"`
	}

	TermSyncRequest struct {
		ApplyAmountChanges bool `json:"applyAmountChanges"`
	}

	ReconcileRequest struct {
		ClassroomID string `json:"classroomId"`
		TermID      string `json:"termId"`
	}

	OperationResponse struct {
		Message     string              `json:"message"`
		OperationID string              `json:"operationId"`
		Operation   operation.Operation `json:"operation"`
		Stats       *operation.Summary  `json:"stats,omitempty"`
	}
)

type syncApi struct {
	engine   *reconcile.Engine
	tracker  *operation.Tracker
	reporter *reconcile.Reporter
	wait     time.Duration
}

func registerSyncAPI(g *echo.Group, engine *reconcile.Engine, tracker *operation.Tracker, reporter *reconcile.Reporter, wait time.Duration) {
	api := syncApi{
		engine:   engine,
		tracker:  tracker,
		reporter: reporter,
		wait:     wait,
	}

	g.POST("/sync-all", api.syncAll)
	g.POST("/terms/:termId/sync", api.syncTerm)

	g.GET("/operations", api.queryOperations)
	g.GET("/operations/:operationId", api.retrieveOperation)

	g.GET("/health-check", api.healthCheck)

	rg := g.Group("/reconcile")
	rg.POST("/deduplicate", api.reconcile(operation.TypeDeduplicate))
	rg.POST("/backfill", api.reconcile(operation.TypeBackfill))
	rg.POST("/full", api.reconcile(operation.TypeFull))
}

func (api *syncApi) syncAll(ctx echo.Context) error {
	var data SyncRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SyncRequest")
	}

	scope := operation.Scope{ClassroomID: core.CleanString(data.ClassroomID)}
	opts := operation.Options{ApplyAmountChanges: data.ApplyAmountChanges}
	op, _, err := api.engine.Submit(ctx.Request().Context(), operation.TypeSync, scope, opts)
	if err != nil {
		return errors.Wrap(err, "submitting sync")
	}
	return ctx.JSON(http.StatusAccepted, OperationResponse{
		Message:     "Fee sync started; poll the operation for progress.",
		OperationID: op.ID,
		Operation:   op,
	})
}

func (api *syncApi) syncTerm(ctx echo.Context) error {
	var data TermSyncRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TermSyncRequest")
	}

	scope := operation.Scope{TermID: ctx.Param("termId")}
	opts := operation.Options{ApplyAmountChanges: data.ApplyAmountChanges}
	op, _, err := api.engine.Submit(ctx.Request().Context(), operation.TypeSync, scope, opts)
	if err != nil {
		// the term comes from the path, not the body
		if reconcile.IsUnknownTerm(err) {
			return school.ErrTermNotFound
		}
		return errors.Wrap(err, "submitting term sync")
	}
	return ctx.JSON(http.StatusAccepted, OperationResponse{
		Message:     "Term fee sync started; poll the operation for progress.",
		OperationID: op.ID,
		Operation:   op,
	})
}

// reconcile enqueues typ and waits for it up to api.wait before answering 202.
func (api *syncApi) reconcile(typ operation.Type) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		var data ReconcileRequest
		if err := ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to ReconcileRequest")
		}

		scope := operation.Scope{
			ClassroomID: core.CleanString(data.ClassroomID),
			TermID:      core.CleanString(data.TermID),
		}
		op, done, err := api.engine.Submit(ctx.Request().Context(), typ, scope, operation.Options{})
		if err != nil {
			return errors.Wrap(err, "submitting reconciliation")
		}

		timer := time.NewTimer(api.wait)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
		case <-ctx.Request().Context().Done():
		}

		if op, err = api.tracker.Get(ctx.Request().Context(), op.ID); err != nil {
			return errors.Wrap(err, "getting operation")
		}
		if !op.Status.Terminal() {
			return ctx.JSON(http.StatusAccepted, OperationResponse{
				Message:     fmt.Sprintf("Reconciliation (%s) is still running; poll the operation for progress.", typ),
				OperationID: op.ID,
				Operation:   op,
			})
		}

		stats := op.Summary
		return ctx.JSON(http.StatusOK, OperationResponse{
			Message:     fmt.Sprintf("Reconciliation (%s) %s.", typ, op.Status),
			OperationID: op.ID,
			Operation:   op,
			Stats:       &stats,
		})
	}
}

func (api *syncApi) retrieveOperation(ctx echo.Context) error {
	op, err := api.tracker.Get(ctx.Request().Context(), ctx.Param("operationId"))
	if err != nil {
		return errors.Wrap(err, "getting operation")
	}
	return ctx.JSON(http.StatusOK, op)
}

func (api *syncApi) queryOperations(ctx echo.Context) error {
	filter := operation.QueryFilter{
		Status: operation.Status(ctx.QueryParam("status")),
		Type:   operation.Type(ctx.QueryParam("type")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return core.NewValidationError(nil, core.FieldError{Field: "status", Error: "unknown operation status"})
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return core.NewValidationError(nil, core.FieldError{Field: "type", Error: "unknown operation type"})
	}
	if limit := ctx.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return core.NewValidationError(nil, core.FieldError{Field: "limit", Error: "limit must be a positive number"})
		}
		filter.Limit = n
	}

	ops, err := api.tracker.List(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "listing operations")
	}
	return ctx.JSON(http.StatusOK, ops)
}

func (api *syncApi) healthCheck(ctx echo.Context) error {
	report, err := api.reporter.Report(ctx.Request().Context(), core.CleanString(ctx.QueryParam("termId")))
	if err != nil {
		return errors.Wrap(err, "building health report")
	}
	return ctx.JSON(http.StatusOK, report)
}
