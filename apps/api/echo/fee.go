package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/fee"
)

type (
	ConfirmDeleteRequest struct {
		Confirm bool `json:"confirm"`
	}

	ConfirmDeleteResponse struct {
		Message string           `json:"message"`
		Impact  fee.DeleteImpact `json:"impact"`
	}
)

type structureApi struct {
	svc      *fee.StructureService
	validate *validator.Validate
}

func registerStructureAPI(g *echo.Group, svc *fee.StructureService, validate *validator.Validate) {
	api := structureApi{
		svc:      svc,
		validate: validate,
	}

	sg := g.Group("/structures")
	sg.GET("", api.query)
	sg.POST("", api.create)
	sg.PUT("/:id", api.update)
	sg.DELETE("/:id", api.destroy)
	sg.GET("/:id/preview-delete", api.previewDelete)
	sg.POST("/:id/confirm-delete", api.confirmDelete)
}

func (api *structureApi) query(ctx echo.Context) error {
	filter := fee.StructureFilter{
		ClassroomID: core.CleanString(ctx.QueryParam("classroomId")),
		TermID:      core.CleanString(ctx.QueryParam("termId")),
	}
	structures, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying fee structures")
	}
	return ctx.JSON(http.StatusOK, structures)
}

func (api *structureApi) create(ctx echo.Context) error {
	var data fee.NewStructure
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStructure")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	s, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating fee structure")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *structureApi) update(ctx echo.Context) error {
	var data fee.UpdateStructure
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStructure")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	s, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating fee structure")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *structureApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting fee structure")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *structureApi) previewDelete(ctx echo.Context) error {
	impact, err := api.svc.PreviewDelete(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "previewing fee structure deletion")
	}
	return ctx.JSON(http.StatusOK, impact)
}

func (api *structureApi) confirmDelete(ctx echo.Context) error {
	var data ConfirmDeleteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ConfirmDeleteRequest")
	}

	impact, err := api.svc.ConfirmDelete(ctx.Request().Context(), ctx.Param("id"), data.Confirm)
	if err != nil {
		return errors.Wrap(err, "deleting fee structure")
	}
	return ctx.JSON(http.StatusOK, ConfirmDeleteResponse{
		Message: "Fee structure and its dependent fee records were deleted.",
		Impact:  impact,
	})
}

type ledgerApi struct {
	svc      *fee.LedgerService
	validate *validator.Validate
}

func registerLedgerAPI(g *echo.Group, svc *fee.LedgerService, validate *validator.Validate) {
	api := ledgerApi{
		svc:      svc,
		validate: validate,
	}

	g.GET("/arrears", api.arrears)

	sg := g.Group("/students/:id")
	sg.GET("/fees", api.studentFees)
	sg.POST("/pay", api.pay)
	sg.POST("/adjust", api.adjust)
}

func (api *ledgerApi) studentFees(ctx echo.Context) error {
	fees, err := api.svc.StudentFees(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing student fees")
	}
	return ctx.JSON(http.StatusOK, fees)
}

func (api *ledgerApi) pay(ctx echo.Context) error {
	var data fee.NewPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rec, err := api.svc.MarkPaid(ctx.Request().Context(), ctx.Param("id"), data, contextActor(ctx))
	if err != nil {
		return errors.Wrap(err, "marking fee paid")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *ledgerApi) adjust(ctx echo.Context) error {
	var data fee.AmountAdjustment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AmountAdjustment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rec, err := api.svc.AdjustAmount(ctx.Request().Context(), ctx.Param("id"), data, contextActor(ctx))
	if err != nil {
		return errors.Wrap(err, "adjusting fee amount")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *ledgerApi) arrears(ctx echo.Context) error {
	filter := fee.ArrearsFilter{
		ClassroomID: core.CleanString(ctx.QueryParam("classroomId")),
		TermID:      core.CleanString(ctx.QueryParam("termId")),
	}
	entries, err := api.svc.Arrears(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "listing arrears")
	}
	return ctx.JSON(http.StatusOK, entries)
}
