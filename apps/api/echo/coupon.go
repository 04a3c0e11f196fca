package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/course"
)

type couponApi struct {
	svc      coupon.Service
	courses  course.Service
	validate *validator.Validate
}

func registerCouponAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc coupon.Service, courses course.Service, validate *validator.Validate) {
	api := couponApi{svc: svc, courses: courses, validate: validate}

	cg := g.Group("/coupons", jwt)
	cg.GET("/validate", api.quote)
	cg.GET("", api.query, adminMiddleware())
	cg.POST("", api.create, adminMiddleware())
}

// Handlers

// quote evaluates a code against the price of a course; nothing is recorded.
func (api *couponApi) quote(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	code := core.CleanString(ctx.QueryParam("code"))
	courseID := core.CleanString(ctx.QueryParam("course_id"), true /* lower */)

	var flds []core.FieldError
	if code == "" {
		flds = append(flds, core.FieldError{Field: "code", Error: "this field is required"})
	}
	if courseID == "" {
		flds = append(flds, core.FieldError{Field: "course_id", Error: "this field is required"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}

	crs, err := api.courses.GetByID(ctx.Request().Context(), courseID)
	if err != nil {
		return err
	}
	res, err := api.svc.Quote(ctx.Request().Context(), coupon.ApplyRequest{
		Code:        code,
		OrderAmount: crs.Price,
		UserID:      actor.ID,
		CourseID:    crs.ID,
	})
	if err != nil {
		if cerr, ok := core.AsError(err); ok {
			return core.NewValidationError(cerr, core.FieldError{Field: "code", Error: cerr.Message})
		}
		return errors.Wrap(err, "quoting coupon")
	}
	return respond(ctx, http.StatusOK, "Coupon is valid", res)
}

func (api *couponApi) query(ctx echo.Context) error {
	filter := coupon.QueryFilter{Status: coupon.Status(core.CleanString(ctx.QueryParam("status"), true /* lower */))}
	cpns, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying coupons")
	}
	if cpns == nil {
		cpns = []coupon.Coupon{}
	}
	return ok(ctx, cpns)
}

func (api *couponApi) create(ctx echo.Context) error {
	var data coupon.NewCoupon
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if _, err := data.Validate(api.validate); err != nil {
		return err
	}

	cpn, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		if errors.Is(err, coupon.ErrCodeExists) {
			return core.NewValidationError(err, core.FieldError{Field: "code", Error: coupon.ErrCodeExists.Message})
		}
		return errors.Wrap(err, "creating coupon")
	}
	return respond(ctx, http.StatusCreated, "Coupon created", cpn)
}
