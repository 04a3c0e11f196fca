package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/access"
	"github.com/trezcool/academia/core/enrollment"
)

type accessChecker interface {
	Check(ctx context.Context, userID, courseID string) (access.Decision, error)
}

type enrollmentApi struct {
	svc      enrollment.Service
	gate     accessChecker
	validate *validator.Validate
}

func registerEnrollmentAPI(
	g *echo.Group,
	jwt, limit echo.MiddlewareFunc,
	svc enrollment.Service,
	gate accessChecker,
	validate *validator.Validate,
) {
	api := enrollmentApi{svc: svc, gate: gate, validate: validate}

	eg := g.Group("/enrollments", jwt)
	eg.POST("/register", api.register)
	eg.POST("/payment", api.pay, limit)
	eg.GET("/my-courses", api.query)
	eg.GET("/check-access/:courseId", api.checkAccess)

	// detail endpoints
	eg.GET("/:id", api.retrieve)
	eg.POST("/:id/activate", api.activate)
	eg.POST("/:id/retry-activation", api.retryActivation)
	eg.POST("/:id/cancel", api.cancel)
	eg.POST("/:id/reset-activation", api.resetActivation, adminMiddleware())
}

// Handlers

func (api *enrollmentApi) register(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var data enrollment.RegisterRequest
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Register(ctx.Request().Context(), actor, data)
	if err != nil {
		return err
	}
	msg := "Enrollment created, payment required"
	if res.AccessImmediate {
		msg = "Enrollment activated"
	}
	return respond(ctx, http.StatusCreated, msg, res)
}

func (api *enrollmentApi) pay(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var data enrollment.PaymentRequest
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.ProcessPayment(ctx.Request().Context(), actor, data)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "Payment completed", res)
}

func (api *enrollmentApi) query(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	filter := enrollment.QueryFilter{Status: enrollment.Status(core.CleanString(ctx.QueryParam("status"), true /* lower */))}

	res, err := api.svc.ListForUser(ctx.Request().Context(), actor, filter, bindPage(ctx))
	if err != nil {
		return err
	}
	return ok(ctx, res)
}

func (api *enrollmentApi) checkAccess(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	d, err := api.gate.Check(ctx.Request().Context(), actor.ID, ctx.Param("courseId"))
	if err != nil {
		return err
	}
	return ok(ctx, d)
}

func (api *enrollmentApi) retrieve(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	detail, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ok(ctx, detail)
}

type enrollmentAction func(ctx context.Context, actor core.Actor, id string) (enrollment.Enrollment, error)

// runAction runs one of the state transitions on the enrollment in the path.
func (api *enrollmentApi) runAction(ctx echo.Context, action enrollmentAction, msg string) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	enr, err := action(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, msg, enr)
}

func (api *enrollmentApi) activate(ctx echo.Context) error {
	return api.runAction(ctx, api.svc.Activate, "Enrollment activated")
}

func (api *enrollmentApi) retryActivation(ctx echo.Context) error {
	return api.runAction(ctx, api.svc.RetryActivation, "Enrollment activated")
}

func (api *enrollmentApi) cancel(ctx echo.Context) error {
	return api.runAction(ctx, api.svc.Cancel, "Enrollment cancelled")
}

func (api *enrollmentApi) resetActivation(ctx echo.Context) error {
	return api.runAction(ctx, api.svc.ResetActivation, "Activation attempts reset")
}
