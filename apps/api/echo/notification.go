package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
)

type notificationApi struct {
	svc      notification.Service
	validate *validator.Validate
}

func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc notification.Service, validate *validator.Validate) {
	api := notificationApi{svc: svc, validate: validate}

	ng := g.Group("/notifications", jwt)
	ng.GET("", api.query)
	ng.GET("/stats", api.stats)
	ng.GET("/preferences", api.preferences)
	ng.PATCH("/preferences", api.updatePreferences)
	ng.PATCH("/mark-all-read", api.markAllRead)
	ng.PATCH("/:id/read", api.markRead)
	ng.DELETE("/:id", api.destroy)
}

// Handlers

func (api *notificationApi) query(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	unread, err := queryBool(ctx, "unread")
	if err != nil {
		return err
	}
	filter := notification.QueryFilter{
		Unread: unread,
		Type:   notification.Type(core.CleanString(ctx.QueryParam("type"), true /* lower */)),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return core.NewValidationError(nil, core.FieldError{Field: "type", Error: "unknown notification type"})
	}

	res, err := api.svc.List(ctx.Request().Context(), actor.ID, filter, bindPage(ctx))
	if err != nil {
		return err
	}
	return ok(ctx, res)
}

func (api *notificationApi) stats(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	stats, err := api.svc.Stats(ctx.Request().Context(), actor.ID)
	if err != nil {
		return err
	}
	return ok(ctx, stats)
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	ntf, err := api.svc.MarkRead(ctx.Request().Context(), actor.ID, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ok(ctx, ntf)
}

func (api *notificationApi) markAllRead(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	n, err := api.svc.MarkAllRead(ctx.Request().Context(), actor.ID)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "Notifications marked as read", echo.Map{"updated": n})
}

func (api *notificationApi) destroy(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), actor.ID, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notificationApi) preferences(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	prefs, err := api.svc.GetPreferences(ctx.Request().Context(), actor.ID)
	if err != nil {
		return err
	}
	return ok(ctx, prefs)
}

func (api *notificationApi) updatePreferences(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var data notification.UpdatePreferences
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = api.validate.Struct(&data); err != nil {
		return err
	}
	prefs, err := api.svc.UpdatePreferences(ctx.Request().Context(), actor.ID, data)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "Preferences updated", prefs)
}
