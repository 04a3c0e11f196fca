package echoapi

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
)

// sessionHeader carries the guest cart session, both ways.
const sessionHeader = "X-Session-ID"

type cartApi struct {
	svc      cart.Service
	validate *validator.Validate
}

// optionalJWT authenticates the request when it carries a token and lets anonymous ones through.
func optionalJWT(conf *core.Config) echo.MiddlewareFunc {
	jwtConf := newJWTConfig(conf)
	jwtConf.Skipper = func(ctx echo.Context) bool {
		return ctx.Request().Header.Get(echo.HeaderAuthorization) == ""
	}
	return middleware.JWTWithConfig(jwtConf)
}

func registerCartAPI(g *echo.Group, jwt, optJWT, limit echo.MiddlewareFunc, svc cart.Service, validate *validator.Validate) {
	api := cartApi{svc: svc, validate: validate}

	cg := g.Group("/cart", optJWT)
	cg.GET("", api.retrieve)
	cg.POST("/items", api.addItem)
	cg.DELETE("/items/:id", api.removeItem)
	cg.POST("/apply-coupon", api.applyCoupon)
	cg.DELETE("/coupon", api.removeCoupon)
	cg.DELETE("/clear", api.clear)
	cg.POST("/merge", api.merge, jwt)
	cg.POST("/checkout", api.checkout, jwt, limit)
}

// owner resolves whose cart the request is about. A guest without a session gets a new one when
// issue is set; the session is echoed back in the response header.
func (api *cartApi) owner(ctx echo.Context, issue bool) cart.Owner {
	if actor, err := getContextActor(ctx); err == nil {
		return cart.Owner{UserID: actor.ID}
	}
	sid := strings.TrimSpace(ctx.Request().Header.Get(sessionHeader))
	if sid == "" && issue {
		sid = uuid.New().String()
	}
	if sid != "" {
		ctx.Response().Header().Set(sessionHeader, sid)
	}
	return cart.Owner{SessionID: sid}
}

// Handlers

func (api *cartApi) retrieve(ctx echo.Context) error {
	res, err := api.svc.Get(ctx.Request().Context(), api.owner(ctx, true))
	if err != nil {
		return err
	}
	return ok(ctx, res)
}

func (api *cartApi) addItem(ctx echo.Context) error {
	var data cart.AddItemRequest
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	res, err := api.svc.AddItem(ctx.Request().Context(), api.owner(ctx, true), data)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusCreated, "course added to cart", res)
}

func (api *cartApi) removeItem(ctx echo.Context) error {
	res, err := api.svc.RemoveItem(ctx.Request().Context(), api.owner(ctx, false), ctx.Param("id"))
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "item removed", res)
}

func (api *cartApi) applyCoupon(ctx echo.Context) error {
	var data cart.CouponRequest
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	res, err := api.svc.ApplyCoupon(ctx.Request().Context(), api.owner(ctx, false), data.Code)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "coupon applied", res)
}

func (api *cartApi) removeCoupon(ctx echo.Context) error {
	res, err := api.svc.RemoveCoupon(ctx.Request().Context(), api.owner(ctx, false))
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "coupon removed", res)
}

func (api *cartApi) clear(ctx echo.Context) error {
	res, err := api.svc.Clear(ctx.Request().Context(), api.owner(ctx, false))
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "cart cleared", res)
}

// merge folds the guest cart of the X-Session-ID header into the signed-in user's cart.
func (api *cartApi) merge(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	sid := strings.TrimSpace(ctx.Request().Header.Get(sessionHeader))
	res, err := api.svc.Merge(ctx.Request().Context(), actor.ID, sid)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "carts merged", res)
}

func (api *cartApi) checkout(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var data cart.CheckoutRequest
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	res, err := api.svc.Checkout(ctx.Request().Context(), actor, data)
	if err != nil {
		return err
	}
	return ok(ctx, res)
}
