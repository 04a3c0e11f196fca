package echoapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

type (
	// success is the envelope of every successful response.
	success struct {
		Success bool        `json:"success"`
		Message string      `json:"message,omitempty"`
		Data    interface{} `json:"data"`
	}

	// failure is the envelope of every error response.
	failure struct {
		Success   bool                `json:"success"`
		Message   string              `json:"message"`
		Reason    string              `json:"reason"`
		Retryable bool                `json:"retryable"`
		Errors    map[string][]string `json:"errors,omitempty"`
		Data      interface{}         `json:"data,omitempty"`
	}
)

func respond(ctx echo.Context, code int, msg string, data interface{}) error {
	return ctx.JSON(code, success{Success: true, Message: msg, Data: data})
}

func ok(ctx echo.Context, data interface{}) error {
	return respond(ctx, http.StatusOK, "", data)
}

// bindBody binds the JSON body to i; malformed bodies are validation failures.
func bindBody(ctx echo.Context, i interface{}) error {
	if err := ctx.Bind(i); err != nil {
		var herr *echo.HTTPError
		if errors.As(err, &herr) && herr.Code == http.StatusBadRequest {
			return core.NewValidationError(errors.New("malformed request body"))
		}
		return errors.Wrap(err, "binding request body")
	}
	return nil
}

// bindPage reads the `page` and `limit` query params; garbage falls back to the defaults.
func bindPage(ctx echo.Context) core.Page {
	var page core.Page
	page.Page, _ = strconv.Atoi(ctx.QueryParam("page"))
	page.Limit, _ = strconv.Atoi(ctx.QueryParam("limit"))
	page.Clean()
	return page
}

func queryBool(ctx echo.Context, name string) (bool, error) {
	val := strings.TrimSpace(ctx.QueryParam(name))
	if val == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, core.NewValidationError(nil, core.FieldError{Field: name, Error: "must be true or false"})
	}
	return b, nil
}
