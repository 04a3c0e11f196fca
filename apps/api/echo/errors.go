package echoapi

import (
	"net/http"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

const reasonValidation = "validation_error"

var errRateLimited = core.NewRetryableConflictError("rate_limited", "too many requests, slow down")

// statusOf maps the kind of a business failure to its HTTP status.
func statusOf(kind core.ErrorKind) int {
	switch kind {
	case core.KindConflict:
		return http.StatusConflict
	case core.KindPayment:
		return http.StatusPaymentRequired
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindRetryExhausted:
		return http.StatusUnprocessableEntity
	case core.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func httpReason(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "permission_denied"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusBadRequest:
		return "bad_request"
	}
	return strings.ReplaceAll(strings.ToLower(http.StatusText(code)), " ", "_")
}

// fieldName strips the top-level struct name from the namespace of a validation error.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that renders every error in the response envelope.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code := http.StatusInternalServerError
		res := failure{Reason: "internal_error"}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				res.Message = "missing or malformed jwt"
				res.Reason = httpReason(code)
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			res.Message = http.StatusText(code)
			if msg, ok := origErr.Message.(string); ok {
				res.Message = msg
			}
			res.Reason = httpReason(code)
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			res.Message = "invalid input"
			res.Reason = reasonValidation
			res.Errors = make(map[string][]string, len(origErr))
			for _, vErr := range origErr {
				fld := fieldName(vErr)
				res.Errors[fld] = append(res.Errors[fld], vErr.Translate(translator))
			}
		case *core.ValidationError:
			code = http.StatusBadRequest
			res.Message = origErr.Error()
			res.Reason = reasonValidation
			if e, ok := core.AsError(origErr.Err); ok {
				res.Reason = e.Reason
				res.Data = e.Data
			}
			if len(origErr.Fields) > 0 {
				res.Errors = make(map[string][]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					res.Errors[fErr.Field] = append(res.Errors[fErr.Field], fErr.Error)
				}
			}
		case *core.Error:
			code = statusOf(origErr.Kind)
			res.Message = origErr.Message
			res.Reason = origErr.Reason
			res.Retryable = origErr.Retryable
			res.Data = origErr.Data
			if code == http.StatusConflict && origErr.Reason == errRateLimited.Reason {
				code = http.StatusTooManyRequests
			}
		default: // any other error is a server error
			msg := http.StatusText(http.StatusInternalServerError)
			res.Message = msg

			var usr user.User
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr.ID = claims.Subject
				usr.Username = claims.Username
				usr.Email = claims.Email
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			if ctx.Echo().Debug {
				res.Message = err.Error()
			}

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, res)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
