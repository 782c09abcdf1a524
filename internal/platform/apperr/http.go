package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// HTTPStatus maps a kind to its transport status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput, InvalidState:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case AlreadyGone:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON shape of every error response.
type Body struct {
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Errors     []Violation `json:"errors,omitempty"`
}

// BodyFor builds the response body and status for err. Unclassified errors
// never leak their text to the client.
func BodyFor(err error) Body {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != Internal {
		status := HTTPStatus(ae.Kind)
		return Body{StatusCode: status, Message: ae.Message, Errors: ae.Violations}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return Body{StatusCode: he.Code, Message: msg}
	}

	return Body{StatusCode: http.StatusInternalServerError, Message: "Erro interno do servidor"}
}

// ErrorHandler returns an echo.HTTPErrorHandler rendering errors as Body.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		body := BodyFor(err)
		if body.StatusCode >= http.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(body.StatusCode)
		} else {
			werr = c.JSON(body.StatusCode, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
