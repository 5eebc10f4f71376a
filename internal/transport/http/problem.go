package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/logger"
	"github.com/labstack/echo/v4"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 error body.
type Problem struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Code     string         `json:"code,omitempty"`
	Instance string         `json:"instance,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidTransition, domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeQuoteExpired, domain.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case domain.CodeUpstreamFailure:
		return http.StatusBadGateway
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func problemFor(err error) Problem {
	if appError, ok := domain.AsAppError(err); ok {
		status := statusFor(appError.Code)
		problem := Problem{
			Type:    "urn:quoteengine:error:" + string(appError.Code),
			Title:   http.StatusText(status),
			Status:  status,
			Detail:  appError.Message,
			Code:    string(appError.Code),
			Details: appError.Details,
		}
		if status == http.StatusInternalServerError {
			problem.Detail = "internal server error"
		}
		return problem
	}

	var httpError *echo.HTTPError
	if errors.As(err, &httpError) {
		return Problem{
			Type:   "about:blank",
			Title:  http.StatusText(httpError.Code),
			Status: httpError.Code,
			Detail: fmt.Sprint(httpError.Message),
		}
	}

	return Problem{
		Type:   "about:blank",
		Title:  http.StatusText(http.StatusInternalServerError),
		Status: http.StatusInternalServerError,
		Detail: "internal server error",
	}
}

func problemHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	problem := problemFor(err)
	problem.Instance = c.Request().URL.Path
	if problem.Status >= http.StatusInternalServerError {
		logger.Error(c.Request().Context(), "http handler failed", "path", problem.Instance, "error", err)
	}

	c.Response().Header().Set(echo.HeaderContentType, problemContentType)
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(problem.Status)
		return
	}
	c.Response().WriteHeader(problem.Status)
	if encodeErr := c.Echo().JSONSerializer.Serialize(c, problem, ""); encodeErr != nil {
		logger.Warn(c.Request().Context(), "problem encode failed", "error", encodeErr)
	}
}
