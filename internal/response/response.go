package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the standard success response shape.
type APIResponse struct {
	Data    any    `json:"data"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path"`
}

// APIError is the standard error response shape. Code carries the stable
// machine-readable error code when one applies.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
	Path    string `json:"path"`
	Status  int    `json:"status"`
}

func pathFromContext(c echo.Context) string {
	if c == nil || c.Request() == nil {
		return ""
	}
	return c.Request().URL.Path
}

// JSON sends a response with the given status and data.
func JSON(c echo.Context, status int, data any, message string) error {
	return c.JSON(status, APIResponse{
		Data:    data,
		Status:  status,
		Message: message,
		Path:    pathFromContext(c),
	})
}

// OK sends a 200 response with data.
func OK(c echo.Context, data any, message string) error {
	return JSON(c, http.StatusOK, data, message)
}

// Error sends a JSON error response using APIError.
func Error(c echo.Context, status int, code, message, errDetail string) error {
	return c.JSON(status, APIError{
		Message: message,
		Code:    code,
		Error:   errDetail,
		Path:    pathFromContext(c),
		Status:  status,
	})
}

// BadRequest sends 400 with message and error detail.
func BadRequest(c echo.Context, message, errDetail string) error {
	return Error(c, http.StatusBadRequest, "", message, errDetail)
}

// NotFound sends 404 with message and error detail.
func NotFound(c echo.Context, message, errDetail string) error {
	return Error(c, http.StatusNotFound, "", message, errDetail)
}

// InternalError sends 500 with message and error detail.
func InternalError(c echo.Context, message, errDetail string) error {
	return Error(c, http.StatusInternalServerError, "", message, errDetail)
}
