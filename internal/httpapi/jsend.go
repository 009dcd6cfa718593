package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

type jsendResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, jsendResponse{Status: statusSuccess, Data: data})
}

func fail(c echo.Context, code int, message string) error {
	return c.JSON(code, jsendResponse{Status: statusFail, Message: message})
}

// failParam rejects one request parameter; data maps it to the reason.
func failParam(c echo.Context, param, reason string) error {
	return c.JSON(http.StatusBadRequest, jsendResponse{
		Status:  statusFail,
		Message: "Invalid request parameter",
		Data:    map[string]string{param: reason},
	})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message)
}

// failRunBusy answers an import or reindex that found another run holding the lock.
func failRunBusy(c echo.Context) error {
	return fail(c, http.StatusConflict, "An import or reindex is already running")
}

func serverError(c echo.Context, code int, message string) error {
	return c.JSON(code, jsendResponse{Status: statusError, Message: message, Code: code})
}

func internalError(c echo.Context, message string) error {
	return serverError(c, http.StatusInternalServerError, message)
}
