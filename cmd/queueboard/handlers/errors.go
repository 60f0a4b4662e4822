package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/models"
)

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusForKind maps an error kind to its HTTP status
func StatusForKind(kind string) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindDuplicateRegistration:
		return http.StatusConflict
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status of its kind. Internal errors are
// logged and reported without detail.
func respondError(c echo.Context, log *logger.Logger, err error) error {
	kind := models.ErrorKind(err)
	status := StatusForKind(kind)

	message := err.Error()
	if status == http.StatusInternalServerError {
		kind = models.KindInternal
		message = "internal error"
		log.WithContext(c.Request().Context()).Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
	}

	return c.JSON(status, ErrorResponse{Error: kind, Message: message})
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return fmt.Errorf("%w: invalid request body", models.ErrValidation)
	}
	return nil
}

func paramID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", models.ErrValidation, c.Param("id"))
	}
	return id, nil
}
