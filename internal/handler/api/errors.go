package api

import (
	"errors"

	"OTCDesk/internal/domain/models"
	xhttp "OTCDesk/pkg/http"
	xlogger "OTCDesk/pkg/logger"

	"github.com/labstack/echo/v4"
)

// toAppError maps domain error kinds onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var de *models.Error
	if !errors.As(err, &de) {
		return xhttp.InternalError("internal error").WithError(err)
	}
	switch de.Kind {
	case models.KindValidation:
		return xhttp.ValidationFieldError(de.Field, de.Message)
	case models.KindNotFound:
		return xhttp.NotFoundError(de.Message)
	case models.KindConflict:
		return xhttp.ConflictError(de.Message)
	case models.KindPersistence:
		return xhttp.ServiceUnavailableError("storage unavailable").WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}

func errorResponse(c echo.Context, l *xlogger.Logger, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= 500 {
		l.Error(op+" failed", xlogger.String("path", c.Path()), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}
