package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/service"
)

func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrStaffNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidVisitor),
		errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrMessageTooLong):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotParticipant), errors.Is(err, service.ErrStaffInactive):
		ErrorResponse(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrSessionClosed), errors.Is(err, service.ErrSessionNotWaiting),
		errors.Is(err, service.ErrStaffUnavailable):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrStaffAtCapacity):
		ErrorResponse(c, http.StatusTooManyRequests, err.Error())
	default:
		// Log the internal error for debugging
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
