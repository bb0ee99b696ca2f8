package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"impostor-game/internal/service"
)

// HandleServiceError 将业务错误映射为 HTTP 状态码
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, service.ErrGameNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidCursor), errors.Is(err, service.ErrInvalidPlayer):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRoomBusy), errors.Is(err, service.ErrStoreUnavailable):
		logrus.WithError(err).Warn("Store unavailable while handling request")
		ErrorResponse(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
