package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"camstream/internal/camera"
)

// errorStatus はエラーをHTTPステータスとエラーコードに変換する
func errorStatus(err error) (int, string) {
	var (
		notFound   *camera.NotFoundError
		notStarted *camera.NotStartedError
		invalid    *camera.InvalidParameterError
		openErr    *camera.DeviceOpenError
	)

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "camera_not_found"
	case errors.Is(err, camera.ErrAlreadyStreaming):
		return http.StatusBadRequest, "already_streaming"
	case errors.Is(err, camera.ErrNotStreaming):
		return http.StatusBadRequest, "not_streaming"
	case errors.As(err, &notStarted):
		return http.StatusBadRequest, "camera_not_started"
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, "invalid_parameter"
	case errors.As(err, &openErr):
		return http.StatusServiceUnavailable, "device_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError はエラーをJSONで返す
func respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// respondValidationError はクエリパラメータの検証エラーを返す
func respondValidationError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, ErrorResponse{
		Error:     "validation_error",
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}
