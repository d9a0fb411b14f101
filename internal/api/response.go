package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"admitHub/internal/apperr"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

// FromError 按错误类别映射 HTTP 状态码。校验错误附带字段级明细。
func FromError(c *gin.Context, err error) {
	kind, ok := apperr.KindOf(err)
	if !ok {
		Internal(c, "internal server error")
		return
	}

	var appErr *apperr.Error
	errors.As(err, &appErr)

	switch kind {
	case apperr.KindValidation:
		if appErr != nil && len(appErr.Fields) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": appErr.Message, "fields": appErr.Fields})
			return
		}
		BadRequest(c, messageOf(err, appErr))
	case apperr.KindNotFound:
		NotFound(c, messageOf(err, appErr))
	case apperr.KindConflict:
		Conflict(c, messageOf(err, appErr))
	case apperr.KindExternalUnavailable:
		Error(c, http.StatusBadGateway, messageOf(err, appErr))
	case apperr.KindExternalRejected:
		Error(c, http.StatusBadGateway, messageOf(err, appErr))
	default:
		Internal(c, "internal server error")
	}
}

func messageOf(err error, appErr *apperr.Error) string {
	if appErr != nil {
		return appErr.Message
	}
	return err.Error()
}
