package api

import (
	"errors"
	"net/http"

	"github.com/arencloud/s3keeper/internal/apperr"
	"github.com/arencloud/s3keeper/internal/audit"
	"github.com/arencloud/s3keeper/internal/middleware"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindNotFound:          http.StatusNotFound,
	apperr.KindConflict:          http.StatusConflict,
	apperr.KindInvalidCredential: http.StatusUnprocessableEntity,
	apperr.KindOperationFailed:   http.StatusBadGateway,
	apperr.KindUnauthorized:      http.StatusUnauthorized,
	apperr.KindInvalidInput:      http.StatusBadRequest,
}

func statusOf(err error) int {
	if code, ok := kindStatus[apperr.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	code := statusOf(err)
	kind := apperr.KindOf(err)
	msg := err.Error()
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		kind, msg = apperr.KindInternal, "internal error"
	}
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(code, gin.H{"code": kind, "message": msg, "requestId": requestid.Get(c)})
}

func bindErr(err error) error {
	return apperr.InvalidInput("invalid request: %v", err)
}

func actor(c *gin.Context) audit.Actor {
	return audit.ActorFromRequest(c.Request, middleware.User(c))
}
