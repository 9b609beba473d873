package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	midsec "threadline/middleware/security"
	"threadline/tools/errs"
)

type RouteOpt struct {
	IsAuth bool
	Auth   midsec.Options
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.POST(path, midsec.Middleware(opt.Auth), handler)
	} else {
		r.POST(path, handler)
	}
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.GET(path, midsec.Middleware(opt.Auth), handler)
	} else {
		r.GET(path, handler)
	}
}

// Fail writes a typed error response. CodeError codes map onto HTTP
// statuses; anything unrecognized is a 500 without leaking internals.
func Fail(c *gin.Context, err error) {
	var ce *errs.CodeError
	if !errors.As(err, &ce) {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	status := http.StatusInternalServerError
	switch ce.Code {
	case errs.CodeValidation, errs.CodeBadCursor:
		status = http.StatusBadRequest
	case errs.CodeTokenInvalid:
		status = http.StatusUnauthorized
	case errs.CodeNotParticipant, errs.CodeBlockedByPeer, errs.CodeSenderBlocked:
		status = http.StatusForbidden
	case errs.CodeNotFound:
		status = http.StatusNotFound
	}
	c.JSON(status, ce)
}

// OK writes the uniform success envelope.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}
