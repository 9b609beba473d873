package blob

import (
	"time"

	"github.com/gin-gonic/gin"

	mid "threadline/middleware"
	"threadline/tools/errs"
)

type Handler struct {
	resolver *Resolver
}

func NewHandler(resolver *Resolver) *Handler { return &Handler{resolver: resolver} }

func (h *Handler) Register(r gin.IRoutes, opt mid.RouteOpt) {
	opt.IsAuth = true
	mid.POST(r, "/blob/sign", h.Sign, opt)
}

type signURLReq struct {
	StoragePath string `json:"storage_path" binding:"required"`
	Bucket      string `json:"bucket"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

func (h *Handler) Sign(c *gin.Context) {
	var req signURLReq
	if err := c.ShouldBindJSON(&req); err != nil {
		mid.Fail(c, errs.ErrValidation.WithDetail(err.Error()))
		return
	}
	url, ttl, err := h.resolver.SignedURL(c.Request.Context(),
		req.StoragePath, req.Bucket, time.Duration(req.ExpiresIn)*time.Second)
	if err != nil {
		mid.Fail(c, err)
		return
	}
	mid.OK(c, gin.H{"url": url, "expires_in": int64(ttl.Seconds())})
}
