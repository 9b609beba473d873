package notify

import (
	"github.com/gin-gonic/gin"

	mid "threadline/middleware"
	midsec "threadline/middleware/security"
	"threadline/tools/errs"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) Register(r gin.IRoutes, opt mid.RouteOpt) {
	opt.IsAuth = true
	mid.GET(r, "/notify/settings", h.Get, opt)
	mid.POST(r, "/notify/settings", h.Update, opt)
}

func (h *Handler) Get(c *gin.Context) {
	s, err := h.svc.Get(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		mid.Fail(c, err)
		return
	}
	mid.OK(c, s)
}

func (h *Handler) Update(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		mid.Fail(c, errs.ErrValidation.WithDetail(err.Error()))
		return
	}
	s, err := h.svc.Update(c.Request.Context(), midsec.UserID(c), body)
	if err != nil {
		mid.Fail(c, err)
		return
	}
	mid.OK(c, s)
}
