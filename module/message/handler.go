package message

import (
	"strconv"

	"github.com/gin-gonic/gin"

	mid "threadline/middleware"
	midsec "threadline/middleware/security"
	"threadline/tools/errs"
)

// Handler exposes the message engine over HTTP+JSON.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Register mounts the DM routes. All of them require an authenticated
// caller; the middleware resolves the stable user id from the session.
func (h *Handler) Register(r gin.IRoutes, opt mid.RouteOpt) {
	opt.IsAuth = true
	mid.POST(r, "/dm/threads", h.CreateThread, opt)
	mid.GET(r, "/dm/threads", h.ListThreads, opt)
	mid.POST(r, "/dm/send", h.Send, opt)
	mid.GET(r, "/dm/messages", h.ReadPage, opt)
	mid.POST(r, "/dm/markRead", h.MarkRead, opt)
	mid.POST(r, "/dm/edit", h.Edit, opt)
	mid.POST(r, "/dm/delete", h.Delete, opt)
	mid.POST(r, "/dm/mute", h.Mute, opt)
}

type sendReq struct {
	ThreadID    string       `json:"thread_id" binding:"required"`
	ClientMsgID string       `json:"client_msg_id" binding:"required"`
	Body        string       `json:"body"`
	Kind        int16        `json:"kind"`
	Attachments []Attachment `json:"attachments"`
}

func (h *Handler) Send(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		mid.Fail(c, errs.ErrValidation.WithDetail(err.Error()))
		return
	}
	m, err := h.svc.Send(c.Request.Context(), SendInput{
		ThreadID:    req.ThreadID,
		ClientMsgID: req.ClientMsgID,
		SenderID:    midsec.UserID(c),
		Kind:        Kind(req.Kind),
		Body:        req.Body,
		Attachments: req.Attachments,
	})
	if err != nil {
		mid.Fail(c, err)
		return
	}
	mid.OK(c, gin.H{
		"id":         m.ServerID,
		"thread_id":  m.ThreadID,
		"created_at": m.CreatedAtMS,
	})
}

func (h *Handler) ReadPage(c *gin.Context) {
	threadID := c.Query("thread_id")
	dir, err := ParseDirection(c.Query("direction"))
	if err != nil {
		mid.Fail(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := h.svc.ReadPage(c.Request.Context(), midsec.UserID(c),
		threadID, c.Query("cursor"), dir, limit)
	if err != nil {
		mid.Fail(c, err)
		return
	}
	next := ""
	if len(msgs) > 0 {
		// Cursor of the boundary message in the paging direction.
		edge := msgs[len(msgs)-1]
		if dir == Older {
			edge = msgs[0]
		}
		next = CursorOf(edge).Encode()
	}
	mid.OK(c, gin.H{"messages": msgs, "next_cursor": next})
}

type markReadReq struct {
	ThreadID      string `json:"thread_id" binding:"required"`
	UpToMessageID int64  `json:"up_to_message_id" binding:"required"`
}

func (h *Handler) MarkRead(c *gin.Context) {
	var req markReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		mid.Fail(c, errs.ErrValidation.WithDetail(err.Error()))
		return
	}
	last, err := h.svc.MarkRead(c.Request.Context(), req.ThreadID, midsec.UserID(c), req.UpToMessageID)
	if err != nil {
		mid.Fail(c, err)
		return
	}
	mid.OK(c, gin.H{"last_read_message_id": last})
}

func (h *Handler) ListThreads(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	sums, next, err := h.svc.ListThreads(c.Request.Context(), midsec.UserID(c), c.Query("cursor"), limit)
	if err != nil {
		mid.Fail(c, err)
		return
	}
	mid.OK(c, gin.H{"threads": sums, "next_cursor": next})
}

type editReq struct {
	ThreadID string `json:"thread_id" binding:"required"`
	ID       int64  `json:"id" binding:"required"`
	Body     string `json:"body"`
}

func (h *Handler) Edit(c *gin.Context) {
	var req editReq
	if err := c.ShouldBindJSON(&req); err != nil {
		mid.Fail(c, errs.ErrValidation.WithDetail(err.Error()))
		return
	}
	m, err := h.svc.Edit(c.Request.Context(), midsec.UserID(c), req.ThreadID, req.ID, req.Body)
	if err != nil {
		mid.Fail(c, err)
		return
	}
	mid.OK(c, m)
}

func (h *Handler) Delete(c *gin.Context) {
	var req editReq
	if err := c.ShouldBindJSON(&req); err != nil {
		mid.Fail(c, errs.ErrValidation.WithDetail(err.Error()))
		return
	}
	m, err := h.svc.Delete(c.Request.Context(), midsec.UserID(c), req.ThreadID, req.ID)
	if err != nil {
		mid.Fail(c, err)
		return
	}
	mid.OK(c, m)
}

type muteReq struct {
	ThreadID string `json:"thread_id" binding:"required"`
	Muted    bool   `json:"muted"`
	UntilMS  int64  `json:"until_ms"`
}

func (h *Handler) Mute(c *gin.Context) {
	var req muteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		mid.Fail(c, errs.ErrValidation.WithDetail(err.Error()))
		return
	}
	err := h.svc.Store().SetThreadMute(c.Request.Context(), req.ThreadID, midsec.UserID(c), req.Muted, req.UntilMS)
	if err != nil {
		mid.Fail(c, err)
		return
	}
	mid.OK(c, gin.H{"muted": req.Muted, "muted_until": req.UntilMS})
}

type createThreadReq struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants" binding:"required"`
	Title        string   `json:"title"`
	IsGroup      bool     `json:"is_group"`
}

func (h *Handler) CreateThread(c *gin.Context) {
	var req createThreadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		mid.Fail(c, errs.ErrValidation.WithDetail(err.Error()))
		return
	}
	caller := midsec.UserID(c)
	found := false
	for _, p := range req.Participants {
		if p == caller {
			found = true
		}
	}
	if !found {
		req.Participants = append(req.Participants, caller)
	}
	t := &Thread{
		ID:           req.ID,
		Participants: req.Participants,
		Title:        req.Title,
		IsGroup:      req.IsGroup,
	}
	if t.ID == "" {
		t.ID = PairThreadID(req.Participants)
	}
	if err := h.svc.CreateThread(c.Request.Context(), t); err != nil {
		mid.Fail(c, err)
		return
	}
	mid.OK(c, t)
}
