package email

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/towndir/internal/handler"
	"github.com/jwalitptl/towndir/internal/model"
	apperrors "github.com/jwalitptl/towndir/pkg/errors"
)

// Pipeline is the admin surface of the notification service.
type Pipeline interface {
	QueueBatch(ctx context.Context, batch []*model.EmailNotification) model.QueueReport
	SendSelected(ctx context.Context, ids []uuid.UUID) (model.SendReport, error)
	RetryFailedEmails(ctx context.Context, ids []uuid.UUID) (int64, error)
	ForceRetry(ctx context.Context, ids []uuid.UUID) (int64, error)
	UpdateEmailStatus(ctx context.Context, id uuid.UUID, status model.EmailStatus, upd model.StatusUpdate) (*model.EmailNotification, error)
	GetEmailStats(ctx context.Context) (model.EmailStats, error)
	Get(ctx context.Context, id uuid.UUID) (*model.EmailNotification, error)
	List(ctx context.Context, filter model.EmailFilter) ([]*model.EmailNotification, int64, error)
	Delete(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type Handler struct {
	pipeline Pipeline
}

func NewHandler(p Pipeline) *Handler {
	return &Handler{pipeline: p}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	emails := r.Group("/emails")
	{
		emails.GET("", h.List)
		emails.GET("/stats", h.Stats)
		emails.GET("/:id", h.Get)
		emails.POST("", h.Queue)
		emails.POST("/send", h.Send)
		emails.POST("/retry", h.Retry)
		emails.POST("/force-retry", h.ForceRetry)
		emails.POST("/delete", h.Delete)
		emails.PUT("/:id/status", h.UpdateStatus)
	}
}

type listQuery struct {
	Status   string `form:"status" binding:"omitempty,email_status"`
	PersonID string `form:"personId" binding:"omitempty,uuid"`
	UserID   string `form:"userId" binding:"omitempty,uuid"`
	model.Pagination
}

func (h *Handler) List(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		handler.BindFailed(c, err)
		return
	}

	filter := model.EmailFilter{
		Status:     model.EmailStatus(q.Status),
		Pagination: q.Pagination.Normalize(),
	}
	if q.PersonID != "" {
		id := uuid.MustParse(q.PersonID)
		filter.PersonID = &id
	}
	if q.UserID != "" {
		id := uuid.MustParse(q.UserID)
		filter.UserID = &id
	}

	rows, total, err := h.pipeline.List(c.Request.Context(), filter)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, handler.NewPage(rows, total, filter.Pagination))
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.pipeline.GetEmailStats(c.Request.Context())
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, stats)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	n, err := h.pipeline.Get(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, n)
}

type queueItem struct {
	UserID       uuid.UUID  `json:"user_id" binding:"required"`
	ToEmail      string     `json:"to_email" binding:"required,email"`
	PersonID     *uuid.UUID `json:"person_id"`
	Subject      string     `json:"subject" binding:"required,max=300"`
	HTMLContent  string     `json:"html_content" binding:"required"`
	TextContent  *string    `json:"text_content"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	Tracking     bool       `json:"tracking_enabled"`
}

type queueRequest struct {
	Notifications []queueItem `json:"notifications" binding:"required,min=1,max=1000,dive"`
}

// Queue enqueues a batch. Suppressed and opted-out recipients are counted
// as skipped rather than failing the request.
func (h *Handler) Queue(c *gin.Context) {
	var req queueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	batch := make([]*model.EmailNotification, 0, len(req.Notifications))
	for _, item := range req.Notifications {
		n := &model.EmailNotification{
			UserID:          item.UserID,
			ToEmail:         item.ToEmail,
			PersonID:        item.PersonID,
			Subject:         item.Subject,
			HTMLContent:     item.HTMLContent,
			TextContent:     item.TextContent,
			TrackingEnabled: item.Tracking,
		}
		if item.ScheduledFor != nil {
			n.ScheduledFor = *item.ScheduledFor
		}
		batch = append(batch, n)
	}

	handler.OK(c, h.pipeline.QueueBatch(c.Request.Context(), batch))
}

type idsRequest struct {
	IDs []uuid.UUID `json:"ids" binding:"required,min=1"`
}

// optionalIDsRequest treats a missing list as "every row".
type optionalIDsRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

func (h *Handler) Send(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}
	report, err := h.pipeline.SendSelected(c.Request.Context(), req.IDs)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, report)
}

func (h *Handler) Retry(c *gin.Context) {
	var req optionalIDsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			handler.BindFailed(c, err)
			return
		}
	}
	n, err := h.pipeline.RetryFailedEmails(c.Request.Context(), req.IDs)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, gin.H{"requeued": n})
}

func (h *Handler) ForceRetry(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}
	n, err := h.pipeline.ForceRetry(c.Request.Context(), req.IDs)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, gin.H{"requeued": n})
}

func (h *Handler) Delete(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}
	n, err := h.pipeline.Delete(c.Request.Context(), req.IDs)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, gin.H{"deleted": n})
}

type statusRequest struct {
	Status        string `json:"status" binding:"required,email_status"`
	ErrorMessage  string `json:"error_message" binding:"max=2000"`
	BounceType    string `json:"bounce_type" binding:"omitempty,oneof=Permanent Transient"`
	BounceSubType string `json:"bounce_sub_type" binding:"max=100"`
	Complaint     bool   `json:"complaint"`
}

// UpdateStatus is driven by provider webhooks and by admins.
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	n, err := h.pipeline.UpdateEmailStatus(c.Request.Context(), id, model.EmailStatus(req.Status), model.StatusUpdate{
		ErrorMessage:  req.ErrorMessage,
		BounceType:    req.BounceType,
		BounceSubType: req.BounceSubType,
		Complaint:     req.Complaint,
	})
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, n)
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handler.Fail(c, apperrors.BadRequest("invalid notification id", err))
		return uuid.Nil, false
	}
	return id, true
}
