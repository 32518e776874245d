package suppression

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/towndir/internal/handler"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/service/suppression"
)

type Service interface {
	Add(ctx context.Context, e suppression.Entry) (*model.EmailSuppression, error)
	Remove(ctx context.Context, email string) (bool, error)
	Get(ctx context.Context, email string) (*model.EmailSuppression, error)
	List(ctx context.Context, filter model.SuppressionFilter) ([]*model.EmailSuppression, int64, error)
}

type Handler struct {
	service Service
}

func NewHandler(s Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	s := r.Group("/suppressions")
	{
		s.GET("", h.List)
		s.GET("/:email", h.Get)
		s.POST("", h.Add)
		s.DELETE("/:email", h.Remove)
	}
}

type listQuery struct {
	Search string `form:"search" binding:"max=254"`
	Reason string `form:"reason" binding:"omitempty,suppression_reason"`
	model.Pagination
}

func (h *Handler) List(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		handler.BindFailed(c, err)
		return
	}

	filter := model.SuppressionFilter{
		Search:     q.Search,
		Reason:     model.SuppressionReason(q.Reason),
		Pagination: q.Pagination.Normalize(),
	}
	rows, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, handler.NewPage(rows, total, filter.Pagination))
}

func (h *Handler) Get(c *gin.Context) {
	row, err := h.service.Get(c.Request.Context(), c.Param("email"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, row)
}

type addRequest struct {
	Email         string `json:"email" binding:"required,email,max=254"`
	Reason        string `json:"reason" binding:"required,suppression_reason"`
	Details       string `json:"reason_details" binding:"max=1000"`
	BounceType    string `json:"bounce_type" binding:"omitempty,oneof=Permanent Transient"`
	BounceSubType string `json:"bounce_sub_type" binding:"max=100"`
}

func (h *Handler) Add(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	row, err := h.service.Add(c.Request.Context(), suppression.Entry{
		Email:         req.Email,
		Reason:        model.SuppressionReason(req.Reason),
		Details:       req.Details,
		Source:        model.SuppressionSourceAdmin,
		BounceType:    req.BounceType,
		BounceSubType: req.BounceSubType,
	})
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(row))
}

// Remove succeeds whether or not the address was listed.
func (h *Handler) Remove(c *gin.Context) {
	removed, err := h.service.Remove(c.Request.Context(), c.Param("email"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, gin.H{"removed": removed})
}
