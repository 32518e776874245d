package cache

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/towndir/internal/cache"
	"github.com/jwalitptl/towndir/internal/handler"
	"github.com/jwalitptl/towndir/internal/model"
	apperrors "github.com/jwalitptl/towndir/pkg/errors"
)

// Manager is the admin surface of *cache.Manager.
type Manager interface {
	Stats() model.CacheStats
	ResetStats()
	Clear(ctx context.Context, tier model.Tier) (int64, error)
	Invalidate(ctx context.Context, key string) error
	InvalidateCascade(ctx context.Context, ref model.EntityRef) error
}

type Handler struct {
	cache Manager
}

func NewHandler(m Manager) *Handler {
	return &Handler{cache: m}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	c := r.Group("/cache")
	{
		c.GET("/stats", h.Stats)
		c.POST("/stats", h.ResetStats)
		c.POST("/clear/:tier", h.Clear)
		c.POST("/invalidate", h.Invalidate)
		c.POST("/invalidate/cascade", h.Cascade)
	}
}

func (h *Handler) Stats(c *gin.Context) {
	handler.OK(c, h.cache.Stats())
}

func (h *Handler) ResetStats(c *gin.Context) {
	h.cache.ResetStats()
	handler.OK(c, h.cache.Stats())
}

func (h *Handler) Clear(c *gin.Context) {
	tier, err := model.ParseTier(c.Param("tier"))
	if err != nil {
		handler.Fail(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	n, err := h.cache.Clear(c.Request.Context(), tier)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, gin.H{"tier": tier, "cleared": n})
}

type invalidateRequest struct {
	Key string `json:"key" binding:"required"`
}

func (h *Handler) Invalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}
	if _, err := cache.ParseKey(req.Key); err != nil {
		handler.Fail(c, err)
		return
	}

	if err := h.cache.Invalidate(c.Request.Context(), req.Key); err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, gin.H{"invalidated": []string{req.Key}})
}

type cascadeRequest struct {
	Kind         string `json:"kind" binding:"required,oneof=person town homepage"`
	Town         string `json:"town"`
	Person       string `json:"person"`
	PreviousTown string `json:"previous_town"`
}

func (h *Handler) Cascade(c *gin.Context) {
	var req cascadeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}
	kind, err := model.ParseEntityKind(req.Kind)
	if err != nil {
		handler.Fail(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	ref := model.EntityRef{
		Kind:             kind,
		TownSlug:         req.Town,
		PersonSlug:       req.Person,
		PreviousTownSlug: req.PreviousTown,
	}
	keys, err := cache.CascadeKeys(ref)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	if err := h.cache.InvalidateCascade(c.Request.Context(), ref); err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, gin.H{"invalidated": keys})
}
