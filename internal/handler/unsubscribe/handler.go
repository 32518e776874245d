package unsubscribe

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/service/token"
	"github.com/jwalitptl/towndir/pkg/logger"
)

type Redeemer interface {
	RedeemOptOut(ctx context.Context, secret string) (model.TokenScope, error)
}

const (
	donePage = `<!doctype html><html><head><meta charset="utf-8"><title>Unsubscribed</title>` +
		`<style>body{font-family:sans-serif;max-width:32em;margin:4em auto}</style></head>` +
		`<body><h1>You are unsubscribed</h1><p>You will no longer receive these emails.</p></body></html>`
	invalidPage = `<!doctype html><html><head><meta charset="utf-8"><title>Invalid link</title>` +
		`<style>body{font-family:sans-serif;max-width:32em;margin:4em auto}</style></head>` +
		`<body><h1>Invalid link</h1><p>This unsubscribe link is invalid or has expired.</p></body></html>`
	errorPage = `<!doctype html><html><head><meta charset="utf-8"><title>Try again</title>` +
		`<style>body{font-family:sans-serif;max-width:32em;margin:4em auto}</style></head>` +
		`<body><h1>Something went wrong</h1><p>Please try the link again later.</p></body></html>`
)

// Handler serves the public unsubscribe link. Every verification failure
// renders the same page so links cannot be probed.
type Handler struct {
	tokens Redeemer
	log    *logger.Logger
}

func NewHandler(tokens Redeemer, log *logger.Logger) *Handler {
	return &Handler{tokens: tokens, log: log}
}

// RegisterRoutes mounts the link. POST serves RFC 8058 one-click requests.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, mw ...gin.HandlerFunc) {
	u := r.Group("/unsubscribe", mw...)
	{
		u.GET("/:token", h.Unsubscribe)
		u.POST("/:token", h.Unsubscribe)
	}
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	_, err := h.tokens.RedeemOptOut(c.Request.Context(), c.Param("token"))
	switch {
	case err == nil:
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(donePage))
	case errors.Is(err, token.ErrInvalidToken):
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8", []byte(invalidPage))
	default:
		h.log.WithContext(c.Request.Context()).Error(err, "unsubscribe failed")
		c.Data(http.StatusInternalServerError, "text/html; charset=utf-8", []byte(errorPage))
	}
}
