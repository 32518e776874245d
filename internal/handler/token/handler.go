package token

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/towndir/internal/handler"
	"github.com/jwalitptl/towndir/internal/service/token"
)

type Issuer interface {
	GenerateOptOutToken(ctx context.Context, userID uuid.UUID, personID *uuid.UUID) (*token.Issued, error)
	GenerateMagicLinkToken(ctx context.Context, userID uuid.UUID, personID *uuid.UUID) (*token.Issued, error)
	OpenMagicLink(ctx context.Context, secret string) (*token.Preferences, error)
}

type Handler struct {
	issuer Issuer
	// baseURL prefixes the link returned with an issued token.
	baseURL string
}

func NewHandler(issuer Issuer, baseURL string) *Handler {
	return &Handler{issuer: issuer, baseURL: baseURL}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	t := r.Group("/tokens")
	{
		t.POST("/opt-out", h.OptOut)
		t.POST("/magic-link", h.MagicLink)
	}
}

// RegisterPublicRoutes mounts the magic-link landing route. The secret is
// the only credential, so callers pass a throttle in mw.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup, mw ...gin.HandlerFunc) {
	m := r.Group(MagicLinkPath, mw...)
	m.GET("/:token", h.Open)
}

// Open answers a magic link with the scope it grants and the user's
// current opt-outs.
func (h *Handler) Open(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	prefs, err := h.issuer.OpenMagicLink(c.Request.Context(), c.Param("token"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(prefs))
}

type issueRequest struct {
	UserID   uuid.UUID  `json:"user_id" binding:"required"`
	PersonID *uuid.UUID `json:"person_id"`
}

type issueResponse struct {
	*token.Issued
	URL string `json:"url,omitempty"`
}

func (h *Handler) OptOut(c *gin.Context) {
	h.issue(c, h.issuer.GenerateOptOutToken, true)
}

func (h *Handler) MagicLink(c *gin.Context) {
	h.issue(c, h.issuer.GenerateMagicLinkToken, false)
}

func (h *Handler) issue(c *gin.Context, gen func(context.Context, uuid.UUID, *uuid.UUID) (*token.Issued, error), optOut bool) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	issued, err := gen(c.Request.Context(), req.UserID, req.PersonID)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	resp := issueResponse{Issued: issued}
	if h.baseURL != "" {
		if optOut {
			resp.URL = UnsubscribeURL(h.baseURL, issued.Secret)
		} else {
			resp.URL = MagicLinkURL(h.baseURL, issued.Secret)
		}
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(resp))
}

// MagicLinkPath is the public route magic-link secrets are appended to,
// relative to /api/v1.
const MagicLinkPath = "/magic"

// MagicLinkURL is where a magic-link secret is opened.
func MagicLinkURL(baseURL, secret string) string {
	return strings.TrimRight(baseURL, "/") + "/api/v1" + MagicLinkPath + "/" + url.PathEscape(secret)
}

// UnsubscribePath is the public route opt-out secrets are appended to.
const UnsubscribePath = "/api/v1/unsubscribe"

// UnsubscribeURL is where an opt-out secret is redeemed.
func UnsubscribeURL(baseURL, secret string) string {
	return strings.TrimRight(baseURL, "/") + UnsubscribePath + "/" + url.PathEscape(secret)
}
