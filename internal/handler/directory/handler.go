package directory

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/towndir/internal/handler"
	"github.com/jwalitptl/towndir/internal/model"
)

type Service interface {
	GetPerson(ctx context.Context, town, person string) (model.Person, model.Tier, error)
	GetTown(ctx context.Context, town string) (model.TownPage, model.Tier, error)
	ListTowns(ctx context.Context) ([]model.Town, model.Tier, error)
	GetHomepage(ctx context.Context) (model.Homepage, model.Tier, error)
	SaveTown(ctx context.Context, town *model.Town) error
	SavePerson(ctx context.Context, person *model.Person) error
}

type Handler struct {
	service Service
}

func NewHandler(s Service) *Handler {
	return &Handler{service: s}
}

// RegisterRoutes mounts the cached public reads. mw runs on every read.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, mw ...gin.HandlerFunc) {
	d := r.Group("/directory", mw...)
	{
		d.GET("/homepage", h.Homepage)
		d.GET("/towns", h.Towns)
		d.GET("/towns/:town", h.Town)
		d.GET("/towns/:town/persons/:person", h.Person)
	}
}

// RegisterAdminRoutes mounts the writes that cascade invalidations.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	d := r.Group("/directory")
	{
		d.PUT("/towns/:town", h.SaveTown)
		d.PUT("/towns/:town/persons/:person", h.SavePerson)
	}
}

func served(c *gin.Context, data interface{}, tier model.Tier, err error) {
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.Header(handler.HeaderCacheSource, tier.String())
	handler.OK(c, data)
}

func (h *Handler) Homepage(c *gin.Context) {
	page, tier, err := h.service.GetHomepage(c.Request.Context())
	served(c, page, tier, err)
}

func (h *Handler) Towns(c *gin.Context) {
	towns, tier, err := h.service.ListTowns(c.Request.Context())
	served(c, towns, tier, err)
}

func (h *Handler) Town(c *gin.Context) {
	page, tier, err := h.service.GetTown(c.Request.Context(), c.Param("town"))
	served(c, page, tier, err)
}

func (h *Handler) Person(c *gin.Context) {
	person, tier, err := h.service.GetPerson(c.Request.Context(), c.Param("town"), c.Param("person"))
	served(c, person, tier, err)
}

type townURI struct {
	Town string `uri:"town" binding:"required,slug,max=100"`
}

type personURI struct {
	Town   string `uri:"town" binding:"required,slug,max=100"`
	Person string `uri:"person" binding:"required,slug,max=100"`
}

type townRequest struct {
	Name string `json:"name" binding:"max=200"`
}

func (h *Handler) SaveTown(c *gin.Context) {
	var uri townURI
	if err := c.ShouldBindUri(&uri); err != nil {
		handler.BindFailed(c, err)
		return
	}
	var req townRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	town := &model.Town{Slug: uri.Town, Name: req.Name}
	if err := h.service.SaveTown(c.Request.Context(), town); err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, town)
}

// personRequest moves an existing person when ID names someone who lives
// in another town.
type personRequest struct {
	ID   *uuid.UUID `json:"id"`
	Name string     `json:"name" binding:"max=200"`
	Bio  string     `json:"bio" binding:"max=10000"`
}

func (h *Handler) SavePerson(c *gin.Context) {
	var uri personURI
	if err := c.ShouldBindUri(&uri); err != nil {
		handler.BindFailed(c, err)
		return
	}
	var req personRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	person := &model.Person{TownSlug: uri.Town, Slug: uri.Person, Name: req.Name, Bio: req.Bio}
	if req.ID != nil {
		person.ID = *req.ID
	}
	if err := h.service.SavePerson(c.Request.Context(), person); err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, person)
}
