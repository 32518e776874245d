package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/towndir/internal/cache"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
	"github.com/jwalitptl/towndir/internal/service/directory"
	"github.com/jwalitptl/towndir/internal/service/notification"
	"github.com/jwalitptl/towndir/internal/service/suppression"
	"github.com/jwalitptl/towndir/internal/service/token"
	apperrors "github.com/jwalitptl/towndir/pkg/errors"
)

// AsAppError maps domain errors onto the HTTP error codes.
func AsAppError(err error) *apperrors.AppError {
	var (
		appErr *apperrors.AppError
		verrs  validator.ValidationErrors
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &verrs):
		return apperrors.BadRequest("validation failed", err)
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, cache.ErrNotFound):
		return apperrors.NotFound("resource", err)
	case errors.Is(err, directory.ErrUnknownTown):
		return apperrors.NotFound("town", err)
	case errors.Is(err, token.ErrInvalidToken):
		return apperrors.BadRequest(token.ErrInvalidToken.Error(), err)
	case errors.Is(err, directory.ErrInvalidSlug),
		errors.Is(err, suppression.ErrInvalidEmail),
		errors.Is(err, suppression.ErrInvalidReason),
		errors.Is(err, notification.ErrInvalidNotification),
		errors.Is(err, cache.ErrInvalidKey),
		errors.Is(err, cache.ErrUnsupportedTier),
		errors.Is(err, cache.ErrUnknownEntity):
		return apperrors.BadRequest(err.Error(), err)
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, notification.ErrStatusConflict),
		errors.Is(err, notification.ErrRecipientSuppressed),
		errors.Is(err, notification.ErrRecipientOptedOut):
		return apperrors.Conflict(err.Error(), err)
	case errors.Is(err, cache.ErrInvalidationIncomplete):
		return apperrors.Unavailable("saved, but cached copies could not all be invalidated", err)
	default:
		return apperrors.Internal(err)
	}
}

// Fail writes the error envelope for err and records err on the context
// so the error middleware can log server failures.
func Fail(c *gin.Context, err error) {
	appErr := AsAppError(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(appErr.StatusCode(), NewErrorResponse(appErr.Message))
}

// BindFailed answers a request whose body or query did not bind. Field
// validation failures are left to the validation middleware.
func BindFailed(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		c.Abort()
		return
	}
	_ = c.Error(err).SetType(gin.ErrorTypeBind)
	c.AbortWithStatusJSON(http.StatusBadRequest, NewErrorResponse("malformed request"))
}

// OK writes a success envelope.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, NewSuccessResponse(data))
}

// Page is the data of a paginated listing.
type Page struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func NewPage(items interface{}, total int64, p model.Pagination) Page {
	p = p.Normalize()
	return Page{Items: items, Total: total, Page: p.Page, PageSize: p.PageSize}
}
