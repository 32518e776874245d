package suppression

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/towndir/internal/handler"
	"github.com/jwalitptl/towndir/internal/middleware"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
	"github.com/jwalitptl/towndir/internal/service/suppression"
	"github.com/jwalitptl/towndir/pkg/logger"
)

type fakeService struct {
	rows   map[string]*model.EmailSuppression
	filter model.SuppressionFilter
}

func (f *fakeService) Add(_ context.Context, e suppression.Entry) (*model.EmailSuppression, error) {
	row := &model.EmailSuppression{Email: strings.ToLower(e.Email), Reason: e.Reason, Source: e.Source}
	f.rows[row.Email] = row
	return row, nil
}

func (f *fakeService) Remove(_ context.Context, email string) (bool, error) {
	_, ok := f.rows[email]
	delete(f.rows, email)
	return ok, nil
}

func (f *fakeService) Get(_ context.Context, email string) (*model.EmailSuppression, error) {
	row, ok := f.rows[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return row, nil
}

func (f *fakeService) List(_ context.Context, filter model.SuppressionFilter) ([]*model.EmailSuppression, int64, error) {
	f.filter = filter
	out := make([]*model.EmailSuppression, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, int64(len(out)), nil
}

func TestSuppressionRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fake := &fakeService{rows: map[string]*model.EmailSuppression{}}
	engine := gin.New()
	engine.Use(middleware.ErrorHandler(logger.Nop()), middleware.Validation(middleware.DefaultValidationConfig()))
	NewHandler(fake).RegisterRoutes(engine.Group("/admin"))

	do := func(method, path, body string) (*httptest.ResponseRecorder, handler.Response) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		var resp handler.Response
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		return w, resp
	}

	w, resp := do(http.MethodPost, "/admin/suppressions", `{"email":"Bounce@Example.com","reason":"manual"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	row := resp.Data.(map[string]interface{})
	assert.Equal(t, "bounce@example.com", row["email"])
	assert.Equal(t, string(model.SuppressionSourceAdmin), row["source"])

	w, _ = do(http.MethodPost, "/admin/suppressions", `{"email":"bounce@example.com","reason":"grumpy"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(http.MethodGet, "/admin/suppressions/bounce@example.com", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(http.MethodGet, "/admin/suppressions?search=example&reason=manual&page_size=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "example", fake.filter.Search)
	assert.Equal(t, model.ReasonManual, fake.filter.Reason)
	assert.Equal(t, 10, fake.filter.PageSize)

	w, resp = do(http.MethodDelete, "/admin/suppressions/bounce@example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["removed"])

	w, resp = do(http.MethodDelete, "/admin/suppressions/bounce@example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp.Data.(map[string]interface{})["removed"])

	w, _ = do(http.MethodGet, "/admin/suppressions/bounce@example.com", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
