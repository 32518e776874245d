package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/towndir/internal/cache"
	"github.com/jwalitptl/towndir/internal/handler"
	"github.com/jwalitptl/towndir/internal/middleware"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/pkg/logger"
)

type fakeService struct {
	tier    model.Tier
	saved   []*model.Person
	saveErr error
}

func (f *fakeService) GetPerson(_ context.Context, town, person string) (model.Person, model.Tier, error) {
	if person != "homer" {
		return model.Person{}, 0, cache.ErrNotFound
	}
	return model.Person{TownSlug: town, Slug: person, Name: "Homer"}, f.tier, nil
}

func (f *fakeService) GetTown(_ context.Context, town string) (model.TownPage, model.Tier, error) {
	return model.TownPage{Town: model.Town{Slug: town}}, f.tier, nil
}

func (f *fakeService) ListTowns(context.Context) ([]model.Town, model.Tier, error) {
	return []model.Town{{Slug: "springfield"}}, f.tier, nil
}

func (f *fakeService) GetHomepage(context.Context) (model.Homepage, model.Tier, error) {
	return model.Homepage{}, f.tier, nil
}

func (f *fakeService) SaveTown(_ context.Context, town *model.Town) error {
	town.ID = uuid.New()
	return f.saveErr
}

func (f *fakeService) SavePerson(_ context.Context, person *model.Person) error {
	f.saved = append(f.saved, person)
	return f.saveErr
}

func setup(t *testing.T) (*gin.Engine, *fakeService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fake := &fakeService{tier: model.TierRedis}
	engine := gin.New()
	engine.Use(middleware.ErrorHandler(logger.Nop()), middleware.Validation(middleware.DefaultValidationConfig()))
	h := NewHandler(fake)
	h.RegisterRoutes(engine.Group(""))
	h.RegisterAdminRoutes(engine.Group("/admin"))
	return engine, fake
}

func do(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestReadsReportCacheSource(t *testing.T) {
	engine, fake := setup(t)

	for _, path := range []string{
		"/directory/homepage",
		"/directory/towns",
		"/directory/towns/springfield",
		"/directory/towns/springfield/persons/homer",
	} {
		w := do(engine, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "redis", w.Header().Get(handler.HeaderCacheSource), path)
	}

	fake.tier = model.TierMemory
	w := do(engine, http.MethodGet, "/directory/towns/springfield/persons/homer", "")
	assert.Equal(t, "memory", w.Header().Get(handler.HeaderCacheSource))

	var resp handler.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Homer", resp.Data.(map[string]interface{})["name"])

	w = do(engine, http.MethodGet, "/directory/towns/springfield/persons/bart", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Header().Get(handler.HeaderCacheSource))
}

func TestSavePerson(t *testing.T) {
	engine, fake := setup(t)
	id := uuid.New()

	w := do(engine, http.MethodPut, "/admin/directory/towns/shelbyville/persons/homer",
		`{"id":"`+id.String()+`","name":"Homer","bio":"Safety inspector"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, fake.saved, 1)
	assert.Equal(t, id, fake.saved[0].ID)
	assert.Equal(t, "shelbyville", fake.saved[0].TownSlug)
	assert.Equal(t, "Safety inspector", fake.saved[0].Bio)

	w = do(engine, http.MethodPut, "/admin/directory/towns/Shelbyville/persons/homer", `{"name":"Homer"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, fake.saved, 1)
}

func TestSaveTown_PartialInvalidation(t *testing.T) {
	engine, fake := setup(t)
	fake.saveErr = fmt.Errorf("town springfield: %w", cache.ErrInvalidationIncomplete)

	w := do(engine, http.MethodPut, "/admin/directory/towns/springfield", `{"name":"Springfield"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp handler.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "saved, but cached copies could not all be invalidated", resp.Message)

	fake.saveErr = nil
	w = do(engine, http.MethodPut, "/admin/directory/towns/springfield", `{"name":"Springfield"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}
