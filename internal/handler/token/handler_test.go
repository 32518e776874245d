package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/towndir/internal/handler"
	"github.com/jwalitptl/towndir/internal/middleware"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/service/token"
	"github.com/jwalitptl/towndir/pkg/logger"
)

type fakeIssuer struct {
	user   uuid.UUID
	person uuid.UUID
}

func (f *fakeIssuer) GenerateOptOutToken(_ context.Context, _ uuid.UUID, _ *uuid.UUID) (*token.Issued, error) {
	return &token.Issued{Secret: "opt/out", Kind: model.TokenKindOptOut, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeIssuer) GenerateMagicLinkToken(_ context.Context, _ uuid.UUID, _ *uuid.UUID) (*token.Issued, error) {
	return &token.Issued{Secret: "magic", Kind: model.TokenKindMagicLink, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeIssuer) OpenMagicLink(_ context.Context, secret string) (*token.Preferences, error) {
	if secret != "magic" {
		return nil, token.ErrInvalidToken
	}
	return &token.Preferences{
		Scope:   model.TokenScope{Kind: model.TokenKindMagicLink, UserID: f.user},
		OptOuts: []*model.OptOut{{UserID: f.user, PersonID: &f.person}},
	}, nil
}

func TestTokenRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fake := &fakeIssuer{user: uuid.New(), person: uuid.New()}
	engine := gin.New()
	engine.Use(middleware.ErrorHandler(logger.Nop()), middleware.Validation(middleware.DefaultValidationConfig()))
	h := NewHandler(fake, "https://towndir.test/")
	h.RegisterRoutes(engine.Group("/admin"))
	h.RegisterPublicRoutes(engine.Group("/api/v1"))

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

	user := `{"user_id":"` + fake.user.String() + `"}`

	w, resp := do(http.MethodPost, "/admin/tokens/opt-out", user)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "https://towndir.test/api/v1/unsubscribe/opt%2Fout", resp.Data.(map[string]interface{})["url"])

	w, resp = do(http.MethodPost, "/admin/tokens/magic-link", user)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "https://towndir.test/api/v1/magic/magic", resp.Data.(map[string]interface{})["url"])

	w, _ = do(http.MethodPost, "/admin/tokens/magic-link", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = do(http.MethodGet, "/api/v1/magic/magic", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	data := resp.Data.(map[string]interface{})
	scope := data["scope"].(map[string]interface{})
	assert.Equal(t, fake.user.String(), scope["user_id"])
	optOuts := data["opt_outs"].([]interface{})
	require.Len(t, optOuts, 1)
	assert.Equal(t, fake.person.String(), optOuts[0].(map[string]interface{})["person_id"])

	w, resp = do(http.MethodGet, "/api/v1/magic/forged", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, token.ErrInvalidToken.Error(), resp.Message)
}
