package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/towndir/internal/handler"
	apperrors "github.com/jwalitptl/towndir/pkg/errors"
	"github.com/jwalitptl/towndir/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) handler.Response {
	t.Helper()
	var resp handler.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/", func(c *gin.Context) {
		rid, _ := c.Request.Context().Value(logger.RequestIDKey{}).(string)
		c.String(http.StatusOK, rid)
	})

	w := serve(engine, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderXRequestID))
	assert.Equal(t, w.Header().Get(HeaderXRequestID), w.Body.String())

	w = serve(engine, http.MethodGet, "/", "", map[string]string{HeaderXRequestID: "abc-123"})
	assert.Equal(t, "abc-123", w.Body.String())
}

func TestErrorHandler_RendersAppError(t *testing.T) {
	engine := gin.New()
	engine.Use(ErrorHandler(logger.Nop()))
	engine.GET("/missing", func(c *gin.Context) {
		_ = c.Error(apperrors.NotFound("town", nil))
	})
	engine.GET("/boom", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
	})

	w := serve(engine, http.MethodGet, "/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "town not found", resp.Message)

	w = serve(engine, http.MethodGet, "/boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decode(t, w).Message)
}

func TestRecovery(t *testing.T) {
	engine := gin.New()
	engine.Use(Recovery(logger.Nop()))
	engine.GET("/", func(c *gin.Context) { panic("kaboom") })

	w := serve(engine, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decode(t, w).Message)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RPS: 0.001, Burst: 2})
	engine := gin.New()
	engine.Use(rl.RateLimit())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":5555"
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, hit("192.0.2.1"))
	assert.Equal(t, http.StatusOK, hit("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("192.0.2.1"))
	assert.Equal(t, http.StatusOK, hit("192.0.2.2"), "other clients have their own bucket")
}

func TestRateLimiter_ZeroRateIsUnlimited(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	for i := 0; i < 50; i++ {
		require.True(t, rl.Allow("client"))
	}
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "s3cret"
	engine := gin.New()
	engine.Use(NewAuthMiddleware(secret).Authenticate())
	engine.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextAdminSubject)) })

	valid, err := IssueAdminToken(secret, "ops", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	expired, err := IssueAdminToken(secret, "ops", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	require.NoError(t, err)
	noExpiry, err := IssueAdminToken(secret, "ops", jwt.RegisteredClaims{})
	require.NoError(t, err)
	otherKey, err := IssueAdminToken("different", "ops", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	reader, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role:             "reader",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	w := serve(engine, http.MethodGet, "/", "", map[string]string{"Authorization": "Bearer " + valid})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", w.Body.String())

	for name, header := range map[string]string{
		"missing":   "",
		"scheme":    "Basic " + valid,
		"expired":   "Bearer " + expired,
		"no expiry": "Bearer " + noExpiry,
		"other key": "Bearer " + otherKey,
		"not admin": "Bearer " + reader,
	} {
		t.Run(name, func(t *testing.T) {
			w := serve(engine, http.MethodGet, "/", "", map[string]string{"Authorization": header})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuthMiddleware_DisabledWithoutSecret(t *testing.T) {
	auth := NewAuthMiddleware("")
	assert.False(t, auth.Enabled())

	engine := gin.New()
	engine.Use(auth.Authenticate())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, serve(engine, http.MethodGet, "/", "", nil).Code)
}

type slugBody struct {
	Slug   string `json:"slug" binding:"required,slug"`
	Reason string `json:"reason" binding:"omitempty,suppression_reason"`
	Status string `json:"status" binding:"omitempty,email_status"`
}

func TestValidation_CustomTags(t *testing.T) {
	engine := gin.New()
	engine.Use(ErrorHandler(logger.Nop()), Validation(DefaultValidationConfig()))
	engine.POST("/", func(c *gin.Context) {
		var body slugBody
		if err := c.ShouldBindJSON(&body); err != nil {
			handler.BindFailed(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	w := serve(engine, http.MethodPost, "/", `{"slug":"springfield","reason":"manual","status":"SENT"}`, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(engine, http.MethodPost, "/", `{"slug":"Spring Field","reason":"angry","status":"LOST"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "validation failed", resp.Message)

	fields := map[string]bool{}
	for _, e := range resp.Data.([]interface{}) {
		fields[e.(map[string]interface{})["field"].(string)] = true
	}
	assert.Equal(t, map[string]bool{"slug": true, "reason": true, "status": true}, fields)

	w = serve(engine, http.MethodPost, "/", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "malformed request", decode(t, w).Message)
}

func TestTimeout_SetsDeadline(t *testing.T) {
	engine := gin.New()
	engine.Use(Timeout(TimeoutConfig{Duration: time.Minute}))
	engine.GET("/", func(c *gin.Context) {
		deadline, ok := c.Request.Context().Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
		c.Status(http.StatusOK)
	})
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/", "", nil).Code)
}

func TestCacheAndCORSHeaders(t *testing.T) {
	engine := gin.New()
	engine.Use(CORS(DefaultCORSConfig()), Cache(DefaultCacheConfig()))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.PUT("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.OPTIONS("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(engine, http.MethodGet, "/", "", map[string]string{"Origin": "https://towndir.test"})
	assert.Equal(t, "public, max-age=60, stale-while-revalidate=30, stale-if-error=300", w.Header().Get("Cache-Control"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), handler.HeaderCacheSource)

	w = serve(engine, http.MethodPut, "/", "", nil)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = serve(engine, http.MethodOptions, "/", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSizeLimit(t *testing.T) {
	engine := gin.New()
	engine.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 8, MaxHeaderSize: 1 << 12, ErrorMessage: "too big"}))
	engine.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(engine, http.MethodPost, "/", `{"a":"0123456789"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, decode(t, w).Message, "too big")

	w = serve(engine, http.MethodPost, "/", `{}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	engine := gin.New()
	engine.Use(SecurityHeaders(DefaultSecurityConfig(false)))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(engine, http.MethodGet, "/", "", nil)
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	engine = gin.New()
	engine.Use(SecurityHeaders(DefaultSecurityConfig(true)))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w = serve(engine, http.MethodGet, "/", "", nil)
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
}
