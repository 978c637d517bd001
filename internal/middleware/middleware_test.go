package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlclassroom-api/internal/models"
	appErrors "github.com/noah-isme/sqlclassroom-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
}

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Wrap(errors.New("bad token"), appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	return v.claims, nil
}

type observerStub struct {
	path   string
	status int
}

func (o *observerStub) ObserveHTTPRequest(_ string, path string, status int, _ time.Duration) {
	o.path = path
	o.status = status
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestJWTRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := validatorStub{claims: &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}}

	router := gin.New()
	router.GET("/", JWT(validator), RequireRoles(models.RoleTeacher, models.RoleAdmin), func(c *gin.Context) {
		claims, ok := Claims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.UserID)
	})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token good")
	require.Equal(t, http.StatusUnauthorized, serve(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	require.Equal(t, http.StatusUnauthorized, serve(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec = serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "t1", rec.Body.String())
}

func TestRBACRejectsStudents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := validatorStub{claims: &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}}

	router := gin.New()
	router.GET("/", JWT(validator), RequireRoles(models.RoleTeacher), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	require.Equal(t, http.StatusForbidden, serve(router, req).Code)
}

func TestOptionalJWTAndCurrentActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := validatorStub{claims: &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}}

	var actor models.Actor
	router := gin.New()
	router.GET("/", OptionalJWT(validator), func(c *gin.Context) {
		actor = CurrentActor(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-sid"})
	require.Equal(t, http.StatusOK, serve(router, req).Code)
	require.Equal(t, models.Actor{SessionID: "cookie-sid"}, actor)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeader, "header-sid")
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-sid"})
	serve(router, req)
	require.Equal(t, "header-sid", actor.SessionID)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	serve(router, req)
	require.Equal(t, "s1", actor.UserID)
	require.Equal(t, "user:s1", actor.SessionKey())
}

func TestRateLimitPerActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(1, 2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	router := gin.New()
	router.POST("/", RateLimit(limiter), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	call := func(sid string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(SessionHeader, sid)
		return serve(router, req).Code
	}

	require.Equal(t, http.StatusOK, call("a"))
	require.Equal(t, http.StatusOK, call("a"))
	require.Equal(t, http.StatusTooManyRequests, call("a"))
	require.Equal(t, http.StatusOK, call("b"))

	now = now.Add(time.Second)
	require.Equal(t, http.StatusOK, call("a"))
}

func TestRateLimiterDropsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(1, 1, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.Allow("a"))
	now = now.Add(2 * time.Minute)
	require.True(t, limiter.Allow("b"))
	require.NotContains(t, limiter.visitors, "a")
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &observerStub{}
	router := gin.New()
	router.Use(Metrics(observer))
	router.GET("/tasks/:id/", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	serve(router, httptest.NewRequest(http.MethodGet, "/tasks/42/", nil))
	require.Equal(t, "/tasks/:id/", observer.path)
	require.Equal(t, http.StatusAccepted, observer.status)

	serve(router, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, "unmatched", observer.path)
}
