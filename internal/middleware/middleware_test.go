package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dref-api/internal/models"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
)

type validatorStub map[string]*models.JWTClaims

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

var tokens = validatorStub{
	"staff": {UserID: "staff-1", Role: models.RoleStaff},
	"guest": {UserID: "guest-1", Role: models.RoleGuest},
	"root":  {UserID: "root", Role: models.RoleSuperAdmin},
}

func serve(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(tokens))
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, ClaimsFromContext(c).UserID)
	})

	rec := serve(router, http.MethodGet, "/whoami", "staff")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "staff-1", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/whoami", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/whoami", "forged").Code)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Token staff")
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(OptionalJWT(tokens))
	router.GET("/", func(c *gin.Context) {
		if claims := ClaimsFromContext(c); claims != nil {
			c.String(http.StatusOK, claims.UserID)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})

	assert.Equal(t, "anonymous", serve(router, http.MethodGet, "/", "forged").Body.String())
	assert.Equal(t, "root", serve(router, http.MethodGet, "/", "root").Body.String())
}

func TestDenyGuestWrites(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(tokens), DenyGuestWrites())
	router.GET("/dref/1", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.PATCH("/dref/1", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/dref/1", "guest").Code)
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodPatch, "/dref/1", "guest").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPatch, "/dref/1", "staff").Code)
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(tokens), RequireRoles(models.RoleSuperAdmin))
	router.GET("/admin", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodGet, "/admin", "root").Code)
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, "/admin", "staff").Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	audit := &auditStub{}
	router := gin.New()
	router.Use(JWT(tokens))
	router.GET("/dref3/:appeal_code", Audit(audit, "DREF_CHAIN_READ", "dref3"), func(c *gin.Context) {
		if c.Param("appeal_code") == "missing" {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusOK)
	})

	serve(router, http.MethodGet, "/dref3/MDR001", "staff")
	serve(router, http.MethodGet, "/dref3/missing", "staff")

	require.Len(t, audit.logs, 1)
	log := audit.logs[0]
	assert.Equal(t, "DREF_CHAIN_READ", log.Action)
	require.NotNil(t, log.UserID)
	assert.Equal(t, "staff-1", *log.UserID)
	require.NotNil(t, log.ResourceID)
	assert.Equal(t, "MDR001", *log.ResourceID)
}

type observerStub struct {
	paths    []string
	statuses []int
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	o.paths = append(o.paths, method+" "+path)
	o.statuses = append(o.statuses, status)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &observerStub{}
	router := gin.New()
	router.Use(Metrics(observer))
	router.GET("/dref/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, http.MethodGet, "/dref/42", "")
	serve(router, http.MethodGet, "/nowhere", "")

	assert.Equal(t, []string{"GET /dref/:id", "GET unmatched"}, observer.paths)
	assert.Equal(t, []int{http.StatusOK, http.StatusNotFound}, observer.statuses)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(WithResponseMeta())
	var meta map[string]interface{}
	router.GET("/", func(c *gin.Context) {
		SetMeta(c, "chains", 3)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	serve(router, http.MethodGet, "/", "")
	assert.Equal(t, 3, meta["chains"])
	assert.Contains(t, meta, "processing_time_ms")

	assert.Nil(t, ExtractMeta(nil))
}
