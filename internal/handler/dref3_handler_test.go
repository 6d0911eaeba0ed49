package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dref-api/internal/middleware"
	"github.com/noah-isme/dref-api/internal/models"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
)

type aggregationServiceMock struct {
	filter models.AppealCodeFilter
	code   string
	err    error
}

func (m *aggregationServiceMock) List(ctx context.Context, claims *models.JWTClaims, filter models.AppealCodeFilter) ([]models.ChainStage, *models.Pagination, error) {
	m.filter = filter
	if m.err != nil {
		return nil, nil, m.err
	}
	stages := []models.ChainStage{{Stage: "Application", Kind: models.RecordKindDref, Dref: &models.Dref{ID: 1}}}
	return stages, &models.Pagination{Limit: 50, TotalCount: 1}, nil
}

func (m *aggregationServiceMock) Chain(ctx context.Context, claims *models.JWTClaims, appealCode string) ([]models.ChainStage, error) {
	m.code = appealCode
	if m.err != nil {
		return nil, m.err
	}
	return []models.ChainStage{}, nil
}

func (m *aggregationServiceMock) ExportCSV(ctx context.Context, claims *models.JWTClaims, filter models.AppealCodeFilter) ([]byte, error) {
	m.filter = filter
	return []byte("appeal_code,stage\nMDR001,Application\n"), m.err
}

func TestDref3HandlerParsesFilters(t *testing.T) {
	svc := &aggregationServiceMock{}
	handler := NewDref3Handler(svc)
	target := "/dref3?appeal_code_prefix=MDR&event_date_from=2024-01-01&end_date_to=2024-12-31T00:00:00Z" +
		"&region=3&country_iso3=ken&appeal_type=3&operation_status=2&stage=Final_Report&id=1,%202&limit=10&offset=20"
	c, w := newTestContext(http.MethodGet, target, nil)
	c.Set("response_meta", map[string]interface{}{})

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)

	filter := svc.filter
	assert.Equal(t, "MDR", filter.AppealCodePrefix)
	assert.Equal(t, "KEN", filter.CountryISO3)
	require.NotNil(t, filter.RegionID)
	assert.Equal(t, int64(3), *filter.RegionID)
	require.NotNil(t, filter.AppealType)
	assert.Equal(t, models.DrefTypeLoan, *filter.AppealType)
	require.NotNil(t, filter.OperationStatus)
	assert.Equal(t, models.DrefStatusFinalized, *filter.OperationStatus)
	assert.Equal(t, models.ChainStageFinalReport, filter.Stage)
	assert.Equal(t, []int64{1, 2}, filter.IDs)
	assert.Equal(t, 10, filter.Limit)
	assert.Equal(t, 20, filter.Offset)

	require.Contains(t, filter.DateRanges, "event_date")
	assert.True(t, filter.DateRanges["event_date"].From.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, filter.DateRanges["event_date"].To)
	require.Contains(t, filter.DateRanges, "end_date")
	assert.NotNil(t, filter.DateRanges["end_date"].To)
	assert.NotContains(t, filter.DateRanges, "hazard_date")

	assert.Contains(t, w.Body.String(), `"total_count":1`)
	assert.Equal(t, 1, middleware.ExtractMeta(c)["stages"])
}

func TestDref3HandlerRejectsBadFilters(t *testing.T) {
	for _, query := range []string{
		"stage=draft",
		"appeal_type=9",
		"operation_status=x",
		"id=1,a",
		"publishing_date_to=soon",
		"region=north",
		"limit=ten",
	} {
		t.Run(query, func(t *testing.T) {
			handler := NewDref3Handler(&aggregationServiceMock{})
			c, w := newTestContext(http.MethodGet, "/dref3?"+query, nil)
			handler.List(c)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestDref3HandlerExportCSV(t *testing.T) {
	handler := NewDref3Handler(&aggregationServiceMock{})
	handler.now = func() time.Time { return time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC) }
	c, w := newTestContext(http.MethodGet, "/dref3?export=CSV", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="dref-chains-20240701-080000.csv"`, w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Body.String(), "MDR001,Application")
}

func TestDref3HandlerChain(t *testing.T) {
	svc := &aggregationServiceMock{}
	handler := NewDref3Handler(svc)
	c, w := newTestContext(http.MethodGet, "/dref3/MDR001", nil)
	c.Params = gin.Params{{Key: "appeal_code", Value: "MDR001"}}

	handler.Chain(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MDR001", svc.code)

	svc.err = appErrors.Clone(appErrors.ErrNotFound, "no DREF chain for appeal code MDR404")
	c, w = newTestContext(http.MethodGet, "/dref3/MDR404", nil)
	c.Params = gin.Params{{Key: "appeal_code", Value: "MDR404"}}
	handler.Chain(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type pingerStub struct{ err error }

func (p pingerStub) PingContext(ctx context.Context) error { return p.err }

func TestMetricsHandlerReady(t *testing.T) {
	handler := NewMetricsHandler(nil, map[string]Pinger{"postgres": pingerStub{}})
	c, w := newTestContext(http.MethodGet, "/ready", nil)
	handler.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)

	handler = NewMetricsHandler(nil, map[string]Pinger{"redis": pingerStub{err: errors.New("dial tcp: refused")}})
	c, w = newTestContext(http.MethodGet, "/ready", nil)
	handler.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	c, w = newTestContext(http.MethodGet, "/metrics", nil)
	handler.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
