package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dref-api/internal/middleware"
	"github.com/noah-isme/dref-api/internal/models"
	"github.com/noah-isme/dref-api/pkg/response"
)

type aggregationService interface {
	List(ctx context.Context, claims *models.JWTClaims, filter models.AppealCodeFilter) ([]models.ChainStage, *models.Pagination, error)
	Chain(ctx context.Context, claims *models.JWTClaims, appealCode string) ([]models.ChainStage, error)
	ExportCSV(ctx context.Context, claims *models.JWTClaims, filter models.AppealCodeFilter) ([]byte, error)
}

// Dref3Handler exposes the flattened stage chains grouped by appeal code.
type Dref3Handler struct {
	service aggregationService
	now     func() time.Time
}

// NewDref3Handler constructs the handler.
func NewDref3Handler(service aggregationService) *Dref3Handler {
	return &Dref3Handler{service: service, now: time.Now}
}

// List godoc
// @Summary List stage chains for every visible appeal code
// @Tags DREF Chains
// @Produce json
// @Produce text/csv
// @Param appeal_code_prefix query string false "Appeal code prefix"
// @Param region query int false "Region ID"
// @Param country_iso3 query string false "Country ISO3"
// @Param appeal_type query int false "DREF type"
// @Param operation_status query int false "Application status"
// @Param stage query string false "application, operational_update or final_report"
// @Param id query string false "Comma separated application ids"
// @Param event_date_from query string false "Lower bound, also available for the other date fields"
// @Param limit query int false "Appeal codes per page"
// @Param offset query int false "Appeal codes to skip"
// @Param export query string false "csv downloads every matching chain, ignoring limit and offset"
// @Success 200 {object} response.Envelope
// @Router /dref3 [get]
func (h *Dref3Handler) List(c *gin.Context) {
	filter, err := parseAppealCodeFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	claims := claimsFromContext(c)

	if strings.EqualFold(c.Query("export"), "csv") {
		payload, err := h.service.ExportCSV(c.Request.Context(), claims, filter)
		if err != nil {
			response.Error(c, err)
			return
		}
		filename := fmt.Sprintf("dref-chains-%s.csv", h.now().UTC().Format("20060102-150405"))
		response.Attachment(c, filename, "text/csv", payload)
		return
	}

	stages, page, err := h.service.List(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "stages", len(stages))
	response.JSON(c, http.StatusOK, stages, page, middleware.ExtractMeta(c))
}

// Chain godoc
// @Summary Get the stage chain of one appeal code
// @Tags DREF Chains
// @Produce json
// @Param appeal_code path string true "Appeal code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /dref3/{appeal_code} [get]
func (h *Dref3Handler) Chain(c *gin.Context) {
	stages, err := h.service.Chain(c.Request.Context(), claimsFromContext(c), c.Param("appeal_code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stages, nil)
}
