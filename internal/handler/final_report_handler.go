package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dref-api/internal/dto"
	"github.com/noah-isme/dref-api/internal/models"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
	"github.com/noah-isme/dref-api/pkg/response"
)

type finalReportService interface {
	Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.FinalReport, error)
	Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateStageRequest) (*models.FinalReport, error)
	Update(ctx context.Context, claims *models.JWTClaims, id int64, req dto.PatchRequest) (*models.FinalReport, error)
	Finalize(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (*models.FinalReport, error)
	Approve(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (*models.FinalReport, error)
}

// FinalReportHandler exposes final report endpoints.
type FinalReportHandler struct {
	service finalReportService
}

// NewFinalReportHandler constructs the handler.
func NewFinalReportHandler(service finalReportService) *FinalReportHandler {
	return &FinalReportHandler{service: service}
}

// Create godoc
// @Summary Create a final report carrying forward the chain
// @Tags DREF Final Report
// @Accept json
// @Produce json
// @Param payload body dto.CreateStageRequest true "Owning application"
// @Success 201 {object} response.Envelope
// @Router /dref-final-report [post]
func (h *FinalReportHandler) Create(c *gin.Context) {
	var req dto.CreateStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid final report payload"))
		return
	}
	record, err := h.service.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Get godoc
// @Summary Get a final report
// @Tags DREF Final Report
// @Produce json
// @Param id path int true "Final report ID"
// @Success 200 {object} response.Envelope
// @Router /dref-final-report/{id} [get]
func (h *FinalReportHandler) Get(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	record, err := h.service.Get(c.Request.Context(), claimsFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Update godoc
// @Summary Partially update a final report
// @Tags DREF Final Report
// @Accept json
// @Produce json
// @Param id path int true "Final report ID"
// @Param modified_at query string true "Last modified_at seen by the client"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /dref-final-report/{id} [patch]
func (h *FinalReportHandler) Update(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	req, err := bindPatch(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	record, err := h.service.Update(c.Request.Context(), claimsFromContext(c), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Finalize godoc
// @Summary Finalize a final report
// @Tags DREF Final Report
// @Produce json
// @Param id path int true "Final report ID"
// @Success 200 {object} response.Envelope
// @Router /dref-final-report/{id}/finalize [post]
func (h *FinalReportHandler) Finalize(c *gin.Context) {
	h.transition(c, h.service.Finalize)
}

// Approve godoc
// @Summary Approve a finalized final report
// @Tags DREF Final Report
// @Produce json
// @Param id path int true "Final report ID"
// @Success 200 {object} response.Envelope
// @Router /dref-final-report/{id}/approve [post]
func (h *FinalReportHandler) Approve(c *gin.Context) {
	h.transition(c, h.service.Approve)
}

func (h *FinalReportHandler) transition(c *gin.Context, action func(context.Context, *models.JWTClaims, int64, dto.TransitionRequest) (*models.FinalReport, error)) {
	id, err := parseIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	req, err := bindTransition(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	record, err := action(c.Request.Context(), claimsFromContext(c), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}
