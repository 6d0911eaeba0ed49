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

type operationalUpdateService interface {
	Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.OperationalUpdate, error)
	Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateStageRequest) (*models.OperationalUpdate, error)
	Update(ctx context.Context, claims *models.JWTClaims, id int64, req dto.PatchRequest) (*models.OperationalUpdate, error)
	Finalize(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (*models.OperationalUpdate, error)
	Approve(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (*models.OperationalUpdate, error)
}

// OperationalUpdateHandler exposes operational update endpoints.
type OperationalUpdateHandler struct {
	service operationalUpdateService
}

// NewOperationalUpdateHandler constructs the handler.
func NewOperationalUpdateHandler(service operationalUpdateService) *OperationalUpdateHandler {
	return &OperationalUpdateHandler{service: service}
}

// Create godoc
// @Summary Create an operational update carrying forward the chain
// @Tags DREF Operational Update
// @Accept json
// @Produce json
// @Param payload body dto.CreateStageRequest true "Owning application"
// @Success 201 {object} response.Envelope
// @Router /dref-op-update [post]
func (h *OperationalUpdateHandler) Create(c *gin.Context) {
	var req dto.CreateStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid operational update payload"))
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
// @Summary Get an operational update
// @Tags DREF Operational Update
// @Produce json
// @Param id path int true "Operational update ID"
// @Success 200 {object} response.Envelope
// @Router /dref-op-update/{id} [get]
func (h *OperationalUpdateHandler) Get(c *gin.Context) {
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
// @Summary Partially update an operational update
// @Tags DREF Operational Update
// @Accept json
// @Produce json
// @Param id path int true "Operational update ID"
// @Param modified_at query string true "Last modified_at seen by the client"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /dref-op-update/{id} [patch]
func (h *OperationalUpdateHandler) Update(c *gin.Context) {
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
// @Summary Finalize an operational update
// @Tags DREF Operational Update
// @Produce json
// @Param id path int true "Operational update ID"
// @Success 200 {object} response.Envelope
// @Router /dref-op-update/{id}/finalize [post]
func (h *OperationalUpdateHandler) Finalize(c *gin.Context) {
	h.transition(c, h.service.Finalize)
}

// Approve godoc
// @Summary Approve a finalized operational update
// @Tags DREF Operational Update
// @Produce json
// @Param id path int true "Operational update ID"
// @Success 200 {object} response.Envelope
// @Router /dref-op-update/{id}/approve [post]
func (h *OperationalUpdateHandler) Approve(c *gin.Context) {
	h.transition(c, h.service.Approve)
}

func (h *OperationalUpdateHandler) transition(c *gin.Context, action func(context.Context, *models.JWTClaims, int64, dto.TransitionRequest) (*models.OperationalUpdate, error)) {
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
