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

type drefService interface {
	Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.Dref, error)
	Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateDrefRequest) (*models.Dref, error)
	Update(ctx context.Context, claims *models.JWTClaims, id int64, req dto.PatchRequest) (*models.Dref, error)
	Finalize(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (*models.Dref, error)
	Approve(ctx context.Context, claims *models.JWTClaims, id int64, req dto.TransitionRequest) (*models.Dref, error)
	Share(ctx context.Context, claims *models.JWTClaims, id int64, req dto.ShareRequest) (*models.Dref, error)
}

// DrefHandler exposes application endpoints.
type DrefHandler struct {
	service drefService
}

// NewDrefHandler constructs the handler.
func NewDrefHandler(service drefService) *DrefHandler {
	return &DrefHandler{service: service}
}

// Create godoc
// @Summary Create a DREF application
// @Tags DREF
// @Accept json
// @Produce json
// @Param payload body dto.CreateDrefRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Router /dref [post]
func (h *DrefHandler) Create(c *gin.Context) {
	var req dto.CreateDrefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid DREF payload"))
		return
	}
	dref, err := h.service.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dref)
}

// Get godoc
// @Summary Get a DREF application
// @Tags DREF
// @Produce json
// @Param id path int true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /dref/{id} [get]
func (h *DrefHandler) Get(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	dref, err := h.service.Get(c.Request.Context(), claimsFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dref, nil)
}

// Update godoc
// @Summary Partially update a DREF application
// @Tags DREF
// @Accept json
// @Produce json
// @Param id path int true "Application ID"
// @Param modified_at query string true "Last modified_at seen by the client"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /dref/{id} [patch]
func (h *DrefHandler) Update(c *gin.Context) {
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
	dref, err := h.service.Update(c.Request.Context(), claimsFromContext(c), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dref, nil)
}

// Finalize godoc
// @Summary Finalize a DREF application
// @Tags DREF
// @Produce json
// @Param id path int true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /dref/{id}/finalize [post]
func (h *DrefHandler) Finalize(c *gin.Context) {
	h.transition(c, h.service.Finalize)
}

// Approve godoc
// @Summary Approve a finalized DREF application
// @Tags DREF
// @Produce json
// @Param id path int true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /dref/{id}/approve [post]
func (h *DrefHandler) Approve(c *gin.Context) {
	h.transition(c, h.service.Approve)
}

// Share godoc
// @Summary Replace the sharing list of a whole chain
// @Tags DREF
// @Accept json
// @Produce json
// @Param id path int true "Application ID"
// @Param payload body dto.ShareRequest true "Users"
// @Success 200 {object} response.Envelope
// @Router /dref/{id}/share [post]
func (h *DrefHandler) Share(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid share payload"))
		return
	}
	dref, err := h.service.Share(c.Request.Context(), claimsFromContext(c), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dref, nil)
}

func (h *DrefHandler) transition(c *gin.Context, action func(context.Context, *models.JWTClaims, int64, dto.TransitionRequest) (*models.Dref, error)) {
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
	dref, err := action(c.Request.Context(), claimsFromContext(c), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dref, nil)
}
