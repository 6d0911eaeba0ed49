package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dref-api/internal/middleware"
	"github.com/noah-isme/dref-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.ClaimsFromContext(c)
}
