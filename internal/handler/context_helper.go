package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/permit-api/internal/middleware"
	"github.com/noah-isme/permit-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		return nil
	}
	return claims
}

func actorFromContext(c *gin.Context) (models.Actor, bool) {
	return middleware.ActorFromContext(c)
}
