package handler

import (
	"expensehub/internal/apperr"
	"expensehub/internal/service"
	"expensehub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// abortWithError maps service errors onto the standard envelope
func abortWithError(c *gin.Context, err error) {
	status := apperr.Status(err)
	c.JSON(status, response.Error(status, err.Error()))
}

// currentUserID reads the authenticated user set by the auth middleware
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get("userID")
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func currentActor(c *gin.Context) (service.Actor, bool) {
	id, ok := currentUserID(c)
	if !ok {
		return service.Actor{}, false
	}
	email, _ := c.Get("userEmail")
	emailStr, _ := email.(string)
	return service.Actor{ID: id, Email: emailStr}, true
}

// parseIDParam parses a uuid path parameter
func parseIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	return uuid.Parse(c.Param(name))
}
