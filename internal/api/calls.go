package api

import (
	"net/http"

	"callcrm/internal/model"

	"github.com/gin-gonic/gin"
)

type setCategoryRequest struct {
	Category model.Category `json:"category" binding:"required"`
}

func (s *Server) handleListCalls(c *gin.Context) {
	userID, _ := currentUser(c)
	numbers, err := s.store.ListCallNumbersByAgent(c.Request.Context(), userID)
	if err != nil {
		s.respondStoreError(c, "list calls", err)
		return
	}
	c.JSON(http.StatusOK, numbers)
}

func (s *Server) handleSetCallCategory(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req setCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category is required"})
		return
	}
	if !req.Category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category"})
		return
	}

	userID, role := currentUser(c)
	number, err := s.store.SetCallCategory(c.Request.Context(), id, userID, role, req.Category)
	if err != nil {
		s.respondStoreError(c, "update call category", err)
		return
	}
	c.JSON(http.StatusOK, number)
}
