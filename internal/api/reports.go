package api

import (
	"log/slog"
	"net/http"

	"callcrm/internal/model"

	"github.com/gin-gonic/gin"
)

type createReportRequest struct {
	OnlineCalls  *int `json:"onlineCalls" binding:"required,min=0"`
	OfflineCalls *int `json:"offlineCalls" binding:"required,min=0"`
	TotalLeads   *int `json:"totalLeads" binding:"required,min=0"`
}

func (s *Server) handleCreateReport(c *gin.Context) {
	var req createReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "onlineCalls, offlineCalls and totalLeads must be non-negative integers"})
		return
	}

	userID, _ := currentUser(c)
	report := &model.Report{
		AgentID:      userID,
		OnlineCalls:  *req.OnlineCalls,
		OfflineCalls: *req.OfflineCalls,
		TotalLeads:   *req.TotalLeads,
	}
	if err := s.store.CreateReport(c.Request.Context(), report); err != nil {
		s.respondStoreError(c, "create report", err)
		return
	}
	s.logger.Info("report submitted", slog.Uint64("agent_id", uint64(userID)))
	c.JSON(http.StatusCreated, report)
}

func (s *Server) handleListReports(c *gin.Context) {
	userID, role := currentUser(c)
	var (
		reports []model.Report
		err     error
	)
	if role == model.RoleSuperAdmin {
		reports, err = s.store.ListReports(c.Request.Context())
	} else {
		reports, err = s.store.ListReportsByAgent(c.Request.Context(), userID)
	}
	if err != nil {
		s.respondStoreError(c, "list reports", err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

func (s *Server) handleGetDailyTask(c *gin.Context) {
	userID, _ := currentUser(c)
	task, err := s.store.GetTodayTask(c.Request.Context(), userID)
	if err != nil {
		s.respondStoreError(c, "get daily task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.respondStoreError(c, "get stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
