package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callcrm/internal/model"
	"callcrm/internal/pkg/metrics"
	"callcrm/internal/store"

	"github.com/gin-gonic/gin"
)

type createLeadRequest struct {
	CustomerName   string `json:"customerName" binding:"required"`
	CustomerNumber string `json:"customerNumber" binding:"required"`
	Description    string `json:"description"`
	Biodata        string `json:"biodata"`
}

type updateLeadRequest struct {
	CustomerName   *string `json:"customerName"`
	CustomerNumber *string `json:"customerNumber"`
	Description    *string `json:"description"`
	Biodata        *string `json:"biodata"`
}

type transferLeadRequest struct {
	TransferredTo uint `json:"transferredTo" binding:"required"`
}

type agentSummary struct {
	ID    uint       `json:"id"`
	Email string     `json:"email"`
	Name  string     `json:"name"`
	Role  model.Role `json:"role"`
}

// handleListLeads 按角色返回可见线索：cc 坐席看自己创建的，cro 坐席看转交给自己的，管理员看全部。
func (s *Server) handleListLeads(c *gin.Context) {
	userID, role := currentUser(c)
	ctx := c.Request.Context()

	var (
		leads []model.Lead
		err   error
	)
	switch role {
	case model.RoleSuperAdmin:
		leads, err = s.store.ListLeads(ctx, store.LeadFilter{})
	case model.RoleCROAgent:
		leads, err = s.store.ListTransferredLeads(ctx, userID)
	default:
		leads, err = s.store.ListLeadsByAgent(ctx, userID)
	}
	if err != nil {
		s.respondStoreError(c, "list leads", err)
		return
	}
	c.JSON(http.StatusOK, leads)
}

func (s *Server) handleListTransferredLeads(c *gin.Context) {
	userID, _ := currentUser(c)
	leads, err := s.store.ListTransferredLeads(c.Request.Context(), userID)
	if err != nil {
		s.respondStoreError(c, "list transferred leads", err)
		return
	}
	c.JSON(http.StatusOK, leads)
}

func (s *Server) handleCreateLead(c *gin.Context) {
	var req createLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customerName and customerNumber are required"})
		return
	}
	name := strings.TrimSpace(req.CustomerName)
	number := strings.TrimSpace(req.CustomerNumber)
	if name == "" || number == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customerName and customerNumber are required"})
		return
	}

	userID, _ := currentUser(c)
	lead := &model.Lead{
		CustomerName:   name,
		CustomerNumber: number,
		Description:    req.Description,
		Biodata:        strings.TrimSpace(req.Biodata),
		AgentID:        userID,
	}
	if err := s.store.CreateLead(c.Request.Context(), lead); err != nil {
		s.respondStoreError(c, "create lead", err)
		return
	}
	metrics.LeadsCreatedTotal.Inc()
	s.logger.Info("lead created", slog.Uint64("lead_id", uint64(lead.ID)), slog.Uint64("agent_id", uint64(userID)))
	c.JSON(http.StatusCreated, lead)
}

func (s *Server) handleUpdateLead(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req updateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.CustomerName != nil && strings.TrimSpace(*req.CustomerName) == "") ||
		(req.CustomerNumber != nil && strings.TrimSpace(*req.CustomerNumber) == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customerName and customerNumber cannot be empty"})
		return
	}

	userID, role := currentUser(c)
	lead, err := s.store.UpdateLead(c.Request.Context(), id, userID, role, store.LeadUpdate{
		CustomerName:   req.CustomerName,
		CustomerNumber: req.CustomerNumber,
		Description:    req.Description,
		Biodata:        req.Biodata,
	})
	if err != nil {
		s.respondStoreError(c, "update lead", err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (s *Server) handleTransferLead(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req transferLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transferredTo is required"})
		return
	}

	userID, _ := currentUser(c)
	ctx := c.Request.Context()
	lead, err := s.store.TransferLead(ctx, id, userID, req.TransferredTo)
	if err != nil {
		s.respondStoreError(c, "transfer lead", err)
		return
	}
	metrics.LeadsTransferredTotal.Inc()
	s.logger.Info("lead transferred",
		slog.Uint64("lead_id", uint64(lead.ID)),
		slog.Uint64("from", uint64(userID)),
		slog.Uint64("to", uint64(req.TransferredTo)))

	from, fromErr := s.store.GetUser(ctx, userID)
	to, toErr := s.store.GetUser(ctx, req.TransferredTo)
	if fromErr == nil && toErr == nil {
		s.notifier.LeadTransferred(*lead, *from, *to)
	} else {
		s.logger.Warn("skip transfer notification", slog.Uint64("lead_id", uint64(lead.ID)))
	}
	c.JSON(http.StatusOK, lead)
}

func (s *Server) handleListCROAgents(c *gin.Context) {
	users, err := s.store.ListUsersByRole(c.Request.Context(), model.RoleCROAgent)
	if err != nil {
		s.respondStoreError(c, "list cro agents", err)
		return
	}
	out := make([]agentSummary, 0, len(users))
	for _, u := range users {
		out = append(out, agentSummary{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role})
	}
	c.JSON(http.StatusOK, out)
}

// handleAdminListLeads 支持 agentId、from、to（YYYY-MM-DD，含当天）与 q 过滤。
func (s *Server) handleAdminListLeads(c *gin.Context) {
	var f store.LeadFilter
	loc := s.store.Location()

	if v := c.Query("agentId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agentId"})
			return
		}
		agentID := uint(id)
		f.AgentID = &agentID
	}
	if v := c.Query("from"); v != "" {
		day, err := time.ParseInLocation(store.DayLayout, v, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date"})
			return
		}
		f.From = day
	}
	if v := c.Query("to"); v != "" {
		day, err := time.ParseInLocation(store.DayLayout, v, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date"})
			return
		}
		f.To = day.AddDate(0, 0, 1)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must not be after to"})
		return
	}
	f.Query = c.Query("q")

	leads, err := s.store.ListLeads(c.Request.Context(), f)
	if err != nil {
		s.respondStoreError(c, "list leads", err)
		return
	}
	c.JSON(http.StatusOK, leads)
}
