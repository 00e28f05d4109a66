package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"callcrm/internal/api/auth"
	"callcrm/internal/model"
	"callcrm/internal/pkg/metrics"
	"callcrm/internal/store"

	"github.com/gin-gonic/gin"
)

type createUserRequest struct {
	Name         string     `json:"name" binding:"required"`
	Email        string     `json:"email" binding:"required,email"`
	Phone        string     `json:"phone"`
	Role         model.Role `json:"role" binding:"required"`
	Password     string     `json:"password" binding:"required,min=6"`
	ProfileImage string     `json:"profileImage"`
}

type updateUserRequest struct {
	Name         *string     `json:"name"`
	Email        *string     `json:"email"`
	Phone        *string     `json:"phone"`
	Role         *model.Role `json:"role"`
	ProfileImage *string     `json:"profileImage"`
	Password     *string     `json:"password"`
}

type uploadNumbersRequest struct {
	AssignedAgentID uint     `json:"assignedAgentId" binding:"required"`
	PhoneNumbers    []string `json:"phoneNumbers" binding:"required"`
	FileName        string   `json:"fileName"`
}

func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.store.ListUsers(c.Request.Context())
	if err != nil {
		s.respondStoreError(c, "list users", err)
		return
	}
	out := make([]model.Profile, 0, len(users))
	for i := range users {
		out = append(out, users[i].ToProfile())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	hash, err := auth.HashPassword(req.Password, s.cfg.Security.BcryptCost)
	if err != nil {
		s.respondStoreError(c, "create user", err)
		return
	}
	user := &model.User{
		Email:        req.Email,
		Password:     hash,
		Name:         strings.TrimSpace(req.Name),
		Phone:        strings.TrimSpace(req.Phone),
		Role:         req.Role,
		ProfileImage: req.ProfileImage,
	}
	if err := s.store.CreateUser(c.Request.Context(), user); err != nil {
		s.respondStoreError(c, "create user", err)
		return
	}
	s.logger.Info("user created by admin", slog.String("email", user.Email), slog.String("role", string(user.Role)))
	c.JSON(http.StatusCreated, user.ToProfile())
}

// handleUpdateUser 修改账号资料。角色或密码变更后该账号的现有会话全部失效。
func (s *Server) handleUpdateUser(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role != nil && !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
		return
	}
	if req.Email != nil && !strings.Contains(*req.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}

	upd := store.UserUpdate{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		Role:         req.Role,
		ProfileImage: req.ProfileImage,
	}
	if req.Password != nil && *req.Password != "" {
		if len(*req.Password) < 6 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 6 characters"})
			return
		}
		hash, err := auth.HashPassword(*req.Password, s.cfg.Security.BcryptCost)
		if err != nil {
			s.respondStoreError(c, "update user", err)
			return
		}
		upd.PasswordHash = &hash
	}

	ctx := c.Request.Context()
	before, err := s.store.GetUser(ctx, id)
	if err != nil {
		s.respondStoreError(c, "update user", err)
		return
	}
	user, err := s.store.UpdateUser(ctx, id, upd)
	if err != nil {
		s.respondStoreError(c, "update user", err)
		return
	}
	if user.Role != before.Role || upd.PasswordHash != nil {
		if err := s.sessions.RevokeUser(ctx, id); err != nil {
			s.logger.Warn("revoke sessions failed", slog.Uint64("user_id", uint64(id)), slog.String("error", err.Error()))
		}
	}
	c.JSON(http.StatusOK, user.ToProfile())
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	selfID, _ := currentUser(c)
	if id == selfID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete your own account"})
		return
	}

	ctx := c.Request.Context()
	if err := s.store.DeleteUser(ctx, id); err != nil {
		s.respondStoreError(c, "delete user", err)
		return
	}
	if err := s.sessions.RevokeUser(ctx, id); err != nil {
		s.logger.Warn("revoke sessions failed", slog.Uint64("user_id", uint64(id)), slog.String("error", err.Error()))
	}
	s.logger.Info("user deleted", slog.Uint64("user_id", uint64(id)), slog.Uint64("by", uint64(selfID)))
	c.JSON(http.StatusOK, gin.H{"message": "user deleted successfully"})
}

// handleUploadNumbers 为坐席批量分配号码。同一内容在去重窗口内重复提交返回 409。
func (s *Server) handleUploadNumbers(c *gin.Context) {
	var req uploadNumbersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "assignedAgentId and phoneNumbers are required"})
		return
	}
	phones := store.CleanPhoneNumbers(req.PhoneNumbers)
	if len(phones) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no phone numbers provided"})
		return
	}
	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = "manual-upload"
	}

	ctx := c.Request.Context()
	agentKey := strconv.FormatUint(uint64(req.AssignedAgentID), 10)
	body := strings.Join(phones, "\n")
	claimed, err := s.deduper.Claim(ctx, "upload-numbers", agentKey, body)
	if err != nil {
		s.logger.Warn("dedup check failed", slog.String("error", err.Error()))
		claimed = true
	}
	if !claimed {
		metrics.UploadDuplicatePreventedTotal.Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "identical upload was just submitted"})
		return
	}

	uploaderID, _ := currentUser(c)
	upload, err := s.store.UploadNumbers(ctx, uploaderID, req.AssignedAgentID, fileName, phones)
	if err != nil {
		if relErr := s.deduper.Release(ctx, "upload-numbers", agentKey, body); relErr != nil {
			s.logger.Warn("dedup release failed", slog.String("error", relErr.Error()))
		}
		s.respondStoreError(c, "upload numbers", err)
		return
	}
	metrics.NumbersUploadedTotal.Add(float64(upload.NumbersCount))
	s.logger.Info("numbers uploaded",
		slog.Uint64("agent_id", uint64(req.AssignedAgentID)),
		slog.Int("count", upload.NumbersCount),
		slog.String("file", fileName))
	c.JSON(http.StatusOK, gin.H{
		"message": "numbers uploaded successfully",
		"count":   upload.NumbersCount,
		"upload":  upload,
	})
}

func (s *Server) handleListNumberUploads(c *gin.Context) {
	uploads, err := s.store.ListNumberUploads(c.Request.Context())
	if err != nil {
		s.respondStoreError(c, "list number uploads", err)
		return
	}
	c.JSON(http.StatusOK, uploads)
}
