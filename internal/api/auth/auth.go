package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"callcrm/internal/api/middleware"
	"callcrm/internal/model"
	"callcrm/internal/pkg/metrics"
	"callcrm/internal/pkg/notify"
	"callcrm/internal/pkg/session"
	"callcrm/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// TokenHeader 在登录/注册响应中携带会话令牌，供不使用 Cookie 的客户端以 Bearer 方式回传。
const TokenHeader = "X-Session-Token"

// Options 是认证相关的可调参数。
type Options struct {
	CookieName    string
	CookieSecure  bool
	ResetCode     string
	AllowRegister bool
	BcryptCost    int
}

// Handler 提供注册、登录、注销、重置密码与个人资料接口。
type Handler struct {
	store    *store.Store
	sessions *session.Manager
	notifier *notify.Dispatcher
	loginRL  Resetter
	opts     Options
	logger   *slog.Logger
}

// Resetter 在登录成功后清空该 IP 的限流桶。
type Resetter interface {
	Reset(ctx context.Context, key string) error
}

// NewHandler 创建 Auth Handler。
func NewHandler(st *store.Store, sessions *session.Manager, notifier *notify.Dispatcher, loginRL Resetter, opts Options, logger *slog.Logger) *Handler {
	if opts.CookieName == "" {
		opts.CookieName = "crm_session"
	}
	if opts.BcryptCost <= 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	opts.ResetCode = strings.TrimSpace(opts.ResetCode)
	return &Handler{
		store:    st,
		sessions: sessions,
		notifier: notifier,
		loginRL:  loginRL,
		opts:     opts,
		logger:   logger,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Name     string     `json:"name" binding:"required"`
	Email    string     `json:"email" binding:"required,email"`
	Phone    string     `json:"phone"`
	Role     model.Role `json:"role" binding:"required"`
	Password string     `json:"password" binding:"required,min=6"`
}

type resetPasswordRequest struct {
	Code        string `json:"code"`
	Email       string `json:"email"`
	NewPassword string `json:"newPassword"`
}

type profileRequest struct {
	Name         *string `json:"name"`
	Phone        *string `json:"phone"`
	ProfileImage *string `json:"profileImage"`
	Password     *string `json:"password"`
}

// Login 校验邮箱密码并创建会话。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	email := store.NormalizeEmail(req.Email)

	user, err := h.store.GetUserByEmail(c.Request.Context(), email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("load user failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		metrics.LoginFailuresTotal.WithLabelValues("bad_credentials").Inc()
		h.logger.Info("login rejected", slog.String("email", email), slog.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if !h.startSession(c, user) {
		return
	}
	if h.loginRL != nil {
		if err := h.loginRL.Reset(c.Request.Context(), c.ClientIP()); err != nil {
			h.logger.Warn("reset login limiter failed", slog.String("error", err.Error()))
		}
	}
	h.logger.Info("user logged in", slog.String("email", email), slog.String("role", string(user.Role)))
	c.JSON(http.StatusOK, user.ToProfile())
}

// Register 自助注册坐席账号并直接登录。超级管理员只能由管理员或命令行创建。
func (h *Handler) Register(c *gin.Context) {
	if !h.opts.AllowRegister {
		c.JSON(http.StatusForbidden, gin.H{"error": "registration disabled"})
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Role.IsAgent() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be cc_agent or cro_agent"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	hash, err := HashPassword(req.Password, h.opts.BcryptCost)
	if err != nil {
		h.logger.Error("hash password failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	user := &model.User{
		Email:    req.Email,
		Password: hash,
		Name:     strings.TrimSpace(req.Name),
		Phone:    strings.TrimSpace(req.Phone),
		Role:     req.Role,
	}
	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
			return
		}
		h.logger.Error("create user failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	if !h.startSession(c, user) {
		return
	}
	h.logger.Info("user registered", slog.String("email", user.Email), slog.String("role", string(user.Role)))
	c.JSON(http.StatusOK, user.ToProfile())
}

// Logout 删除服务端会话并清除 Cookie。
func (h *Handler) Logout(c *gin.Context) {
	if sess := middleware.CurrentSession(c); sess != nil {
		if err := h.sessions.Revoke(c.Request.Context(), sess); err != nil {
			h.logger.Error("revoke session failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
			return
		}
	}
	h.clearCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me 返回当前用户资料。
func (h *Handler) Me(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	user, err := h.store.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("load user failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	c.JSON(http.StatusOK, user.ToProfile())
}

// ResetPassword 凭线下发放的重置口令修改任意账号密码，并注销该账号的全部会话。
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if h.opts.ResetCode == "" || strings.TrimSpace(req.Code) != h.opts.ResetCode {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reset code"})
		return
	}
	if strings.TrimSpace(req.Email) == "" || len(req.NewPassword) < 6 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and a new password of at least 6 characters are required"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("load user failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "password reset failed"})
		return
	}

	hash, err := HashPassword(req.NewPassword, h.opts.BcryptCost)
	if err != nil {
		h.logger.Error("hash password failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "password reset failed"})
		return
	}
	if _, err := h.store.UpdateUser(ctx, user.ID, store.UserUpdate{PasswordHash: &hash}); err != nil {
		h.logger.Error("update password failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "password reset failed"})
		return
	}
	if err := h.sessions.RevokeUser(ctx, user.ID); err != nil {
		h.logger.Warn("revoke sessions after reset failed", slog.String("error", err.Error()))
	}
	h.notifier.PasswordReset(*user)

	h.logger.Info("password reset", slog.String("email", user.Email))
	c.JSON(http.StatusOK, gin.H{"message": "password reset successfully"})
}

// UpdateProfile 修改自己的姓名、电话、头像或密码。邮箱与角色只能由管理员修改。
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, _ := middleware.UserID(c)

	upd := store.UserUpdate{
		Name:         req.Name,
		Phone:        req.Phone,
		ProfileImage: req.ProfileImage,
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
		return
	}
	if req.Password != nil && *req.Password != "" {
		if len(*req.Password) < 6 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 6 characters"})
			return
		}
		hash, err := HashPassword(*req.Password, h.opts.BcryptCost)
		if err != nil {
			h.logger.Error("hash password failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
			return
		}
		upd.PasswordHash = &hash
	}

	user, err := h.store.UpdateUser(c.Request.Context(), userID, upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("update profile failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, user.ToProfile())
}

// HashPassword 生成 bcrypt 哈希。
func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h *Handler) startSession(c *gin.Context, user *model.User) bool {
	token, _, err := h.sessions.Create(c.Request.Context(), user.ID, user.Role)
	if err != nil {
		h.logger.Error("create session failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create session failed"})
		return false
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.opts.CookieName, token, int(h.sessions.TTL()/time.Second), "/", "", h.opts.CookieSecure, true)
	c.Header(TokenHeader, token)
	return true
}

func (h *Handler) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.opts.CookieName, "", -1, "/", "", h.opts.CookieSecure, true)
}
