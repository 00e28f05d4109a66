package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"callcrm/internal/api/auth"
	"callcrm/internal/api/middleware"
	"callcrm/internal/config"
	"callcrm/internal/model"
	"callcrm/internal/pkg/dedup"
	"callcrm/internal/pkg/filestore"
	"callcrm/internal/pkg/keepalive"
	"callcrm/internal/pkg/metrics"
	"callcrm/internal/pkg/notify"
	"callcrm/internal/pkg/queue"
	"callcrm/internal/pkg/ratelimit"
	"callcrm/internal/pkg/session"
	"callcrm/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据访问层、Redis 客户端、会话管理、通知队列以及 Gin 路由引擎。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	rdb       *redis.Client
	router    *gin.Engine
	auth      *auth.Handler
	sessions  *session.Manager
	loginRL   *ratelimit.RateLimiter
	deduper   Deduper
	files     *filestore.Store
	jobs      *queue.Queue
	notifier  *notify.Dispatcher
	keepalive *keepalive.Pinger
}

// Deduper 拦截窗口期内的重复提交。
type Deduper interface {
	Claim(ctx context.Context, parts ...string) (bool, error)
	Release(ctx context.Context, parts ...string) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 按配置的驱动连接数据库并执行自动迁移
// 2. 连接 Redis
// 3. 组装会话、限流、去重、通知队列与文件存储
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	st := store.New(db, store.WithLocation(cfg.Location()))
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	notifier := notify.NewEmailNotifier(&cfg.Email, logger)
	return newServer(cfg, logger, st, rdb, notifier), nil
}

// newServer 用已建立的连接组装服务器，测试中直接调用。
func newServer(cfg *config.Config, logger *slog.Logger, st *store.Store, rdb *redis.Client, notifier notify.Notifier) *Server {
	metrics.InitMetrics(cfg.App.NotifyQueueCapacity)

	jobs := queue.NewQueue(logger, cfg.App.NotifyWorkers, cfg.App.NotifyQueueCapacity)
	jobs.SetErrorHandler(func(job queue.Job, err error) {
		logger.Error("notification failed", slog.String("job", job.Name), slog.String("error", err.Error()))
	})
	dispatcher := notify.NewDispatcher(notifier, jobs, logger)
	sessions := session.NewManager(rdb, cfg.Security.SessionSecret, cfg.Security.SessionTTL)
	loginRL := ratelimit.NewRedisRateLimiter(rdb, logger, "callcrm:ratelimit:login:", cfg.App.LoginRateLimit, cfg.App.LoginRateBurst)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.MaxMultipartMemory = cfg.App.MaxUploadBytes

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		rdb:      rdb,
		router:   r,
		sessions: sessions,
		loginRL:  loginRL,
		deduper:  dedup.NewDeduplicator(rdb, cfg.App.UploadDedupWindow),
		files:    filestore.New(cfg.App.UploadDir, cfg.App.MaxUploadBytes),
		jobs:     jobs,
		notifier: dispatcher,
		auth: auth.NewHandler(st, sessions, dispatcher, loginRL, auth.Options{
			CookieName:    cfg.Security.CookieName,
			CookieSecure:  cfg.Security.CookieSecure,
			ResetCode:     cfg.Security.ResetCode,
			AllowRegister: cfg.Security.AllowRegister,
			BcryptCost:    cfg.Security.BcryptCost,
		}, logger),
		keepalive: keepalive.New(logger, cfg.App.KeepaliveInterval,
			keepalive.Target{Name: "database", Ping: st.Ping},
			keepalive.Target{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		),
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Start 启动后台循环：通知 worker 与保活探测。ctx 取消后保活循环退出。
func (s *Server) Start(ctx context.Context) {
	s.jobs.Start(context.WithoutCancel(ctx))
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in keepalive loop", slog.Any("panic", r))
			}
		}()
		s.keepalive.Run(ctx)
	}()
}

// Shutdown 等待已入队的通知发送完毕。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.jobs.Shutdown(ctx)
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	throttle := middleware.LoginThrottle(s.loginRL, s.logger)
	sessionAuth := middleware.SessionAuth(s.sessions, s.cfg.Security.CookieName)

	s.router.GET("/uploads/:folder/:filename", sessionAuth, s.handleServeUpload)

	api := s.router.Group("/api")
	api.POST("/auth/login", throttle, s.auth.Login)
	api.POST("/auth/register", s.auth.Register)
	api.POST("/auth/reset-password", throttle, s.auth.ResetPassword)

	authed := api.Group("")
	authed.Use(sessionAuth)
	authed.POST("/auth/logout", s.auth.Logout)
	authed.GET("/auth/me", s.auth.Me)
	authed.PUT("/profile", s.auth.UpdateProfile)

	authed.GET("/calls", s.handleListCalls)
	authed.POST("/calls/:id/category", s.handleSetCallCategory)

	ccOnly := middleware.RequireRole(model.RoleCCAgent)
	agents := middleware.RequireRole(model.RoleCCAgent, model.RoleCROAgent)
	authed.GET("/leads", s.handleListLeads)
	authed.POST("/leads", ccOnly, s.handleCreateLead)
	authed.GET("/leads/transferred", s.handleListTransferredLeads)
	authed.PUT("/leads/:id", middleware.RequireRole(model.RoleCCAgent, model.RoleSuperAdmin), s.handleUpdateLead)
	authed.POST("/leads/:id/transfer", ccOnly, s.handleTransferLead)
	authed.GET("/cro-agents", ccOnly, s.handleListCROAgents)
	authed.POST("/upload/biodata", s.handleUploadBiodata)

	authed.GET("/daily-tasks", s.handleGetDailyTask)
	authed.POST("/reports", agents, s.handleCreateReport)
	authed.GET("/reports", s.handleListReports)
	authed.GET("/stats", s.handleStats)

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireRole(model.RoleSuperAdmin))
	admin.GET("/users", s.handleListUsers)
	admin.POST("/users", s.handleCreateUser)
	admin.PUT("/users/:id", s.handleUpdateUser)
	admin.DELETE("/users/:id", s.handleDeleteUser)
	admin.POST("/upload-numbers", s.handleUploadNumbers)
	admin.GET("/number-uploads", s.handleListNumberUploads)
	admin.GET("/leads", s.handleAdminListLeads)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.store == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "database"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// currentUser 返回上下文中的用户 ID 与角色。
func currentUser(c *gin.Context) (uint, model.Role) {
	id, _ := middleware.UserID(c)
	return id, middleware.Role(c)
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// respondStoreError 把存储层的哨兵错误映射为 HTTP 状态码，其它错误记录日志并返回 500。
func (s *Server) respondStoreError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, store.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "user already exists with this email"})
	case errors.Is(err, store.ErrLeadAlreadyTransferred):
		c.JSON(http.StatusConflict, gin.H{"error": "lead already transferred"})
	case errors.Is(err, store.ErrInvalidTransferTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": "transfer target must be a cro agent"})
	case errors.Is(err, store.ErrInvalidAgent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "assigned user must be an agent"})
	default:
		s.logger.Error(op+" failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}
