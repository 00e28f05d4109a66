package api

import (
	"context"
	"log/slog"
	"strings"

	"callcrm/internal/api/auth"
	"callcrm/internal/config"
	"callcrm/internal/store"
)

// SeedAdmin 确保配置中的超级管理员账号存在。
//
// admin_password 为空时跳过；已存在的账号不会被修改。
func SeedAdmin(ctx context.Context, st *store.Store, sec config.SecurityConfig, logger *slog.Logger) error {
	email := strings.TrimSpace(sec.AdminEmail)
	if email == "" || sec.AdminPassword == "" {
		logger.Debug("admin seed skipped: admin_email or admin_password not set")
		return nil
	}
	hash, err := auth.HashPassword(sec.AdminPassword, sec.BcryptCost)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(sec.AdminName)
	if name == "" {
		name = "Admin User"
	}
	created, err := st.EnsureSuperAdmin(ctx, email, hash, name)
	if err != nil {
		return err
	}
	if created {
		logger.Info("super admin created", slog.String("email", store.NormalizeEmail(email)))
	}
	return nil
}

// SeedAdmin 使用服务器自身的存储执行管理员初始化。
func (s *Server) SeedAdmin(ctx context.Context) error {
	return SeedAdmin(ctx, s.store, s.cfg.Security, s.logger)
}
