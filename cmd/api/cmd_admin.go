package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callcrm/internal/api"
	"callcrm/internal/config"
	"callcrm/internal/store"

	"github.com/spf13/cobra"
)

var (
	adminEmail    string
	adminPassword string
	adminName     string
)

// migrateCmd 只执行数据库迁移
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		st, err := openStore(cfg.Database, cfg.Location())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		appLogger.Info("migration complete")
		return nil
	},
}

// createAdminCmd 在不启动服务的情况下创建超级管理员
var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create a super admin account",
	Long: `Create a super admin account if the email is not registered yet.

Existing accounts are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := loadConfig()
		if err != nil {
			return err
		}
		if strings.TrimSpace(adminEmail) == "" || len(adminPassword) < 6 {
			return errors.New("--email and a --password of at least 6 characters are required")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		st, err := openStore(cfg.Database, cfg.Location())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		sec := cfg.Security
		sec.AdminEmail = adminEmail
		sec.AdminPassword = adminPassword
		sec.AdminName = adminName
		if err := api.SeedAdmin(ctx, st, sec, appLogger); err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "super admin ready: %s\n", store.NormalizeEmail(adminEmail))
		return nil
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "admin email")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "admin password")
	createAdminCmd.Flags().StringVar(&adminName, "name", "Admin User", "admin display name")
}

func openStore(cfg config.DatabaseConfig, loc *time.Location) (*store.Store, error) {
	db, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	return store.New(db, store.WithLocation(loc)), nil
}
