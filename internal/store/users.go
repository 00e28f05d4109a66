package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"callcrm/internal/model"

	"gorm.io/gorm"
)

// UserUpdate 描述对用户的部分更新，nil 字段保持不变。
type UserUpdate struct {
	Name         *string
	Email        *string
	Phone        *string
	Role         *model.Role
	ProfileImage *string
	PasswordHash *string
}

// NormalizeEmail 统一邮箱格式（去空格、小写）。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetUser 按 ID 查询用户。
func (s *Store) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetUserByEmail 按邮箱查询用户。
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// CreateUser 创建用户，邮箱重复时返回 ErrEmailTaken。
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	user.Email = NormalizeEmail(user.Email)
	if _, err := s.GetUserByEmail(ctx, user.Email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("check email: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateUser 更新用户资料并返回最新记录。
func (s *Store) UpdateUser(ctx context.Context, id uint, upd UserUpdate) (*model.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if upd.Name != nil {
		updates["name"] = strings.TrimSpace(*upd.Name)
	}
	if upd.Email != nil {
		email := NormalizeEmail(*upd.Email)
		if email != user.Email {
			if _, err := s.GetUserByEmail(ctx, email); err == nil {
				return nil, ErrEmailTaken
			} else if !errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("check email: %w", err)
			}
			updates["email"] = email
		}
	}
	if upd.Phone != nil {
		updates["phone"] = strings.TrimSpace(*upd.Phone)
	}
	if upd.Role != nil {
		updates["role"] = *upd.Role
	}
	if upd.ProfileImage != nil {
		updates["profile_image"] = *upd.ProfileImage
	}
	if upd.PasswordHash != nil {
		updates["password"] = *upd.PasswordHash
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetUser(ctx, id)
}

// DeleteUser 删除用户。
func (s *Store) DeleteUser(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.User{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers 返回全部用户，最新创建的在前。
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ListUsersByRole 返回指定角色的用户，按姓名排序。
func (s *Store) ListUsersByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	users := []model.User{}
	if err := s.db.WithContext(ctx).Where("role = ?", role).Order("name ASC, id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	return users, nil
}

// EnsureSuperAdmin 在指定邮箱不存在时创建超级管理员。
//
// 返回值 created 表示本次是否新建了账号；已存在的账号不会被修改。
func (s *Store) EnsureSuperAdmin(ctx context.Context, email, passwordHash, name string) (bool, error) {
	_, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	user := &model.User{
		Email:    email,
		Password: passwordHash,
		Name:     name,
		Role:     model.RoleSuperAdmin,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return false, err
	}
	return true, nil
}
