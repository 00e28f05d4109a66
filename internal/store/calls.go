package store

import (
	"context"
	"fmt"
	"strings"

	"callcrm/internal/model"

	"gorm.io/gorm"
)

const uploadBatchSize = 500

// ListCallNumbersByAgent 返回分配给坐席的号码：未分类的在前，其余按创建时间倒序。
func (s *Store) ListCallNumbersByAgent(ctx context.Context, agentID uint) ([]model.CallNumber, error) {
	numbers := []model.CallNumber{}
	err := s.db.WithContext(ctx).
		Where("assigned_agent_id = ?", agentID).
		Order("CASE WHEN category IS NULL THEN 0 ELSE 1 END, created_at DESC, id DESC").
		Find(&numbers).Error
	if err != nil {
		return nil, fmt.Errorf("list call numbers: %w", err)
	}
	return numbers, nil
}

// SetCallCategory 设置号码的通话结果分类。
//
// 只有号码所属坐席或超级管理员可以修改，否则返回 ErrNotOwner。
func (s *Store) SetCallCategory(ctx context.Context, id uint, actorID uint, actorRole model.Role, category model.Category) (*model.CallNumber, error) {
	var number model.CallNumber
	if err := s.db.WithContext(ctx).First(&number, id).Error; err != nil {
		return nil, notFound(err)
	}
	if actorRole != model.RoleSuperAdmin && number.AssignedAgentID != actorID {
		return nil, ErrNotOwner
	}

	now := s.now()
	err := s.db.WithContext(ctx).Model(&number).Updates(map[string]interface{}{
		"category":       category,
		"categorized_at": now,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("update call category: %w", err)
	}
	number.Category = &category
	number.CategorizedAt = &now
	return &number, nil
}

// CleanPhoneNumbers 去掉首尾空白并丢弃空号码，保持原有顺序。
func CleanPhoneNumbers(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, n := range raw {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}

// UploadNumbers 为坐席批量分配号码，并写入一条上传审计记录。
//
// 目标用户必须存在且为坐席角色。审计记录与号码在同一事务中写入。
func (s *Store) UploadNumbers(ctx context.Context, uploaderID, agentID uint, fileName string, phones []string) (*model.NumberUpload, error) {
	agent, err := s.GetUser(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Role.IsAgent() {
		return nil, ErrInvalidAgent
	}

	upload := model.NumberUpload{
		UploadedBy:      uploaderID,
		AssignedAgentID: agentID,
		FileName:        fileName,
		NumbersCount:    len(phones),
		UploadDate:      s.now(),
	}
	numbers := make([]model.CallNumber, 0, len(phones))
	for _, p := range phones {
		numbers = append(numbers, model.CallNumber{PhoneNumber: p, AssignedAgentID: agentID})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&upload).Error; err != nil {
			return fmt.Errorf("create number upload: %w", err)
		}
		if len(numbers) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&numbers, uploadBatchSize).Error; err != nil {
			return fmt.Errorf("insert call numbers: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &upload, nil
}

// ListNumberUploads 返回全部上传记录，最新的在前。
func (s *Store) ListNumberUploads(ctx context.Context) ([]model.NumberUpload, error) {
	uploads := []model.NumberUpload{}
	if err := s.db.WithContext(ctx).Order("upload_date DESC, id DESC").Find(&uploads).Error; err != nil {
		return nil, fmt.Errorf("list number uploads: %w", err)
	}
	return uploads, nil
}
