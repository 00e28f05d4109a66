package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callcrm/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LeadFilter 是管理员线索列表的可选过滤条件。
type LeadFilter struct {
	AgentID *uint     // 只看某个坐席创建的线索
	From    time.Time // 创建时间下界（含），零值表示不限
	To      time.Time // 创建时间上界（不含），零值表示不限
	Query   string    // 按客户姓名、号码或线索编号模糊搜索
}

// LeadUpdate 描述线索可编辑字段的部分更新。
type LeadUpdate struct {
	CustomerName   *string
	CustomerNumber *string
	Description    *string
	Biodata        *string
}

// NewProfileID 生成对外展示的线索编号。
func NewProfileID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "LD-" + strings.ToUpper(id[:12])
}

// CreateLead 创建线索并为创建者的 leadsAdded 计数加一（同一事务）。
func (s *Store) CreateLead(ctx context.Context, lead *model.Lead) error {
	if lead.ProfileID == "" {
		lead.ProfileID = NewProfileID()
	}
	lead.Status = model.LeadStatusActive
	lead.TransferredTo = nil

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(lead).Error; err != nil {
			return fmt.Errorf("create lead: %w", err)
		}
		return s.incrementDaily(tx, lead.AgentID, colLeadsAdded)
	})
}

// GetLead 按 ID 查询线索。
func (s *Store) GetLead(ctx context.Context, id uint) (*model.Lead, error) {
	var lead model.Lead
	if err := s.db.WithContext(ctx).First(&lead, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &lead, nil
}

// UpdateLead 修改线索的客户信息。
//
// 只有创建者或超级管理员可以修改；状态与归属不可通过此方法修改。
func (s *Store) UpdateLead(ctx context.Context, id uint, actorID uint, actorRole model.Role, upd LeadUpdate) (*model.Lead, error) {
	lead, err := s.GetLead(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorRole != model.RoleSuperAdmin && lead.AgentID != actorID {
		return nil, ErrNotOwner
	}

	updates := map[string]interface{}{}
	if upd.CustomerName != nil {
		updates["customer_name"] = strings.TrimSpace(*upd.CustomerName)
	}
	if upd.CustomerNumber != nil {
		updates["customer_number"] = strings.TrimSpace(*upd.CustomerNumber)
	}
	if upd.Description != nil {
		updates["description"] = *upd.Description
	}
	if upd.Biodata != nil {
		updates["biodata"] = *upd.Biodata
	}
	if len(updates) == 0 {
		return lead, nil
	}
	if err := s.db.WithContext(ctx).Model(lead).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update lead: %w", err)
	}
	return s.GetLead(ctx, id)
}

// TransferLead 将 fromAgentID 名下的活跃线索转交给 CRO 坐席 toAgentID。
//
// 状态翻转使用带 status = active 条件的单条 UPDATE，保证同一线索只能转交一次；
// 转交成功后在同一事务中为转出坐席的 leadsTransferred 计数加一。
func (s *Store) TransferLead(ctx context.Context, leadID, fromAgentID, toAgentID uint) (*model.Lead, error) {
	var lead model.Lead
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先确认归属，非本人线索一律按不存在处理
		var existing model.Lead
		if err := tx.Where("id = ? AND agent_id = ?", leadID, fromAgentID).First(&existing).Error; err != nil {
			return notFound(err)
		}
		if existing.Status != model.LeadStatusActive {
			return ErrLeadAlreadyTransferred
		}

		var target model.User
		if err := tx.First(&target, toAgentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidTransferTarget
			}
			return fmt.Errorf("load transfer target: %w", err)
		}
		if target.Role != model.RoleCROAgent {
			return ErrInvalidTransferTarget
		}

		res := tx.Model(&model.Lead{}).
			Where("id = ? AND agent_id = ? AND status = ?", leadID, fromAgentID, model.LeadStatusActive).
			Updates(map[string]interface{}{
				"status":         model.LeadStatusTransferred,
				"transferred_to": toAgentID,
			})
		if res.Error != nil {
			return fmt.Errorf("transfer lead: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrLeadAlreadyTransferred
		}

		if err := s.incrementDaily(tx, fromAgentID, colLeadsTransferred); err != nil {
			return err
		}
		return tx.First(&lead, leadID).Error
	})
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// ListLeadsByAgent 返回坐席自己创建的线索，最新的在前。
func (s *Store) ListLeadsByAgent(ctx context.Context, agentID uint) ([]model.Lead, error) {
	leads := []model.Lead{}
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC, id DESC").
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("list leads by agent: %w", err)
	}
	return leads, nil
}

// ListTransferredLeads 返回转交给该坐席的线索，最近更新的在前。
func (s *Store) ListTransferredLeads(ctx context.Context, agentID uint) ([]model.Lead, error) {
	leads := []model.Lead{}
	err := s.db.WithContext(ctx).
		Where("transferred_to = ?", agentID).
		Order("updated_at DESC, id DESC").
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("list transferred leads: %w", err)
	}
	return leads, nil
}

// likeEscaper 转义搜索词中的 LIKE 通配符，配合 ESCAPE '!' 使用。
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// ListLeads 返回全部线索（管理员视图），支持可选过滤。
func (s *Store) ListLeads(ctx context.Context, f LeadFilter) ([]model.Lead, error) {
	q := s.db.WithContext(ctx).Model(&model.Lead{})
	if f.AgentID != nil {
		q = q.Where("agent_id = ?", *f.AgentID)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at < ?", f.To)
	}
	if text := strings.ToLower(strings.TrimSpace(f.Query)); text != "" {
		like := "%" + likeEscaper.Replace(text) + "%"
		q = q.Where("(LOWER(customer_name) LIKE ? ESCAPE '!' OR LOWER(customer_number) LIKE ? ESCAPE '!' OR LOWER(profile_id) LIKE ? ESCAPE '!')", like, like, like)
	}

	leads := []model.Lead{}
	if err := q.Order("created_at DESC, id DESC").Find(&leads).Error; err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return leads, nil
}
