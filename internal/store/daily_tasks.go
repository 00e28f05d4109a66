package store

import (
	"context"
	"errors"
	"fmt"

	"callcrm/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	colLeadsAdded       = "leads_added"
	colLeadsTransferred = "leads_transferred"
	colReportSubmitted  = "report_submitted"
)

var dailyTaskKey = []clause.Column{{Name: "agent_id"}, {Name: "task_date"}}

// GetDailyTask 返回坐席在 day 当天的计数。
//
// 当天没有记录时返回全零的默认值（ID 为 0），不会写库。
func (s *Store) GetDailyTask(ctx context.Context, agentID uint, day string) (*model.DailyTask, error) {
	var task model.DailyTask
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND task_date = ?", agentID, day).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.DailyTask{AgentID: agentID, TaskDate: day}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily task: %w", err)
	}
	return &task, nil
}

// GetTodayTask 返回坐席今天的计数。
func (s *Store) GetTodayTask(ctx context.Context, agentID uint) (*model.DailyTask, error) {
	return s.GetDailyTask(ctx, agentID, s.Today())
}

// incrementDaily 以单条 upsert 语句为今天的某个计数器加一。
//
// 不存在记录时插入 1，存在时在数据库内原子自增，并发请求不会丢失更新。
func (s *Store) incrementDaily(tx *gorm.DB, agentID uint, column string) error {
	row := model.DailyTask{AgentID: agentID, TaskDate: s.Today()}
	switch column {
	case colLeadsAdded:
		row.LeadsAdded = 1
	case colLeadsTransferred:
		row.LeadsTransferred = 1
	default:
		return fmt.Errorf("unknown daily counter %q", column)
	}

	err := tx.Clauses(clause.OnConflict{
		Columns: dailyTaskKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			column: gorm.Expr("daily_tasks."+column+" + ?", 1),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

// markReportSubmitted 将今天的 reportSubmitted 置为 true。
func (s *Store) markReportSubmitted(tx *gorm.DB, agentID uint) error {
	row := model.DailyTask{AgentID: agentID, TaskDate: s.Today(), ReportSubmitted: true}
	err := tx.Clauses(clause.OnConflict{
		Columns: dailyTaskKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			colReportSubmitted: true,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("mark report submitted: %w", err)
	}
	return nil
}
