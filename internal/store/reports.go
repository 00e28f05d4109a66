package store

import (
	"context"
	"fmt"

	"callcrm/internal/model"

	"gorm.io/gorm"
)

// CreateReport 追加一份日报，并将今天的 reportSubmitted 置为 true（同一事务）。
//
// 同一坐席同一天允许提交多份日报。
func (s *Store) CreateReport(ctx context.Context, report *model.Report) error {
	if report.ReportDate.IsZero() {
		report.ReportDate = s.now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(report).Error; err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		return s.markReportSubmitted(tx, report.AgentID)
	})
}

// ListReportsByAgent 返回坐席自己的日报，最新的在前。
func (s *Store) ListReportsByAgent(ctx context.Context, agentID uint) ([]model.Report, error) {
	reports := []model.Report{}
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("report_date DESC, id DESC").
		Find(&reports).Error
	if err != nil {
		return nil, fmt.Errorf("list reports by agent: %w", err)
	}
	return reports, nil
}

// ListReports 返回全部日报，最新的在前。
func (s *Store) ListReports(ctx context.Context) ([]model.Report, error) {
	reports := []model.Report{}
	if err := s.db.WithContext(ctx).Order("report_date DESC, id DESC").Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}
