package store

import (
	"context"
	"fmt"

	"callcrm/internal/model"

	"golang.org/x/sync/errgroup"
)

// Stats 并发执行四个计数查询，汇总看板统计。
func (s *Store) Stats(ctx context.Context) (*model.Stats, error) {
	var stats model.Stats
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&model.CallNumber{}).Count(&stats.TotalCalls).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&model.Lead{}).Count(&stats.TotalLeads).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&model.User{}).Count(&stats.TotalUsers).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&model.Lead{}).
			Where("status = ?", model.LeadStatusTransferred).
			Count(&stats.TransferredLeads).Error
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return &stats, nil
}
