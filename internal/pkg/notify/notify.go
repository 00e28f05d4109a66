package notify

import (
	"context"

	"callcrm/internal/model"
)

// Notifier 定义业务事件通知接口。
type Notifier interface {
	// LeadTransferred 通知接收线索的 CRO 坐席。
	LeadTransferred(ctx context.Context, lead *model.Lead, from *model.User, to *model.User) error
	// PasswordReset 通知用户密码已被重置。
	PasswordReset(ctx context.Context, user *model.User) error
}

// Nop 是不发送任何通知的实现，用于测试或未配置邮件时。
type Nop struct{}

func (Nop) LeadTransferred(context.Context, *model.Lead, *model.User, *model.User) error {
	return nil
}

func (Nop) PasswordReset(context.Context, *model.User) error {
	return nil
}
