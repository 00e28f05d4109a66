package notify

import (
	"context"
	"log/slog"

	"callcrm/internal/model"
	"callcrm/internal/pkg/queue"
)

// Enqueuer 接收异步任务。
type Enqueuer interface {
	Enqueue(job queue.Job) error
}

// Dispatcher 把通知放入后台队列发送，请求处理不等待 SMTP。
//
// 队列为 nil 时通知被丢弃。
type Dispatcher struct {
	notifier Notifier
	jobs     Enqueuer
	logger   *slog.Logger
}

func NewDispatcher(notifier Notifier, jobs Enqueuer, logger *slog.Logger) *Dispatcher {
	if notifier == nil {
		notifier = Nop{}
	}
	return &Dispatcher{notifier: notifier, jobs: jobs, logger: logger}
}

// LeadTransferred 异步通知接收线索的坐席。参数在入队前被复制。
func (d *Dispatcher) LeadTransferred(lead model.Lead, from model.User, to model.User) {
	d.enqueue("lead_transferred", func(ctx context.Context) error {
		return d.notifier.LeadTransferred(ctx, &lead, &from, &to)
	})
}

// PasswordReset 异步通知密码被重置的用户。
func (d *Dispatcher) PasswordReset(user model.User) {
	d.enqueue("password_reset", func(ctx context.Context) error {
		return d.notifier.PasswordReset(ctx, &user)
	})
}

func (d *Dispatcher) enqueue(name string, run func(ctx context.Context) error) {
	if d == nil || d.jobs == nil {
		return
	}
	if err := d.jobs.Enqueue(queue.Job{Name: name, Run: run}); err != nil && d.logger != nil {
		d.logger.Warn("notification dropped", slog.String("job", name), slog.String("error", err.Error()))
	}
}
