package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"callcrm/internal/model"
	"callcrm/internal/pkg/queue"
)

type recordingNotifier struct {
	transfers []string
	resets    []string
}

func (r *recordingNotifier) LeadTransferred(ctx context.Context, lead *model.Lead, from, to *model.User) error {
	r.transfers = append(r.transfers, lead.ProfileID+"->"+to.Email)
	return nil
}

func (r *recordingNotifier) PasswordReset(ctx context.Context, user *model.User) error {
	r.resets = append(r.resets, user.Email)
	return nil
}

type inlineQueue struct {
	err  error
	jobs []queue.Job
}

func (q *inlineQueue) Enqueue(job queue.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return job.Run(context.Background())
}

func TestDispatcher_RunsThroughQueue(t *testing.T) {
	rec := &recordingNotifier{}
	q := &inlineQueue{}
	d := NewDispatcher(rec, q, slog.New(slog.NewTextHandler(io.Discard, nil)))

	lead := model.Lead{ProfileID: "LD-1"}
	d.LeadTransferred(lead, model.User{Name: "cc"}, model.User{Email: "cro@example.com"})
	d.PasswordReset(model.User{Email: "a@example.com"})

	if len(q.jobs) != 2 || q.jobs[0].Name != "lead_transferred" || q.jobs[1].Name != "password_reset" {
		t.Fatalf("unexpected jobs %+v", q.jobs)
	}
	if len(rec.transfers) != 1 || rec.transfers[0] != "LD-1->cro@example.com" {
		t.Fatalf("unexpected transfers %v", rec.transfers)
	}
	if len(rec.resets) != 1 || rec.resets[0] != "a@example.com" {
		t.Fatalf("unexpected resets %v", rec.resets)
	}
}

func TestDispatcher_QueueFullDoesNotPanic(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, &inlineQueue{err: errors.New("queue is full")}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.PasswordReset(model.User{Email: "a@example.com"})
	if len(rec.resets) != 0 {
		t.Fatalf("dropped job must not run")
	}

	var nilDispatcher *Dispatcher
	nilDispatcher.PasswordReset(model.User{})
}
