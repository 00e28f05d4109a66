package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"callcrm/internal/config"
	"callcrm/internal/model"

	"gopkg.in/gomail.v2"
)

func newTestNotifier(cfg *config.EmailConfig) (*EmailNotifier, *[]*gomail.Message) {
	n := NewEmailNotifier(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var sent []*gomail.Message
	n.send = func(m *gomail.Message) error {
		sent = append(sent, m)
		return nil
	}
	return n, &sent
}

func TestEmailNotifier_SkipsWhenUnconfigured(t *testing.T) {
	n, sent := newTestNotifier(&config.EmailConfig{})
	err := n.PasswordReset(context.Background(), &model.User{Email: "a@example.com", Name: "A"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(*sent) != 0 {
		t.Fatalf("expected no mail, got %d", len(*sent))
	}
}

func TestEmailNotifier_LeadTransferred(t *testing.T) {
	n, sent := newTestNotifier(&config.EmailConfig{
		SMTPHost:  "smtp.example.com",
		SMTPPort:  587,
		SMTPUser:  "bot",
		FromEmail: "crm@example.com",
	})
	lead := &model.Lead{ProfileID: "LD-ABC", CustomerName: "<Rahim>", CustomerNumber: "0171"}
	from := &model.User{Name: "Agent CC"}
	to := &model.User{Name: "Agent CRO", Email: "cro@example.com"}

	if err := n.LeadTransferred(context.Background(), lead, from, to); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(*sent))
	}
	m := (*sent)[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "cro@example.com" {
		t.Fatalf("unexpected recipient %v", got)
	}
	if got := m.GetHeader("Subject"); len(got) != 1 || !strings.Contains(got[0], "LD-ABC") {
		t.Fatalf("unexpected subject %v", got)
	}

	body := leadTransferBody(lead, from, to)
	if !strings.Contains(body, "&lt;Rahim&gt;") {
		t.Fatalf("customer name must be escaped: %s", body)
	}
}

func TestEmailNotifier_SendError(t *testing.T) {
	n, _ := newTestNotifier(&config.EmailConfig{SMTPHost: "h", SMTPUser: "u", FromEmail: "f@example.com"})
	n.send = func(*gomail.Message) error { return errors.New("dial tcp: refused") }

	err := n.PasswordReset(context.Background(), &model.User{Email: "a@example.com"})
	if err == nil || !strings.Contains(err.Error(), "send email") {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}
