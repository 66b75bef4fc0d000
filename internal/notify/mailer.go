package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"

	"github.com/du6/yourlittleone/internal/events"
)

// Sender delivers a rendered mail. Split out so tests can capture sends.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender sends mail through a plain-auth SMTP relay.
type SMTPSender struct {
	from     string
	host     string
	addr     string
	password string
}

// NewSMTPSender constructs a sender. addr is host:port; host alone is used
// for authentication.
func NewSMTPSender(from, host, addr, password string) *SMTPSender {
	return &SMTPSender{from: from, host: host, addr: addr, password: password}
}

// Send implements Sender.
func (s *SMTPSender) Send(to, subject, body string) error {
	msg := email.NewEmail()
	msg.From = s.from
	msg.To = []string{to}
	msg.Subject = subject
	msg.Text = []byte(body)

	auth := smtp.PlainAuth("", s.from, s.password, s.host)
	return msg.Send(s.addr, auth)
}

// MailHandler turns confirmation jobs into mail.
type MailHandler struct {
	sender Sender
}

// NewMailHandler constructs a MailHandler.
func NewMailHandler(sender Sender) *MailHandler {
	return &MailHandler{sender: sender}
}

// Handle implements Handler. Unknown event types are rejected so the
// processor logs them rather than silently dropping a typo'd topic wiring.
func (h *MailHandler) Handle(ctx context.Context, job Job) error {
	if job.EventType != events.EventTypeConfirmationEmail {
		return fmt.Errorf("unexpected event type: %s", job.EventType)
	}

	var payload events.ConfirmationEmailJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode confirmation job: %w", err)
	}
	if payload.Recipient == "" {
		return fmt.Errorf("confirmation job %s has no recipient", payload.JobID)
	}

	subject := fmt.Sprintf("You created a new activity: %s", payload.ActivityName)
	body := "Hi, you have created the following activity:\n\n" + payload.ActivityInfo
	if err := h.sender.Send(payload.Recipient, subject, body); err != nil {
		return fmt.Errorf("send confirmation mail %s: %w", payload.JobID, err)
	}
	return nil
}
