// Package notify delivers one-time codes to users. Concrete SMS and email providers live outside
// of the service: it either posts messages to a delivery gateway or writes them to the log.
package notify

import (
	"context"

	"github.com/nkiryanov/hospitaldesk/internal/logger"
	"github.com/nkiryanov/hospitaldesk/internal/models"
)

type Message struct {
	Channel models.OtpChannel `json:"channel"`
	To      string            `json:"to"`
	Subject string            `json:"subject,omitempty"`
	Body    string            `json:"body"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them
// Message body is logged only if RevealBody set, so codes never leak to production logs
type LogSender struct {
	Logger     logger.Logger
	RevealBody bool
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	args := []any{"channel", msg.Channel, "to", msg.To}
	if s.RevealBody {
		args = append(args, "body", msg.Body)
	}

	s.Logger.Info("Message not delivered, no gateway configured", args...)
	return nil
}
