package otp

import (
	"context"
	"fmt"
	"strings"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/service/notify"
)

type SendResult struct {
	UserID            int64             `json:"userId"`
	Channel           models.OtpChannel `json:"channel"`
	MaskedDestination string            `json:"maskedDestination"`
	ExpiresIn         int               `json:"expiresIn"` // seconds
}

// Service issues codes to destinations users proved they know
type Service struct {
	*Engine

	sender notify.Sender
}

func NewService(engine *Engine, sender notify.Sender) *Service {
	return &Service{
		Engine: engine,
		sender: sender,
	}
}

// SendSms issues sms code if contact matches the registered one
func (s *Service) SendSms(ctx context.Context, username string, contact string) (SendResult, error) {
	return s.send(ctx, username, models.OtpChannelSMS, contact)
}

// SendEmail issues email code if email matches the registered one (case-insensitive)
func (s *Service) SendEmail(ctx context.Context, username string, email string) (SendResult, error) {
	return s.send(ctx, username, models.OtpChannelEmail, email)
}

func (s *Service) send(ctx context.Context, username string, channel models.OtpChannel, destination string) (SendResult, error) {
	user, err := s.storage.User().GetUserByUsername(ctx, username)
	if err != nil {
		return SendResult{}, err
	}
	if !user.IsActive {
		return SendResult{}, apperrors.ErrUserInactive
	}

	registered, masked, matches := user.Contact, MaskContact(user.Contact), sameContact
	if channel == models.OtpChannelEmail {
		registered, masked, matches = user.Email, MaskEmail(user.Email), strings.EqualFold
	}

	destination = strings.TrimSpace(destination)
	if registered == "" || !matches(registered, destination) {
		return SendResult{}, &apperrors.DestinationError{Masked: masked}
	}

	code, err := s.Issue(ctx, user.ID, channel, 0)
	if err != nil {
		return SendResult{}, err
	}

	msg := notify.Message{
		Channel: channel,
		To:      registered,
		Body:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.TTL().Minutes())),
	}
	if channel == models.OtpChannelEmail {
		msg.Subject = "Verification code"
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		return SendResult{}, fmt.Errorf("can't deliver otp. Err: %w", err)
	}

	return SendResult{
		UserID:            user.ID,
		Channel:           channel,
		MaskedDestination: masked,
		ExpiresIn:         int(s.TTL().Seconds()),
	}, nil
}

func sameContact(registered string, given string) bool {
	return registered == given
}
