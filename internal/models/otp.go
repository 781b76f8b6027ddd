package models

import (
	"time"
)

type OtpChannel string

const (
	OtpChannelSMS   OtpChannel = "sms"
	OtpChannelEmail OtpChannel = "email"
)

func (c OtpChannel) Valid() bool {
	return c == OtpChannelSMS || c == OtpChannelEmail
}

type Otp struct {
	ID         int64
	UserID     int64
	Channel    OtpChannel
	CodeHash   string
	ExpiresAt  time.Time
	Attempts   int
	ConsumedAt *time.Time // set on successful verification
	RedeemedAt *time.Time // set when verified otp was used to reset password
	CreatedAt  time.Time
}
