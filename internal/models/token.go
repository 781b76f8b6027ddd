package models

import (
	"time"
)

type RefreshToken struct {
	ID        int64
	SessionID int64 // 0 if session was not recorded
	UserID    int64
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsValid   bool
	RotatedAt *time.Time // nil if token never rotated
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
