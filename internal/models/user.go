package models

import (
	"time"
)

type User struct {
	ID                int64
	CreatedAt         time.Time
	Username          string
	HashedPassword    string
	FullName          string
	Contact           string
	Email             string
	IsContactVerified bool
	IsEmailVerified   bool
	IsActive          bool
}

// Identity is what access token carries about the user
type Identity struct {
	UserID   int64
	Username string
	Email    string
	Roles    []string
}
