package models

import (
	"time"
)

type SessionStatus string

const (
	SessionActive     SessionStatus = "Active"
	SessionLoggedOut  SessionStatus = "LoggedOut"
	SessionTerminated SessionStatus = "Terminated"
)

// Device data parsed from the client user agent
type LoginInfo struct {
	IPAddress      string `json:"ipAddress"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browserVersion"`
	OS             string `json:"os"`
	Device         string `json:"device"`
	DeviceType     string `json:"deviceType"`
}

type Session struct {
	ID        int64
	UserID    int64
	BranchID  int64
	UserAgent string
	LoginInfo

	Status           SessionStatus
	LoginTime        time.Time
	LastActivityTime time.Time
	LogoutTime       *time.Time
	LogoutReason     *string
}

func (s Session) IsActive() bool {
	return s.Status == SessionActive
}

// One page of login history
type SessionPage struct {
	Items    []Session
	Total    int64
	Page     int
	PageSize int
}
