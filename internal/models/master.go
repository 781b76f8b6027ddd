package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reference data is cached as JSON, so json tags define cache payload as well as API responses

type Branch struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Contact   string    `json:"contact"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    bool   `json:"isActive"`
}

type Menu struct {
	ID        int64  `json:"id"`
	ParentID  *int64 `json:"parentId"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	SortOrder int    `json:"sortOrder"`
	IsActive  bool   `json:"isActive"`
}

type Doctor struct {
	ID              int64           `json:"id"`
	UserID          *int64          `json:"userId"` // nil if doctor can't log in
	BranchID        int64           `json:"branchId"`
	Name            string          `json:"name"`
	Specialization  string          `json:"specialization"`
	Qualification   string          `json:"qualification"`
	Contact         string          `json:"contact"`
	Email           string          `json:"email"`
	ConsultationFee decimal.Decimal `json:"consultationFee"`
	IsActive        bool            `json:"isActive"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type Vendor struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	ContactPerson string    `json:"contactPerson"`
	Contact       string    `json:"contact"`
	Email         string    `json:"email"`
	GSTNumber     string    `json:"gstNumber"`
	Address       string    `json:"address"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}
