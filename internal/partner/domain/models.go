package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive     Status = "active"
	StatusRestricted Status = "restricted"
	StatusSuspended  Status = "suspended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusRestricted, StatusSuspended:
		return true
	}
	return false
}

// Partner is a tenant consuming the delivery API.
type Partner struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Name         string       `gorm:"column:name" json:"name"`
	Slug         string       `gorm:"column:slug" json:"slug"`
	Status       Status       `gorm:"column:status" json:"status"`
	APIRateLimit int64        `gorm:"column:api_rate_limit" json:"api_rate_limit"`
	ZeusManaged  bool         `gorm:"column:zeus_managed" json:"zeus_managed"`
	BillingPlan  string       `gorm:"column:billing_plan" json:"billing_plan"`
	ContactEmail *string      `gorm:"column:contact_email" json:"contact_email,omitempty"`
	CreatedAt    time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Partner) TableName() string { return "partners" }
