// Package domain contains core types for the auth service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RolePartnerAdmin    = "admin"
	RolePartnerOps      = "ops"
	RolePartnerFinance  = "finance"
	RolePartnerReadonly = "readonly"

	RoleZeusSuperAdmin = "super_admin"
	RoleZeusOps        = "ops"
	RoleZeusFinance    = "finance"

	UserStatusInvited  = "invited"
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"

	AdminStatusActive   = "active"
	AdminStatusInactive = "inactive"

	SubjectPartnerUser = "partner_user"
	SubjectAPIKey      = "api_key"
	SubjectZeusAdmin   = "zeus_admin"
)

func ValidPartnerRole(role string) bool {
	switch role {
	case RolePartnerAdmin, RolePartnerOps, RolePartnerFinance, RolePartnerReadonly:
		return true
	}
	return false
}

func ValidZeusRole(role string) bool {
	switch role {
	case RoleZeusSuperAdmin, RoleZeusOps, RoleZeusFinance:
		return true
	}
	return false
}

// PartnerUser is a person signing in on behalf of a partner.
type PartnerUser struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	PartnerID       snowflake.ID `gorm:"column:partner_id;not null;index" json:"partnerId"`
	Email           string       `gorm:"column:email;uniqueIndex" json:"email"`
	Name            string       `gorm:"column:name" json:"name"`
	PasswordHash    *string      `gorm:"column:password_hash" json:"-"`
	Role            string       `gorm:"column:role" json:"role"`
	Status          string       `gorm:"column:status" json:"status"`
	InviteTokenHash *string      `gorm:"column:invite_token_hash" json:"-"`
	InviteExpiresAt *time.Time   `gorm:"column:invite_expires_at" json:"-"`
	LastLoginAt     *time.Time   `gorm:"column:last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt       time.Time    `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt       time.Time    `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName sets the database table name.
func (PartnerUser) TableName() string { return "partner_users" }

// ZeusAdmin operates the authorizing organization.
type ZeusAdmin struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Email        string       `gorm:"column:email;uniqueIndex" json:"email"`
	Name         string       `gorm:"column:name" json:"name"`
	PasswordHash string       `gorm:"column:password_hash" json:"-"`
	Role         string       `gorm:"column:role" json:"role"`
	Status       string       `gorm:"column:status" json:"status"`
	LastLoginAt  *time.Time   `gorm:"column:last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time    `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt    time.Time    `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName sets the database table name.
func (ZeusAdmin) TableName() string { return "zeus_admins" }

// Session backs one issued token; its ID is the token's jti.
type Session struct {
	ID          string        `gorm:"primaryKey"`
	SubjectType string        `gorm:"column:subject_type;not null"`
	SubjectID   snowflake.ID  `gorm:"column:subject_id;not null"`
	PartnerID   *snowflake.ID `gorm:"column:partner_id"`
	ExpiresAt   time.Time     `gorm:"column:expires_at;not null"`
	RevokedAt   *time.Time    `gorm:"column:revoked_at"`
	CreatedAt   time.Time     `gorm:"column:created_at;not null"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }
