package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateUser(ctx context.Context, user *PartnerUser) error
	FindUserByEmail(ctx context.Context, email string) (*PartnerUser, error)
	FindUserByID(ctx context.Context, id snowflake.ID) (*PartnerUser, error)
	FindUserByInviteHash(ctx context.Context, hash string) (*PartnerUser, error)
	ListUsers(ctx context.Context, partnerID snowflake.ID) ([]PartnerUser, error)
	UpdateUserFields(ctx context.Context, id snowflake.ID, fields map[string]any) error

	CreateAdmin(ctx context.Context, admin *ZeusAdmin) error
	FindAdminByEmail(ctx context.Context, email string) (*ZeusAdmin, error)
	FindAdminByID(ctx context.Context, id snowflake.ID) (*ZeusAdmin, error)
	UpdateAdminFields(ctx context.Context, id snowflake.ID, fields map[string]any) error

	CreateSession(ctx context.Context, session *Session) error
	FindSession(ctx context.Context, id string) (*Session, error)
	RevokeSession(ctx context.Context, id string, revokedAt time.Time) error
}
