package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/valkyrie/internal/auth/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) WithTx(tx *gorm.DB) domain.Repository {
	return &repo{db: tx}
}

func (r *repo) CreateUser(ctx context.Context, user *domain.PartnerUser) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *repo) FindUserByEmail(ctx context.Context, email string) (*domain.PartnerUser, error) {
	return firstUser(r.db.WithContext(ctx).Where("email = ?", email))
}

func (r *repo) FindUserByID(ctx context.Context, id snowflake.ID) (*domain.PartnerUser, error) {
	return firstUser(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindUserByInviteHash(ctx context.Context, hash string) (*domain.PartnerUser, error) {
	return firstUser(r.db.WithContext(ctx).Where("invite_token_hash = ?", hash))
}

func (r *repo) ListUsers(ctx context.Context, partnerID snowflake.ID) ([]domain.PartnerUser, error) {
	var users []domain.PartnerUser
	err := r.db.WithContext(ctx).
		Where("partner_id = ?", partnerID).
		Order("created_at asc").
		Find(&users).Error
	return users, err
}

func (r *repo) UpdateUserFields(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&domain.PartnerUser{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repo) CreateAdmin(ctx context.Context, admin *domain.ZeusAdmin) error {
	return r.db.WithContext(ctx).Create(admin).Error
}

func (r *repo) FindAdminByEmail(ctx context.Context, email string) (*domain.ZeusAdmin, error) {
	return firstAdmin(r.db.WithContext(ctx).Where("email = ?", email))
}

func (r *repo) FindAdminByID(ctx context.Context, id snowflake.ID) (*domain.ZeusAdmin, error) {
	return firstAdmin(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) UpdateAdminFields(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&domain.ZeusAdmin{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repo) CreateSession(ctx context.Context, session *domain.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repo) FindSession(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) RevokeSession(ctx context.Context, id string, revokedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", revokedAt).Error
}

func firstUser(stmt *gorm.DB) (*domain.PartnerUser, error) {
	var user domain.PartnerUser
	err := stmt.First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func firstAdmin(stmt *gorm.DB) (*domain.ZeusAdmin, error) {
	var admin domain.ZeusAdmin
	err := stmt.First(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &admin, nil
}
