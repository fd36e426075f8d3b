package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/valkyrie/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/valkyrie/internal/audit/domain"
	"github.com/smallbiznis/valkyrie/internal/auth/domain"
	"github.com/smallbiznis/valkyrie/internal/auth/password"
	"github.com/smallbiznis/valkyrie/internal/auth/token"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"github.com/smallbiznis/valkyrie/internal/config"
	partnerdomain "github.com/smallbiznis/valkyrie/internal/partner/domain"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const inviteTokenBytes = 32

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Issuer      *token.Issuer
	Repo        domain.Repository
	PartnerRepo partnerdomain.Repository
	APIKeySvc   apikeydomain.Service
	AuditSvc    auditdomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	inviteTTL   time.Duration
	issuer      *token.Issuer
	repo        domain.Repository
	partnerRepo partnerdomain.Repository
	apiKeySvc   apikeydomain.Service
	auditSvc    auditdomain.Service

	// dummyHash keeps failed lookups as slow as failed password checks.
	dummyHash string
}

func New(p Params) (domain.Service, error) {
	dummy, err := password.Hash("valkyrie-dummy-password")
	if err != nil {
		return nil, err
	}
	inviteTTL := p.Config.InviteTokenTTL
	if inviteTTL <= 0 {
		inviteTTL = 72 * time.Hour
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("auth.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		inviteTTL:   inviteTTL,
		issuer:      p.Issuer,
		repo:        p.Repo,
		partnerRepo: p.PartnerRepo,
		apiKeySvc:   p.APIKeySvc,
		auditSvc:    p.AuditSvc,
		dummyHash:   dummy,
	}, nil
}

// NewIssuer builds the token issuer from config. Outside production a missing
// secret is replaced by a random one, so tokens do not survive restarts.
func NewIssuer(cfg config.Config, clk clock.Clock, log *zap.Logger) (*token.Issuer, error) {
	secret := []byte(cfg.AuthJWTSecret)
	if len(secret) == 0 {
		if cfg.IsProduction() {
			return nil, domain.ErrAuthNotConfigured
		}
		log.Warn("AUTH_JWT_SECRET not set, using an ephemeral signing key")
		secret = token.RandomSecret()
	}
	return token.NewIssuer(secret, cfg.AuthTokenTTL, clk)
}

func (s *Service) InviteUser(ctx context.Context, req domain.InviteRequest) (*domain.InviteResult, error) {
	if req.PartnerID == 0 {
		return nil, domain.ErrInvalidPartner
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RolePartnerReadonly
	}
	if !domain.ValidPartnerRole(role) {
		return nil, domain.ErrInvalidRole
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultDisplayName(email)
	}

	rawInvite, err := randomToken(inviteTokenBytes)
	if err != nil {
		return nil, err
	}
	inviteHash := hashToken(rawInvite)
	now := s.clock.Now()
	expiresAt := now.Add(s.inviteTTL)
	user := &domain.PartnerUser{
		ID:              s.genID.Generate(),
		PartnerID:       req.PartnerID,
		Email:           email,
		Name:            name,
		Role:            role,
		Status:          domain.UserStatusInvited,
		InviteTokenHash: &inviteHash,
		InviteExpiresAt: &expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		partner, err := s.partnerRepo.FindByID(ctx, tx, req.PartnerID)
		if err != nil {
			return err
		}
		if partner == nil {
			return domain.ErrInvalidPartner
		}
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindUserByEmail(ctx, email); err == nil {
			return domain.ErrUserExists
		} else if !errors.Is(err, domain.ErrUserNotFound) {
			return err
		}
		if err := repo.CreateUser(ctx, user); err != nil {
			return err
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &req.PartnerID,
			Action:     auditdomain.ActionPartnerUserInvite,
			TargetType: "partner_user",
			TargetID:   user.ID.String(),
			Metadata: map[string]any{
				"email": email,
				"role":  role,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return &domain.InviteResult{User: user, InviteToken: rawInvite, ExpiresAt: expiresAt}, nil
}

func (s *Service) ListUsers(ctx context.Context, partnerID snowflake.ID) ([]domain.PartnerUser, error) {
	if partnerID == 0 {
		return nil, domain.ErrInvalidPartner
	}
	return s.repo.ListUsers(ctx, partnerID)
}

func (s *Service) SetupPassword(ctx context.Context, req domain.SetupPasswordRequest) (*domain.PartnerUser, error) {
	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		return nil, domain.ErrInvalidInvite
	}
	if err := password.Validate(req.Password); err != nil {
		return nil, err
	}

	user, err := s.repo.FindUserByInviteHash(ctx, hashToken(raw))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidInvite
		}
		return nil, err
	}
	now := s.clock.Now()
	if user.Status != domain.UserStatusInvited || user.InviteExpiresAt == nil || !now.Before(*user.InviteExpiresAt) {
		return nil, domain.ErrInvalidInvite
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateUserFields(ctx, user.ID, map[string]any{
		"password_hash":     hashed,
		"status":            domain.UserStatusActive,
		"invite_token_hash": nil,
		"invite_expires_at": nil,
		"updated_at":        now,
	}); err != nil {
		return nil, err
	}

	user.PasswordHash = &hashed
	user.Status = domain.UserStatusActive
	user.InviteTokenHash = nil
	user.InviteExpiresAt = nil
	user.UpdatedAt = now
	return user, nil
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil || req.Password == "" {
		return nil, domain.ErrUnauthenticated
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			password.Verify(req.Password, s.dummyHash)
			return nil, domain.ErrUnauthenticated
		}
		return nil, err
	}
	if user.PasswordHash == nil || !password.Verify(req.Password, *user.PasswordHash) {
		return nil, domain.ErrUnauthenticated
	}
	if user.Status != domain.UserStatusActive {
		return nil, domain.ErrUnauthenticated
	}

	partner, err := s.loadAdmittedPartner(ctx, user.PartnerID)
	if err != nil {
		return nil, err
	}

	issued, err := s.startSession(ctx, token.KindPartner, domain.SubjectPartnerUser, user.ID, &partner.ID, user.Role)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.repo.UpdateUserFields(ctx, user.ID, map[string]any{"last_login_at": now}); err != nil {
		s.log.Warn("failed to record login time", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
	user.LastLoginAt = &now

	return &domain.LoginResult{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		Partner:   partner,
		User:      user,
	}, nil
}

func (s *Service) LoginWithAPIKey(ctx context.Context, apiKey string) (*domain.LoginResult, error) {
	key, err := s.apiKeySvc.Resolve(ctx, apiKey)
	if err != nil {
		if errors.Is(err, apikeydomain.ErrInvalidKey) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, err
	}
	partner, err := s.loadAdmittedPartner(ctx, key.PartnerID)
	if err != nil {
		return nil, err
	}

	issued, err := s.startSession(ctx, token.KindPartner, domain.SubjectAPIKey, key.ID, &partner.ID, domain.RolePartnerAdmin)
	if err != nil {
		return nil, err
	}
	return &domain.LoginResult{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		Partner:   partner,
	}, nil
}

func (s *Service) LoginZeus(ctx context.Context, req domain.LoginRequest) (*domain.AdminLoginResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil || req.Password == "" {
		return nil, domain.ErrUnauthenticated
	}

	admin, err := s.repo.FindAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			password.Verify(req.Password, s.dummyHash)
			return nil, domain.ErrUnauthenticated
		}
		return nil, err
	}
	if !password.Verify(req.Password, admin.PasswordHash) || admin.Status != domain.AdminStatusActive {
		return nil, domain.ErrUnauthenticated
	}

	issued, err := s.startSession(ctx, token.KindZeus, domain.SubjectZeusAdmin, admin.ID, nil, admin.Role)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.repo.UpdateAdminFields(ctx, admin.ID, map[string]any{"last_login_at": now}); err != nil {
		s.log.Warn("failed to record login time", zap.String("admin_id", admin.ID.String()), zap.Error(err))
	}
	admin.LastLoginAt = &now

	return &domain.AdminLoginResult{Token: issued.Token, ExpiresAt: issued.ExpiresAt, Admin: admin}, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	raw := strings.TrimSpace(rawToken)
	if raw == "" {
		return domain.ErrUnauthenticated
	}
	claims, err := s.issuer.Parse(raw, token.KindPartner)
	if err != nil {
		claims, err = s.issuer.Parse(raw, token.KindZeus)
		if err != nil {
			return domain.ErrUnauthenticated
		}
	}
	return s.repo.RevokeSession(ctx, claims.ID, s.clock.Now())
}

func (s *Service) AuthenticatePartner(ctx context.Context, cred domain.Credential) (partnercontext.PartnerContext, error) {
	apiKey := strings.TrimSpace(cred.APIKey)
	bearer := strings.TrimSpace(cred.Bearer)
	if apiKey == "" && bearer != "" && !strings.Contains(bearer, ".") {
		apiKey = bearer
	}
	if apiKey != "" {
		return s.authenticateAPIKey(ctx, apiKey)
	}
	if bearer == "" {
		return partnercontext.PartnerContext{}, domain.ErrUnauthenticated
	}
	return s.authenticatePartnerToken(ctx, bearer)
}

func (s *Service) authenticateAPIKey(ctx context.Context, raw string) (partnercontext.PartnerContext, error) {
	key, err := s.apiKeySvc.Resolve(ctx, raw)
	if err != nil {
		if errors.Is(err, apikeydomain.ErrInvalidKey) {
			return partnercontext.PartnerContext{}, domain.ErrUnauthenticated
		}
		return partnercontext.PartnerContext{}, err
	}
	partner, err := s.loadAdmittedPartner(ctx, key.PartnerID)
	if err != nil {
		return partnercontext.PartnerContext{}, err
	}
	return partnercontext.PartnerContext{
		PartnerID:    partner.ID,
		Role:         domain.RolePartnerAdmin,
		Credential:   partnercontext.CredentialAPIKey,
		ReadOnly:     partner.Status == partnerdomain.StatusRestricted,
		APIRateLimit: partner.APIRateLimit,
	}, nil
}

func (s *Service) authenticatePartnerToken(ctx context.Context, raw string) (partnercontext.PartnerContext, error) {
	claims, err := s.issuer.Parse(raw, token.KindPartner)
	if err != nil {
		return partnercontext.PartnerContext{}, domain.ErrUnauthenticated
	}
	session, err := s.liveSession(ctx, claims.ID)
	if err != nil {
		return partnercontext.PartnerContext{}, err
	}
	if session.PartnerID == nil {
		return partnercontext.PartnerContext{}, domain.ErrUnauthenticated
	}

	pc := partnercontext.PartnerContext{
		PartnerID:  *session.PartnerID,
		SessionID:  session.ID,
		Credential: partnercontext.CredentialSession,
	}

	switch session.SubjectType {
	case domain.SubjectPartnerUser:
		user, err := s.repo.FindUserByID(ctx, session.SubjectID)
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				return partnercontext.PartnerContext{}, domain.ErrUnauthenticated
			}
			return partnercontext.PartnerContext{}, err
		}
		if user.Status != domain.UserStatusActive || user.PartnerID != pc.PartnerID {
			return partnercontext.PartnerContext{}, domain.ErrUnauthenticated
		}
		pc.UserID = user.ID
		pc.Role = user.Role
	case domain.SubjectAPIKey:
		// Tokens minted from a key die with the key.
		desc, err := s.apiKeySvc.Describe(ctx, pc.PartnerID)
		if err != nil {
			return partnercontext.PartnerContext{}, err
		}
		if !desc.HasAPIKey || desc.RotatedAt == nil || desc.RotatedAt.After(session.CreatedAt) {
			return partnercontext.PartnerContext{}, domain.ErrUnauthenticated
		}
		pc.Role = domain.RolePartnerAdmin
	default:
		return partnercontext.PartnerContext{}, domain.ErrUnauthenticated
	}

	partner, err := s.loadAdmittedPartner(ctx, pc.PartnerID)
	if err != nil {
		return partnercontext.PartnerContext{}, err
	}
	pc.ReadOnly = partner.Status == partnerdomain.StatusRestricted
	pc.APIRateLimit = partner.APIRateLimit
	return pc, nil
}

func (s *Service) AuthenticateZeus(ctx context.Context, rawToken string) (partnercontext.AdminContext, error) {
	claims, err := s.issuer.Parse(strings.TrimSpace(rawToken), token.KindZeus)
	if err != nil {
		return partnercontext.AdminContext{}, domain.ErrUnauthenticated
	}
	session, err := s.liveSession(ctx, claims.ID)
	if err != nil {
		return partnercontext.AdminContext{}, err
	}
	if session.SubjectType != domain.SubjectZeusAdmin {
		return partnercontext.AdminContext{}, domain.ErrUnauthenticated
	}
	admin, err := s.repo.FindAdminByID(ctx, session.SubjectID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return partnercontext.AdminContext{}, domain.ErrUnauthenticated
		}
		return partnercontext.AdminContext{}, err
	}
	if admin.Status != domain.AdminStatusActive {
		return partnercontext.AdminContext{}, domain.ErrUnauthenticated
	}
	return partnercontext.AdminContext{
		AdminID:   admin.ID,
		Role:      admin.Role,
		SessionID: session.ID,
	}, nil
}

func (s *Service) EnsureZeusAdmin(ctx context.Context, req domain.CreateAdminRequest) (*domain.ZeusAdmin, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleZeusSuperAdmin
	}
	if !domain.ValidZeusRole(role) {
		return nil, domain.ErrInvalidRole
	}

	existing, err := s.repo.FindAdminByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	if err := password.Validate(req.Password); err != nil {
		return nil, err
	}
	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultDisplayName(email)
	}
	now := s.clock.Now()
	admin := &domain.ZeusAdmin{
		ID:           s.genID.Generate(),
		Email:        email,
		Name:         name,
		PasswordHash: hashed,
		Role:         role,
		Status:       domain.AdminStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateAdmin(ctx, admin); err != nil {
		return nil, err
	}
	s.log.Info("zeus admin created", zap.String("admin_id", admin.ID.String()), zap.String("role", role))
	return admin, nil
}

func (s *Service) startSession(ctx context.Context, kind token.Kind, subjectType string, subjectID snowflake.ID, partnerID *snowflake.ID, role string) (token.Issued, error) {
	var partnerClaim string
	if partnerID != nil {
		partnerClaim = partnerID.String()
	}
	issued, err := s.issuer.Issue(kind, subjectID.String(), partnerClaim, role)
	if err != nil {
		return token.Issued{}, err
	}
	session := &domain.Session{
		ID:          issued.ID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		PartnerID:   partnerID,
		ExpiresAt:   issued.ExpiresAt,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return token.Issued{}, err
	}
	return issued, nil
}

func (s *Service) liveSession(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.repo.FindSession(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, err
	}
	if session.RevokedAt != nil || !s.clock.Now().Before(session.ExpiresAt) {
		return nil, domain.ErrUnauthenticated
	}
	return session, nil
}

// loadAdmittedPartner rejects partners that may not sign in at all.
func (s *Service) loadAdmittedPartner(ctx context.Context, id snowflake.ID) (*partnerdomain.Partner, error) {
	partner, err := s.partnerRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if partner == nil || partner.Status == partnerdomain.StatusSuspended {
		return nil, domain.ErrUnauthenticated
	}
	return partner, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", domain.ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}

func defaultDisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
