package migration

import (
	"context"
	"strings"

	authdomain "github.com/smallbiznis/valkyrie/internal/auth/domain"
	"github.com/smallbiznis/valkyrie/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Migrate),
	fx.Invoke(BootstrapZeusAdmin),
)

// Migrate applies the embedded schema on startup. Only postgres is
// migrated here; sqlite databases are created by their tests.
func Migrate(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if !cfg.DBAutoMigrate || !strings.EqualFold(cfg.DBType, "postgres") {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	version, dirty, err := Version(sqlDB)
	if err != nil {
		return err
	}
	log.Info("database migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// BootstrapZeusAdmin creates the first super admin when the bootstrap
// credentials are configured. An existing admin with that email is left as is.
func BootstrapZeusAdmin(authSvc authdomain.Service, cfg config.Config, log *zap.Logger) error {
	if cfg.ZeusBootstrapEmail == "" || cfg.ZeusBootstrapPassword == "" {
		return nil
	}
	admin, err := authSvc.EnsureZeusAdmin(context.Background(), authdomain.CreateAdminRequest{
		Email:    cfg.ZeusBootstrapEmail,
		Password: cfg.ZeusBootstrapPassword,
		Role:     authdomain.RoleZeusSuperAdmin,
	})
	if err != nil {
		return err
	}
	log.Info("zeus admin ready", zap.String("admin_id", admin.ID.String()), zap.String("email", admin.Email))
	return nil
}
