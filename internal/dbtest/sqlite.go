// Package dbtest opens throwaway SQLite databases carrying the service schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE partners (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'active',
		api_rate_limit BIGINT NOT NULL DEFAULT 1000,
		zeus_managed BOOLEAN NOT NULL DEFAULT 1,
		billing_plan TEXT NOT NULL DEFAULT 'standard',
		contact_email TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE zeus_admins (
		id BIGINT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_login_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE partner_users (
		id BIGINT PRIMARY KEY,
		partner_id BIGINT NOT NULL REFERENCES partners(id) ON DELETE CASCADE,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		password_hash TEXT,
		role TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'invited',
		invite_token_hash TEXT UNIQUE,
		invite_expires_at DATETIME,
		last_login_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		subject_type TEXT NOT NULL,
		subject_id BIGINT NOT NULL,
		partner_id BIGINT REFERENCES partners(id) ON DELETE CASCADE,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE partner_api_keys (
		id BIGINT PRIMARY KEY,
		partner_id BIGINT NOT NULL UNIQUE REFERENCES partners(id) ON DELETE CASCADE,
		key_hash TEXT NOT NULL UNIQUE,
		masked_key TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		rotated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE geofences (
		id BIGINT PRIMARY KEY,
		partner_id BIGINT NOT NULL REFERENCES partners(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		source TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		geometry TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_by BIGINT REFERENCES zeus_admins(id) ON DELETE SET NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE usage_records (
		id BIGINT PRIMARY KEY,
		partner_id BIGINT NOT NULL REFERENCES partners(id) ON DELETE CASCADE,
		metric TEXT NOT NULL,
		period TEXT NOT NULL,
		period_date DATETIME NOT NULL,
		value NUMERIC NOT NULL DEFAULT 0 CHECK (value >= 0),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (partner_id, metric, period, period_date)
	)`,
	`CREATE TABLE usage_corrections (
		id BIGINT PRIMARY KEY,
		partner_id BIGINT NOT NULL REFERENCES partners(id) ON DELETE CASCADE,
		metric TEXT NOT NULL,
		period TEXT NOT NULL,
		period_date DATETIME NOT NULL,
		delta NUMERIC NOT NULL,
		reason TEXT NOT NULL,
		actor TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE invoices (
		id BIGINT PRIMARY KEY,
		partner_id BIGINT NOT NULL REFERENCES partners(id) ON DELETE CASCADE,
		invoice_number TEXT NOT NULL UNIQUE,
		period TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		line_items TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'draft',
		payment_terms_days INTEGER NOT NULL DEFAULT 14,
		issued_at DATETIME,
		due_date DATETIME,
		paid_date DATETIME,
		notes TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (partner_id, period)
	)`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		partner_id BIGINT,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		request_id TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// Open returns an in-memory database private to t with every table created.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// SeedPartner inserts an active partner with the given id.
func SeedPartner(t *testing.T, db *gorm.DB, id int64, rateLimit int64) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO partners (id, name, slug, status, api_rate_limit, zeus_managed, billing_plan, created_at, updated_at)
		 VALUES (?, ?, ?, 'active', ?, 1, 'standard', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		id, fmt.Sprintf("Partner %d", id), fmt.Sprintf("partner-%d", id), rateLimit,
	).Error; err != nil {
		t.Fatalf("seed partner: %v", err)
	}
}
