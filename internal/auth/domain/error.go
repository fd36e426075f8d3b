package domain

import "errors"

var (
	// ErrUnauthenticated covers every rejected credential without saying
	// which check failed.
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrInvalidEmail      = errors.New("invalid_email")
	ErrInvalidRole       = errors.New("invalid_role")
	ErrInvalidPartner    = errors.New("invalid_partner")
	ErrUserExists        = errors.New("user_already_exists")
	ErrInvalidInvite     = errors.New("invalid_invite")
	ErrUserNotFound      = errors.New("user_not_found")
	ErrSessionNotFound   = errors.New("session_not_found")
	ErrForbidden         = errors.New("forbidden")
	ErrAuthNotConfigured = errors.New("auth_not_configured")
)
