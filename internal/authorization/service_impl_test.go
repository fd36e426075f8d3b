package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(nil)
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func partnerCtx(role string, readOnly bool) context.Context {
	return partnercontext.WithPartner(context.Background(), partnercontext.PartnerContext{
		PartnerID: 10, Role: role, ReadOnly: readOnly,
	})
}

func zeusCtx(role string) context.Context {
	return partnercontext.WithAdmin(context.Background(), partnercontext.AdminContext{AdminID: 1, Role: role})
}

func TestPartnerRoles(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		role   string
		object string
		action string
		allow  bool
	}{
		{"admin", ObjectZone, ActionCreate, true},
		{"ops", ObjectZone, ActionDelete, true},
		{"finance", ObjectZone, ActionCreate, false},
		{"readonly", ObjectZone, ActionUpdate, false},
		{"readonly", ObjectZone, ActionView, true},
		{"finance", ObjectUsage, ActionView, true},
		{"ops", ObjectUsage, ActionView, false},
		{"ops", ObjectOrder, ActionCreate, true},
		{"finance", ObjectOrder, ActionCreate, false},
		{"admin", ObjectInvoice, ActionPay, false},
		{"admin", ObjectPartner, ActionManage, false},
		{"owner", ObjectPartner, ActionView, false},
	}
	for _, tc := range cases {
		err := svc.Authorize(partnerCtx(tc.role, false), tc.object, tc.action)
		if tc.allow {
			assert.NoError(t, err, "%s %s.%s", tc.role, tc.object, tc.action)
		} else {
			assert.ErrorIs(t, err, ErrForbidden, "%s %s.%s", tc.role, tc.object, tc.action)
		}
	}
}

func TestZeusRoles(t *testing.T) {
	svc := newTestService(t)

	assert.NoError(t, svc.Authorize(zeusCtx("super_admin"), ObjectZone, ActionDelete))
	assert.ErrorIs(t, svc.Authorize(zeusCtx("ops"), ObjectZone, ActionDelete), ErrForbidden)
	assert.NoError(t, svc.Authorize(zeusCtx("ops"), ObjectZone, ActionUpdate))
	assert.NoError(t, svc.Authorize(zeusCtx("finance"), ObjectInvoice, ActionPay))
	assert.ErrorIs(t, svc.Authorize(zeusCtx("finance"), ObjectPartner, ActionManage), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(zeusCtx("ops"), ObjectAuditLog, ActionView), ErrForbidden)
}

func TestPartnerAndZeusRolesDoNotMix(t *testing.T) {
	svc := newTestService(t)

	// A partner "finance" is not a Zeus finance operator.
	assert.ErrorIs(t, svc.Authorize(partnerCtx("finance", false), ObjectInvoice, ActionClose), ErrForbidden)
}

func TestRestrictedPartnerIsReadOnly(t *testing.T) {
	svc := newTestService(t)

	assert.NoError(t, svc.Authorize(partnerCtx("admin", true), ObjectZone, ActionView))
	assert.ErrorIs(t, svc.Authorize(partnerCtx("admin", true), ObjectZone, ActionCreate), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(partnerCtx("admin", true), ObjectOrder, ActionCreate), ErrForbidden)
}

func TestAuthorizeWithoutCaller(t *testing.T) {
	svc := newTestService(t)

	assert.ErrorIs(t, svc.Authorize(context.Background(), ObjectZone, ActionView), ErrUnauthenticated)
	assert.ErrorIs(t, svc.Authorize(zeusCtx("ops"), "", ActionView), ErrInvalidObject)
}
