package partnercontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActor(t *testing.T) {
	ctx := context.Background()
	actorType, actorID := Actor(ctx)
	assert.Equal(t, ActorSystem, actorType)
	assert.Empty(t, actorID)

	ctx = WithPartner(ctx, PartnerContext{PartnerID: 7, Role: "admin", Credential: CredentialAPIKey})
	actorType, actorID = Actor(ctx)
	assert.Equal(t, ActorAPIKey, actorType)
	assert.Equal(t, "7", actorID)

	ctx = WithAdmin(ctx, AdminContext{AdminID: 9, Role: "ops"})
	actorType, actorID = Actor(ctx)
	assert.Equal(t, ActorZeusAdmin, actorType)
	assert.Equal(t, "9", actorID)
}

func TestPartnerFromContextRequiresID(t *testing.T) {
	ctx := WithPartner(context.Background(), PartnerContext{Role: "admin"})
	_, ok := PartnerFromContext(ctx)
	assert.False(t, ok)
	assert.Equal(t, "", RequestIDFromContext(ctx))
	assert.Equal(t, "req-1", RequestIDFromContext(WithRequestID(ctx, "req-1")))
}
