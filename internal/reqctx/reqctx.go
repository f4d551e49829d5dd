// Package reqctx carries per-request attribution explicitly from the
// transport into core operations.
package reqctx

import (
	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/rbac"
	"github.com/iliyamo/guardian-auth/internal/tokens"
)

// Actor is the authenticated caller.
type Actor struct {
	User      model.User
	Principal *rbac.Principal
	Claims    *tokens.Claims
	RawToken  string
}

// Request identifies one inbound call. Actor is nil for anonymous calls.
type Request struct {
	ID        string
	IP        string
	UserAgent string
	Actor     *Actor
}

// ActorID returns the acting user's id, or 0.
func (r Request) ActorID() uint64 {
	if r.Actor == nil {
		return 0
	}
	return r.Actor.User.ID
}

// Principal returns the acting principal, or nil.
func (r Request) Principal() *rbac.Principal {
	if r.Actor == nil {
		return nil
	}
	return r.Actor.Principal
}

// Authenticated reports whether an actor is attached.
func (r Request) Authenticated() bool { return r.Actor != nil && r.Actor.User.ID != 0 }
