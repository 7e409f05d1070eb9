// Package auth carries the caller identity established by the upstream gateway.
package auth

import (
	"context"
	"strings"
)

// Tier is the caller's subscription level.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Identity is who is making the request.
type Identity struct {
	UserID string `json:"user_id"`
	Tier   Tier   `json:"tier"`
}

// Elevated reports whether the tier may use operator endpoints.
func (i Identity) Elevated() bool {
	return i.Tier == TierPremium || i.Tier == TierEnterprise
}

// ParseTier normalizes a header value; unknown values become TierFree.
func ParseTier(s string) Tier {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierBasic, TierPremium, TierEnterprise:
		return t
	default:
		return TierFree
	}
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity on ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}
