package identity

import (
	"context"
	"strings"
)

// Identity is what the identity provider tells us about the caller. The core
// never issues or refreshes it.
type Identity struct {
	UserID        string   `json:"user_id"`
	Email         string   `json:"email"`
	RoleGrants    []string `json:"role_grants"`
	EmailVerified bool     `json:"email_verified"`
}

func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.RoleGrants {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

type identityKey struct{}
type userAgentKey struct{}
type channelKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns nil for anonymous requests.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}

func UserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(userAgentKey{}).(string)
	return ua
}

func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey{}, channel)
}

// Channel defaults to "api".
func Channel(ctx context.Context) string {
	ch, ok := ctx.Value(channelKey{}).(string)
	if !ok || ch == "" {
		return "api"
	}
	return ch
}
