package identity

import (
	"strings"

	"github.com/nicklamont/slack-chat-migrator/internal/export"
)

// Kind classifies how a source user maps onto the target workspace.
type Kind int

const (
	// KindInternal users have an email in the workspace's own domain.
	KindInternal Kind = iota
	// KindExternal users resolve to an email in a different domain.
	KindExternal
	// KindBot users are bot/app identities.
	KindBot
	// KindUnmapped users have no resolvable target email.
	KindUnmapped
)

// Resolver maps source user IDs to target identities. Resolution order is
// override map, then directory profile email, then unmapped.
type Resolver struct {
	users      map[string]export.User
	overrides  map[string]string
	domain     string
	ignoreBots bool
}

func NewResolver(users map[string]export.User, overrides map[string]string, domain string, ignoreBots bool) *Resolver {
	return &Resolver{
		users:      users,
		overrides:  overrides,
		domain:     strings.ToLower(domain),
		ignoreBots: ignoreBots,
	}
}

// Resolve returns the target email for a source user and its classification.
// The email is empty for KindBot and KindUnmapped.
func (r *Resolver) Resolve(userID string) (string, Kind) {
	if userID == "" {
		return "", KindUnmapped
	}
	u, known := r.users[userID]
	if known && u.IsBot && r.ignoreBots {
		return "", KindBot
	}
	if email, ok := r.overrides[userID]; ok && email != "" {
		return email, r.classify(email)
	}
	if known && u.Profile.Email != "" {
		return u.Profile.Email, r.classify(u.Profile.Email)
	}
	return "", KindUnmapped
}

// IsExternal reports whether the user resolves to an identity outside the
// workspace domain. Bot and unmapped identities are never external.
func (r *Resolver) IsExternal(userID string) bool {
	_, kind := r.Resolve(userID)
	return kind == KindExternal
}

// IsBotMessage reports whether a message was produced by a bot identity,
// either via bot_id or a directory is_bot flag.
func (r *Resolver) IsBotMessage(m export.Message) bool {
	if m.BotID != "" {
		return true
	}
	if u, ok := r.users[m.User]; ok {
		return u.IsBot
	}
	return false
}

// IgnoreBots reports whether bot identities are excluded from migration.
func (r *Resolver) IgnoreBots() bool {
	return r.ignoreBots
}

// DisplayName returns the attribution name for a user: the override value
// first, then the directory profile, then the raw identifier.
func (r *Resolver) DisplayName(userID string) string {
	if email, ok := r.overrides[userID]; ok && email != "" {
		return email
	}
	if u, ok := r.users[userID]; ok {
		if u.Profile.DisplayName != "" {
			return u.Profile.DisplayName
		}
		if u.Profile.RealName != "" {
			return u.Profile.RealName
		}
		if u.Name != "" {
			return u.Name
		}
	}
	return userID
}

func (r *Resolver) classify(email string) Kind {
	if r.domain == "" {
		return KindInternal
	}
	_, dom, found := strings.Cut(email, "@")
	if !found {
		return KindInternal
	}
	if strings.ToLower(dom) != r.domain {
		return KindExternal
	}
	return KindInternal
}
