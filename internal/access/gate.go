package access

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	Allow Decision = iota
	DenyBanned
	DenySubscription
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyBanned:
		return "deny_banned"
	case DenySubscription:
		return "deny_subscription"
	default:
		return "unknown"
	}
}

// BanChecker answers whether a user is on the ban list.
type BanChecker interface {
	IsBanned(ctx context.Context, userID int64) (bool, error)
}

// MembershipOracle answers whether a user belongs to the mandatory channel.
type MembershipOracle interface {
	IsMember(ctx context.Context, channel string, userID int64) (bool, error)
}

// Notifier delivers the one-time degradation warning to the admin.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
}

// Gate admits or rejects users before any pipeline work starts. The ban
// list is checked before the membership oracle, so a banned user is told
// they are banned even if they also left the channel. When the oracle is
// unreachable the gate fails open and warns the admin once per process.
type Gate struct {
	logger   *slog.Logger
	bans     BanChecker
	oracle   MembershipOracle
	notifier Notifier
	channel  string
	adminID  int64

	warnOnce sync.Once
}

func NewGate(log *slog.Logger, bans BanChecker, oracle MembershipOracle, notifier Notifier, channel string, adminID int64) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		logger:   log.With(slog.String("component", "access")),
		bans:     bans,
		oracle:   oracle,
		notifier: notifier,
		channel:  channel,
		adminID:  adminID,
	}
}

// AdminID exposes the owner account for command routing.
func (g *Gate) AdminID() int64 {
	return g.adminID
}

// IsAdmin reports whether the user is the owner account.
func (g *Gate) IsAdmin(userID int64) bool {
	return userID == g.adminID
}

// Channel exposes the mandatory channel reference for join prompts.
func (g *Gate) Channel() string {
	return g.channel
}

// Admit decides whether the user may proceed. The admin bypasses both the
// ban list and the membership requirement.
func (g *Gate) Admit(ctx context.Context, userID int64) (Decision, error) {
	if g.IsAdmin(userID) {
		return Allow, nil
	}

	banned, err := g.bans.IsBanned(ctx, userID)
	if err != nil {
		return DenyBanned, fmt.Errorf("ban check: %w", err)
	}
	if banned {
		return DenyBanned, nil
	}

	member, err := g.oracle.IsMember(ctx, g.channel, userID)
	if err != nil {
		g.logger.Warn("membership check failed, admitting user",
			slog.Int64("user_id", userID), slog.Any("error", err))
		g.warnOnce.Do(func() {
			if g.notifier == nil {
				return
			}
			text := fmt.Sprintf("Membership checks against %s are failing; admitting users without them. First error: %v", g.channel, err)
			if _, err := g.notifier.SendText(ctx, g.adminID, text); err != nil {
				g.logger.Warn("admin warning failed", slog.Any("error", err))
			}
		})
		return Allow, nil
	}
	if !member {
		return DenySubscription, nil
	}
	return Allow, nil
}
