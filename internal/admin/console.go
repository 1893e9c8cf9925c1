// Package admin implements the owner's control console: usage stats, link
// history, ban management, and broadcast to every known user.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clipfetch/clipfetch/internal/gateway"
	"github.com/clipfetch/clipfetch/internal/records"
)

// CallbackPrefix marks console callbacks in the inline-keyboard data.
const CallbackPrefix = "admin:"

const (
	recentLinkLimit = 10
	armWindow       = 5 * time.Minute
)

// Messenger is the outbound transport slice the console needs.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	SendChoices(ctx context.Context, chatID int64, text string, choices []gateway.Choice) (int, error)
	CopyMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) error
}

// RecordStore is the persistence slice the console needs.
type RecordStore interface {
	CountKnownUsers(ctx context.Context) (int64, error)
	AllKnownUsers(ctx context.Context) ([]int64, error)
	RecentLinks(ctx context.Context, limit int) ([]records.Link, error)
	Ban(ctx context.Context, userID int64) error
	Unban(ctx context.Context, userID int64) error
}

// SessionCounter reports how many download sessions are live.
type SessionCounter interface {
	Len() int
}

// Console serves the owner account. Routing guarantees only admin events
// reach it; the ban commands still refuse the admin as a target.
type Console struct {
	logger   *slog.Logger
	gw       Messenger
	store    RecordStore
	sessions SessionCounter
	adminID  int64
	pause    time.Duration

	mu      sync.Mutex
	armedAt time.Time
}

func NewConsole(log *slog.Logger, gw Messenger, store RecordStore, sessions SessionCounter, adminID int64, pause time.Duration) *Console {
	if log == nil {
		log = slog.Default()
	}
	if pause <= 0 {
		pause = 100 * time.Millisecond
	}
	return &Console{
		logger:   log.With(slog.String("component", "admin")),
		gw:       gw,
		store:    store,
		sessions: sessions,
		adminID:  adminID,
		pause:    pause,
	}
}

// Show presents the console keyboard.
func (c *Console) Show(ctx context.Context, chatID int64) {
	choices := []gateway.Choice{
		{Label: "Stats", Data: CallbackPrefix + "stats"},
		{Label: "Recent links", Data: CallbackPrefix + "links"},
		{Label: "Broadcast", Data: CallbackPrefix + "broadcast"},
	}
	if _, err := c.gw.SendChoices(ctx, chatID, "Admin console", choices); err != nil {
		c.logger.Error("console prompt failed", slog.Any("error", err))
	}
}

// HandleCallback dispatches a console button press. data includes the prefix.
func (c *Console) HandleCallback(ctx context.Context, chatID int64, data string) {
	switch strings.TrimPrefix(data, CallbackPrefix) {
	case "stats":
		c.sendStats(ctx, chatID)
	case "links":
		c.sendLinks(ctx, chatID)
	case "broadcast":
		c.armBroadcast(ctx, chatID)
	default:
		c.logger.Warn("unknown console action", slog.String("data", data))
	}
}

func (c *Console) sendStats(ctx context.Context, chatID int64) {
	count, err := c.store.CountKnownUsers(ctx)
	if err != nil {
		c.logger.Error("stats query failed", slog.Any("error", err))
		c.send(ctx, chatID, "Stats are unavailable right now.")
		return
	}
	text := fmt.Sprintf("Known users: %d", count)
	if c.sessions != nil {
		text += fmt.Sprintf("\nActive sessions: %d", c.sessions.Len())
	}
	c.send(ctx, chatID, text)
}

func (c *Console) sendLinks(ctx context.Context, chatID int64) {
	links, err := c.store.RecentLinks(ctx, recentLinkLimit)
	if err != nil {
		c.logger.Error("link history query failed", slog.Any("error", err))
		c.send(ctx, chatID, "Link history is unavailable right now.")
		return
	}
	c.send(ctx, chatID, records.FormatLinks(links))
}

func (c *Console) armBroadcast(ctx context.Context, chatID int64) {
	c.mu.Lock()
	c.armedAt = time.Now()
	c.mu.Unlock()
	c.send(ctx, chatID, "Broadcast armed. The next message you send goes to every user. /cancel to abort.")
}

// CancelBroadcast disarms a pending broadcast.
func (c *Console) CancelBroadcast(ctx context.Context, chatID int64) {
	c.mu.Lock()
	wasArmed := c.isArmedLocked()
	c.armedAt = time.Time{}
	c.mu.Unlock()
	if wasArmed {
		c.send(ctx, chatID, "Broadcast cancelled.")
	} else {
		c.send(ctx, chatID, "Nothing to cancel.")
	}
}

// MaybeBroadcast consumes the admin's next message while a broadcast is
// armed, copying it to every known user. It reports whether the event was
// consumed.
func (c *Console) MaybeBroadcast(ctx context.Context, ev gateway.Event) bool {
	c.mu.Lock()
	armed := c.isArmedLocked()
	c.armedAt = time.Time{}
	c.mu.Unlock()
	if !armed {
		return false
	}

	users, err := c.store.AllKnownUsers(ctx)
	if err != nil {
		c.logger.Error("broadcast target query failed", slog.Any("error", err))
		c.send(ctx, ev.ChatID, "Broadcast failed: could not load the user list.")
		return true
	}

	var delivered, failed int
	for _, userID := range users {
		if err := c.gw.CopyMessage(ctx, userID, ev.ChatID, ev.MessageID); err != nil {
			failed++
			c.logger.Warn("broadcast delivery failed",
				slog.Int64("user_id", userID), slog.Any("error", err))
		} else {
			delivered++
		}
		// Pace deliveries to stay under the send rate limit.
		select {
		case <-ctx.Done():
			c.send(ctx, ev.ChatID, fmt.Sprintf("Broadcast interrupted: %d delivered, %d failed.", delivered, failed))
			return true
		case <-time.After(c.pause):
		}
	}
	c.send(ctx, ev.ChatID, fmt.Sprintf("Broadcast done: %d delivered, %d failed.", delivered, failed))
	return true
}

// Ban adds a user to the ban list. The admin account cannot be targeted.
func (c *Console) Ban(ctx context.Context, chatID int64, args string) {
	target, ok := c.parseTarget(ctx, chatID, args)
	if !ok {
		return
	}
	if err := c.store.Ban(ctx, target); err != nil {
		c.logger.Error("ban failed", slog.Int64("target", target), slog.Any("error", err))
		c.send(ctx, chatID, "Ban failed. Check the logs.")
		return
	}
	c.send(ctx, chatID, fmt.Sprintf("User %d is banned.", target))
}

// Unban removes a user from the ban list.
func (c *Console) Unban(ctx context.Context, chatID int64, args string) {
	target, ok := c.parseTarget(ctx, chatID, args)
	if !ok {
		return
	}
	if err := c.store.Unban(ctx, target); err != nil {
		c.logger.Error("unban failed", slog.Int64("target", target), slog.Any("error", err))
		c.send(ctx, chatID, "Unban failed. Check the logs.")
		return
	}
	c.send(ctx, chatID, fmt.Sprintf("User %d is unbanned.", target))
}

func (c *Console) parseTarget(ctx context.Context, chatID int64, args string) (int64, bool) {
	target, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		c.send(ctx, chatID, "Usage: /ban <user_id> or /unban <user_id>")
		return 0, false
	}
	if target == c.adminID {
		c.send(ctx, chatID, "The admin account cannot be targeted.")
		return 0, false
	}
	return target, true
}

// isArmedLocked must be called with mu held.
func (c *Console) isArmedLocked() bool {
	return !c.armedAt.IsZero() && time.Since(c.armedAt) < armWindow
}

func (c *Console) send(ctx context.Context, chatID int64, text string) {
	if _, err := c.gw.SendText(ctx, chatID, text); err != nil {
		c.logger.Error("console message failed", slog.Any("error", err))
	}
}
