// Package pipeline drives a request from inbound URL to delivered file.
// A request moves through gating, metadata resolution, rendition selection,
// download, and upload; failure at any point ends the request with a single
// user-facing message, and the user's session is cleared on every terminal
// outcome.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/clipfetch/clipfetch/internal/access"
	"github.com/clipfetch/clipfetch/internal/gateway"
	"github.com/clipfetch/clipfetch/internal/renditions"
	"github.com/clipfetch/clipfetch/internal/resolver"
	"github.com/clipfetch/clipfetch/internal/session"
)

// User-facing terminal messages.
const (
	msgBanned         = "You are banned from using this bot."
	msgJoinChannel    = "To use this bot, join our channel first, then send the link again."
	msgResolving      = "Fetching link information..."
	msgNoMedia        = "No downloadable media found at that link."
	msgAuthRequired   = "That link requires signing in, so the bot cannot access it."
	msgFetchFailed    = "Failed to fetch the link. Try again later."
	msgUploadFailed   = "Downloaded, but the upload to Telegram failed. Try again later."
	msgSessionExpired = "That selection has expired. Send the link again."
	msgInternalError  = "Something went wrong. Try again later."
	msgChooseQuality  = "Choose a quality:"
)

// Messenger is the outbound slice of the chat transport the pipeline needs.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	SendChoices(ctx context.Context, chatID int64, text string, choices []gateway.Choice) (int, error)
	SendLink(ctx context.Context, chatID int64, text, label, url string) (int, error)
	SendFile(ctx context.Context, chatID int64, path string, kind gateway.FileKind, caption string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Admitter decides whether a user may start a request.
type Admitter interface {
	Admit(ctx context.Context, userID int64) (access.Decision, error)
	Channel() string
}

// LinkRecorder persists requested URLs for the admin history.
type LinkRecorder interface {
	AddLink(ctx context.Context, userID int64, url string) error
}

// Coordinator owns the per-request flow. Events for one user arrive
// serialized, so the coordinator never races with itself on a session.
type Coordinator struct {
	logger       *slog.Logger
	gw           Messenger
	gate         Admitter
	res          resolver.Resolver
	sessions     *session.Store
	links        LinkRecorder
	orchestrator *Orchestrator
	resolveLimit time.Duration
}

func NewCoordinator(log *slog.Logger, gw Messenger, gate Admitter, res resolver.Resolver, sessions *session.Store, links LinkRecorder, orch *Orchestrator, resolveLimit time.Duration) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if resolveLimit <= 0 {
		resolveLimit = 2 * time.Minute
	}
	return &Coordinator{
		logger:       log.With(slog.String("component", "pipeline")),
		gw:           gw,
		gate:         gate,
		res:          res,
		sessions:     sessions,
		links:        links,
		orchestrator: orch,
		resolveLimit: resolveLimit,
	}
}

// HandleURL processes a link sent by an admitted-or-not user: gate, resolve,
// and either present renditions or deliver directly for non-video media.
func (c *Coordinator) HandleURL(ctx context.Context, userID, chatID int64, url string) {
	decision, err := c.gate.Admit(ctx, userID)
	if err != nil {
		c.logger.Error("admission failed", slog.Int64("user_id", userID), slog.Any("error", err))
		c.sendTerminal(ctx, chatID, msgInternalError)
		return
	}
	switch decision {
	case access.DenyBanned:
		c.sendTerminal(ctx, chatID, msgBanned)
		return
	case access.DenySubscription:
		c.sendJoinPrompt(ctx, chatID)
		return
	}

	if err := c.links.AddLink(ctx, userID, url); err != nil {
		c.logger.Warn("link history write failed", slog.Any("error", err))
	}

	statusID, err := c.gw.SendText(ctx, chatID, msgResolving)
	if err != nil {
		c.logger.Error("status message failed", slog.Any("error", err))
		return
	}

	resolveCtx, cancel := context.WithTimeout(ctx, c.resolveLimit)
	meta, err := c.res.ResolveMetadata(resolveCtx, url)
	cancel()
	if err != nil {
		c.sessions.Clear(userID)
		c.editTerminal(ctx, chatID, statusID, resolutionMessage(err))
		return
	}

	if !meta.IsVideo() {
		// Images and similar media have a single form; skip the prompt.
		if err := c.gw.DeleteMessage(ctx, chatID, statusID); err != nil {
			c.logger.Warn("delete status failed", slog.Any("error", err))
		}
		c.sessions.Put(session.Session{
			UserID: userID, ChatID: chatID, SourceURL: url, Metadata: meta,
		})
		c.orchestrator.Run(ctx, Request{
			UserID: userID,
			ChatID: chatID,
			URL:    url,
			Title:  meta.Title,
			Kind:   gateway.FilePhoto,
		})
		return
	}

	options := renditions.Select(meta.Formats)
	if len(options) == 0 {
		c.sessions.Clear(userID)
		c.editTerminal(ctx, chatID, statusID, msgNoMedia)
		return
	}

	if err := c.gw.DeleteMessage(ctx, chatID, statusID); err != nil {
		c.logger.Warn("delete status failed", slog.Any("error", err))
	}

	choices := make([]gateway.Choice, 0, len(options))
	for _, r := range options {
		choices = append(choices, gateway.Choice{Label: r.Label, Data: r.FormatID})
	}
	prompt := msgChooseQuality
	if meta.Title != "" {
		prompt = meta.Title + "\n\n" + msgChooseQuality
	}
	if _, err := c.gw.SendChoices(ctx, chatID, prompt, choices); err != nil {
		c.logger.Error("rendition prompt failed", slog.Any("error", err))
		c.sendTerminal(ctx, chatID, msgInternalError)
		return
	}

	c.sessions.Put(session.Session{
		UserID:     userID,
		ChatID:     chatID,
		SourceURL:  url,
		Metadata:   meta,
		Renditions: options,
	})
}

// HandleSelection processes an inline-keyboard pick. The callback data is
// the chosen format ID; a missing or expired session ends the request with
// a resend prompt.
func (c *Coordinator) HandleSelection(ctx context.Context, userID, chatID int64, messageID int, formatID string) {
	sess, err := c.sessions.Get(userID)
	if err != nil {
		if !errors.Is(err, session.ErrNoActiveSession) {
			c.logger.Error("session lookup failed", slog.Any("error", err))
		}
		c.sendTerminal(ctx, chatID, msgSessionExpired)
		return
	}

	var chosen *renditions.Rendition
	for i := range sess.Renditions {
		if sess.Renditions[i].FormatID == formatID {
			chosen = &sess.Renditions[i]
			break
		}
	}
	if chosen == nil {
		c.sessions.Clear(userID)
		c.sendTerminal(ctx, chatID, msgSessionExpired)
		return
	}

	if err := c.gw.DeleteMessage(ctx, chatID, messageID); err != nil {
		c.logger.Warn("delete prompt failed", slog.Any("error", err))
	}

	c.orchestrator.Run(ctx, Request{
		UserID:   userID,
		ChatID:   chatID,
		URL:      sess.SourceURL,
		FormatID: chosen.FormatID,
		Title:    sess.Metadata.Title,
		Kind:     gateway.FileVideo,
	})
}

func (c *Coordinator) sendTerminal(ctx context.Context, chatID int64, text string) {
	if _, err := c.gw.SendText(ctx, chatID, text); err != nil {
		c.logger.Error("terminal message failed", slog.Any("error", err))
	}
}

func (c *Coordinator) editTerminal(ctx context.Context, chatID int64, messageID int, text string) {
	if err := c.gw.EditText(ctx, chatID, messageID, text); err != nil {
		c.logger.Error("terminal edit failed", slog.Any("error", err))
	}
}

func (c *Coordinator) sendJoinPrompt(ctx context.Context, chatID int64) {
	channel := c.gate.Channel()
	if url := ChannelURL(channel); url != "" {
		if _, err := c.gw.SendLink(ctx, chatID, msgJoinChannel, "Join channel", url); err == nil {
			return
		} else {
			c.logger.Warn("join prompt failed", slog.Any("error", err))
		}
	}
	c.sendTerminal(ctx, chatID, msgJoinChannel)
}

// ChannelURL turns an @username channel reference into a t.me link. Numeric
// chat IDs have no public link.
func ChannelURL(channel string) string {
	if strings.HasPrefix(channel, "@") && len(channel) > 1 {
		return "https://t.me/" + channel[1:]
	}
	return ""
}

// resolutionMessage maps a resolver failure to its user-facing text.
func resolutionMessage(err error) string {
	err = resolver.ClassifyResolution(err)
	switch {
	case errors.Is(err, resolver.ErrNoMedia):
		return msgNoMedia
	case errors.Is(err, resolver.ErrAuthRequired):
		return msgAuthRequired
	default:
		return msgFetchFailed
	}
}
