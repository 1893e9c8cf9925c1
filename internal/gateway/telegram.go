package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxMessageLength = 4096

// memberStatuses are the chat-member states that count as subscribed.
var memberStatuses = map[string]struct{}{
	"creator":       {},
	"administrator": {},
	"member":        {},
}

// Telegram implements Gateway and the membership check over the Bot API.
type Telegram struct {
	logger *slog.Logger
	bot    *tgbotapi.BotAPI
	events chan Event
}

// NewTelegram creates a gateway for the given bot token.
func NewTelegram(log *slog.Logger, token string) (*Telegram, error) {
	if log == nil {
		log = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{
		logger: log.With(slog.String("component", "gateway")),
		bot:    bot,
		events: make(chan Event, 64),
	}, nil
}

// Run registers the bot commands, starts long-polling, and forwards updates
// as events until ctx is done. The events channel is closed on return.
func (t *Telegram) Run(ctx context.Context) error {
	t.registerCommands()

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := t.bot.GetUpdatesChan(updateConfig)
	defer close(t.events)

	t.logger.Info("long-poll started", slog.String("bot", t.bot.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			// Drain so the library's polling goroutine can finish writing;
			// an abandoned long-poll session causes getUpdates conflicts on
			// the next start with the same token.
			for range updates {
			}
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				t.logger.Info("updates channel closed")
				return nil
			}
			event, ok := t.translate(update)
			if !ok {
				continue
			}
			select {
			case t.events <- event:
			case <-ctx.Done():
			}
		}
	}
}

// Events exposes the inbound event stream.
func (t *Telegram) Events() <-chan Event {
	return t.events
}

func (t *Telegram) registerCommands() {
	commands := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Start using the bot"},
		tgbotapi.BotCommand{Command: "admin", Description: "Owner control panel"},
	)
	if _, err := t.bot.Request(commands); err != nil {
		t.logger.Warn("register commands failed", slog.Any("error", err))
	}
}

func (t *Telegram) translate(update tgbotapi.Update) (Event, bool) {
	if update.CallbackQuery != nil {
		callback := update.CallbackQuery
		// Acknowledge immediately so the client stops its spinner.
		if _, err := t.bot.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
			t.logger.Warn("answer callback failed", slog.Any("error", err))
		}
		if callback.Message == nil || callback.Message.Chat == nil {
			return Event{}, false
		}
		return Event{
			Type:      EventCallback,
			UserID:    callback.From.ID,
			ChatID:    callback.Message.Chat.ID,
			MessageID: callback.Message.MessageID,
			Payload:   callback.Data,
			FirstName: callback.From.FirstName,
		}, true
	}
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return Event{}, false
	}
	event := Event{
		UserID:    msg.From.ID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		FirstName: msg.From.FirstName,
	}
	if msg.IsCommand() {
		event.Type = EventCommand
		event.Payload = msg.Command()
		event.Args = strings.TrimSpace(msg.CommandArguments())
		return event, true
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Event{}, false
	}
	event.Type = EventText
	event.Payload = text
	return event, true
}

// SendText sends a plain message and returns its message ID.
func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, truncateText(sanitizeText(text)))
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}
	return sent.MessageID, nil
}

// EditText replaces a message's text, treating "message is not modified" as
// success. Rate-limit errors (429) are returned to the caller.
func (t *Telegram) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, truncateText(sanitizeText(text)))
	if _, err := t.bot.Send(edit); err != nil {
		if isMessageNotModified(err) {
			return nil
		}
		return fmt.Errorf("edit text: %w", err)
	}
	return nil
}

// SendChoices sends a message with one inline button per choice, stacked
// vertically.
func (t *Telegram) SendChoices(ctx context.Context, chatID int64, text string, choices []Choice) (int, error) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, choice := range choices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(choice.Label, choice.Data),
		))
	}
	msg := tgbotapi.NewMessage(chatID, truncateText(sanitizeText(text)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send choices: %w", err)
	}
	return sent.MessageID, nil
}

// SendLink sends a message with a single URL button.
func (t *Telegram) SendLink(ctx context.Context, chatID int64, text, label, url string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, truncateText(sanitizeText(text)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(label, url)),
	)
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send link: %w", err)
	}
	return sent.MessageID, nil
}

// SendFile uploads a local file as video, photo, or document.
func (t *Telegram) SendFile(ctx context.Context, chatID int64, path string, kind FileKind, caption string) error {
	file := tgbotapi.FilePath(path)
	caption = truncateText(sanitizeText(caption))
	var err error
	switch kind {
	case FileVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = caption
		video.SupportsStreaming = true
		_, err = t.bot.Send(video)
	case FilePhoto:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		_, err = t.bot.Send(photo)
	case FileDocument:
		document := tgbotapi.NewDocument(chatID, file)
		document.Caption = caption
		_, err = t.bot.Send(document)
	default:
		return fmt.Errorf("unsupported file kind: %s", kind)
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// DeleteMessage removes a previously sent message.
func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// CopyMessage re-delivers an existing message to another chat.
func (t *Telegram) CopyMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) error {
	if _, err := t.bot.CopyMessage(tgbotapi.NewCopyMessage(toChatID, fromChatID, messageID)); err != nil {
		return fmt.Errorf("copy message: %w", err)
	}
	return nil
}

// IsMember reports whether the user belongs to the mandatory channel. The
// channel may be an @username or a numeric chat ID.
func (t *Telegram) IsMember(ctx context.Context, channelID string, userID int64) (bool, error) {
	cfg := tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{UserID: userID},
	}
	if strings.HasPrefix(channelID, "@") {
		cfg.SuperGroupUsername = channelID
	} else {
		chatID, err := strconv.ParseInt(channelID, 10, 64)
		if err != nil {
			return false, fmt.Errorf("channel must be @username or chat_id: %q", channelID)
		}
		cfg.ChatID = chatID
	}
	member, err := t.bot.GetChatMember(cfg)
	if err != nil {
		return false, fmt.Errorf("get chat member: %w", err)
	}
	return isSubscribedStatus(member.Status), nil
}

func isSubscribedStatus(status string) bool {
	_, ok := memberStatuses[status]
	return ok
}

func isMessageNotModified(err error) bool {
	if err == nil {
		return false
	}
	var apiErr tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 400 && strings.Contains(apiErr.Message, "message is not modified")
	}
	return false
}

// IsTooManyRequests reports whether the error is a Telegram 429 response.
func IsTooManyRequests(err error) bool {
	if err == nil {
		return false
	}
	var apiErr tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429
	}
	return false
}

// sanitizeText ensures text is valid UTF-8 for the Telegram API.
func sanitizeText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateText truncates text to maxMessageLength on a valid UTF-8 rune
// boundary, appending "..." when truncation occurs.
func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	limit := maxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}
