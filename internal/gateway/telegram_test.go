package gateway

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestIsSubscribedStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   bool
	}{
		{"creator", true},
		{"administrator", true},
		{"member", true},
		{"restricted", false},
		{"left", false},
		{"kicked", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isSubscribedStatus(tt.status); got != tt.want {
			t.Fatalf("isSubscribedStatus(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestIsMessageNotModified(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", fmt.Errorf("network error"), false},
		{"other 400", tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, false},
		{"not modified", tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}, true},
		{"same text but 500", tgbotapi.Error{Code: 500, Message: "message is not modified"}, false},
		{"wrapped", fmt.Errorf("edit: %w", tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isMessageNotModified(tt.err); got != tt.want {
				t.Fatalf("isMessageNotModified() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTooManyRequests(t *testing.T) {
	t.Parallel()

	if IsTooManyRequests(nil) {
		t.Fatal("nil is not a 429")
	}
	if !IsTooManyRequests(tgbotapi.Error{Code: 429, Message: "Too Many Requests"}) {
		t.Fatal("expected 429 detection")
	}
	if IsTooManyRequests(tgbotapi.Error{Code: 400, Message: "Bad Request"}) {
		t.Fatal("400 is not a 429")
	}
}

func TestTranslateMessage(t *testing.T) {
	t.Parallel()

	gw := &Telegram{events: make(chan Event, 1)}

	update := tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 10,
			From:      &tgbotapi.User{ID: 123, FirstName: "Alice"},
			Chat:      &tgbotapi.Chat{ID: 123},
			Text:      "  https://example.com/v  ",
		},
	}
	event, ok := gw.translate(update)
	if !ok {
		t.Fatal("expected event")
	}
	if event.Type != EventText || event.Payload != "https://example.com/v" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.UserID != 123 || event.ChatID != 123 || event.MessageID != 10 {
		t.Fatalf("unexpected identifiers: %+v", event)
	}
}

func TestTranslateCommand(t *testing.T) {
	t.Parallel()

	gw := &Telegram{events: make(chan Event, 1)}

	update := tgbotapi.Update{
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 1},
			Chat: &tgbotapi.Chat{ID: 1},
			Text: "/ban 42",
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: 4},
			},
		},
	}
	event, ok := gw.translate(update)
	if !ok {
		t.Fatal("expected event")
	}
	if event.Type != EventCommand || event.Payload != "ban" || event.Args != "42" {
		t.Fatalf("unexpected command event: %+v", event)
	}
}

func TestTranslateIgnoresEmpty(t *testing.T) {
	t.Parallel()

	gw := &Telegram{events: make(chan Event, 1)}

	if _, ok := gw.translate(tgbotapi.Update{}); ok {
		t.Fatal("empty update must be ignored")
	}
	update := tgbotapi.Update{
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 1},
			Chat: &tgbotapi.Chat{ID: 1},
			Text: "   ",
		},
	}
	if _, ok := gw.translate(update); ok {
		t.Fatal("blank text must be ignored")
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	short := "hello"
	if got := truncateText(short); got != short {
		t.Fatalf("short text should not be truncated: %q", got)
	}

	exact := strings.Repeat("a", maxMessageLength)
	if got := truncateText(exact); got != exact {
		t.Fatalf("exact-limit text should not be truncated, len=%d", len(got))
	}

	over := strings.Repeat("a", maxMessageLength+50)
	got := truncateText(over)
	if len(got) > maxMessageLength {
		t.Fatalf("truncated text should be <= %d bytes: got %d", maxMessageLength, len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated text should end with '...'")
	}

	multi := strings.Repeat("你", maxMessageLength)
	got = truncateText(multi)
	if len(got) > maxMessageLength {
		t.Fatalf("truncated multi-byte text should be <= %d bytes: got %d", maxMessageLength, len(got))
	}
	if !utf8.ValidString(strings.TrimSuffix(got, "...")) {
		t.Fatal("truncation must not split runes")
	}
}

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	valid := "hello world"
	if got := sanitizeText(valid); got != valid {
		t.Fatalf("valid text should not change: %q", got)
	}
	got := sanitizeText("hello\xff\xfeworld")
	if !utf8.ValidString(got) {
		t.Fatalf("sanitized text should be valid UTF-8: %q", got)
	}
	if got != "helloworld" {
		t.Fatalf("expected invalid bytes stripped: %q", got)
	}
}
