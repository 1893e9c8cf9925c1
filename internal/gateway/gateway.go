package gateway

import "context"

// EventType discriminates inbound events from the chat transport.
type EventType string

const (
	EventCommand  EventType = "command"
	EventText     EventType = "text"
	EventCallback EventType = "callback"
)

// Event is one inbound message, command, or callback selection.
type Event struct {
	Type      EventType
	UserID    int64
	ChatID    int64
	MessageID int
	// Payload holds the command name, the message text, or the callback
	// data depending on Type.
	Payload string
	// Args holds command arguments for EventCommand.
	Args      string
	FirstName string
}

// FileKind selects the upload method for an outbound file.
type FileKind string

const (
	FileVideo    FileKind = "video"
	FilePhoto    FileKind = "photo"
	FileDocument FileKind = "document"
)

// Choice is one inline-keyboard option; Data round-trips through the
// transport and comes back as a callback payload.
type Choice struct {
	Label string
	Data  string
}

// Gateway is the chat transport consumed by the pipeline and the admin
// console. Implementations must be safe for concurrent use.
type Gateway interface {
	// SendText sends a plain message and returns its message ID.
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	// EditText replaces the text of a previously sent message. Editing to
	// identical content is a no-op, not an error.
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	// SendChoices sends a message with one inline-keyboard button per choice.
	SendChoices(ctx context.Context, chatID int64, text string, choices []Choice) (int, error)
	// SendLink sends a message with a single URL button.
	SendLink(ctx context.Context, chatID int64, text, label, url string) (int, error)
	// SendFile uploads a local file with a caption.
	SendFile(ctx context.Context, chatID int64, path string, kind FileKind, caption string) error
	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// CopyMessage re-delivers an existing message to another chat. Used for
	// broadcast so media and formatting survive.
	CopyMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) error
	// Events exposes the inbound event stream. Closed when Run returns.
	Events() <-chan Event
	// Run starts the long-poll loop and blocks until ctx is done.
	Run(ctx context.Context) error
}
