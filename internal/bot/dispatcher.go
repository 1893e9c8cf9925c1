// Package bot routes gateway events to the download pipeline and the admin
// console. Events for one user are processed in arrival order on a per-user
// queue, so a second link sent during a download waits behind it instead of
// racing it.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/clipfetch/clipfetch/internal/access"
	"github.com/clipfetch/clipfetch/internal/admin"
	"github.com/clipfetch/clipfetch/internal/gateway"
	"github.com/clipfetch/clipfetch/internal/pipeline"
)

const (
	defaultQueueSize = 8

	msgBusy       = "Still working on your previous request. Please wait."
	msgGreeting   = "Hi %s! Send me a media link and I will fetch it for you."
	msgSendALink  = "Send me a media link starting with http:// or https://."
	msgNotAllowed = "This command is not available."
	msgJoinFirst  = "To use this bot, join our channel first."
)

// Pipeline is the request-processing slice the dispatcher drives.
type Pipeline interface {
	HandleURL(ctx context.Context, userID, chatID int64, url string)
	HandleSelection(ctx context.Context, userID, chatID int64, messageID int, formatID string)
}

// Console is the admin-console slice the dispatcher drives.
type Console interface {
	Show(ctx context.Context, chatID int64)
	HandleCallback(ctx context.Context, chatID int64, data string)
	Ban(ctx context.Context, chatID int64, args string)
	Unban(ctx context.Context, chatID int64, args string)
	CancelBroadcast(ctx context.Context, chatID int64)
	MaybeBroadcast(ctx context.Context, ev gateway.Event) bool
}

// Gate is the admission slice the dispatcher needs for /start and routing.
type Gate interface {
	Admit(ctx context.Context, userID int64) (access.Decision, error)
	IsAdmin(userID int64) bool
	Channel() string
}

// Registrar records users on first contact.
type Registrar interface {
	AddKnownUser(ctx context.Context, userID int64) error
}

// Dispatcher consumes the gateway event stream and fans events out to
// per-user workers.
type Dispatcher struct {
	logger    *slog.Logger
	gw        gateway.Gateway
	pipe      Pipeline
	console   Console
	gate      Gate
	users     Registrar
	queueSize int

	mu     sync.Mutex
	queues map[int64]chan gateway.Event
	wg     sync.WaitGroup
}

func NewDispatcher(log *slog.Logger, gw gateway.Gateway, pipe Pipeline, console Console, gate Gate, users Registrar) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		logger:    log.With(slog.String("component", "bot")),
		gw:        gw,
		pipe:      pipe,
		console:   console,
		gate:      gate,
		users:     users,
		queueSize: defaultQueueSize,
		queues:    make(map[int64]chan gateway.Event),
	}
}

// Run consumes events until the gateway closes its stream, then waits for
// in-flight work to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return ctx.Err()
		case ev, ok := <-d.gw.Events():
			if !ok {
				d.wg.Wait()
				return nil
			}
			d.enqueue(ctx, ev)
		}
	}
}

// enqueue hands the event to the user's worker, creating it on first
// contact. A full queue answers immediately instead of blocking the
// dispatch loop.
func (d *Dispatcher) enqueue(ctx context.Context, ev gateway.Event) {
	d.mu.Lock()
	queue, ok := d.queues[ev.UserID]
	if !ok {
		queue = make(chan gateway.Event, d.queueSize)
		d.queues[ev.UserID] = queue
		d.wg.Add(1)
		go d.worker(ctx, queue)
	}
	d.mu.Unlock()

	select {
	case queue <- ev:
	default:
		d.logger.Warn("user queue full", slog.Int64("user_id", ev.UserID))
		if _, err := d.gw.SendText(ctx, ev.ChatID, msgBusy); err != nil {
			d.logger.Warn("busy notice failed", slog.Any("error", err))
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, queue <-chan gateway.Event) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-queue:
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev gateway.Event) {
	switch ev.Type {
	case gateway.EventCommand:
		d.handleCommand(ctx, ev)
	case gateway.EventCallback:
		d.handleCallback(ctx, ev)
	case gateway.EventText:
		d.handleText(ctx, ev)
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, ev gateway.Event) {
	isAdmin := d.gate.IsAdmin(ev.UserID)
	switch ev.Payload {
	case "start":
		d.handleStart(ctx, ev)
	case "admin":
		if !isAdmin {
			d.refuse(ctx, ev)
			return
		}
		d.console.Show(ctx, ev.ChatID)
	case "ban":
		if !isAdmin {
			d.refuse(ctx, ev)
			return
		}
		d.console.Ban(ctx, ev.ChatID, ev.Args)
	case "unban":
		if !isAdmin {
			d.refuse(ctx, ev)
			return
		}
		d.console.Unban(ctx, ev.ChatID, ev.Args)
	case "cancel":
		if !isAdmin {
			d.refuse(ctx, ev)
			return
		}
		d.console.CancelBroadcast(ctx, ev.ChatID)
	default:
		if _, err := d.gw.SendText(ctx, ev.ChatID, msgSendALink); err != nil {
			d.logger.Warn("reply failed", slog.Any("error", err))
		}
	}
}

// handleStart registers the user, greets them, and points non-members at
// the mandatory channel.
func (d *Dispatcher) handleStart(ctx context.Context, ev gateway.Event) {
	if err := d.users.AddKnownUser(ctx, ev.UserID); err != nil {
		d.logger.Warn("user registration failed", slog.Int64("user_id", ev.UserID), slog.Any("error", err))
	}

	name := ev.FirstName
	if name == "" {
		name = "there"
	}
	if _, err := d.gw.SendText(ctx, ev.ChatID, fmt.Sprintf(msgGreeting, name)); err != nil {
		d.logger.Warn("greeting failed", slog.Any("error", err))
	}

	decision, err := d.gate.Admit(ctx, ev.UserID)
	if err != nil {
		d.logger.Warn("start admission check failed", slog.Any("error", err))
		return
	}
	if decision == access.DenySubscription {
		channel := d.gate.Channel()
		if url := pipeline.ChannelURL(channel); url != "" {
			if _, err := d.gw.SendLink(ctx, ev.ChatID, msgJoinFirst, "Join channel", url); err != nil {
				d.logger.Warn("join prompt failed", slog.Any("error", err))
			}
			return
		}
		if _, err := d.gw.SendText(ctx, ev.ChatID, msgJoinFirst); err != nil {
			d.logger.Warn("join prompt failed", slog.Any("error", err))
		}
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, ev gateway.Event) {
	if strings.HasPrefix(ev.Payload, admin.CallbackPrefix) {
		if !d.gate.IsAdmin(ev.UserID) {
			d.refuse(ctx, ev)
			return
		}
		d.console.HandleCallback(ctx, ev.ChatID, ev.Payload)
		return
	}
	d.pipe.HandleSelection(ctx, ev.UserID, ev.ChatID, ev.MessageID, ev.Payload)
}

func (d *Dispatcher) handleText(ctx context.Context, ev gateway.Event) {
	if d.gate.IsAdmin(ev.UserID) && d.console.MaybeBroadcast(ctx, ev) {
		return
	}
	if !looksLikeURL(ev.Payload) {
		if _, err := d.gw.SendText(ctx, ev.ChatID, msgSendALink); err != nil {
			d.logger.Warn("reply failed", slog.Any("error", err))
		}
		return
	}
	if err := d.users.AddKnownUser(ctx, ev.UserID); err != nil {
		d.logger.Warn("user registration failed", slog.Int64("user_id", ev.UserID), slog.Any("error", err))
	}
	d.pipe.HandleURL(ctx, ev.UserID, ev.ChatID, ev.Payload)
}

func (d *Dispatcher) refuse(ctx context.Context, ev gateway.Event) {
	if _, err := d.gw.SendText(ctx, ev.ChatID, msgNotAllowed); err != nil {
		d.logger.Warn("refusal failed", slog.Any("error", err))
	}
}

func looksLikeURL(text string) bool {
	return strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://")
}
