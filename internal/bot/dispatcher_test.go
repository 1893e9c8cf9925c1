package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clipfetch/clipfetch/internal/access"
	"github.com/clipfetch/clipfetch/internal/gateway"
)

type fakeGateway struct {
	mu     sync.Mutex
	texts  []string
	links  []string
	events chan gateway.Event
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: make(chan gateway.Event, 16)}
}

func (f *fakeGateway) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return len(f.texts), nil
}

func (f *fakeGateway) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	return nil
}

func (f *fakeGateway) SendChoices(ctx context.Context, chatID int64, text string, choices []gateway.Choice) (int, error) {
	return 1, nil
}

func (f *fakeGateway) SendLink(ctx context.Context, chatID int64, text, label, url string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, url)
	return 1, nil
}

func (f *fakeGateway) SendFile(ctx context.Context, chatID int64, path string, kind gateway.FileKind, caption string) error {
	return nil
}

func (f *fakeGateway) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return nil
}

func (f *fakeGateway) CopyMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) error {
	return nil
}

func (f *fakeGateway) Events() <-chan gateway.Event { return f.events }

func (f *fakeGateway) Run(ctx context.Context) error { return nil }

func (f *fakeGateway) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakePipeline struct {
	mu         sync.Mutex
	urls       []string
	selections []string
	started    chan struct{}
	release    chan struct{}
}

func (f *fakePipeline) HandleURL(ctx context.Context, userID, chatID int64, url string) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
}

func (f *fakePipeline) HandleSelection(ctx context.Context, userID, chatID int64, messageID int, formatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selections = append(f.selections, formatID)
}

type fakeConsole struct {
	shown     int
	banned    []string
	unbanned  []string
	cancelled int
	callbacks []string
	armed     bool
	broadcast int
}

func (f *fakeConsole) Show(ctx context.Context, chatID int64) { f.shown++ }

func (f *fakeConsole) HandleCallback(ctx context.Context, chatID int64, data string) {
	f.callbacks = append(f.callbacks, data)
}

func (f *fakeConsole) Ban(ctx context.Context, chatID int64, args string) {
	f.banned = append(f.banned, args)
}

func (f *fakeConsole) Unban(ctx context.Context, chatID int64, args string) {
	f.unbanned = append(f.unbanned, args)
}

func (f *fakeConsole) CancelBroadcast(ctx context.Context, chatID int64) { f.cancelled++ }

func (f *fakeConsole) MaybeBroadcast(ctx context.Context, ev gateway.Event) bool {
	if f.armed {
		f.broadcast++
		f.armed = false
		return true
	}
	return false
}

type fakeGate struct {
	adminID  int64
	decision access.Decision
}

func (f *fakeGate) Admit(ctx context.Context, userID int64) (access.Decision, error) {
	return f.decision, nil
}

func (f *fakeGate) IsAdmin(userID int64) bool { return userID == f.adminID }

func (f *fakeGate) Channel() string { return "@clips" }

type fakeRegistrar struct {
	mu    sync.Mutex
	users []int64
}

func (f *fakeRegistrar) AddKnownUser(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return nil
}

func newDispatcherFixture(gw *fakeGateway, pipe *fakePipeline, console *fakeConsole, gate *fakeGate) (*Dispatcher, *fakeRegistrar) {
	users := &fakeRegistrar{}
	return NewDispatcher(nil, gw, pipe, console, gate, users), users
}

func TestURLTextRoutesToPipeline(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	pipe := &fakePipeline{}
	d, users := newDispatcherFixture(gw, pipe, &fakeConsole{}, &fakeGate{adminID: 100})

	d.handle(context.Background(), gateway.Event{
		Type: gateway.EventText, UserID: 1, ChatID: 1, Payload: "https://example.com/v",
	})

	if len(pipe.urls) != 1 || pipe.urls[0] != "https://example.com/v" {
		t.Fatalf("unexpected pipeline calls: %v", pipe.urls)
	}
	if len(users.users) != 1 {
		t.Fatalf("url sender must be registered: %v", users.users)
	}
}

func TestNonURLTextGetsHint(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	pipe := &fakePipeline{}
	d, _ := newDispatcherFixture(gw, pipe, &fakeConsole{}, &fakeGate{adminID: 100})

	d.handle(context.Background(), gateway.Event{
		Type: gateway.EventText, UserID: 1, ChatID: 1, Payload: "hello",
	})

	if len(pipe.urls) != 0 {
		t.Fatalf("plain text must not reach the pipeline: %v", pipe.urls)
	}
	texts := gw.sentTexts()
	if len(texts) != 1 || texts[0] != msgSendALink {
		t.Fatalf("expected link hint, got %v", texts)
	}
}

func TestSelectionCallbackRoutesToPipeline(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	pipe := &fakePipeline{}
	d, _ := newDispatcherFixture(gw, pipe, &fakeConsole{}, &fakeGate{adminID: 100})

	d.handle(context.Background(), gateway.Event{
		Type: gateway.EventCallback, UserID: 1, ChatID: 1, MessageID: 5, Payload: "f480",
	})

	if len(pipe.selections) != 1 || pipe.selections[0] != "f480" {
		t.Fatalf("unexpected selections: %v", pipe.selections)
	}
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	console := &fakeConsole{}
	d, _ := newDispatcherFixture(gw, &fakePipeline{}, console, &fakeGate{adminID: 100})
	ctx := context.Background()

	for _, cmd := range []string{"admin", "ban", "unban", "cancel"} {
		d.handle(ctx, gateway.Event{Type: gateway.EventCommand, UserID: 1, ChatID: 1, Payload: cmd})
	}
	if console.shown != 0 || len(console.banned) != 0 || len(console.unbanned) != 0 || console.cancelled != 0 {
		t.Fatalf("non-admin must not reach the console: %+v", console)
	}

	d.handle(ctx, gateway.Event{Type: gateway.EventCommand, UserID: 100, ChatID: 100, Payload: "admin"})
	d.handle(ctx, gateway.Event{Type: gateway.EventCommand, UserID: 100, ChatID: 100, Payload: "ban", Args: "42"})
	if console.shown != 1 || len(console.banned) != 1 {
		t.Fatalf("admin commands must reach the console: %+v", console)
	}
}

func TestAdminCallbackPrefixRouting(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	console := &fakeConsole{}
	pipe := &fakePipeline{}
	d, _ := newDispatcherFixture(gw, pipe, console, &fakeGate{adminID: 100})
	ctx := context.Background()

	d.handle(ctx, gateway.Event{Type: gateway.EventCallback, UserID: 100, ChatID: 100, Payload: "admin:stats"})
	if len(console.callbacks) != 1 {
		t.Fatalf("expected console callback, got %+v", console)
	}

	d.handle(ctx, gateway.Event{Type: gateway.EventCallback, UserID: 1, ChatID: 1, Payload: "admin:stats"})
	if len(console.callbacks) != 1 {
		t.Fatal("non-admin must not reach console callbacks")
	}
	if len(pipe.selections) != 0 {
		t.Fatalf("console data must not be treated as a format pick: %v", pipe.selections)
	}
}

func TestArmedBroadcastConsumesAdminText(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	console := &fakeConsole{armed: true}
	pipe := &fakePipeline{}
	d, _ := newDispatcherFixture(gw, pipe, console, &fakeGate{adminID: 100})

	d.handle(context.Background(), gateway.Event{
		Type: gateway.EventText, UserID: 100, ChatID: 100, Payload: "https://example.com/announcement",
	})

	if console.broadcast != 1 {
		t.Fatal("armed broadcast must consume the admin message")
	}
	if len(pipe.urls) != 0 {
		t.Fatalf("consumed message must not reach the pipeline: %v", pipe.urls)
	}
}

func TestStartRegistersAndPromptsJoin(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	d, users := newDispatcherFixture(gw, &fakePipeline{}, &fakeConsole{}, &fakeGate{adminID: 100, decision: access.DenySubscription})

	d.handle(context.Background(), gateway.Event{
		Type: gateway.EventCommand, UserID: 1, ChatID: 1, Payload: "start", FirstName: "Alice",
	})

	if len(users.users) != 1 || users.users[0] != 1 {
		t.Fatalf("start must register the user: %v", users.users)
	}
	if len(gw.links) != 1 || gw.links[0] != "https://t.me/clips" {
		t.Fatalf("expected join prompt, got %v", gw.links)
	}
}

func TestFullQueueAnswersBusy(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	pipe := &fakePipeline{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	d, _ := newDispatcherFixture(gw, pipe, &fakeConsole{}, &fakeGate{adminID: 100})
	d.queueSize = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := gateway.Event{Type: gateway.EventText, UserID: 1, ChatID: 1, Payload: "https://example.com/a"}
	d.enqueue(ctx, ev)

	select {
	case <-pipe.started:
	case <-time.After(time.Second):
		t.Fatal("worker never started")
	}

	d.enqueue(ctx, ev) // fills the buffer
	d.enqueue(ctx, ev) // overflows

	texts := gw.sentTexts()
	if len(texts) != 1 || texts[0] != msgBusy {
		t.Fatalf("expected busy notice, got %v", texts)
	}

	close(pipe.release)
	cancel()
	d.wg.Wait()
}
