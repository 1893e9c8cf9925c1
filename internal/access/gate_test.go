package access

import (
	"context"
	"errors"
	"testing"
)

type fakeBans struct {
	banned map[int64]bool
	err    error
}

func (f *fakeBans) IsBanned(ctx context.Context, userID int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.banned[userID], nil
}

type fakeOracle struct {
	members map[int64]bool
	err     error
	calls   int
}

func (f *fakeOracle) IsMember(ctx context.Context, channel string, userID int64) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.members[userID], nil
}

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	f.sent = append(f.sent, text)
	return len(f.sent), nil
}

const adminID = 100

func newTestGate(bans *fakeBans, oracle *fakeOracle, notifier *fakeNotifier) *Gate {
	return NewGate(nil, bans, oracle, notifier, "@clips", adminID)
}

func TestAdmitSubscribedUser(t *testing.T) {
	t.Parallel()

	gate := newTestGate(
		&fakeBans{},
		&fakeOracle{members: map[int64]bool{1: true}},
		&fakeNotifier{},
	)
	decision, err := gate.Admit(context.Background(), 1)
	if err != nil || decision != Allow {
		t.Fatalf("Admit = %v, %v", decision, err)
	}
}

func TestDenyNonMember(t *testing.T) {
	t.Parallel()

	gate := newTestGate(&fakeBans{}, &fakeOracle{}, &fakeNotifier{})
	decision, err := gate.Admit(context.Background(), 1)
	if err != nil || decision != DenySubscription {
		t.Fatalf("Admit = %v, %v", decision, err)
	}
}

func TestBanTakesPrecedenceOverSubscription(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{members: map[int64]bool{1: true}}
	gate := newTestGate(&fakeBans{banned: map[int64]bool{1: true}}, oracle, &fakeNotifier{})

	decision, err := gate.Admit(context.Background(), 1)
	if err != nil || decision != DenyBanned {
		t.Fatalf("Admit = %v, %v", decision, err)
	}
	if oracle.calls != 0 {
		t.Fatalf("oracle must not be consulted for banned users: %d calls", oracle.calls)
	}
}

func TestAdminBypassesAllChecks(t *testing.T) {
	t.Parallel()

	bans := &fakeBans{banned: map[int64]bool{adminID: true}}
	oracle := &fakeOracle{}
	gate := newTestGate(bans, oracle, &fakeNotifier{})

	decision, err := gate.Admit(context.Background(), adminID)
	if err != nil || decision != Allow {
		t.Fatalf("Admit = %v, %v", decision, err)
	}
	if oracle.calls != 0 {
		t.Fatalf("admin must not hit the oracle: %d calls", oracle.calls)
	}
}

func TestOracleFailureFailsOpen(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	oracle := &fakeOracle{err: errors.New("chat not found")}
	gate := newTestGate(&fakeBans{}, oracle, notifier)

	for i := 0; i < 3; i++ {
		decision, err := gate.Admit(context.Background(), 5)
		if err != nil || decision != Allow {
			t.Fatalf("Admit = %v, %v", decision, err)
		}
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("admin must be warned exactly once, got %d", len(notifier.sent))
	}
}

func TestBanCheckFailureReturnsError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("pool closed")
	gate := newTestGate(&fakeBans{err: wantErr}, &fakeOracle{}, &fakeNotifier{})

	if _, err := gate.Admit(context.Background(), 1); !errors.Is(err, wantErr) {
		t.Fatalf("expected ban-check error, got %v", err)
	}
}
