package outbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatwatch/internal/message"
	logx "chatwatch/pkg/logx"
)

func nopLog() logx.Logger { return logx.Nop() }

type fakeSender struct {
	name string

	mu   sync.Mutex
	sent []Payload
	fail error
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(ctx context.Context, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestTrySendBurstThenRateLimited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Rate near zero: only the initial burst of 3 tokens is spendable.
	r := NewRouter(Config{Rate: 0.000001, Burst: 3}, nopLog(), nil)
	s := &fakeSender{name: "fake"}
	r.Register(s)

	p := Payload{Recipient: "+1 (555) 123-4567", Text: "hi"}
	for i := 0; i < 3; i++ {
		if _, err := r.TrySend(ctx, "", p); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, err := r.TrySend(ctx, "", p); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("4th send err = %v, want ErrRateLimited", err)
	}
	if s.count() != 3 {
		t.Fatalf("backend saw %d sends, want 3", s.count())
	}
}

func TestSendBlocksForToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// 100/s refill: the second send waits ~10ms instead of failing.
	r := NewRouter(Config{Rate: 100, Burst: 1}, nopLog(), nil)
	s := &fakeSender{name: "fake"}
	r.Register(s)

	p := Payload{Recipient: "user@example.com", Text: "hi"}
	if _, err := r.Send(ctx, "", p); err != nil {
		t.Fatalf("first send: %v", err)
	}
	start := time.Now()
	if _, err := r.Send(ctx, "", p); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("second send took %v, expected a short wait", elapsed)
	}
	if s.count() != 2 {
		t.Fatalf("backend saw %d sends, want 2", s.count())
	}
}

func TestSendWaitTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := NewRouter(Config{Rate: 0.000001, Burst: 1, WaitTimeout: 50 * time.Millisecond}, nopLog(), nil)
	s := &fakeSender{name: "fake"}
	r.Register(s)

	p := Payload{Recipient: "user@example.com", Text: "hi"}
	if _, err := r.Send(ctx, "", p); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := r.Send(ctx, "", p); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("blocked send err = %v, want ErrRateLimited", err)
	}
}

func TestBadRecipientSpendsNoToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := NewRouter(Config{Rate: 0.000001, Burst: 1}, nopLog(), nil)
	s := &fakeSender{name: "fake"}
	r.Register(s)

	if _, err := r.TrySend(ctx, "", Payload{Recipient: "not-a-recipient"}); !errors.Is(err, ErrBadRecipient) {
		t.Fatalf("err = %v, want ErrBadRecipient", err)
	}
	// The single token must still be available.
	if _, err := r.TrySend(ctx, "", Payload{Recipient: "user@example.com"}); err != nil {
		t.Fatalf("valid send after rejection: %v", err)
	}
}

func TestUnknownBackend(t *testing.T) {
	t.Parallel()

	r := NewRouter(Config{}, nopLog(), nil)
	r.Register(&fakeSender{name: "fake"})
	_, err := r.TrySend(context.Background(), "missing", Payload{Recipient: "user@example.com"})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("err = %v, want ErrUnknownBackend", err)
	}
}

type gateFunc func(message.Direction, string, string) bool

func (g gateFunc) Decide(d message.Direction, chatID, senderID string) bool {
	return g(d, chatID, senderID)
}

func TestGateBlocksBeforeTokenSpend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := NewRouter(Config{Rate: 0.000001, Burst: 1}, nopLog(), nil)
	s := &fakeSender{name: "fake"}
	r.Register(s)
	r.SetGate(gateFunc(func(d message.Direction, _, sender string) bool {
		return sender != "blocked@example.com"
	}))

	if _, err := r.TrySend(ctx, "", Payload{Recipient: "blocked@example.com"}); !errors.Is(err, ErrRecipientBlocked) {
		t.Fatalf("err = %v, want ErrRecipientBlocked", err)
	}
	if _, err := r.TrySend(ctx, "", Payload{Recipient: "ok@example.com"}); err != nil {
		t.Fatalf("allowed send: %v", err)
	}
	if s.count() != 1 {
		t.Fatalf("backend saw %d sends, want 1", s.count())
	}
}

func TestApplyReArmsLimiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := NewRouter(Config{Rate: 0.000001, Burst: 1}, nopLog(), nil)
	s := &fakeSender{name: "fake"}
	r.Register(s)

	p := Payload{Recipient: "user@example.com"}
	if _, err := r.TrySend(ctx, "", p); err != nil {
		t.Fatal(err)
	}
	if _, err := r.TrySend(ctx, "", p); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited before Apply", err)
	}

	r.Apply(Config{Rate: 1000, Burst: 10})
	if _, err := r.TrySend(ctx, "", p); err != nil {
		t.Fatalf("send after Apply: %v", err)
	}
}

func TestSendFailureWrapped(t *testing.T) {
	t.Parallel()

	r := NewRouter(Config{Rate: 1000, Burst: 10}, nopLog(), nil)
	boom := errors.New("transport down")
	r.Register(&fakeSender{name: "fake", fail: boom})

	_, err := r.Send(context.Background(), "", Payload{Recipient: "user@example.com"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped transport error", err)
	}
}

func TestValidateRecipient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in string
		ok bool
	}{
		{"+15551234567", true},
		{"15551234567", true},
		{"+1 (555) 123-4567", true},
		{"555.123.4567", true},
		{"user@example.com", true},
		{"first.last@sub.example.org", true},
		{"", false},
		{"12345", false},
		{"12345678901234567890", false},
		{"not a number", false},
		{"user@", false},
		{"@example.com", false},
		{"user@example", false},
		{"555-CALL-NOW", false},
	}
	for _, tc := range cases {
		err := ValidateRecipient(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("ValidateRecipient(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
		}
	}
}
