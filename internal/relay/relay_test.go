package relay

import (
	"context"
	"sync"
	"testing"

	"chatwatch/internal/message"
	"chatwatch/internal/outbound"
	logx "chatwatch/pkg/logx"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []outbound.Payload
	err  error
}

func (f *fakeDispatcher) TrySend(ctx context.Context, backend string, p outbound.Payload) (outbound.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return outbound.Ack{}, f.err
	}
	f.sent = append(f.sent, p)
	return outbound.Ack{Backend: backend, Recipient: p.Recipient}, nil
}

func (f *fakeDispatcher) got() []outbound.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outbound.Payload(nil), f.sent...)
}

func TestHandleForwardsInbound(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	r := New(Config{Backend: "telegram", Recipient: "12345"}, d, logx.Nop())

	r.Handle(message.Message{
		ID: 1, Kind: message.KindText, Body: "hello",
		SenderID: "alice", ChatName: "Family",
	})
	sent := d.got()
	if len(sent) != 1 {
		t.Fatalf("sent %d payloads, want 1", len(sent))
	}
	if sent[0].Recipient != "12345" {
		t.Errorf("recipient = %q", sent[0].Recipient)
	}
	if sent[0].Text != "[Family] alice: hello" {
		t.Errorf("text = %q", sent[0].Text)
	}
}

func TestHandleSkipsOutboundByDefault(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	r := New(Config{Backend: "telegram", Recipient: "12345"}, d, logx.Nop())

	r.Handle(message.Message{
		ID: 1, Kind: message.KindText, Body: "hi",
		Direction: message.DirectionOutbound, SenderID: "",
	})
	if len(d.got()) != 0 {
		t.Fatal("outbound message relayed without IncludeOutbound")
	}
}

func TestHandleIncludeOutbound(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	r := New(Config{Backend: "telegram", Recipient: "12345", IncludeOutbound: true}, d, logx.Nop())

	r.Handle(message.Message{
		ID: 1, Kind: message.KindText, Body: "hi",
		Direction: message.DirectionOutbound, ChatID: "chatA",
	})
	sent := d.got()
	if len(sent) != 1 {
		t.Fatalf("sent %d payloads, want 1", len(sent))
	}
	if sent[0].Text != "[chatA] me: hi" {
		t.Errorf("text = %q", sent[0].Text)
	}
}

func TestHandleRateLimitedDropsQuietly(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{err: outbound.ErrRateLimited}
	r := New(Config{Backend: "telegram", Recipient: "12345"}, d, logx.Nop())

	// Must not panic or block.
	r.Handle(message.Message{ID: 1, Kind: message.KindText, Body: "hi", SenderID: "a"})
}

func TestHandleAttachesSingleFile(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	r := New(Config{Backend: "telegram", Recipient: "12345"}, d, logx.Nop())

	r.Handle(message.Message{
		ID: 1, Kind: message.KindAttachment, SenderID: "alice",
		Attachments: []message.Attachment{{Ref: "g1", Path: "/tmp/a.png"}},
	})
	sent := d.got()
	if len(sent) != 1 {
		t.Fatalf("sent %d payloads, want 1", len(sent))
	}
	if sent[0].FilePath != "/tmp/a.png" {
		t.Errorf("file path = %q", sent[0].FilePath)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		m    message.Message
		want string
	}{
		{
			name: "text with chat name",
			m: message.Message{
				Kind: message.KindText, Body: "yo",
				SenderID: "bob", ChatName: "Work",
			},
			want: "[Work] bob: yo",
		},
		{
			name: "direct text falls back to chat id",
			m: message.Message{
				Kind: message.KindText, Body: "yo",
				SenderID: "bob", ChatID: "bob",
			},
			want: "bob: yo",
		},
		{
			name: "sticker",
			m:    message.Message{Kind: message.KindSticker, SenderID: "bob"},
			want: "bob: (sticker)",
		},
		{
			name: "reaction",
			m: message.Message{
				Kind: message.KindReaction, SenderID: "bob",
				Reaction: message.Reaction{Emoji: "❤️"},
			},
			want: "bob: reacted ❤️",
		},
		{
			name: "reaction removed",
			m: message.Message{
				Kind: message.KindReaction, SenderID: "bob",
				Reaction: message.Reaction{Emoji: "❤️", Removed: true},
			},
			want: "bob: removed reaction ❤️",
		},
		{
			name: "attachment only",
			m: message.Message{
				Kind: message.KindAttachment, SenderID: "bob",
				Attachments: []message.Attachment{{Ref: "a"}, {Ref: "b"}},
			},
			want: "bob: (2 attachment(s))",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Format(tc.m); got != tc.want {
				t.Errorf("Format = %q, want %q", got, tc.want)
			}
		})
	}
}
