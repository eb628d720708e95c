package outbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatwatch/internal/eventbus"
	"chatwatch/internal/message"
	logx "chatwatch/pkg/logx"
)

// Gate is the outbound contact filter hook. *filter.Engine satisfies it.
type Gate interface {
	Decide(d message.Direction, chatID, senderID string) bool
}

// Config tunes the shared rate limit and selects the default backend.
type Config struct {
	// Backend used when Send is called with an empty backend name.
	Backend string
	// Rate is the steady-state send rate in messages per second.
	Rate float64
	// Burst is the bucket capacity (sends allowed back-to-back).
	Burst int
	// WaitTimeout caps how long a blocking Send waits for a token.
	WaitTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Rate <= 0 {
		c.Rate = 1
	}
	if c.Burst <= 0 {
		c.Burst = 3
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 30 * time.Second
	}
}

// Router validates, filters, and rate-limits outbound sends, then hands them
// to the selected backend.
//
// Validation and the contact gate run before any token is spent, so rejected
// sends never eat into the budget of valid ones.
type Router struct {
	log logx.Logger
	bus eventbus.Bus

	limiter *rate.Limiter

	mu          sync.RWMutex
	backends    map[string]Sender
	def         string
	gate        Gate
	waitTimeout time.Duration
}

func NewRouter(cfg Config, log logx.Logger, bus eventbus.Bus) *Router {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:         log,
		bus:         bus,
		limiter:     rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		backends:    map[string]Sender{},
		def:         strings.TrimSpace(cfg.Backend),
		waitTimeout: cfg.WaitTimeout,
	}
}

// Register adds a backend. Later registrations under the same name replace
// earlier ones.
func (r *Router) Register(s Sender) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[s.Name()] = s
	if r.def == "" {
		r.def = s.Name()
	}
}

// SetGate installs the outbound contact filter. nil removes it.
func (r *Router) SetGate(g Gate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = g
}

// Apply re-arms the limiter and default backend at runtime.
func (r *Router) Apply(cfg Config) {
	cfg.applyDefaults()
	r.limiter.SetLimit(rate.Limit(cfg.Rate))
	r.limiter.SetBurst(cfg.Burst)
	r.mu.Lock()
	if b := strings.TrimSpace(cfg.Backend); b != "" {
		r.def = b
	}
	r.waitTimeout = cfg.WaitTimeout
	r.mu.Unlock()
}

// Send blocks until a token is available (bounded by the wait timeout),
// then delivers through the named backend ("" selects the default).
func (r *Router) Send(ctx context.Context, backend string, p Payload) (Ack, error) {
	s, timeout, err := r.admit(backend, p)
	if err != nil {
		return Ack{}, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := r.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return Ack{}, ctx.Err()
		}
		return Ack{}, ErrRateLimited
	}
	return r.deliver(ctx, s, p)
}

// TrySend delivers only if a token is immediately available, otherwise it
// returns ErrRateLimited without blocking.
func (r *Router) TrySend(ctx context.Context, backend string, p Payload) (Ack, error) {
	s, _, err := r.admit(backend, p)
	if err != nil {
		return Ack{}, err
	}
	if !r.limiter.Allow() {
		return Ack{}, ErrRateLimited
	}
	return r.deliver(ctx, s, p)
}

// RecipientValidator lets a backend override the default phone/email
// recipient check (Telegram addresses chats by numeric id, for example).
type RecipientValidator interface {
	ValidateRecipient(recipient string) error
}

// admit resolves the backend and runs validation and the contact gate.
// No token is spent here.
func (r *Router) admit(backend string, p Payload) (Sender, time.Duration, error) {
	r.mu.RLock()
	name := strings.TrimSpace(backend)
	if name == "" {
		name = r.def
	}
	s := r.backends[name]
	gate := r.gate
	timeout := r.waitTimeout
	r.mu.RUnlock()

	if s == nil {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	if v, ok := s.(RecipientValidator); ok {
		if err := v.ValidateRecipient(p.Recipient); err != nil {
			return nil, 0, err
		}
	} else if err := ValidateRecipient(p.Recipient); err != nil {
		return nil, 0, err
	}
	if gate != nil && !gate.Decide(message.DirectionOutbound, "", p.Recipient) {
		return nil, 0, fmt.Errorf("%w: %s", ErrRecipientBlocked, p.Recipient)
	}
	return s, timeout, nil
}

func (r *Router) deliver(ctx context.Context, s Sender, p Payload) (Ack, error) {
	if err := s.Send(ctx, p); err != nil {
		r.log.Error("send failed",
			logx.String("backend", s.Name()),
			logx.String("recipient", p.Recipient),
			logx.Err(err))
		r.publish(EventFailed, SendFailure{
			Backend:   s.Name(),
			Recipient: p.Recipient,
			Err:       err.Error(),
		})
		return Ack{}, fmt.Errorf("outbound: %s: %w", s.Name(), err)
	}
	ack := Ack{Backend: s.Name(), Recipient: p.Recipient, SentAt: time.Now()}
	r.log.Info("sent",
		logx.String("backend", ack.Backend),
		logx.String("recipient", ack.Recipient))
	r.publish(EventSent, ack)
	return ack, nil
}

func (r *Router) publish(typ string, data any) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
