package filter

import (
	"fmt"
	"strings"
	"sync/atomic"

	"chatwatch/internal/message"
)

// Behavior selects how the individual-level id set is interpreted.
type Behavior uint8

const (
	BehaviorNone Behavior = iota
	BehaviorWhitelist
	BehaviorBlacklist
)

func (b Behavior) String() string {
	switch b {
	case BehaviorWhitelist:
		return "whitelist"
	case BehaviorBlacklist:
		return "blacklist"
	default:
		return "none"
	}
}

func ParseBehavior(s string) (Behavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return BehaviorNone, nil
	case "whitelist", "allow":
		return BehaviorWhitelist, nil
	case "blacklist", "deny":
		return BehaviorBlacklist, nil
	default:
		return BehaviorNone, fmt.Errorf("unknown filter behavior %q", s)
	}
}

// Rule is the per-direction filter: an individual-level behavior plus
// chat-level override sets. A chat-level hit always decides before the
// individual level is consulted.
type Rule struct {
	Behavior      Behavior
	IDs           map[string]struct{}
	ChatWhitelist map[string]struct{}
	ChatBlacklist map[string]struct{}
}

// NewRule builds a Rule from config slices.
func NewRule(behavior Behavior, ids, chatAllow, chatDeny []string) Rule {
	return Rule{
		Behavior:      behavior,
		IDs:           toSet(ids),
		ChatWhitelist: toSet(chatAllow),
		ChatBlacklist: toSet(chatDeny),
	}
}

func toSet(ss []string) map[string]struct{} {
	if len(ss) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		s = strings.TrimSpace(s)
		if s != "" {
			m[s] = struct{}{}
		}
	}
	return m
}

// Config holds both directions.
type Config struct {
	Inbound  Rule
	Outbound Rule
}

// Engine decides message admission. Decisions are pure reads over an
// atomically swapped config snapshot, so Admit may race freely with Swap
// without ever observing a half-updated rule set.
type Engine struct {
	cfg atomic.Pointer[Config]
}

func New(cfg Config) *Engine {
	e := &Engine{}
	e.cfg.Store(&cfg)
	return e
}

// Swap atomically replaces the filter configuration.
func (e *Engine) Swap(cfg Config) {
	e.cfg.Store(&cfg)
}

// Admit reports whether the message passes the filter for its direction.
func (e *Engine) Admit(m message.Message) bool {
	return e.Decide(m.Direction, m.ChatID, m.SenderID)
}

// Decide is the direction/chat/sender decision core.
//
// Order: chat whitelist (non-empty set decides both ways), chat blacklist,
// then the individual-level behavior. Chat-level always wins.
func (e *Engine) Decide(d message.Direction, chatID, senderID string) bool {
	cfg := e.cfg.Load()
	if cfg == nil {
		return true
	}
	r := cfg.Inbound
	if d == message.DirectionOutbound {
		r = cfg.Outbound
	}

	if len(r.ChatWhitelist) > 0 {
		_, ok := r.ChatWhitelist[chatID]
		return ok
	}
	if _, denied := r.ChatBlacklist[chatID]; denied {
		return false
	}

	switch r.Behavior {
	case BehaviorWhitelist:
		_, ok := r.IDs[senderID]
		return ok
	case BehaviorBlacklist:
		_, blocked := r.IDs[senderID]
		return !blocked
	default:
		return true
	}
}
