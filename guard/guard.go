package guard

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultLimit is the per-identifier operation budget for sync operations.
	DefaultLimit = 5

	// ResolveLimit is the more generous budget resolvers use.
	ResolveLimit = 10

	DefaultWindow = 60 * time.Second

	maxAuditEntries = 1000
)

type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
	Actor     string         `json:"actor,omitempty"`
}

// AuditSink receives a copy of every audit entry. Emit failures are swallowed;
// the in-memory log is the source of truth.
type AuditSink interface {
	Emit(entry AuditEntry) error
}

type rateLimitEntry struct {
	count         int
	windowResetAt time.Time
}

// Guard is the shared rate limiter and audit log. One instance per process,
// passed by reference to the resolver and the sync engine.
type Guard struct {
	mu     sync.Mutex
	limits map[string]*rateLimitEntry
	audit  []AuditEntry

	window time.Duration
	sink   AuditSink
	logger *slog.Logger
	actor  string
	now    func() time.Time
}

type Args struct {
	Window time.Duration
	Sink   AuditSink
	Logger *slog.Logger
	Actor  string
}

func New(args *Args) *Guard {
	if args == nil {
		args = &Args{}
	}
	if args.Window <= 0 {
		args.Window = DefaultWindow
	}
	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	return &Guard{
		limits: map[string]*rateLimitEntry{},
		window: args.Window,
		sink:   args.Sink,
		logger: args.Logger,
		actor:  args.Actor,
		now:    time.Now,
	}
}

// CheckRateLimit reports whether the identifier may perform another operation
// within the current window. The count resets to 1 whenever the window has
// elapsed. This is abuse mitigation, not a hard security boundary; it trusts
// the local clock.
func (g *Guard) CheckRateLimit(identifier string, limit int) bool {
	if limit <= 0 {
		limit = DefaultLimit
	}

	g.mu.Lock()
	now := g.now()

	ent := g.limits[identifier]
	if ent == nil || now.After(ent.windowResetAt) {
		g.limits[identifier] = &rateLimitEntry{count: 1, windowResetAt: now.Add(g.window)}
		g.mu.Unlock()
		return true
	}

	if ent.count >= limit {
		g.mu.Unlock()
		g.LogEvent("rate_limit_exceeded", map[string]any{
			"identifier": identifier,
			"limit":      limit,
		})
		return false
	}

	ent.count++
	g.mu.Unlock()
	return true
}

// LogEvent appends an audit entry, evicting the oldest entries past the
// 1,000-entry cap. The external sink is best effort only.
func (g *Guard) LogEvent(event string, details map[string]any) {
	ent := AuditEntry{
		Timestamp: g.now(),
		Event:     event,
		Details:   details,
		Actor:     g.actor,
	}

	g.mu.Lock()
	g.audit = append(g.audit, ent)
	if overflow := len(g.audit) - maxAuditEntries; overflow > 0 {
		g.audit = g.audit[overflow:]
	}
	sink := g.sink
	g.mu.Unlock()

	if sink != nil {
		if err := sink.Emit(ent); err != nil {
			g.logger.Debug("audit sink emit failed", "event", event, "error", err)
		}
	}
}

// GetAuditLog returns a snapshot copy, oldest first.
func (g *Guard) GetAuditLog() []AuditEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]AuditEntry, len(g.audit))
	copy(out, g.audit)
	return out
}
