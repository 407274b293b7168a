// Package resolver turns a DID string into its authoritative document by
// walking an ordered list of resolution strategies, validating and caching the
// first structurally sound result.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"pnsync/did"
	"pnsync/guard"
)

const (
	DefaultCacheTTL  = 5 * time.Minute
	defaultCacheSize = 10_000
)

var (
	// ErrNotResolvable means every strategy was tried and none produced a
	// structurally valid document.
	ErrNotResolvable = errors.New("resolver: did not resolvable")

	ErrRateLimited = errors.New("resolver: rate limit exceeded")

	// errNotApplicable is returned by a strategy that does not handle the
	// DID's method. It is skipped silently rather than audited as a failure.
	errNotApplicable = errors.New("resolver: strategy not applicable")
)

// Strategy is one way of producing a document for a DID. Strategies run in a
// fixed order, never concurrently, so the first valid document is
// deterministic.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, didstr string) (*did.Document, error)
}

type Metadata struct {
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
	Deactivated bool      `json:"deactivated,omitempty"`
}

type Result struct {
	Document *did.Document `json:"document"`
	Metadata Metadata      `json:"metadata"`
	Strategy string        `json:"-"`
}

type Resolver struct {
	cache      *expirable.LRU[string, *Result]
	guard      *guard.Guard
	strategies []Strategy
	limit      int
	logger     *slog.Logger
	sf         singleflight.Group
}

type Args struct {
	Guard      *guard.Guard
	Strategies []Strategy
	CacheTTL   time.Duration
	RateLimit  int
	Logger     *slog.Logger
}

func New(args *Args) (*Resolver, error) {
	if args.Guard == nil {
		return nil, fmt.Errorf("guard must be set")
	}

	if len(args.Strategies) == 0 {
		return nil, fmt.Errorf("at least one strategy must be set")
	}

	if args.CacheTTL <= 0 {
		args.CacheTTL = DefaultCacheTTL
	}

	if args.RateLimit <= 0 {
		args.RateLimit = guard.ResolveLimit
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	return &Resolver{
		cache:      expirable.NewLRU[string, *Result](defaultCacheSize, nil, args.CacheTTL),
		guard:      args.Guard,
		strategies: args.Strategies,
		limit:      args.RateLimit,
		logger:     args.Logger,
	}, nil
}

// Resolve runs the resolution state machine: cache check, rate limit check,
// then the strategy loop. Concurrent calls for the same DID are collapsed into
// one strategy walk.
func (r *Resolver) Resolve(ctx context.Context, didstr string) (*Result, error) {
	if _, _, err := did.Parse(didstr); err != nil {
		return nil, fmt.Errorf("malformed did %q: %w", didstr, err)
	}

	if cached, ok := r.cache.Get(didstr); ok {
		return cached, nil
	}

	// Namespaced so resolution budget is independent of publish and fetch
	// budgets for the same DID.
	if !r.guard.CheckRateLimit("resolve:"+didstr, r.limit) {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, didstr)
	}

	v, err, _ := r.sf.Do(didstr, func() (any, error) {
		return r.runStrategies(ctx, didstr)
	})
	if err != nil {
		return nil, err
	}

	return v.(*Result), nil
}

// Invalidate drops a cached result so the next resolution walks the
// strategies again.
func (r *Resolver) Invalidate(didstr string) {
	r.cache.Remove(didstr)
}

func (r *Resolver) runStrategies(ctx context.Context, didstr string) (*Result, error) {
	for _, st := range r.strategies {
		doc, err := st.Resolve(ctx, didstr)
		if errors.Is(err, errNotApplicable) {
			continue
		}
		if err != nil {
			r.logger.Debug("resolution strategy failed", "strategy", st.Name(), "did", didstr, "error", err)
			r.guard.LogEvent("resolution_strategy_failed", map[string]any{
				"strategy": st.Name(),
				"did":      didstr,
				"error":    err.Error(),
			})
			continue
		}

		if err := did.ValidateDocument(doc, didstr); err != nil {
			r.guard.LogEvent("resolution_validation_failed", map[string]any{
				"strategy": st.Name(),
				"did":      didstr,
				"error":    err.Error(),
			})
			continue
		}

		if size := did.SerializedSize(doc); size > did.MaxDocumentBytes {
			r.logger.Warn("resolved document is oversized", "did", didstr, "bytes", size)
		}

		res := &Result{
			Document: doc,
			Metadata: Metadata{Created: doc.Created, Updated: doc.Updated},
			Strategy: st.Name(),
		}
		r.cache.Add(didstr, res)

		return res, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNotResolvable, didstr)
}
