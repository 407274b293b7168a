// Package pnsync synchronizes an encrypted identity record across a
// content-addressed storage network and resolves DIDs to their documents. It
// is the single entry point the embedding application talks to.
package pnsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pnsync/cipherbox"
	"pnsync/contentstore"
	"pnsync/docstore"
	"pnsync/guard"
	"pnsync/resolver"
	"pnsync/syncer"
)

type Sync struct {
	engine   *syncer.Engine
	resolver *resolver.Resolver
	guard    *guard.Guard
	store    *docstore.Store
	logger   *slog.Logger
}

type Args struct {
	DbPath     string
	SecretPath string

	UploadGateways   []contentstore.Gateway
	DownloadGateways []contentstore.Gateway

	CacheTTL        time.Duration
	RateLimitWindow time.Duration
	PublishLimit    int
	ResolveLimit    int
	KDFIterations   int
	KDFHash         string
	HTTPTimeout     time.Duration

	DeviceId  string
	Logger    *slog.Logger
	Notifier  syncer.Notifier
	AuditSink guard.AuditSink
}

func New(args *Args) (*Sync, error) {
	if args.DbPath == "" {
		return nil, fmt.Errorf("db path must be set")
	}

	if args.SecretPath == "" {
		return nil, fmt.Errorf("store secret path must be set")
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	secret, err := os.ReadFile(args.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("error reading store secret: %w", err)
	}

	if len(strings.TrimSpace(string(secret))) == 0 {
		return nil, fmt.Errorf("store secret file is empty")
	}

	db, err := gorm.Open(sqlite.Open(args.DbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// One device id for everything so audit entries always carry the actor.
	if args.DeviceId == "" {
		args.DeviceId = uuid.NewString()
	}

	g := guard.New(&guard.Args{
		Window: args.RateLimitWindow,
		Sink:   args.AuditSink,
		Logger: args.Logger,
		Actor:  args.DeviceId,
	})

	box, err := cipherbox.NewWithHash(args.KDFIterations, args.KDFHash)
	if err != nil {
		return nil, err
	}

	content, err := contentstore.New(&contentstore.Args{
		UploadGateways:   args.UploadGateways,
		DownloadGateways: args.DownloadGateways,
		Timeout:          args.HTTPTimeout,
		Logger:           args.Logger,
	})
	if err != nil {
		return nil, err
	}

	store, err := docstore.New(&docstore.Args{
		DB:     db,
		Box:    box,
		Secret: strings.TrimSpace(string(secret)),
	})
	if err != nil {
		return nil, err
	}

	rslv, err := resolver.New(&resolver.Args{
		Guard: g,
		Strategies: []resolver.Strategy{
			resolver.NewLocalStrategy(store),
			resolver.NewNetworkStrategy(content),
			resolver.NewKeyStrategy(),
			resolver.NewWebStrategy(nil, args.HTTPTimeout),
		},
		CacheTTL:  args.CacheTTL,
		RateLimit: args.ResolveLimit,
		Logger:    args.Logger,
	})
	if err != nil {
		return nil, err
	}

	engine, err := syncer.New(&syncer.Args{
		Box:       box,
		Store:     store,
		Content:   content,
		Resolver:  rslv,
		Guard:     g,
		Notifier:  args.Notifier,
		Logger:    args.Logger,
		DeviceId:  args.DeviceId,
		RateLimit: args.PublishLimit,
	})
	if err != nil {
		return nil, err
	}

	return &Sync{
		engine:   engine,
		resolver: rslv,
		guard:    g,
		store:    store,
		logger:   args.Logger,
	}, nil
}

// Unlock establishes the owner's password for encrypt and decrypt.
func (s *Sync) Unlock(password string) {
	s.engine.Unlock(password)
}

// Publish pushes the identity to the content network. Always returns a
// structured result.
func (s *Sync) Publish(ctx context.Context, identity *syncer.Identity) *syncer.Result {
	return s.engine.Publish(ctx, identity)
}

// Fetch returns the identity for a DID, local copy first.
func (s *Sync) Fetch(ctx context.Context, didstr string) (*syncer.Identity, error) {
	return s.engine.Fetch(ctx, didstr)
}

// Resolve returns the authoritative document for a DID.
func (s *Sync) Resolve(ctx context.Context, didstr string) (*resolver.Result, error) {
	return s.resolver.Resolve(ctx, didstr)
}

// Forget drops the locally persisted identity copy and any cached resolution
// for a DID. The next Fetch goes back to the network.
func (s *Sync) Forget(didstr string) error {
	s.resolver.Invalidate(didstr)
	return s.store.DeleteRecord(didstr)
}

// AuditLog returns a snapshot of the security audit trail, oldest first.
func (s *Sync) AuditLog() []guard.AuditEntry {
	return s.guard.GetAuditLog()
}
