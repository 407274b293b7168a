// Package syncer publishes encrypted identity records to the content network
// and pulls them back down through DID resolution.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pnsync/cipherbox"
	"pnsync/contentstore"
	"pnsync/did"
	"pnsync/docstore"
	"pnsync/guard"
	"pnsync/resolver"
)

const (
	// ServiceType marks the DID document service entry that points at the
	// current encrypted identity payload.
	ServiceType = "IdentitySync"

	serviceScheme = "ipfs://"

	notifyTimeout = 10 * time.Second
)

var (
	// ErrNotInitialized means no password has been established yet.
	ErrNotInitialized = errors.New("syncer: cipher box is not keyed")

	ErrNotFound = errors.New("syncer: identity not found")

	ErrRateLimited = errors.New("syncer: rate limit exceeded")

	// ErrCorrupt means a downloaded payload decrypted but is missing the
	// minimum identity fields.
	ErrCorrupt = errors.New("syncer: decrypted identity is corrupt")
)

// Identity is the record synchronized across devices.
type Identity struct {
	Id          string `json:"id"`
	PnName      string `json:"pnName"`
	DisplayName string `json:"displayName,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Result is the structured outcome of a publish. Publish never returns an
// error directly; callers always get one of these.
type Result struct {
	Success        bool      `json:"success"`
	ContentAddress string    `json:"contentAddress,omitempty"`
	Err            string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Notifier tells the owner's other devices that a new payload exists. Fire
// and forget; delivery is never guaranteed.
type Notifier interface {
	Broadcast(ctx context.Context, didstr string, contentAddress string) error
}

// LogNotifier is the default Notifier. It only records the broadcast.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Broadcast(ctx context.Context, didstr string, contentAddress string) error {
	if n.Logger != nil {
		n.Logger.Info("broadcasting new identity payload", "did", didstr, "address", contentAddress)
	}
	return nil
}

type Engine struct {
	box      *cipherbox.Box
	store    *docstore.Store
	content  *contentstore.Store
	resolver *resolver.Resolver
	guard    *guard.Guard
	notifier Notifier
	logger   *slog.Logger
	deviceId string
	limit    int

	mu       sync.RWMutex
	password string
	keyed    bool
}

type Args struct {
	Box       *cipherbox.Box
	Store     *docstore.Store
	Content   *contentstore.Store
	Resolver  *resolver.Resolver
	Guard     *guard.Guard
	Notifier  Notifier
	Logger    *slog.Logger
	DeviceId  string
	RateLimit int
}

func New(args *Args) (*Engine, error) {
	if args.Box == nil {
		return nil, fmt.Errorf("cipher box must be set")
	}

	if args.Store == nil {
		return nil, fmt.Errorf("document store must be set")
	}

	if args.Content == nil {
		return nil, fmt.Errorf("content store must be set")
	}

	if args.Resolver == nil {
		return nil, fmt.Errorf("resolver must be set")
	}

	if args.Guard == nil {
		return nil, fmt.Errorf("guard must be set")
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.Notifier == nil {
		args.Notifier = &LogNotifier{Logger: args.Logger}
	}

	if args.DeviceId == "" {
		args.DeviceId = uuid.NewString()
	}

	if args.RateLimit <= 0 {
		args.RateLimit = guard.DefaultLimit
	}

	return &Engine{
		box:      args.Box,
		store:    args.Store,
		content:  args.Content,
		resolver: args.Resolver,
		guard:    args.Guard,
		notifier: args.Notifier,
		logger:   args.Logger,
		deviceId: args.DeviceId,
		limit:    args.RateLimit,
	}, nil
}

// Unlock establishes the owner's password. Until this is called, publish and
// fetch fail with ErrNotInitialized.
func (e *Engine) Unlock(password string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.password = password
	e.keyed = password != ""
}

func (e *Engine) currentPassword() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.password, e.keyed
}

// Publish encrypts the identity, uploads it to the content network, points
// the DID document's IdentitySync service at the new address, and keeps an
// offline-readable local copy. It always returns a Result, never an error.
func (e *Engine) Publish(ctx context.Context, identity *Identity) *Result {
	start := time.Now()

	fail := func(err error) *Result {
		e.logger.Error("publish failed", "did", identityDid(identity), "error", err)
		e.guard.LogEvent("publish_failed", map[string]any{
			"did":         identityDid(identity),
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       err.Error(),
		})
		return &Result{Success: false, Err: err.Error(), Timestamp: time.Now().UTC()}
	}

	if identity == nil || identity.Id == "" {
		return fail(fmt.Errorf("identity must have an id"))
	}

	if _, _, err := did.Parse(identity.Id); err != nil {
		return fail(fmt.Errorf("malformed did %q: %w", identity.Id, err))
	}

	password, keyed := e.currentPassword()
	if !keyed {
		return fail(ErrNotInitialized)
	}

	if !e.guard.CheckRateLimit("publish:"+identity.Id, e.limit) {
		return fail(fmt.Errorf("%w: %s", ErrRateLimited, identity.Id))
	}

	plaintext, err := json.Marshal(identity)
	if err != nil {
		return fail(err)
	}

	blob, err := e.box.Encrypt(plaintext, password)
	if err != nil {
		return fail(err)
	}

	payload, err := json.Marshal(blob)
	if err != nil {
		return fail(err)
	}

	address, err := e.content.Upload(ctx, payload)
	if err != nil {
		return fail(err)
	}

	if err := e.upsertServiceEntry(identity.Id, address); err != nil {
		return fail(err)
	}

	if err := e.store.PutRecord(identity.Id, payload); err != nil {
		return fail(err)
	}

	e.resolver.Invalidate(identity.Id)

	// Detached on purpose. Other devices learn about the new payload on a
	// best-effort basis; a dead notifier must not fail the publish.
	go func(didstr, address string) {
		nctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.Broadcast(nctx, didstr, address); err != nil {
			e.logger.Warn("device notify failed", "did", didstr, "error", err)
		}
	}(identity.Id, address)

	e.guard.LogEvent("publish_succeeded", map[string]any{
		"did":         identity.Id,
		"address":     address,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return &Result{Success: true, ContentAddress: address, Timestamp: time.Now().UTC()}
}

// Fetch returns the identity for a DID, preferring the local copy and falling
// back to resolution plus a content network download. ErrNotFound is a normal
// outcome.
func (e *Engine) Fetch(ctx context.Context, didstr string) (*Identity, error) {
	start := time.Now()

	identity, err := e.fetch(ctx, didstr)
	if err != nil {
		e.guard.LogEvent("fetch_failed", map[string]any{
			"did":         didstr,
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       err.Error(),
		})
		return nil, err
	}

	e.guard.LogEvent("fetch_succeeded", map[string]any{
		"did":         didstr,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return identity, nil
}

func (e *Engine) fetch(ctx context.Context, didstr string) (*Identity, error) {
	if _, _, err := did.Parse(didstr); err != nil {
		return nil, fmt.Errorf("malformed did %q: %w", didstr, err)
	}

	password, keyed := e.currentPassword()
	if !keyed {
		return nil, ErrNotInitialized
	}

	if !e.guard.CheckRateLimit("fetch:"+didstr, e.limit) {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, didstr)
	}

	if payload, err := e.store.GetRecord(didstr); err == nil {
		return e.open(payload, password)
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}

	res, err := e.resolver.Resolve(ctx, didstr)
	if err != nil {
		if errors.Is(err, resolver.ErrNotResolvable) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, didstr)
		}
		return nil, err
	}

	svc := res.Document.FindService(ServiceType)
	if svc == nil {
		return nil, fmt.Errorf("%w: %s has no %s service", ErrNotFound, didstr, ServiceType)
	}

	address := strings.TrimPrefix(svc.ServiceEndpoint, serviceScheme)

	payload, err := e.content.Download(ctx, address)
	if err != nil {
		return nil, err
	}

	identity, err := e.open(payload, password)
	if err != nil {
		return nil, err
	}

	if identity.Id != didstr {
		return nil, fmt.Errorf("%w: payload id %q does not match %q", ErrCorrupt, identity.Id, didstr)
	}

	// Cache-fill so the next fetch is offline.
	if err := e.store.PutRecord(didstr, payload); err != nil {
		e.logger.Warn("local cache fill failed", "did", didstr, "error", err)
	}

	return identity, nil
}

func (e *Engine) open(payload []byte, password string) (*Identity, error) {
	var blob cipherbox.Blob
	if err := json.Unmarshal(payload, &blob); err != nil {
		return nil, err
	}

	plaintext, err := e.box.Decrypt(&blob, password)
	if err != nil {
		return nil, err
	}

	var identity Identity
	if err := json.Unmarshal(plaintext, &identity); err != nil {
		return nil, err
	}

	if identity.Id == "" || identity.PnName == "" {
		return nil, ErrCorrupt
	}

	return &identity, nil
}

// upsertServiceEntry points the DID document's IdentitySync service at the
// freshly uploaded address, creating a baseline document when none exists yet.
func (e *Engine) upsertServiceEntry(didstr string, address string) error {
	doc, err := e.store.Get(didstr)
	if errors.Is(err, docstore.ErrNotFound) {
		doc = baselineDocument(didstr)
	} else if err != nil {
		return err
	}

	entry := did.Service{
		Id:              "#identity_sync",
		Type:            ServiceType,
		ServiceEndpoint: serviceScheme + address,
		Timestamp:       time.Now().UTC(),
		DeviceId:        e.deviceId,
	}

	replaced := false
	for i, svc := range doc.Service {
		if svc.Type == ServiceType && svc.DeviceId == e.deviceId {
			doc.Service[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Service = append(doc.Service, entry)
	}

	doc.Updated = time.Now().UTC()

	return e.store.Put(didstr, doc)
}

// baselineDocument builds the minimal structurally valid document for a DID
// that has never been published from this device.
func baselineDocument(didstr string) *did.Document {
	_, msid, _ := did.Parse(didstr)
	vmId := didstr + "#" + msid
	now := time.Now().UTC()

	return &did.Document{
		Context: []string{"https://www.w3.org/ns/did/v1"},
		Id:      didstr,
		VerificationMethod: []did.VerificationMethod{{
			Id:                 vmId,
			Type:               "Multikey",
			Controller:         didstr,
			PublicKeyMultibase: msid,
		}},
		Authentication: []string{vmId},
		Created:        now,
		Updated:        now,
	}
}

func identityDid(identity *Identity) string {
	if identity == nil {
		return ""
	}
	return identity.Id
}
