package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bluesky-social/indigo/util"
	"github.com/multiformats/go-multibase"

	"pnsync/contentstore"
	"pnsync/did"
	"pnsync/docstore"
)

// localStrategy serves documents already persisted on this device.
type localStrategy struct {
	store *docstore.Store
}

func NewLocalStrategy(store *docstore.Store) Strategy {
	return &localStrategy{store: store}
}

func (s *localStrategy) Name() string { return "local" }

func (s *localStrategy) Resolve(ctx context.Context, didstr string) (*did.Document, error) {
	doc, err := s.store.Get(didstr)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, errNotApplicable
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// networkStrategy handles DIDs whose method-specific id is itself a content
// address, fetching the document from the content network.
type networkStrategy struct {
	content *contentstore.Store
}

func NewNetworkStrategy(content *contentstore.Store) Strategy {
	return &networkStrategy{content: content}
}

func (s *networkStrategy) Name() string { return "network" }

func (s *networkStrategy) Resolve(ctx context.Context, didstr string) (*did.Document, error) {
	method, msid, err := did.Parse(didstr)
	if err != nil {
		return nil, err
	}

	if method != "ipfs" {
		return nil, errNotApplicable
	}

	data, err := s.content.Download(ctx, msid)
	if err != nil {
		return nil, err
	}

	var doc did.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

// keyStrategy synthesizes a document directly from the key material embedded
// in a did:key identifier. No network call.
type keyStrategy struct{}

func NewKeyStrategy() Strategy {
	return &keyStrategy{}
}

func (s *keyStrategy) Name() string { return "key" }

func (s *keyStrategy) Resolve(ctx context.Context, didstr string) (*did.Document, error) {
	method, msid, err := did.Parse(didstr)
	if err != nil {
		return nil, err
	}

	if method != "key" {
		return nil, errNotApplicable
	}

	_, raw, err := multibase.Decode(msid)
	if err != nil {
		return nil, fmt.Errorf("did:key material is not valid multibase: %w", err)
	}

	// 0xed01 is the multicodec prefix for an ed25519 public key.
	vmType := "Multikey"
	if len(raw) >= 2 && raw[0] == 0xed && raw[1] == 0x01 {
		vmType = "Ed25519VerificationKey2020"
	}

	vmId := didstr + "#" + msid
	now := time.Now().UTC()

	return &did.Document{
		Context: []string{"https://www.w3.org/ns/did/v1"},
		Id:      didstr,
		VerificationMethod: []did.VerificationMethod{{
			Id:                 vmId,
			Type:               vmType,
			Controller:         didstr,
			PublicKeyMultibase: msid,
		}},
		Authentication:  []string{vmId},
		AssertionMethod: []string{vmId},
		Created:         now,
		Updated:         now,
	}, nil
}

// webStrategy fetches a well-known document from the domain a did:web
// identifier encodes.
type webStrategy struct {
	h       *http.Client
	timeout time.Duration
}

func NewWebStrategy(h *http.Client, timeout time.Duration) Strategy {
	if h == nil {
		h = util.RobustHTTPClient()
	}
	if timeout <= 0 {
		timeout = contentstore.DefaultTimeout
	}
	return &webStrategy{h: h, timeout: timeout}
}

func (s *webStrategy) Name() string { return "web" }

func (s *webStrategy) Resolve(ctx context.Context, didstr string) (*did.Document, error) {
	method, msid, err := did.Parse(didstr)
	if err != nil {
		return nil, err
	}

	if method != "web" {
		return nil, errNotApplicable
	}

	var lastErr error
	for _, path := range []string{"/.well-known/did.json", "/.well-known/did"} {
		doc, err := s.fetch(ctx, "https://"+msid+path)
		if err != nil {
			lastErr = err
			continue
		}
		return doc, nil
	}

	return nil, lastErr
}

func (s *webStrategy) fetch(ctx context.Context, url string) (*did.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/did+json, application/json")

	resp, err := s.h.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetching %s returned status %d", url, resp.StatusCode)
	}

	var doc did.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}

	return &doc, nil
}
