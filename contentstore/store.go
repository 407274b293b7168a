// Package contentstore reads and writes opaque payloads through a set of
// content-addressed storage gateways. Uploads fan out and race; downloads walk
// the gateway list in priority order.
package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/util"
	"github.com/ipfs/go-cid"
)

const (
	// Responses shorter than this are treated as gateway error pages, not
	// content.
	minPlausibleBytes = 10

	DefaultTimeout = 8 * time.Second
)

type Gateway struct {
	Name string
	URL  string
}

// GatewayError aggregates per-gateway failures. Only exhaustion of every
// gateway surfaces to callers.
type GatewayError struct {
	Op   string
	Errs []error
}

func (e *GatewayError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("all gateways failed during %s: %s", e.Op, strings.Join(msgs, "; "))
}

func (e *GatewayError) Unwrap() []error {
	return e.Errs
}

type Store struct {
	h        *http.Client
	upload   []Gateway
	download []Gateway
	timeout  time.Duration
	logger   *slog.Logger
}

type Args struct {
	UploadGateways   []Gateway
	DownloadGateways []Gateway
	Timeout          time.Duration
	Logger           *slog.Logger
	Client           *http.Client
}

func New(args *Args) (*Store, error) {
	if len(args.UploadGateways) == 0 {
		return nil, fmt.Errorf("at least one upload gateway must be set")
	}

	if len(args.DownloadGateways) == 0 {
		return nil, fmt.Errorf("at least one download gateway must be set")
	}

	if args.Timeout <= 0 {
		args.Timeout = DefaultTimeout
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.Client == nil {
		args.Client = util.RobustHTTPClient()
	}

	return &Store{
		h:        args.Client,
		upload:   args.UploadGateways,
		download: args.DownloadGateways,
		timeout:  args.Timeout,
		logger:   args.Logger,
	}, nil
}

type addRequest struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

type addResponse struct {
	Hash     string `json:"Hash"`
	IpfsHash string `json:"IpfsHash"`
}

type uploadResult struct {
	gateway Gateway
	address string
	err     error
}

// Upload pushes the same payload to every upload gateway concurrently and
// returns the first valid content address. In-flight losers are abandoned;
// the buffered channel keeps their goroutines from leaking.
func (s *Store) Upload(ctx context.Context, data []byte) (string, error) {
	results := make(chan uploadResult, len(s.upload))

	for _, gw := range s.upload {
		go func(gw Gateway) {
			addr, err := s.uploadOne(ctx, gw, data)
			results <- uploadResult{gateway: gw, address: addr, err: err}
		}(gw)
	}

	var errs []error
	for range s.upload {
		res := <-results
		if res.err != nil {
			s.logger.Debug("gateway upload failed", "gateway", res.gateway.Name, "error", res.err)
			errs = append(errs, fmt.Errorf("%s: %w", res.gateway.Name, res.err))
			continue
		}
		return res.address, nil
	}

	return "", &GatewayError{Op: "upload", Errs: errs}
}

func (s *Store) uploadOne(ctx context.Context, gw Gateway, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(addRequest{Path: "identity", Content: data})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", strings.TrimSuffix(gw.URL, "/")+"/api/v0/add", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.h.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var ar addResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", err
	}

	addr := ar.Hash
	if addr == "" {
		addr = ar.IpfsHash
	}

	if _, err := cid.Parse(addr); err != nil {
		return "", fmt.Errorf("gateway returned invalid content address %q: %w", addr, err)
	}

	return addr, nil
}

// Download tries gateways strictly in priority order. A later gateway is only
// contacted after the one before it definitively failed, so a healthy primary
// never costs redundant bandwidth.
func (s *Store) Download(ctx context.Context, address string) ([]byte, error) {
	if _, err := cid.Parse(address); err != nil {
		return nil, fmt.Errorf("invalid content address %q: %w", address, err)
	}

	var errs []error
	for _, gw := range s.download {
		data, err := s.downloadOne(ctx, gw, address)
		if err != nil {
			s.logger.Debug("gateway download failed", "gateway", gw.Name, "address", address, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", gw.Name, err))
			continue
		}
		return data, nil
	}

	return nil, &GatewayError{Op: "download", Errs: errs}
}

func (s *Store) downloadOne(ctx context.Context, gw Gateway, address string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", strings.TrimSuffix(gw.URL, "/")+"/ipfs/"+address, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.h.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if len(data) < minPlausibleBytes {
		return nil, fmt.Errorf("implausibly short response (%d bytes)", len(data))
	}

	return data, nil
}
