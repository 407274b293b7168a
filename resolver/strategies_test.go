package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pnsync/did"
)

// Standard ed25519 did:key test identifier.
const ed25519DidKey = "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"

func TestKeyStrategySynthesizesDocument(t *testing.T) {
	st := NewKeyStrategy()

	doc, err := st.Resolve(context.Background(), ed25519DidKey)
	require.NoError(t, err)

	require.NoError(t, did.ValidateDocument(doc, ed25519DidKey))
	assert.Equal(t, ed25519DidKey, doc.Id)
	require.Len(t, doc.VerificationMethod, 1)
	assert.Equal(t, "Ed25519VerificationKey2020", doc.VerificationMethod[0].Type)
	assert.Equal(t, ed25519DidKey, doc.VerificationMethod[0].Controller)
}

func TestKeyStrategyRejectsBadMultibase(t *testing.T) {
	st := NewKeyStrategy()

	_, err := st.Resolve(context.Background(), "did:key:0notmultibase")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errNotApplicable)
}

func TestKeyStrategyNotApplicable(t *testing.T) {
	st := NewKeyStrategy()

	_, err := st.Resolve(context.Background(), "did:web:example.com")
	assert.ErrorIs(t, err, errNotApplicable)
}

func TestNetworkStrategyNotApplicable(t *testing.T) {
	st := &networkStrategy{}

	_, err := st.Resolve(context.Background(), ed25519DidKey)
	assert.ErrorIs(t, err, errNotApplicable)
}

func TestWebStrategyNotApplicable(t *testing.T) {
	st := NewWebStrategy(nil, 0)

	_, err := st.Resolve(context.Background(), ed25519DidKey)
	assert.ErrorIs(t, err, errNotApplicable)
}

// rewriteTransport sends every request to a local test server regardless of
// the https://<domain> URL the strategy builds.
type rewriteTransport struct {
	target string
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = rt.target
	return http.DefaultTransport.RoundTrip(req)
}

func newWebFixture(t *testing.T, handler http.HandlerFunc) Strategy {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cli := &http.Client{Transport: &rewriteTransport{target: srv.Listener.Addr().String()}}
	return NewWebStrategy(cli, 0)
}

func TestWebStrategyFetchesWellKnown(t *testing.T) {
	const didstr = "did:web:example.com"

	var paths []string
	var accepts []string
	st := newWebFixture(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		accepts = append(accepts, r.Header.Get("Accept"))
		json.NewEncoder(w).Encode(validDoc(didstr))
	})

	doc, err := st.Resolve(context.Background(), didstr)
	require.NoError(t, err)
	assert.Equal(t, didstr, doc.Id)
	require.NoError(t, did.ValidateDocument(doc, didstr))

	// did.json is authoritative; the bare path is only a fallback.
	require.Equal(t, []string{"/.well-known/did.json"}, paths)
	assert.Equal(t, []string{"application/did+json, application/json"}, accepts)
}

func TestWebStrategyFallsBackToBarePath(t *testing.T) {
	const didstr = "did:web:example.com"

	var paths []string
	st := newWebFixture(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/.well-known/did.json" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(validDoc(didstr))
	})

	doc, err := st.Resolve(context.Background(), didstr)
	require.NoError(t, err)
	assert.Equal(t, didstr, doc.Id)
	assert.Equal(t, []string{"/.well-known/did.json", "/.well-known/did"}, paths)
}

func TestWebStrategyAllPathsFail(t *testing.T) {
	var calls int
	st := newWebFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})

	_, err := st.Resolve(context.Background(), "did:web:example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errNotApplicable)
	assert.Equal(t, 2, calls)
}

func TestWebStrategyRejectsMalformedBody(t *testing.T) {
	st := newWebFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>definitely not a did document</html>"))
	})

	_, err := st.Resolve(context.Background(), "did:web:example.com")
	require.Error(t, err)
}
