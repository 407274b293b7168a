package guard

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitWindow(t *testing.T) {
	g := New(nil)

	now := time.Now()
	g.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		assert.True(t, g.CheckRateLimit("did:key:abc", 5), "call %d should be allowed", i+1)
	}

	assert.False(t, g.CheckRateLimit("did:key:abc", 5), "6th call within the window should be denied")

	// A different identifier has its own window.
	assert.True(t, g.CheckRateLimit("did:key:other", 5))

	// Once the window elapses the count resets to 1.
	now = now.Add(61 * time.Second)
	assert.True(t, g.CheckRateLimit("did:key:abc", 5))
}

func TestRateLimitDenialIsAudited(t *testing.T) {
	g := New(nil)

	for i := 0; i < 6; i++ {
		g.CheckRateLimit("did:key:abc", 5)
	}

	log := g.GetAuditLog()
	require.Len(t, log, 1)
	assert.Equal(t, "rate_limit_exceeded", log[0].Event)
	assert.Equal(t, "did:key:abc", log[0].Details["identifier"])
}

func TestAuditLogBound(t *testing.T) {
	g := New(nil)

	for i := 0; i < 1500; i++ {
		g.LogEvent("test_event", map[string]any{"i": i})
	}

	log := g.GetAuditLog()
	require.Len(t, log, 1000)

	// Oldest evicted first; the survivors are the most recent 1,000.
	assert.Equal(t, 500, log[0].Details["i"])
	assert.Equal(t, 1499, log[999].Details["i"])
}

func TestAuditLogSnapshot(t *testing.T) {
	g := New(nil)
	g.LogEvent("one", nil)

	snap := g.GetAuditLog()
	snap[0].Event = "mutated"

	assert.Equal(t, "one", g.GetAuditLog()[0].Event)
}

type failingSink struct {
	calls int
}

func (s *failingSink) Emit(entry AuditEntry) error {
	s.calls++
	return fmt.Errorf("sink is down")
}

func TestSinkFailureDoesNotPropagate(t *testing.T) {
	sink := &failingSink{}
	g := New(&Args{Sink: sink})

	g.LogEvent("one", nil)

	assert.Equal(t, 1, sink.calls)
	assert.Len(t, g.GetAuditLog(), 1)
}

func TestConcurrentAccess(t *testing.T) {
	g := New(nil)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				g.CheckRateLimit(fmt.Sprintf("did:key:%d", n), 1000)
				g.LogEvent("spin", map[string]any{"n": n})
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Len(t, g.GetAuditLog(), 800)
}
