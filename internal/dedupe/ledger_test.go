// ABOUTME: Tests for the idempotency ledger
// ABOUTME: Validates claim races, TTL expiry with a fake clock and eviction order

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "thr_1|auto-reply", Key("thr_1", "auto-reply"))
}

func TestLedger_ClaimOnce(t *testing.T) {
	l := New(clockwork.NewFakeClock(), time.Hour, 10)
	defer l.Close()

	assert.False(t, l.Seen("k"))
	assert.True(t, l.Claim("k"))
	assert.True(t, l.Seen("k"))
	assert.False(t, l.Claim("k"))
}

func TestLedger_ClaimAfterExpiry(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := New(clk, time.Minute, 10)
	defer l.Close()

	assert.True(t, l.Claim("k"))
	clk.Advance(59 * time.Second)
	assert.True(t, l.Seen("k"))

	clk.Advance(2 * time.Second)
	assert.False(t, l.Seen("k"))
	assert.True(t, l.Claim("k"), "expired key can be claimed again")
}

func TestLedger_ZeroTTLNeverExpires(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := New(clk, 0, 10)
	defer l.Close()

	l.Claim("k")
	clk.Advance(1000 * time.Hour)
	assert.True(t, l.Seen("k"))
}

func TestLedger_EvictsOldest(t *testing.T) {
	l := New(clockwork.NewFakeClock(), time.Hour, 3)
	defer l.Close()

	l.Claim("first")
	l.Claim("second")
	l.Claim("third")
	l.Claim("fourth")

	assert.False(t, l.Seen("first"), "first should be evicted")
	assert.True(t, l.Seen("second"))
	assert.True(t, l.Seen("third"))
	assert.True(t, l.Seen("fourth"))
	assert.Equal(t, 3, l.Len())
}

func TestLedger_ExpireRemovesStaleEntries(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := New(clk, time.Minute, 10)
	defer l.Close()

	l.Claim("a")
	l.Claim("b")
	clk.Advance(30 * time.Second)
	l.Claim("c")
	clk.Advance(45 * time.Second)

	l.expire()

	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Seen("c"))
}

func TestLedger_ConcurrentClaimHasOneWinner(t *testing.T) {
	l := New(clockwork.NewFakeClock(), time.Hour, 100)
	defer l.Close()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Claim("contested") {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

func TestLedger_CloseTwice(t *testing.T) {
	l := New(nil, time.Minute, 10)
	l.Close()
	l.Close()
}
