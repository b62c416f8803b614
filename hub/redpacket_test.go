package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roleplayhub/hub/store"
)

// fakeMessageStore is an in-memory redpacketStore with the same CAS
// semantics as the SQL gateway.
type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[string]*store.GroupMessage
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[string]*store.GroupMessage)}
}

func (f *fakeMessageStore) GroupMessageByID(id string) (*store.GroupMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (f *fakeMessageStore) SwapGroupMessageContent(id, prev, next string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.messages[id]
	if !ok || m.Content != prev {
		return false, nil
	}
	m.Content = next
	return true, nil
}

func seedRedpacket(t *testing.T, f *fakeMessageStore, id string, total string, count int, rpType string) {
	t.Helper()

	amount, err := decimal.NewFromString(total)
	require.NoError(t, err)

	content, err := json.Marshal(&RedpacketState{
		TotalAmount:   amount,
		Count:         count,
		RedpacketType: rpType,
	})
	require.NoError(t, err)

	f.messages[id] = &store.GroupMessage{
		ID:      id,
		GroupID: "g1",
		MsgType: "redpacket",
		Content: string(content),
	}
}

func currentState(t *testing.T, f *fakeMessageStore, id string) *RedpacketState {
	t.Helper()

	m, err := f.GroupMessageByID(id)
	require.NoError(t, err)
	var state RedpacketState
	require.NoError(t, json.Unmarshal([]byte(m.Content), &state))
	return &state
}

func claimedSum(state *RedpacketState) decimal.Decimal {
	sum := decimal.Zero
	for _, amount := range state.ClaimedAmounts {
		sum = sum.Add(amount)
	}
	return sum
}

func fixedDraw(v float64) func() float64 {
	return func() float64 { return v }
}

func TestAverageRedpacketConservation(t *testing.T) {
	f := newFakeMessageStore()
	seedRedpacket(t, f, "rp1", "1.00", 3, "average")

	total := decimal.RequireFromString("1.00")
	for i := 0; i < 3; i++ {
		amount, state, err := claimRedpacket(f, "g1", "rp1", fmt.Sprintf("acct_%d", i), fixedDraw(0.5))
		require.NoError(t, err)
		assert.True(t, amount.IsPositive())
		assert.True(t, claimedSum(state).LessThanOrEqual(total))
	}

	state := currentState(t, f, "rp1")
	assert.Len(t, state.Claimed, 3)
	// Average closes exactly: the last claimant takes the remainder.
	assert.True(t, claimedSum(state).Equal(total), "got %s", claimedSum(state))
	assert.Equal(t, 3, state.Version)
}

func TestLuckyRedpacketConservation(t *testing.T) {
	total := decimal.RequireFromString("1.00")
	lowerBound := decimal.RequireFromString("0.97")

	// Exercise the draw range; invariants must hold for every outcome.
	for _, draw := range []float64{0.0, 0.1, 0.5, 0.9, 0.999} {
		f := newFakeMessageStore()
		seedRedpacket(t, f, "rp1", "1.00", 3, "lucky")

		for i := 0; i < 3; i++ {
			amount, _, err := claimRedpacket(f, "g1", "rp1", fmt.Sprintf("acct_%d", i), fixedDraw(draw))
			require.NoError(t, err)
			assert.True(t, amount.GreaterThanOrEqual(decimal.RequireFromString("0.01")),
				"draw=%v claim %d too small: %s", draw, i, amount)
		}

		state := currentState(t, f, "rp1")
		sum := claimedSum(state)
		assert.True(t, sum.LessThanOrEqual(total), "draw=%v sum %s exceeds total", draw, sum)
		assert.True(t, sum.GreaterThanOrEqual(lowerBound), "draw=%v sum %s below rounding bound", draw, sum)

		// A fourth claimant finds it exhausted.
		_, _, err := claimRedpacket(f, "g1", "rp1", "acct_late", fixedDraw(draw))
		require.Error(t, err)
		assert.Equal(t, KindExhausted, err.(*Error).Kind)
	}
}

func TestRedpacketDoubleClaim(t *testing.T) {
	f := newFakeMessageStore()
	seedRedpacket(t, f, "rp1", "5.00", 5, "lucky")

	_, _, err := claimRedpacket(f, "g1", "rp1", "a_wx", fixedDraw(0.4))
	require.NoError(t, err)

	_, _, err = claimRedpacket(f, "g1", "rp1", "A_WX", fixedDraw(0.4))
	require.Error(t, err)
	assert.Equal(t, KindAlreadyClaimed, err.(*Error).Kind, "duplicate claim must fail deterministically")

	state := currentState(t, f, "rp1")
	assert.Len(t, state.Claimed, 1)
}

func TestRedpacketNotFoundAndCorrupt(t *testing.T) {
	f := newFakeMessageStore()

	_, _, err := claimRedpacket(f, "g1", "missing", "a_wx", fixedDraw(0.5))
	require.Error(t, err)
	assert.Equal(t, KindNotFound, err.(*Error).Kind)

	f.messages["plain"] = &store.GroupMessage{ID: "plain", GroupID: "g1", MsgType: "text", Content: "hi"}
	_, _, err = claimRedpacket(f, "g1", "plain", "a_wx", fixedDraw(0.5))
	require.Error(t, err)
	assert.Equal(t, KindNotFound, err.(*Error).Kind)

	f.messages["corrupt"] = &store.GroupMessage{ID: "corrupt", GroupID: "g1", MsgType: "redpacket", Content: "{"}
	_, _, err = claimRedpacket(f, "g1", "corrupt", "a_wx", fixedDraw(0.5))
	require.Error(t, err)
	assert.Equal(t, KindInconsistent, err.(*Error).Kind)
}

func TestRedpacketCrossGroupClaim(t *testing.T) {
	f := newFakeMessageStore()
	seedRedpacket(t, f, "rp1", "5.00", 5, "lucky")

	// Membership in some other group never reaches a packet stored in g1.
	_, _, err := claimRedpacket(f, "g2", "rp1", "a_wx", fixedDraw(0.4))
	require.Error(t, err)
	assert.Equal(t, KindNotFound, err.(*Error).Kind)

	state := currentState(t, f, "rp1")
	assert.Empty(t, state.Claimed)
	assert.Equal(t, 0, state.Version)

	// The same claim through the right group succeeds.
	_, _, err = claimRedpacket(f, "g1", "rp1", "a_wx", fixedDraw(0.4))
	require.NoError(t, err)
}

func TestRedpacketConcurrentClaims(t *testing.T) {
	f := newFakeMessageStore()
	seedRedpacket(t, f, "rp1", "10.00", 8, "lucky")

	// Concurrent claimers serialized the way the handler serializes them:
	// one lock per message id.
	locks := newLockTable()
	var wg sync.WaitGroup
	errs := make([]error, 16)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lock := locks.get("rp1")
			lock.Lock()
			_, _, errs[i] = claimRedpacket(f, "g1", "rp1", fmt.Sprintf("acct_%d", i), fixedDraw(0.3))
			lock.Unlock()
			locks.put("rp1")
		}(i)
	}
	wg.Wait()

	// Once the last claimer puts its key back the table is empty again.
	assert.Empty(t, locks.locks)

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.Equal(t, KindExhausted, err.(*Error).Kind)
		}
	}
	assert.Equal(t, 8, succeeded, "claims must not exceed count")

	state := currentState(t, f, "rp1")
	assert.Len(t, state.Claimed, 8)
	assert.True(t, claimedSum(state).LessThanOrEqual(decimal.RequireFromString("10.00")))

	seen := make(map[string]bool)
	for _, claimant := range state.Claimed {
		assert.False(t, seen[claimant], "claimant %s appears twice", claimant)
		seen[claimant] = true
	}
}

func TestRedpacketCASRetry(t *testing.T) {
	f := newFakeMessageStore()
	seedRedpacket(t, f, "rp1", "2.00", 4, "average")

	// An unserialized writer sneaks in between read and swap; the claim
	// must retry against the fresh row rather than clobber it.
	raced := false
	racing := &racingStore{fakeMessageStore: f, onSwap: func() {
		if !raced {
			raced = true
			_, _, err := claimRedpacket(f, "g1", "rp1", "sneaky", fixedDraw(0.5))
			require.NoError(t, err)
		}
	}}

	_, state, err := claimRedpacket(racing, "g1", "rp1", "patient", fixedDraw(0.5))
	require.NoError(t, err)
	assert.True(t, raced)
	assert.Len(t, state.Claimed, 2)
	assert.Contains(t, state.Claimed, "sneaky")
	assert.Contains(t, state.Claimed, "patient")
}

type racingStore struct {
	*fakeMessageStore
	onSwap func()
}

func (r *racingStore) SwapGroupMessageContent(id, prev, next string) (bool, error) {
	r.onSwap()
	return r.fakeMessageStore.SwapGroupMessageContent(id, prev, next)
}

func TestClaimLockEviction(t *testing.T) {
	locks := newLockTable()

	a := locks.get("rp1")
	b := locks.get("rp1")
	assert.Same(t, a, b, "concurrent claimers share one lock")

	locks.put("rp1")
	assert.Len(t, locks.locks, 1, "entry survives while a holder remains")
	locks.put("rp1")
	assert.Empty(t, locks.locks)

	assert.NotSame(t, a, locks.get("rp1"), "a later claim gets a fresh entry")
	locks.put("rp1")
}

func TestComputeClaimAmountBounds(t *testing.T) {
	remaining := decimal.RequireFromString("1.00")

	// Last claimant always takes the remainder regardless of type.
	assert.True(t, computeClaimAmount("lucky", remaining, 1, fixedDraw(0.9)).Equal(remaining))
	assert.True(t, computeClaimAmount("average", remaining, 1, fixedDraw(0.9)).Equal(remaining))

	for _, draw := range []float64{0, 0.25, 0.5, 0.75, 0.9999} {
		amount := computeClaimAmount("lucky", remaining, 3, fixedDraw(draw))
		maxDraw := decimal.RequireFromString("0.98")
		assert.True(t, amount.GreaterThanOrEqual(decimal.RequireFromString("0.01")), "draw=%v", draw)
		assert.True(t, amount.LessThanOrEqual(maxDraw), "draw=%v amount=%s", draw, amount)
		assert.Equal(t, int32(-2), minExponent(amount), "amounts carry at most two decimals")
	}
}

func minExponent(d decimal.Decimal) int32 {
	if d.Exponent() < -2 {
		return d.Exponent()
	}
	return -2
}
