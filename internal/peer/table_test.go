package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Observe_SelfIsNoOp(t *testing.T) {
	tbl := New("self-id", 10*time.Second)
	tbl.Observe("self-id", "Me")

	snap := tbl.Snapshot()
	assert.Empty(t, snap, "a device must never insert itself into its own peer table")
}

func Test_Observe_RefreshesExistingPeer(t *testing.T) {
	tbl := New("self-id", 10*time.Second)
	var now time.Time = time.Unix(1000, 0)
	tbl.nowFunc = func() time.Time { return now }

	tbl.Observe("a1", "Alice")
	first, ok := tbl.Get("a1")
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	tbl.Observe("a1", "Alice")
	second, ok := tbl.Get("a1")
	require.True(t, ok)

	assert.True(t, second.LastSeen.After(first.LastSeen))
}

func Test_ExpiryMonotonicity(t *testing.T) {
	var now = time.Unix(2000, 0)
	tbl := New("self-id", 10*time.Second)
	tbl.nowFunc = func() time.Time { return now }

	tbl.Observe("a1", "Alice")
	require.Len(t, tbl.Snapshot(), 1)

	now = now.Add(11 * time.Second)
	tbl.Sweep()

	assert.Empty(t, tbl.Snapshot(), "peer must be absent after expiry plus a sweep")
}

func Test_Snapshot_FiltersExpiredEvenBeforeSweep(t *testing.T) {
	var now = time.Unix(3000, 0)
	tbl := New("self-id", 5*time.Second)
	tbl.nowFunc = func() time.Time { return now }

	tbl.Observe("a1", "Alice")
	now = now.Add(6 * time.Second)

	assert.Empty(t, tbl.Snapshot())
}

func Test_Sweep_ReturnsRemovedIDs(t *testing.T) {
	var now = time.Unix(4000, 0)
	tbl := New("self-id", 5*time.Second)
	tbl.nowFunc = func() time.Time { return now }

	tbl.Observe("a1", "Alice")
	tbl.Observe("b2", "Bob")
	now = now.Add(10 * time.Second)

	removed := tbl.Sweep()
	assert.ElementsMatch(t, []string{"a1", "b2"}, removed)
}
