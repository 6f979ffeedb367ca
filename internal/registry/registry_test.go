package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veena-u/logs-distributor/internal/events"
)

func TestAdmit_RejectsInvalidArguments(t *testing.T) {
	r := New(nil)

	require.Error(t, r.Admit("", "http://a:1", 1))
	require.Error(t, r.Admit("a1", "not-a-url", 1))
	require.Error(t, r.Admit("a1", "/relative/path", 1))
	require.Error(t, r.Admit("a1", "http://a:1", 0))
	require.Error(t, r.Admit("a1", "http://a:1", -1))
}

func TestAdmit_ReplaceResetsHealthAndWeight(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Admit("a1", "http://a:1", 1))

	r.RecordOutcome("a1", false, time.Millisecond, SourceDispatch)
	r.RecordOutcome("a1", false, time.Millisecond, SourceDispatch)
	r.RecordOutcome("a1", false, time.Millisecond, SourceDispatch)

	snap, err := r.Get("a1")
	require.NoError(t, err)
	assert.False(t, snap.Healthy)

	require.NoError(t, r.Admit("a1", "http://a:2", 5))
	snap, err = r.Get("a1")
	require.NoError(t, err)
	assert.True(t, snap.Healthy)
	assert.Equal(t, 5.0, snap.Weight)
	assert.Equal(t, "http://a:2", snap.Endpoint)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestEvict_Idempotent(t *testing.T) {
	bus := events.NewBus(10)
	r := New(bus)
	require.NoError(t, r.Admit("a1", "http://a:1", 1))

	r.Evict("a1")
	r.Evict("a1")

	_, err := r.Get("a1")
	assert.ErrorIs(t, err, ErrNotFound)

	evicted := 0
	for _, e := range bus.Recent(0) {
		if e.Kind == events.Evicted {
			evicted++
		}
	}
	assert.Equal(t, 1, evicted, "evict should only publish once for an already-absent id")
}

func TestSnapshot_SortedAndConsistent(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Admit("b", "http://b:1", 1))
	require.NoError(t, r.Admit("a", "http://a:1", 1))
	require.NoError(t, r.Admit("c", "http://c:1", 1))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
}

func TestRecordOutcome_DroppedAfterEviction(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Admit("a1", "http://a:1", 1))
	r.Evict("a1")

	// Must not panic and must not resurrect the record.
	r.RecordOutcome("a1", true, time.Millisecond, SourceDispatch)
	_, err := r.Get("a1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnyHealthy(t *testing.T) {
	r := New(nil)
	assert.False(t, r.AnyHealthy())

	require.NoError(t, r.Admit("a1", "http://a:1", 1))
	assert.True(t, r.AnyHealthy())

	for i := 0; i < 3; i++ {
		r.RecordOutcome("a1", false, time.Millisecond, SourceDispatch)
	}
	assert.False(t, r.AnyHealthy())
}
