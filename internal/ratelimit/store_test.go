package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_PushAndEvict(t *testing.T) {
	w := &window{}
	assert.Equal(t, 0, w.len())
	_, ok := w.oldest()
	assert.False(t, ok)

	for i := 0; i < 5; i++ {
		w.push(at(float64(i)))
	}
	assert.Equal(t, 5, w.len())

	removed := w.evictThrough(at(1))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 3, w.len())

	oldest, ok := w.oldest()
	require.True(t, ok)
	assert.Equal(t, at(2), oldest)

	removed = w.evictThrough(at(100))
	assert.Equal(t, 3, removed)
	assert.Equal(t, 0, w.len())
	assert.Equal(t, 0, w.head)
	assert.Equal(t, at(4), w.last, "last survives eviction")
}

func TestWindow_Compaction(t *testing.T) {
	w := &window{}
	for i := 0; i < 100; i++ {
		w.push(at(float64(i)))
	}

	// Dropping 60 of 100 entries crosses the half-way mark and compacts.
	w.evictThrough(at(59))
	assert.Equal(t, 0, w.head)
	assert.Equal(t, 40, w.len())
	assert.Len(t, w.times, 40)

	oldest, _ := w.oldest()
	assert.Equal(t, at(60), oldest)

	// A small dead prefix is left in place.
	w.evictThrough(at(61))
	assert.Equal(t, 2, w.head)
	assert.Equal(t, 38, w.len())

	w.push(at(100))
	assert.Equal(t, 39, w.len())
	oldest, _ = w.oldest()
	assert.Equal(t, at(62), oldest)
}

func TestWindow_LongRunningStaysBounded(t *testing.T) {
	w := &window{}
	span := 10 * time.Second
	for i := 0; i < 10_000; i++ {
		now := at(float64(i) * 0.5)
		w.evictThrough(now.Add(-span))
		w.push(now)
		assert.LessOrEqual(t, w.len(), 20)
	}
	assert.Less(t, len(w.times), 2*compactMin+40)
}

func TestStore_Operations(t *testing.T) {
	s := newStore[string](10 * time.Second)

	assert.Equal(t, 0, s.evictExpired("ghost", at(0)), "unknown user is a no-op")
	assert.Equal(t, 0, s.users())
	assert.Equal(t, 0, s.count("ghost"))

	s.ensure("u1")
	assert.Equal(t, 1, s.users())
	_, ok := s.last("u1")
	assert.False(t, ok)

	s.append("u1", at(0))
	s.append("u1", at(5))
	s.append("u2", at(1))
	assert.Equal(t, 2, s.count("u1"))
	assert.Equal(t, 2, s.users())

	oldest, ok := s.oldest("u1")
	require.True(t, ok)
	assert.Equal(t, at(0), oldest)

	assert.Equal(t, 1, s.evictExpired("u1", at(10)))
	assert.Equal(t, 1, s.count("u1"))
	assert.Equal(t, 1, s.count("u2"), "eviction is per user")

	last, ok := s.last("u1")
	require.True(t, ok)
	assert.Equal(t, at(5), last)

	s.clear("u1")
	assert.Equal(t, 0, s.count("u1"))
	_, ok = s.last("u1")
	assert.False(t, ok)

	s.clearAll()
	assert.Equal(t, 0, s.users())
}
