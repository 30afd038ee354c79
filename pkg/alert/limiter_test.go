package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_EvictsIdleDestinations(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter(2, 1) // two at once, refilled after two minutes

	for _, chat := range []string{"-1", "-2", "-3"} {
		ok, _ := l.Allow(chat, now)
		assert.True(t, ok)
	}
	assert.Equal(t, 3, l.Len())

	// "-1" keeps sending; the others go quiet past the refill window.
	now = now.Add(90 * time.Second)
	l.Allow("-1", now)
	now = now.Add(90 * time.Second)
	l.Allow("-1", now)
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_EvictionKeepsActiveLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter(1, 1)

	ok, _ := l.Allow("-1", now)
	assert.True(t, ok)
	ok, notify := l.Allow("-1", now)
	assert.False(t, ok)
	assert.True(t, notify)

	// A burst from another chat does not reset "-1"'s bucket.
	now = now.Add(10 * time.Second)
	l.Allow("-2", now)
	ok, notify = l.Allow("-1", now)
	assert.False(t, ok)
	assert.False(t, notify)
}
