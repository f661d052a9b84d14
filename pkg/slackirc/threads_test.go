package slackirc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadsObserve(t *testing.T) {
	threads := NewThreads()
	th := threads.Observe("C01", "1700000000.000100", "#general")
	require.NotNil(t, th)
	assert.True(t, strings.HasPrefix(th.IRCName, "#general-0x"))
	assert.Equal(t, "Thread in #general", th.Topic())
	assert.Equal(t, "C01", th.ChannelID)
	assert.Equal(t, "1700000000.000100", th.ThreadTs)
}

func TestThreadsObserveStable(t *testing.T) {
	threads := NewThreads()
	a := threads.Observe("C01", "1700000000.000100", "#general")
	b := threads.Observe("C01", "1700000000.000100", "#general")
	assert.Same(t, a, b)
	assert.Equal(t, a.IRCName, b.IRCName)
}

func TestThreadsLookups(t *testing.T) {
	threads := NewThreads()
	th := threads.Observe("C01", "1700000000.000100", "#general")
	assert.Same(t, th, threads.ByName(th.IRCName))
	assert.Same(t, th, threads.ByKey("C01", "1700000000.000100"))
	assert.Nil(t, threads.ByName("#general-0xdeadbeef"))
	assert.True(t, threads.Known(th.IRCName))
	assert.False(t, threads.Known("#general-0x000000"))
}

// Names must stay collision-free within a session, whatever the
// timestamps are.
func TestThreadsNoCollisions(t *testing.T) {
	threads := NewThreads()
	seen := make(map[string]string)
	for i := 0; i < 5000; i++ {
		ts := fmt.Sprintf("1700%06d.%06d", i, i)
		th := threads.Observe("C01", ts, "#general")
		if prev, ok := seen[th.IRCName]; ok {
			t.Fatalf("name %s used for both %s and %s", th.IRCName, prev, ts)
		}
		seen[th.IRCName] = ts
	}
}

func TestThreadsDifferentParents(t *testing.T) {
	threads := NewThreads()
	a := threads.Observe("C01", "1700000000.000100", "#general")
	b := threads.Observe("C02", "1700000000.000100", "#sales")
	assert.NotEqual(t, a.IRCName, b.IRCName)
	assert.True(t, strings.HasPrefix(b.IRCName, "#sales-0x"))
}
