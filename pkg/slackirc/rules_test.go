package slackirc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnoyWindow(t *testing.T) {
	r := NewRules(nil)
	now := time.Now()
	r.AddAnnoy("U01", now.Add(10*time.Minute))

	// inside the window
	assert.True(t, r.ShouldAnnoy("U01", now, annoyDebounce))
	// debounced
	assert.False(t, r.ShouldAnnoy("U01", now.Add(time.Second), annoyDebounce))
	// past the debounce
	assert.True(t, r.ShouldAnnoy("U01", now.Add(5*time.Second), annoyDebounce))
	// outside the window: zero fires
	assert.False(t, r.ShouldAnnoy("U01", now.Add(11*time.Minute), annoyDebounce))
	// never registered
	assert.False(t, r.ShouldAnnoy("U02", now, annoyDebounce))
}

func TestAnnoyDrop(t *testing.T) {
	r := NewRules(nil)
	r.AddAnnoy("U01", time.Now().Add(time.Minute))
	assert.True(t, r.DropAnnoy("U01"))
	assert.False(t, r.DropAnnoy("U01"))
	assert.False(t, r.ShouldAnnoy("U01", time.Now(), annoyDebounce))
}

func TestAutoreactProbabilityOne(t *testing.T) {
	r := NewRules(nil)
	now := time.Now()
	r.AddAutoreact("U01", AutoreactRule{Probability: 1, Reaction: "wave", Expiry: now.Add(time.Minute)})

	// p=1 with a non-expired rule posts exactly one reaction per
	// observed message
	for i := 0; i < 10; i++ {
		got := r.ReactionsFor("U01", "C01", now, func() float64 { return 0.999999 })
		require.Equal(t, []string{"wave"}, got)
	}
	// expired rule never fires
	got := r.ReactionsFor("U01", "C01", now.Add(2*time.Minute), func() float64 { return 0 })
	assert.Empty(t, got)
	// other users never fire
	assert.Empty(t, r.ReactionsFor("U02", "C01", now, func() float64 { return 0 }))
}

func TestAutoreactProbabilityZero(t *testing.T) {
	r := NewRules(nil)
	now := time.Now()
	r.AddAutoreact("U01", AutoreactRule{Probability: 0, Reaction: "wave", Expiry: now.Add(time.Minute)})
	assert.Empty(t, r.ReactionsFor("U01", "C01", now, func() float64 { return 0 }))
}

func TestAutoreactRoomScope(t *testing.T) {
	r := NewRules(nil)
	now := time.Now()
	r.AddAutoreact("U01", AutoreactRule{ChannelID: "C01", Probability: 1, Reaction: "eyes", Expiry: now.Add(time.Minute)})
	assert.Equal(t, []string{"eyes"}, r.ReactionsFor("U01", "C01", now, func() float64 { return 0 }))
	assert.Empty(t, r.ReactionsFor("U01", "C02", now, func() float64 { return 0 }))
}

func TestSweepExpires(t *testing.T) {
	mutations := 0
	r := NewRules(func() { mutations++ })
	now := time.Now()
	r.AddAnnoy("U01", now.Add(-time.Minute))
	r.AddAnnoy("U02", now.Add(time.Hour))
	r.AddAutoreact("U03", AutoreactRule{Probability: 1, Reaction: "wave", Expiry: now.Add(-time.Second)})

	expired := r.Sweep(now)
	assert.Equal(t, []string{"U01", "U03"}, expired)
	assert.False(t, r.ShouldAnnoy("U01", now, annoyDebounce))
	assert.True(t, r.ShouldAnnoy("U02", now, annoyDebounce))
	assert.Empty(t, r.AutoreactSnapshot())

	// nothing more to expire
	assert.Empty(t, r.Sweep(now))
	// 3 adds + 1 sweep
	assert.Equal(t, 4, mutations)
}

func TestRulesMutationCallback(t *testing.T) {
	saved := 0
	r := NewRules(func() { saved++ })
	r.AddAnnoy("U01", time.Now().Add(time.Minute))
	r.DropAnnoy("U01")
	r.AddAutoreact("U02", AutoreactRule{Probability: 0.5, Reaction: "wave", Expiry: time.Now().Add(time.Minute)})
	r.DropAutoreact("U02")
	assert.Equal(t, 4, saved)
}
