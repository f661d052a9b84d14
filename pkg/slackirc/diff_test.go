package slackirc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordDiffEqual(t *testing.T) {
	assert.Nil(t, WordDiff("the quick brown fox", "the quick brown fox"))
	assert.Nil(t, WordDiff("", ""))
}

func TestWordDiffSingleWord(t *testing.T) {
	e := WordDiff("the quick brown fox", "the quick red fox")
	require.NotNil(t, e)
	assert.Equal(t, "quick", e.PreContext)
	assert.Equal(t, "brown", e.Old)
	assert.Equal(t, "red", e.New)
	assert.Equal(t, "fox", e.PostContext)
	assert.Equal(t, "quick **brown → red** fox", e.String())
}

func TestWordDiffInsertion(t *testing.T) {
	e := WordDiff("the fox", "the quick fox")
	require.NotNil(t, e)
	assert.Equal(t, "the", e.PreContext)
	assert.Equal(t, "", e.Old)
	assert.Equal(t, "quick", e.New)
	assert.Equal(t, "fox", e.PostContext)
}

func TestWordDiffDeletion(t *testing.T) {
	e := WordDiff("the quick fox", "the fox")
	require.NotNil(t, e)
	assert.Equal(t, "quick", e.Old)
	assert.Equal(t, "", e.New)
}

func TestWordDiffAtStart(t *testing.T) {
	e := WordDiff("big dog", "small dog")
	require.NotNil(t, e)
	assert.Equal(t, "", e.PreContext)
	assert.Equal(t, "big", e.Old)
	assert.Equal(t, "small", e.New)
	assert.Equal(t, "dog", e.PostContext)
}

func TestWordDiffAtEnd(t *testing.T) {
	e := WordDiff("big dog", "big cat")
	require.NotNil(t, e)
	assert.Equal(t, "big", e.PreContext)
	assert.Equal(t, "dog", e.Old)
	assert.Equal(t, "cat", e.New)
	assert.Equal(t, "", e.PostContext)
}

// Applying the edit window to the original must reconstruct the edited
// message.
func TestWordDiffApply(t *testing.T) {
	cases := [][2]string{
		{"the quick brown fox", "the quick red fox"},
		{"the fox", "the quick fox"},
		{"the quick fox", "the fox"},
		{"a b c", "x y z"},
		{"hello", "goodbye"},
		{"one two three four", "one two 2.5 three four"},
		{"same prefix differs here end", "same prefix changed there end"},
	}
	for _, c := range cases {
		e := WordDiff(c[0], c[1])
		require.NotNil(t, e, "diff of %q vs %q", c[0], c[1])
		assert.Equal(t, c[1], e.Apply(c[0]), "apply of %q vs %q", c[0], c[1])
	}
}
