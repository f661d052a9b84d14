package slackirc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var fox = "The quick brown fox jumps over the lazy dog"

func chunkContext(chunkSize int) *Context {
	return &Context{
		ServerName: "localhost",
		Settings:   ClientSettings{ChunkSize: chunkSize},
	}
}

func TestWrapWordsMultiLine(t *testing.T) {
	wrapped := wrapWords(strings.Fields(fox), 10)
	require.Equal(t, []string{"The quick", "brown fox", "jumps over", "the lazy", "dog"}, wrapped)
}

func TestWrapWordsSingleLine(t *testing.T) {
	wrapped := wrapWords(strings.Fields(fox), 100)
	require.Equal(t, []string{fox}, wrapped)
}

func TestWrapWordsTruncatesLongWords(t *testing.T) {
	wrapped := wrapWords(strings.Fields(fox), 3)
	require.Equal(t, []string{"The", "qui", "bro", "fox", "jum", "ove", "the", "laz", "dog"}, wrapped)
}

func TestWrapWordsEmpty(t *testing.T) {
	require.Empty(t, wrapWords(nil, 10))
}

func TestChunkNumericUnsafeCodeNeverSplits(t *testing.T) {
	ic := chunkContext(512)
	long := strings.Repeat("word ", 200)
	chunks := ic.chunkNumeric(322, ":localhost 322 alice #general 4 :", long)
	require.Equal(t, 1, len(chunks))
}

func TestChunkNumericShortReplyGoesOutWhole(t *testing.T) {
	ic := chunkContext(512)
	chunks := ic.chunkNumeric(353, ":localhost 353 alice = #general :", "bob carol")
	require.Equal(t, []string{":localhost 353 alice = #general :bob carol\r\n"}, chunks)
}

func TestChunkNumericDisabledBelowRFCMinimum(t *testing.T) {
	ic := chunkContext(0)
	long := strings.Repeat("somenick ", 100)
	chunks := ic.chunkNumeric(353, ":localhost 353 alice = #general :", long)
	require.Equal(t, 1, len(chunks))
}

func TestChunkNumericSplitsNamesReply(t *testing.T) {
	ic := chunkContext(512)
	preamble := ":localhost 353 alice = #general :"
	long := strings.TrimSpace(strings.Repeat("somenick ", 100))
	chunks := ic.chunkNumeric(353, preamble, long)
	require.Greater(t, len(chunks), 1)
	var names []string
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 512)
		require.True(t, strings.HasPrefix(c, preamble))
		require.True(t, strings.HasSuffix(c, "\r\n"))
		body := strings.TrimSuffix(strings.TrimPrefix(c, preamble), "\r\n")
		names = append(names, strings.Fields(body)...)
	}
	// no nick is lost or duplicated by the split
	require.Equal(t, strings.Fields(long), names)
}
