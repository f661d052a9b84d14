package slackirc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rosterContext(dest string, inChannel map[string]bool) *RenderContext {
	users := map[string]string{
		"U01": "bob",
		"U02": "carol",
		"U03": "rose",
	}
	channels := map[string]string{
		"C01": "general",
		"C02": "sales",
	}
	return &RenderContext{
		SelfNick:    "alice",
		Destination: dest,
		UserNameByID: func(id string) (string, bool) {
			n, ok := users[id]
			return n, ok
		},
		ChannelNameByID: func(id string) (string, bool) {
			n, ok := channels[id]
			return n, ok
		},
		InDestination: func(id string) bool {
			return inChannel[id]
		},
	}
}

func TestTokenizeText(t *testing.T) {
	spans := Tokenize("hello world")
	require.Len(t, spans, 1)
	assert.Equal(t, SpanText, spans[0].Kind)
	assert.Equal(t, "hello world", spans[0].Text)
}

func TestTokenizeMention(t *testing.T) {
	spans := Tokenize("<@U02> see <https://x.y|docs>")
	require.Len(t, spans, 3)
	assert.Equal(t, SpanMention, spans[0].Kind)
	assert.Equal(t, "U02", spans[0].ID)
	assert.Equal(t, SpanText, spans[1].Kind)
	assert.Equal(t, SpanLink, spans[2].Kind)
	assert.Equal(t, "https://x.y", spans[2].ID)
	assert.Equal(t, "docs", spans[2].Label)
}

func TestTokenizeEntities(t *testing.T) {
	spans := Tokenize("a &amp; b &lt;c&gt;")
	require.Len(t, spans, 1)
	assert.Equal(t, "a & b <c>", spans[0].Text)
}

func TestTokenizePreBlock(t *testing.T) {
	spans := Tokenize("before ```code <@U01> :smile:``` after")
	require.Len(t, spans, 3)
	assert.Equal(t, SpanText, spans[0].Kind)
	assert.Equal(t, SpanPre, spans[1].Kind)
	// no mention or emoji expansion inside fences
	assert.Equal(t, "code <@U01> :smile:", spans[1].Text)
	assert.Equal(t, SpanText, spans[2].Kind)
}

func TestTokenizeEmoji(t *testing.T) {
	spans := Tokenize("nice :thumbsup: indeed")
	require.Len(t, spans, 3)
	assert.Equal(t, SpanEmoji, spans[1].Kind)
	assert.Equal(t, "thumbsup", spans[1].Text)
}

func TestRenderMentionInChannel(t *testing.T) {
	rc := rosterContext("#general", map[string]bool{"U02": true})
	out := RenderToIRC(Tokenize("<@U02> see <https://x.y|docs>"), rc)
	assert.Equal(t, "@carol see docs (https://x.y)", out)
}

func TestRenderMentionNotInChannel(t *testing.T) {
	rc := rosterContext("#general", map[string]bool{})
	out := RenderToIRC(Tokenize("<@U02> see <https://x.y|docs>"), rc)
	assert.Equal(t, "carol see docs (https://x.y)", out)
}

func TestRenderMentionUnknownWithLabel(t *testing.T) {
	rc := rosterContext("#general", nil)
	assert.Equal(t, "dave", RenderToIRC(Tokenize("<@U99|dave>"), rc))
	assert.Equal(t, "U99", RenderToIRC(Tokenize("<@U99>"), rc))
}

func TestRenderRoomMention(t *testing.T) {
	rc := rosterContext("#general", nil)
	assert.Equal(t, "#sales", RenderToIRC(Tokenize("<#C02>"), rc))
	assert.Equal(t, "#C99", RenderToIRC(Tokenize("<#C99>"), rc))
}

func TestRenderSpecialSilenced(t *testing.T) {
	rc := rosterContext("#sales", nil)
	rc.SilencedYeller = true
	out := RenderToIRC(Tokenize("<!here> lunch?"), rc)
	assert.Equal(t, "yelling here lunch?", out)
	assert.NotContains(t, out, "alice")
}

func TestRenderSpecialNotSilenced(t *testing.T) {
	rc := rosterContext("#sales", nil)
	out := RenderToIRC(Tokenize("<!here> lunch?"), rc)
	assert.Equal(t, "@here [alice] lunch?", out)
}

func TestRenderLinkHeuristic(t *testing.T) {
	// label is the URL again: render the URL alone
	assert.Equal(t, "https://x.y", renderLink("https://x.y", "https://x.y"))
	assert.Equal(t, "https://x.y/", renderLink("https://x.y/", "https://x.y"))
	assert.Equal(t, "https://x.y", renderLink("https://x.y", "https://x.y/"))
	// label is another URL: LINK
	assert.Equal(t, "LINK (https://x.y)", renderLink("https://x.y", "https://other.example"))
	// textual label
	assert.Equal(t, "docs (https://x.y)", renderLink("https://x.y", "docs"))
	// no label
	assert.Equal(t, "https://x.y", renderLink("https://x.y", ""))
}

func TestRenderEmoji(t *testing.T) {
	rc := rosterContext("", nil)
	out := RenderToIRC(Tokenize(":thumbsup:"), rc)
	assert.NotEqual(t, ":thumbsup:", out)
	// unknown shortcodes pass through
	assert.Equal(t, ":not-an-emoji-at-all:", RenderToIRC(Tokenize(":not-an-emoji-at-all:"), rc))
}

func TestRenderPreSpill(t *testing.T) {
	rc := rosterContext("#general", nil)
	rc.MaxPreLines = 2
	var spilled string
	rc.SpillPre = func(text string) (string, bool) {
		spilled = text
		return "file:///tmp/general-1.txt", true
	}
	out := RenderToIRC(Tokenize("```a\nb\nc\nd\n```"), rc)
	assert.Contains(t, out, "file:///tmp/general-1.txt")
	assert.Equal(t, "a\nb\nc\nd\n", spilled)

	// short blocks stay inline
	out = RenderToIRC(Tokenize("```a\nb```"), rc)
	assert.Equal(t, "```a\nb```", out)
}

func outgoingRoster() *OutgoingContext {
	users := map[string]string{"carol": "U02", "bob": "U01"}
	channels := map[string]string{"general": "C01"}
	return &OutgoingContext{
		UserIDByNick: func(nick string) (string, bool) {
			id, ok := users[nick]
			return id, ok
		},
		ChannelIDByName: func(name string) (string, bool) {
			id, ok := channels[name]
			return id, ok
		},
	}
}

func TestRenderToSlack(t *testing.T) {
	oc := outgoingRoster()
	assert.Equal(t, "<@U02> hi", RenderToSlack("@carol hi", oc))
	assert.Equal(t, "<@U02>: hi", RenderToSlack("carol: hi", oc))
	assert.Equal(t, "see <#C01|general> now", RenderToSlack("see #general now", oc))
	assert.Equal(t, "<!here> folks", RenderToSlack("@here folks", oc))
	assert.Equal(t, "@unknownnick hi", RenderToSlack("@unknownnick hi", oc))
	assert.Equal(t, "1 &lt; 2 &amp; 3", RenderToSlack("1 < 2 & 3", oc))
}

// Round-trip: translating an outgoing message and tokenizing the
// result yields the same span sequence as the message with the ids
// substituted by hand.
func TestOutgoingRoundTrip(t *testing.T) {
	oc := outgoingRoster()
	text := "@carol have a look at #general please"
	substituted := "<@U02> have a look at <#C01|general> please"
	got := Tokenize(RenderToSlack(text, oc))
	want := Tokenize(substituted)
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.Equal(t, want[i], got[i])
	}
}

func TestSplitTrailingPunct(t *testing.T) {
	name, punct := splitTrailingPunct("carol,")
	assert.Equal(t, "carol", name)
	assert.Equal(t, ",", punct)
	name, punct = splitTrailingPunct("carol")
	assert.Equal(t, "carol", name)
	assert.Equal(t, "", punct)
}

func TestUnescapePre(t *testing.T) {
	assert.Equal(t, "curl http://example.com", unescapePre("curl <http://example.com>"))
	assert.Equal(t, "asd.com", unescapePre("<http://asd.com|asd.com>"))
	assert.Equal(t, "a < b", unescapePre("a &lt; b"))
}

func TestRenderMultilineKeepsLines(t *testing.T) {
	rc := rosterContext("#general", nil)
	out := RenderToIRC(Tokenize("one\ntwo"), rc)
	assert.Equal(t, []string{"one", "two"}, strings.Split(out, "\n"))
}
