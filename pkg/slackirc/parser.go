package slackirc

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// SpanKind tags the typed spans produced by Tokenize.
type SpanKind int

// Span kinds, in the order they appear in the message grammar.
const (
	SpanText SpanKind = iota
	SpanMention
	SpanRoomMention
	SpanSpecial
	SpanLink
	SpanEmoji
	SpanPre
)

// Span is one token of a Slack message. Text carries literal text, the
// contents of a preformatted block, or the emoji shortcode name. ID
// carries the user/channel id, the special key (here/channel/everyone),
// or the link URL. Label is the optional human-readable part after "|".
type Span struct {
	Kind  SpanKind
	Text  string
	ID    string
	Label string
}

var rxEmoji = regexp.MustCompile(`:[a-zA-Z0-9_+'-]+:`)

// Tokenize parses Slack's message markup into a flat span sequence.
// Triple-backtick fences produce Pre spans whose contents are not
// scanned for mentions or emoji. HTML entities are unescaped in text
// spans and in preformatted blocks.
func Tokenize(msg string) []Span {
	var spans []Span
	pre := false
	for {
		idx := strings.Index(msg, "```")
		var block string
		if idx < 0 {
			block = msg
		} else {
			block = msg[:idx]
			msg = msg[idx+3:]
		}
		if pre {
			spans = append(spans, Span{Kind: SpanPre, Text: unescapePre(block)})
		} else if block != "" {
			spans = append(spans, tokenizeFlow(block)...)
		}
		if idx < 0 {
			break
		}
		pre = !pre
	}
	return spans
}

// tokenizeFlow handles a non-preformatted stretch of the message: angle
// bracket items, emoji shortcodes, and plain text.
func tokenizeFlow(msg string) []Span {
	var spans []Span
	for len(msg) > 0 {
		begin := strings.Index(msg, "<")
		if begin < 0 {
			spans = append(spans, textSpans(msg)...)
			break
		}
		if begin > 0 {
			spans = append(spans, textSpans(msg[:begin])...)
			msg = msg[begin:]
		}
		end := strings.Index(msg, ">")
		if end < 0 {
			// unbalanced tag, treat the rest as text
			spans = append(spans, textSpans(msg)...)
			break
		}
		spans = append(spans, classifyItem(msg[1:end]))
		msg = msg[end+1:]
	}
	return spans
}

// classifyItem decodes the inside of a <...> item.
func classifyItem(body string) Span {
	val := body
	label := ""
	if sep := strings.Index(body, "|"); sep >= 0 {
		val = body[:sep]
		label = body[sep+1:]
	}
	switch {
	case strings.HasPrefix(val, "@"):
		return Span{Kind: SpanMention, ID: val[1:], Label: label}
	case strings.HasPrefix(val, "#"):
		return Span{Kind: SpanRoomMention, ID: val[1:], Label: label}
	case strings.HasPrefix(val, "!"):
		return Span{Kind: SpanSpecial, ID: val[1:], Label: label}
	default:
		return Span{Kind: SpanLink, ID: val, Label: label}
	}
}

// textSpans splits plain text into literal and emoji spans.
func textSpans(text string) []Span {
	var spans []Span
	for len(text) > 0 {
		loc := rxEmoji.FindStringIndex(text)
		if loc == nil {
			spans = append(spans, Span{Kind: SpanText, Text: html.UnescapeString(text)})
			break
		}
		if loc[0] > 0 {
			spans = append(spans, Span{Kind: SpanText, Text: html.UnescapeString(text[:loc[0]])})
		}
		spans = append(spans, Span{Kind: SpanEmoji, Text: text[loc[0]+1 : loc[1]-1]})
		text = text[loc[1]:]
	}
	return spans
}

func unescapePre(text string) string {
	// links can still show up inside preformatted blocks, with the
	// usual <url|label> form when Slack linkifies something
	var sb strings.Builder
	for len(text) > 0 {
		begin := strings.Index(text, "<")
		if begin < 0 {
			sb.WriteString(text)
			break
		}
		sb.WriteString(text[:begin])
		text = text[begin:]
		end := strings.Index(text, ">")
		if end < 0 {
			sb.WriteString(text)
			break
		}
		item := classifyItem(text[1:end])
		if item.Kind == SpanLink {
			if item.Label != "" {
				sb.WriteString(item.Label)
			} else {
				sb.WriteString(item.ID)
			}
		} else {
			sb.WriteString(text[:end+1])
		}
		text = text[end+1:]
	}
	return html.UnescapeString(sb.String())
}

// RenderContext carries the roster view needed to render spans for one
// destination. The function fields keep the parser independent from the
// session caches; a nil field degrades to the raw-id fallback.
type RenderContext struct {
	// SelfNick is the nick of the attached IRC client.
	SelfNick string
	// Destination is the IRC channel the message is delivered to, or
	// empty for direct message queries.
	Destination string
	// SilencedYeller is true when the sender or the destination is in
	// the silenced-yellers set.
	SilencedYeller bool

	UserNameByID    func(id string) (string, bool)
	ChannelNameByID func(id string) (string, bool)
	// InDestination reports whether the given user id is a member of
	// the delivering IRC channel.
	InDestination func(userID string) bool

	// MaxPreLines is the line threshold above which a preformatted
	// block is written out through SpillPre instead of being inlined.
	// Zero disables spilling.
	MaxPreLines int
	// SpillPre stores an overflowing preformatted block and returns a
	// reference to deliver in its place.
	SpillPre func(text string) (string, bool)
}

// RenderToIRC renders a span sequence into IRC-safe text.
func RenderToIRC(spans []Span, rc *RenderContext) string {
	var sb strings.Builder
	for _, s := range spans {
		switch s.Kind {
		case SpanText:
			sb.WriteString(s.Text)
		case SpanMention:
			sb.WriteString(renderMention(s, rc))
		case SpanRoomMention:
			if rc.ChannelNameByID != nil {
				if name, ok := rc.ChannelNameByID(s.ID); ok {
					sb.WriteString("#" + name)
					continue
				}
			}
			sb.WriteString("#" + s.ID)
		case SpanSpecial:
			sb.WriteString(renderSpecial(s, rc))
		case SpanLink:
			sb.WriteString(renderLink(s.ID, s.Label))
		case SpanEmoji:
			if e, ok := emojiFromCode(s.Text); ok {
				sb.WriteString(e)
			} else {
				sb.WriteString(":" + s.Text + ":")
			}
		case SpanPre:
			sb.WriteString(renderPre(s.Text, rc))
		}
	}
	return sb.String()
}

func renderMention(s Span, rc *RenderContext) string {
	if rc.UserNameByID != nil {
		if name, ok := rc.UserNameByID(s.ID); ok {
			if rc.InDestination != nil && rc.InDestination(s.ID) {
				// highlight only when the target can actually see it
				return "@" + name
			}
			return name
		}
	}
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

func renderSpecial(s Span, rc *RenderContext) string {
	word := s.ID
	if rc.SilencedYeller {
		return "yelling " + word
	}
	out := "@" + word
	if rc.SelfNick != "" {
		out += " [" + rc.SelfNick + "]"
	}
	return out
}

// renderLink applies the label heuristic: a label that is just the URL
// again (modulo one trailing slash, compared literally) is dropped; a
// label that is itself another URL is replaced with the word LINK.
func renderLink(url, label string) string {
	if label == "" || label == url || label+"/" == url || url+"/" == label {
		return url
	}
	if strings.Contains(label, "://") {
		label = "LINK"
	}
	return fmt.Sprintf("%s (%s)", label, url)
}

func renderPre(text string, rc *RenderContext) string {
	if rc.MaxPreLines > 0 && strings.Count(text, "\n") > rc.MaxPreLines && rc.SpillPre != nil {
		if ref, ok := rc.SpillPre(text); ok {
			return "\n=== PREFORMATTED TEXT AT " + ref + "\n"
		}
	}
	return "```" + text + "```"
}

// OutgoingContext carries the lookups for the IRC-to-Slack direction.
type OutgoingContext struct {
	UserIDByNick    func(nick string) (string, bool)
	ChannelIDByName func(name string) (string, bool)
}

var outgoingEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// RenderToSlack translates an outgoing IRC message into Slack markup:
// nick tokens preceded by @ or followed by : become <@id> when the nick
// is known, #name tokens become <#id|name>, the @here family becomes
// <!here> and friends. Everything else passes through verbatim.
func RenderToSlack(text string, oc *OutgoingContext) string {
	tokens := strings.Split(outgoingEscaper.Replace(text), " ")
	for idx, token := range tokens {
		switch token {
		case "@here":
			tokens[idx] = "<!here>"
			continue
		case "@channel":
			tokens[idx] = "<!channel>"
			continue
		case "@everyone":
			tokens[idx] = "<!everyone>"
			continue
		}
		if strings.HasPrefix(token, "@") && oc.UserIDByNick != nil {
			nick, punct := splitTrailingPunct(token[1:])
			if id, ok := oc.UserIDByNick(nick); ok {
				tokens[idx] = "<@" + id + ">" + punct
				continue
			}
		}
		if strings.HasSuffix(token, ":") && oc.UserIDByNick != nil {
			if id, ok := oc.UserIDByNick(token[:len(token)-1]); ok {
				tokens[idx] = "<@" + id + ">:"
				continue
			}
		}
		if strings.HasPrefix(token, "#") && oc.ChannelIDByName != nil {
			name, punct := splitTrailingPunct(token[1:])
			if id, ok := oc.ChannelIDByName(name); ok {
				tokens[idx] = "<#" + id + "|" + name + ">" + punct
			}
		}
	}
	return strings.Join(tokens, " ")
}

func splitTrailingPunct(token string) (string, string) {
	cut := len(token)
	for cut > 0 && strings.ContainsRune(",.;:!?", rune(token[cut-1])) {
		cut--
	}
	return token[:cut], token[cut:]
}
