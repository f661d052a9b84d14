package slackirc

import (
	"github.com/kyokomi/emoji/v2"
)

// emojiFromCode resolves an emoji shortcode (without delimiters) to its
// unicode rendering. Skin-tone style modifiers are ignored: the base
// code is tried when the full code is unknown.
func emojiFromCode(name string) (string, bool) {
	codes := emoji.CodeMap()
	if e, ok := codes[":"+name+":"]; ok {
		return e, true
	}
	return "", false
}
