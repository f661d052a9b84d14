package slackirc

import (
	"sort"
	"strings"

	"github.com/slack-go/slack"
)

// Constants for the channel name prefixes used on the IRC side.
// Threads are not a conversation type on Slack; the bridge materialises
// them as synthetic # channels (see threads.go).
const (
	ChannelPrefixPublicChannel = "#"
	ChannelPrefixMpIM          = "&"
)

// HasChannelPrefix returns true if the name starts with one of the
// supported channel prefixes.
func HasChannelPrefix(name string) bool {
	if len(name) == 0 {
		return false
	}
	switch string(name[0]) {
	case ChannelPrefixPublicChannel, ChannelPrefixMpIM:
		return true
	default:
		return false
	}
}

// StripChannelPrefix returns a channel name without its channel prefix.
// If no channel prefix is present, the string is returned unchanged.
func StripChannelPrefix(name string) string {
	if HasChannelPrefix(name) {
		return name[1:]
	}
	return name
}

// Channel wraps a Slack conversation with a few utility functions.
type Channel slack.Channel

// IsPublicChannel returns true if the channel is public.
func (c *Channel) IsPublicChannel() bool {
	return c.IsChannel && !c.IsPrivate
}

// IsPrivateChannel returns true if the channel is private.
func (c *Channel) IsPrivateChannel() bool {
	return (c.IsGroup || c.IsChannel) && c.IsPrivate
}

// IsMP returns true if it is a multi-party conversation.
func (c *Channel) IsMP() bool {
	return c.IsMpIM
}

// IsDirect returns true for one-to-one conversations, which map to IRC
// queries rather than channels.
func (c *Channel) IsDirect() bool {
	return c.IsIM
}

// IRCName returns the channel name as it appears on IRC:
// #name for public and private channels, &nick,nick,… for multi-party
// IMs (sorted member nicks). Direct IMs have no channel name.
func (c *Channel) IRCName() string {
	switch {
	case c.IsMP():
		return ChannelPrefixMpIM + mpimNicks(c.Name)
	case c.IsDirect():
		return ""
	default:
		return ChannelPrefixPublicChannel + c.Name
	}
}

// mpimNicks derives the member nicks from an mpdm-style conversation
// name ("mpdm-alice--bob--carol-1") and joins them sorted.
func mpimNicks(name string) string {
	name = strings.TrimPrefix(name, "mpdm-")
	if idx := strings.LastIndex(name, "-"); idx >= 0 && !strings.Contains(name[idx:], "--") {
		name = name[:idx]
	}
	nicks := strings.Split(name, "--")
	sort.Strings(nicks)
	return strings.Join(nicks, ",")
}

// SlackName returns the slack.Channel.Name field.
func (c *Channel) SlackName() string {
	return c.Name
}

// RealTopic prefers the topic and falls back to the purpose, the way
// Slack clients display it.
func (c *Channel) RealTopic() string {
	if c.Topic.Value != "" {
		return c.Topic.Value
	}
	return c.Purpose.Value
}
