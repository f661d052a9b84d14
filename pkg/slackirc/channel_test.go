package slackirc

import (
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

func publicChannel(id, name string) Channel {
	ch := Channel{}
	ch.ID = id
	ch.Name = name
	ch.IsChannel = true
	return ch
}

func TestChannelIRCNamePublic(t *testing.T) {
	ch := publicChannel("C01", "general")
	assert.Equal(t, "#general", ch.IRCName())
	assert.True(t, ch.IsPublicChannel())
}

func TestChannelIRCNamePrivate(t *testing.T) {
	ch := publicChannel("G01", "secret")
	ch.IsPrivate = true
	assert.Equal(t, "#secret", ch.IRCName())
	assert.True(t, ch.IsPrivateChannel())
}

func TestChannelIRCNameMpim(t *testing.T) {
	ch := Channel{}
	ch.ID = "G02"
	ch.Name = "mpdm-carol--alice--bob-1"
	ch.IsMpIM = true
	assert.Equal(t, "&alice,bob,carol", ch.IRCName())
}

func TestChannelIRCNameDirect(t *testing.T) {
	ch := Channel{}
	ch.ID = "D01"
	ch.IsIM = true
	assert.Equal(t, "", ch.IRCName())
	assert.True(t, ch.IsDirect())
}

func TestChannelPrefixes(t *testing.T) {
	assert.True(t, HasChannelPrefix("#general"))
	assert.True(t, HasChannelPrefix("&alice,bob"))
	assert.False(t, HasChannelPrefix("carol"))
	assert.False(t, HasChannelPrefix(""))
	assert.Equal(t, "general", StripChannelPrefix("#general"))
	assert.Equal(t, "carol", StripChannelPrefix("carol"))
}

func TestChannelRealTopic(t *testing.T) {
	ch := publicChannel("C01", "general")
	ch.Purpose = slack.Purpose{Value: "the purpose"}
	assert.Equal(t, "the purpose", ch.RealTopic())
	ch.Topic = slack.Topic{Value: "the topic"}
	assert.Equal(t, "the topic", ch.RealTopic())
}

func TestChannelsCacheLookups(t *testing.T) {
	c := NewChannels(0)
	c.Update(publicChannel("C01", "general"))
	mpim := Channel{}
	mpim.ID = "G02"
	mpim.Name = "mpdm-carol--alice-1"
	mpim.IsMpIM = true
	c.Update(mpim)
	im := Channel{}
	im.ID = "D01"
	im.IsIM = true
	im.User = "U02"
	c.Update(im)

	assert.Equal(t, 3, c.Count())
	assert.Equal(t, "C01", c.ByID("C01").ID)
	assert.Equal(t, "C01", c.ByName("#general").ID)
	assert.Equal(t, "C01", c.ByName("general").ID)
	assert.Equal(t, "G02", c.ByName("&alice,carol").ID)
	assert.Equal(t, "D01", c.IMForUser("U02").ID)
	assert.Nil(t, c.ByName("#missing"))

	c.Evict("C01")
	assert.Nil(t, c.ByID("C01"))
	assert.Nil(t, c.ByName("#general"))
}
