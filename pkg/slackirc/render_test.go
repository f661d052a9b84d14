package slackirc

import (
	"net"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// renderTestContext seeds a Context with a small roster: carol (U02)
// is a member of #general and of the &alice,carol MPIM, bob (U01) is
// in neither.
func renderTestContext(t *testing.T) *Context {
	t.Helper()
	server, _ := net.Pipe()
	ctx := NewContext(server, "localhost", ClientSettings{Token: "xoxb-test"})
	t.Cleanup(func() {
		ctx.Close()
		server.Close()
	})

	self := slack.User{ID: "U00", Name: "alice"}
	ctx.User = &self
	for _, u := range []slack.User{
		self,
		{ID: "U01", Name: "bob"},
		{ID: "U02", Name: "carol"},
	} {
		ctx.Users.mu.Lock()
		ctx.Users.store(u)
		ctx.Users.mu.Unlock()
	}

	general := publicChannel("C01", "general")
	general.Members = []string{"U00", "U02"}
	ctx.Channels.Update(general)

	mpim := Channel{}
	mpim.ID = "G02"
	mpim.Name = "mpdm-carol--alice-1"
	mpim.IsMpIM = true
	mpim.Members = []string{"U00", "U02"}
	ctx.Channels.Update(mpim)

	return ctx
}

func TestRenderContextChannelMembership(t *testing.T) {
	ctx := renderTestContext(t)
	rc := ctx.renderContextFor("#general", "carol", "C01", "1.2")
	require.NotNil(t, rc.InDestination)
	assert.True(t, rc.InDestination("U02"))
	assert.False(t, rc.InDestination("U01"))

	assert.Equal(t, "@carol hi", ctx.ParseMessageText("<@U02> hi", "bob", "#general", "C01", "1.2"))
	assert.Equal(t, "bob hi", ctx.ParseMessageText("<@U01> hi", "carol", "#general", "C01", "1.2"))
}

// Mentions delivered into a multi-party IM get the same membership
// gate as regular channels.
func TestRenderContextMpimMembership(t *testing.T) {
	ctx := renderTestContext(t)
	rc := ctx.renderContextFor("&alice,carol", "carol", "G02", "1.2")
	require.NotNil(t, rc.InDestination)
	assert.True(t, rc.InDestination("U02"))
	assert.False(t, rc.InDestination("U01"))

	assert.Equal(t, "@carol hi", ctx.ParseMessageText("<@U02> hi", "alice", "&alice,carol", "G02", "1.2"))
	assert.Equal(t, "bob hi", ctx.ParseMessageText("<@U01> hi", "alice", "&alice,carol", "G02", "1.2"))
}

func TestRenderContextQueryHasNoHighlight(t *testing.T) {
	ctx := renderTestContext(t)
	rc := ctx.renderContextFor("alice", "carol", "D01", "1.2")
	require.NotNil(t, rc.InDestination)
	assert.False(t, rc.InDestination("U02"))
	assert.Equal(t, "carol hi", ctx.ParseMessageText("<@U02> hi", "carol", "", "D01", "1.2"))
}
