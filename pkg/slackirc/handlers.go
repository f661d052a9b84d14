package slackirc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// IrcCommandHandler is the prototype every IRC command handler
// implements.
type IrcCommandHandler func(ctx *Context, prefix, cmd string, args []string, trailing string)

// IrcCommandHandlers maps each IRC command to its handler function.
// The non-RFC verbs are the extension commands clients emit for
// /sendfile, /annoy and friends.
var IrcCommandHandlers = map[string]IrcCommandHandler{
	"CAP":           IrcCapHandler,
	"NICK":          IrcNickHandler,
	"USER":          IrcUserHandler,
	"PASS":          IrcPassHandler,
	"PING":          IrcPingHandler,
	"PONG":          func(*Context, string, string, []string, string) {},
	"PRIVMSG":       IrcPrivMsgHandler,
	"NOTICE":        IrcPrivMsgHandler,
	"JOIN":          IrcJoinHandler,
	"PART":          IrcPartHandler,
	"TOPIC":         IrcTopicHandler,
	"LIST":          IrcListHandler,
	"WHO":           IrcWhoHandler,
	"WHOIS":         IrcWhoisHandler,
	"NAMES":         IrcNamesHandler,
	"MODE":          IrcModeHandler,
	"QUIT":          IrcQuitHandler,
	"KICK":          IrcKickHandler,
	"INVITE":        IrcInviteHandler,
	"AWAY":          IrcAwayHandler,
	"USERHOST":      IrcUserhostHandler,
	"SENDFILE":      IrcSendfileHandler,
	"ANNOY":         IrcAnnoyHandler,
	"DROPANNOY":     IrcDropAnnoyHandler,
	"LISTANNOY":     IrcListAnnoyHandler,
	"AUTOREACT":     IrcAutoreactHandler,
	"DROPAUTOREACT": IrcDropAutoreactHandler,
	"LISTAUTOREACT": IrcListAutoreactHandler,
}

// handleIRCLine decodes one raw IRC line and dispatches it.
func (ic *Context) handleIRCLine(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	var prefix string
	if line[0] == ':' {
		parts := strings.SplitN(line[1:], " ", 2)
		if len(parts) != 2 {
			return
		}
		prefix, line = parts[0], parts[1]
	}
	tokens := strings.Split(line, " ")
	cmd := strings.ToUpper(tokens[0])
	args := tokens[1:]
	var trailing string
	for idx, arg := range args {
		if strings.HasPrefix(arg, ":") {
			trailing = strings.Join(args[idx:], " ")[1:]
			args = args[:idx]
			break
		}
	}
	handler, ok := IrcCommandHandlers[cmd]
	if !ok {
		log.Debugf("No handler found for %s", cmd)
		// ERR_UNKNOWNCOMMAND
		ic.SendNumeric(421, fmt.Sprintf("%s %s", ic.Nick(), cmd), "Unknown command")
		return
	}
	handler(ic, prefix, cmd, args, trailing)
}

// IrcCapHandler is called when a CAP command is sent.
func IrcCapHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) > 0 && args[0] == "LS" {
		ctx.SendLine(":%s CAP * LS :", ctx.ServerName)
	}
}

// passwordToTokenAndCookie parses the PASS argument into a Slack token
// and optionally a cookie, separated by "|". Cookie auth requires an
// xoxc- token and a cookie of the form "d=XXX;".
func passwordToTokenAndCookie(p string) (string, string, error) {
	parts := strings.Split(p, "|")
	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		if !strings.HasPrefix(parts[0], "xoxc-") {
			return "", "", errors.New("auth cookie is set, but token does not start with xoxc-")
		}
		if parts[1] == "" {
			return "", "", errors.New("auth cookie is empty")
		}
		if !strings.HasPrefix(parts[1], "d=") || !strings.HasSuffix(parts[1], ";") {
			return "", "", errors.New("auth cookie must have the format 'd=XXX;'")
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("failed to parse password into token and cookie, got %d components, want 1 or 2", len(parts))
	}
}

// IrcPassHandler lets the client override the configured token.
func IrcPassHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) != 1 {
		log.Warningf("Invalid PASS arguments. Arguments are not shown because they may contain Slack tokens or cookies")
		// ERR_PASSWDMISMATCH
		ctx.SendNumeric(464, ctx.Nick(), "Invalid password")
		return
	}
	token, cookie, err := passwordToTokenAndCookie(args[0])
	if err != nil {
		ctx.SendNumeric(464, ctx.Nick(), err.Error())
		return
	}
	ctx.Settings.Token = token
	if cookie != "" {
		ctx.Settings.Cookie = cookie
	}
	ctx.FileHandler.Token = token
	ctx.FileHandler.Cookie = cookie
}

// IrcNickHandler is called when a NICK command is sent.
func IrcNickHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	nick := trailing
	if len(args) >= 1 {
		nick = args[0]
	}
	if nick == "" {
		ctx.SendNumeric(461, ctx.Nick(), "NICK :Not enough parameters")
		return
	}
	if ctx.User != nil {
		// the nick is pinned to the Slack self-user name
		if nick != ctx.Nick() {
			// ERR_ERRONEUSNICKNAME
			ctx.SendNumeric(432, fmt.Sprintf("%s %s", ctx.Nick(), nick), fmt.Sprintf("Incorrect nickname, use %s", ctx.Nick()))
			ctx.SendLine(":%s NICK %s", nick, ctx.Nick())
		}
		return
	}
	ctx.OrigName = nick
	maybeRegister(ctx)
}

// IrcUserHandler is called when a USER command is sent.
func IrcUserHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	ctx.RealName = trailing
	if ctx.RealName == "" && len(args) > 0 {
		ctx.RealName = args[0]
	}
	maybeRegister(ctx)
}

func maybeRegister(ctx *Context) {
	if ctx.State() == StateDormant && ctx.OrigName != "" && ctx.RealName != "" {
		ctx.afterRegistration()
	}
}

// IrcPingHandler is called when a PING command is sent.
func IrcPingHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	msg := fmt.Sprintf("PONG %s", strings.Join(args, " "))
	if trailing != "" {
		msg += " :" + trailing
	}
	ctx.SendLine("%s", msg)
}

// IrcQuitHandler is called when a QUIT command is sent.
func IrcQuitHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	ctx.Conn.Close()
}

// resolveTarget maps an IRC message target (channel, synthetic thread
// channel, or nick) to a Slack room id and optional thread timestamp.
func resolveTarget(ctx *Context, target string) (roomID, threadTs string, err error) {
	if thread := ctx.Threads.ByName(target); thread != nil {
		return thread.ChannelID, thread.ThreadTs, nil
	}
	if HasChannelPrefix(target) {
		if looksLikeThreadName(target) {
			// posting into a thread needs at least one observed message
			return "", "", fmt.Errorf("unknown thread %s", target)
		}
		ch := ctx.Channels.ByName(target)
		if ch == nil {
			return "", "", fmt.Errorf("no such channel %s", target)
		}
		return ch.ID, "", nil
	}
	user := ctx.GetUserByName(target)
	if user == nil {
		return "", "", fmt.Errorf("no such nick %s", target)
	}
	im, err := ctx.OpenIM(user.ID)
	if err != nil {
		return "", "", err
	}
	return im.ID, "", nil
}

func looksLikeThreadName(name string) bool {
	idx := strings.LastIndex(name, "-0x")
	return idx > 0 && idx < len(name)-3
}

// IrcPrivMsgHandler handles PRIVMSG and NOTICE towards channels,
// synthetic thread channels and nicks.
func IrcPrivMsgHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	var target, text string
	switch {
	case len(args) >= 1 && trailing != "":
		target, text = args[0], trailing
	case len(args) >= 2:
		target, text = args[0], strings.Join(args[1:], " ")
	default:
		ctx.SendNumeric(461, ctx.Nick(), cmd+" :Not enough parameters")
		return
	}

	action := false
	if strings.HasPrefix(text, "\x01ACTION ") && strings.HasSuffix(text, "\x01") {
		action = true
		text = text[len("\x01ACTION ") : len(text)-1]
	}

	roomID, threadTs, err := resolveTarget(ctx, target)
	if err != nil {
		code := 401
		if HasChannelPrefix(target) {
			code = 403
		}
		ctx.SendNumeric(code, fmt.Sprintf("%s %s", ctx.Nick(), target), err.Error())
		return
	}

	outgoing := RenderToSlack(text, ctx.outgoingContextFor(roomID))
	if action {
		outgoing = "_" + outgoing + "_"
	}
	ts, err := ctx.Post(roomID, outgoing, threadTs)
	if err != nil {
		ctx.SendNotice("Cannot send message to %s: %v", target, err)
		return
	}
	// what we just sent is already on the client's screen
	ctx.Status.Advance(roomID, ts)
}

// IrcJoinHandler is called when a JOIN command is sent.
func IrcJoinHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 1 {
		ctx.SendNumeric(461, ctx.Nick(), "JOIN :Not enough parameters")
		return
	}
	for _, name := range strings.Split(args[0], ",") {
		if name == "" {
			continue
		}
		ctx.ClearParted(name)
		if thread := ctx.Threads.ByName(name); thread != nil {
			ctx.announceThread(thread)
			continue
		}
		if strings.HasPrefix(name, ChannelPrefixMpIM) {
			ch := ctx.Channels.ByName(name)
			if ch == nil {
				ctx.SendNumeric(403, fmt.Sprintf("%s %s", ctx.Nick(), name), "No such channel")
				continue
			}
			ctx.sendChanInfo(name, ch.ID, "", false)
			continue
		}
		ch := ctx.Channels.ByName(name)
		if ch == nil || !ch.IsMember {
			joined, err := ctx.JoinChannel(name)
			if err != nil {
				ctx.SendNumeric(403, fmt.Sprintf("%s %s", ctx.Nick(), name), fmt.Sprintf("Cannot join channel: %v", err))
				continue
			}
			ch = joined
		}
		ctx.sendChanInfo(ch.IRCName(), ch.ID, "", false)
	}
}

// IrcPartHandler marks the channel as left on IRC. The Slack
// subscription stays: leaving on IRC does not unsubscribe.
func IrcPartHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 1 {
		ctx.SendNumeric(461, ctx.Nick(), "PART :Not enough parameters")
		return
	}
	for _, name := range strings.Split(args[0], ",") {
		if name == "" {
			continue
		}
		ctx.MarkParted(name)
		ctx.markIrcParted(name)
		ctx.SendLine(":%s PART %s", ctx.Mask(), name)
	}
}

// IrcTopicHandler sets the Slack topic of a channel.
func IrcTopicHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 1 {
		ctx.SendNumeric(461, ctx.Nick(), "TOPIC :Not enough parameters")
		return
	}
	name := args[0]
	ch := ctx.Channels.ByName(name)
	if ch == nil {
		ctx.SendNumeric(403, fmt.Sprintf("%s %s", ctx.Nick(), name), "No such channel")
		return
	}
	if trailing == "" && len(args) == 1 {
		// topic request
		ctx.SendNumeric(332, fmt.Sprintf("%s %s", ctx.Nick(), name), ch.RealTopic())
		return
	}
	newTopic, err := ctx.SetTopic(ch.ID, trailing)
	if err != nil {
		ctx.SendNotice("Cannot set topic of %s: %v", name, err)
		return
	}
	ctx.SendNumeric(332, fmt.Sprintf("%s %s", ctx.Nick(), name), newTopic)
}

// IrcListHandler lists the known channels with their member counts.
func IrcListHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	for _, ch := range ctx.Channels.AsList() {
		if ch.IsDirect() || ch.IsMP() {
			continue
		}
		topic := strings.ReplaceAll(ch.RealTopic(), "\n", " | ")
		ctx.SendNumeric(322, fmt.Sprintf("%s %s %d", ctx.Nick(), ch.IRCName(), ch.NumMembers), topic)
	}
	ctx.SendNumeric(323, ctx.Nick(), "End of LIST")
}

// IrcWhoHandler is called when a WHO command is sent.
func IrcWhoHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 1 {
		ctx.SendNumeric(461, ctx.Nick(), "WHO :Not enough parameters")
		return
	}
	target := args[0]
	whoReply := func(channel string, u *slack.User) {
		flag := "H"
		if ctx.PresenceOf(u.ID) == "away" {
			flag = "G"
		}
		rargs := fmt.Sprintf("%s %s %s %s %s %s %s", ctx.Nick(), channel, u.ID, ctx.ServerName, ctx.ServerName, u.Name, flag)
		ctx.SendNumeric(352, rargs, "0 "+u.RealName)
	}
	if HasChannelPrefix(target) {
		ch := ctx.Channels.ByName(target)
		if ch == nil {
			ctx.SendNumeric(403, fmt.Sprintf("%s %s", ctx.Nick(), target), "No such channel")
			return
		}
		members, err := ctx.ChannelMembers(ch.ID)
		if err != nil {
			ctx.SendNotice("Cannot fetch members of %s: %v", target, err)
			return
		}
		for _, u := range members {
			if u.Deleted {
				continue
			}
			whoReply(target, &u)
		}
		ctx.SendNumeric(315, fmt.Sprintf("%s %s", ctx.Nick(), target), "End of WHO list")
		return
	}
	user := ctx.GetUserByName(target)
	if user == nil {
		ctx.SendNumeric(401, fmt.Sprintf("%s %s", ctx.Nick(), target), "No such nick")
		return
	}
	whoReply("*", user)
	ctx.SendNumeric(315, fmt.Sprintf("%s %s", ctx.Nick(), target), "End of WHO list")
}

// IrcWhoisHandler is called when a WHOIS command is sent.
func IrcWhoisHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 1 {
		ctx.SendNumeric(461, ctx.Nick(), "WHOIS :Not enough parameters")
		return
	}
	// servers conventionally answer only the last target
	username := args[len(args)-1]
	withIdleTime := len(args) == 2 && args[0] == args[1]
	user := ctx.GetUserByName(username)
	if user == nil {
		ctx.SendNumeric(401, fmt.Sprintf("%s %s", ctx.Nick(), username), "No such nick")
		return
	}
	// RPL_WHOISUSER "<nick> <user> <host> * :<real name>"
	ctx.SendNumeric(311, fmt.Sprintf("%s %s %s %s *", ctx.Nick(), username, user.ID, ctx.ServerName), user.RealName)
	// RPL_WHOISSERVER
	ctx.SendNumeric(312, fmt.Sprintf("%s %s %s", ctx.Nick(), username, ctx.ServerName), "localslackirc, a Slack gateway")
	if user.Profile.StatusText != "" || user.Profile.StatusEmoji != "" {
		ctx.SendNumeric(312, fmt.Sprintf("%s %s %s", ctx.Nick(), username, ctx.ServerName),
			fmt.Sprintf("user status: '%s' %s", user.Profile.StatusText, user.Profile.StatusEmoji))
	}
	if ctx.PresenceOf(user.ID) == "away" {
		// RPL_AWAY
		ctx.SendNumeric(301, fmt.Sprintf("%s %s", ctx.Nick(), username), "away")
	}
	var channels []string
	for _, ch := range ctx.Channels.AsList() {
		for _, m := range ch.Members {
			if m == user.ID {
				channels = append(channels, ch.IRCName())
			}
		}
	}
	if len(channels) > 0 {
		ctx.SendNumeric(319, fmt.Sprintf("%s %s", ctx.Nick(), username), strings.Join(channels, " "))
	}
	if withIdleTime {
		// RPL_WHOISIDLE "<nick> <integer> :seconds idle"
		ctx.SendNumeric(317, fmt.Sprintf("%s %s 0", ctx.Nick(), username), "seconds idle")
	}
	ctx.SendNumeric(318, fmt.Sprintf("%s %s", ctx.Nick(), username), "End of /WHOIS list")
}

// IrcNamesHandler is called when a NAMES command is sent.
func IrcNamesHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 1 {
		ctx.SendNumeric(461, ctx.Nick(), "NAMES :Not enough parameters")
		return
	}
	name := args[0]
	ch := ctx.Channels.ByName(name)
	if ch == nil {
		ctx.SendNumeric(403, fmt.Sprintf("%s %s", ctx.Nick(), name), "No such channel")
		return
	}
	members, err := ctx.ChannelMembers(ch.ID)
	if err != nil {
		ctx.SendNotice("Cannot fetch members of %s: %v", name, err)
		return
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		if m.Deleted {
			continue
		}
		names = append(names, m.Name)
	}
	if len(names) > 0 {
		ctx.SendNumeric(353, fmt.Sprintf("%s = %s", ctx.Nick(), ch.IRCName()), strings.Join(names, " "))
	}
	ctx.SendNumeric(366, fmt.Sprintf("%s %s", ctx.Nick(), ch.IRCName()), "End of NAMES list")
}

// IrcModeHandler implements the channel-topic protection bit, the only
// mode the bridge understands.
func IrcModeHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	switch len(args) {
	case 0:
		ctx.SendNumeric(461, ctx.Nick(), "MODE :Not enough parameters")
	case 1:
		// RPL_CHANNELMODEIS
		ctx.SendNumeric(324, fmt.Sprintf("%s %s +t", ctx.Nick(), args[0]), "")
	default:
		// ERR_UMODEUNKNOWNFLAG
		ctx.SendNumeric(501, ctx.Nick(), fmt.Sprintf("Unknown MODE flags %s", strings.Join(args[1:], " ")))
	}
}

// IrcAwayHandler maps AWAY onto the Slack presence.
func IrcAwayHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	isAway := trailing != "" || len(args) > 0
	if err := ctx.Away(isAway); err != nil {
		ctx.SendNotice("Cannot change away status: %v", err)
		return
	}
	if isAway {
		// RPL_NOWAWAY
		ctx.SendNumeric(306, ctx.Nick(), "You have been marked as being away")
	} else {
		// RPL_UNAWAY
		ctx.SendNumeric(305, ctx.Nick(), "You are no longer marked as being away")
	}
}

// IrcUserhostHandler replies with a minimal USERHOST.
func IrcUserhostHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	replies := make([]string, 0, len(args))
	for _, nick := range args {
		sign := "+"
		if u := ctx.GetUserByName(nick); u != nil && ctx.PresenceOf(u.ID) == "away" {
			sign = "-"
		}
		replies = append(replies, fmt.Sprintf("%s=%s%s@%s", nick, sign, nick, ctx.ServerName))
	}
	// RPL_USERHOST
	ctx.SendNumeric(302, ctx.Nick(), strings.Join(replies, " "))
}

// IrcKickHandler routes KICK to the corresponding Slack call.
func IrcKickHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 2 {
		ctx.SendNumeric(461, ctx.Nick(), "KICK :Not enough parameters")
		return
	}
	ch := ctx.Channels.ByName(args[0])
	if ch == nil {
		ctx.SendNumeric(403, fmt.Sprintf("%s %s", ctx.Nick(), args[0]), "No such channel")
		return
	}
	user := ctx.GetUserByName(args[1])
	if user == nil {
		ctx.SendNumeric(401, fmt.Sprintf("%s %s", ctx.Nick(), args[1]), "No such nick")
		return
	}
	if err := ctx.Kick(ch.ID, user.ID); err != nil {
		ctx.SendNotice("Cannot kick %s from %s: %v", args[1], args[0], err)
	}
}

// IrcInviteHandler routes INVITE to the corresponding Slack call.
func IrcInviteHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 2 {
		ctx.SendNumeric(461, ctx.Nick(), "INVITE :Not enough parameters")
		return
	}
	user := ctx.GetUserByName(args[0])
	if user == nil {
		ctx.SendNumeric(401, fmt.Sprintf("%s %s", ctx.Nick(), args[0]), "No such nick")
		return
	}
	ch := ctx.Channels.ByName(args[1])
	if ch == nil {
		ctx.SendNumeric(403, fmt.Sprintf("%s %s", ctx.Nick(), args[1]), "No such channel")
		return
	}
	if err := ctx.Invite(ch.ID, user.ID); err != nil {
		ctx.SendNotice("Cannot invite %s to %s: %v", args[0], args[1], err)
	}
}

// IrcSendfileHandler uploads a local file to a channel, thread or
// user. The upload runs detached so a multi-MB transfer does not block
// the bridge loop.
func IrcSendfileHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 2 {
		ctx.SendNotice("Syntax: /sendfile #channel filename")
		return
	}
	target := args[0]
	path := strings.Join(args[1:], " ")
	roomID, threadTs, err := resolveTarget(ctx, target)
	if err != nil {
		ctx.SendNotice("Unable to find destination %s: %v", target, err)
		return
	}
	go func() {
		if err := ctx.Upload(roomID, path, threadTs); err != nil {
			ctx.SendNotice("Unable to send file: %v", err)
			return
		}
		ctx.SendNotice("Upload of %s to %s completed", path, target)
	}()
}

// IrcAnnoyHandler registers an annoy rule.
func IrcAnnoyHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 1 {
		ctx.SendNotice("Syntax: /annoy user [minutes]")
		return
	}
	minutes := 10
	if len(args) >= 2 {
		m, err := strconv.Atoi(args[1])
		if err != nil {
			ctx.SendNotice("Syntax: /annoy user [minutes]")
			return
		}
		if m < 0 {
			m = -m
		}
		minutes = m
	}
	user := ctx.GetUserByName(args[0])
	if user == nil {
		ctx.SendNumeric(401, fmt.Sprintf("%s %s", ctx.Nick(), args[0]), "No such nick")
		return
	}
	ctx.Rules.AddAnnoy(user.ID, time.Now().Add(time.Duration(minutes)*time.Minute))
	ctx.SendNotice("Will annoy %s for %d minutes", args[0], minutes)
}

// IrcDropAnnoyHandler removes an annoy rule.
func IrcDropAnnoyHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 1 {
		ctx.SendNotice("Syntax: /dropannoy user")
		return
	}
	user := ctx.GetUserByName(args[0])
	if user == nil {
		ctx.SendNumeric(401, fmt.Sprintf("%s %s", ctx.Nick(), args[0]), "No such nick")
		return
	}
	if ctx.Rules.DropAnnoy(user.ID) {
		ctx.SendNotice("No longer annoying %s", args[0])
	} else {
		ctx.SendNotice("Was not annoying %s", args[0])
	}
}

// IrcListAnnoyHandler lists the active annoy rules.
func IrcListAnnoyHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	lines := ctx.Rules.Describe("annoy", ctx.nameOf)
	if len(lines) == 0 {
		ctx.SendNotice("Not annoying anybody")
		return
	}
	for _, l := range lines {
		ctx.SendNotice("annoy: %s", l)
	}
}

// IrcAutoreactHandler registers an autoreact rule.
func IrcAutoreactHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 2 {
		ctx.SendNotice("Syntax: /autoreact user probability [reaction] [minutes]")
		return
	}
	prob, err := strconv.ParseFloat(args[1], 64)
	if err != nil || prob < 0 || prob > 1 {
		ctx.SendNotice("Probability must be a number between 0 and 1")
		return
	}
	reaction := "thumbsup"
	if len(args) >= 3 {
		reaction = strings.Trim(args[2], ":")
	}
	minutes := 10
	if len(args) >= 4 {
		m, err := strconv.Atoi(args[3])
		if err != nil {
			ctx.SendNotice("Syntax: /autoreact user probability [reaction] [minutes]")
			return
		}
		if m < 0 {
			m = -m
		}
		minutes = m
	}
	user := ctx.GetUserByName(args[0])
	if user == nil {
		ctx.SendNumeric(401, fmt.Sprintf("%s %s", ctx.Nick(), args[0]), "No such nick")
		return
	}
	ctx.Rules.AddAutoreact(user.ID, AutoreactRule{
		Probability: prob,
		Reaction:    reaction,
		Expiry:      time.Now().Add(time.Duration(minutes) * time.Minute),
	})
	ctx.SendNotice("Will react with :%s: to %s (p=%.2f) for %d minutes", reaction, args[0], prob, minutes)
}

// IrcDropAutoreactHandler removes all autoreact rules for a user.
func IrcDropAutoreactHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	if len(args) < 1 {
		ctx.SendNotice("Syntax: /dropautoreact user")
		return
	}
	user := ctx.GetUserByName(args[0])
	if user == nil {
		ctx.SendNumeric(401, fmt.Sprintf("%s %s", ctx.Nick(), args[0]), "No such nick")
		return
	}
	if ctx.Rules.DropAutoreact(user.ID) {
		ctx.SendNotice("No longer reacting to %s", args[0])
	} else {
		ctx.SendNotice("Was not reacting to %s", args[0])
	}
}

// IrcListAutoreactHandler lists the active autoreact rules.
func IrcListAutoreactHandler(ctx *Context, prefix, cmd string, args []string, trailing string) {
	lines := ctx.Rules.Describe("autoreact", ctx.nameOf)
	if len(lines) == 0 {
		ctx.SendNotice("Not reacting to anybody")
		return
	}
	for _, l := range lines {
		ctx.SendNotice("autoreact: %s", l)
	}
}

// nameOf resolves a user id to a nick for display, falling back to the
// raw id.
func (ic *Context) nameOf(id string) string {
	if u := ic.Users.ByID(id); u != nil {
		return u.Name
	}
	return id
}
