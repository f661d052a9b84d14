package slackirc

import (
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// annoyDebounce is the minimum interval between typing responses to
// the same user.
const annoyDebounce = 3 * time.Second

// queuedMessage is a message withheld because its channel is not
// joined on IRC. It is flushed when the client joins.
type queuedMessage struct {
	msg    slack.Msg
	prefix string
}

// maxQueuedPerChannel bounds the per-channel backlog of withheld
// messages.
const maxQueuedPerChannel = 100

// handleRTMEvent dispatches one typed Slack event. Unknown variants
// are logged and dropped, never coerced.
func (ic *Context) handleRTMEvent(msg slack.RTMEvent) {
	switch ev := msg.Data.(type) {
	case *slack.ConnectedEvent:
		ic.handleConnected(ev)
	case *slack.DisconnectedEvent:
		log.Warningf("Disconnected from Slack (intentional: %v, cause: %v)", ev.Intentional, ev.Cause)
		if ic.State() == StateRunning {
			ic.setState(StateReconnecting)
		}
	case *slack.InvalidAuthEvent:
		log.Warningf("Invalid slack credentials")
		ic.fatal(ErrAuthFailed)
	case *slack.RTMError:
		log.Warningf("Slack RTM error: %v", ev.Error())
	case *slack.MessageEvent:
		if ic.buffering(msg) {
			return
		}
		ic.handleMessageEvent(ev)
	case *slack.ReactionAddedEvent:
		if ic.buffering(msg) {
			return
		}
		ic.handleReactionAdded(ev)
	case *slack.UserTypingEvent:
		ic.handleUserTyping(ev)
	case *slack.MemberJoinedChannelEvent:
		if ic.buffering(msg) {
			return
		}
		ic.handleMemberChange(ev.User, ev.Channel, true)
	case *slack.MemberLeftChannelEvent:
		if ic.buffering(msg) {
			return
		}
		ic.handleMemberChange(ev.User, ev.Channel, false)
	case *slack.ChannelJoinedEvent:
		if ic.buffering(msg) {
			return
		}
		// a Slack-side join behaves as if the IRC client had issued
		// /join on the corresponding channel
		ch := Channel(ev.Channel)
		ic.Channels.Update(ch)
		ic.ClearParted(ch.IRCName())
		ic.sendChanInfo(ch.IRCName(), ch.ID, "", false)
	case *slack.ChannelLeftEvent:
		ic.Channels.Evict(ev.Channel)
	case *slack.ChannelCreatedEvent, *slack.ChannelRenameEvent, *slack.ChannelArchiveEvent, *slack.ChannelUnarchiveEvent:
		// membership drift: refresh lazily on next reference
		if id := channelEventID(msg.Data); id != "" {
			ic.Channels.Evict(id)
		}
	case *slack.TeamJoinEvent:
		ic.Users.Evict(ev.User.ID)
		if _, err := ic.Users.Refresh(ic.SlackClient, ev.User.ID); err != nil {
			log.Warningf("Failed to refresh user %s: %v", ev.User.ID, err)
		}
	case *slack.UserChangeEvent:
		ic.Users.Evict(ev.User.ID)
		if _, err := ic.Users.Refresh(ic.SlackClient, ev.User.ID); err != nil {
			log.Warningf("Failed to refresh user %s: %v", ev.User.ID, err)
		}
	case *slack.PresenceChangeEvent:
		ic.setPresence(ev.User, ev.Presence)
	case *slack.LatencyReport:
		log.Debugf("Current Slack latency: %v", ev.Value)
	default:
		log.Debugf("SLACK event: %v: %+v", msg.Type, msg.Data)
	}
}

func channelEventID(data interface{}) string {
	switch ev := data.(type) {
	case *slack.ChannelCreatedEvent:
		return ev.Channel.ID
	case *slack.ChannelRenameEvent:
		return ev.Channel.ID
	case *slack.ChannelArchiveEvent:
		return ev.Channel
	case *slack.ChannelUnarchiveEvent:
		return ev.Channel
	}
	return ""
}

// buffering holds events received before RUNNING; they are replayed
// after the backlog flush, deduplicated by (room, ts) against it.
func (ic *Context) buffering(msg slack.RTMEvent) bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.state == StateRunning {
		return false
	}
	ic.heldEvents = append(ic.heldEvents, msg)
	return true
}

// flushHeldEvents replays the events buffered during SYNCING.
func (ic *Context) flushHeldEvents() {
	ic.mu.Lock()
	held := ic.heldEvents
	ic.heldEvents = nil
	ic.mu.Unlock()
	for _, ev := range held {
		ic.handleRTMEvent(ev)
	}
}

func (ic *Context) handleConnected(ev *slack.ConnectedEvent) {
	if ic.State() == StateReconnecting {
		// transparent re-establishment: refresh rosters and backfill
		// the gap before resuming delivery
		log.Info("Reconnected to Slack")
		ic.setState(StateSyncing)
		go ic.Resync()
		return
	}
	log.Info("Connected to Slack")
}

func (ic *Context) handleMessageEvent(ev *slack.MessageEvent) {
	message := ev.Msg
	if message.Hidden && message.SubType != "message_changed" && message.SubType != "message_deleted" {
		return
	}
	switch message.SubType {
	case "message_changed":
		ic.handleEdit(ev)
	case "message_deleted":
		if ev.PreviousMessage != nil {
			old := *ev.PreviousMessage
			old.Channel = message.Channel
			ic.deliverMessage(old, "[deleted] ", false)
		}
	case "channel_topic":
		ch := ic.GetChannel(message.Channel)
		if ch == nil {
			log.Warningf("Cannot get channel name for %v", message.Channel)
			return
		}
		nick := message.User
		if u := ic.GetUser(message.User); u != nil {
			nick = u.Name
		}
		ic.SendLine(":%s TOPIC %s :%s", ic.MaskFor(nick, message.User), ch.IRCName(), message.Topic)
	case "channel_join", "channel_leave":
		// covered by member_joined_channel / member_left_channel
	case "me_message":
		ic.deliverMessage(message, "", true)
	case "bot_message":
		botName := strings.ReplaceAll(message.Username, " ", "_")
		if botName == "" {
			botName = "bot"
		}
		ic.deliverMessage(message, "["+botName+"] ", false)
	default:
		ic.deliverMessage(message, "", false)
	}
}

func (ic *Context) handleEdit(ev *slack.MessageEvent) {
	if ev.SubMessage == nil || ev.PreviousMessage == nil {
		return
	}
	prev, cur := ev.PreviousMessage, ev.SubMessage
	edit := WordDiff(prev.Text, cur.Text)
	if edit == nil {
		return
	}
	diffMsg := *cur
	diffMsg.Channel = ev.Msg.Channel
	diffMsg.Text = edit.String()
	if diffMsg.User == "" {
		diffMsg.User = prev.User
	}
	ic.deliverMessage(diffMsg, "[edit] ", false)
}

// deliverMessage translates one Slack message into IRC lines, dealing
// with threads, parted channels, queued delivery, files, dedup and the
// autoreact side-channel.
func (ic *Context) deliverMessage(message slack.Msg, prefix string, action bool) {
	if message.Channel == "" {
		return
	}
	// identity: (room, ts). Skip what the cursor already covers.
	if prefix == "" && message.Timestamp != "" && ic.Status.Seen(message.Channel, message.Timestamp) {
		log.Debugf("Skipping already delivered message %s/%s", message.Channel, message.Timestamp)
		return
	}

	senderNick, senderID := ic.senderOf(message)
	if senderNick == "" && message.Text == "" {
		log.Warningf("Empty username and message: %+v", message)
		return
	}

	ch := ic.GetChannel(message.Channel)
	if ch == nil {
		log.Warningf("Unknown recipient ID: %s", message.Channel)
		return
	}

	mentioned := !ic.Settings.NoRejoinOnMention && ic.mentionedIn(message.Text)

	var dest string
	threadTs := message.ThreadTimestamp
	isThreadReply := threadTs != "" && threadTs != message.Timestamp
	switch {
	case isThreadReply && !ch.IsDirect():
		thread := ic.Threads.Observe(message.Channel, threadTs, ch.IRCName())
		dest = thread.IRCName
		if ic.Parted(dest) {
			if !mentioned {
				return
			}
			ic.ClearParted(dest)
		}
		if !ic.ircJoinedChan(dest) {
			if ic.Parted(thread.ParentName) && !mentioned {
				// new threads from a parted channel stay silent
				return
			}
			ic.announceThread(thread)
		}
	case ch.IsDirect():
		dest = ic.Nick()
	default:
		dest = ch.IRCName()
		if ic.Parted(dest) {
			if mentioned {
				ic.ClearParted(dest)
				ic.sendChanInfo(dest, ch.ID, "", false)
			} else {
				ic.queueMessage(dest, message, prefix)
				return
			}
		} else if !ic.ircJoinedChan(dest) {
			if ic.Settings.AutoJoin {
				// a channel showing up mid-session: announce it with
				// its members so the sender's JOIN is visible
				ic.sendChanInfo(dest, ch.ID, "", true)
			} else {
				ic.queueMessage(dest, message, prefix)
				return
			}
		}
	}

	text := message.Text
	for _, file := range message.Files {
		ref := ic.FileHandler.Download(file)
		text = joinText(text, "[file upload] "+file.Name+" "+file.Mimetype+" "+ref, "\n")
	}

	if prefix == "" && message.Timestamp != "" {
		if !ic.Status.MarkDelivered(message.Channel, message.Timestamp) {
			return
		}
		go ic.MarkRead(message.Channel, message.Timestamp)
	}

	destChan := ""
	if strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "&") {
		destChan = dest
	}
	rendered := ic.ParseMessageText(text, senderNick, destChan, message.Channel, message.Timestamp)
	rendered = prefix + rendered

	mask := ic.MaskFor(senderNick, senderID)
	for _, line := range strings.Split(rendered, "\n") {
		if line == "" {
			continue
		}
		if action {
			line = "\x01ACTION " + line + "\x01"
		}
		ic.SendLine(":%s PRIVMSG %s :%s", mask, dest, line)
	}

	// autoreact side-channel
	if senderID != "" && prefix == "" {
		reactions := ic.Rules.ReactionsFor(senderID, message.Channel, time.Now(), ic.randFloat)
		for _, r := range reactions {
			go func(name string) {
				if err := ic.React(message.Channel, message.Timestamp, name); err != nil {
					log.Warningf("Autoreact failed: %v", err)
				}
			}(r)
		}
	}
}

func (ic *Context) senderOf(message slack.Msg) (nick, id string) {
	if message.User == "" {
		return strings.ReplaceAll(message.Username, " ", "_"), ""
	}
	if u := ic.GetUser(message.User); u != nil {
		return u.Name, u.ID
	}
	// lookup miss: deliver with the raw id rather than dropping
	return message.User, message.User
}

func (ic *Context) mentionedIn(text string) bool {
	if ic.User == nil {
		return false
	}
	return strings.Contains(text, "<@"+ic.User.ID+">")
}

func (ic *Context) queueMessage(dest string, message slack.Msg, prefix string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	q := ic.pending[dest]
	if len(q) >= maxQueuedPerChannel {
		q = q[1:]
	}
	ic.pending[dest] = append(q, queuedMessage{msg: message, prefix: prefix})
}

// flushQueued delivers the messages withheld for a channel the client
// just joined.
func (ic *Context) flushQueued(dest string) {
	ic.mu.Lock()
	q := ic.pending[dest]
	delete(ic.pending, dest)
	ic.mu.Unlock()
	for _, qm := range q {
		ic.deliverMessage(qm.msg, qm.prefix, false)
	}
}

func (ic *Context) handleReactionAdded(ev *slack.ReactionAddedEvent) {
	nick := ev.User
	if u := ic.GetUser(ev.User); u != nil {
		nick = u.Name
	}
	msg, err := ic.conversationMessage(ev.Item.Channel, ev.Item.Timestamp)
	if err != nil {
		log.Warningf("Cannot get reaction target %s/%s: %v", ev.Item.Channel, ev.Item.Timestamp, err)
		return
	}
	dest := ""
	if ch := ic.GetChannel(ev.Item.Channel); ch != nil && !ch.IsDirect() {
		dest = ch.IRCName()
	} else {
		dest = ic.Nick()
	}
	if ic.Parted(dest) {
		return
	}
	excerpt := ic.ParseMessageText(msg.Text, nick, dest, "", "")
	excerpt = strings.Split(excerpt, "\n")[0]
	if len(excerpt) > 100 {
		excerpt = excerpt[:100]
	}
	ic.SendLine(":%s PRIVMSG %s :\x01ACTION reacted with %s to: \x0315%s\x03\x01",
		ic.MaskFor(nick, ev.User), dest, ev.Reaction, excerpt)
}

// conversationMessage fetches a single message by timestamp.
func (ic *Context) conversationMessage(channelID, ts string) (slack.Message, error) {
	resp, err := ic.SlackClient.GetConversationHistory(&slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Latest:    ts,
		Limit:     1,
		Inclusive: true,
	})
	if err != nil {
		return slack.Message{}, err
	}
	if len(resp.Messages) == 0 {
		return slack.Message{}, &SlackCallError{Method: "conversations.history", Code: "message_not_found"}
	}
	return resp.Messages[0], nil
}

func (ic *Context) handleUserTyping(ev *slack.UserTypingEvent) {
	if !ic.Rules.ShouldAnnoy(ev.User, time.Now(), annoyDebounce) {
		return
	}
	log.Debugf("Annoying %s back on %s", ev.User, ev.Channel)
	ic.SendTyping(ev.Channel)
}

func (ic *Context) handleMemberChange(userID, channelID string, joined bool) {
	// membership drift invalidates the cached member list
	ic.Channels.Evict(channelID)
	ch := ic.GetChannel(channelID)
	if ch == nil {
		log.Warningf("Unknown channel: %s", channelID)
		return
	}
	user := ic.GetUser(userID)
	if user == nil || user.Deleted {
		return
	}
	dest := ch.IRCName()
	if dest == "" || ic.Parted(dest) {
		return
	}
	if joined {
		ic.SendLine(":%s JOIN :%s", ic.MaskFor(user.Name, user.ID), dest)
	} else {
		ic.SendLine(":%s PART %s", ic.MaskFor(user.Name, user.ID), dest)
	}
}

func joinText(first, second, separator string) string {
	if first == "" {
		return second
	}
	if second == "" {
		return first
	}
	return first + separator + second
}
