package slackirc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"
)

// Fatal error kinds. Auth failures exit 1, a dead Slack API exits 2.
var (
	ErrAuthFailed         = errors.New("slack rejected the configured token or cookie")
	ErrSlackUnrecoverable = errors.New("unrecoverable slack api error")
)

const (
	// slackConnectTimeout bounds the wait for the first RTM hello.
	slackConnectTimeout = 10 * time.Second
	// rtmWatchdogTimeout forces a reconnect when the websocket goes
	// silent.
	rtmWatchdogTimeout = 40 * time.Second
	// rulesSweepInterval is the expiry sweep cadence.
	rulesSweepInterval = 30 * time.Second
	// historyFetchers bounds the parallel history backfill.
	historyFetchers = 4
	// historyLimit caps the backlog per room.
	historyLimit = 1000
	// historyDefaultWindow is how far back the backfill reaches when
	// no cursor is stored for a room.
	historyDefaultWindow = 24 * time.Hour
	// mpimHideDelay keeps stale multi-party IMs out of the autojoin.
	mpimHideDelay = 50 * 24 * time.Hour
	// statusSaveTimeout bounds the shutdown write of the status file.
	statusSaveTimeout = time.Second
)

// Run is the bridge loop: it serialises IRC commands, Slack events,
// submitted mutations and the timers. It returns when the IRC client
// disconnects (nil) or on a fatal error.
func (ic *Context) Run(lines <-chan string) error {
	sweep := time.NewTicker(rulesSweepInterval)
	defer sweep.Stop()
	watchdog := time.NewTicker(5 * time.Second)
	defer watchdog.Stop()
	lastActivity := time.Now()
	for {
		var rtmCh chan slack.RTMEvent
		if ic.RTM != nil {
			rtmCh = ic.RTM.IncomingEvents
		}
		select {
		case <-ic.sessionCtx.Done():
			return nil
		case err := <-ic.fatalCh:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			ic.handleIRCLine(line)
		case ev := <-rtmCh:
			lastActivity = time.Now()
			ic.handleRTMEvent(ev)
		case f := <-ic.submit:
			f()
		case <-sweep.C:
			for _, userID := range ic.Rules.Sweep(time.Now()) {
				nick := userID
				if u := ic.Users.ByID(userID); u != nil {
					nick = u.Name
				}
				ic.SendNotice("Rules for %s expired", nick)
			}
		case now := <-watchdog.C:
			if ic.State() == StateRunning && now.Sub(lastActivity) > rtmWatchdogTimeout {
				log.Warningf("No Slack activity for %v, forcing reconnect", now.Sub(lastActivity))
				lastActivity = now
				ic.setState(StateReconnecting)
				ic.restartRTM()
			}
		}
	}
}

// restartRTM tears the websocket down and lets a fresh RTM take over.
func (ic *Context) restartRTM() {
	if ic.RTM != nil {
		if err := ic.RTM.Disconnect(); err != nil {
			log.Debugf("RTM disconnect: %v", err)
		}
	}
	ic.RTM = ic.SlackClient.NewRTM()
	go ic.RTM.ManageConnection()
}

// afterRegistration runs once the IRC client completes NICK+USER. The
// registration numerics go out before any Slack traffic.
func (ic *Context) afterRegistration() {
	nick := ic.OrigName
	ic.SendNumeric(1, nick, fmt.Sprintf("Welcome to the %s IRC bridge, %s!", ic.ServerName, nick))
	ic.SendNumeric(2, nick, fmt.Sprintf("Your host is %s, running localslackirc", ic.ServerName))
	ic.SendNumeric(3, nick, "This server was created just for you")
	ic.SendNumeric(4, nick, fmt.Sprintf("%s localslackirc o o", ic.ServerName))
	ic.SendNumeric(5, nick, "CHANTYPES=#& CASEMAPPING=ascii")
	// ERR_NOMOTD
	ic.SendNumeric(422, nick, "MOTD File is missing")

	ic.setState(StateConnecting)
	// the client and RTM are created here, on the loop, so the event
	// select below never races on ic.RTM
	ic.ConnectSlack()
	go func() {
		if err := ic.connectAndSync(); err != nil {
			log.Warningf("Cannot connect to Slack: %v", err)
			ic.fatal(err)
		}
	}()
}

// connectAndSync drives CONNECTING and SYNCING and enters RUNNING.
func (ic *Context) connectAndSync() error {
	// wait until the websocket is up and the self info is known
	var info *slack.Info
	start := time.Now()
	for {
		if info = ic.RTM.GetInfo(); info != nil {
			break
		}
		select {
		case <-ic.sessionCtx.Done():
			return nil
		case err := <-ic.fatalCh:
			return err
		default:
		}
		if time.Since(start) > slackConnectTimeout {
			return fmt.Errorf("%w: connection to Slack timed out after %v", ErrSlackUnrecoverable, slackConnectTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}

	user, err := ic.SlackClient.GetUserInfo(info.User.ID)
	if err != nil {
		return fmt.Errorf("%w: cannot get info for self user %s: %v", ErrSlackUnrecoverable, info.User.ID, err)
	}
	ic.User = user
	if info.Team != nil {
		ic.TeamName = info.Team.Name
	}
	// the IRC nick is forced to the Slack self-user name
	if ic.OrigName != user.Name {
		ic.SendLine(":%s NICK %s", ic.OrigName, user.Name)
	}
	ic.SendNotice("Slack team: %s, you are %s (%s)", ic.TeamName, user.Name, user.ID)

	ic.setState(StateSyncing)
	ic.Status.Load(ic.Rules)
	return ic.sync(false)
}

// Resync refreshes the rosters and backfills the gap after an RTM
// re-establishment.
func (ic *Context) Resync() {
	if err := ic.sync(true); err != nil {
		log.Warningf("Resync failed: %v", err)
		ic.fatal(fmt.Errorf("%w: %v", ErrSlackUnrecoverable, err))
	}
}

// sync loads the rosters, announces the auto-joined channels, fetches
// history and flips the bridge to RUNNING. The backlog is delivered
// only after RUNNING so the client sees registration numerics first.
func (ic *Context) sync(resync bool) error {
	ctx := ic.sessionCtx

	if !ic.Settings.NoUserList {
		if err := ic.Users.Fetch(ctx, ic.SlackClient); err != nil {
			return err
		}
	}
	if err := ic.Channels.Fetch(ctx, ic.SlackClient); err != nil {
		return err
	}

	var backfillRooms []Channel
	for _, ch := range ic.Channels.AsList() {
		switch {
		case ch.IsDirect():
			backfillRooms = append(backfillRooms, ch)
		case ch.IsMember:
			name := ch.IRCName()
			if ic.Parted(name) {
				continue
			}
			if ch.IsMP() && staleMpim(&ch) {
				continue
			}
			if ic.Settings.AutoJoin && !ic.ircJoinedChan(name) {
				ic.sendChanInfo(name, ch.ID, "", false)
			}
			if ic.Settings.AutoJoin || ic.ircJoinedChan(name) {
				backfillRooms = append(backfillRooms, ch)
			}
		}
	}

	backlog := ic.backfill(ctx, backfillRooms)

	ic.setState(StateRunning)
	for _, msg := range backlog {
		ic.deliverMessage(msg, "", msg.SubType == "me_message")
	}
	ic.flushHeldEvents()

	if !resync && ic.Settings.ControlSocket != "" {
		if err := ic.StartControl(); err != nil {
			log.Warningf("Cannot start control socket: %v", err)
		}
	}
	return nil
}

// backfill fetches history for every room in a bounded pool and
// returns the merged backlog, ordered per room. Cancellation unwinds
// at the next fetch and drops the partial results.
func (ic *Context) backfill(ctx context.Context, rooms []Channel) []slack.Msg {
	results := make([][]slack.Msg, len(rooms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(historyFetchers)
	for idx, room := range rooms {
		g.Go(func() error {
			since := ic.Status.LastSeen(room.ID)
			if since == "" {
				since = tsFromTime(time.Now().Add(-historyDefaultWindow))
			}
			msgs, err := ic.HistorySince(gctx, room.ID, since, historyLimit)
			if err != nil {
				log.Warningf("History fetch for %s failed: %v", room.ID, err)
				return nil
			}
			out := make([]slack.Msg, 0, len(msgs))
			for _, m := range msgs {
				msg := m.Msg
				msg.Channel = room.ID
				out = append(out, msg)
			}
			results[idx] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil || ctx.Err() != nil {
		return nil
	}
	var backlog []slack.Msg
	for _, msgs := range results {
		backlog = append(backlog, msgs...)
	}
	sort.SliceStable(backlog, func(i, j int) bool {
		if backlog[i].Channel != backlog[j].Channel {
			return backlog[i].Channel < backlog[j].Channel
		}
		return TsLess(backlog[i].Timestamp, backlog[j].Timestamp)
	})
	return backlog
}

func tsFromTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10) + ".000000"
}

func staleMpim(ch *Channel) bool {
	if ch.LastRead == "" {
		return false
	}
	sec, _, ok := splitTs(ch.LastRead)
	if !ok {
		return false
	}
	return time.Since(time.Unix(sec, 0)) > mpimHideDelay
}

// sendChanInfo announces a channel to the IRC client: JOIN, topic and
// the member list, then flushes any withheld messages.
func (ic *Context) sendChanInfo(name, channelID, topic string, memberJoins bool) {
	var members []slack.User
	if !ic.Settings.NoUserList {
		ids, err := ic.ChannelMemberIDs(channelID)
		if err != nil {
			log.Warningf("Failed to fetch members of %s: %v", channelID, err)
		} else {
			// keep the member ids on the cached channel so mention
			// rendering can check membership
			if ch := ic.Channels.ByID(channelID); ch != nil {
				ch.Members = ids
				ic.Channels.Update(*ch)
			}
			for _, id := range ids {
				u := ic.GetUser(id)
				if u == nil || u.Deleted {
					continue
				}
				members = append(members, *u)
			}
		}
	}
	if topic == "" {
		if ch := ic.Channels.ByID(channelID); ch != nil {
			topic = ch.RealTopic()
		}
	}
	topic = strings.ReplaceAll(ic.ParseMessageText(topic, "", name, "", ""), "\n", " | ")

	ic.SendLine(":%s JOIN %s", ic.Mask(), name)
	// RPL_TOPIC and RPL_TOPICWHOTIME
	ic.SendNumeric(332, fmt.Sprintf("%s %s", ic.Nick(), name), topic)
	ic.SendNumeric(333, fmt.Sprintf("%s %s %s %d", ic.Nick(), name, ic.ServerName, time.Now().Unix()), "")
	if len(members) > 0 {
		names := make([]string, 0, len(members))
		for _, m := range members {
			prefix := ""
			if m.IsAdmin {
				prefix = "@"
			}
			names = append(names, prefix+m.Name)
		}
		ic.SendNumeric(353, fmt.Sprintf("%s = %s", ic.Nick(), name), strings.Join(names, " "))
	}
	ic.SendNumeric(366, fmt.Sprintf("%s %s", ic.Nick(), name), "End of NAMES list")
	if memberJoins {
		for _, m := range members {
			if m.ID == ic.UserID() {
				continue
			}
			ic.SendLine(":%s JOIN %s", ic.MaskFor(m.Name, m.ID), name)
		}
	}
	ic.markIrcJoined(name)
	log.Infof("Joined channel %s", name)
	ic.flushQueued(name)
}

// announceThread materialises the synthetic channel of a thread:
// JOIN from every current member of the parent, a topic pointing at
// the parent, and the thread opener for context.
func (ic *Context) announceThread(thread *Thread) {
	ic.sendChanInfo(thread.IRCName, thread.ChannelID, thread.Topic(), true)
	opener, err := ic.ThreadOpener(thread.ChannelID, thread.ThreadTs)
	if err != nil {
		log.Warningf("Failed to get thread opener for %s: %v", thread.IRCName, err)
		return
	}
	nick, id := ic.senderOf(opener.Msg)
	text := ic.ParseMessageText(opener.Text, nick, thread.IRCName, "", "")
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		ic.SendLine(":%s PRIVMSG %s :%s", ic.MaskFor(nick, id), thread.IRCName, line)
	}
}

// Shutdown persists the session state with a bounded deadline.
func (ic *Context) Shutdown() {
	ic.Status.SaveWithTimeout(ic.Rules, ic.Settings.SilencedYellers, statusSaveTimeout)
	ic.StopControl()
	if ic.RTM != nil {
		if err := ic.RTM.Disconnect(); err != nil {
			log.Debugf("RTM disconnect: %v", err)
		}
	}
	ic.Close()
}
