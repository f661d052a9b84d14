package slackirc

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coredhcp/coredhcp/logger"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

// SlackCallError is a Slack Web API call that came back with ok=false.
type SlackCallError struct {
	Method string
	Code   string
}

func (e *SlackCallError) Error() string {
	return fmt.Sprintf("slack call %s failed: %s", e.Method, e.Code)
}

// PostError is a failed chat.postMessage: rate limit, permission, or
// unknown room.
type PostError struct {
	Target string
	Err    error
}

func (e *PostError) Error() string {
	return fmt.Sprintf("cannot post to %s: %v", e.Target, e.Err)
}

func (e *PostError) Unwrap() error {
	return e.Err
}

// ErrFileNotFound marks an upload whose local path is unreadable.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("cannot read file %s", e.Path)
}

// wrapped logger that satisfies the slack.logger interface
type loggerWrapper struct {
	*logrus.Entry
}

func (l *loggerWrapper) Output(calldepth int, s string) error {
	l.Print(s)
	return nil
}

// ConnectSlack builds the API client with token and cookie auth and
// starts the RTM connection management in the background. The RTM
// reconnects on its own with backoff; the bridge sees a fresh
// ConnectedEvent after every re-establishment.
func (ic *Context) ConnectSlack() {
	ic.SlackClient = slack.New(
		ic.Settings.Token,
		slack.OptionDebug(ic.Settings.SlackDebug),
		slack.OptionLog(&loggerWrapper{logger.GetLogger("slack-api")}),
		slack.OptionHTTPClient(&cookieHTTPClient{cookie: ic.Settings.Cookie}),
	)
	ic.RTM = ic.SlackClient.NewRTM()
	go ic.RTM.ManageConnection()
	log.Info("Starting Slack client")
}

// GetUser returns a user by id, refreshing the cache on a miss. A miss
// never crashes the bridge: the caller falls back to the raw id.
func (ic *Context) GetUser(userID string) *slack.User {
	if u := ic.Users.ByID(userID); u != nil {
		return u
	}
	u, err := ic.Users.Refresh(ic.SlackClient, userID)
	if err != nil {
		log.Warningf("Failed to fetch user %s: %v", userID, err)
		return nil
	}
	return u
}

// GetUserByName returns a user by Slack name, or nil if unknown.
func (ic *Context) GetUserByName(name string) *slack.User {
	return ic.Users.ByName(name)
}

// GetChannel returns a conversation by id, refreshing the cache on a
// miss.
func (ic *Context) GetChannel(channelID string) *Channel {
	if ch := ic.Channels.ByID(channelID); ch != nil {
		return ch
	}
	ch, err := ic.Channels.Refresh(ic.SlackClient, channelID)
	if err != nil {
		log.Warningf("Failed to fetch channel %s: %v", channelID, err)
		return nil
	}
	return ch
}

// ChannelMemberIDs pages through the member list of a conversation.
func (ic *Context) ChannelMemberIDs(channelID string) ([]string, error) {
	var (
		members    []string
		nextCursor string
	)
	for {
		attempt := 0
		var (
			m   []string
			err error
		)
		for {
			if attempt >= MaxSlackAPIAttempts {
				return nil, fmt.Errorf("ChannelMemberIDs: exceeded the maximum number of attempts (%d) with the Slack API", MaxSlackAPIAttempts)
			}
			m, nextCursor, err = ic.SlackClient.GetUsersInConversation(&slack.GetUsersInConversationParameters{
				ChannelID: channelID,
				Cursor:    nextCursor,
				Limit:     1000,
			})
			if err != nil {
				if rlErr, ok := err.(*slack.RateLimitedError); ok {
					log.Warningf("Hit Slack API rate limiter. Waiting %v", rlErr.RetryAfter)
					time.Sleep(rlErr.RetryAfter)
					attempt++
					continue
				}
				return nil, fmt.Errorf("cannot get member list for conversation %s: %w", channelID, err)
			}
			break
		}
		members = append(members, m...)
		if nextCursor == "" {
			return members, nil
		}
	}
}

// ChannelMembers resolves the member list to users, skipping ids the
// roster cannot resolve.
func (ic *Context) ChannelMembers(channelID string) ([]slack.User, error) {
	ids, err := ic.ChannelMemberIDs(channelID)
	if err != nil {
		return nil, err
	}
	users := make([]slack.User, 0, len(ids))
	for _, id := range ids {
		if u := ic.GetUser(id); u != nil {
			users = append(users, *u)
		}
	}
	return users, nil
}

// JoinChannel joins a conversation on Slack by its IRC or Slack name.
// Joining a channel we are already in succeeds.
func (ic *Context) JoinChannel(name string) (*Channel, error) {
	ch := ic.Channels.ByName(name)
	if ch == nil {
		// maybe the channel appeared after the last fetch
		if err := ic.Channels.Fetch(ic.sessionCtx, ic.SlackClient); err != nil {
			return nil, err
		}
		if ch = ic.Channels.ByName(name); ch == nil {
			return nil, &SlackCallError{Method: "conversations.join", Code: "channel_not_found"}
		}
	}
	sch, _, _, err := ic.SlackClient.JoinConversation(ch.ID)
	if err != nil {
		if err.Error() == "already_in_channel" || err.Error() == "method_not_supported_for_channel_type" {
			return ch, nil
		}
		return nil, &SlackCallError{Method: "conversations.join", Code: err.Error()}
	}
	joined := Channel(*sch)
	ic.Channels.Update(joined)
	return &joined, nil
}

// LeaveChannel leaves a conversation on Slack. Leaving a conversation
// we are not in succeeds.
func (ic *Context) LeaveChannel(channelID string) error {
	if _, err := ic.SlackClient.LeaveConversation(channelID); err != nil && err.Error() != "not_in_channel" {
		return &SlackCallError{Method: "conversations.leave", Code: err.Error()}
	}
	return nil
}

// Post sends a message to a room, optionally into a thread, and
// returns the posted timestamp.
func (ic *Context) Post(channelID, text, threadTs string) (string, error) {
	opts := []slack.MsgOption{
		slack.MsgOptionAsUser(true),
		slack.MsgOptionText(text, false),
	}
	if threadTs != "" {
		opts = append(opts, slack.MsgOptionTS(threadTs))
	}
	_, ts, err := ic.SlackClient.PostMessage(channelID, opts...)
	if err != nil {
		return "", &PostError{Target: channelID, Err: err}
	}
	return ts, nil
}

// Upload sends a local file to a room via the multipart upload API.
// An unreadable path yields FileNotFoundError and never kills the
// bridge.
func (ic *Context) Upload(channelID, path, threadTs string) error {
	if _, err := os.Stat(path); err != nil {
		return &FileNotFoundError{Path: path}
	}
	params := slack.FileUploadParameters{
		File:            path,
		Channels:        []string{channelID},
		ThreadTimestamp: threadTs,
	}
	if _, err := ic.SlackClient.UploadFile(params); err != nil {
		return &SlackCallError{Method: "files.upload", Code: err.Error()}
	}
	return nil
}

// HistorySince pages through a room's history starting after sinceTs.
// A failure past the first page returns the partial history with a
// warning instead of an error. Messages from deleted users are
// omitted. The returned messages are ordered oldest first.
func (ic *Context) HistorySince(ctx context.Context, roomID, sinceTs string, limit int) ([]slack.Message, error) {
	var out []slack.Message
	params := slack.GetConversationHistoryParameters{
		ChannelID: roomID,
		Oldest:    sinceTs,
		Limit:     200,
	}
	page := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := ic.SlackClient.GetConversationHistoryContext(ctx, &params)
		if err != nil {
			if rlErr, ok := err.(*slack.RateLimitedError); ok {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(rlErr.RetryAfter):
					continue
				}
			}
			if page == 0 {
				return nil, &SlackCallError{Method: "conversations.history", Code: err.Error()}
			}
			log.Warningf("History fetch for %s failed after page %d, delivering partial history: %v", roomID, page, err)
			break
		}
		for _, msg := range resp.Messages {
			if u := ic.Users.ByID(msg.User); u != nil && u.Deleted {
				continue
			}
			out = append(out, msg)
		}
		if len(out) >= limit || !resp.HasMore {
			break
		}
		params.Cursor = resp.ResponseMetaData.NextCursor
		page++
	}
	if len(out) > limit {
		out = out[:limit]
	}
	// history comes newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MarkRead moves the room's read cursor on Slack. Best-effort: errors
// are logged and discarded.
func (ic *Context) MarkRead(roomID, ts string) {
	if err := ic.SlackClient.MarkConversation(roomID, ts); err != nil {
		log.Debugf("Cannot mark %s read at %s: %v", roomID, ts, err)
	}
}

// SendTyping emits a typing indicator into the room. Fire-and-forget.
func (ic *Context) SendTyping(roomID string) {
	if ic.RTM != nil {
		ic.RTM.SendMessage(ic.RTM.NewTypingMessage(roomID))
	}
}

// React adds a reaction to a message. Slack reacts idempotently;
// duplicate-reaction responses are swallowed, whatever their current
// spelling, as long as they mention a reaction or a duplicate.
func (ic *Context) React(roomID, ts, name string) error {
	name = strings.Trim(name, ":")
	err := ic.SlackClient.AddReaction(name, slack.NewRefToMessage(roomID, ts))
	if err == nil {
		return nil
	}
	code := err.Error()
	if strings.Contains(code, "reacted") || strings.Contains(code, "reaction") || strings.Contains(code, "duplicate") {
		return nil
	}
	return &SlackCallError{Method: "reactions.add", Code: code}
}

// SetTopic sets the room topic on Slack.
func (ic *Context) SetTopic(channelID, topic string) (string, error) {
	ch, err := ic.SlackClient.SetTopicOfConversation(channelID, topic)
	if err != nil {
		return "", &SlackCallError{Method: "conversations.setTopic", Code: err.Error()}
	}
	return ch.Topic.Value, nil
}

// Kick removes a user from a conversation.
func (ic *Context) Kick(channelID, userID string) error {
	if err := ic.SlackClient.KickUserFromConversation(channelID, userID); err != nil {
		return &SlackCallError{Method: "conversations.kick", Code: err.Error()}
	}
	return nil
}

// Invite adds a user to a conversation.
func (ic *Context) Invite(channelID, userID string) error {
	if _, err := ic.SlackClient.InviteUsersToConversation(channelID, userID); err != nil {
		return &SlackCallError{Method: "conversations.invite", Code: err.Error()}
	}
	return nil
}

// Away switches the Slack presence of the self user.
func (ic *Context) Away(away bool) error {
	presence := "auto"
	if away {
		presence = "away"
	}
	if err := ic.SlackClient.SetUserPresence(presence); err != nil {
		return &SlackCallError{Method: "users.setPresence", Code: err.Error()}
	}
	return nil
}

// OpenIM opens (or returns) the direct conversation with a user.
func (ic *Context) OpenIM(userID string) (*Channel, error) {
	if ch := ic.Channels.IMForUser(userID); ch != nil {
		return ch, nil
	}
	sch, _, _, err := ic.SlackClient.OpenConversation(&slack.OpenConversationParameters{
		Users:    []string{userID},
		ReturnIM: true,
	})
	if err != nil {
		return nil, &SlackCallError{Method: "conversations.open", Code: err.Error()}
	}
	ch := Channel(*sch)
	ic.Channels.Update(ch)
	return &ch, nil
}

// ThreadOpener fetches the first message of a thread.
func (ic *Context) ThreadOpener(channelID, threadTs string) (slack.Message, error) {
	msgs, _, _, err := ic.SlackClient.GetConversationReplies(&slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTs,
	})
	if err != nil || len(msgs) == 0 {
		return slack.Message{}, err
	}
	return msgs[0], nil
}
