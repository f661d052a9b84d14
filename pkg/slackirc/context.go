package slackirc

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/slack-go/slack"
)

// State is the bridge lifecycle state.
type State int

// Bridge states. The zero value is Dormant: no IRC client attached.
const (
	StateDormant State = iota
	StateConnecting
	StateSyncing
	StateRunning
	StateReconnecting
	StateExit
)

func (s State) String() string {
	switch s {
	case StateDormant:
		return "DORMANT"
	case StateConnecting:
		return "CONNECTING"
	case StateSyncing:
		return "SYNCING"
	case StateRunning:
		return "RUNNING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// ClientSettings is the configuration record the bridge consumes. It is
// assembled by the launcher from flags and environment variables.
type ClientSettings struct {
	Token              string
	Cookie             string
	Port               int
	AutoJoin           bool
	NoUserList         bool
	NoRejoinOnMention  bool
	IgnoredChannels    []string
	SilencedYellers    []string
	DownloadsDirectory string
	FormattedMaxLines  int
	StatusFile         string
	ControlSocket      string
	Pagination         int
	SlackDebug         bool
	ChunkSize          int
}

// Verify makes sure the configuration is usable, creating the
// downloads directory if it is missing.
func (s *ClientSettings) Verify() error {
	if s.Token == "" {
		return fmt.Errorf("no Slack token configured")
	}
	if strings.HasPrefix(s.Token, "xoxc-") && s.Cookie == "" {
		return fmt.Errorf("the cookie is needed for this kind of slack token")
	}
	if s.DownloadsDirectory != "" {
		info, err := os.Stat(s.DownloadsDirectory)
		switch {
		case os.IsNotExist(err):
			if err := os.MkdirAll(s.DownloadsDirectory, 0o755); err != nil {
				return fmt.Errorf("unable to create %s: %w", s.DownloadsDirectory, err)
			}
		case err != nil:
			return err
		case !info.IsDir():
			return fmt.Errorf("%s is not a directory", s.DownloadsDirectory)
		}
	}
	return nil
}

// Context holds the state of the attached IRC client and its Slack
// session. All of it is owned by the bridge loop; background tasks and
// the control socket submit mutations through Submit.
type Context struct {
	Conn       net.Conn
	ServerName string
	Settings   ClientSettings

	SlackClient *slack.Client
	RTM         *slack.RTM
	User        *slack.User
	TeamName    string

	Users       *Users
	Channels    *Channels
	Threads     *Threads
	Rules       *Rules
	Status      *Status
	FileHandler *FileHandler

	// registration state
	OrigName string
	RealName string

	state State

	mu sync.Mutex
	// parted holds the IRC channel names (regular and synthetic) the
	// client has left. Leaving on IRC does not unsubscribe on Slack.
	parted map[string]bool
	// heldEvents buffers RTM events received before RUNNING
	heldEvents []slack.RTMEvent
	// pending holds messages withheld until the client joins their
	// channel
	pending map[string][]queuedMessage
	// ircJoined tracks which IRC channel names have been announced to
	// the client in this session
	ircJoined map[string]bool
	// presence tracks the last known presence per user id
	presence map[string]string

	sessionCtx context.Context
	cancel     context.CancelFunc
	submit     chan func()
	fatalCh    chan error
	controlLn  net.Listener

	randFloat func() float64

	writeMu sync.Mutex
}

// NewContext creates the per-connection context. The caches are
// populated during SYNCING.
func NewContext(conn net.Conn, serverName string, settings ClientSettings) *Context {
	ctx := &Context{
		Conn:       conn,
		ServerName: serverName,
		Settings:   settings,
		Users:      NewUsers(settings.Pagination),
		Channels:   NewChannels(settings.Pagination),
		Threads:    NewThreads(),
		Status:     NewStatus(settings.StatusFile),
		parted:     make(map[string]bool),
		pending:    make(map[string][]queuedMessage),
		ircJoined:  make(map[string]bool),
		presence:   make(map[string]string),
		submit:     make(chan func(), 64),
		fatalCh:    make(chan error, 1),
		randFloat:  rand.Float64,
	}
	ctx.Rules = NewRules(func() {
		if err := ctx.Status.Save(ctx.Rules, settings.SilencedYellers); err != nil {
			log.Warningf("Cannot persist rule tables: %v", err)
		}
	})
	ctx.FileHandler = &FileHandler{
		Token:              settings.Token,
		Cookie:             settings.Cookie,
		DownloadsDirectory: settings.DownloadsDirectory,
	}
	for _, ch := range settings.IgnoredChannels {
		if !strings.HasPrefix(ch, "#") {
			ch = "#" + ch
		}
		ctx.parted[ch] = true
	}
	ctx.sessionCtx, ctx.cancel = context.WithCancel(context.Background())
	return ctx
}

// State returns the current bridge state.
func (ic *Context) State() State {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.state
}

func (ic *Context) setState(s State) {
	ic.mu.Lock()
	old := ic.state
	ic.state = s
	ic.mu.Unlock()
	if old != s {
		log.Infof("Bridge state: %s -> %s", old, s)
	}
}

// Submit hands a closure to the bridge loop. It is how the control
// socket and background tasks mutate session state.
func (ic *Context) Submit(f func()) {
	select {
	case ic.submit <- f:
	case <-ic.sessionCtx.Done():
	}
}

// Done exposes the session cancellation to owned tasks.
func (ic *Context) Done() <-chan struct{} {
	return ic.sessionCtx.Done()
}

// SessionContext returns the context owning all background tasks of
// this session.
func (ic *Context) SessionContext() context.Context {
	return ic.sessionCtx
}

// Close cancels every owned task.
func (ic *Context) Close() {
	ic.cancel()
}

// Nick returns the nickname of the user, which is forced to the Slack
// self-user name once connected.
func (ic *Context) Nick() string {
	if ic.User == nil {
		if ic.OrigName != "" {
			return ic.OrigName
		}
		return "*"
	}
	return ic.User.Name
}

// UserID returns the Slack id of the self user.
func (ic *Context) UserID() string {
	if ic.User == nil {
		return ""
	}
	return ic.User.ID
}

// Mask returns the IRC mask of the attached client.
func (ic *Context) Mask() string {
	return fmt.Sprintf("%s!%s@%s", ic.Nick(), ic.UserID(), ic.ServerName)
}

// MaskFor builds the IRC mask of another user.
func (ic *Context) MaskFor(nick, userID string) string {
	return fmt.Sprintf("%s!%s@%s", nick, userID, ic.ServerName)
}

// SendLine writes one raw IRC line, appending CRLF.
func (ic *Context) SendLine(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	ic.writeMu.Lock()
	defer ic.writeMu.Unlock()
	if _, err := ic.Conn.Write([]byte(line + "\r\n")); err != nil {
		log.Warningf("Failed to send IRC message: %v", err)
	}
}

// numericsSafeToChunk lists the numeric replies that may be split over
// several lines. As per RFC2812 a message is at most 512 bytes
// including the trailing CRLF, and longer lines break clients like
// ZNC; WHO and NAMES replies are the ones that actually grow with the
// roster and that clients reassemble correctly.
var numericsSafeToChunk = map[int]bool{
	// RPL_WHOREPLY
	352: true,
	// RPL_NAMREPLY
	353: true,
}

// SendNumeric sends a numeric reply, chunking it when the numeric is
// safe to split and the configured chunk size requires it.
func (ic *Context) SendNumeric(code int, args, desc string) {
	preamble := fmt.Sprintf(":%s %03d %s :", ic.ServerName, code, args)
	ic.writeMu.Lock()
	defer ic.writeMu.Unlock()
	for _, chunk := range ic.chunkNumeric(code, preamble, desc) {
		if _, err := ic.Conn.Write([]byte(chunk)); err != nil {
			log.Warningf("Failed to send IRC numeric %d: %v", code, err)
			return
		}
	}
}

// chunkNumeric renders a numeric reply into one or more wire lines,
// repeating the preamble on every chunk. Numerics that clients cannot
// reassemble, a chunk size below the RFC minimum, and replies that
// already fit go out whole.
func (ic *Context) chunkNumeric(code int, preamble, desc string) []string {
	max := ic.Settings.ChunkSize
	if !numericsSafeToChunk[code] || max < 512 || len(preamble)+len(desc)+2 <= max {
		return []string{preamble + desc + "\r\n"}
	}
	width := max - len(preamble) - 2
	lines := wrapWords(strings.Fields(desc), width)
	chunks := make([]string, 0, len(lines))
	for _, line := range lines {
		chunks = append(chunks, preamble+line+"\r\n")
	}
	return chunks
}

// wrapWords packs words into lines of at most width bytes. A single
// word longer than the width is truncated; nick lists have no useful
// split point inside a word.
func wrapWords(words []string, width int) []string {
	var (
		lines []string
		line  strings.Builder
	)
	for _, word := range words {
		if len(word) > width {
			word = word[:width]
		}
		switch {
		case line.Len() == 0:
			line.WriteString(word)
		case line.Len()+1+len(word) <= width:
			line.WriteString(" ")
			line.WriteString(word)
		default:
			lines = append(lines, line.String())
			line.Reset()
			line.WriteString(word)
		}
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}

// SendNotice sends a server NOTICE to the attached client.
func (ic *Context) SendNotice(format string, args ...interface{}) {
	ic.SendLine(":%s NOTICE %s :%s", ic.ServerName, ic.Nick(), fmt.Sprintf(format, args...))
}

// Parted reports whether the client has left the given IRC channel.
func (ic *Context) Parted(name string) bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.parted[name]
}

// MarkParted records that the client left the channel on IRC.
func (ic *Context) MarkParted(name string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.parted[name] = true
}

// ClearParted removes a channel from the parted set, e.g. on /join or
// on a mention-triggered rejoin.
func (ic *Context) ClearParted(name string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	delete(ic.parted, name)
}

// fatal reports an unrecoverable error to the server loop.
func (ic *Context) fatal(err error) {
	select {
	case ic.fatalCh <- err:
	default:
	}
}

// Fatal exposes the fatal error channel to the server.
func (ic *Context) Fatal() <-chan error {
	return ic.fatalCh
}

// ircJoinedChan reports whether the channel has been announced to the
// IRC client in this session.
func (ic *Context) ircJoinedChan(name string) bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.ircJoined[name]
}

func (ic *Context) markIrcJoined(name string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.ircJoined[name] = true
}

func (ic *Context) markIrcParted(name string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	delete(ic.ircJoined, name)
}

func (ic *Context) setPresence(userID, presence string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.presence[userID] = presence
}

// PresenceOf returns active/away/unknown for a user.
func (ic *Context) PresenceOf(userID string) string {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if p, ok := ic.presence[userID]; ok {
		return p
	}
	return "unknown"
}

// SilencedYeller reports whether a nick or channel name is in the
// silenced-yellers set.
func (ic *Context) SilencedYeller(name string) bool {
	name = strings.TrimPrefix(name, "#")
	for _, y := range ic.Settings.SilencedYellers {
		if strings.TrimPrefix(y, "#") == name {
			return true
		}
	}
	return false
}

// cookieHTTPClient attaches the Slack auth cookie to every HTTPS
// request. The cookie is never sent over plain HTTP.
type cookieHTTPClient struct {
	c      http.Client
	cookie string
}

func (hc *cookieHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if hc.cookie != "" {
		if strings.EqualFold(req.URL.Scheme, "https") || strings.EqualFold(req.URL.Scheme, "wss") {
			req.Header.Add("Cookie", hc.cookie)
		} else {
			log.Warning("Cookie is set but connection is not HTTPS, skipping")
		}
	}
	return hc.c.Do(req)
}
