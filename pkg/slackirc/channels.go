package slackirc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/sync/singleflight"
)

// Channels wraps the conversation list with id and name lookups and a
// refresh-on-miss cache. Both lookups are O(1).
type Channels struct {
	mu         sync.Mutex
	channels   map[string]Channel
	byName     map[string]string
	byIMUser   map[string]string
	Pagination int
	group      singleflight.Group
}

// NewChannels creates a new Channels cache.
func NewChannels(pagination int) *Channels {
	return &Channels{
		channels:   make(map[string]Channel),
		byName:     make(map[string]string),
		byIMUser:   make(map[string]string),
		Pagination: pagination,
	}
}

func (c *Channels) store(ch Channel) {
	storeChannel(c.channels, c.byName, c.byIMUser, ch)
}

func storeChannel(channels map[string]Channel, byName, byIMUser map[string]string, ch Channel) {
	channels[ch.ID] = ch
	if ch.IsDirect() {
		byIMUser[ch.User] = ch.ID
		return
	}
	byName[ch.SlackName()] = ch.ID
	if ch.IsMP() {
		// multi-party IMs are addressed by their IRC name
		byName[StripChannelPrefix(ch.IRCName())] = ch.ID
	}
}

// Fetch retrieves every conversation the workspace exposes to us:
// public and private channels, multi-party IMs and direct IMs.
func (c *Channels) Fetch(ctx context.Context, client *slack.Client) error {
	log.Infof("Fetching all channels, might take a while on large Slack teams")
	var (
		err      error
		channels = make(map[string]Channel)
		byName   = make(map[string]string)
		byIMUser = make(map[string]string)
	)
	start := time.Now()
	params := slack.GetConversationsParameters{
		Types: []string{"public_channel", "private_channel", "mpim", "im"},
		Limit: c.Pagination,
	}
	for {
		chans, nextCursor, cerr := client.GetConversationsContext(ctx, &params)
		if cerr != nil {
			if rlErr, ok := cerr.(*slack.RateLimitedError); ok {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(rlErr.RetryAfter):
					continue
				}
			}
			err = cerr
			break
		}
		for _, sch := range chans {
			storeChannel(channels, byName, byIMUser, Channel(sch))
		}
		if nextCursor == "" {
			break
		}
		params.Cursor = nextCursor
	}
	if err != nil {
		return fmt.Errorf("failed to fetch channels: %w", err)
	}
	log.Infof("Retrieved %d channels in %s", len(channels), time.Since(start))
	c.mu.Lock()
	c.channels = channels
	c.byName = byName
	c.byIMUser = byIMUser
	c.mu.Unlock()
	return nil
}

// Refresh fetches a single conversation and updates the cache.
// Concurrent refreshes of the same id collapse into one API call.
func (c *Channels) Refresh(client *slack.Client, channelID string) (*Channel, error) {
	v, err, _ := c.group.Do(channelID, func() (interface{}, error) {
		for attempt := 0; attempt < MaxSlackAPIAttempts; attempt++ {
			sch, err := client.GetConversationInfo(&slack.GetConversationInfoInput{
				ChannelID:     channelID,
				IncludeLocale: true,
			})
			if err != nil {
				if rlErr, ok := err.(*slack.RateLimitedError); ok {
					log.Warningf("Hit Slack API rate limiter. Waiting %v", rlErr.RetryAfter)
					time.Sleep(rlErr.RetryAfter)
					continue
				}
				return nil, err
			}
			ch := Channel(*sch)
			c.mu.Lock()
			c.store(ch)
			c.mu.Unlock()
			return &ch, nil
		}
		return nil, fmt.Errorf("Channels.Refresh: exceeded the maximum number of attempts (%d) with the Slack API", MaxSlackAPIAttempts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Channel), nil
}

// Evict drops a conversation from the cache, typically on channel_*
// and member_joined_channel events.
func (c *Channels) Evict(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[channelID]; ok {
		delete(c.byName, ch.SlackName())
		delete(c.byIMUser, ch.User)
		delete(c.channels, channelID)
	}
}

// Update replaces a cached conversation in place.
func (c *Channels) Update(ch Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(ch)
}

// Count returns the number of cached conversations.
func (c *Channels) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// AsList returns a snapshot of the cached conversations.
func (c *Channels) AsList() []Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		ret = append(ret, ch)
	}
	return ret
}

// ByID retrieves a conversation by its Slack ID.
func (c *Channels) ByID(id string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[id]; ok {
		return &ch
	}
	return nil
}

// ByName retrieves a conversation by its Slack or IRC name.
func (c *Channels) ByName(name string) *Channel {
	name = StripChannelPrefix(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.byName[name]; ok {
		ch := c.channels[id]
		return &ch
	}
	return nil
}

// IMForUser returns the direct conversation with the given user, if one
// is already open.
func (c *Channels) IMForUser(userID string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.byIMUser[userID]; ok {
		ch := c.channels[id]
		return &ch
	}
	return nil
}
