package slackirc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/sync/singleflight"
)

// MaxSlackAPIAttempts bounds the retries against the Slack API when it
// rate-limits us.
const MaxSlackAPIAttempts = 3

// Users wraps the workspace roster with id and name lookups and a
// refresh-on-miss cache. Both lookups are O(1).
type Users struct {
	mu         sync.Mutex
	users      map[string]slack.User
	byName     map[string]string
	pagination int
	group      singleflight.Group
}

// NewUsers creates a new Users cache.
func NewUsers(pagination int) *Users {
	return &Users{
		users:      make(map[string]slack.User),
		byName:     make(map[string]string),
		pagination: pagination,
	}
}

func (u *Users) store(user slack.User) {
	u.users[user.ID] = user
	u.byName[user.Name] = user.ID
}

// Fetch retrieves the whole user directory. The Slack client has to be
// valid and connected.
func (u *Users) Fetch(ctx context.Context, client *slack.Client) error {
	log.Infof("Fetching all users, might take a while on large Slack teams")
	var opts []slack.GetUsersOption
	if u.pagination > 0 {
		opts = append(opts, slack.GetUsersOptionLimit(u.pagination))
	}
	up := client.GetUsersPaginated(opts...)
	var err error
	users := make(map[string]slack.User)
	byName := make(map[string]string)
	start := time.Now()
	for err == nil {
		up, err = up.Next(ctx)
		if err == nil {
			for _, user := range up.Users {
				users[user.ID] = user
				byName[user.Name] = user.ID
			}
		} else if rlErr, ok := err.(*slack.RateLimitedError); ok {
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(rlErr.RetryAfter):
				err = nil
			}
		}
	}
	if err = up.Failure(err); err != nil {
		return fmt.Errorf("failed to fetch users: %w", err)
	}
	log.Infof("Retrieved %d users in %s", len(users), time.Since(start))
	u.mu.Lock()
	u.users = users
	u.byName = byName
	u.mu.Unlock()
	return nil
}

// Refresh fetches a single user and updates the cache. Concurrent
// refreshes of the same id collapse into one API call.
func (u *Users) Refresh(client *slack.Client, userID string) (*slack.User, error) {
	v, err, _ := u.group.Do(userID, func() (interface{}, error) {
		for attempt := 0; attempt < MaxSlackAPIAttempts; attempt++ {
			user, err := client.GetUserInfo(userID)
			if err != nil {
				if rlErr, ok := err.(*slack.RateLimitedError); ok {
					log.Warningf("Hit Slack API rate limiter. Waiting %v", rlErr.RetryAfter)
					time.Sleep(rlErr.RetryAfter)
					continue
				}
				return nil, err
			}
			u.mu.Lock()
			u.store(*user)
			u.mu.Unlock()
			return user, nil
		}
		return nil, fmt.Errorf("Users.Refresh: exceeded the maximum number of attempts (%d) with the Slack API", MaxSlackAPIAttempts)
	})
	if err != nil {
		return nil, err
	}
	user := v.(*slack.User)
	return user, nil
}

// Evict drops a user from the cache, typically on user_change and
// team_join events.
func (u *Users) Evict(userID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.users[userID]; ok {
		delete(u.byName, user.Name)
		delete(u.users, userID)
	}
}

// Count returns the number of cached users.
func (u *Users) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.users)
}

// ByID retrieves a user by its Slack ID, or nil if unknown.
func (u *Users) ByID(id string) *slack.User {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.users[id]; ok {
		return &user
	}
	return nil
}

// ByName retrieves a user by its Slack name, or nil if unknown.
func (u *Users) ByName(name string) *slack.User {
	u.mu.Lock()
	defer u.mu.Unlock()
	if id, ok := u.byName[name]; ok {
		user := u.users[id]
		return &user
	}
	return nil
}

// IDsToNames returns the names for the given user IDs. The returned
// list can be shorter when some IDs are unknown.
func (u *Users) IDsToNames(userIDs ...string) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	names := make([]string, 0, len(userIDs))
	for _, uid := range userIDs {
		if user, ok := u.users[uid]; ok {
			names = append(names, user.Name)
		}
	}
	return names
}
