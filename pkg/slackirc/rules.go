package slackirc

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// AutoreactRule reacts to messages from one user, optionally scoped to
// a single room, with the given probability until it expires.
type AutoreactRule struct {
	ChannelID   string    `json:"channel,omitempty"`
	Probability float64   `json:"probability"`
	Reaction    string    `json:"reaction"`
	Expiry      time.Time `json:"expiry"`
}

// Rules holds the annoy and autoreact tables. Expiries are absolute so
// they survive a restart through the status file.
type Rules struct {
	mu        sync.Mutex
	annoy     map[string]time.Time
	autoreact map[string][]AutoreactRule
	// lastAnnoy debounces the typing responses per user
	lastAnnoy map[string]time.Time

	// onMutate is invoked after every rule change, outside the lock;
	// the bridge uses it to persist the status file.
	onMutate func()
}

// NewRules creates empty rule tables.
func NewRules(onMutate func()) *Rules {
	return &Rules{
		annoy:     make(map[string]time.Time),
		autoreact: make(map[string][]AutoreactRule),
		lastAnnoy: make(map[string]time.Time),
		onMutate:  onMutate,
	}
}

func (r *Rules) mutated() {
	if r.onMutate != nil {
		r.onMutate()
	}
}

// AddAnnoy registers an annoy rule for the user until the expiry.
func (r *Rules) AddAnnoy(userID string, expiry time.Time) {
	r.mu.Lock()
	r.annoy[userID] = expiry
	r.mu.Unlock()
	r.mutated()
}

// DropAnnoy removes the annoy rule for the user, reporting whether one
// existed.
func (r *Rules) DropAnnoy(userID string) bool {
	r.mu.Lock()
	_, ok := r.annoy[userID]
	delete(r.annoy, userID)
	delete(r.lastAnnoy, userID)
	r.mu.Unlock()
	if ok {
		r.mutated()
	}
	return ok
}

// AnnoySnapshot returns a copy of the annoy table.
func (r *Rules) AnnoySnapshot() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.annoy))
	for k, v := range r.annoy {
		out[k] = v
	}
	return out
}

// ShouldAnnoy reports whether a typing event from the user should be
// answered with a typing event of ours. Rules outside their window
// never fire; replies to the same user are debounced to one per the
// given interval.
func (r *Rules) ShouldAnnoy(userID string, now time.Time, debounce time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.annoy[userID]
	if !ok || now.After(expiry) {
		return false
	}
	if last, ok := r.lastAnnoy[userID]; ok && now.Sub(last) <= debounce {
		return false
	}
	r.lastAnnoy[userID] = now
	return true
}

// AddAutoreact appends an autoreact rule for the user.
func (r *Rules) AddAutoreact(userID string, rule AutoreactRule) {
	r.mu.Lock()
	r.autoreact[userID] = append(r.autoreact[userID], rule)
	r.mu.Unlock()
	r.mutated()
}

// DropAutoreact removes every autoreact rule for the user, reporting
// whether any existed.
func (r *Rules) DropAutoreact(userID string) bool {
	r.mu.Lock()
	_, ok := r.autoreact[userID]
	delete(r.autoreact, userID)
	r.mu.Unlock()
	if ok {
		r.mutated()
	}
	return ok
}

// AutoreactSnapshot returns a copy of the autoreact table.
func (r *Rules) AutoreactSnapshot() map[string][]AutoreactRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]AutoreactRule, len(r.autoreact))
	for k, v := range r.autoreact {
		out[k] = append([]AutoreactRule(nil), v...)
	}
	return out
}

// Load replaces both tables, used when restoring the status file.
func (r *Rules) Load(annoy map[string]time.Time, autoreact map[string][]AutoreactRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if annoy != nil {
		r.annoy = annoy
	}
	if autoreact != nil {
		r.autoreact = autoreact
	}
}

// ReactionsFor evaluates the autoreact rules for a message from the
// user in the given room and returns the reactions to post. randFloat
// is injected so the probability roll is testable.
func (r *Rules) ReactionsFor(userID, channelID string, now time.Time, randFloat func() float64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rule := range r.autoreact[userID] {
		if now.After(rule.Expiry) {
			continue
		}
		if rule.ChannelID != "" && rule.ChannelID != channelID {
			continue
		}
		if randFloat() < rule.Probability {
			out = append(out, rule.Reaction)
		}
	}
	return out
}

// Sweep drops every expired entry and reports the user ids whose rules
// went away, so the bridge can notify the client and persist.
func (r *Rules) Sweep(now time.Time) []string {
	r.mu.Lock()
	var expired []string
	for user, expiry := range r.annoy {
		if now.After(expiry) {
			delete(r.annoy, user)
			delete(r.lastAnnoy, user)
			expired = append(expired, user)
		}
	}
	for user, rules := range r.autoreact {
		kept := rules[:0]
		for _, rule := range rules {
			if !now.After(rule.Expiry) {
				kept = append(kept, rule)
			}
		}
		if len(kept) == 0 {
			delete(r.autoreact, user)
			expired = append(expired, user)
		} else if len(kept) != len(rules) {
			r.autoreact[user] = kept
			expired = append(expired, user)
		}
	}
	r.mu.Unlock()
	if len(expired) > 0 {
		r.mutated()
	}
	sort.Strings(expired)
	return expired
}

// Describe lists the active rules for the LISTANNOY and LISTAUTOREACT
// commands, with the user ids resolved through nameOf.
func (r *Rules) Describe(table string, nameOf func(id string) string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	switch table {
	case "annoy":
		for user, expiry := range r.annoy {
			out = append(out, fmt.Sprintf("%s until %s", nameOf(user), expiry.Format(time.RFC3339)))
		}
	case "autoreact":
		for user, rules := range r.autoreact {
			for _, rule := range rules {
				scope := "everywhere"
				if rule.ChannelID != "" {
					scope = rule.ChannelID
				}
				out = append(out, fmt.Sprintf("%s p=%.2f :%s: in %s until %s",
					nameOf(user), rule.Probability, strings.Trim(rule.Reaction, ":"), scope, rule.Expiry.Format(time.RFC3339)))
			}
		}
	}
	sort.Strings(out)
	return out
}
