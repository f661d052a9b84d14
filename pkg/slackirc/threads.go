package slackirc

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// Thread is a Slack thread materialised as a synthetic IRC channel. It
// is identified by the parent room and the parent message timestamp.
type Thread struct {
	// ChannelID is the parent room id.
	ChannelID string
	// ThreadTs is the parent message timestamp.
	ThreadTs string
	// IRCName is the synthetic channel name, e.g. #general-0x1a2b3c.
	IRCName string
	// ParentName is the parent channel's IRC name.
	ParentName string
}

// Topic is the human-readable pointer to the parent conversation.
func (t *Thread) Topic() string {
	return "Thread in " + t.ParentName
}

// Threads maps synthetic channel names to threads. A thread exists here
// iff its parent message has been observed in this session.
type Threads struct {
	mu     sync.Mutex
	byName map[string]*Thread
	byKey  map[string]*Thread
}

// NewThreads creates an empty thread registry.
func NewThreads() *Threads {
	return &Threads{
		byName: make(map[string]*Thread),
		byKey:  make(map[string]*Thread),
	}
}

func threadKey(channelID, threadTs string) string {
	return channelID + ":" + threadTs
}

// shortHash hexes the FNV-32a of the thread key, truncated to n digits.
func shortHash(key string, n int) string {
	h := fnv.New32a()
	h.Write([]byte(key))
	s := fmt.Sprintf("%08x", h.Sum32())
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// Observe returns the thread for (channelID, threadTs), creating it on
// first reference. The synthetic name embeds a short hash of the parent
// timestamp; on a hash collision within the session the hash is
// lengthened until the name is free.
func (t *Threads) Observe(channelID, threadTs, parentIRCName string) *Thread {
	key := threadKey(channelID, threadTs)
	t.mu.Lock()
	defer t.mu.Unlock()
	if th, ok := t.byKey[key]; ok {
		return th
	}
	var name string
	for n := 6; ; n++ {
		name = fmt.Sprintf("%s-0x%s", parentIRCName, shortHash(key, n))
		other, taken := t.byName[name]
		if !taken {
			break
		}
		if other.ChannelID == channelID && other.ThreadTs == threadTs {
			return other
		}
		if n >= 8 {
			// full hash still collides, disambiguate with the ts
			name = fmt.Sprintf("%s-0x%s-%s", parentIRCName, shortHash(key, 8), threadTs)
			break
		}
	}
	th := &Thread{
		ChannelID:  channelID,
		ThreadTs:   threadTs,
		IRCName:    name,
		ParentName: parentIRCName,
	}
	t.byName[name] = th
	t.byKey[key] = th
	return th
}

// ByName resolves a synthetic channel name to its thread.
func (t *Threads) ByName(name string) *Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byName[name]
}

// ByKey resolves (channelID, threadTs) to an already observed thread.
func (t *Threads) ByKey(channelID, threadTs string) *Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byKey[threadKey(channelID, threadTs)]
}

// Known reports whether the thread has been observed in this session.
// Posting to a synthetic channel requires this.
func (t *Threads) Known(name string) bool {
	return t.ByName(name) != nil
}
