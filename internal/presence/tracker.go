// Package presence tracks which conversations an agent is actively viewing.
// The read endpoint touches a conversation on every mark-as-read request and
// the notifier consults the tracker to suppress redundant notifications.
package presence

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Tracker holds per-conversation viewing markers with a TTL. A conversation
// with no touch within the TTL counts as not viewed.
type Tracker struct {
	entries *gocache.Cache
}

// NewTracker creates a tracker whose markers expire after ttl.
func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		entries: gocache.New(ttl, 2*ttl),
	}
}

// Touch refreshes the viewing marker for a conversation.
func (t *Tracker) Touch(conversationID string) {
	if conversationID == "" {
		return
	}
	t.entries.SetDefault(conversationID, time.Now())
}

// Active reports whether the conversation was viewed within the TTL window.
func (t *Tracker) Active(conversationID string) bool {
	_, found := t.entries.Get(conversationID)
	return found
}
