// Package client is a Go client for the chat server: a reconciled
// conversation timeline plus a session that feeds it from HTTP and the
// websocket.
package client

import (
	"sort"
	"sync"
	"time"

	"directchat/internal/realtime"

	"github.com/google/uuid"
)

// TempPrefix marks client-local ids. The server never issues ids with it.
const TempPrefix = "temp_"

type (
	Message = realtime.MessagePayload
	User    = realtime.UserRef
)

// Entry is one line of the timeline. While Pending it has a TempID and no
// server id; Failed marks a pending entry that waited too long.
type Entry struct {
	Message
	TempID  string    `json:"tempId,omitempty"`
	Pending bool      `json:"pending"`
	Failed  bool      `json:"failed"`
	OrderAt time.Time `json:"orderAt"`
}

// Key is the id the entry is known by.
func (e Entry) Key() string {
	if e.Pending {
		return e.TempID
	}
	return e.ID
}

// Timeline is the ordered, deduplicated view of one conversation. It is fed
// from user sends, HTTP responses and socket pushes in any interleaving and
// ends in the same state regardless of arrival order.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry
	newID   func() string
}

func NewTimeline() *Timeline {
	return &Timeline{newID: func() string { return TempPrefix + uuid.NewString() }}
}

// AppendOptimistic records a send the server has not confirmed yet.
func (t *Timeline) AppendOptimistic(sender, receiver User, content string, at time.Time) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	tempID := t.newID()
	e := Entry{
		Message: Message{
			Sender:          sender,
			Receiver:        receiver,
			Content:         content,
			CreatedAt:       at,
			ClientMessageID: tempID,
		},
		TempID:  tempID,
		Pending: true,
		OrderAt: at,
	}
	t.insert(e)
	return e
}

// Confirm resolves tempID with the stored message. If the message is already
// present (its push won the race) the pending entry is just dropped.
func (t *Timeline) Confirm(tempID string, msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := t.indexTemp(tempID)
	if t.indexID(msg.ID) >= 0 {
		if pending >= 0 {
			t.remove(pending)
		}
		return
	}
	if pending >= 0 {
		t.resolve(pending, msg)
		return
	}
	t.insert(confirmed(msg))
}

// Discard drops a pending entry whose send failed. Confirmed entries are
// never removed.
func (t *Timeline) Discard(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexTemp(tempID); i >= 0 {
		t.remove(i)
		return true
	}
	return false
}

// IngestPushed applies a server push and reports whether the timeline
// changed. A known id is ignored. A push echoing one of our temp ids
// resolves that entry. Pushes without a temp id fall back to the earliest
// pending entry with the same participants and content.
func (t *Timeline) IngestPushed(msg Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.indexID(msg.ID) >= 0 {
		return false
	}
	if msg.ClientMessageID != "" {
		if i := t.indexTemp(msg.ClientMessageID); i >= 0 {
			t.resolve(i, msg)
			return true
		}
	} else if i := t.indexSameContent(msg); i >= 0 {
		t.resolve(i, msg)
		return true
	}
	t.insert(confirmed(msg))
	return true
}

// ReplaceHistory swaps in a fetched history, keeping the first occurrence of
// each id. Every pending entry is dropped.
func (t *Timeline) ReplaceHistory(msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]struct{}, len(msgs))
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		entries = append(entries, confirmed(m))
	}
	t.entries = entries
}

// ExpirePending marks entries pending for at least maxAge as failed and
// returns their temp ids. A late confirmation still resolves them.
func (t *Timeline) ExpirePending(now time.Time, maxAge time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []string
	for i := range t.entries {
		e := &t.entries[i]
		if e.Pending && !e.Failed && now.Sub(e.OrderAt) >= maxAge {
			e.Failed = true
			expired = append(expired, e.TempID)
		}
	}
	return expired
}

func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

func (t *Timeline) Pending() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Entry
	for _, e := range t.entries {
		if e.Pending {
			out = append(out, e)
		}
	}
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func confirmed(m Message) Entry {
	m.ClientMessageID = ""
	return Entry{Message: m, OrderAt: m.CreatedAt}
}

// resolve replaces entry i in place; its position and order time stay.
func (t *Timeline) resolve(i int, msg Message) {
	e := confirmed(msg)
	e.OrderAt = t.entries[i].OrderAt
	t.entries[i] = e
}

// insert places e after every entry ordered at or before it.
func (t *Timeline) insert(e Entry) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].OrderAt.After(e.OrderAt)
	})
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

func (t *Timeline) remove(i int) {
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
}

func (t *Timeline) indexID(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range t.entries {
		if !e.Pending && e.ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexTemp(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i, e := range t.entries {
		if e.Pending && e.TempID == tempID {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexSameContent(msg Message) int {
	for i, e := range t.entries {
		if e.Pending && e.Sender.ID == msg.Sender.ID && e.Receiver.ID == msg.Receiver.ID && e.Content == msg.Content {
			return i
		}
	}
	return -1
}
