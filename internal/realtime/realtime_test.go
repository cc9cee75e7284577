package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakePresence struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakePresence) SetUserOnline(_ context.Context, userID string, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s=%v", userID, online))
	return f.err
}

func (f *fakePresence) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestConn(userID string) *Conn {
	return NewConn(userID, userID, 64)
}

// drain returns every frame queued on c so far.
func drain(t *testing.T, c *Conn) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			if err := json.Unmarshal(b, &env); err != nil {
				t.Fatalf("bad frame %q: %v", b, err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func countEvents(envs []Envelope, event string) int {
	n := 0
	for _, e := range envs {
		if e.Event == event {
			n++
		}
	}
	return n
}

func findEvent(t *testing.T, envs []Envelope, event string, v any) bool {
	t.Helper()
	for _, e := range envs {
		if e.Event == event {
			if v != nil {
				if err := json.Unmarshal(e.Data, v); err != nil {
					t.Fatalf("decode %s: %v", event, err)
				}
			}
			return true
		}
	}
	return false
}

func TestRoomID(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"u1", "u2", "u1_u2"},
		{"u2", "u1", "u1_u2"},
		{"b", "a", "a_b"},
		{"same", "same", "same_same"},
	}
	for _, tt := range tests {
		if got := RoomID(tt.a, tt.b); got != tt.want {
			t.Errorf("RoomID(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
		if RoomID(tt.a, tt.b) != RoomID(tt.b, tt.a) {
			t.Errorf("RoomID(%q, %q) is not symmetric", tt.a, tt.b)
		}
	}
}

func TestParticipantsOf(t *testing.T) {
	tests := []struct {
		room   string
		a, b   string
		wantOK bool
	}{
		{"u1_u2", "u1", "u2", true},
		{RoomID("zed", "amy"), "amy", "zed", true},
		{"u2_u1", "", "", false},
		{"u1", "", "", false},
		{"_u1", "", "", false},
		{"u1_", "", "", false},
		{"a_b_c", "", "", false},
	}
	for _, tt := range tests {
		a, b, ok := ParticipantsOf(tt.room)
		if ok != tt.wantOK || a != tt.a || b != tt.b {
			t.Errorf("ParticipantsOf(%q) = %q, %q, %v, want %q, %q, %v", tt.room, a, b, ok, tt.a, tt.b, tt.wantOK)
		}
	}
}

func TestCanJoin(t *testing.T) {
	tests := []struct {
		name string
		user string
		room string
		want bool
	}{
		{"own personal room", "u1", "u1", true},
		{"other personal room", "u1", "u2", false},
		{"own conversation", "u1", RoomID("u1", "u2"), true},
		{"foreign conversation", "u3", RoomID("u1", "u2"), false},
		{"garbage", "u1", "u1_u0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := canJoin(tt.user, tt.room); got != tt.want {
				t.Errorf("canJoin(%q, %q) = %v, want %v", tt.user, tt.room, got, tt.want)
			}
		})
	}
}

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()
	a1, a2 := newTestConn("alice"), newTestConn("alice")

	tests := []struct {
		name     string
		op       func(*Conn) (bool, bool)
		c        *Conn
		wantDone bool
		wantEdge bool
	}{
		{"Add(first)", r.Add, a1, true, true},
		{"Add(same conn again)", r.Add, a1, false, false},
		{"Add(second)", r.Add, a2, true, false},
		{"Remove(first of two)", r.Remove, a1, true, false},
		{"Remove(unknown)", r.Remove, a1, false, false},
		{"Remove(last)", r.Remove, a2, true, true},
		{"Remove(last again)", r.Remove, a2, false, false},
	}
	for _, tt := range tests {
		if done, edge := tt.op(tt.c); done != tt.wantDone || edge != tt.wantEdge {
			t.Errorf("%s = (%v, %v), want (%v, %v)", tt.name, done, edge, tt.wantDone, tt.wantEdge)
		}
	}
	if r.IsOnline("alice") {
		t.Error("IsOnline() after last remove = true, want false")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}

	r.Add(a1)
	r.Add(a2)
	if got := len(r.Conns("alice")); got != 2 {
		t.Errorf("Conns() len = %d, want 2", got)
	}
}

func TestRegistry_OnlineUsersSorted(t *testing.T) {
	r := NewRegistry()
	for _, u := range []string{"carol", "alice", "bob", "alice"} {
		r.Add(newTestConn(u))
	}
	got := fmt.Sprint(r.OnlineUsers())
	if got != "[alice bob carol]" {
		t.Errorf("OnlineUsers() = %s, want [alice bob carol]", got)
	}
}

func TestRooms_JoinLeave(t *testing.T) {
	rooms := NewRooms()
	a, b := newTestConn("alice"), newTestConn("bob")
	room := RoomID("alice", "bob")

	rooms.Join(a, room)
	rooms.Join(a, room)
	rooms.Join(a, "alice")
	rooms.Join(b, room)

	if got := rooms.Count(room); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	if !rooms.HasUser(room, "bob") {
		t.Error("HasUser(bob) = false, want true")
	}

	rooms.Leave(b, room)
	if rooms.HasUser(room, "bob") {
		t.Error("HasUser(bob) after leave = true, want false")
	}

	rooms.LeaveAll(a)
	if got := rooms.Count(room); got != 0 {
		t.Errorf("Count() after LeaveAll = %d, want 0", got)
	}
	if len(rooms.rooms) != 0 || len(rooms.byConn) != 0 {
		t.Errorf("empty rooms not discarded: rooms=%v byConn=%v", rooms.rooms, rooms.byConn)
	}
}

func TestPresence_OfflineOnceAcrossTabs(t *testing.T) {
	store := &fakePresence{}
	h := NewHub(store, Options{})
	ctx := context.Background()

	observer := newTestConn("bob")
	h.Connect(ctx, observer)

	tabs := []*Conn{newTestConn("alice"), newTestConn("alice"), newTestConn("alice")}
	for _, c := range tabs {
		h.Connect(ctx, c)
	}
	drain(t, observer)

	for _, c := range tabs {
		h.Disconnect(ctx, c)
		if c == tabs[len(tabs)-1] {
			break
		}
		if !h.Registry().IsOnline("alice") {
			t.Fatal("alice reported offline with connections open")
		}
	}

	events := drain(t, observer)
	if got := countEvents(events, EventUserOffline); got != 1 {
		t.Errorf("userOffline count = %d, want 1", got)
	}
	var off PresenceEvent
	findEvent(t, events, EventUserOffline, &off)
	if off.UserID != "alice" {
		t.Errorf("userOffline.userId = %q, want alice", off.UserID)
	}
	var list []string
	findEvent(t, events, EventOnlineUsersList, &list)
	if fmt.Sprint(list) != "[bob]" {
		t.Errorf("onlineUsersList = %v, want [bob]", list)
	}

	want := "[bob=true alice=true alice=false]"
	if got := fmt.Sprint(store.Calls()); got != want {
		t.Errorf("store calls = %s, want %s", got, want)
	}
}

func TestPresence_SecondTabGetsSnapshotOnly(t *testing.T) {
	h := NewHub(&fakePresence{}, Options{})
	ctx := context.Background()

	observer := newTestConn("bob")
	first := newTestConn("alice")
	h.Connect(ctx, observer)
	h.Connect(ctx, first)
	drain(t, observer)
	drain(t, first)

	second := newTestConn("alice")
	h.Connect(ctx, second)

	if got := drain(t, observer); len(got) != 0 {
		t.Errorf("observer got %d events for a second tab, want 0", len(got))
	}
	var list []string
	if !findEvent(t, drain(t, second), EventOnlineUsersList, &list) {
		t.Fatal("second tab got no onlineUsersList")
	}
	if fmt.Sprint(list) != "[alice bob]" {
		t.Errorf("snapshot = %v, want [alice bob]", list)
	}
}

func TestPresence_StoreFailureStillBroadcasts(t *testing.T) {
	h := NewHub(&fakePresence{err: errors.New("db down")}, Options{})
	ctx := context.Background()

	observer := newTestConn("bob")
	h.Connect(ctx, observer)
	drain(t, observer)

	c := newTestConn("alice")
	h.Connect(ctx, c)
	if !findEvent(t, drain(t, observer), EventUserOnline, nil) {
		t.Error("userOnline not broadcast when store write fails")
	}
	if !h.Registry().IsOnline("alice") {
		t.Error("registry lost alice after store failure")
	}
}

func TestPresence_ConcurrentSameUserKeepsOrder(t *testing.T) {
	store := &fakePresence{}
	h := NewHub(store, Options{SendBuffer: 4096})
	ctx := context.Background()
	observer := NewConn("bob", "bob", 4096)
	h.Connect(ctx, observer)
	drain(t, observer)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewConn("alice", "alice", 4096)
			h.Connect(ctx, c)
			h.Disconnect(ctx, c)
		}()
	}
	wg.Wait()

	if h.Registry().IsOnline("alice") {
		t.Fatal("alice online with no connections")
	}

	// Transitions must strictly alternate, starting online and ending offline.
	want := EventUserOnline
	n := 0
	for _, e := range drain(t, observer) {
		if e.Event != EventUserOnline && e.Event != EventUserOffline {
			continue
		}
		if e.Event != want {
			t.Fatalf("transition %d = %s, want %s", n, e.Event, want)
		}
		n++
		if want == EventUserOnline {
			want = EventUserOffline
		} else {
			want = EventUserOnline
		}
	}
	if n == 0 || want != EventUserOnline {
		t.Errorf("transitions = %d ending before %s, want a complete online/offline sequence", n, want)
	}

	calls := store.Calls()
	if last := calls[len(calls)-1]; last != "alice=false" {
		t.Errorf("last store write = %s, want alice=false", last)
	}
}

func testPayload(id, from, to, content string) MessagePayload {
	return MessagePayload{
		ID:        id,
		Sender:    UserRef{ID: from, Name: from},
		Receiver:  UserRef{ID: to, Name: to},
		Content:   content,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// replayPresence folds presence frames the way a client does: transitions
// edit the set, a list replaces it.
func replayPresence(t *testing.T, envs []Envelope) map[string]bool {
	t.Helper()
	set := make(map[string]bool)
	for _, e := range envs {
		switch e.Event {
		case EventUserOnline, EventUserOffline:
			var p PresenceEvent
			if err := json.Unmarshal(e.Data, &p); err != nil {
				t.Fatalf("decode %s: %v", e.Event, err)
			}
			if e.Event == EventUserOnline {
				set[p.UserID] = true
			} else {
				delete(set, p.UserID)
			}
		case EventOnlineUsersList:
			var ids []string
			if err := json.Unmarshal(e.Data, &ids); err != nil {
				t.Fatalf("decode list: %v", err)
			}
			set = make(map[string]bool, len(ids))
			for _, id := range ids {
				set[id] = true
			}
		}
	}
	return set
}

func sameSet(view map[string]bool, ids []string) bool {
	if len(view) != len(ids) {
		return false
	}
	for _, id := range ids {
		if !view[id] {
			return false
		}
	}
	return true
}

func TestPresence_ConcurrentUsersConverge(t *testing.T) {
	ctx := context.Background()
	users := []string{"u0", "u1", "u2", "u3"}
	for iter := 0; iter < 300; iter++ {
		h := NewHub(&fakePresence{}, Options{SendBuffer: 256})
		observer := NewConn("obs", "obs", 256)
		h.Connect(ctx, observer)

		conns := make([]*Conn, len(users))
		var wg sync.WaitGroup
		for i, u := range users {
			wg.Add(1)
			go func(i int, u string) {
				defer wg.Done()
				conns[i] = NewConn(u, u, 256)
				h.Connect(ctx, conns[i])
			}(i, u)
		}
		wg.Wait()

		frames := drain(t, observer)
		if view := replayPresence(t, frames); !sameSet(view, h.OnlineUsers()) {
			t.Fatalf("iter %d after connect: observer sees %v, registry has %v", iter, view, h.OnlineUsers())
		}

		for _, c := range conns[:2] {
			wg.Add(1)
			go func(c *Conn) {
				defer wg.Done()
				h.Disconnect(ctx, c)
			}(c)
		}
		wg.Wait()

		frames = append(frames, drain(t, observer)...)
		if view := replayPresence(t, frames); !sameSet(view, h.OnlineUsers()) {
			t.Fatalf("iter %d after disconnect: observer sees %v, registry has %v", iter, view, h.OnlineUsers())
		}
	}
}

func TestHub_DoubleDisconnectIsNoop(t *testing.T) {
	ctx := context.Background()
	store := &fakePresence{}
	h := NewHub(store, Options{})
	c := newTestConn("alice")
	h.Connect(ctx, c)
	h.Connect(ctx, c)

	if !h.presence.OnDisconnect(ctx, c) {
		t.Fatal("OnDisconnect(registered) = false, want true")
	}
	if h.presence.OnDisconnect(ctx, c) {
		t.Error("OnDisconnect(already removed) = true, want false")
	}
	if got := fmt.Sprint(store.Calls()); got != "[alice=true alice=false]" {
		t.Errorf("store calls = %s, want one online and one offline", got)
	}
}

func TestDispatch_ReceiverNotInRoomGetsNotification(t *testing.T) {
	h := NewHub(&fakePresence{}, Options{})
	ctx := context.Background()
	alice, bob := newTestConn("alice"), newTestConn("bob")
	h.Connect(ctx, alice)
	h.Connect(ctx, bob)
	if err := h.JoinRoom(alice, RoomID("alice", "bob")); err != nil {
		t.Fatal(err)
	}
	drain(t, alice)
	drain(t, bob)

	res := h.Dispatch(testPayload("m1", "alice", "bob", "hi"), "")
	if !res.Notified {
		t.Error("Notified = false, want true")
	}
	if res.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", res.Delivered)
	}

	got := drain(t, bob)
	if countEvents(got, EventReceiveMessage) != 1 {
		t.Errorf("bob receiveMessage = %d, want 1", countEvents(got, EventReceiveMessage))
	}
	var n Notification
	if !findEvent(t, got, EventNewNotification, &n) {
		t.Fatal("bob got no newNotification")
	}
	if n.ID != "m1" || n.From.ID != "alice" || n.MessagePreview != "hi" || n.IsRead {
		t.Errorf("notification = %+v", n)
	}
	if countEvents(drain(t, alice), EventNewNotification) != 0 {
		t.Error("sender received a notification")
	}
}

func TestDispatch_ReceiverInRoomNoNotification(t *testing.T) {
	h := NewHub(&fakePresence{}, Options{})
	ctx := context.Background()
	alice, bob := newTestConn("alice"), newTestConn("bob")
	h.Connect(ctx, alice)
	h.Connect(ctx, bob)
	room := RoomID("alice", "bob")
	_ = h.JoinRoom(alice, room)
	_ = h.JoinRoom(bob, room)
	drain(t, alice)
	drain(t, bob)

	res := h.Dispatch(testPayload("m1", "alice", "bob", "hi"), "")
	if res.Notified {
		t.Error("Notified = true, want false")
	}
	// Each connection sits in two target rooms and still gets one copy.
	for _, c := range []*Conn{alice, bob} {
		got := drain(t, c)
		if n := countEvents(got, EventReceiveMessage); n != 1 {
			t.Errorf("%s receiveMessage = %d, want 1", c.userID, n)
		}
		if countEvents(got, EventNewNotification) != 0 {
			t.Errorf("%s got a notification", c.userID)
		}
	}
}

func TestDispatch_ClientMessageIDOnlyForSender(t *testing.T) {
	h := NewHub(&fakePresence{}, Options{})
	ctx := context.Background()
	aliceTab1, aliceTab2, bob := newTestConn("alice"), newTestConn("alice"), newTestConn("bob")
	for _, c := range []*Conn{aliceTab1, aliceTab2, bob} {
		h.Connect(ctx, c)
		drain(t, c)
	}
	drain(t, aliceTab1)

	h.Dispatch(testPayload("m1", "alice", "bob", "hi"), "temp_1")

	for _, c := range []*Conn{aliceTab1, aliceTab2} {
		var msg MessagePayload
		findEvent(t, drain(t, c), EventReceiveMessage, &msg)
		if msg.ClientMessageID != "temp_1" {
			t.Errorf("sender tab clientMessageId = %q, want temp_1", msg.ClientMessageID)
		}
	}
	var msg MessagePayload
	findEvent(t, drain(t, bob), EventReceiveMessage, &msg)
	if msg.ClientMessageID != "" {
		t.Errorf("receiver saw clientMessageId %q", msg.ClientMessageID)
	}
}

func TestDispatch_DeadConnectionDoesNotAbort(t *testing.T) {
	h := NewHub(&fakePresence{}, Options{})
	ctx := context.Background()
	dead, alive, bob := newTestConn("alice"), newTestConn("alice"), newTestConn("bob")
	for _, c := range []*Conn{dead, alive, bob} {
		h.Connect(ctx, c)
	}
	dead.Close()
	drain(t, alive)
	drain(t, bob)

	res := h.Dispatch(testPayload("m1", "alice", "bob", "hi"), "")
	if res.Dropped != 1 || res.Delivered != 2 {
		t.Errorf("Dispatch() = %+v, want 2 delivered 1 dropped", res)
	}
	if countEvents(drain(t, alive), EventReceiveMessage) != 1 {
		t.Error("live sender tab missed the message")
	}
	if countEvents(drain(t, bob), EventReceiveMessage) != 1 {
		t.Error("receiver missed the message")
	}
}

func TestDispatch_PreviewTruncatedByRunes(t *testing.T) {
	h := NewHub(&fakePresence{}, Options{PreviewLen: 5})
	ctx := context.Background()
	bob := newTestConn("bob")
	h.Connect(ctx, bob)
	drain(t, bob)

	h.Dispatch(testPayload("m1", "alice", "bob", "héllo wörld"), "")
	var n Notification
	findEvent(t, drain(t, bob), EventNewNotification, &n)
	if n.MessagePreview != "héllo" {
		t.Errorf("preview = %q, want %q", n.MessagePreview, "héllo")
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 50, "short"},
		{"abcdef", 3, "abc"},
		{"日本語テキスト", 3, "日本語"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := preview(tt.in, tt.n); got != tt.want {
			t.Errorf("preview(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	c := NewConn("alice", "alice", 1)
	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := c.Send([]byte("b")); !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("Send() on full buffer error = %v, want %v", err, ErrSendBufferFull)
	}
	c.Close()
	c.Close()
	if err := c.Send([]byte("c")); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Send() after Close error = %v, want %v", err, ErrConnClosed)
	}
}
