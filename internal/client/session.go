package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"directchat/internal/realtime"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotLoggedIn    = errors.New("client: not logged in")
	ErrNoConversation = errors.New("client: no conversation open")
)

// Config tunes a Session. Zero values take the defaults below.
type Config struct {
	BaseURL           string
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
	PendingTimeout    time.Duration
	ReconnectAttempts int
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
}

const (
	defaultPendingTimeout    = 15 * time.Second
	defaultReconnectAttempts = 5
	defaultReconnectMin      = time.Second
	defaultReconnectMax      = 5 * time.Second
)

// Handlers are called from the session's goroutines; keep them quick.
type Handlers struct {
	OnTimeline     func([]Entry)
	OnPresence     func(online []string)
	OnNotification func(realtime.Notification)
	OnError        func(error)
	OnConnState    func(connected bool)
}

// Session is one logged-in user: REST calls, a reconnecting websocket and
// the timeline of the open conversation.
type Session struct {
	cfg      Config
	h        Handlers
	timeline *Timeline

	mu      sync.Mutex
	me      User
	token   string
	peer    User
	online  map[string]struct{}
	ws      *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	closing bool

	// While Open fetches history, pushes for the new peer wait in early.
	loading bool
	early   []Message

	writeMu sync.Mutex
	bg      sync.WaitGroup
}

func NewSession(cfg Config, h Handlers) *Session {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = defaultPendingTimeout
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = defaultReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = defaultReconnectMax
	}
	return &Session{cfg: cfg, h: h, timeline: NewTimeline(), online: make(map[string]struct{})}
}

func (s *Session) Timeline() *Timeline { return s.timeline }

func (s *Session) Me() User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.me
}

// Online returns the sorted ids of users the server reports online.
func (s *Session) Online() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("api: %d %s", e.Status, e.Message) }

type apiEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func (s *Session) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.mu.Lock()
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	s.mu.Unlock()

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (s *Session) Register(ctx context.Context, name, email, password string) error {
	return s.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{"name": name, "email": email, "password": password}, nil)
}

func (s *Session) Login(ctx context.Context, email, password string) error {
	var res struct {
		ID          string `json:"_id"`
		Name        string `json:"name"`
		AccessToken string `json:"accessToken"`
	}
	if err := s.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, &res); err != nil {
		return err
	}
	s.mu.Lock()
	s.me = User{ID: res.ID, Name: res.Name}
	s.token = res.AccessToken
	s.mu.Unlock()
	return nil
}

// Users lists everyone but the caller.
func (s *Session) Users(ctx context.Context) ([]User, error) {
	var users []User
	err := s.do(ctx, http.MethodGet, "/api/users", nil, &users)
	return users, err
}

// Connect dials the websocket and keeps it up until ctx ends or Close is
// called. A dropped connection is redialed with backoff; after a redial the
// personal room and the open conversation room are joined again.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	s.mu.Unlock()

	ws, err := s.dial(ctx)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.ws, s.cancel, s.done = ws, cancel, done
	s.mu.Unlock()

	s.bg.Add(2)
	go func() {
		defer s.bg.Done()
		s.sweepPending(runCtx)
	}()
	go func() {
		defer s.bg.Done()
		s.run(runCtx, cancel, ws, done)
	}()
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	s.mu.Lock()
	header := http.Header{"Authorization": {"Bearer " + s.token}}
	s.mu.Unlock()
	ws, _, err := s.cfg.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return ws, nil
}

// run owns the socket until ctx ends or redialing gives up; either way the
// sweeper stops with it.
func (s *Session) run(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer cancel()
	for {
		s.notifyConn(true)
		s.readLoop(ws)
		s.notifyConn(false)
		if ctx.Err() != nil {
			return
		}
		next, err := s.redial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.reportError(fmt.Errorf("reconnect: %w", err))
			}
			return
		}
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			_ = next.Close()
			return
		}
		s.ws = next
		s.mu.Unlock()
		ws = next
		s.rejoin()
	}
}

func (s *Session) redial(ctx context.Context) (*websocket.Conn, error) {
	delay := s.cfg.ReconnectMin
	var lastErr error
	for attempt := 1; attempt <= s.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		ws, err := s.dial(ctx)
		if err == nil {
			return ws, nil
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt).Msg("redial failed")
		if delay *= 2; delay > s.cfg.ReconnectMax {
			delay = s.cfg.ReconnectMax
		}
	}
	return nil, lastErr
}

func (s *Session) rejoin() {
	s.mu.Lock()
	me, peer := s.me, s.peer
	s.mu.Unlock()
	_ = s.emit(realtime.EventJoin, realtime.JoinRequest{UserID: me.ID})
	if peer.ID != "" {
		_ = s.emit(realtime.EventJoinChatRoom, realtime.RoomRequest{RoomID: realtime.RoomID(me.ID, peer.ID)})
	}
}

func (s *Session) readLoop(ws *websocket.Conn) {
	for {
		var env realtime.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		s.handle(env)
	}
}

func (s *Session) handle(env realtime.Envelope) {
	switch env.Event {
	case realtime.EventReceiveMessage:
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		if !s.inConversation(msg) || s.holdEarly(msg) {
			return
		}
		if s.timeline.IngestPushed(msg) {
			s.notifyTimeline()
		}
	case realtime.EventUserOnline, realtime.EventUserOffline:
		var p realtime.PresenceEvent
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		s.mu.Lock()
		if env.Event == realtime.EventUserOnline {
			s.online[p.UserID] = struct{}{}
		} else {
			delete(s.online, p.UserID)
		}
		s.mu.Unlock()
		s.notifyPresence()
	case realtime.EventOnlineUsersList:
		var ids []string
		if err := json.Unmarshal(env.Data, &ids); err != nil {
			return
		}
		s.mu.Lock()
		s.online = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			s.online[id] = struct{}{}
		}
		s.mu.Unlock()
		s.notifyPresence()
	case realtime.EventNewNotification:
		var n realtime.Notification
		if err := json.Unmarshal(env.Data, &n); err == nil && s.h.OnNotification != nil {
			s.h.OnNotification(n)
		}
	case realtime.EventError:
		var e realtime.ErrorEvent
		_ = json.Unmarshal(env.Data, &e)
		s.reportError(fmt.Errorf("server: %s: %s", e.Code, e.Message))
	}
}

// Open switches the timeline to the conversation with peer. Pushes from the
// new conversation that arrive while history loads are merged on top of it.
func (s *Session) Open(ctx context.Context, peer User) error {
	s.mu.Lock()
	me, prev := s.me, s.peer
	s.peer, s.loading, s.early = peer, true, nil
	s.mu.Unlock()

	var history []Message
	if err := s.do(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(peer.ID), nil, &history); err != nil {
		s.mu.Lock()
		s.peer, s.loading, s.early = prev, false, nil
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.timeline.ReplaceHistory(history)
	for _, m := range s.early {
		s.timeline.IngestPushed(m)
	}
	s.loading, s.early = false, nil
	s.mu.Unlock()
	s.notifyTimeline()

	if prev.ID != "" && prev.ID != peer.ID {
		_ = s.emit(realtime.EventLeaveChatRoom, realtime.RoomRequest{RoomID: realtime.RoomID(me.ID, prev.ID)})
	}
	return s.emit(realtime.EventJoinChatRoom, realtime.RoomRequest{RoomID: realtime.RoomID(me.ID, peer.ID)})
}

// holdEarly buffers msg if history is still loading.
func (s *Session) holdEarly(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loading {
		return false
	}
	s.early = append(s.early, msg)
	return true
}

// Send shows text immediately and resolves it once the server answers. On
// failure the optimistic entry is removed and the error returned.
func (s *Session) Send(ctx context.Context, text string) (Entry, error) {
	s.mu.Lock()
	me, peer := s.me, s.peer
	s.mu.Unlock()
	if peer.ID == "" {
		return Entry{}, ErrNoConversation
	}

	e := s.timeline.AppendOptimistic(me, peer, text, time.Now().UTC())
	s.notifyTimeline()

	var msg Message
	body := map[string]string{"receiverId": peer.ID, "content": text, "clientMessageId": e.TempID}
	if err := s.do(ctx, http.MethodPost, "/api/chat", body, &msg); err != nil {
		s.timeline.Discard(e.TempID)
		s.notifyTimeline()
		s.reportError(err)
		return e, err
	}
	if s.inConversation(msg) && !s.holdEarly(msg) {
		s.timeline.Confirm(e.TempID, msg)
		s.notifyTimeline()
	}
	return e, nil
}

func (s *Session) sweepPending(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PendingTimeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if expired := s.timeline.ExpirePending(now.UTC(), s.cfg.PendingTimeout); len(expired) > 0 {
				s.notifyTimeline()
			}
		}
	}
}

func (s *Session) emit(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return ws.WriteJSON(realtime.Envelope{Event: event, Data: raw})
}

// Close stops reconnecting and closes the socket.
func (s *Session) Close() error {
	s.mu.Lock()
	ws, cancel, done := s.ws, s.cancel, s.done
	if cancel == nil || s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()
	cancel()
	s.writeMu.Lock()
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	err := ws.Close()
	<-done
	s.bg.Wait()
	return err
}

func (s *Session) inConversation(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer.ID == "" {
		return false
	}
	a, b := msg.Sender.ID, msg.Receiver.ID
	return (a == s.me.ID && b == s.peer.ID) || (a == s.peer.ID && b == s.me.ID)
}

func (s *Session) notifyTimeline() {
	if s.h.OnTimeline != nil {
		s.h.OnTimeline(s.timeline.Entries())
	}
}

func (s *Session) notifyPresence() {
	if s.h.OnPresence != nil {
		s.h.OnPresence(s.Online())
	}
}

func (s *Session) notifyConn(up bool) {
	if s.h.OnConnState != nil {
		s.h.OnConnState(up)
	}
}

func (s *Session) reportError(err error) {
	if s.h.OnError != nil {
		s.h.OnError(err)
		return
	}
	log.Warn().Err(err).Msg("chat session")
}
