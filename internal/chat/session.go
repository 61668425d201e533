package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/fieldops/internal/bus"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyConnected is returned by Connect while a conversation is open.
	ErrAlreadyConnected = errors.New("chat session already connected")
	// ErrNotConnected is returned when sending without an open socket.
	ErrNotConnected = errors.New("chat session not connected")
)

const (
	defaultDialTimeout = 10 * time.Second
	writeTimeout       = 10 * time.Second
	readLimit          = 8 << 20
)

// OnlineStatus holds the online user ids reported for the open conversation.
type OnlineStatus struct {
	Group    []int64
	Personal []int64
}

// Options configures a Session.
type Options struct {
	// BaseURL is the socket host root, e.g. wss://chat.example.com.
	BaseURL     string
	DialTimeout time.Duration
	DialOptions *websocket.DialOptions
}

// Session owns the single live chat socket and translates inbound frames into
// cache mutations. It never opens a second connection while one is live and
// does not reconnect on its own.
type Session struct {
	baseURL     *url.URL
	dialTimeout time.Duration
	dialOpts    *websocket.DialOptions
	cache       *Cache
	bus         *bus.Bus
	logger      *zap.Logger

	mu      sync.Mutex
	dialing bool
	conn    *websocket.Conn
	active  ActiveChat
	stop    context.CancelFunc
	done    chan struct{}
	typing  map[int64]bool
	online  OnlineStatus
}

// NewSession creates a disconnected session. cache receives all mutations.
func NewSession(opts Options, cache *Cache, b *bus.Bus, logger *zap.Logger) (*Session, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse socket base url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("socket base url %q: unsupported scheme", opts.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewCache(logger)
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &Session{
		baseURL:     u,
		dialTimeout: timeout,
		dialOpts:    opts.DialOptions,
		cache:       cache,
		bus:         b,
		logger:      logger,
		typing:      make(map[int64]bool),
	}, nil
}

// Cache returns the message cache fed by this session.
func (s *Session) Cache() *Cache {
	return s.cache
}

// URL returns the socket URL for chat with token as the query credential.
func (s *Session) URL(chat ActiveChat, token string) string {
	u := *s.baseURL
	u.Path = s.baseURL.Path + chat.socketPath()
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}

// Connect opens the socket for chat, clears the cache, and requests history,
// a typing reset, and online status. It fails with ErrAlreadyConnected if any
// conversation is open or being opened; call Disconnect first.
func (s *Session) Connect(ctx context.Context, chat ActiveChat, token string) error {
	if err := chat.Validate(); err != nil {
		return err
	}
	if token == "" {
		return errors.New("chat connect: empty token")
	}

	s.mu.Lock()
	if s.conn != nil || s.dialing {
		current := s.active
		s.mu.Unlock()
		s.logger.Warn("refusing second chat connection",
			zap.Stringer("open", current), zap.Stringer("requested", chat))
		return ErrAlreadyConnected
	}
	s.dialing = true
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.URL(chat, token), s.dialOpts)
	cancel()

	s.mu.Lock()
	s.dialing = false
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("dial chat %s: %w", chat, err)
	}
	conn.SetReadLimit(readLimit)

	loopCtx, stop := context.WithCancel(context.Background())
	s.conn = conn
	s.active = chat
	s.stop = stop
	s.done = make(chan struct{})
	s.typing = make(map[int64]bool)
	s.online = OnlineStatus{}
	s.cache.Clear()
	go s.readLoop(loopCtx, conn, s.done)
	s.mu.Unlock()

	s.logger.Info("chat connected", zap.Stringer("chat", chat))
	s.bus.Emit(bus.KindChatConnected, chat)

	if err := s.greet(ctx, chat); err != nil {
		_ = s.Disconnect()
		return err
	}
	return nil
}

// greet sends the frames every freshly opened conversation starts with.
func (s *Session) greet(ctx context.Context, chat ActiveChat) error {
	if err := s.RequestHistory(ctx); err != nil {
		return fmt.Errorf("request history: %w", err)
	}
	if err := s.SetTyping(ctx, false); err != nil {
		return fmt.Errorf("reset typing: %w", err)
	}
	var personal []int64
	if chat.Kind == KindPersonal {
		personal = []int64{chat.ID}
	}
	if err := s.RequestOnlineStatus(ctx, personal); err != nil {
		return fmt.Errorf("probe online status: %w", err)
	}
	return nil
}

// Disconnect sends a final typing=false notice, closes the socket, and clears
// connection state. The cache keeps its contents until the next Connect.
// Calling it while disconnected is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn, stop, done, chat := s.conn, s.stop, s.done, s.active
	if conn == nil {
		s.mu.Unlock()
		return nil
	}
	s.resetLocked()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	if err := wsjson.Write(ctx, conn, typingNotice{Type: TypeTyping, IsTyping: false}); err != nil {
		s.logger.Debug("final typing notice not sent", zap.Error(err))
	}
	cancel()

	if err := conn.Close(websocket.StatusNormalClosure, "conversation closed"); err != nil {
		s.logger.Debug("chat close handshake incomplete", zap.Error(err))
	}
	stop()
	<-done

	s.logger.Info("chat disconnected", zap.Stringer("chat", chat))
	s.bus.Emit(bus.KindChatDisconnected, DisconnectEvent{Chat: chat, Reason: "closed"})
	return nil
}

// DisconnectEvent is the payload of chat.disconnected events.
type DisconnectEvent struct {
	Chat   ActiveChat
	Reason string
}

// SendJSON writes v as one text frame. It fails with ErrNotConnected when no
// socket is open; nothing is queued or retried.
func (s *Session) SendJSON(ctx context.Context, v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.logger.Error("chat send while disconnected", zap.String("frame", frameType(v)))
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		s.logger.Error("chat send failed", zap.String("frame", frameType(v)), zap.Error(err))
		return fmt.Errorf("send %s: %w", frameType(v), err)
	}
	return nil
}

// SendMessage posts a new message to the open conversation.
func (s *Session) SendMessage(ctx context.Context, m OutgoingMessage) error {
	chat, ok := s.Active()
	if !ok {
		return ErrNotConnected
	}
	if strings.TrimSpace(m.Content) == "" && len(m.Files) == 0 && m.Latitude == nil {
		return errors.New("empty message")
	}
	return s.SendJSON(ctx, newSendMessageFrame(chat, m))
}

// EditMessage asks the server to replace a message's content. The cache is
// updated when the server echoes the edit.
func (s *Session) EditMessage(ctx context.Context, id int64, content string) error {
	return s.SendJSON(ctx, editRequest{Type: TypeEditMessage, MessageID: id, NewContent: content})
}

// SetTyping announces whether the local user is typing.
func (s *Session) SetTyping(ctx context.Context, typing bool) error {
	return s.SendJSON(ctx, typingNotice{Type: TypeTyping, IsTyping: typing})
}

// RequestHistory asks the server to replay the conversation history.
func (s *Session) RequestHistory(ctx context.Context) error {
	chat, ok := s.Active()
	if !ok {
		return ErrNotConnected
	}
	groupID, receiverID := target(chat)
	return s.SendJSON(ctx, historyRequest{Type: TypeMessageHistory, GroupID: groupID, ReceiverID: receiverID})
}

// RequestOnlineStatus asks which of personalIDs (and which group members) are online.
func (s *Session) RequestOnlineStatus(ctx context.Context, personalIDs []int64) error {
	chat, ok := s.Active()
	if !ok {
		return ErrNotConnected
	}
	req := onlineStatusRequest{Type: TypeGetOnlineStatus, PersonalIDs: personalIDs}
	if req.PersonalIDs == nil {
		req.PersonalIDs = []int64{}
	}
	if chat.Kind == KindGroup {
		req.GroupID = chat.ID
	}
	return s.SendJSON(ctx, req)
}

// Active returns the open conversation.
func (s *Session) Active() (ActiveChat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.conn != nil
}

// Connected reports whether a socket is open.
func (s *Session) Connected() bool {
	_, ok := s.Active()
	return ok
}

// Typing returns a copy of the per-user typing flags.
func (s *Session) Typing() map[int64]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]bool, len(s.typing))
	for k, v := range s.typing {
		out[k] = v
	}
	return out
}

// Online returns the last reported online ids.
func (s *Session) Online() OnlineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return OnlineStatus{Group: slices.Clone(s.online.Group), Personal: slices.Clone(s.online.Personal)}
}

func (s *Session) resetLocked() {
	s.conn = nil
	s.active = ActiveChat{}
	s.stop = nil
	s.done = nil
	s.typing = make(map[int64]bool)
	s.online = OnlineStatus{}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.connectionLost(conn, err)
			return
		}
		s.handleFrame(conn, data)
	}
}

// connectionLost clears state when the socket dies underneath us. A socket
// already detached by Disconnect is ignored.
func (s *Session) connectionLost(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	chat, stop := s.active, s.stop
	s.resetLocked()
	s.mu.Unlock()
	stop()
	_ = conn.CloseNow()

	reason := err.Error()
	if status := websocket.CloseStatus(err); status != -1 {
		reason = fmt.Sprintf("closed by server: %s", status)
	}
	s.logger.Warn("chat connection lost", zap.Stringer("chat", chat), zap.String("reason", reason))
	s.bus.Emit(bus.KindChatDisconnected, DisconnectEvent{Chat: chat, Reason: reason})
}

// handleFrame applies one inbound frame. It holds the session lock so a frame
// from a socket that was just replaced can never touch the new conversation.
func (s *Session) handleFrame(conn *websocket.Conn, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("ignoring malformed chat frame", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeMessageHistory:
		var f historyFrame
		if !s.decode(env.Type, data, &f) {
			return
		}
		s.cache.Load(f.Messages)
		s.bus.Emit(bus.KindChatHistory, len(f.Messages))

	case TypeChatMessage:
		m, err := decodeChatMessage(data)
		if err != nil {
			s.logger.Warn("ignoring malformed chat frame", zap.String("type", env.Type), zap.Error(err))
			return
		}
		if s.cache.Append(m) {
			s.bus.Emit(bus.KindChatMessage, m)
		}

	case TypeEditMessage:
		var f editFrame
		if !s.decode(env.Type, data, &f) {
			return
		}
		if f.target() == 0 {
			s.logger.Warn("edit frame without message id")
			return
		}
		content, ok := f.content()
		if !ok {
			s.logger.Warn("edit frame without content", zap.Int64("message_id", f.target()))
			return
		}
		edited := true
		if s.cache.Patch(f.target(), Patch{Content: &content, IsEdited: &edited}) {
			s.bus.Emit(bus.KindChatEdited, f.target())
		}

	case TypeDeleteMessage:
		var f deleteFrame
		if !s.decode(env.Type, data, &f) {
			return
		}
		if f.target() == 0 {
			s.logger.Warn("delete frame without message id")
			return
		}
		if s.cache.Tombstone(f.target()) {
			s.bus.Emit(bus.KindChatDeleted, f.target())
		}

	case TypeTyping:
		var f TypingUpdate
		if !s.decode(env.Type, data, &f) {
			return
		}
		s.typing[f.UserID] = f.IsTyping
		s.bus.Emit(bus.KindChatTyping, f)

	case TypeReadReceipt:
		var f ReadReceipt
		if !s.decode(env.Type, data, &f) {
			return
		}
		s.logger.Info("read receipt", zap.Int64("message_id", f.MessageID), zap.Int64("user_id", f.UserID))
		s.bus.Emit(bus.KindChatReadReceipt, f)

	case TypeOnlineStatus:
		var f onlineFrame
		if !s.decode(env.Type, data, &f) {
			return
		}
		s.online = OnlineStatus{Group: f.GroupOnlineIDs, Personal: f.PersonalOnlineIDs}
		s.bus.Emit(bus.KindChatOnline, OnlineStatus{Group: slices.Clone(f.GroupOnlineIDs), Personal: slices.Clone(f.PersonalOnlineIDs)})

	default:
		s.logger.Info("ignoring unrecognized chat frame", zap.String("type", env.Type))
	}
}

func (s *Session) decode(frameType string, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("ignoring malformed chat frame", zap.String("type", frameType), zap.Error(err))
		return false
	}
	return true
}

func frameType(v any) string {
	switch f := v.(type) {
	case historyRequest:
		return f.Type
	case typingNotice:
		return f.Type
	case onlineStatusRequest:
		return f.Type
	case editRequest:
		return f.Type
	case sendMessageFrame:
		return f.Type
	default:
		return fmt.Sprintf("%T", v)
	}
}
