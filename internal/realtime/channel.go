package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/roam/internal/api"
	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/logging"
	"go.uber.org/zap"
)

// Event names used by the chat backend.
const (
	EventReceiveMessage       = "receiveMessage"
	EventNotification         = "notification"
	EventNotificationRead     = "notification-read"
	EventNotificationsCleared = "notifications-cleared"
	EventNotificationDeleted  = "notification-deleted"
	EventBootstrapUnread      = "bootstrap-unread-count"

	EventJoinChat    = "joinChat"
	EventSendMessage = "sendMessage"
)

// ErrNotConnected is returned by Emit while no connection is up.
var ErrNotConnected = errors.New("realtime: not connected")

// State is the connection state.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
)

// Handler receives the first argument of an event. Handlers run on the
// connection's read goroutine in arrival order; they must not block and
// must not call Close.
type Handler func(payload json.RawMessage)

// TokenSource supplies the access token presented on every dial.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Options configures a Channel.
type Options struct {
	// URL is the server base URL (http, https, ws or wss).
	URL                  string
	DialTimeout          time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

func (o *Options) defaults() {
	if o.DialTimeout == 0 {
		o.DialTimeout = 15 * time.Second
	}
	if o.ReconnectBaseDelay == 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay == 0 {
		o.ReconnectMaxDelay = 30 * time.Second
	}
}

// ReconnectAttempt is the payload of bus.RealtimeReconnecting.
type ReconnectAttempt struct {
	Attempt int
	Delay   time.Duration
}

// Channel is the single push connection shared by every consumer of a
// session. Subscriptions outlive individual connections.
type Channel struct {
	opts   Options
	tokens TokenSource
	bus    *bus.Bus
	logger *zap.Logger

	subMu  sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	rooms  map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a disconnected channel.
func New(opts Options, tokens TokenSource, b *bus.Bus, logger *zap.Logger) *Channel {
	opts.defaults()
	return &Channel{
		opts:   opts,
		tokens: tokens,
		bus:    b,
		logger: logging.OrNop(logger).Named("realtime"),
		subs:   make(map[string]map[uint64]Handler),
		state:  Disconnected,
		rooms:  make(map[string]struct{}),
	}
}

// Subscription is a registered handler. Release it when the consumer goes
// away; releasing twice is harmless.
type Subscription struct {
	ch    *Channel
	event string
	id    uint64
	once  sync.Once
}

// Release removes the handler.
func (s *Subscription) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.ch.subMu.Lock()
		defer s.ch.subMu.Unlock()
		delete(s.ch.subs[s.event], s.id)
		if len(s.ch.subs[s.event]) == 0 {
			delete(s.ch.subs, s.event)
		}
	})
}

// Subscribe registers h for event.
func (c *Channel) Subscribe(event string, h Handler) *Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextID++
	if c.subs[event] == nil {
		c.subs[event] = make(map[uint64]Handler)
	}
	c.subs[event][c.nextID] = h
	return &Subscription{ch: c, event: event, id: c.nextID}
}

// Unsubscribe is the same as sub.Release().
func (c *Channel) Unsubscribe(sub *Subscription) {
	sub.Release()
}

// Dispatch delivers an event to the current subscribers, as if it had
// arrived on the connection.
func (c *Channel) Dispatch(event string, payload json.RawMessage) {
	c.subMu.RLock()
	handlers := make([]Handler, 0, len(c.subs[event]))
	for _, h := range c.subs[event] {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}

// State returns the connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials and authenticates. It returns once the first connection is
// established; later drops are reconnected in the background until Close.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, info, err := c.dial(ctx)
	if err != nil {
		c.setState(Disconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	if c.state != Connecting {
		// closed while dialing
		c.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return ErrNotConnected
	}
	c.conn, c.cancel, c.done = conn, cancel, done
	c.state = Connected
	c.mu.Unlock()

	c.logger.Info("connected", zap.String("sid", info.SID))
	c.bus.Emit(bus.RealtimeConnected, nil)
	c.rejoin(runCtx, conn)

	go c.run(runCtx, conn, info, done)
	return nil
}

// Close disconnects and stops reconnecting. Subscriptions and joined rooms
// are kept for the next Connect.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn, cancel, done := c.conn, c.cancel, c.done
	c.conn, c.cancel, c.done = nil, nil, nil
	wasUp := c.state != Disconnected
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		ctx, cancelWrite := context.WithTimeout(context.Background(), time.Second)
		_ = conn.Write(ctx, websocket.MessageText, disconnectFrame)
		cancelWrite()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			c.logger.Debug("close connection", zap.Error(err))
		}
	}
	if done != nil {
		<-done
	}
	if wasUp {
		c.logger.Info("disconnected")
		c.bus.Emit(bus.RealtimeDisconnected, nil)
	}
	return nil
}

// JoinRoom subscribes the connection to a conversation room. Rooms are
// re-joined after every reconnect.
func (c *Channel) JoinRoom(ctx context.Context, id string) error {
	c.mu.Lock()
	c.rooms[id] = struct{}{}
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.Emit(ctx, EventJoinChat, id)
}

// LeaveRoom stops re-joining id after reconnects. The backend has no leave
// event; the room membership ends with the connection.
func (c *Channel) LeaveRoom(id string) {
	c.mu.Lock()
	delete(c.rooms, id)
	c.mu.Unlock()
}

// Emit sends an event with one argument.
func (c *Channel) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}
	return c.write(ctx, conn, event, payload)
}

func (c *Channel) write(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (c *Channel) rejoin(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()

	for _, id := range rooms {
		if err := c.write(ctx, conn, EventJoinChat, id); err != nil {
			c.logger.Warn("failed to rejoin room", zap.String("room", id), zap.Error(err))
		}
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// dial opens a websocket with a freshly read token and completes the
// Engine.IO and Socket.IO handshakes.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, openInfo, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, openInfo{}, err
	}
	u, err := socketURL(c.opts.URL)
	if err != nil {
		return nil, openInfo{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, openInfo{}, &api.NetworkError{Op: "dial realtime", Err: err}
	}

	info, err := c.handshake(ctx, conn, token)
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "handshake failed")
		return nil, openInfo{}, err
	}
	return conn, info, nil
}

func (c *Channel) handshake(ctx context.Context, conn *websocket.Conn, token string) (openInfo, error) {
	var info openInfo
	p, err := readPacket(ctx, conn)
	if err != nil {
		return info, fmt.Errorf("read open packet: %w", err)
	}
	if p.open == nil {
		return info, fmt.Errorf("expected open packet, got %q", p.engine)
	}
	info = *p.open
	if info.MaxPayload > 0 {
		conn.SetReadLimit(info.MaxPayload)
	}

	frame, err := encodeConnect(token)
	if err != nil {
		return info, err
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return info, fmt.Errorf("send connect: %w", err)
	}

	for {
		p, err := readPacket(ctx, conn)
		if err != nil {
			return info, fmt.Errorf("read connect ack: %w", err)
		}
		switch {
		case p.engine == eioPing:
			if err := conn.Write(ctx, websocket.MessageText, pongFrame); err != nil {
				return info, err
			}
		case p.engine == eioMessage && p.socket == sioConnect:
			return info, nil
		case p.engine == eioMessage && p.socket == sioConnectError:
			return info, connectError(p)
		case p.engine == eioClose:
			return info, errors.New("server closed during handshake")
		}
	}
}

func readPacket(ctx context.Context, conn *websocket.Conn) (packet, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return packet{}, err
	}
	return decodePacket(data)
}

// run reads from conn until it drops, then reconnects with backoff. It
// exits when ctx is cancelled or reconnecting gives up.
func (c *Channel) run(ctx context.Context, conn *websocket.Conn, info openInfo, done chan struct{}) {
	defer close(done)

	bo := &backoff{
		base:        c.opts.ReconnectBaseDelay,
		max:         c.opts.ReconnectMaxDelay,
		maxAttempts: c.opts.MaxReconnectAttempts,
		stableAfter: time.Minute,
	}
	bo.markConnected(time.Now())

	for {
		err := c.readLoop(ctx, conn, info)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("connection lost", zap.Error(err))
		_ = conn.Close(websocket.StatusGoingAway, "")
		if !c.swap(conn, nil, Reconnecting) {
			return
		}
		c.bus.Emit(bus.RealtimeDisconnected, err)

		conn, info, err = c.reconnect(ctx, bo)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("giving up reconnecting", zap.Error(err))
				c.mu.Lock()
				if cancel := c.cancel; cancel != nil {
					cancel()
					c.cancel, c.done = nil, nil
					c.state = Disconnected
				}
				c.mu.Unlock()
			}
			return
		}
		if !c.swap(nil, conn, Connected) {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		bo.markConnected(time.Now())
		c.logger.Info("reconnected", zap.String("sid", info.SID))
		c.bus.Emit(bus.RealtimeConnected, nil)
		c.rejoin(ctx, conn)
	}
}

// swap replaces the current connection if it is still old and the channel
// has not been closed meanwhile.
func (c *Channel) swap(old, next *websocket.Conn, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil || c.conn != old {
		return false
	}
	c.conn = next
	c.state = s
	return true
}

func (c *Channel) reconnect(ctx context.Context, bo *backoff) (*websocket.Conn, openInfo, error) {
	for {
		if bo.exhausted() {
			return nil, openInfo{}, fmt.Errorf("reconnect: %d attempts failed", bo.attempt)
		}
		delay := bo.next(time.Now())
		c.bus.Emit(bus.RealtimeReconnecting, ReconnectAttempt{Attempt: bo.attempt, Delay: delay})
		c.logger.Info("reconnecting", zap.Int("attempt", bo.attempt), zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, openInfo{}, ctx.Err()
		}

		conn, info, err := c.dial(ctx)
		if err == nil {
			return conn, info, nil
		}
		if errors.Is(err, api.ErrNotAuthenticated) {
			return nil, openInfo{}, err
		}
		c.logger.Warn("reconnect failed", zap.Int("attempt", bo.attempt), zap.Error(err))
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, info openInfo) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, info.liveness())
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return err
		}
		p, err := decodePacket(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		switch p.engine {
		case eioPing:
			if err := conn.Write(ctx, websocket.MessageText, pongFrame); err != nil {
				return err
			}
		case eioClose:
			return errors.New("server closed the session")
		case eioMessage:
			switch p.socket {
			case sioEvent:
				c.Dispatch(p.event, p.payload)
			case sioDisconnect:
				return errors.New("server disconnected the socket")
			case sioConnectError:
				return connectError(p)
			}
		}
	}
}

// socketURL maps the server base URL to the Socket.IO websocket endpoint.
func socketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	u.RawQuery = "EIO=4&transport=websocket"
	return u.String(), nil
}
