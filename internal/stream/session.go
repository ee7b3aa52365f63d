// Package stream maintains the push channel to the signal service,
// reconnecting with backoff and replaying subscriptions on every connect.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/newthinker/tinkclaw/internal/backoff"
	"github.com/newthinker/tinkclaw/internal/clock"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/credential"
	"github.com/newthinker/tinkclaw/internal/metrics"
	"github.com/newthinker/tinkclaw/internal/subscription"
	"go.uber.org/zap"
)

// DefaultURL is the service's streaming endpoint.
const DefaultURL = "wss://stream.tinkclaw.com/v1/ws"

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config configures a Session.
type Config struct {
	URL              string
	Symbols          []string // base subscription sent after auth
	Channels         []string
	Backoff          backoff.Exponential
	StabilityWindow  time.Duration // connected time needed to reset the attempt counter
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	QueueSize        int
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if len(c.Channels) == 0 {
		c.Channels = []string{ChannelTick, "candle:60", ChannelSignal}
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = backoff.Default()
	}
	if c.StabilityWindow <= 0 {
		c.StabilityWindow = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * c.PingInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// Credentials supplies the key used for the auth frame.
type Credentials interface {
	Active() credential.Credential
}

// Subscriptions is the registry the session replays on connect.
type Subscriptions interface {
	List() []subscription.Subscription
	Expire(id string) bool
	Watch(fn func(subscription.Change))
}

// Status is a point-in-time view of the session.
type Status struct {
	State          string    `json:"state"`
	Attempt        int       `json:"attempt"`
	LastError      string    `json:"last_error,omitempty"`
	ConnectedSince time.Time `json:"connected_since,omitempty"`
	Plan           string    `json:"plan,omitempty"`
	Subscribers    int       `json:"subscribers"`
}

// Session is a single logical push channel.
type Session struct {
	cfg     Config
	keys    Credentials
	subs    Subscriptions
	clock   clock.Clock
	dialer  *websocket.Dialer
	logger  *zap.Logger
	metrics *metrics.Registry

	mu          sync.Mutex
	state       State
	attempt     int
	lastErr     error
	connectedAt time.Time
	plan        string
	conn        *websocket.Conn
	replayed    map[string]bool
	cancel      context.CancelFunc
	done        chan struct{}
	subscribers map[int]*Subscriber
	nextID      int
	symbols     []string

	writeMu sync.Mutex
}

// NewSession creates a session. subs may be nil when no registry replay is
// wanted.
func NewSession(cfg Config, keys Credentials, subs Subscriptions, clk clock.Clock, logger *zap.Logger, reg *metrics.Registry) *Session {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		cfg:         cfg,
		keys:        keys,
		subs:        subs,
		clock:       clk,
		logger:      logger,
		metrics:     reg,
		subscribers: make(map[int]*Subscriber),
		symbols:     append([]string(nil), cfg.Symbols...),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
	if subs != nil {
		subs.Watch(s.onRegistryChange)
	}
	return s
}

// Start begins connecting in the background. It returns an error if the
// session is already running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("stream session already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.attempt = 0
	s.lastErr = nil
	s.setStateLocked(Connecting)

	go s.run(ctx, s.done)
	return nil
}

// Close cancels any pending reconnect, closes the connection, waits for
// the read loop to exit and then closes subscriber queues. Events already
// queued stay readable. Start may be called again afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel, done, conn := s.cancel, s.done, s.conn
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		conn.Close()
	}
	<-done

	s.mu.Lock()
	subs := s.subscribers
	s.subscribers = make(map[int]*Subscriber)
	s.conn = nil
	s.setStateLocked(Disconnected)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	s.logger.Info("stream closed")
	return nil
}

// Subscribe registers a consumer with a bounded queue of size buffer
// (the configured queue size when buffer <= 0).
func (s *Session) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = s.cfg.QueueSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := newSubscriber(s.nextID, buffer)
	s.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe removes a consumer and closes its queue.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.mu.Lock()
	delete(s.subscribers, sub.id)
	s.mu.Unlock()
	sub.close()
}

// Watch adds symbols to the base subscription, sending it immediately if
// connected and on every later connect.
func (s *Session) Watch(symbols ...string) error {
	s.mu.Lock()
	s.symbols = append(s.symbols, symbols...)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.write(conn, frame{Type: "subscribe", Symbols: symbols, Channels: s.cfg.Channels})
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:       s.state.String(),
		Attempt:     s.attempt,
		Plan:        s.plan,
		Subscribers: len(s.subscribers),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.state == Connected {
		st.ConnectedSince = s.connectedAt
	}
	return st
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(Connecting, attempt, nil)

		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("stream connect failed", zap.Int("attempt", attempt), zap.Error(err))
			s.setState(Reconnecting, attempt, err)
			if !s.sleep(ctx, attempt) {
				return
			}
			attempt++
			continue
		}

		connectedAt := s.clock.Now()
		s.mu.Lock()
		s.connectedAt = connectedAt
		s.mu.Unlock()
		s.setState(Connected, attempt, nil)
		s.logger.Info("stream connected", zap.String("url", s.cfg.URL), zap.Int("attempt", attempt))

		err = s.serve(ctx, conn)
		conn.Close()

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if s.clock.Now().Sub(connectedAt) >= s.cfg.StabilityWindow {
			attempt = 0
		}
		s.logger.Warn("stream dropped", zap.Error(err), zap.Int("attempt", attempt))
		s.setState(Reconnecting, attempt, err)
		s.metrics.RecordReconnect()
		if !s.sleep(ctx, attempt) {
			return
		}
		attempt++
	}
}

// sleep waits out the backoff for attempt. It returns false if ctx ended.
func (s *Session) sleep(ctx context.Context, attempt int) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(s.cfg.Backoff.Delay(attempt)):
		return true
	}
}

// connect dials, authenticates, sends the base subscription and replays the
// registry in creation order.
func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	cred := s.keys.Active()
	if cred.IsZero() {
		return nil, core.ErrNoCredential
	}

	header := http.Header{}
	header.Set("User-Agent", "tinkclaw-go")
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return nil, core.Transient(fmt.Errorf("dialing %s: %w", s.cfg.URL, err))
	}

	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-handshakeDone:
		}
	}()

	s.mu.Lock()
	symbols := append([]string(nil), s.symbols...)
	s.mu.Unlock()

	plan, err := s.authenticate(conn, cred)
	if err == nil && len(symbols) > 0 {
		err = s.subscribeBase(conn, symbols)
	}
	close(handshakeDone)
	if err != nil {
		conn.Close()
		return nil, err
	}

	// Registry changes are forwarded under writeMu, so holding it across
	// publish and replay lets onRegistryChange see exactly which ids the
	// replay already sent.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.conn = conn
	s.plan = plan
	s.replayed = make(map[string]bool)
	late := append([]string(nil), s.symbols[len(symbols):]...)
	s.mu.Unlock()

	if len(late) > 0 {
		if err := s.writeLocked(conn, frame{Type: "subscribe", Symbols: late, Channels: s.cfg.Channels}); err != nil {
			return nil, s.abandon(conn, err)
		}
	}
	if s.subs != nil {
		for _, sub := range s.subs.List() {
			if err := s.writeLocked(conn, subscribeFrame(sub)); err != nil {
				return nil, s.abandon(conn, err)
			}
			s.mu.Lock()
			s.replayed[sub.ID] = true
			s.mu.Unlock()
		}
	}
	return conn, nil
}

// subscribeBase sends the base symbol subscription and waits for the
// server to confirm it. Data arriving before the confirmation is handled
// normally.
func (s *Session) subscribeBase(conn *websocket.Conn, symbols []string) error {
	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(frame{Type: "subscribe", Symbols: symbols, Channels: s.cfg.Channels}); err != nil {
		return core.Transient(fmt.Errorf("sending subscribe: %w", err))
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return core.Transient(fmt.Errorf("awaiting subscribed: %w", err))
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.handle(data)
			continue
		}
		switch f.Type {
		case "subscribed":
			s.logger.Info("stream subscribed", zap.Strings("symbols", symbols))
			return nil
		case "error":
			return core.WrapError(core.ErrHandshake, fmt.Errorf("subscribe refused: %s", f.errorText()))
		default:
			s.handle(data)
		}
	}
}

func (s *Session) abandon(conn *websocket.Conn, err error) error {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
	return core.Transient(err)
}

func (s *Session) authenticate(conn *websocket.Conn, cred credential.Credential) (string, error) {
	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(frame{Type: "auth", Token: cred.Secret}); err != nil {
		return "", core.Transient(fmt.Errorf("sending auth: %w", err))
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", core.Transient(fmt.Errorf("awaiting auth: %w", err))
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Type {
		case "auth_ok":
			return f.Plan, nil
		case "error", "auth_error":
			return "", &core.Error{
				Code:         core.ErrHandshake.Code,
				Message:      core.ErrHandshake.Message,
				Cause:        errors.New(f.errorText()),
				CredentialID: cred.ID,
			}
		}
	}
}

// serve runs the read loop and keepalive until the connection fails or
// ctx ends.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					s.logger.Debug("stream ping failed", zap.Error(err))
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return core.Transient(err)
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.handle(data)
	}
}

// handle processes one inbound frame. Malformed frames are dropped and
// never treated as connection faults.
func (s *Session) handle(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		s.drop("malformed", data, err)
		return
	}

	switch f.Type {
	case "data", "alert":
		channel := f.Channel
		if f.Type == "alert" && channel == "" {
			channel = ChannelAlert
		}
		if channel == "" || len(f.Data) == 0 {
			s.drop("malformed", data, errors.New("data frame without channel or payload"))
			return
		}
		symbol := f.Symbol
		if symbol == "" {
			var p struct {
				Symbol string `json:"symbol"`
			}
			if err := json.Unmarshal(f.Data, &p); err != nil {
				s.drop("malformed", data, err)
				return
			}
			symbol = p.Symbol
		}
		subID := f.SubscriptionID
		if subID == "" && f.Type == "alert" {
			subID = f.ID
		}
		s.deliver(Event{
			Channel:        channel,
			Symbol:         symbol,
			SubscriptionID: subID,
			Data:           f.Data,
			ReceivedAt:     s.clock.Now(),
		})
	case "subscription_expired":
		id := f.SubscriptionID
		if id == "" {
			id = f.ID
		}
		if s.subs != nil && id != "" {
			s.subs.Expire(id)
		}
	case "error":
		s.logger.Warn("stream error frame", zap.String("message", f.errorText()))
	case "pong", "subscribed", "unsubscribed", "auth_ok":
		s.logger.Debug("stream control frame", zap.String("type", f.Type))
	default:
		s.drop("unknown", data, fmt.Errorf("unknown frame type %q", f.Type))
	}
}

func (s *Session) deliver(ev Event) {
	s.metrics.RecordStreamEvent(ev.Channel)

	s.mu.Lock()
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.push(ev) {
			s.metrics.RecordStreamDrop("overflow")
		}
	}
}

func (s *Session) drop(reason string, data []byte, err error) {
	s.metrics.RecordStreamDrop(reason)
	raw := string(data)
	if len(raw) > 200 {
		raw = raw[:200]
	}
	s.logger.Warn("dropping push event",
		zap.String("reason", reason),
		zap.String("raw", raw),
		zap.Error(core.WrapError(core.ErrMalformedEvent, err)),
	)
}

// onRegistryChange forwards subscription changes made while connected.
// Additions the connect replay already sent are skipped.
func (s *Session) onRegistryChange(c subscription.Change) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	id := c.Subscription.ID
	s.mu.Lock()
	conn := s.conn
	replayed := s.replayed[id]
	if c.Kind == subscription.Removed {
		delete(s.replayed, id)
	}
	s.mu.Unlock()
	if conn == nil {
		return
	}

	var err error
	switch c.Kind {
	case subscription.Added:
		if replayed {
			return
		}
		err = s.writeLocked(conn, subscribeFrame(c.Subscription))
	case subscription.Removed:
		err = s.writeLocked(conn, frame{Type: "unsubscribe", ID: id, Symbol: c.Subscription.Symbol})
	}
	if err != nil {
		s.logger.Warn("forwarding subscription change", zap.String("id", c.Subscription.ID), zap.Error(err))
	}
}

func (s *Session) write(conn *websocket.Conn, f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(conn, f)
}

func (s *Session) writeLocked(conn *websocket.Conn, f frame) error {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	return conn.WriteJSON(f)
}

func subscribeFrame(sub subscription.Subscription) frame {
	th := sub.Threshold
	return frame{
		Type:      "subscribe",
		ID:        sub.ID,
		Symbol:    sub.Symbol,
		Condition: string(sub.Condition),
		Threshold: &th,
		Target:    sub.Target.String(),
		Channels:  channelsFor(sub),
	}
}

func channelsFor(sub subscription.Subscription) []string {
	if sub.Target.Kind == subscription.TargetStream && sub.Target.Channel != "" {
		return []string{sub.Target.Channel}
	}
	return nil
}

func (s *Session) setState(st State, attempt int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = attempt
	if err != nil {
		s.lastErr = err
	}
	s.setStateLocked(st)
}

func (s *Session) setStateLocked(st State) {
	s.state = st
	s.metrics.SetStreamState(int(st))
}
