package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultConnectTimeout bounds a single dial attempt.
const DefaultConnectTimeout = 10 * time.Second

// ConnectionState is the state of the shared transport.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnConnectFailed(err error)
}

// OnConnectFunc runs on every freshly opened channel before it is handed
// out, e.g. to declare the exchange.
type OnConnectFunc func(ctx context.Context, ch Channel) error

// ConnectionManager owns the single connection and channel shared by all
// requests. It connects lazily and never retries on its own: a failed
// attempt is reported and the next caller starts from scratch.
type ConnectionManager struct {
	url            string
	connectionName string
	connectTimeout time.Duration
	dial           Dialer
	logger         *slog.Logger
	onConnect      []OnConnectFunc

	// mu serializes dialing and every write of live and state. Readers use
	// the atomics so they never wait for a dial in progress.
	mu         sync.Mutex
	generation uint64
	closed     bool

	live  atomic.Pointer[liveTransport]
	state atomic.Int32
	dials atomic.Int64

	stateListeners []ConnectionStateListener
	listenersMu    sync.RWMutex
}

type liveTransport struct {
	conn    Connection
	channel Channel
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithConnectTimeout bounds each dial attempt.
func WithConnectTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.connectTimeout = timeout
	}
}

// WithDialer replaces the AMQP dialer.
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// WithConnectionName sets the client-provided connection name shown in the
// management UI.
func WithConnectionName(name string) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.connectionName = name
	}
}

// WithOnConnect registers hooks run on each new channel.
func WithOnConnect(hooks ...OnConnectFunc) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.onConnect = append(cm.onConnect, hooks...)
	}
}

// WithStateListener registers a listener at construction time.
func WithStateListener(listener ConnectionStateListener) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.stateListeners = append(cm.stateListeners, listener)
	}
}

// NewConnectionManager creates a new connection manager. No connection is
// opened until EnsureConnected is called.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		connectionName: "homecode",
		connectTimeout: DefaultConnectTimeout,
		dial:           DialAMQP,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// EnsureConnected returns the shared channel, dialing once if there is no
// open transport. Concurrent callers are serialized so at most one dial is
// in flight and they all observe the same outcome. State, IsConnected,
// IsStale and Invalidate do not wait for that dial.
func (cm *ConnectionManager) EnsureConnected(ctx context.Context) (Channel, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil, cm.connectionError(ErrConnectionClosed)
	}

	if t := cm.live.Load(); t != nil && !t.closed() {
		return t.channel, nil
	}

	if cm.live.Load() != nil {
		cm.logger.Warn("transport is stale, reconnecting", "url", SanitizeURL(cm.url))
		cm.resetLocked()
	}

	conn, ch, err := cm.connectLocked(ctx)
	if err != nil {
		cm.state.Store(int32(StateDisconnected))
		connErr := cm.connectionError(err)
		cm.logger.Error("could not connect to RabbitMQ", "url", SanitizeURL(cm.url), "error", err)
		cm.notifyConnectFailed(connErr)
		return nil, connErr
	}

	cm.generation++
	cm.live.Store(&liveTransport{conn: conn, channel: ch})
	cm.state.Store(int32(StateConnected))

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go cm.watchClose(cm.generation, connClosed, chClosed)

	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	cm.notifyConnected()

	return ch, nil
}

// IsStale reports whether a transport is stored but its connection or
// channel has been closed underneath us.
func (cm *ConnectionManager) IsStale() bool {
	t := cm.live.Load()
	return t != nil && t.closed()
}

// Invalidate drops ch after an I/O error so the next call reconnects. It is
// a no-op if ch is no longer the current channel.
func (cm *ConnectionManager) Invalidate(ch Channel, cause error) {
	if ch == nil || !cm.holds(ch) {
		return
	}

	cm.mu.Lock()
	if !cm.holds(ch) {
		cm.mu.Unlock()
		return
	}
	cm.resetLocked()
	cm.mu.Unlock()

	cm.logger.Warn("transport invalidated", "error", cause)
	cm.notifyDisconnected(cause)
}

// State returns the current connection state.
func (cm *ConnectionManager) State() ConnectionState {
	return ConnectionState(cm.state.Load())
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	return cm.State() == StateConnected
}

// Dials returns the number of dial attempts made so far.
func (cm *ConnectionManager) Dials() int64 {
	return cm.dials.Load()
}

// URL returns the sanitized broker URL.
func (cm *ConnectionManager) URL() string {
	return SanitizeURL(cm.url)
}

// Close closes the connection. Later calls to EnsureConnected fail.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil
	}
	cm.closed = true

	t := cm.live.Load()
	if t == nil {
		cm.state.Store(int32(StateDisconnected))
		return nil
	}

	cm.generation++
	_ = t.channel.Close()
	err := t.conn.Close()
	cm.live.Store(nil)
	cm.state.Store(int32(StateDisconnected))
	cm.logger.Info("connection manager shutting down")
	return err
}

// connectLocked dials and opens a channel. The dial runs in its own
// goroutine so ctx can abandon it; a connection that arrives late is closed.
func (cm *ConnectionManager) connectLocked(ctx context.Context) (Connection, Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	cm.dials.Add(1)

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(cm.connectionName)
	config := amqp.Config{
		Dial:       amqp.DefaultDial(cm.connectTimeout),
		Locale:     "en_US",
		Properties: props,
	}

	type dialResult struct {
		conn Connection
		err  error
	}
	results := make(chan dialResult, 1)

	go func() {
		conn, err := cm.dial(cm.url, config)
		results <- dialResult{conn: conn, err: err}
	}()

	var conn Connection
	select {
	case r := <-results:
		if r.err != nil {
			return nil, nil, r.err
		}
		conn = r.conn

	case <-ctx.Done():
		go func() {
			if r := <-results; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, nil, fmt.Errorf("%w: %v", ErrConnectionTimeout, ctx.Err())
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrChannelCreationFailed, err)
	}

	for _, hook := range cm.onConnect {
		if err := hook(ctx, ch); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, err
		}
	}

	return conn, ch, nil
}

// watchClose collapses the state as soon as the broker closes either the
// connection or the channel of generation gen.
func (cm *ConnectionManager) watchClose(gen uint64, connClosed, chClosed chan *amqp.Error) {
	var amqpErr *amqp.Error
	select {
	case amqpErr = <-connClosed:
	case amqpErr = <-chClosed:
	}

	cm.mu.Lock()
	if cm.generation != gen {
		cm.mu.Unlock()
		return
	}
	cm.resetLocked()
	cm.mu.Unlock()

	var err error
	if amqpErr != nil {
		err = amqpErr
		cm.logger.Error("connection closed", "error", amqpErr)
	} else {
		cm.logger.Info("connection closed")
	}
	cm.notifyDisconnected(err)
}

func (t *liveTransport) closed() bool {
	return t.channel.IsClosed() || t.conn.IsClosed()
}

func (cm *ConnectionManager) holds(ch Channel) bool {
	t := cm.live.Load()
	return t != nil && t.channel == ch
}

// resetLocked drops the stored transport and stops the current watcher.
func (cm *ConnectionManager) resetLocked() {
	cm.generation++
	if t := cm.live.Load(); t != nil {
		if !t.channel.IsClosed() {
			_ = t.channel.Close()
		}
		if !t.conn.IsClosed() {
			_ = t.conn.Close()
		}
	}
	cm.live.Store(nil)
	cm.state.Store(int32(StateDisconnected))
}

func (cm *ConnectionManager) connectionError(err error) *ConnectionError {
	return &ConnectionError{
		Op:        "connect",
		URL:       SanitizeURL(cm.url),
		Err:       err,
		Timestamp: time.Now(),
	}
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

// RemoveStateListener removes a connection state listener
func (cm *ConnectionManager) RemoveStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()

	for i, l := range cm.stateListeners {
		if l == listener {
			cm.stateListeners = append(cm.stateListeners[:i], cm.stateListeners[i+1:]...)
			break
		}
	}
}

func (cm *ConnectionManager) notifyConnected() {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyConnectFailed(err error) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnConnectFailed(err)
	}
}
