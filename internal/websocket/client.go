// Package websocket streams pending transactions from a JSON-RPC websocket
// endpoint such as Alchemy's alchemy_pendingTransactions subscription.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LADAN401/Elite-Degen/internal/listener"
	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/internal/metrics"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

var (
	ErrNotConnected = errors.New("websocket not connected")
	ErrMaxRetries   = errors.New("max reconnect retries exceeded")
	ErrSendFailed   = errors.New("failed to send message")
	ErrClosed       = errors.New("websocket client closed")
	ErrConnLost     = errors.New("websocket connection lost")
)

// Config holds WebSocket client configuration
type Config struct {
	URL              string
	Backoff          listener.Backoff
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// EventHandler is a function that handles incoming events
type EventHandler func(event *models.Event)

// ConnectHandler runs after every successful dial, before frames are read
type ConnectHandler func(ctx context.Context) error

// Client is a reconnecting JSON-RPC websocket client
type Client struct {
	config    Config
	log       logger.Logger
	handler   EventHandler
	onConnect ConnectHandler

	mu          sync.RWMutex
	conn        *websocket.Conn
	connErr     chan error
	isConnected bool
	nextID      uint64
	pending     map[string]chan *models.Event

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(cfg Config, log logger.Logger) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 90 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = cfg.ReadTimeout
	}

	return &Client{
		config:  cfg,
		log:     log.With(logger.F("component", "websocket")),
		pending: make(map[string]chan *models.Event),
		done:    make(chan struct{}),
	}
}

// SetHandler sets the event handler
func (c *Client) SetHandler(handler EventHandler) {
	c.handler = handler
}

// OnConnect sets the hook run after each (re)connect, used to re-issue
// subscriptions
func (c *Client) OnConnect(fn ConnectHandler) {
	c.onConnect = fn
}

// Run connects and reads until ctx is done, Close is called, or the
// reconnect budget is exhausted.
func (c *Client) Run(ctx context.Context) error {
	defer c.dropConn()

	attempt := 0
	for {
		err := c.connect(ctx)
		if err == nil && c.onConnect != nil {
			if err = c.onConnect(ctx); err != nil {
				c.log.Error("post-connect hook failed", logger.F("error", err))
				c.dropConn()
			}
		}
		if err == nil {
			attempt = 0
			err = c.serve(ctx)
		}

		if c.stopped(ctx) {
			return nil
		}

		attempt++
		if c.config.Backoff.Exhausted(attempt) {
			c.log.Error("giving up on websocket",
				logger.F("error", err),
				logger.F("attempts", attempt-1),
			)
			return fmt.Errorf("%w: %v", ErrMaxRetries, err)
		}

		wait := c.config.Backoff.Delay(attempt)
		metrics.StreamReconnectsTotal.Inc()
		c.log.Warn("websocket disconnected, reconnecting",
			logger.F("error", err),
			logger.F("attempt", attempt),
			logger.F("max_retries", c.config.Backoff.MaxRetries),
			logger.F("wait", wait.String()),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Client) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

// connect performs the actual connection
func (c *Client) connect(ctx context.Context) error {
	c.log.Info("connecting to websocket", logger.F("url", redactURL(c.config.URL)))

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		c.log.Debug("pong received")
		return conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	errCh := make(chan error, 1)

	c.mu.Lock()
	c.conn = conn
	c.connErr = errCh
	c.isConnected = true
	c.mu.Unlock()

	c.log.Info("websocket connected successfully")
	// started before the connect hook so its calls can see their replies
	go c.readLoop(conn, errCh)

	return nil
}

// serve blocks until the current connection fails
func (c *Client) serve(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	errCh := c.connErr
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(conn, stopPing)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case err := <-errCh:
		return err
	}
}

// readLoop reads frames until the connection fails
func (c *Client) readLoop(conn *websocket.Conn, errCh chan error) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
			c.fail(conn, errCh, err)
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.fail(conn, errCh, err)
			return
		}

		c.dispatch(message)
	}
}

func (c *Client) fail(conn *websocket.Conn, errCh chan error, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.isConnected = false
		c.releasePending()
	}
	c.mu.Unlock()
	conn.Close()

	select {
	case errCh <- err:
	default:
	}
}

// dispatch decodes one frame. Replies to our own requests go to the waiting
// caller, everything else to the event handler.
func (c *Client) dispatch(message []byte) {
	c.log.Debug("raw message received", logger.F("size", len(message)))

	var msg models.RPCMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.log.Warn("failed to parse message", logger.F("error", err))
		return
	}
	event := msg.ToEvent()

	if event.ID != "" {
		c.mu.Lock()
		waiter, ok := c.pending[event.ID]
		delete(c.pending, event.ID)
		c.mu.Unlock()
		if ok {
			waiter <- event
			return
		}
	}

	if c.handler != nil {
		c.handler(event)
	}
}

// pingLoop sends websocket control pings until stop is closed
func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	if c.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Warn("failed to send ping", logger.F("error", err))
				return
			}
			c.log.Debug("ping sent")
		}
	}
}

// Call sends a JSON-RPC request and waits for its reply
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (*models.Event, error) {
	c.mu.Lock()
	if !c.isConnected || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextID++
	seq := c.nextID
	id := strconv.FormatUint(seq, 10)
	reply := make(chan *models.Event, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	if params == nil {
		params = []interface{}{}
	}
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      seq,
		"method":  method,
		"params":  params,
	}
	if err := c.Send(ctx, req); err != nil {
		c.forget(id)
		return nil, err
	}

	timer := time.NewTimer(c.config.ReadTimeout)
	defer timer.Stop()

	select {
	case event, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("%s: %w", method, ErrConnLost)
		}
		if event.Type == models.EventTypeError {
			return event, fmt.Errorf("%s: %s", method, string(event.Data))
		}
		return event, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		c.forget(id)
		return nil, ErrClosed
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("%s: no reply within %s", method, c.config.ReadTimeout)
	}
}

// releasePending fails every outstanding Call. Callers hold c.mu.
func (c *Client) releasePending() {
	for id, waiter := range c.pending {
		delete(c.pending, id)
		close(waiter)
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Send sends a message through the WebSocket
func (c *Client) Send(ctx context.Context, data interface{}) error {
	c.mu.RLock()
	conn := c.conn
	isConnected := c.isConnected
	c.mu.RUnlock()

	if !isConnected || conn == nil {
		return ErrNotConnected
	}

	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.log.Error("failed to send message", logger.F("error", err))
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	c.log.Debug("message sent", logger.F("size", len(message)))
	return nil
}

func (c *Client) dropConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.isConnected = false
	c.releasePending()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Close closes the WebSocket connection gracefully and stops Run
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.isConnected = false
		c.mu.Unlock()

		if conn != nil {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.config.WriteTimeout),
			)
			err = conn.Close()
		}
	})
	return err
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}
