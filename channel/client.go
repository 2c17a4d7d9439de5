package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultHandshakeTimeout bounds the websocket dial and upgrade.
	DefaultHandshakeTimeout = 30 * time.Second
	// DefaultWriteTimeout bounds each outbound frame write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultPingInterval spaces keepalive pings on an idle channel.
	DefaultPingInterval = 45 * time.Second
)

var (
	// ErrNotConnected indicates an emit was attempted before Connect succeeded
	// or after the channel went down. Nothing is queued or retried.
	ErrNotConnected = errors.New("channel: not connected")
	// ErrClientClosed indicates the client was torn down and cannot reconnect.
	ErrClientClosed = errors.New("channel: client is closed")
)

// Options controls runtime behavior of Client.
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	Logger           zerolog.Logger
}

// Client owns the one long-lived event channel shared across a chat session.
//
// At most one inbound-message handler is registered at any time: registering a
// new handler replaces the previous one, so an event is never processed more
// than once no matter how often registration is repeated.
type Client struct {
	url              string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	pingInterval     time.Duration
	logger           zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	onMessage func(MessagePayload)

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error

	errors chan error
}

// New creates a channel client with validated options.
func New(options Options) (*Client, error) {
	if options.URL == "" {
		return nil, errors.New("channel: URL is required")
	}
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultWriteTimeout
	}
	if options.PingInterval <= 0 {
		options.PingInterval = DefaultPingInterval
	}

	return &Client{
		url:              options.URL,
		handshakeTimeout: options.HandshakeTimeout,
		writeTimeout:     options.WriteTimeout,
		pingInterval:     options.PingInterval,
		logger:           options.Logger,
		closed:           make(chan struct{}),
		errors:           make(chan error, 16),
	}, nil
}

// Connect establishes the channel and announces the local identity with a
// setup event. It is idempotent: calling it on a connected client is a no-op.
func (c *Client) Connect(identity SetupPayload) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %q: %w", c.url, err)
	}

	frame, err := EncodeEvent(EventSetup, identity)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := c.writeFrame(conn, frame); err != nil {
		_ = conn.Close()
		return fmt.Errorf("announce identity: %w", err)
	}

	c.conn = conn
	c.logger.Debug().Str("url", c.url).Str("user", identity.ID).Msg("channel connected")

	go c.readLoop(conn)
	go c.pingLoop(conn)
	return nil
}

// Connected reports whether the channel is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// JoinConversation tells the server to scope deliveries to a conversation.
// It is emitted on every active-conversation change, re-joins included; join
// semantics are the server's concern.
func (c *Client) JoinConversation(conversationID string) error {
	return c.emit(EventJoinChat, conversationID)
}

// SendMessage emits an outbound message envelope. Fire-and-forget: no
// acknowledgment is expected and failed sends are not queued.
func (c *Client) SendMessage(payload MessagePayload) error {
	return c.emit(EventSendMsg, payload)
}

// OnMessageReceived registers the handler for inbound message events. Any
// previously registered handler is removed first; there is never more than one.
func (c *Client) OnMessageReceived(handler func(MessagePayload)) {
	c.handlerMu.Lock()
	c.onMessage = handler
	c.handlerMu.Unlock()
}

// Done is closed when the channel is fully torn down.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Errors returns asynchronous transport errors.
func (c *Client) Errors() <-chan error {
	return c.errors
}

// LastError returns the terminal channel error, if any.
func (c *Client) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.closeErr
}

// Close tears the channel down.
func (c *Client) Close() error {
	c.closeWithError(nil)
	return nil
}

func (c *Client) emit(event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := EncodeEvent(event, data)
	if err != nil {
		return err
	}
	if err := c.writeFrame(conn, frame); err != nil {
		err = fmt.Errorf("emit %s: %w", event, err)
		c.closeWithError(err)
		return err
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.closeWithError(nil)
				return
			}
			c.closeWithError(fmt.Errorf("read frame: %w", err))
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			c.logger.Debug().Err(err).Msg("dropping unparseable frame")
			continue
		}

		switch envelope.Event {
		case EventMsgReceive:
			payload, err := DecodeMessagePayload(envelope.Data)
			if err != nil {
				c.logger.Debug().Err(err).Msg("dropping malformed inbound message")
				continue
			}
			if handler := c.currentHandler(); handler != nil {
				handler(payload)
			}
		default:
			c.logger.Debug().Str("event", envelope.Event).Msg("ignoring unknown event")
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.closeWithError(fmt.Errorf("keepalive ping: %w", err))
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Client) currentHandler() func(MessagePayload) {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.onMessage
}

func (c *Client) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		if err != nil {
			c.reportError(err)
			c.logger.Warn().Err(err).Msg("channel closed")
		}

		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()

		close(c.closed)
	})
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	select {
	case c.errors <- err:
	default:
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}
