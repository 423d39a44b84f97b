package signal

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"pixelrelay/internal/core/domain"
	rlog "pixelrelay/pkg/logger"
	"pixelrelay/pkg/protocol"
	"pixelrelay/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ConnectionState is the lifecycle of a Connection. Closed is terminal.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

const closeGrace = time.Second

// HandlerFunc handles one decoded message. Handlers for a connection run
// sequentially on its read goroutine in receipt order.
type HandlerFunc func(ctx context.Context, msg protocol.Message)

// ConnectionOptions tune a single websocket connection.
type ConnectionOptions struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBufferSize  int
	MaxMessageBytes int64
	// MessagesPerSecond > 0 drops inbound messages above the rate.
	MessagesPerSecond float64
	Burst             int
	LogMessages       bool
	Kind              domain.EndpointKind
	Metrics           ConnectionObserver
}

// ConnectionObserver receives per-message instrumentation callbacks.
type ConnectionObserver interface {
	MessageReceived(kind domain.EndpointKind, messageType string)
	MessageDropped(kind domain.EndpointKind, reason string)
}

// DefaultConnectionOptions mirror pkg/config defaults.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		SendBufferSize:  256,
		MaxMessageBytes: 1 << 20,
	}
}

type closeRequest struct {
	code   int
	reason string
}

// Connection owns one websocket transport. Outbound messages are queued and
// written by a single pump in send order; Close flushes the queue before the
// close frame.
type Connection struct {
	ws      *websocket.Conn
	opts    ConnectionOptions
	logger  *zap.SugaredLogger
	session string
	remote  string
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	sendMu sync.Mutex
	send   chan []byte

	handlersMu sync.RWMutex
	handlers   map[protocol.Type]HandlerFunc

	closeOnce   sync.Once
	closeReq    chan closeRequest
	closeCode   int
	closeReason string

	onCloseMu sync.Mutex
	onClose   []func(code int, reason string)

	readerDone chan struct{}
	writerDone chan struct{}
	done       chan struct{}
}

// NewConnection wraps ws. Nothing is read or written until Run is called,
// though messages may already be queued with Send.
func NewConnection(ws *websocket.Conn, opts ConnectionOptions, logger *zap.SugaredLogger) *Connection {
	def := DefaultConnectionOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = def.PongTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = def.SendBufferSize
	}

	session := uuid.NewString()
	remote := ""
	if addr := ws.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	ctx, cancel := context.WithCancel(rlog.WithSession(context.Background(), session))
	c := &Connection{
		ws:         ws,
		opts:       opts,
		logger:     logger.With("session_id", session, "remote_addr", remote),
		session:    session,
		remote:     remote,
		ctx:        ctx,
		cancel:     cancel,
		send:       make(chan []byte, opts.SendBufferSize),
		handlers:   make(map[protocol.Type]HandlerFunc),
		closeReq:   make(chan closeRequest, 1),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	if opts.MessagesPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), burst)
	}
	return c
}

// SessionID is a random id used only for log correlation.
func (c *Connection) SessionID() string { return c.session }

// RemoteAddr is the peer address reported by the transport.
func (c *Connection) RemoteAddr() string { return c.remote }

// Context is cancelled once the connection closes.
func (c *Connection) Context() context.Context { return c.ctx }

// Done is closed after the transport is gone and close callbacks have run.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Handle installs fn for messages of type t, replacing any previous handler.
func (c *Connection) Handle(t protocol.Type, fn HandlerFunc) {
	c.handlersMu.Lock()
	c.handlers[t] = fn
	c.handlersMu.Unlock()
}

// On installs a handler for the message type of T.
func On[T protocol.Message](c *Connection, fn func(ctx context.Context, msg T)) {
	var zero T
	c.Handle(zero.MessageType(), func(ctx context.Context, msg protocol.Message) {
		if typed, ok := msg.(T); ok {
			fn(ctx, typed)
		}
	})
}

// OnClose registers fn to run exactly once after the transport closes.
func (c *Connection) OnClose(fn func(code int, reason string)) {
	c.onCloseMu.Lock()
	c.onClose = append(c.onClose, fn)
	c.onCloseMu.Unlock()
}

// Send queues msg. It never blocks: a full queue closes the connection.
func (c *Connection) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Errorw("failed to encode message", "type", msg.MessageType(), "error", err)
		return err
	}

	c.sendMu.Lock()
	if c.State() == StateClosed {
		c.sendMu.Unlock()
		c.logger.Debugw("dropping message on closed connection", "type", msg.MessageType())
		return domain.ErrConnectionClosed
	}
	select {
	case c.send <- data:
		c.sendMu.Unlock()
	default:
		c.sendMu.Unlock()
		c.logger.Warnw("send buffer full, closing connection", "type", msg.MessageType(), "buffer", cap(c.send))
		c.Close(websocket.ClosePolicyViolation, "send buffer full")
		return domain.ErrSendBufferFull
	}

	if c.opts.LogMessages {
		c.logger.Infow("message sent", "type", msg.MessageType(), "message", string(data))
	}
	return nil
}

// Close flushes queued messages, sends a close frame with code and reason and
// closes the transport. Only the first call has any effect.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closeCode, c.closeReason = code, reason
		c.state.Store(int32(StateClosed))
		c.sendMu.Unlock()

		c.closeReq <- closeRequest{code: code, reason: reason}
		c.cancel()
		c.logger.Debugw("closing connection", "code", code, "reason", reason)
	})
}

// Run pumps the connection until the transport closes, then fires close
// callbacks. It blocks for the connection's lifetime.
func (c *Connection) Run() {
	go c.writePump()
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))

	err := c.readLoop()

	code, reason := websocket.CloseAbnormalClosure, ""
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Text
	}

	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closeCode, c.closeReason = code, reason
		c.state.Store(int32(StateClosed))
		c.sendMu.Unlock()
		c.cancel()
	})

	<-c.writerDone
	_ = c.ws.Close()

	if err != nil && !isExpectedClose(err) {
		c.logger.Infow("connection read error", "error", err)
	}

	c.onCloseMu.Lock()
	callbacks := c.onClose
	c.onClose = nil
	c.onCloseMu.Unlock()

	code, reason = c.closeCode, c.closeReason
	for _, fn := range callbacks {
		fn(code, reason)
	}
	close(c.done)
}

func (c *Connection) readLoop() error {
	defer close(c.readerDone)

	if c.opts.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(c.opts.MaxMessageBytes)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		if mt != websocket.TextMessage {
			c.drop("binary frame")
			continue
		}
		c.dispatch(data)
	}
}

func (c *Connection) dispatch(data []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.drop("rate limited")
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnrecognized) {
			c.logger.Warnw("ignoring unrecognized message", "error", err)
			c.drop("unrecognized")
		} else {
			c.logger.Warnw("ignoring malformed message", "error", err)
			c.drop("malformed")
		}
		return
	}

	if c.opts.LogMessages {
		c.logger.Infow("message received", "type", msg.MessageType(), "message", string(data))
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.MessageReceived(c.opts.Kind, string(msg.MessageType()))
	}

	c.handlersMu.RLock()
	handler := c.handlers[msg.MessageType()]
	c.handlersMu.RUnlock()
	if handler == nil {
		c.logger.Debugw("no handler for message", "type", msg.MessageType())
		return
	}

	ctx, span := tracing.TraceMessage(c.ctx, string(msg.MessageType()), string(c.opts.Kind), c.session)
	defer span.End()
	handler(ctx, msg)
}

func (c *Connection) drop(reason string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.MessageDropped(c.opts.Kind, reason)
	}
}

func (c *Connection) writePump() {
	defer close(c.writerDone)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				c.logger.Debugw("write failed", "error", err)
				_ = c.ws.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debugw("ping failed", "error", err)
				_ = c.ws.Close()
				return
			}

		case req := <-c.closeReq:
			c.flush()
			deadline := time.Now().Add(c.opts.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(req.code, req.reason), deadline)
			select {
			case <-c.readerDone:
			case <-time.After(closeGrace):
			}
			_ = c.ws.Close()
			return

		case <-c.readerDone:
			return
		}
	}
}

func (c *Connection) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseTryAgainLater,
		websocket.ClosePolicyViolation,
		websocket.CloseInternalServerErr,
	) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
