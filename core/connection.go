package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/agentconn/agentstate"
	"github.com/lisuiheng/agentconn/logger"
	"github.com/lisuiheng/agentconn/messages"
	"github.com/lisuiheng/agentconn/pkg/interfaces"
	"github.com/lisuiheng/agentconn/protocols/websocket"
	"github.com/lisuiheng/agentconn/utils"
)

// TransportFactory creates a fresh, unconnected transport for one attempt.
type TransportFactory func() (interfaces.TransportProtocol, error)

// Handlers are user callbacks. Each runs after the store has been updated.
type Handlers struct {
	OnOpen    func()
	OnClose   func()
	OnError   func(err error)
	OnMessage func(msg messages.ServerMessage)
}

type ConnectionOption func(*AgentConnection)

func WithTransportFactory(f TransportFactory) ConnectionOption {
	return func(c *AgentConnection) { c.newTransport = f }
}

func WithHandlers(h Handlers) ConnectionOption {
	return func(c *AgentConnection) { c.handlers = h }
}

// WithClock overrides the source of ConnectedAt timestamps.
func WithClock(now func() time.Time) ConnectionOption {
	return func(c *AgentConnection) { c.now = now }
}

func WithReconnectStrategy(s utils.ReconnectStrategy) ConnectionOption {
	return func(c *AgentConnection) { c.backoff = s }
}

// AgentConnection keeps one websocket connection to an agent alive and
// mirrors its lifecycle into an agentstate.Store.
type AgentConnection struct {
	id           string
	agent        AgentConfig
	server       ServerConfig
	reconnect    ReconnectConfig
	store        *agentstate.Store
	logger       *slog.Logger
	handlers     Handlers
	newTransport TransportFactory
	backoff      utils.ReconnectStrategy
	now          func() time.Time

	mu        sync.Mutex
	transport interfaces.TransportProtocol
	running   bool
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewAgentConnection creates a connection for agent using cfg's server and
// reconnect settings. Nothing is dialed until Run.
func NewAgentConnection(cfg Config, agent AgentConfig, store *agentstate.Store, log *slog.Logger, opts ...ConnectionOption) (*AgentConnection, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if agent.Agent == "" {
		return nil, fmt.Errorf("%w: agent name is required", ErrInvalidConfig)
	}
	if log == nil {
		log = logger.Discard()
	}

	c := &AgentConnection{
		id:        agent.ID(),
		agent:     agent,
		server:    cfg.Server,
		reconnect: cfg.Reconnect,
		store:     store,
		logger:    log.With("agent_id", agent.ID()),
		now:       time.Now,
		backoff:   utils.NewExponentialBackoffWith(cfg.Reconnect.InitialDelay, cfg.Reconnect.MaxDelay),
		closeChan: make(chan struct{}),
	}
	c.newTransport = c.websocketTransport
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *AgentConnection) websocketTransport() (interfaces.TransportProtocol, error) {
	p, err := websocket.NewWebSocketProtocol(websocket.Config{
		ServerURL:        c.server.URL,
		Prefix:           c.server.Prefix,
		Agent:            c.agent.Agent,
		Name:             c.agent.Name,
		AccessToken:      c.server.AccessToken,
		SessionID:        c.agent.SessionID,
		ProtocolVersion:  c.server.ProtocolVersion,
		HandshakeTimeout: c.server.HandshakeTimeout,
		WriteTimeout:     c.server.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ID is the key this connection uses in the store.
func (c *AgentConnection) ID() string { return c.id }

// State returns the raw connection state.
func (c *AgentConnection) State() agentstate.ConnectionState {
	return c.store.GetState(c.id)
}

// UIState returns the derived display state.
func (c *AgentConnection) UIState() agentstate.UIState {
	return agentstate.DeriveUIState(c.State())
}

// Run connects and keeps reconnecting until ctx is done, Close is called, or
// the reconnect budget is spent. The connection's state is cleared from the
// store when Run returns.
func (c *AgentConnection) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("connection already running")
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("Starting agent connection")
	defer func() {
		c.store.ClearState(c.id)
		c.logger.Info("Agent connection stopped")
	}()

	// Close must also abort a dial in progress.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closeChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if c.stopped(ctx) {
			return nil
		}

		if err := c.connect(ctx); err == nil {
			c.backoff.Reset()
			c.serve(ctx)
		}

		if c.stopped(ctx) {
			return nil
		}
		if !c.reconnect.Enabled {
			return ErrConnectionLost
		}
		attempts := c.State().ReconnectAttempts
		if c.reconnect.MaxAttempts > 0 && attempts >= c.reconnect.MaxAttempts {
			c.logger.Error("Giving up on agent connection", "attempts", attempts)
			return fmt.Errorf("%w: %d attempts", ErrReconnectExhausted, attempts)
		}

		delay := c.backoff.NextDelay()
		c.logger.Info("Reconnecting", "delay", delay, "attempts", attempts)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-c.closeChan:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// connect performs one dial attempt. A failed dial is reported as an error
// followed by a close, the same as a browser websocket would.
func (c *AgentConnection) connect(ctx context.Context) error {
	c.store.SetState(c.id, agentstate.Connecting(true))
	c.logger.Info("Connecting to agent", "url", c.server.URL)

	transport, err := c.newTransport()
	if err == nil {
		err = transport.Connect(ctx)
	}
	if c.stopped(ctx) {
		// stopped mid-dial; Run clears the state on return
		if transport != nil {
			_ = transport.Close()
		}
		if err == nil {
			err = ErrClosed
		}
		return err
	}
	if err != nil {
		c.logger.Error("Failed to connect to agent", "error", err)
		c.handleError(err)
		c.handleClose()
		if transport != nil {
			_ = transport.Close()
		}
		return err
	}

	c.mu.Lock()
	c.transport = transport
	c.mu.Unlock()

	c.handleOpen()
	for _, topic := range c.agent.Topics {
		if err := c.SendMessage(messages.TypeSubscribe, messages.TopicData{Topic: topic}); err != nil {
			c.logger.Warn("Failed to subscribe", "topic", topic, "error", err)
		}
	}
	return nil
}

// serve pumps messages until the transport drops or the connection is stopped.
func (c *AgentConnection) serve(ctx context.Context) {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()

	var tick <-chan time.Time
	if c.server.PingInterval > 0 {
		ticker := time.NewTicker(c.server.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	defer func() {
		c.mu.Lock()
		c.transport = nil
		c.mu.Unlock()
	}()

	recv := transport.Receive()
	for {
		select {
		case msg, ok := <-recv:
			if !ok {
				if err := transport.Err(); err != nil {
					c.logger.Warn("Agent connection lost", "error", err)
					c.handleError(fmt.Errorf("%w: %v", ErrConnectionLost, err))
				}
				_ = transport.Close()
				c.handleClose()
				return
			}
			c.handleTransportMessage(msg)
		case <-tick:
			if err := c.SendMessage(messages.TypePing, messages.PingData{Timestamp: c.now().UnixMilli()}); err != nil {
				c.logger.Warn("Failed to send ping", "error", err)
			}
		case <-ctx.Done():
			c.shutdown(transport)
			return
		case <-c.closeChan:
			c.shutdown(transport)
			return
		}
	}
}

func (c *AgentConnection) shutdown(transport interfaces.TransportProtocol) {
	if err := transport.Close(); err != nil {
		c.logger.Error("Failed to close transport", "error", err)
	}
	c.handleClose()
}

func (c *AgentConnection) handleTransportMessage(msg interfaces.Message) {
	if msg.Type != interfaces.MsgText {
		c.logger.Debug("Ignoring non-text message", "size", len(msg.Payload))
		return
	}
	parsed, err := messages.ParseServerMessage(msg.Payload)
	if err != nil {
		c.logger.Warn("Dropping invalid server message", "error", err, "raw_message", string(msg.Payload))
		return
	}
	if parsed.Error != nil {
		c.logger.Warn("Agent reported error", "code", parsed.Error.Code, "message", parsed.Error.Message)
	} else {
		c.logger.Debug("Received message", "type", parsed.Type)
	}
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(parsed)
	}
}

func (c *AgentConnection) handleOpen() {
	c.store.SetState(c.id,
		agentstate.Connected(true),
		agentstate.Connecting(false),
		agentstate.WithError(nil),
		agentstate.ConnectedAt(c.now()),
	)
	c.logger.Info("Connected to agent")
	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen()
	}
}

func (c *AgentConnection) handleClose() {
	c.store.SetState(c.id,
		agentstate.Connected(false),
		agentstate.Connecting(false),
		agentstate.ConnectedAt(time.Time{}),
		agentstate.IncrementReconnectAttempts(),
	)
	if c.handlers.OnClose != nil {
		c.handlers.OnClose()
	}
}

func (c *AgentConnection) handleError(err error) {
	c.store.SetState(c.id,
		agentstate.WithError(err),
		agentstate.Connecting(false),
	)
	if c.handlers.OnError != nil {
		c.handlers.OnError(err)
	}
}

// Send writes a raw text frame to the agent.
func (c *AgentConnection) Send(data []byte) error {
	select {
	case <-c.closeChan:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()

	if transport == nil {
		return ErrNotConnected
	}
	return transport.Send(data, interfaces.MsgText)
}

// SendMessage encodes and sends a client message.
func (c *AgentConnection) SendMessage(typ string, data any) error {
	raw, err := messages.NewClientMessage(typ, data)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", typ, err)
	}
	return c.Send(raw)
}

// Close stops Run. It does not wait for Run to return.
func (c *AgentConnection) Close() error {
	c.closeOnce.Do(func() {
		c.logger.Info("Closing agent connection")
		close(c.closeChan)
	})
	return nil
}

func (c *AgentConnection) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.closeChan:
		return true
	default:
		return false
	}
}
