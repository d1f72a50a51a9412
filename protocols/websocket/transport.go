// protocols/websocket/transport.go
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lisuiheng/agentconn/pkg/interfaces"
)

var _ interfaces.TransportProtocol = (*WSProtocol)(nil)

const (
	DefaultPrefix    = "/agents"
	DefaultAgentName = "default"
	HeaderSessionID  = "X-Session-Id"
)

type WSProtocol struct {
	conn      *websocket.Conn
	config    Config
	sessionID string
	msgChan   chan interfaces.Message
	closeChan chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	errMu     sync.Mutex
	err       error
}

// Config defines the websocket-specific settings for one agent connection.
type Config struct {
	ServerURL        string
	Prefix           string
	Agent            string
	Name             string
	AccessToken      string
	SessionID        string
	ProtocolVersion  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// BuildURL returns <server><prefix>/<agent>/<name>. http(s) schemes are
// rewritten to ws(s).
func BuildURL(cfg Config) (string, error) {
	if cfg.Agent == "" {
		return "", errors.New("agent name is required")
	}
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: %q", interfaces.ErrUnsupportedProtocol, u.Scheme)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	name := cfg.Name
	if name == "" {
		name = DefaultAgentName
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(prefix, "/") + "/" +
		url.PathEscape(cfg.Agent) + "/" + url.PathEscape(name)
	return u.String(), nil
}

func NewWebSocketProtocol(config Config) (*WSProtocol, error) {
	if _, err := BuildURL(config); err != nil {
		return nil, err
	}
	if config.ProtocolVersion == 0 {
		config.ProtocolVersion = 1
	}
	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return &WSProtocol{
		config:    config,
		sessionID: sessionID,
		msgChan:   make(chan interfaces.Message, 100),
		closeChan: make(chan struct{}),
	}, nil
}

// SessionID is the value sent in the X-Session-Id header.
func (p *WSProtocol) SessionID() string { return p.sessionID }

func (p *WSProtocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return errors.New("already connected")
	}
	select {
	case <-p.closeChan:
		return interfaces.ErrNotConnected
	default:
	}

	endpoint, err := BuildURL(p.config)
	if err != nil {
		return err
	}

	headers := http.Header{}
	if p.config.AccessToken != "" {
		headers.Set("Authorization", fmt.Sprintf("Bearer %s", p.config.AccessToken))
	}
	headers.Set("Protocol-Version", fmt.Sprintf("%d", p.config.ProtocolVersion))
	headers.Set(HeaderSessionID, p.sessionID)

	dialer := *websocket.DefaultDialer
	if p.config.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = p.config.HandshakeTimeout
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: %v (status %d)", interfaces.ErrConnectionFailed, err, resp.StatusCode)
		}
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	p.conn = conn

	go p.readPump(conn)
	return nil
}

func (p *WSProtocol) readPump(conn *websocket.Conn) {
	defer close(p.msgChan)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-p.closeChan:
				// closed locally
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					p.setErr(err)
				}
			}
			return
		}
		select {
		case p.msgChan <- interfaces.Message{Payload: data, Type: convertMsgType(msgType)}:
		case <-p.closeChan:
			return
		}
	}
}

func convertMsgType(wsType int) interfaces.MessageType {
	switch wsType {
	case websocket.TextMessage:
		return interfaces.MsgText
	case websocket.BinaryMessage:
		return interfaces.MsgBinary
	default:
		return interfaces.MsgControl
	}
}

func (p *WSProtocol) Send(data []byte, msgType interfaces.MessageType) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return interfaces.ErrNotConnected
	}
	select {
	case <-p.closeChan:
		return interfaces.ErrNotConnected
	default:
	}

	wsType := websocket.TextMessage
	if msgType == interfaces.MsgBinary {
		wsType = websocket.BinaryMessage
	}
	if p.config.WriteTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
	}
	return p.conn.WriteMessage(wsType, data)
}

func (p *WSProtocol) Receive() <-chan interfaces.Message {
	return p.msgChan
}

func (p *WSProtocol) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *WSProtocol) setErr(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	p.err = err
}

func (p *WSProtocol) ProtocolType() string { return "websocket" }

func (p *WSProtocol) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closeChan)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.conn == nil {
			close(p.msgChan)
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = p.conn.Close()
	})
	return err
}
