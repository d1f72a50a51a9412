package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lisuiheng/agentconn/agentstate"
	"github.com/lisuiheng/agentconn/logger"
	"golang.org/x/sync/errgroup"
)

// Client runs one AgentConnection per configured agent against a shared store.
type Client struct {
	config      Config
	store       *agentstate.Store
	connections []*AgentConnection
	logger      *slog.Logger
}

// Status describes one tracked connection.
type Status struct {
	AgentID string
	UIState agentstate.UIState
	Label   string
	State   agentstate.ConnectionState
}

// NewClient validates cfg and prepares a connection per agent. opts are
// applied to every connection.
func NewClient(cfg Config, store *agentstate.Store, log *slog.Logger, opts ...ConnectionOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if log == nil {
		log = logger.Discard()
	}

	c := &Client{
		config: cfg,
		store:  store,
		logger: log,
	}
	for _, agent := range cfg.Agents {
		conn, err := NewAgentConnection(cfg, agent, store, log, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection %s: %w", agent.ID(), err)
		}
		c.connections = append(c.connections, conn)
	}
	return c, nil
}

// Connections returns the managed connections in config order.
func (c *Client) Connections() []*AgentConnection {
	return c.connections
}

// Run blocks until every connection has stopped. One connection giving up does
// not stop the others. The first connection error, if any, is returned.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("Starting client", "agents", len(c.connections))
	defer c.logger.Info("Client stopped")

	var g errgroup.Group
	for _, conn := range c.connections {
		conn := conn
		g.Go(func() error {
			if err := conn.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", conn.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Status returns every tracked connection, sorted by agent id.
func (c *Client) Status() []Status {
	ids := c.store.AgentIDs()
	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		st := c.store.GetState(id)
		ui := agentstate.DeriveUIState(st)
		out = append(out, Status{
			AgentID: id,
			UIState: ui,
			Label:   ui.Label(),
			State:   st,
		})
	}
	return out
}

// Close stops all connections.
func (c *Client) Close() error {
	c.logger.Info("Closing client")
	var errs []error
	for _, conn := range c.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
