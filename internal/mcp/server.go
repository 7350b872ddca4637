package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/review"
	"github.com/fyrsmithlabs/skillloop/internal/skills"
)

const defaultInstructions = `Learned skills are strategies mined from earlier successful improvement loops.
Call skill_search with the task and files before starting work, apply the returned
patterns and avoid the anti-patterns. Reviewers answer pending loop signals with
review_pending and review_submit.`

// Config describes the server to MCP clients. Zero fields take defaults.
type Config struct {
	Name         string
	Version      string
	Instructions string
	Logger       *zap.Logger
	// Meter records tool metrics; nil uses the global provider.
	Meter metric.Meter
}

func DefaultConfig() *Config {
	return &Config{Name: "skillloop", Version: "dev", Instructions: defaultInstructions}
}

func (c *Config) withDefaults() Config {
	out := *DefaultConfig()
	if c == nil {
		out.Logger = zap.NewNop()
		return out
	}
	if c.Name != "" {
		out.Name = c.Name
	}
	if c.Version != "" {
		out.Version = c.Version
	}
	if c.Instructions != "" {
		out.Instructions = c.Instructions
	}
	out.Logger = c.Logger
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	out.Meter = c.Meter
	return out
}

// Server exposes the skill store, promotion gate and review inbox as MCP
// tools. It does not own the store.
type Server struct {
	mcp       *mcp.Server
	store     skills.Store
	retriever *skills.Retriever
	gate      *skills.Gate
	reviews   review.Desk
	metrics   *Metrics
	logger    *zap.Logger
}

// NewServer registers the skill tools, plus the review tools when reviews is
// non-nil. A nil gate evaluates against store with default thresholds.
func NewServer(cfg *Config, store skills.Store, gate *skills.Gate, reviews review.Desk) (*Server, error) {
	if store == nil {
		return nil, errors.New("skill store is required")
	}
	c := cfg.withDefaults()
	if gate == nil {
		gate = skills.NewGate(store, skills.WithGateLogger(c.Logger))
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{Name: c.Name, Version: c.Version},
			&mcp.ServerOptions{Instructions: c.Instructions},
		),
		store:     store,
		retriever: skills.NewRetriever(store),
		gate:      gate,
		reviews:   reviews,
		metrics:   NewMetrics(c.Meter, c.Logger),
		logger:    c.Logger,
	}
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return s, nil
}

// Run serves one client over stdio until ctx ends or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio", zap.Bool("review_tools", s.reviews != nil))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp session: %w", err)
	}
	return nil
}

// Connect starts a session over t and returns without blocking. Tests use
// it with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
