package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/bull/sinhala-tutor-rag/internal/assistant"
	"github.com/bull/sinhala-tutor-rag/internal/indexer"
	"github.com/bull/sinhala-tutor-rag/internal/metrics"
)

// Version is reported to MCP clients during initialization.
const Version = "v0.3.0"

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
	logger *zap.Logger
}

// Config holds server dependencies. Metrics and Logger may be nil.
type Config struct {
	Assistant *assistant.Service
	Pipeline  *indexer.Pipeline
	Resources ResourceLister
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	impl := &mcp.Implementation{
		Name:    "sinhala-tutor",
		Version: Version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a learner's question using only the given resources. Returns the answer, the chunks it was grounded in and a safety summary.",
	}, instrument("ask", cfg.Metrics, logger, makeAskHandler(cfg.Assistant)))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_safety_report",
		Description: "Get the full grounding audit of an assistant message, including unsupported concepts and flagged sentences.",
	}, instrument("get_safety_report", cfg.Metrics, logger, makeSafetyReportHandler(cfg.Assistant)))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "audit_text",
		Description: "Audit any text against a source context without storing the result.",
	}, instrument("audit_text", cfg.Metrics, logger, makeAuditHandler(cfg.Assistant)))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_resource",
		Description: "Extract, chunk and embed an uploaded resource so it can be used as answer context. Safe to repeat.",
	}, instrument("index_resource", cfg.Metrics, logger, makeIndexHandler(cfg.Pipeline)))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_resources",
		Description: "List a learner's resources with their indexing status.",
	}, instrument("list_resources", cfg.Metrics, logger, makeListHandler(cfg.Resources)))

	return &Server{server: server, logger: logger}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
