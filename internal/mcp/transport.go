package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPHandlerOptions configures the HTTP transport behavior.
type HTTPHandlerOptions struct {
	// Stateless disables session management. Every tool here is a
	// single request and response, so stateless serving is safe.
	Stateless bool
}

// NewHTTPHandler mounts the server on Streamable HTTP, typically at "/mcp".
func NewHTTPHandler(server *Server, opts *HTTPHandlerOptions) http.Handler {
	if opts == nil {
		opts = &HTTPHandlerOptions{}
	}

	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server.MCPServer()
	}, &mcp.StreamableHTTPOptions{
		Stateless: opts.Stateless,
	})
}
