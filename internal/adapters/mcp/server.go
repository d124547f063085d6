package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/ports"
)

const (
	serverName    = "fin-retrieval"
	retrieveTool  = "retrieve"
	maxToolTopK   = 50
	serverVersion = "1.0.0"
)

// Server exposes retrieval to MCP clients as a single "retrieve" tool.
type Server struct {
	retriever ports.Retriever
	mcp       *server.MCPServer
}

func NewServer(retriever ports.Retriever) *Server {
	s := &Server{
		retriever: retriever,
		mcp: server.NewMCPServer(
			serverName,
			serverVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.mcp.AddTool(retrieveToolDefinition(), s.handleRetrieve)
	return s
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

func retrieveToolDefinition() mcp.Tool {
	return mcp.NewTool(retrieveTool,
		mcp.WithDescription("Retrieve ranked, attributable chunks from ingested financial documents. "+
			"Each result carries the source document, page number and chunk index."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language question, e.g. \"EBITDA margin in August 2025\"."),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Number of results to return."),
			mcp.Min(1),
			mcp.Max(maxToolTopK),
		),
		mcp.WithString("document_id", mcp.Description("Restrict results to one document.")),
		mcp.WithString("source_name", mcp.Description("Restrict results to one source file name.")),
		mcp.WithString("entity", mcp.Description("Reporting entity, e.g. a company or segment.")),
		mcp.WithString("metric_category", mcp.Description("Metric category such as revenue or ebitda.")),
		mcp.WithString("period", mcp.Description("Canonical period: YYYY, YYYY-Qn, YYYY-MM or YYYY-MM-DD.")),
	)
}

func (s *Server) handleRetrieve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	req := domain.RetrievalRequest{
		Query: query,
		TopK:  request.GetInt("top_k", 0),
		Filters: domain.SearchFilters{
			DocumentID:     strings.TrimSpace(request.GetString("document_id", "")),
			SourceName:     strings.TrimSpace(request.GetString("source_name", "")),
			Entity:         strings.TrimSpace(request.GetString("entity", "")),
			MetricCategory: strings.TrimSpace(request.GetString("metric_category", "")),
			Period:         strings.TrimSpace(request.GetString("period", "")),
		},
	}
	if req.TopK < 0 || req.TopK > maxToolTopK {
		return mcp.NewToolResultError("top_k must be between 1 and 50"), nil
	}

	resp, err := s.retriever.Retrieve(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(toolErrorMessage(ctx, err)), nil
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// toolErrorMessage keeps internal failure details out of tool output.
func toolErrorMessage(ctx context.Context, err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return err.Error()
	case domain.IsKind(err, domain.ErrRetrievalUnavailable), domain.IsKind(err, domain.ErrTemporary):
		slog.WarnContext(ctx, "mcp_retrieve_unavailable", "error", err)
		return "retrieval temporarily unavailable"
	default:
		slog.ErrorContext(ctx, "mcp_retrieve_failed", "error", err)
		return "retrieval failed"
	}
}
