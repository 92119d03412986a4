// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes mnemon tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fenwick/mnemon/internal/compiler"
	"github.com/fenwick/mnemon/internal/memoryservice"
	"github.com/fenwick/mnemon/internal/models"
)

// Server wraps the MCP server with mnemon tools.
type Server struct {
	mcp *server.MCPServer
	svc *memoryservice.Service
}

// New creates a new MCP server with all mnemon tools registered.
func New(svc *memoryservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Mnemon",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("compile_context",
		mcp.WithDescription("Compile a context envelope for a task: retrieve the most "+
			"relevant memories for one entity, reweight them by promotion depth and "+
			"recency, and pack them into a token budget."),
		mcp.WithString("task", mcp.Required(), mcp.Description("Task description used as the retrieval query")),
		mcp.WithString("entity_id", mcp.Required(), mcp.Description("Entity whose memories to compile")),
		mcp.WithString("scope", mcp.Description("Optional scope hint appended to the query")),
		mcp.WithNumber("token_budget", mcp.Description("Maximum envelope size in estimated tokens (0 for default)")),
		mcp.WithString("decay", mcp.Description("Decay policy: sigmoid (default) or linear")),
	), s.compileContext)

	s.mcp.AddTool(mcp.NewTool("append_memory",
		mcp.WithDescription("Append a new memory to an entity's canonical log and index it. "+
			"Content MUST follow the canonical entry format. Read the contract first via "+
			"the mnemon://entry-format resource. Re-appending equivalent content is a no-op."),
		mcp.WithString("entity_id", mcp.Required(), mcp.Description("Entity (author) the memory belongs to")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content following the entry format contract")),
		mcp.WithString("kind", mcp.Description("Optional kind override: event, promotion, or reflection")),
	), s.appendMemory)

	s.mcp.AddTool(mcp.NewTool("evaluate_promotion",
		mcp.WithDescription("Evaluate whether a memory may be promoted. Without apply, only "+
			"the gate decision is returned. With apply set, an allowed promotion appends a "+
			"derived entry at depth+1."),
		mcp.WithString("entry_id", mcp.Required(), mcp.Description("Id of the memory to evaluate")),
		mcp.WithBoolean("apply", mcp.Description("Apply the promotion if allowed (default false)")),
		mcp.WithString("reason", mcp.Description("Promotion rationale (required with apply)")),
	), s.evaluatePromotion)

	s.mcp.AddTool(mcp.NewTool("list_memories",
		mcp.WithDescription("List all memories, or all memories of one entity, sorted by timestamp."),
		mcp.WithString("entity_id", mcp.Description("Optional entity to restrict the listing to")),
	), s.listMemories)

	s.mcp.AddTool(mcp.NewTool("read_memory",
		mcp.WithDescription("Read a single memory by id."),
		mcp.WithString("entry_id", mcp.Required(), mcp.Description("Id of the memory to read")),
	), s.readMemory)

	s.mcp.AddTool(mcp.NewTool("filter_memories",
		mcp.WithDescription("List memories filtered by entity, kind, and maximum promotion depth."),
		mcp.WithString("entity_id", mcp.Description("Optional entity filter")),
		mcp.WithString("kind", mcp.Description("Optional kind filter: event, promotion, or reflection")),
		mcp.WithNumber("max_depth", mcp.Description("Maximum promotion depth to include (-1 for no limit)")),
	), s.filterMemories)

	s.mcp.AddTool(mcp.NewTool("get_vector_stats",
		mcp.WithDescription("Return vector store aggregates: totals by entity, kind, and promotion depth."),
	), s.getVectorStats)

	s.mcp.AddTool(mcp.NewTool("export_embeddings",
		mcp.WithDescription("Export every vector record (entry id, metadata, embedding) for inspection or backup."),
	), s.exportEmbeddings)

	// Resource: entry format contract.
	s.mcp.AddResource(
		mcp.NewResource("mnemon://entry-format", "Entry Format Contract",
			mcp.WithResourceDescription("Canonical memory entry format that all appended memories must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readEntryFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) compileContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := req.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entityID, err := req.RequireString("entity_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	creq := compiler.Request{Task: task, EntityID: entityID}
	if scope := req.GetString("scope", ""); scope != "" {
		creq.Scope = []string{scope}
	}
	creq.TokenBudget = req.GetInt("token_budget", 0)
	creq.DecayPolicy = req.GetString("decay", "")

	envelope, err := s.svc.Compile(ctx, creq)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(envelope)
}

func (s *Server) appendMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID, err := req.RequireString("entity_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kind := models.Kind(req.GetString("kind", ""))

	entry, err := s.svc.Append(ctx, entityID, content, kind, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entry)
}

func (s *Server) evaluatePromotion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entryID, err := req.RequireString("entry_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var decision models.PromotionDecision
	if req.GetBool("apply", false) {
		decision, err = s.svc.Promote(ctx, entryID, req.GetString("reason", ""))
	} else {
		decision, err = s.svc.Evaluate(ctx, entryID)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(decision)
}

func (s *Server) listMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.svc.List(ctx, req.GetString("entity_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entries)
}

func (s *Server) readMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entryID, err := req.RequireString("entry_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := s.svc.Read(ctx, entryID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entry)
}

func (s *Server) filterMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	maxDepth := req.GetInt("max_depth", -1)
	entries, err := s.svc.Filter(ctx,
		req.GetString("entity_id", ""),
		models.Kind(req.GetString("kind", "")),
		maxDepth)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entries)
}

func (s *Server) getVectorStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.svc.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}

func (s *Server) exportEmbeddings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.svc.Export(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(records)
}

func (s *Server) readEntryFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "mnemon://entry-format",
			MIMEType: "text/markdown",
			Text:     EntryFormatContract,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
