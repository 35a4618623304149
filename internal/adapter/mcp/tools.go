package mcp

import (
	"context"
	"encoding/json"
	"errors"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/dereadi/thermal-memory/internal/domain"
	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/logger"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.writeMemoryTool(),
		s.touchMemoryTool(),
		s.promoteToSacredTool(),
		s.queryMemoriesTool(),
		s.getSacredMemoriesTool(),
	)
}

func triadOption() mcplib.ToolOption {
	return mcplib.WithString("requesting_triad",
		mcplib.Description("Triad making the call; defaults to the caller's X-Triad-ID or this node"),
	)
}

// requester resolves the calling triad: explicit argument, then the
// request context, then the node default.
func (s *Server) requester(ctx context.Context, req mcplib.CallToolRequest) string {
	if t := req.GetString("requesting_triad", ""); t != "" {
		return t
	}
	if t := logger.Triad(ctx); t != "" {
		return t
	}
	return s.cfg.DefaultTriad
}

func (s *Server) writeMemoryTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("write_memory",
			mcplib.WithDescription("Store a memory. Writing content that already exists updates the existing record"),
			mcplib.WithString("content", mcplib.Required(), mcplib.Description("Memory content")),
			mcplib.WithNumber("temperature", mcplib.Required(), mcplib.Description("Initial temperature, 0 to 100")),
			mcplib.WithString("source_triad", mcplib.Description("Owning triad; defaults to the requester")),
			mcplib.WithString("access_level", mcplib.Description("PUBLIC, TRIAD_ONLY, SPECIFIC or SACRED")),
			mcplib.WithArray("allowed_triads", mcplib.WithStringItems(), mcplib.Description("Triads allowed to read a SPECIFIC record")),
			mcplib.WithArray("tags", mcplib.WithStringItems(), mcplib.Description("Free-form tags")),
			mcplib.WithString("domain_tag", mcplib.Description("Domain classification")),
			mcplib.WithNumber("phase_coherence", mcplib.Description("Coherence score, 0 to 1")),
			mcplib.WithObject("metadata", mcplib.Description("Flat map of scalar values")),
		),
		Handler: s.handleWriteMemory,
	}
}

func (s *Server) handleWriteMemory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	temperature, err := req.RequireFloat("temperature")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}

	wr := &memory.WriteRequest{
		OriginalContent: content,
		Temperature:     temperature,
		SourceTriad:     req.GetString("source_triad", s.requester(ctx, req)),
		AccessLevel:     memory.AccessLevel(req.GetString("access_level", "")),
		AllowedTriads:   req.GetStringSlice("allowed_triads", nil),
		Tags:            req.GetStringSlice("tags", nil),
		DomainTag:       req.GetString("domain_tag", ""),
		PhaseCoherence:  req.GetFloat("phase_coherence", 0),
	}
	if md, ok := req.GetArguments()["metadata"].(map[string]any); ok {
		wr.Metadata = memory.Metadata(md)
	}

	id, err := s.thermal.WriteMemory(ctx, wr)
	if err != nil {
		return toolError("write memory", err), nil
	}
	return toolResultJSON(map[string]string{"id": id})
}

func (s *Server) touchMemoryTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("touch_memory",
			mcplib.WithDescription("Record an access, reheating the memory"),
			mcplib.WithString("id", mcplib.Required(), mcplib.Description("Memory ID")),
			triadOption(),
		),
		Handler: s.handleTouchMemory,
	}
}

func (s *Server) handleTouchMemory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	if _, err := s.thermal.GetMemory(ctx, s.requester(ctx, req), id); err != nil {
		return toolError("touch memory", err), nil
	}
	rec, err := s.thermal.Touch(ctx, id)
	if err != nil {
		return toolError("touch memory", err), nil
	}
	return toolResultJSON(rec)
}

func (s *Server) promoteToSacredTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("promote_to_sacred",
			mcplib.WithDescription("Mark a memory sacred. Sacred memories never cool below the sacred floor"),
			mcplib.WithString("id", mcplib.Required(), mcplib.Description("Memory ID")),
			mcplib.WithArray("rationale_tags", mcplib.WithStringItems(), mcplib.Description("Reasons for the promotion")),
			triadOption(),
		),
		Handler: s.handlePromoteToSacred,
	}
}

func (s *Server) handlePromoteToSacred(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	if _, err := s.thermal.GetMemory(ctx, s.requester(ctx, req), id); err != nil {
		return toolError("promote memory", err), nil
	}
	rec, err := s.thermal.PromoteToSacred(ctx, id, req.GetStringSlice("rationale_tags", nil))
	if err != nil {
		return toolError("promote memory", err), nil
	}
	return toolResultJSON(rec)
}

func (s *Server) queryMemoriesTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("query_memories",
			mcplib.WithDescription("List visible memories by temperature range, hottest first"),
			mcplib.WithNumber("min_temp", mcplib.Description("Lower temperature bound (default 0)")),
			mcplib.WithNumber("max_temp", mcplib.Description("Upper temperature bound (default 100)")),
			mcplib.WithArray("tags", mcplib.WithStringItems(), mcplib.Description("Match any of these tags")),
			mcplib.WithString("source_triad", mcplib.Description("Only records owned by this triad")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results (default 50, max 500)")),
			triadOption(),
		),
		Handler: s.handleQueryMemories,
	}
}

func (s *Server) handleQueryMemories(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	q := memory.Query{
		RequestingTriad: s.requester(ctx, req),
		MinTemp:         req.GetFloat("min_temp", 0),
		Tags:            req.GetStringSlice("tags", nil),
		SourceTriad:     req.GetString("source_triad", ""),
		Limit:           req.GetInt("limit", 0),
	}
	if _, ok := req.GetArguments()["max_temp"]; ok {
		hi := req.GetFloat("max_temp", memory.MaxTemperature)
		q.MaxTemp = &hi
	}
	recs, err := s.thermal.QueryMemories(ctx, q)
	if err != nil {
		return toolError("query memories", err), nil
	}
	return toolResultJSON(recs)
}

func (s *Server) getSacredMemoriesTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("get_sacred_memories",
			mcplib.WithDescription("List visible memories at or above the sacred floor"),
			triadOption(),
		),
		Handler: s.handleGetSacredMemories,
	}
}

func (s *Server) handleGetSacredMemories(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	recs, err := s.thermal.GetSacredMemories(ctx, s.requester(ctx, req))
	if err != nil {
		return toolError("get sacred memories", err), nil
	}
	return toolResultJSON(recs)
}

// toolError turns caller mistakes into plain tool errors and keeps the
// cause attached for everything else.
func toolError(op string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, domain.ErrInvalidRecord):
		return mcplib.NewToolResultError(err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return mcplib.NewToolResultError("memory not found")
	default:
		return mcplib.NewToolResultErrorFromErr(op+" failed", err)
	}
}

func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcplib.NewToolResultText(string(data)), nil
}
