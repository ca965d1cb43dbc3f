package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/core/ports"
)

const serverName = "product-truth-audit"

// Services are the entry points exposed as MCP tools. Each tool is a thin
// shell over the same ports the HTTP router uses.
type Services struct {
	Stages    ports.StageRunner
	Freshness ports.FreshnessChecker
	Runs      ports.RunScheduler
}

type Server struct {
	services Services
	mcp      *server.MCPServer
}

func NewServer(services Services, version string) *Server {
	s := &Server{
		services: services,
		mcp:      server.NewMCPServer(serverName, version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool("run_stage",
		mcp.WithDescription("Run one audit stage (1-4) for a product and return its stored output."),
		mcp.WithString("product_id", mcp.Required(), mcp.Description("Product identifier")),
		mcp.WithNumber("stage", mcp.Required(), mcp.Description("Stage number from 1 to 4")),
		mcp.WithBoolean("force_redo", mcp.Description("Recompute even if a done output exists")),
	), s.runStage)

	s.mcp.AddTool(mcp.NewTool("check_freshness",
		mcp.WithDescription("Report audit freshness for a product slug. Never runs a stage."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Product slug")),
	), s.checkFreshness)

	s.mcp.AddTool(mcp.NewTool("enqueue_run",
		mcp.WithDescription("Queue a background run through all four stages."),
		mcp.WithString("product_id", mcp.Required(), mcp.Description("Product identifier")),
		mcp.WithBoolean("force_redo", mcp.Description("Recompute stages that are already done")),
	), s.enqueueRun)

	return s
}

// ServeStdio blocks serving the tools over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) runStage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	productID, err := req.RequireString("product_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stage := domain.StageID(req.GetInt("stage", 0))
	if !stage.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("stage %d out of range 1..4", stage)), nil
	}

	result, err := s.services.Stages.RunStage(ctx, strings.TrimSpace(productID), stage, req.GetBool("force_redo", false))
	if err != nil {
		return nil, err
	}
	if result.Error != nil {
		return mcp.NewToolResultError(result.Error.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) checkFreshness(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.services.Freshness.Check(ctx, slug)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(report)
}

func (s *Server) enqueueRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	productID, err := req.RequireString("product_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	run, err := s.services.Runs.Enqueue(ctx, productID, req.GetBool("force_redo", false))
	if err != nil {
		return toolError(err)
	}
	return jsonResult(run)
}

// toolError reports caller mistakes as tool results and everything else as a
// protocol error.
func toolError(err error) (*mcp.CallToolResult, error) {
	if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrProductNotFound) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
