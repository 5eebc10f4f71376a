// Package mcptools exposes the read-only quoting operations as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName = "Quote Engine"
	BasePath   = "/mcp"
)

type Server struct {
	mcpServer *server.MCPServer
	quotes    *service.QuoteService
}

func NewServer(quotes *service.QuoteService, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			serverName,
			version,
			server.WithToolCapabilities(true),
		),
		quotes: quotes,
	}
	s.registerTools()
	return s
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Handler serves the SSE transport under BasePath.
func (s *Server) Handler() http.Handler {
	return server.NewSSEServer(s.mcpServer, server.WithStaticBasePath(BasePath))
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"score_complexity",
			mcp.WithDescription("Score project complexity from 0 to 100 with a per-component breakdown"),
			mcp.WithNumber("feature_count", mcp.Required(), mcp.Description("Number of distinct features")),
			mcp.WithNumber("integration_count", mcp.Description("Number of third-party integrations")),
			mcp.WithString("security_level", mcp.Description("none, basic, advanced or critical")),
			mcp.WithArray("compliance_flags", mcp.Description("Compliance regimes such as gdpr or hipaa")),
			mcp.WithArray("custom_logic_flags", mcp.Description("Custom logic such as smart_contract")),
			mcp.WithNumber("asset_missing_count", mcp.Description("Client assets still missing")),
			mcp.WithString("deadline_pressure", mcp.Description("low, medium or high")),
			mcp.WithNumber("deliverable_count", mcp.Description("Number of deliverables")),
			mcp.WithNumber("estimated_hours", mcp.Description("Estimated effort in hours")),
			mcp.WithNumber("confidence_score", mcp.Description("Extraction confidence between 0 and 1")),
		),
		s.handleScoreComplexity,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"preview_quote",
			mcp.WithDescription("Price a quote in lamports without touching any record"),
			mcp.WithNumber("complexity_score", mcp.Required(), mcp.Description("Complexity score from 0 to 100")),
			mcp.WithNumber("estimated_hours", mcp.Required(), mcp.Description("Estimated effort in hours")),
			mcp.WithNumber("base_rate_lamports", mcp.Required(), mcp.Description("Hourly rate in lamports")),
			mcp.WithNumber("confidence", mcp.Description("Estimate confidence between 0 and 1")),
			mcp.WithString("urgency", mcp.Description("standard, priority or urgent")),
		),
		s.handlePreviewQuote,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"assess_risk",
			mcp.WithDescription("Flag regulatory and compliance risk in a project description"),
			mcp.WithString("scope_text", mcp.Required(), mcp.Description("Project brief or scope summary")),
			mcp.WithArray("deliverables", mcp.Description("Deliverable titles and descriptions")),
		),
		s.handleAssessRisk,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_record",
			mcp.WithDescription("Fetch a workflow record and its next actions"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The record ID")),
		),
		s.handleGetRecord,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_records",
			mcp.WithDescription("List workflow records, newest first"),
			mcp.WithString("client_id", mcp.Description("Only records for this client")),
			mcp.WithString("stage", mcp.Description("Only records in this stage")),
			mcp.WithBoolean("requires_review", mcp.Description("Only records with this review flag")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of records")),
		),
		s.handleListRecords,
	)
}

func (s *Server) handleScoreComplexity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var inputs domain.ComplexityInputs
	if result := decodeArguments(request, &inputs); result != nil {
		return result, nil
	}
	scored, err := s.quotes.ScoreComplexity(inputs)
	if err != nil {
		return toolError("Failed to score complexity", err), nil
	}
	return jsonResult(scored), nil
}

func (s *Server) handlePreviewQuote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input domain.PricingInput
	if result := decodeArguments(request, &input); result != nil {
		return result, nil
	}
	quote, err := s.quotes.PreviewQuote(input)
	if err != nil {
		return toolError("Failed to price quote", err), nil
	}
	return jsonResult(quote), nil
}

func (s *Server) handleAssessRisk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input service.AssessRiskRequest
	if result := decodeArguments(request, &input); result != nil {
		return result, nil
	}
	if input.ScopeText == "" {
		return mcp.NewToolResultError("Missing required parameter: scope_text"), nil
	}
	return jsonResult(s.quotes.AssessRisk(input)), nil
}

func (s *Server) handleGetRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	record, err := s.quotes.GetRecord(service.RecordIDRequest{ID: id})
	if err != nil {
		return toolError("Failed to get record", err), nil
	}
	return jsonResult(service.View(record)), nil
}

func (s *Server) handleListRecords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input service.ListRecordsRequest
	if result := decodeArguments(request, &input); result != nil {
		return result, nil
	}
	records, err := s.quotes.ListRecords(input)
	if err != nil {
		return toolError("Failed to list records", err), nil
	}
	views := make([]service.RecordView, 0, len(records))
	for _, record := range records {
		views = append(views, service.View(record))
	}
	return jsonResult(views), nil
}

// decodeArguments round-trips the tool arguments through JSON into target.
// It returns a tool error result when the arguments do not fit.
func decodeArguments(request mcp.CallToolRequest, target any) *mcp.CallToolResult {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type")
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return mcp.NewToolResultError("Arguments could not be encoded")
	}
	if err := json.Unmarshal(encoded, target); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err))
	}
	return nil
}

func toolError(prefix string, err error) *mcp.CallToolResult {
	if appError, ok := domain.AsAppError(err); ok {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", prefix, appError.Message))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func jsonResult(value any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(jsonBytes))
}
