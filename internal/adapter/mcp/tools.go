package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/scholaris/scholaris/internal/domain/quota"
	"github.com/scholaris/scholaris/internal/domain/tool"
	"github.com/scholaris/scholaris/internal/middleware"
)

// QuotaChecker answers read-only consumption pre-checks.
type QuotaChecker interface {
	CheckAllowed(ctx context.Context, scopeID string, feature quota.Feature, amount int64) (*quota.CheckResult, error)
}

// registerTools registers the quota check tool plus every tool from the
// shared registry.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(s.checkQuotaTool())

	if s.deps.Registry == nil {
		return
	}
	for _, spec := range s.deps.Registry.Specs() {
		s.mcpServer.AddTools(s.registryTool(spec))
	}
}

// registryTool bridges one registry tool into an MCP tool. Arguments pass
// through untouched; the Result envelope is returned as JSON.
func (s *Server) registryTool(spec tool.Spec) mcpserver.ServerTool {
	schema, err := json.Marshal(spec.InputSchema)
	if err != nil || len(spec.InputSchema) == 0 {
		schema = []byte(`{"type":"object"}`)
	}

	t := mcplib.NewToolWithRawSchema(spec.Name, spec.Description, schema)
	name := spec.Name

	return mcpserver.ServerTool{
		Tool: t,
		Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			ctx = tool.WithScope(ctx, orgScopeFromRequest(ctx))
			res := s.deps.Registry.Execute(ctx, name, req.GetArguments())
			data, err := json.Marshal(res)
			if err != nil {
				return mcplib.NewToolResultErrorFromErr("failed to marshal tool result", err), nil
			}
			if !res.Success {
				return mcplib.NewToolResultError(res.Error), nil
			}
			return toolResultJSON(string(data)), nil
		},
	}
}

func (s *Server) checkQuotaTool() mcpserver.ServerTool {
	t := mcplib.NewTool("check_quota",
		mcplib.WithDescription("Check remaining quota for a feature without consuming any"),
		mcplib.WithString("scope_id",
			mcplib.Required(),
			mcplib.Description("The principal or organization to check"),
		),
		mcplib.WithString("feature",
			mcplib.Required(),
			mcplib.Description("The metered feature, e.g. assistant.chat"),
		),
		mcplib.WithNumber("amount",
			mcplib.Description("Units the caller intends to consume, default 1"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    t,
		Handler: s.handleCheckQuota,
	}
}

func (s *Server) handleCheckQuota(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.QuotaChecker == nil {
		return mcplib.NewToolResultError("quota checker not configured"), nil
	}
	args := req.GetArguments()
	scopeID, ok := args["scope_id"].(string)
	if !ok || scopeID == "" {
		return mcplib.NewToolResultError("scope_id is required"), nil
	}
	feature, ok := args["feature"].(string)
	if !ok || !quota.Feature(feature).Valid() {
		return mcplib.NewToolResultError("feature is required and must be a known feature"), nil
	}

	amount := int64(1)
	if raw, ok := args["amount"].(float64); ok && raw > 0 {
		amount = int64(raw)
	}

	res, err := s.deps.QuotaChecker.CheckAllowed(ctx, scopeID, quota.Feature(feature), amount)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to check quota", err), nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal check result", err), nil
	}
	return toolResultJSON(string(data)), nil
}

// toolResultJSON wraps a JSON payload in a text content result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}

// orgScopeFromRequest derives the tool scope from the request context so
// registry tools see the same org isolation as HTTP callers.
func orgScopeFromRequest(ctx context.Context) tool.Scope {
	return tool.Scope{
		OrgID:       middleware.OrgIDFromContext(ctx),
		PrincipalID: middleware.PrincipalIDFromContext(ctx),
	}
}
