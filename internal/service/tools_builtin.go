package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/scholaris/scholaris/internal/domain"
	"github.com/scholaris/scholaris/internal/domain/quota"
	"github.com/scholaris/scholaris/internal/domain/tool"
	"github.com/scholaris/scholaris/internal/port/database"
)

// RegisterBuiltinTools registers the data-access tools the assistant ships
// with. Registration is eager at startup; a duplicate name is a programming
// error and fails loudly. Every executor reads its tenancy scope from the
// context, never from model-supplied arguments.
func RegisterBuiltinTools(registry *tool.Registry, store database.Store, checker quotaGate) error {
	tools := []tool.Tool{
		{
			Name:        "list_members",
			Description: "List the members of the caller's organization (staff, guardians, and students).",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Risk:    tool.RiskLow,
			Execute: listMembersExec(store),
		},
		{
			Name:        "get_student_progress",
			Description: "Get a student's grade average, attendance, and completed units.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"student_id": map[string]any{
						"type":        "string",
						"description": "ID of the student to look up",
					},
				},
				"required": []string{"student_id"},
			},
			Risk:    tool.RiskLow,
			Execute: studentProgressExec(store),
		},
		{
			Name:        "get_quota_balance",
			Description: "Get the caller's remaining quota for an assistant feature.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"feature": map[string]any{
						"type":        "string",
						"description": "Feature name, e.g. assistant.chat or assistant.voice",
					},
				},
				"required": []string{"feature"},
			},
			Risk:    tool.RiskLow,
			Execute: quotaBalanceExec(checker),
		},
		{
			Name:        "get_invoice_summary",
			Description: "Summarize the organization's open, overdue, and paid invoices.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			// Billing data is sensitive enough to warrant an explicit
			// confirmation before it reaches the model.
			Risk:                 tool.RiskMedium,
			RequiresConfirmation: true,
			Execute:              invoiceSummaryExec(store),
		},
	}

	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("builtin tools: %w", err)
		}
	}
	return nil
}

func requireScope(ctx context.Context) (tool.Scope, error) {
	scope := tool.ScopeFromContext(ctx)
	if scope.OrgID == "" {
		return tool.Scope{}, errors.New("no organization scope")
	}
	return scope, nil
}

func listMembersExec(store database.Store) tool.Executor {
	return func(ctx context.Context, _ map[string]any) (any, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		members, err := store.ListMembers(ctx, scope.OrgID)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		return map[string]any{"members": members, "count": len(members)}, nil
	}
}

func studentProgressExec(store database.Store) tool.Executor {
	return func(ctx context.Context, args map[string]any) (any, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		studentID, _ := args["student_id"].(string)
		if studentID == "" {
			return nil, errors.New("student_id is required")
		}
		progress, err := store.GetStudentProgress(ctx, scope.OrgID, studentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("no progress record for student %s", studentID)
			}
			return nil, fmt.Errorf("get student progress: %w", err)
		}
		return progress, nil
	}
}

func quotaBalanceExec(checker quotaGate) tool.Executor {
	return func(ctx context.Context, args map[string]any) (any, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		if scope.PrincipalID == "" {
			return nil, errors.New("no principal scope")
		}
		feature := quota.Feature(fmt.Sprint(args["feature"]))
		if !feature.Valid() {
			return nil, fmt.Errorf("unknown feature %q", feature)
		}
		res, err := checker.CheckAllowed(ctx, scope.PrincipalID, feature, 1)
		if err != nil {
			return nil, fmt.Errorf("check quota: %w", err)
		}
		return res, nil
	}
}

func invoiceSummaryExec(store database.Store) tool.Executor {
	return func(ctx context.Context, _ map[string]any) (any, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		summary, err := store.GetInvoiceSummary(ctx, scope.OrgID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, errors.New("no invoice summary for this organization")
			}
			return nil, fmt.Errorf("get invoice summary: %w", err)
		}
		return summary, nil
	}
}
