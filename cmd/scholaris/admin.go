package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/scholaris/scholaris/internal/adapter/postgres"
	"github.com/scholaris/scholaris/internal/config"
	"github.com/scholaris/scholaris/internal/domain/quota"
	"github.com/scholaris/scholaris/internal/middleware"
	"github.com/scholaris/scholaris/internal/service"
)

// runAdmin dispatches admin subcommands (create-key, list-keys, allocate,
// migrate-status).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "create-key":
		return runAdminCreateKey(args[1:])
	case "list-keys":
		return runAdminListKeys(args[1:])
	case "allocate":
		return runAdminAllocate(args[1:])
	case "migrate-status":
		return runAdminMigrateStatus(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: scholaris admin <command> [options]

Commands:
  create-key       Create an API key for an organization
  list-keys        List an organization's API keys
  allocate         Set a quota allocation for a scope
  migrate-status   Show the current database migration version
  help             Show this help message

Examples:
  scholaris admin create-key --org 7f3a... --name dashboard
  scholaris admin list-keys --org 7f3a...
  scholaris admin allocate --scope p-101 --feature assistant.chat --limit 500
  scholaris admin allocate --scope 7f3a... --scope-type organization --feature assistant.voice --limit 100 --priority high
  scholaris admin migrate-status
`)
}

type adminDeps struct {
	cfg     *config.Config
	store   *postgres.Store
	cleanup func()
}

func loadAdminDeps() (*adminDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &adminDeps{
		cfg:     cfg,
		store:   postgres.NewStore(pool),
		cleanup: pool.Close,
	}, nil
}

func runAdminCreateKey(args []string) error {
	fs := flag.NewFlagSet("create-key", flag.ContinueOnError)
	org := fs.String("org", middleware.DefaultOrgID, "organization ID")
	name := fs.String("name", "", "key label (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	deps, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer deps.cleanup()

	authSvc := service.NewAuthService(deps.store, &deps.cfg.Auth)

	plaintext, key, err := authSvc.CreateAPIKey(context.Background(), *org, *name)
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	fmt.Fprintf(os.Stderr, "API key created: %s (id=%s)\n", key.Name, key.ID)
	fmt.Fprintln(os.Stderr, "The key is shown once and cannot be recovered:")
	fmt.Println(plaintext)
	return nil
}

func runAdminListKeys(args []string) error {
	fs := flag.NewFlagSet("list-keys", flag.ContinueOnError)
	org := fs.String("org", middleware.DefaultOrgID, "organization ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	deps, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer deps.cleanup()

	authSvc := service.NewAuthService(deps.store, &deps.cfg.Auth)

	keys, err := authSvc.ListAPIKeys(context.Background(), *org)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPREFIX\tCREATED\tDISABLED")
	for i := range keys {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
			keys[i].ID, keys[i].Name, keys[i].Prefix, keys[i].CreatedAt.Format("2006-01-02 15:04"), keys[i].Disabled)
	}
	return w.Flush()
}

func runAdminAllocate(args []string) error {
	fs := flag.NewFlagSet("allocate", flag.ContinueOnError)
	scope := fs.String("scope", "", "scope ID, a principal or organization (required)")
	scopeType := fs.String("scope-type", string(quota.ScopePrincipal), "scope type: principal or organization")
	feature := fs.String("feature", "", "feature key, e.g. assistant.chat (required)")
	limit := fs.Int64("limit", 0, "allocation limit for the current period (required)")
	priority := fs.String("priority", string(quota.PriorityNormal), "priority: low, normal or high")
	autoRenew := fs.Bool("auto-renew", false, "re-provision the allocation each period")
	reason := fs.String("reason", "admin allocation", "audit reason")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *scope == "" {
		return fmt.Errorf("--scope is required")
	}
	if *feature == "" {
		return fmt.Errorf("--feature is required")
	}
	if *limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	deps, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer deps.cleanup()

	// Admin allocation writes skip the cache and event fan-out; running
	// instances converge when their cached check views expire.
	quotaSvc := service.NewQuotaService(deps.store, nil, nil, nil, deps.cfg.Quota)

	alloc, err := quotaSvc.Allocate(context.Background(), "admin-cli", quota.AllocateInput{
		ScopeType: quota.ScopeType(*scopeType),
		ScopeID:   *scope,
		Feature:   quota.Feature(*feature),
		Limit:     *limit,
		Priority:  quota.Priority(*priority),
		AutoRenew: *autoRenew,
		Reason:    *reason,
	})
	if err != nil {
		return fmt.Errorf("allocate: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Allocated %s=%d for %s (period %s to %s, priority %s)\n",
		alloc.Feature, alloc.Limit, alloc.ScopeID,
		alloc.PeriodStart.Format("2006-01-02"), alloc.PeriodEnd.Format("2006-01-02"), alloc.Priority)
	return nil
}

func runAdminMigrateStatus(args []string) error {
	fs := flag.NewFlagSet("migrate-status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	version, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}

	fmt.Printf("Current migration version: %d\n", version)
	return nil
}
