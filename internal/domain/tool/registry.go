package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/scholaris/scholaris/internal/domain"
)

// ErrNotFoundMessage is the error string placed in the Result envelope when
// a tool name has no registration.
const ErrNotFoundMessage = "tool not found"

// Registry holds named tools and executes them behind a failure boundary.
// Lookup is O(1) by name. A weighted semaphore bounds how many executions
// run concurrently across all conversations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	sem   *semaphore.Weighted
}

// NewRegistry creates an empty registry. maxConcurrent bounds simultaneous
// executions; values below 1 fall back to 1.
func NewRegistry(maxConcurrent int) *Registry {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Registry{
		tools: make(map[string]Tool),
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Register adds a tool. A duplicate name fails with domain.ErrConflict
// rather than silently overwriting the earlier registration.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if t.Execute == nil {
		return fmt.Errorf("register tool %q: executor is required", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("register tool %q: %w", t.Name, domain.ErrConflict)
	}
	r.tools[t.Name] = t
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the model-facing view of every registered tool.
// Executor internals are never included.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, Spec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return specs
}

// Execute looks up and runs the named tool. An unknown name, an executor
// error, and an executor panic all resolve into the Result envelope; this
// method never returns a raw failure to the caller.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	t, ok := r.Get(name)
	if !ok {
		return Result{Success: false, Error: ErrNotFoundMessage}
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("execute %s: %v", name, err)}
	}
	defer r.sem.Release(1)

	return runSafely(ctx, t, args)
}

// runSafely invokes the executor and converts panics into envelope errors.
func runSafely(ctx context.Context, t Tool, args map[string]any) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool executor panicked", "tool", t.Name, "panic", rec)
			res = Result{Success: false, Error: fmt.Sprintf("tool %s: internal error", t.Name)}
		}
	}()

	val, err := t.Execute(ctx, args)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Value: val}
}
