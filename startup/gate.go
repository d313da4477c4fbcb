// Package startup implements StartupGate (C12, spec.md §4.10): validates
// configuration and the production-readiness debt registry before any
// component starts, and is the single place every long-lived component's
// Start (which rebuilds its own in-memory index from persisted state) is
// invoked in dependency order.
package startup

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexherrero/tradecore/config"
)

// DebtFlag names one entry in the in-code production-readiness debt
// registry (spec.md §4.10: "a static table of named boolean gates").
// Unlike config.Config's env-driven settings, these are compiled into the
// binary — they record which pieces of this rewrite are actually done,
// not anything an operator can override.
type DebtFlag struct {
	Name string
	Done bool
}

// DebtRegistry is the compiled-in list of gates RELEASE_READINESS=PROD_READY
// requires all true. Flip an entry to true only once the corresponding
// component has real, tested behavior — not when it merely compiles.
var DebtRegistry = []DebtFlag{
	{Name: "ORDER_EXECUTION_IMPLEMENTED", Done: true},
	{Name: "BROKER_RECONCILIATION_RUNNING", Done: true},
	{Name: "TICK_DEDUPLICATION_ACTIVE", Done: true},
	{Name: "EXIT_PIPELINE_IMPLEMENTED", Done: true},
	{Name: "SESSION_REFRESH_ACTIVE", Done: true},
}

// unresolvedDebt returns the names of every DebtRegistry entry still false.
func unresolvedDebt() []string {
	var names []string
	for _, f := range DebtRegistry {
		if !f.Done {
			names = append(names, f.Name)
		}
	}
	return names
}

// Starter is any component whose Start rebuilds in-memory state from
// persistent storage and must run before the process accepts ticks
// (order.Coordinator, signal.Coordinator, execution.Orchestrator, ...).
type Starter interface {
	Start(ctx context.Context) error
}

// starterFunc adapts a component whose Start cannot fail (e.g. one that
// only launches an actor pool) to the Starter interface.
type starterFunc func(ctx context.Context)

func (f starterFunc) Start(ctx context.Context) error {
	f(ctx)
	return nil
}

// AsStarter lifts a no-error Start method into a Starter.
func AsStarter(start func(ctx context.Context)) Starter {
	return starterFunc(start)
}

// Gate runs before any component starts. Run fails the process (per
// spec.md §4.10) if cfg fails validation, or if cfg.ReleaseReadiness is
// PROD_READY and any DebtRegistry entry is unresolved. On success it
// starts every component in components, in the given (leaves-first)
// order, stopping at the first failure.
type Gate struct {
	cfg *config.Config
}

// NewGate builds a Gate for an already-loaded config.
func NewGate(cfg *config.Config) *Gate {
	return &Gate{cfg: cfg}
}

// Run validates cfg and the debt registry, then starts components in
// order. It returns the first error encountered; components started
// before the failing one are left running (the caller's process is about
// to exit anyway).
func (g *Gate) Run(ctx context.Context, components ...Starter) error {
	if err := g.cfg.Validate(); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	if g.cfg.ReleaseReadiness == config.ReadinessProdReady {
		if unresolved := unresolvedDebt(); len(unresolved) > 0 {
			return fmt.Errorf("startup: RELEASE_READINESS=PROD_READY but debt registry has unresolved flags: %s",
				strings.Join(unresolved, ", "))
		}
	}
	for i, c := range components {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("startup: component %d failed to start: %w", i, err)
		}
	}
	return nil
}
