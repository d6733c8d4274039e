// Package automation provides the rule engine for Hearth Core.
//
// An automation couples triggers (when to wake up), conditions (whether to
// act), and actions (what to do). The package owns the full pipeline from
// an incoming event to resolved device commands: trigger matching,
// condition evaluation, cross-automation conflict resolution, and gated
// execution with full audit history.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────────┐
//	│                         Automation Engine                             │
//	│                                                                       │
//	│  ┌───────────────┐   ┌───────────────┐   ┌────────────────────────┐  │
//	│  │TriggerRegistry│   │   Evaluator   │   │        Resolver        │  │
//	│  │ (triggers.go) │──▶│ (evaluator.go)│──▶│      (conflict.go)     │  │
//	│  │               │   │               │   │                        │  │
//	│  │ • Event subs  │   │ • Left-fold   │   │ • Device grouping      │  │
//	│  │ • Cron sched  │   │   and/or      │   │ • Severity grading     │  │
//	│  └───────────────┘   │ • Expressions │   │ • 5 strategies         │  │
//	│          ▲           └───────────────┘   └────────────────────────┘  │
//	│          │                                           │               │
//	│  ┌───────────────┐   ┌───────────────┐   ┌────────────────────────┐  │
//	│  │   Registry    │   │  Repository   │   │      Orchestrator      │  │
//	│  │ (registry.go) │──▶│(repository.go)│◀──│      (executor.go)     │  │
//	│  │               │   │               │   │                        │  │
//	│  │ • CRUD + cache│   │ • SQLite rows │   │ • Mode/cooldown gates  │  │
//	│  │ • Statistics  │   │ • JSON blobs  │   │ • Sequential actions   │  │
//	│  └───────────────┘   └───────────────┘   └────────────────────────┘  │
//	└───────────────────────────────────────────────────────────────────────┘
//
// The Engine (engine.go) is the facade over all of the above: it receives
// events, fans them out to subscribed automations in isolation, runs the
// resolved action sets concurrently, records desired state into the device
// shadow store, and publishes lifecycle events on the bus.
//
// # Key Types
//
//   - Automation: the rule entity (triggers, conditions, actions, mode,
//     priority, cooldown, statistics)
//   - Trigger / Condition / Action: the three rule clauses
//   - AutomationExecution: one audited run with per-action outcomes
//   - Conflict / ConflictResolution: a detected clash and how it was settled
//   - Engine: the dispatch facade wiring all components together
//
// # Conflict Resolution
//
// When one dispatch cycle leaves multiple automations targeting the same
// device, the Resolver grades severity from the priority spread and applies
// the most urgent automation's strategy: priority (lowest number wins),
// merge (commands synthesised, numeric parameters averaged), cancel (all
// dropped), user_prompt (actions withheld until an external caller picks a
// winner), or manual.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db)
//	triggers := automation.NewTriggerRegistry(nil)
//	registry := automation.NewRegistry(repo, triggers)
//	resolver := automation.NewResolver(repo)
//	orchestrator := automation.NewOrchestrator(repo, dispatchers, registry)
//	engine := automation.NewEngine(registry, triggers, automation.NewEvaluator(), resolver, orchestrator, repo)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	triggers.Start()
//
//	// Feed events in (usually from the MQTT subscriber).
//	engine.Dispatch(ctx, automation.TriggerDevice, "device-uuid", payload)
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Registry lookups return
// deep copies, so cached automations can never be mutated through a caller.
// Execution gates (single-mode dedupe, max executions, cooldown) are
// check-and-set under one mutex, so racing triggers cannot both pass.
//
// # Related Documentation
//
//   - migrations/20260815_100000_initial_schema.up.sql — Database schema
package automation
