package automation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// defaultCooldownTTL is applied when an automation sets no cooldownPeriod.
// Cooldown stamps self-expire after this window so stale timers cannot
// throttle an automation forever.
const defaultCooldownTTL = 3600 * time.Second

// DeviceCommander sends a command to a device.
type DeviceCommander interface {
	SendCommand(ctx context.Context, deviceID, command string, parameters map[string]any) error
}

// ActionDispatcher executes a single action against an external collaborator
// (scene activator, notification sender, webhook caller, script runner).
type ActionDispatcher interface {
	Execute(ctx context.Context, target string, parameters map[string]any) error
}

// Dispatchers bundles the collaborator interfaces actions dispatch to.
// Nil entries cause actions of that type to fail with a dispatch error.
type Dispatchers struct {
	Device       DeviceCommander
	Scene        ActionDispatcher
	Notification ActionDispatcher
	Webhook      ActionDispatcher
	Script       ActionDispatcher
}

// StatisticsSink receives execution outcomes for statistics accounting.
// Implemented by the Registry, which updates both cache and persistence.
type StatisticsSink interface {
	RecordExecution(ctx context.Context, automationID string, success bool, at time.Time) error
}

// ExecutionRecorder receives execution metrics for time-series recording.
// Satisfied by the influxdb client; may be nil.
type ExecutionRecorder interface {
	WriteExecutionMetric(automationID string, success bool, durationMS float64)
}

// cooldownStamp is the last-execution record for one automation.
type cooldownStamp struct {
	at      time.Time
	expires time.Time
}

// Orchestrator runs resolved action sets while enforcing execution mode,
// max-execution limits and cooldown throttling.
//
// Different automations execute concurrently; within one execution, actions
// run strictly sequentially in declaration order.
//
// Thread Safety: Execute is safe for concurrent use.
type Orchestrator struct {
	repo        Repository
	dispatchers Dispatchers
	stats       StatisticsSink
	logger      Logger
	recorder    ExecutionRecorder
	cooldownTTL time.Duration

	// mu guards the running claims and cooldown stamps. Both gates are
	// check-and-set under the same lock so two concurrent triggers can
	// never both pass.
	mu        sync.Mutex
	running   map[string]*AutomationExecution
	cooldowns map[string]cooldownStamp
}

// NewOrchestrator creates an execution orchestrator.
func NewOrchestrator(repo Repository, dispatchers Dispatchers, stats StatisticsSink) *Orchestrator {
	return &Orchestrator{
		repo:        repo,
		dispatchers: dispatchers,
		stats:       stats,
		logger:      noopLogger{},
		cooldownTTL: defaultCooldownTTL,
		running:     make(map[string]*AutomationExecution),
		cooldowns:   make(map[string]cooldownStamp),
	}
}

// SetLogger sets the logger for the orchestrator.
func (o *Orchestrator) SetLogger(logger Logger) {
	if logger != nil {
		o.logger = logger
	}
}

// SetRecorder wires a time-series recorder for execution metrics.
func (o *Orchestrator) SetRecorder(recorder ExecutionRecorder) {
	o.recorder = recorder
}

// SetDefaultCooldownTTL overrides the cooldown expiry applied to
// automations that set no cooldownPeriod of their own.
func (o *Orchestrator) SetDefaultCooldownTTL(ttl time.Duration) {
	if ttl > 0 {
		o.mu.Lock()
		o.cooldownTTL = ttl
		o.mu.Unlock()
	}
}

// Execute runs an automation's resolved actions.
//
// Gate order: execution mode dedupe (single), enabled, maxExecutions,
// cooldown. A cooldown hit is a routine throttling no-op, not an error:
// Execute returns (nil, nil). Single-mode dedupe returns the already
// running execution unchanged.
//
// On completion both success and failure paths bump executionCount, update
// lastExecuted via the statistics sink, and refresh the cooldown stamp.
func (o *Orchestrator) Execute(ctx context.Context, a *Automation, triggeredBy string, actions []Action) (*AutomationExecution, error) {
	// Mode gate: single-mode is an atomic claim, not a read-then-write.
	o.mu.Lock()
	if a.Mode == ModeSingle {
		if existing, ok := o.running[a.ID]; ok {
			o.mu.Unlock()
			o.logger.Debug("single-mode execution deduped", "automation_id", a.ID)
			return existing, nil
		}
	}

	// Enabled gate.
	if !a.Enabled {
		o.mu.Unlock()
		return nil, ErrAutomationDisabled
	}

	// Max-executions gate.
	if a.MaxExecutions != nil && a.Statistics.ExecutionCount >= *a.MaxExecutions {
		o.mu.Unlock()
		return nil, ErrMaxExecutions
	}

	// Cooldown gate: check-and-set under the lock.
	now := time.Now().UTC()
	if stamp, ok := o.cooldowns[a.ID]; ok {
		if now.After(stamp.expires) {
			delete(o.cooldowns, a.ID)
		} else if a.CooldownPeriod != nil {
			window := time.Duration(*a.CooldownPeriod) * time.Second
			if now.Sub(stamp.at) < window {
				o.mu.Unlock()
				o.logger.Debug("execution skipped by cooldown",
					"automation_id", a.ID,
					"last_executed", stamp.at,
				)
				return nil, nil
			}
		}
	}
	o.stampCooldown(a, now)

	exec := &AutomationExecution{
		ID:           GenerateID(),
		AutomationID: a.ID,
		TriggeredBy:  triggeredBy,
		Status:       StatusRunning,
		Actions:      make([]ActionExecution, len(actions)),
		StartedAt:    now,
	}
	for i, action := range actions {
		exec.Actions[i] = ActionExecution{ActionID: action.ID, Status: ActionPending}
	}
	o.running[a.ID] = exec
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.running[a.ID] == exec {
			delete(o.running, a.ID)
		}
		o.mu.Unlock()
	}()

	if err := o.repo.CreateExecution(ctx, exec); err != nil {
		o.logger.Error("failed to create execution record", "error", err)
		// Execution proceeds; the run matters more than its audit row.
	}

	runErr := o.runActions(ctx, a, exec, actions)
	o.finalize(ctx, a, exec, runErr)

	return exec, runErr
}

// runActions executes actions strictly sequentially in declaration order.
// The first dispatch failure aborts the remainder (fail-fast); disabled
// actions are skipped, not failed.
func (o *Orchestrator) runActions(ctx context.Context, a *Automation, exec *AutomationExecution, actions []Action) error {
	for i, action := range actions {
		if !action.Enabled {
			exec.Actions[i].Status = ActionSkipped
			continue
		}

		started := time.Now().UTC()
		exec.Actions[i].Status = ActionRunning
		exec.Actions[i].StartedAt = &started

		if err := o.runAction(ctx, action); err != nil {
			wrapped := &ActionExecutionError{
				ActionID:   action.ID,
				ActionType: action.Type,
				Err:        err,
			}
			completed := time.Now().UTC()
			msg := wrapped.Error()
			exec.Actions[i].Status = ActionFailed
			exec.Actions[i].CompletedAt = &completed
			exec.Actions[i].Error = &msg

			// Fail-fast: the remaining actions are never attempted.
			for j := i + 1; j < len(exec.Actions); j++ {
				exec.Actions[j].Status = ActionSkipped
			}

			o.logger.Warn("action failed, aborting execution",
				"automation_id", a.ID,
				"execution_id", exec.ID,
				"action_id", action.ID,
				"error", err,
			)
			return wrapped
		}

		completed := time.Now().UTC()
		exec.Actions[i].Status = ActionCompleted
		exec.Actions[i].CompletedAt = &completed
	}
	return nil
}

// runAction dispatches a single action after honoring its delay.
func (o *Orchestrator) runAction(ctx context.Context, action Action) error {
	if action.DelayMS != nil && *action.DelayMS > 0 {
		if err := sleepCtx(ctx, time.Duration(*action.DelayMS)*time.Millisecond); err != nil {
			return err
		}
	}

	switch action.Type {
	case ActionDevice:
		if o.dispatchers.Device == nil {
			return fmt.Errorf("no device dispatcher configured")
		}
		return o.dispatchers.Device.SendCommand(ctx, action.Target, action.Command, action.Parameters)
	case ActionScene:
		return dispatch(ctx, o.dispatchers.Scene, "scene", action)
	case ActionNotification:
		return dispatch(ctx, o.dispatchers.Notification, "notification", action)
	case ActionWebhook:
		return dispatch(ctx, o.dispatchers.Webhook, "webhook", action)
	case ActionScript:
		return dispatch(ctx, o.dispatchers.Script, "script", action)
	case ActionDelay:
		return sleepCtx(ctx, delayDuration(action))
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// finalize closes the execution record, updates statistics, and refreshes
// the cooldown stamp. Both success and failure paths run through here.
func (o *Orchestrator) finalize(ctx context.Context, a *Automation, exec *AutomationExecution, runErr error) {
	completed := time.Now().UTC()
	exec.CompletedAt = &completed

	if runErr != nil {
		exec.Status = StatusFailed
		msg := runErr.Error()
		exec.Error = &msg
	} else {
		exec.Status = StatusCompleted
	}

	o.mu.Lock()
	o.stampCooldown(a, completed)
	o.mu.Unlock()

	if err := o.repo.UpdateExecution(ctx, exec); err != nil {
		o.logger.Error("failed to update execution record",
			"execution_id", exec.ID,
			"error", err,
		)
	}

	if o.stats != nil {
		if err := o.stats.RecordExecution(ctx, a.ID, runErr == nil, completed); err != nil {
			o.logger.Error("failed to record execution statistics",
				"automation_id", a.ID,
				"error", err,
			)
		}
	}

	durationMS := float64(completed.Sub(exec.StartedAt).Milliseconds())
	if o.recorder != nil {
		o.recorder.WriteExecutionMetric(a.ID, runErr == nil, durationMS)
	}

	o.logger.Info("execution finished",
		"automation_id", a.ID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"duration_ms", durationMS,
	)
}

// stampCooldown refreshes the last-execution stamp with the automation's
// cooldown TTL (default when unset). Caller must hold o.mu.
func (o *Orchestrator) stampCooldown(a *Automation, at time.Time) {
	ttl := o.cooldownTTL
	if a.CooldownPeriod != nil {
		ttl = time.Duration(*a.CooldownPeriod) * time.Second
	}
	o.cooldowns[a.ID] = cooldownStamp{at: at, expires: at.Add(ttl)}
}

// RunningCount returns the number of currently running executions.
func (o *Orchestrator) RunningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// dispatch routes an action to a generic collaborator.
func dispatch(ctx context.Context, d ActionDispatcher, kind string, action Action) error {
	if d == nil {
		return fmt.Errorf("no %s dispatcher configured", kind)
	}
	return d.Execute(ctx, action.Target, action.Parameters)
}

// delayDuration resolves the sleep for a standalone delay action.
func delayDuration(action Action) time.Duration {
	if ms, ok := toNumber(action.Parameters["duration_ms"]); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
