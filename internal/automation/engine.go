package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hearthd/hearth-core/internal/shadow"
)

// Engine event names published on the event bus.
const (
	EventConflictDetected  = "conflict.detected"
	EventConflictResolved  = "conflict.resolved"
	EventConflictUserInput = "conflict.user_input_required"
	EventExecutionStarted  = "execution.started"
	EventExecutionComplete = "execution.completed"
	EventExecutionFailed   = "execution.failed"
)

// maxDispatchTime is the hard limit for one dispatch cycle, including every
// triggered automation's execution. Prevents goroutine accumulation from
// runaway action lists.
const maxDispatchTime = 60 * time.Second

// DeviceStateSource provides current device attributes for condition
// evaluation.
type DeviceStateSource interface {
	GetDeviceState(ctx context.Context, deviceID string) (map[string]any, error)
}

// WeatherSource provides the current weather snapshot for a home.
type WeatherSource interface {
	CurrentWeather(ctx context.Context, homeID string) (*WeatherState, error)
}

// EventPublisher receives engine lifecycle events.
// Implemented by the bus package.
type EventPublisher interface {
	Publish(topic string, payload any)
}

// ShadowStore is the engine's view of the device shadow store: executed
// device commands record their intent as desired state.
type ShadowStore interface {
	UpdateDesired(deviceID string, partial map[string]any) *shadow.Shadow
	Get(deviceID string) *shadow.Shadow
}

// pendingConflict holds the actions withheld by a user_prompt conflict,
// keyed by automation ID, until an external caller resolves it. deviceID
// identifies the contended device so sibling conflicts over the same
// device release together.
type pendingConflict struct {
	deviceID string
	actions  map[string][]Action
}

// Engine is the automation rule engine facade.
//
// It wires the trigger registry, condition evaluator, conflict resolver,
// execution orchestrator, and device shadow store into one dispatch
// pipeline: event in, resolved device commands out.
//
// Thread Safety: Dispatch and TriggerAutomation are safe for concurrent use.
// Per-automation failures during dispatch are isolated: one broken
// automation never halts dispatch to the others.
type Engine struct {
	registry     *Registry
	triggers     *TriggerRegistry
	evaluator    *Evaluator
	resolver     *Resolver
	orchestrator *Orchestrator
	repo         Repository

	shadows ShadowStore
	devices DeviceStateSource
	weather WeatherSource
	events  EventPublisher
	logger  Logger

	pendingMu sync.Mutex
	pending   map[string]pendingConflict
}

// NewEngine creates the automation engine and wires the trigger registry's
// scheduled fires back into it.
//
// devices, weather, shadows and events may be nil; the corresponding
// behaviour degrades gracefully (conditions on missing context evaluate
// false, events go unpublished).
func NewEngine(
	registry *Registry,
	triggers *TriggerRegistry,
	evaluator *Evaluator,
	resolver *Resolver,
	orchestrator *Orchestrator,
	repo Repository,
) *Engine {
	e := &Engine{
		registry:     registry,
		triggers:     triggers,
		evaluator:    evaluator,
		resolver:     resolver,
		orchestrator: orchestrator,
		repo:         repo,
		logger:       noopLogger{},
		pending:      make(map[string]pendingConflict),
	}
	triggers.SetFireFunc(e.onScheduledFire)
	return e
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetShadows wires the device shadow store.
func (e *Engine) SetShadows(shadows ShadowStore) { e.shadows = shadows }

// SetDeviceStateSource wires the device state collaborator.
func (e *Engine) SetDeviceStateSource(devices DeviceStateSource) { e.devices = devices }

// SetWeatherSource wires the weather collaborator.
func (e *Engine) SetWeatherSource(weather WeatherSource) { e.weather = weather }

// SetEventPublisher wires the lifecycle event bus.
func (e *Engine) SetEventPublisher(events EventPublisher) { e.events = events }

// RegisterAutomation validates, persists, and activates an automation.
func (e *Engine) RegisterAutomation(ctx context.Context, a *Automation) error {
	return e.registry.Create(ctx, a)
}

// UnregisterAutomation removes an automation and all its subscriptions.
func (e *Engine) UnregisterAutomation(ctx context.Context, id string) error {
	return e.registry.Delete(ctx, id)
}

// GetExecutionHistory returns an automation's recent executions, newest first.
func (e *Engine) GetExecutionHistory(ctx context.Context, automationID string, limit int) ([]AutomationExecution, error) {
	if _, err := e.registry.Get(ctx, automationID); err != nil {
		return nil, err
	}
	return e.repo.ListExecutions(ctx, automationID, limit)
}

// HandleMessage adapts MQTT event messages into Dispatch calls.
// Topic layout: hearth/event/{type}/{key} with a JSON object payload.
func (e *Engine) HandleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[1] != "event" {
		return fmt.Errorf("unexpected event topic %q", topic)
	}

	var body map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("decoding event payload: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), maxDispatchTime)
	defer cancel()
	e.Dispatch(ctx, TriggerType(parts[2]), parts[3], body)
	return nil
}

// Dispatch fans an external event out to every subscribed automation.
//
// For each subscriber, in isolation: skip disabled automations, match the
// firing trigger, evaluate conditions against a fresh context snapshot.
// The survivors form one dispatch cycle: conflicts are detected and
// resolved across the batch, then each automation's final action set
// executes concurrently with the others.
func (e *Engine) Dispatch(ctx context.Context, eventType TriggerType, key string, payload map[string]any) {
	subscriberIDs := e.triggers.Subscribers(eventType, key)
	if len(subscriberIDs) == 0 {
		return
	}

	e.logger.Debug("dispatching event",
		"type", eventType,
		"key", key,
		"subscribers", len(subscriberIDs),
	)

	var candidates []Candidate
	for _, id := range subscriberIDs {
		cand, ok := e.evaluateSubscriber(ctx, id, eventType, key)
		if ok {
			candidates = append(candidates, cand)
		}
	}
	if len(candidates) == 0 {
		return
	}

	result := e.resolver.Resolve(ctx, candidates)
	e.publishConflictEvents(result)
	e.stashPending(result, candidates)

	source := fmt.Sprintf("%s:%s", eventType, key)

	cancelled := make(map[string]struct{}, len(result.Cancelled))
	for _, id := range result.Cancelled {
		cancelled[id] = struct{}{}
	}

	// Different automations execute concurrently; each execution's actions
	// stay strictly sequential inside the orchestrator.
	var wg sync.WaitGroup
	for _, cand := range candidates {
		actions := result.Actions[cand.Automation.ID]
		if len(actions) == 0 {
			// Cancel participants still run an empty execution so the
			// trigger is recorded in their statistics; everything else
			// with no surviving actions is skipped outright.
			if _, ok := cancelled[cand.Automation.ID]; !ok {
				continue
			}
		}
		wg.Add(1)
		go func(a *Automation, acts []Action) {
			defer wg.Done()
			e.execute(ctx, a, source, acts)
		}(cand.Automation, actions)
	}
	wg.Wait()
}

// TriggerAutomation manually fires an automation, bypassing trigger
// matching and conflict detection (a manual fire is its own cycle).
// Manually triggering a disabled automation is an error.
func (e *Engine) TriggerAutomation(ctx context.Context, id, source string) (*AutomationExecution, error) {
	a, err := e.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Enabled {
		return nil, ErrAutomationDisabled
	}

	if !e.evaluator.Evaluate(a.Conditions, e.buildContext(ctx, a)) {
		e.logger.Debug("manual trigger conditions not met", "automation_id", id)
		return nil, nil
	}

	return e.execute(ctx, a, source, a.Actions), nil
}

// ResolveConflictManually settles a user_prompt conflict with an explicit
// winner and executes that automation's withheld actions.
func (e *Engine) ResolveConflictManually(ctx context.Context, conflictID, selectedRuleID string) (*Conflict, error) {
	conflict, err := e.resolver.ResolveManually(ctx, conflictID, selectedRuleID)
	if err != nil {
		return nil, err
	}

	e.publish(EventConflictResolved, map[string]any{
		"conflict_id":   conflict.ID,
		"strategy":      string(StrategyManual),
		"selected_rule": selectedRuleID,
	})

	e.pendingMu.Lock()
	held, ok := e.pending[conflictID]
	delete(e.pending, conflictID)
	if ok {
		// Sibling conflicts over the same device (device pass + state pass
		// firing together) hold the same withheld actions; release them all
		// so a second manual resolution cannot re-run the commands.
		for id, p := range e.pending {
			if p.deviceID == held.deviceID {
				delete(e.pending, id)
			}
		}
	}
	e.pendingMu.Unlock()

	if !ok {
		return conflict, nil
	}

	actions := held.actions[selectedRuleID]
	if len(actions) == 0 {
		return conflict, nil
	}

	a, err := e.registry.Get(ctx, selectedRuleID)
	if err != nil {
		return conflict, nil
	}
	e.execute(ctx, a, "conflict:"+conflictID, actions)

	return conflict, nil
}

// ConflictStatistics returns aggregate conflict history.
func (e *Engine) ConflictStatistics(ctx context.Context) (*ConflictStatistics, error) {
	return e.resolver.Statistics(ctx)
}

// ─── Internal ───────────────────────────────────────────────────────────────

// onScheduledFire handles a cron time trigger. A scheduled fire is its own
// dispatch cycle with a single automation, so no cross-conflicts arise.
func (e *Engine) onScheduledFire(automationID, triggerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), maxDispatchTime)
	defer cancel()

	a, err := e.registry.Get(ctx, automationID)
	if err != nil {
		e.logger.Warn("scheduled trigger for unknown automation",
			"automation_id", automationID,
		)
		return
	}
	if !a.Enabled {
		return
	}

	if !e.evaluator.Evaluate(a.Conditions, e.buildContext(ctx, a)) {
		return
	}

	e.execute(ctx, a, "schedule:"+triggerID, a.Actions)
}

// evaluateSubscriber runs trigger matching and condition evaluation for one
// subscriber. Failures are isolated: a panic or error here is logged and
// the subscriber simply produces no candidate.
func (e *Engine) evaluateSubscriber(ctx context.Context, id string, eventType TriggerType, key string) (cand Candidate, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("automation evaluation panic recovered",
				"automation_id", id,
				"panic", r,
			)
			ok = false
		}
	}()

	a, err := e.registry.Get(ctx, id)
	if err != nil {
		e.logger.Warn("subscribed automation missing from registry", "automation_id", id)
		return Candidate{}, false
	}
	if !a.Enabled {
		return Candidate{}, false
	}

	if !matchTrigger(a, eventType, key) {
		// No matching trigger is a no-op, not an error.
		return Candidate{}, false
	}

	if !e.evaluator.Evaluate(a.Conditions, e.buildContext(ctx, a)) {
		return Candidate{}, false
	}

	return Candidate{Automation: a, Actions: a.Actions}, true
}

// matchTrigger finds the first enabled trigger of the event's type. Device
// events additionally require the trigger's configured deviceId to equal
// the event key.
func matchTrigger(a *Automation, eventType TriggerType, key string) bool {
	for _, t := range a.Triggers {
		if !t.Enabled || t.Type != eventType {
			continue
		}
		if eventType == TriggerDevice {
			deviceID, _ := t.Config["deviceId"].(string)
			if deviceID != key {
				continue
			}
		}
		return true
	}
	return false
}

// buildContext snapshots the world state an automation's conditions need.
// Collaborator failures leave the context partially empty; the affected
// conditions then evaluate false.
func (e *Engine) buildContext(ctx context.Context, a *Automation) EvalContext {
	evalCtx := EvalContext{
		DeviceStates: make(map[string]map[string]any),
		Now:          time.Now(),
	}

	if e.devices != nil {
		for _, deviceID := range conditionDeviceIDs(a.Conditions) {
			state, err := e.devices.GetDeviceState(ctx, deviceID)
			if err != nil {
				e.logger.Debug("device state unavailable",
					"device_id", deviceID,
					"error", err,
				)
				continue
			}
			evalCtx.DeviceStates[deviceID] = state
		}
	}

	if e.weather != nil && needsWeather(a.Conditions) {
		weather, err := e.weather.CurrentWeather(ctx, a.HomeID)
		if err != nil {
			e.logger.Debug("weather unavailable", "home_id", a.HomeID, "error", err)
		} else {
			evalCtx.Weather = weather
		}
	}

	return evalCtx
}

// conditionDeviceIDs collects the device IDs referenced by device and
// custom conditions.
func conditionDeviceIDs(conditions []Condition) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, c := range conditions {
		switch c.Type {
		case ConditionDevice:
			if id, ok := c.Config["deviceId"].(string); ok && id != "" {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		case ConditionCustom:
			for _, id := range expressionDeviceIDs(c.Config) {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

// expressionDeviceIDs extracts device IDs referenced as device.<id>.<attr>
// paths in a custom condition expression.
func expressionDeviceIDs(config map[string]any) []string {
	expr, _ := config["expression"].(string)
	var ids []string
	for _, tok := range tokenize(expr) {
		if !strings.HasPrefix(tok, "device.") {
			continue
		}
		segments := strings.Split(tok, ".")
		if len(segments) >= 3 {
			ids = append(ids, segments[1])
		}
	}
	return ids
}

// needsWeather reports whether any condition reads weather context.
func needsWeather(conditions []Condition) bool {
	for _, c := range conditions {
		if c.Type == ConditionWeather {
			return true
		}
		if c.Type == ConditionCustom {
			expr, _ := c.Config["expression"].(string)
			if strings.Contains(expr, "weather.") {
				return true
			}
		}
	}
	return false
}

// execute runs one automation through the orchestrator, publishes lifecycle
// events, and records desired state for completed device actions.
func (e *Engine) execute(ctx context.Context, a *Automation, source string, actions []Action) *AutomationExecution {
	exec, err := e.orchestrator.Execute(ctx, a, source, actions)
	if exec == nil && err == nil {
		// Cooldown skip or nothing to do.
		return nil
	}
	if err != nil {
		e.logger.Warn("execution failed",
			"automation_id", a.ID,
			"source", source,
			"error", err,
		)
		if exec != nil {
			e.publish(EventExecutionFailed, executionEvent(exec))
		}
		return exec
	}

	e.publish(EventExecutionStarted, executionEvent(exec))
	if exec.Status == StatusCompleted {
		e.publish(EventExecutionComplete, executionEvent(exec))
		e.recordDesiredState(actions, exec)
	} else if exec.Status == StatusFailed {
		e.publish(EventExecutionFailed, executionEvent(exec))
	}
	return exec
}

// recordDesiredState writes executed device commands into the shadow store
// as desired state.
func (e *Engine) recordDesiredState(actions []Action, exec *AutomationExecution) {
	if e.shadows == nil {
		return
	}
	for i, action := range actions {
		if action.Type != ActionDevice || len(action.Parameters) == 0 {
			continue
		}
		if i < len(exec.Actions) && exec.Actions[i].Status != ActionCompleted {
			continue
		}
		e.shadows.UpdateDesired(action.Target, action.Parameters)
	}
}

// publishConflictEvents emits detection and resolution events for a cycle.
func (e *Engine) publishConflictEvents(result *ResolutionResult) {
	for i := range result.Conflicts {
		c := &result.Conflicts[i]
		e.publish(EventConflictDetected, conflictEvent(c))
		if c.Resolved && c.Resolution != nil {
			e.publish(EventConflictResolved, map[string]any{
				"conflict_id": c.ID,
				"strategy":    string(c.Resolution.Strategy),
			})
		}
	}
	for _, id := range result.AwaitingInput {
		e.publish(EventConflictUserInput, map[string]any{"conflict_id": id})
	}
}

// stashPending withholds the conflicted actions of user_prompt conflicts
// until ResolveConflictManually picks a winner.
func (e *Engine) stashPending(result *ResolutionResult, candidates []Candidate) {
	if len(result.AwaitingInput) == 0 {
		return
	}

	byID := make(map[string]*Conflict, len(result.Conflicts))
	for i := range result.Conflicts {
		byID[result.Conflicts[i].ID] = &result.Conflicts[i]
	}

	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	for _, conflictID := range result.AwaitingInput {
		c, ok := byID[conflictID]
		if !ok {
			continue
		}
		held := pendingConflict{deviceID: c.DeviceID, actions: make(map[string][]Action)}
		for _, cand := range candidates {
			for _, action := range cand.Actions {
				if deviceKey(action) == c.DeviceID {
					held.actions[cand.Automation.ID] = append(held.actions[cand.Automation.ID], action)
				}
			}
		}
		e.pending[conflictID] = held
	}
}

// publish emits an engine event if a publisher is wired.
func (e *Engine) publish(topic string, payload any) {
	if e.events != nil {
		e.events.Publish(topic, payload)
	}
}

func executionEvent(exec *AutomationExecution) map[string]any {
	return map[string]any{
		"execution_id":  exec.ID,
		"automation_id": exec.AutomationID,
		"triggered_by":  exec.TriggeredBy,
		"status":        string(exec.Status),
	}
}

func conflictEvent(c *Conflict) map[string]any {
	return map[string]any{
		"conflict_id":    c.ID,
		"type":           string(c.Type),
		"severity":       string(c.Severity),
		"device_id":      c.DeviceID,
		"automation_ids": c.AutomationIDs,
	}
}
