package automation

import "time"

// Automation is a user-defined rule: triggers fire it, conditions gate it,
// actions run when it executes. Priority is urgency, not weight: a lower
// number means more urgent, and ties in conflict resolution go to the
// numerically smallest priority.
type Automation struct {
	// Identity
	ID     string `json:"id"`
	HomeID string `json:"home_id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	// Configuration
	Enabled  bool `json:"enabled"`
	Priority int  `json:"priority"` // 1-100; lower = more urgent (default 10)

	// Rule definition
	Triggers   []Trigger   `json:"triggers"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`

	// Execution behaviour
	Mode           ExecutionMode `json:"mode"`
	MaxExecutions  *int          `json:"max_executions,omitempty"`
	CooldownPeriod *int          `json:"cooldown_period,omitempty"` // seconds

	// ConflictResolution is the strategy applied when this automation is
	// the most urgent participant in a detected conflict.
	ConflictResolution ResolutionStrategy `json:"conflict_resolution,omitempty"`

	// Statistics are mutated on every execution.
	Statistics Statistics `json:"statistics"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Trigger is an event or schedule that initiates evaluation.
// Owned exclusively by its Automation.
type Trigger struct {
	ID      string         `json:"id"`
	Type    TriggerType    `json:"type"`
	Config  map[string]any `json:"config"`
	Enabled bool           `json:"enabled"`
}

// TriggerType identifies what kind of event fires a trigger.
type TriggerType string

const (
	TriggerTime     TriggerType = "time"
	TriggerDevice   TriggerType = "device"
	TriggerSensor   TriggerType = "sensor"
	TriggerLocation TriggerType = "location"
	TriggerWeather  TriggerType = "weather"
	TriggerSunrise  TriggerType = "sunrise"
	TriggerSunset   TriggerType = "sunset"
	TriggerManual   TriggerType = "manual"
)

// Condition is a boolean gate evaluated after a trigger fires.
//
// Operator ("and"/"or") folds this condition's result with the accumulated
// result of the preceding conditions; the first condition's operator is
// never consulted.
type Condition struct {
	Type     ConditionType  `json:"type"`
	Operator string         `json:"operator,omitempty"` // "and" (default) or "or"
	Config   map[string]any `json:"config"`
}

// ConditionType identifies how a condition is evaluated.
type ConditionType string

const (
	ConditionDevice   ConditionType = "device"
	ConditionTime     ConditionType = "time"
	ConditionWeather  ConditionType = "weather"
	ConditionLocation ConditionType = "location"
	ConditionCustom   ConditionType = "custom"
)

// Action is a command dispatched when an automation executes.
type Action struct {
	ID      string         `json:"id"`
	Type    ActionType     `json:"type"`
	Target  string         `json:"target"` // deviceId, sceneId, URL, etc.
	Command string         `json:"command,omitempty"`

	// Parameters are command-specific (e.g., {"brightness": 80}).
	Parameters map[string]any `json:"parameters,omitempty"`

	// DelayMS is an optional sleep before dispatching this action.
	DelayMS *int `json:"delay_ms,omitempty"`

	Enabled bool `json:"enabled"`
}

// ActionType identifies which collaborator dispatches an action.
type ActionType string

const (
	ActionDevice       ActionType = "device"
	ActionScene        ActionType = "scene"
	ActionNotification ActionType = "notification"
	ActionWebhook      ActionType = "webhook"
	ActionDelay        ActionType = "delay"
	ActionScript       ActionType = "script"
)

// ExecutionMode controls what happens when an automation is triggered while
// a previous execution is still running.
type ExecutionMode string

const (
	// ModeSingle dedupes: a trigger while running returns the running execution.
	ModeSingle ExecutionMode = "single"
	// ModeRestart, ModeQueued and ModeParallel all start a new execution;
	// restart/queued scheduling beyond that is the caller's policy.
	ModeRestart  ExecutionMode = "restart"
	ModeQueued   ExecutionMode = "queued"
	ModeParallel ExecutionMode = "parallel"
)

// Statistics accumulate across an automation's lifetime.
type Statistics struct {
	ExecutionCount int        `json:"execution_count"`
	SuccessCount   int        `json:"success_count"`
	FailureCount   int        `json:"failure_count"`
	LastExecuted   *time.Time `json:"last_executed,omitempty"`
}

// AutomationExecution is the append-only record of a single run.
// Immutable once completed.
type AutomationExecution struct {
	ID           string            `json:"id"`
	AutomationID string            `json:"automation_id"`
	TriggeredBy  string            `json:"triggered_by"` // trigger id or "manual"
	Status       ExecutionStatus   `json:"status"`
	Actions      []ActionExecution `json:"actions"`
	Error        *string           `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// ActionExecution records the outcome of one action within an execution.
type ActionExecution struct {
	ActionID    string       `json:"action_id"`
	Status      ActionStatus `json:"status"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       *string      `json:"error,omitempty"`
}

// ExecutionStatus represents the state of an automation execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// ActionStatus represents the state of a single action within an execution.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionRunning   ActionStatus = "running"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionSkipped   ActionStatus = "skipped"
)

// Conflict records contention between automations over the same device,
// state, or timing within one dispatch cycle. Immutable history once
// resolved.
type Conflict struct {
	ID            string              `json:"id"`
	Type          ConflictType        `json:"type"`
	Severity      ConflictSeverity    `json:"severity"`
	AutomationIDs []string            `json:"automation_ids"`
	DeviceID      string              `json:"device_id"`
	Description   string              `json:"description"`
	Resolution    *ConflictResolution `json:"resolution,omitempty"`
	Resolved      bool                `json:"resolved"`
	DetectedAt    time.Time           `json:"detected_at"`
}

// ConflictType identifies which detection pass reported a conflict.
type ConflictType string

const (
	ConflictDevice ConflictType = "device_conflict"
	ConflictState  ConflictType = "state_conflict"
	ConflictTiming ConflictType = "timing_conflict"

	// ConflictResource covers contention over shared capacity (power
	// budgets, channel limits). No detection pass emits it yet; the value
	// is reserved so persisted history keeps a stable vocabulary.
	ConflictResource ConflictType = "resource_conflict"
)

// ConflictSeverity grades how ambiguous a conflict is. Tighter priority
// clustering between participants means higher-severity ambiguity.
type ConflictSeverity string

const (
	SeverityLow    ConflictSeverity = "low"
	SeverityMedium ConflictSeverity = "medium"
	SeverityHigh   ConflictSeverity = "high"
)

// ResolutionStrategy selects how a conflict collapses to a final action set.
type ResolutionStrategy string

const (
	StrategyPriority   ResolutionStrategy = "priority"
	StrategyMerge      ResolutionStrategy = "merge"
	StrategyCancel     ResolutionStrategy = "cancel"
	StrategyUserPrompt ResolutionStrategy = "user_prompt"
	StrategyManual     ResolutionStrategy = "manual"
)

// ConflictResolution records how a conflict was settled.
type ConflictResolution struct {
	Strategy      ResolutionStrategy `json:"strategy"`
	SelectedRule  *string            `json:"selected_rule,omitempty"`
	MergedActions []Action           `json:"merged_actions,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	Automatic     bool               `json:"automatic"`
}

// DeepCopy creates a complete independent copy of the Automation.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (a *Automation) DeepCopy() *Automation {
	if a == nil {
		return nil
	}

	cpy := *a // Shallow copy of value fields

	cpy.MaxExecutions = cloneIntPtr(a.MaxExecutions)
	cpy.CooldownPeriod = cloneIntPtr(a.CooldownPeriod)
	cpy.Statistics.LastExecuted = cloneTimePtr(a.Statistics.LastExecuted)

	if a.Triggers != nil {
		cpy.Triggers = make([]Trigger, len(a.Triggers))
		for i, t := range a.Triggers {
			cpy.Triggers[i] = t
			cpy.Triggers[i].Config = deepCopyMap(t.Config)
		}
	}

	if a.Conditions != nil {
		cpy.Conditions = make([]Condition, len(a.Conditions))
		for i, c := range a.Conditions {
			cpy.Conditions[i] = c
			cpy.Conditions[i].Config = deepCopyMap(c.Config)
		}
	}

	if a.Actions != nil {
		cpy.Actions = make([]Action, len(a.Actions))
		for i, act := range a.Actions {
			cpy.Actions[i] = copyAction(act)
		}
	}

	return &cpy
}

// copyAction creates an independent copy of a single action.
func copyAction(a Action) Action {
	cpy := a
	cpy.Parameters = deepCopyMap(a.Parameters)
	cpy.DelayMS = cloneIntPtr(a.DelayMS)
	return cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v // Primitives are immutable
	}
}

// cloneIntPtr creates an independent copy of an *int.
func cloneIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

// cloneTimePtr creates an independent copy of a *time.Time.
func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
