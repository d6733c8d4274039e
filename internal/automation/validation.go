package automation

import (
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength    = 100
	maxTriggers      = 20
	maxConditions    = 20
	maxActions       = 50
	minPriority      = 1
	maxPriority      = 100
	defaultPriority  = 10
	maxParameterKeys = 20
	maxDelayMS       = 300000 // 5 minutes
)

// Pre-computed validation sets for O(1) lookups.
var (
	validTriggerTypes = map[TriggerType]struct{}{
		TriggerTime: {}, TriggerDevice: {}, TriggerSensor: {},
		TriggerLocation: {}, TriggerWeather: {}, TriggerSunrise: {},
		TriggerSunset: {}, TriggerManual: {},
	}
	validConditionTypes = map[ConditionType]struct{}{
		ConditionDevice: {}, ConditionTime: {}, ConditionWeather: {},
		ConditionLocation: {}, ConditionCustom: {},
	}
	validActionTypes = map[ActionType]struct{}{
		ActionDevice: {}, ActionScene: {}, ActionNotification: {},
		ActionWebhook: {}, ActionDelay: {}, ActionScript: {},
	}
	validModes = map[ExecutionMode]struct{}{
		ModeSingle: {}, ModeRestart: {}, ModeQueued: {}, ModeParallel: {},
	}
	validStrategies = map[ResolutionStrategy]struct{}{
		StrategyPriority: {}, StrategyMerge: {}, StrategyCancel: {},
		StrategyUserPrompt: {},
	}
)

// ValidateAutomation performs comprehensive validation on an automation.
// All failures are collected and returned together as a *ValidationErrors;
// a nil return means the automation is valid.
func ValidateAutomation(a *Automation) error {
	v := &ValidationErrors{}

	if a == nil {
		v.Add("automation is nil")
		return v
	}

	if strings.TrimSpace(a.Name) == "" {
		v.Add("name cannot be empty")
	}
	if len(a.Name) > maxNameLength {
		v.Add("name exceeds %d characters", maxNameLength)
	}
	if a.Priority < minPriority || a.Priority > maxPriority {
		v.Add("priority must be %d-%d", minPriority, maxPriority)
	}
	if _, ok := validModes[a.Mode]; !ok {
		v.Add("invalid execution mode %q", a.Mode)
	}
	if a.ConflictResolution != "" {
		if _, ok := validStrategies[a.ConflictResolution]; !ok {
			v.Add("invalid conflict resolution strategy %q", a.ConflictResolution)
		}
	}
	if a.MaxExecutions != nil && *a.MaxExecutions < 1 {
		v.Add("max_executions must be at least 1")
	}
	if a.CooldownPeriod != nil && *a.CooldownPeriod < 0 {
		v.Add("cooldown_period cannot be negative")
	}

	if len(a.Triggers) == 0 {
		v.Add("at least one trigger is required")
	}
	if len(a.Triggers) > maxTriggers {
		v.Add("exceeds maximum of %d triggers", maxTriggers)
	}
	for i, t := range a.Triggers {
		validateTrigger(v, i, t)
	}

	if len(a.Conditions) > maxConditions {
		v.Add("exceeds maximum of %d conditions", maxConditions)
	}
	validateConditionList(v, a.Conditions)

	if len(a.Actions) == 0 {
		v.Add("at least one action is required")
	}
	if len(a.Actions) > maxActions {
		v.Add("exceeds maximum of %d actions", maxActions)
	}
	for i, act := range a.Actions {
		validateAction(v, i, act)
	}

	if v.HasErrors() {
		return v
	}
	return nil
}

// ValidateConditions checks a condition list in isolation.
// Failures are collected, not fail-fast; a nil return means all valid.
func ValidateConditions(conditions []Condition) error {
	v := &ValidationErrors{}
	validateConditionList(v, conditions)
	if v.HasErrors() {
		return v
	}
	return nil
}

func validateConditionList(v *ValidationErrors, conditions []Condition) {
	for i, c := range conditions {
		validateCondition(v, i, c)
	}
}

func validateCondition(v *ValidationErrors, i int, c Condition) {
	if _, ok := validConditionTypes[c.Type]; !ok {
		v.Add("condition[%d]: invalid type %q", i, c.Type)
		return
	}
	if c.Operator != "" && c.Operator != "and" && c.Operator != "or" {
		v.Add("condition[%d]: operator must be \"and\" or \"or\"", i)
	}
	if c.Config == nil {
		v.Add("condition[%d]: config is required", i)
		return
	}

	// Type-specific required fields.
	switch c.Type {
	case ConditionDevice:
		if !hasStringKey(c.Config, "deviceId") {
			v.Add("condition[%d]: device condition requires deviceId", i)
		}
		if !hasStringKey(c.Config, "property") {
			v.Add("condition[%d]: device condition requires property", i)
		}
	case ConditionTime:
		if !hasStringKey(c.Config, "timeStart") {
			v.Add("condition[%d]: time condition requires timeStart", i)
		}
		if !hasStringKey(c.Config, "timeEnd") {
			v.Add("condition[%d]: time condition requires timeEnd", i)
		}
	case ConditionWeather:
		if !hasStringKey(c.Config, "weatherCondition") {
			v.Add("condition[%d]: weather condition requires weatherCondition", i)
		}
	case ConditionLocation:
		if !hasStringKey(c.Config, "userId") {
			v.Add("condition[%d]: location condition requires userId", i)
		}
	case ConditionCustom:
		if !hasStringKey(c.Config, "expression") {
			v.Add("condition[%d]: custom condition requires expression", i)
		}
	}
}

func validateTrigger(v *ValidationErrors, i int, t Trigger) {
	if _, ok := validTriggerTypes[t.Type]; !ok {
		v.Add("trigger[%d]: invalid type %q", i, t.Type)
		return
	}
	if t.Config == nil && t.Type != TriggerManual && t.Type != TriggerSunrise && t.Type != TriggerSunset {
		v.Add("trigger[%d]: config is required", i)
		return
	}

	switch t.Type {
	case TriggerTime:
		// Either an explicit cron expression or time-of-day plus days.
		if !hasStringKey(t.Config, "cron") && !hasStringKey(t.Config, "time") {
			v.Add("trigger[%d]: time trigger requires cron or time", i)
		}
	case TriggerDevice:
		if !hasStringKey(t.Config, "deviceId") {
			v.Add("trigger[%d]: device trigger requires deviceId", i)
		}
	case TriggerSensor:
		if !hasStringKey(t.Config, "sensorId") {
			v.Add("trigger[%d]: sensor trigger requires sensorId", i)
		}
	case TriggerLocation:
		if !hasStringKey(t.Config, "userId") {
			v.Add("trigger[%d]: location trigger requires userId", i)
		}
	case TriggerWeather:
		if !hasStringKey(t.Config, "homeId") {
			v.Add("trigger[%d]: weather trigger requires homeId", i)
		}
	}
}

func validateAction(v *ValidationErrors, i int, a Action) {
	if _, ok := validActionTypes[a.Type]; !ok {
		v.Add("action[%d]: invalid type %q", i, a.Type)
		return
	}
	if a.Target == "" && a.Type != ActionDelay {
		v.Add("action[%d]: target is required", i)
	}
	if a.Type == ActionDevice && a.Command == "" {
		v.Add("action[%d]: device action requires command", i)
	}
	if a.DelayMS != nil && (*a.DelayMS < 0 || *a.DelayMS > maxDelayMS) {
		v.Add("action[%d]: delay_ms must be 0-%d", i, maxDelayMS)
	}
	if len(a.Parameters) > maxParameterKeys {
		v.Add("action[%d]: parameters exceeds %d keys", i, maxParameterKeys)
	}
}

// hasStringKey reports whether the config has a non-empty string value.
func hasStringKey(config map[string]any, key string) bool {
	s, ok := config[key].(string)
	return ok && s != ""
}

// GenerateID creates a new UUID for an automation, execution, or conflict.
func GenerateID() string {
	return uuid.New().String()
}
