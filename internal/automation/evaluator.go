package automation

import (
	"fmt"
	"strings"
	"time"
)

// defaultEvaluationBudget is the soft time budget for evaluating one
// automation's condition list. Exceeding it logs a warning; evaluation is
// never aborted.
const defaultEvaluationBudget = 100 * time.Millisecond

// Geofence checks whether a user is inside a named zone.
// Implemented by the location collaborator; may be nil when unavailable.
type Geofence interface {
	Contains(userID string, zone string) bool
}

// WeatherState is the point-in-time weather snapshot used in evaluation.
type WeatherState struct {
	Condition   string
	Temperature float64
	Humidity    float64
}

// EvalContext is the point-in-time world state conditions evaluate against.
type EvalContext struct {
	// DeviceStates maps deviceId to its attribute map. Nested attributes
	// are addressed with dot paths ("state.brightness").
	DeviceStates map[string]map[string]any

	// Weather is the current weather for the automation's home (may be nil).
	Weather *WeatherState

	// Now is the evaluation clock. Zero means time.Now().
	Now time.Time
}

// clock returns the evaluation time, defaulting to the wall clock.
func (c EvalContext) clock() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// Evaluator evaluates condition lists against an EvalContext.
type Evaluator struct {
	geofence Geofence
	logger   Logger
	budget   time.Duration
}

// NewEvaluator creates a condition evaluator.
// geofence may be nil; location conditions then evaluate to false.
func NewEvaluator(geofence Geofence) *Evaluator {
	return &Evaluator{
		geofence: geofence,
		logger:   noopLogger{},
		budget:   defaultEvaluationBudget,
	}
}

// SetBudget overrides the soft time budget for evaluating one automation's
// condition list.
func (e *Evaluator) SetBudget(budget time.Duration) {
	if budget > 0 {
		e.budget = budget
	}
}

// SetLogger sets the logger for the evaluator.
func (e *Evaluator) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Evaluate folds a condition list to a single boolean.
//
// An empty list is vacuously true ("no conditions means always execute").
// Conditions fold left to right without short-circuit: each condition's own
// operator ("or" vs the default "and") combines its result with the
// accumulated result so far. The first condition's operator is never
// consulted. This left-associative fold is intentional and load-bearing;
// it is not a general boolean expression tree.
func (e *Evaluator) Evaluate(conditions []Condition, evalCtx EvalContext) bool {
	if len(conditions) == 0 {
		return true
	}

	started := time.Now()

	result := e.evalOne(conditions[0], evalCtx)
	for _, c := range conditions[1:] {
		r := e.evalOne(c, evalCtx)
		if c.Operator == "or" {
			result = result || r
		} else {
			result = result && r
		}
	}

	if elapsed := time.Since(started); elapsed > e.budget {
		e.logger.Warn("condition evaluation exceeded budget",
			"elapsed", elapsed,
			"budget", e.budget,
			"conditions", len(conditions),
		)
	}

	return result
}

// evalOne evaluates a single condition. Unknown types and missing context
// evaluate to false; evaluation never panics or errors.
func (e *Evaluator) evalOne(c Condition, evalCtx EvalContext) bool {
	switch c.Type {
	case ConditionDevice:
		return e.evalDevice(c.Config, evalCtx)
	case ConditionTime:
		return evalTimeRange(c.Config, evalCtx.clock())
	case ConditionWeather:
		return evalWeather(c.Config, evalCtx.Weather)
	case ConditionLocation:
		return e.evalLocation(c.Config)
	case ConditionCustom:
		return e.evalCustom(c.Config, evalCtx)
	default:
		return false
	}
}

// evalDevice compares a device attribute against a configured value.
// Missing device or property evaluates to false, never errors.
func (e *Evaluator) evalDevice(config map[string]any, evalCtx EvalContext) bool {
	deviceID, _ := config["deviceId"].(string)
	property, _ := config["property"].(string)

	attrs, ok := evalCtx.DeviceStates[deviceID]
	if !ok {
		return false
	}

	actual, found := lookupPath(attrs, property)
	if !found {
		return false
	}

	operator, _ := config["operator"].(string)
	if operator == "" {
		operator = "equals"
	}
	return compare(operator, actual, config["value"])
}

// evalTimeRange checks whether the clock falls inside [timeStart, timeEnd].
// A start after the end is an overnight range (22:00-06:00) and wraps.
func evalTimeRange(config map[string]any, now time.Time) bool {
	startStr, _ := config["timeStart"].(string)
	endStr, _ := config["timeEnd"].(string)

	startH, startM, err := parseClock(startStr)
	if err != nil {
		return false
	}
	endH, endM, err := parseClock(endStr)
	if err != nil {
		return false
	}

	nowMinutes := now.Hour()*60 + now.Minute()
	start := startH*60 + startM
	end := endH*60 + endM

	if start <= end {
		return nowMinutes >= start && nowMinutes <= end
	}
	// Overnight wrap.
	return nowMinutes >= start || nowMinutes <= end
}

// evalWeather checks case-insensitive equality with the current condition.
func evalWeather(config map[string]any, weather *WeatherState) bool {
	if weather == nil {
		return false
	}
	want, _ := config["weatherCondition"].(string)
	return strings.EqualFold(weather.Condition, want)
}

// evalLocation delegates geofence membership to the location collaborator.
func (e *Evaluator) evalLocation(config map[string]any) bool {
	if e.geofence == nil {
		return false
	}
	userID, _ := config["userId"].(string)
	zone, _ := config["zone"].(string)
	if userID == "" || zone == "" {
		return false
	}
	return e.geofence.Contains(userID, zone)
}

// evalCustom evaluates a restricted boolean expression against the context.
// User strings are parsed into a small comparison AST; they are never
// executed as code. Parse or evaluation failures log and return false.
func (e *Evaluator) evalCustom(config map[string]any, evalCtx EvalContext) bool {
	expr, _ := config["expression"].(string)
	if expr == "" {
		return false
	}

	result, err := evalExpression(expr, evalCtx)
	if err != nil {
		e.logger.Warn("custom condition rejected",
			"expression", expr,
			"error", err,
		)
		return false
	}
	return result
}

// lookupPath resolves a dot-separated path into nested attribute maps.
func lookupPath(attrs map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = attrs
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// compare applies a named comparator between an actual and expected value.
func compare(operator string, actual, expected any) bool {
	switch operator {
	case "equals":
		return looseEqual(actual, expected)
	case "not_equals":
		return !looseEqual(actual, expected)
	case "greater_than":
		a, b, ok := bothNumeric(actual, expected)
		return ok && a > b
	case "less_than":
		a, b, ok := bothNumeric(actual, expected)
		return ok && a < b
	case "contains":
		return containsValue(actual, expected)
	case "between":
		bounds, ok := expected.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		a, lo, ok1 := bothNumeric(actual, bounds[0])
		_, hi, ok2 := bothNumeric(actual, bounds[1])
		return ok1 && ok2 && a >= lo && a <= hi
	default:
		return false
	}
}

// looseEqual compares values with numeric coercion, so JSON's float64
// matches Go ints and vice versa.
func looseEqual(a, b any) bool {
	if af, bf, ok := bothNumeric(a, b); ok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// bothNumeric coerces both values to float64 when both are numeric.
func bothNumeric(a, b any) (float64, float64, bool) {
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	return af, bf, aok && bok
}

// toNumber coerces common numeric representations to float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// containsValue handles substring match for strings and membership for slices.
func containsValue(actual, expected any) bool {
	switch a := actual.(type) {
	case string:
		s, ok := expected.(string)
		return ok && strings.Contains(a, s)
	case []any:
		for _, elem := range a {
			if looseEqual(elem, expected) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
