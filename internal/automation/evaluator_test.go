package automation

import (
	"testing"
	"time"
)

// mockGeofence reports membership from a static map of userID -> zones.
type mockGeofence struct {
	zones map[string][]string
}

func (m *mockGeofence) Contains(userID, zone string) bool {
	for _, z := range m.zones[userID] {
		if z == zone {
			return true
		}
	}
	return false
}

func deviceCondition(deviceID, property, operator string, value any) Condition {
	return Condition{
		Type: ConditionDevice,
		Config: map[string]any{
			"deviceId": deviceID,
			"property": property,
			"operator": operator,
			"value":    value,
		},
	}
}

func testEvalContext() EvalContext {
	return EvalContext{
		DeviceStates: map[string]map[string]any{
			"light-01": {"on": true, "brightness": 75.0},
			"sensor-1": {"state": map[string]any{"lux": 40.0, "motion": true}},
		},
		Weather: &WeatherState{Condition: "Rain", Temperature: 12.5, Humidity: 80},
		Now:     time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC),
	}
}

// ─── Condition Folding ──────────────────────────────────────────────────────

func TestEvaluateEmptyConditionsIsTrue(t *testing.T) {
	e := NewEvaluator(nil)
	if !e.Evaluate(nil, EvalContext{}) {
		t.Error("empty condition list must evaluate true")
	}
}

func TestEvaluateFoldsLeftToRight(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := testEvalContext()

	lightOn := deviceCondition("light-01", "on", "equals", true)
	lightOff := deviceCondition("light-01", "on", "equals", false)

	withOp := func(c Condition, op string) Condition {
		c.Operator = op
		return c
	}

	tests := []struct {
		name       string
		conditions []Condition
		want       bool
	}{
		{"single true", []Condition{lightOn}, true},
		{"single false", []Condition{lightOff}, false},
		// The first condition's own operator is never consulted.
		{"first or ignored", []Condition{withOp(lightOff, "or"), withOp(lightOn, "and")}, false},
		{"and chain", []Condition{lightOn, withOp(lightOn, "and")}, true},
		{"or rescues", []Condition{lightOff, withOp(lightOn, "or")}, true},
		{"default operator is and", []Condition{lightOn, lightOff}, false},
		// Left fold: (false or true) and false = false.
		{"fold groups left", []Condition{lightOff, withOp(lightOn, "or"), withOp(lightOff, "and")}, false},
		// Left fold: (false and true) or true = true.
		{"or binds accumulated", []Condition{lightOff, withOp(lightOn, "and"), withOp(lightOn, "or")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate(tt.conditions, ctx); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ─── Device Conditions ──────────────────────────────────────────────────────

func TestEvaluateDeviceCondition(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := testEvalContext()

	tests := []struct {
		name      string
		condition Condition
		want      bool
	}{
		{"equals bool", deviceCondition("light-01", "on", "equals", true), true},
		{"equals numeric coercion", deviceCondition("light-01", "brightness", "equals", 75), true},
		{"not_equals", deviceCondition("light-01", "brightness", "not_equals", 50), true},
		{"greater_than", deviceCondition("light-01", "brightness", "greater_than", 50), true},
		{"less_than false", deviceCondition("light-01", "brightness", "less_than", 50), false},
		{"between", deviceCondition("light-01", "brightness", "between", []any{50, 100}), true},
		{"between outside", deviceCondition("light-01", "brightness", "between", []any{80, 100}), false},
		{"dot path lookup", deviceCondition("sensor-1", "state.lux", "less_than", 100), true},
		{"missing device", deviceCondition("ghost", "on", "equals", true), false},
		{"missing property", deviceCondition("light-01", "nothing", "equals", true), false},
		{"unknown operator", deviceCondition("light-01", "on", "sorta", true), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate([]Condition{tt.condition}, ctx); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateDeviceConditionDefaultsToEquals(t *testing.T) {
	e := NewEvaluator(nil)
	c := Condition{
		Type:   ConditionDevice,
		Config: map[string]any{"deviceId": "light-01", "property": "on", "value": true},
	}
	if !e.Evaluate([]Condition{c}, testEvalContext()) {
		t.Error("missing operator must default to equals")
	}
}

func TestCompareContains(t *testing.T) {
	if !compare("contains", "living room lamp", "room") {
		t.Error("expected substring match")
	}
	if !compare("contains", []any{"a", "b"}, "b") {
		t.Error("expected slice membership match")
	}
	if compare("contains", 42, "4") {
		t.Error("expected non-container to fail")
	}
}

// ─── Time Conditions ────────────────────────────────────────────────────────

func TestEvaluateTimeRange(t *testing.T) {
	e := NewEvaluator(nil)

	timeCond := func(start, end string) Condition {
		return Condition{
			Type:   ConditionTime,
			Config: map[string]any{"timeStart": start, "timeEnd": end},
		}
	}
	at := func(hour, minute int) EvalContext {
		return EvalContext{Now: time.Date(2026, 8, 20, hour, minute, 0, 0, time.UTC)}
	}

	tests := []struct {
		name  string
		cond  Condition
		clock EvalContext
		want  bool
	}{
		{"inside range", timeCond("09:00", "17:00"), at(14, 30), true},
		{"boundary start", timeCond("09:00", "17:00"), at(9, 0), true},
		{"boundary end", timeCond("09:00", "17:00"), at(17, 0), true},
		{"outside range", timeCond("09:00", "17:00"), at(20, 0), false},
		// Overnight ranges wrap midnight.
		{"overnight late", timeCond("22:00", "06:00"), at(23, 15), true},
		{"overnight early", timeCond("22:00", "06:00"), at(2, 0), true},
		{"overnight outside", timeCond("22:00", "06:00"), at(12, 0), false},
		{"malformed start", timeCond("9am", "17:00"), at(10, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate([]Condition{tt.cond}, tt.clock); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ─── Weather Conditions ─────────────────────────────────────────────────────

func TestEvaluateWeatherCondition(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := testEvalContext()

	match := Condition{Type: ConditionWeather, Config: map[string]any{"weatherCondition": "rain"}}
	if !e.Evaluate([]Condition{match}, ctx) {
		t.Error("weather comparison must be case-insensitive")
	}

	miss := Condition{Type: ConditionWeather, Config: map[string]any{"weatherCondition": "snow"}}
	if e.Evaluate([]Condition{miss}, ctx) {
		t.Error("expected weather mismatch")
	}

	if e.Evaluate([]Condition{match}, EvalContext{}) {
		t.Error("missing weather context must evaluate false")
	}
}

// ─── Location Conditions ────────────────────────────────────────────────────

func TestEvaluateLocationCondition(t *testing.T) {
	fence := &mockGeofence{zones: map[string][]string{"user-1": {"home"}}}
	e := NewEvaluator(fence)

	cond := func(user, zone string) Condition {
		return Condition{Type: ConditionLocation, Config: map[string]any{"userId": user, "zone": zone}}
	}

	if !e.Evaluate([]Condition{cond("user-1", "home")}, EvalContext{}) {
		t.Error("expected geofence membership")
	}
	if e.Evaluate([]Condition{cond("user-1", "work")}, EvalContext{}) {
		t.Error("expected zone miss")
	}

	// Without a geofence collaborator, location conditions are false.
	bare := NewEvaluator(nil)
	if bare.Evaluate([]Condition{cond("user-1", "home")}, EvalContext{}) {
		t.Error("nil geofence must evaluate false")
	}
}

// ─── Custom Conditions ──────────────────────────────────────────────────────

func TestEvaluateCustomCondition(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := testEvalContext()

	custom := func(expr string) Condition {
		return Condition{Type: ConditionCustom, Config: map[string]any{"expression": expr}}
	}

	if !e.Evaluate([]Condition{custom("device.light-01.brightness > 50")}, ctx) {
		t.Error("expected expression to evaluate true")
	}
	// Parse failures evaluate false, never panic.
	if e.Evaluate([]Condition{custom("device.light-01.brightness >")}, ctx) {
		t.Error("malformed expression must evaluate false")
	}
	if e.Evaluate([]Condition{custom("")}, ctx) {
		t.Error("empty expression must evaluate false")
	}
}

func TestEvaluateUnknownConditionType(t *testing.T) {
	e := NewEvaluator(nil)
	c := Condition{Type: "telepathy", Config: map[string]any{}}
	if e.Evaluate([]Condition{c}, EvalContext{}) {
		t.Error("unknown condition type must evaluate false")
	}
}
