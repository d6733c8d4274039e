package automation

import (
	"testing"
	"time"
)

func exprContext() EvalContext {
	return EvalContext{
		DeviceStates: map[string]map[string]any{
			"light-living": {"brightness": 60.0, "on": true},
			"sensor-lux":   {"illuminance": 45.0},
		},
		Weather: &WeatherState{Condition: "rain", Temperature: 8.0, Humidity: 90},
		Now:     time.Date(2026, 8, 20, 23, 45, 0, 0, time.UTC),
	}
}

func TestEvalExpression(t *testing.T) {
	ctx := exprContext()

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"numeric comparison", "device.light-living.brightness > 50", true},
		{"numeric false", "device.light-living.brightness < 50", false},
		{"equality string", "weather.condition == 'rain'", true},
		{"inequality", "weather.condition != 'snow'", true},
		{"double quoted", `weather.condition == "rain"`, true},
		{"and combination", "device.light-living.on == true and weather.temperature < 10", true},
		{"or combination", "weather.condition == 'snow' or device.sensor-lux.illuminance < 100", true},
		{"not", "not weather.condition == 'snow'", true},
		{"parentheses", "not (time.hour >= 22 or time.hour < 6)", false},
		{"time context", "time.hour == 23 and time.minute >= 30", true},
		{"gte lte", "weather.humidity >= 90 and weather.humidity <= 90", true},
		{"bare truthy bool", "device.light-living.on", true},
		{"bare truthy number", "device.light-living.brightness", true},
		{"missing device is falsy", "device.ghost.on", false},
		{"missing attribute compares false", "device.light-living.colour == 'red'", false},
		{"precedence and over or", "weather.condition == 'snow' or weather.condition == 'rain' and weather.temperature < 10", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalExpression(tt.expr, ctx)
			if err != nil {
				t.Fatalf("evalExpression(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("evalExpression(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalExpressionErrors(t *testing.T) {
	ctx := exprContext()

	tests := []struct {
		name string
		expr string
	}{
		{"dangling operator", "device.light-living.brightness >"},
		{"unclosed paren", "(weather.condition == 'rain'"},
		{"unknown root", "system.exec == 'rm'"},
		{"trailing garbage", "weather.condition == 'rain' weather"},
		{"short device path", "device.light-living > 5"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := evalExpression(tt.expr, ctx); err == nil {
				t.Errorf("evalExpression(%q) expected error", tt.expr)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("device.light-01.brightness >= 50 and weather.condition == 'heavy rain'")
	want := []string{"device.light-01.brightness", ">=", "50", "and", "weather.condition", "==", "'heavy rain'"}
	if len(tokens) != len(want) {
		t.Fatalf("tokenize() = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{true, true},
		{false, false},
		{0.0, false},
		{1.5, true},
		{"", false},
		{"x", true},
		{nil, false},
	}
	for _, tt := range tests {
		if got := truthy(tt.value); got != tt.want {
			t.Errorf("truthy(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
