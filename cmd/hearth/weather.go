package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hearthd/hearth-core/internal/automation"
)

// weatherEvent is the wire format of a weather update on
// hearth/event/weather/{homeId}.
type weatherEvent struct {
	Condition   string  `json:"condition"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// weatherCache holds the latest weather snapshot per home, fed by broker
// updates and read by the engine during condition evaluation.
type weatherCache struct {
	mu    sync.RWMutex
	homes map[string]automation.WeatherState
}

func newWeatherCache() *weatherCache {
	return &weatherCache{homes: make(map[string]automation.WeatherState)}
}

// CurrentWeather returns the latest snapshot for a home, or nil when no
// update has been received yet.
func (w *weatherCache) CurrentWeather(_ context.Context, homeID string) (*automation.WeatherState, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	state, ok := w.homes[homeID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// HandleWeatherEvent applies a weather update received over MQTT.
func (w *weatherCache) HandleWeatherEvent(homeID string, payload []byte) error {
	var ev weatherEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decoding weather event: %w", err)
	}

	w.mu.Lock()
	w.homes[homeID] = automation.WeatherState{
		Condition:   ev.Condition,
		Temperature: ev.Temperature,
		Humidity:    ev.Humidity,
	}
	w.mu.Unlock()
	return nil
}
