package automation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

// FireFunc is invoked when a scheduled time trigger fires.
type FireFunc func(automationID, triggerID string)

// TriggerRegistry maps event keys and cron schedules to interested
// automation IDs.
//
// Event triggers (device/sensor/location/weather) join subscriber sets
// keyed "<type>:<configKey>"; time triggers compile to cron expressions
// scheduled on an internal cron runner, keyed "automationId:triggerId".
//
// Thread Safety: all methods are safe for concurrent use.
type TriggerRegistry struct {
	mu sync.RWMutex

	// subscribers maps "<type>:<key>" to the set of automation IDs.
	subscribers map[string]map[string]struct{}

	// cronEntries maps "automationId:triggerId" to its scheduled entry.
	cronEntries map[string]cron.EntryID
	cron        *cron.Cron

	onFire FireFunc
	logger Logger
}

// NewTriggerRegistry creates a trigger registry.
//
// onFire is called whenever a scheduled time trigger fires; it must not be
// nil for time triggers to have any effect. Call Start to begin scheduling.
func NewTriggerRegistry(onFire FireFunc) *TriggerRegistry {
	return &TriggerRegistry{
		subscribers: make(map[string]map[string]struct{}),
		cronEntries: make(map[string]cron.EntryID),
		cron:        cron.New(),
		onFire:      onFire,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *TriggerRegistry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetFireFunc replaces the scheduled-fire callback. Used to break the
// construction cycle between the registry and the engine; call before Start.
func (r *TriggerRegistry) SetFireFunc(onFire FireFunc) {
	r.mu.Lock()
	r.onFire = onFire
	r.mu.Unlock()
}

// Start begins running scheduled time triggers.
func (r *TriggerRegistry) Start() {
	r.cron.Start()
}

// Stop halts the scheduler. Running jobs complete; no new jobs fire.
func (r *TriggerRegistry) Stop() {
	r.cron.Stop()
}

// Register subscribes all enabled triggers of an automation.
//
// Any previous registrations for the automation are removed first, so
// Register is safe to call on update without duplicating subscriptions.
// A malformed cron expression rejects that one trigger only; the automation
// stays registered with its remaining triggers.
func (r *TriggerRegistry) Register(a *Automation) {
	r.Unregister(a.ID)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range a.Triggers {
		if !t.Enabled {
			continue
		}

		switch t.Type {
		case TriggerTime:
			r.scheduleTimeTrigger(a.ID, t)
		case TriggerDevice, TriggerSensor, TriggerLocation, TriggerWeather:
			key, ok := subscriberKey(t)
			if !ok {
				r.logger.Warn("event trigger missing config key, skipped",
					"automation_id", a.ID,
					"trigger_id", t.ID,
					"type", t.Type,
				)
				continue
			}
			if r.subscribers[key] == nil {
				r.subscribers[key] = make(map[string]struct{})
			}
			r.subscribers[key][a.ID] = struct{}{}
		default:
			// sunrise/sunset/manual triggers have no registry subscription.
		}
	}
}

// Unregister removes every subscription and schedule owned by an automation.
func (r *TriggerRegistry) Unregister(automationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Stop all cron entries prefixed by this automation's ID.
	prefix := automationID + ":"
	for key, entryID := range r.cronEntries {
		if strings.HasPrefix(key, prefix) {
			r.cron.Remove(entryID)
			delete(r.cronEntries, key)
		}
	}

	// Remove from every subscriber set.
	for key, set := range r.subscribers {
		delete(set, automationID)
		if len(set) == 0 {
			delete(r.subscribers, key)
		}
	}
}

// Subscribers returns a sorted snapshot of automation IDs subscribed to an
// event key. Safe for the caller to iterate while registrations change.
func (r *TriggerRegistry) Subscribers(eventType TriggerType, key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.subscribers[string(eventType)+":"+key]
	if len(set) == 0 {
		return nil
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ScheduleCount returns the number of active cron schedules.
func (r *TriggerRegistry) ScheduleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cronEntries)
}

// scheduleTimeTrigger compiles and schedules one time trigger.
// Caller must hold r.mu.
func (r *TriggerRegistry) scheduleTimeTrigger(automationID string, t Trigger) {
	expr, err := cronExpression(t.Config)
	if err != nil {
		r.logger.Warn("time trigger rejected",
			"automation_id", automationID,
			"trigger_id", t.ID,
			"error", err,
		)
		return
	}

	key := automationID + ":" + t.ID
	triggerID := t.ID
	entryID, err := r.cron.AddFunc(expr, func() {
		r.mu.RLock()
		fire := r.onFire
		r.mu.RUnlock()
		if fire != nil {
			fire(automationID, triggerID)
		}
	})
	if err != nil {
		r.logger.Warn("time trigger rejected",
			"automation_id", automationID,
			"trigger_id", t.ID,
			"cron", expr,
			"error", err,
		)
		return
	}

	r.cronEntries[key] = entryID
	r.logger.Debug("time trigger scheduled",
		"automation_id", automationID,
		"trigger_id", t.ID,
		"cron", expr,
	)
}

// cronExpression resolves a time trigger config to a cron expression.
//
// An explicit "cron" value wins; otherwise the expression is derived from
// "time" ("HH:MM") and optional "days" (weekday numbers, 0 = Sunday) as
// "MM HH * * d0,d1,...".
func cronExpression(config map[string]any) (string, error) {
	if expr, ok := config["cron"].(string); ok && expr != "" {
		return expr, nil
	}

	timeStr, ok := config["time"].(string)
	if !ok || timeStr == "" {
		return "", fmt.Errorf("time trigger requires cron or time")
	}

	hour, minute, err := parseClock(timeStr)
	if err != nil {
		return "", err
	}

	days := "*"
	if raw, ok := config["days"].([]any); ok && len(raw) > 0 {
		parts := make([]string, 0, len(raw))
		for _, d := range raw {
			day, convErr := toDayNumber(d)
			if convErr != nil {
				return "", convErr
			}
			parts = append(parts, strconv.Itoa(day))
		}
		days = strings.Join(parts, ",")
	}

	return fmt.Sprintf("%d %d * * %s", minute, hour, days), nil
}

// parseClock parses "HH:MM" into hour and minute.
func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// toDayNumber converts a JSON day value (number or numeric string) to a
// weekday number 0-6.
func toDayNumber(v any) (int, error) {
	var day int
	switch n := v.(type) {
	case float64:
		day = int(n)
	case int:
		day = n
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("invalid day %q", n)
		}
		day = parsed
	default:
		return 0, fmt.Errorf("invalid day value %v", v)
	}
	if day < 0 || day > 6 {
		return 0, fmt.Errorf("day %d out of range 0-6", day)
	}
	return day, nil
}

// subscriberKey builds the subscriber set key for an event trigger.
func subscriberKey(t Trigger) (string, bool) {
	var configField string
	switch t.Type {
	case TriggerDevice:
		configField = "deviceId"
	case TriggerSensor:
		configField = "sensorId"
	case TriggerLocation:
		configField = "userId"
	case TriggerWeather:
		configField = "homeId"
	default:
		return "", false
	}

	key, ok := t.Config[configField].(string)
	if !ok || key == "" {
		return "", false
	}
	return string(t.Type) + ":" + key, true
}
