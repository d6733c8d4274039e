package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Candidate pairs a triggered automation with the actions it wants to run
// in the current dispatch cycle.
type Candidate struct {
	Automation *Automation
	Actions    []Action
}

// ResolutionResult is the outcome of conflict resolution for one cycle.
type ResolutionResult struct {
	// Conflicts holds every detected conflict, with resolutions attached.
	Conflicts []Conflict

	// Actions maps automationID to its final, post-resolution action list.
	// Automations whose actions were dropped map to an empty slice.
	Actions map[string][]Action

	// AwaitingInput lists conflict IDs that require manual resolution.
	// The involved devices' actions are withheld from Actions.
	AwaitingInput []string

	// Cancelled lists automations whose conflicted actions were dropped by
	// a cancel resolution. They still count as triggered for statistics
	// even when their final action list is empty.
	Cancelled []string
}

// ConflictRecorder receives conflict metrics for time-series recording.
// Satisfied by the influxdb client; may be nil.
type ConflictRecorder interface {
	WriteConflictMetric(conflictType string, severity string, automationCount int)
}

// ConflictStatistics summarise conflict history for audit and tuning.
type ConflictStatistics struct {
	Total                int                      `json:"total"`
	ByType               map[ConflictType]int     `json:"by_type"`
	BySeverity           map[ConflictSeverity]int `json:"by_severity"`
	Resolved             int                      `json:"resolved"`
	Unresolved           int                      `json:"unresolved"`
	MeanTimeToResolution time.Duration            `json:"mean_time_to_resolution"`
}

// Resolver detects and resolves conflicts between automations triggered
// within one dispatch cycle. Automations triggered in different cycles
// never cross-conflict.
type Resolver struct {
	repo     Repository
	logger   Logger
	recorder ConflictRecorder
}

// NewResolver creates a conflict resolver backed by the given repository
// for conflict history persistence.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{
		repo:   repo,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetRecorder wires a time-series recorder for conflict metrics.
func (r *Resolver) SetRecorder(recorder ConflictRecorder) {
	r.recorder = recorder
}

// Resolve detects conflicts among the cycle's candidates and collapses them
// to a final per-automation action set.
//
// Detection runs three independent passes (device, state, timing) over the
// device-action grouping; overlapping conflicts are all reported. For each
// conflicted device the participants sort ascending by priority (lower
// number = more urgent) and the most urgent automation's strategy applies.
// Non-conflicted actions pass through unchanged.
//
// Detected conflicts are persisted; persistence failures are logged and do
// not block resolution.
func (r *Resolver) Resolve(ctx context.Context, candidates []Candidate) *ResolutionResult {
	result := &ResolutionResult{
		Actions: make(map[string][]Action, len(candidates)),
	}

	groups := groupByDevice(candidates)
	result.Conflicts = detectConflicts(groups)

	// Decide the fate of each conflicted device's actions.
	type verdict struct {
		strategy ResolutionStrategy
		winnerID string
		merged   *Action
		withheld bool
	}
	verdicts := make(map[string]verdict)
	cancelled := make(map[string]struct{})

	conflictedDevices := make(map[string][]int) // deviceID -> conflict indexes
	for i, c := range result.Conflicts {
		conflictedDevices[c.DeviceID] = append(conflictedDevices[c.DeviceID], i)
	}

	for deviceID, conflictIdx := range conflictedDevices {
		participants := groups[deviceID]
		sortByUrgency(participants)

		mostUrgent := participants[0].candidate.Automation
		strategy := mostUrgent.ConflictResolution
		if strategy == "" {
			strategy = StrategyPriority
		}

		var vd verdict
		vd.strategy = strategy
		resolution := &ConflictResolution{
			Strategy:  strategy,
			Timestamp: time.Now().UTC(),
			Automatic: true,
		}

		switch strategy {
		case StrategyPriority:
			vd.winnerID = mostUrgent.ID
			resolution.SelectedRule = &vd.winnerID
		case StrategyMerge:
			merged := mergeActions(participants)
			vd.winnerID = mostUrgent.ID
			vd.merged = &merged
			resolution.MergedActions = []Action{merged}
		case StrategyCancel:
			// All participants contribute zero actions for this device but
			// remain triggered as far as statistics are concerned.
			for _, da := range participants {
				cancelled[da.candidate.Automation.ID] = struct{}{}
			}
		case StrategyUserPrompt:
			vd.withheld = true
		}

		for _, i := range conflictIdx {
			if strategy == StrategyUserPrompt {
				result.Conflicts[i].Resolved = false
				result.AwaitingInput = append(result.AwaitingInput, result.Conflicts[i].ID)
				continue
			}
			result.Conflicts[i].Resolved = true
			result.Conflicts[i].Resolution = resolution
		}

		verdicts[deviceID] = vd

		r.logger.Info("conflict resolved",
			"device_id", deviceID,
			"strategy", strategy,
			"participants", len(participants),
		)
	}

	// Rebuild each candidate's action list, applying the per-device verdicts.
	for _, cand := range candidates {
		final := make([]Action, 0, len(cand.Actions))
		for _, action := range cand.Actions {
			vd, conflicted := verdicts[deviceKey(action)]
			if !conflicted {
				final = append(final, action)
				continue
			}
			switch {
			case vd.withheld, vd.strategy == StrategyCancel:
				// Dropped or awaiting manual input.
			case vd.winnerID != cand.Automation.ID:
				// Lost the conflict.
			case vd.merged != nil:
				// Winner carries the synthesized action once.
				final = append(final, *vd.merged)
				vd.merged = nil
				verdicts[deviceKey(action)] = vd
			default:
				final = append(final, action)
			}
		}
		result.Actions[cand.Automation.ID] = final
	}

	for id := range cancelled {
		result.Cancelled = append(result.Cancelled, id)
	}
	sort.Strings(result.Cancelled)

	r.persistConflicts(ctx, result.Conflicts)
	return result
}

// ResolveManually settles a user_prompt conflict with an explicit winner.
// Equivalent to applying the priority strategy with an explicit choice.
func (r *Resolver) ResolveManually(ctx context.Context, conflictID, selectedRuleID string) (*Conflict, error) {
	conflict, err := r.repo.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Resolved {
		return nil, ErrConflictResolved
	}

	participant := false
	for _, id := range conflict.AutomationIDs {
		if id == selectedRuleID {
			participant = true
			break
		}
	}
	if !participant {
		return nil, fmt.Errorf("%w: %s", ErrNotParticipant, selectedRuleID)
	}

	conflict.Resolved = true
	conflict.Resolution = &ConflictResolution{
		Strategy:     StrategyManual,
		SelectedRule: &selectedRuleID,
		Timestamp:    time.Now().UTC(),
		Automatic:    false,
	}

	if err := r.repo.UpdateConflict(ctx, conflict); err != nil {
		return nil, err
	}

	r.logger.Info("conflict resolved manually",
		"conflict_id", conflictID,
		"selected_rule", selectedRuleID,
	)
	return conflict, nil
}

// Statistics returns conflict counts by type, severity and resolved state,
// plus the mean time-to-resolution across resolved conflicts.
func (r *Resolver) Statistics(ctx context.Context) (*ConflictStatistics, error) {
	conflicts, err := r.repo.ListConflicts(ctx, 0)
	if err != nil {
		return nil, err
	}

	stats := &ConflictStatistics{
		ByType:     make(map[ConflictType]int),
		BySeverity: make(map[ConflictSeverity]int),
	}

	var totalResolution time.Duration
	for _, c := range conflicts {
		stats.Total++
		stats.ByType[c.Type]++
		stats.BySeverity[c.Severity]++
		if c.Resolved {
			stats.Resolved++
			if c.Resolution != nil {
				totalResolution += c.Resolution.Timestamp.Sub(c.DetectedAt)
			}
		} else {
			stats.Unresolved++
		}
	}
	if stats.Resolved > 0 {
		stats.MeanTimeToResolution = totalResolution / time.Duration(stats.Resolved)
	}

	return stats, nil
}

// persistConflicts records conflicts and forwards metrics. Failures log only.
func (r *Resolver) persistConflicts(ctx context.Context, conflicts []Conflict) {
	for i := range conflicts {
		if err := r.repo.CreateConflict(ctx, &conflicts[i]); err != nil {
			r.logger.Error("failed to persist conflict",
				"conflict_id", conflicts[i].ID,
				"error", err,
			)
		}
		if r.recorder != nil {
			r.recorder.WriteConflictMetric(
				string(conflicts[i].Type),
				string(conflicts[i].Severity),
				len(conflicts[i].AutomationIDs),
			)
		}
	}
}

// ─── Detection ──────────────────────────────────────────────────────────────

// deviceAction is one device action attributed to its candidate.
type deviceAction struct {
	candidate Candidate
	action    Action
}

// deviceKey returns the grouping key for an action, or "" when the action
// does not target a device.
func deviceKey(a Action) string {
	if a.Type != ActionDevice {
		return ""
	}
	return a.Target
}

// groupByDevice groups all device actions across candidates by target device.
func groupByDevice(candidates []Candidate) map[string][]deviceAction {
	groups := make(map[string][]deviceAction)
	for _, cand := range candidates {
		for _, action := range cand.Actions {
			key := deviceKey(action)
			if key == "" {
				continue
			}
			groups[key] = append(groups[key], deviceAction{candidate: cand, action: action})
		}
	}
	return groups
}

// detectConflicts runs the three detection passes over the device grouping.
// All conflicts are reported even when they overlap.
func detectConflicts(groups map[string][]deviceAction) []Conflict {
	var conflicts []Conflict

	// Deterministic device order keeps conflict output stable.
	devices := make([]string, 0, len(groups))
	for d := range groups {
		devices = append(devices, d)
	}
	sort.Strings(devices)

	now := time.Now().UTC()
	for _, deviceID := range devices {
		actions := groups[deviceID]
		ids := distinctAutomationIDs(actions)
		if len(ids) < 2 {
			continue
		}

		// Pass 1: device contention, severity from priority spread.
		conflicts = append(conflicts, Conflict{
			ID:            GenerateID(),
			Type:          ConflictDevice,
			Severity:      severityFromSpread(prioritySpread(actions)),
			AutomationIDs: ids,
			DeviceID:      deviceID,
			Description:   fmt.Sprintf("%d automations target device %s", len(ids), deviceID),
			DetectedAt:    now,
		})

		// Pass 2: contradictory state commands.
		if hasStateConflict(actions) {
			conflicts = append(conflicts, Conflict{
				ID:            GenerateID(),
				Type:          ConflictState,
				Severity:      SeverityHigh,
				AutomationIDs: ids,
				DeviceID:      deviceID,
				Description:   fmt.Sprintf("contradictory commands for device %s", deviceID),
				DetectedAt:    now,
			})
		}

		// Pass 3: differing explicit delays.
		if hasTimingConflict(actions) {
			conflicts = append(conflicts, Conflict{
				ID:            GenerateID(),
				Type:          ConflictTiming,
				Severity:      SeverityMedium,
				AutomationIDs: ids,
				DeviceID:      deviceID,
				Description:   fmt.Sprintf("conflicting delays for device %s", deviceID),
				DetectedAt:    now,
			})
		}
	}

	return conflicts
}

func distinctAutomationIDs(actions []deviceAction) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, da := range actions {
		id := da.candidate.Automation.ID
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// prioritySpread is the difference between the least and most urgent
// participant priorities.
func prioritySpread(actions []deviceAction) int {
	minP, maxP := actions[0].candidate.Automation.Priority, actions[0].candidate.Automation.Priority
	for _, da := range actions[1:] {
		p := da.candidate.Automation.Priority
		if p < minP {
			minP = p
		}
		if p > maxP {
			maxP = p
		}
	}
	return maxP - minP
}

// severityFromSpread grades a device conflict: widely spread priorities are
// easy to arbitrate (low), tight clustering is ambiguous (high).
func severityFromSpread(spread int) ConflictSeverity {
	switch {
	case spread > 5:
		return SeverityLow
	case spread > 2:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// contradictoryPairs are command pairs that cannot both be satisfied.
var contradictoryPairs = [][2]string{
	{"turnOn", "turnOff"},
	{"lock", "unlock"},
}

// hasStateConflict reports whether a device's actions are semantically
// contradictory, or whether two set* commands carry different parameters.
func hasStateConflict(actions []deviceAction) bool {
	commands := make(map[string]struct{}, len(actions))
	for _, da := range actions {
		commands[da.action.Command] = struct{}{}
	}
	for _, pair := range contradictoryPairs {
		if _, a := commands[pair[0]]; a {
			if _, b := commands[pair[1]]; b {
				return true
			}
		}
	}

	// Two set* commands with different serialized parameter sets.
	setParams := make(map[string]struct{})
	for _, da := range actions {
		if !strings.HasPrefix(da.action.Command, "set") {
			continue
		}
		serialized, err := json.Marshal(da.action.Parameters)
		if err != nil {
			continue
		}
		setParams[string(serialized)] = struct{}{}
	}
	return len(setParams) >= 2
}

// hasTimingConflict reports whether two actions on the same device specify
// different explicit delays.
func hasTimingConflict(actions []deviceAction) bool {
	delays := make(map[int]struct{})
	for _, da := range actions {
		if da.action.DelayMS != nil {
			delays[*da.action.DelayMS] = struct{}{}
		}
	}
	return len(delays) >= 2
}

// ─── Resolution Helpers ─────────────────────────────────────────────────────

// sortByUrgency orders device actions by ascending automation priority
// (lower number = more urgent), stably so declaration order breaks ties.
func sortByUrgency(actions []deviceAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].candidate.Automation.Priority < actions[j].candidate.Automation.Priority
	})
}

// mergeActions synthesizes one action from all participants on a device:
// command from the most urgent participant, parameters merged key-wise
// (numeric values averaged, non-numeric keep the first value seen), and
// the minimum explicit delay.
func mergeActions(participants []deviceAction) Action {
	merged := copyAction(participants[0].action)
	if merged.Parameters == nil {
		merged.Parameters = make(map[string]any)
	}

	// Collect every numeric value per key across all participants.
	numeric := make(map[string][]float64)
	for _, da := range participants {
		for k, v := range da.action.Parameters {
			if n, ok := toNumber(v); ok {
				numeric[k] = append(numeric[k], n)
				continue
			}
			if _, exists := merged.Parameters[k]; !exists {
				merged.Parameters[k] = deepCopyValue(v)
			}
		}
	}
	for k, values := range numeric {
		var sum float64
		for _, v := range values {
			sum += v
		}
		merged.Parameters[k] = sum / float64(len(values))
	}

	// Minimum explicit delay across participants.
	var minDelay *int
	for _, da := range participants {
		if da.action.DelayMS == nil {
			continue
		}
		if minDelay == nil || *da.action.DelayMS < *minDelay {
			minDelay = cloneIntPtr(da.action.DelayMS)
		}
	}
	merged.DelayMS = minDelay

	return merged
}
