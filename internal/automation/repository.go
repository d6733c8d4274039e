package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for automation persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Automation CRUD
	GetByID(ctx context.Context, id string) (*Automation, error)
	List(ctx context.Context) ([]Automation, error)
	Create(ctx context.Context, a *Automation) error
	Update(ctx context.Context, a *Automation) error
	Delete(ctx context.Context, id string) error

	// Execution history (append-only once completed)
	CreateExecution(ctx context.Context, exec *AutomationExecution) error
	UpdateExecution(ctx context.Context, exec *AutomationExecution) error
	GetExecution(ctx context.Context, id string) (*AutomationExecution, error)
	ListExecutions(ctx context.Context, automationID string, limit int) ([]AutomationExecution, error)

	// Conflict history
	CreateConflict(ctx context.Context, c *Conflict) error
	UpdateConflict(ctx context.Context, c *Conflict) error
	GetConflict(ctx context.Context, id string) (*Conflict, error)
	ListConflicts(ctx context.Context, limit int) ([]Conflict, error)
}

// Execution listing limits.
const (
	defaultExecutionLimit = 10
	maxExecutionLimit     = 100
)

// SQLiteRepository implements Repository using SQLite.
//
// Automations are stored as a full JSON document plus denormalised columns
// (enabled, priority) for cheap filtering; executions and conflicts get
// their own tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ─── Automations ────────────────────────────────────────────────────────────

// GetByID retrieves an automation by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Automation, error) {
	row := r.db.QueryRowContext(ctx, "SELECT data FROM automations WHERE id = ?", id)

	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAutomationNotFound
		}
		return nil, fmt.Errorf("querying automation: %w", err)
	}
	return unmarshalAutomation(data)
}

// List retrieves all automations ordered by priority then name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Automation, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT data FROM automations ORDER BY priority, name",
	)
	if err != nil {
		return nil, fmt.Errorf("querying automations: %w", err)
	}
	defer rows.Close()

	var automations []Automation
	for rows.Next() {
		var data string
		if scanErr := rows.Scan(&data); scanErr != nil {
			return nil, fmt.Errorf("scanning automation: %w", scanErr)
		}
		a, umErr := unmarshalAutomation(data)
		if umErr != nil {
			return nil, umErr
		}
		automations = append(automations, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating automations: %w", err)
	}
	return automations, nil
}

// Create inserts a new automation.
func (r *SQLiteRepository) Create(ctx context.Context, a *Automation) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshalling automation: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO automations (id, name, enabled, priority, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Name,
		boolToInt(a.Enabled),
		a.Priority,
		string(data),
		a.CreatedAt.Format(time.RFC3339),
		a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAutomationExists
		}
		return fmt.Errorf("inserting automation: %w", err)
	}
	return nil
}

// Update modifies an existing automation.
func (r *SQLiteRepository) Update(ctx context.Context, a *Automation) error {
	a.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshalling automation: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE automations SET name = ?, enabled = ?, priority = ?, data = ?, updated_at = ?
		WHERE id = ?`,
		a.Name,
		boolToInt(a.Enabled),
		a.Priority,
		string(data),
		a.UpdatedAt.Format(time.RFC3339),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating automation: %w", err)
	}
	return requireRow(result, ErrAutomationNotFound)
}

// Delete removes an automation. Executions cascade via the schema.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM automations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting automation: %w", err)
	}
	return requireRow(result, ErrAutomationNotFound)
}

// ─── Executions ─────────────────────────────────────────────────────────────

// CreateExecution inserts a new execution record.
func (r *SQLiteRepository) CreateExecution(ctx context.Context, exec *AutomationExecution) error {
	actionsJSON, err := json.Marshal(exec.Actions)
	if err != nil {
		return fmt.Errorf("marshalling action executions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO automation_executions (
			id, automation_id, triggered_by, status, actions, error, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		exec.AutomationID,
		exec.TriggeredBy,
		string(exec.Status),
		string(actionsJSON),
		nullableString(exec.Error),
		exec.StartedAt.Format(time.RFC3339),
		nullableTime(exec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// UpdateExecution updates an existing execution record.
func (r *SQLiteRepository) UpdateExecution(ctx context.Context, exec *AutomationExecution) error {
	actionsJSON, err := json.Marshal(exec.Actions)
	if err != nil {
		return fmt.Errorf("marshalling action executions: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE automation_executions SET status = ?, actions = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		string(exec.Status),
		string(actionsJSON),
		nullableString(exec.Error),
		nullableTime(exec.CompletedAt),
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}
	return requireRow(result, ErrExecutionNotFound)
}

// GetExecution retrieves an execution by ID.
func (r *SQLiteRepository) GetExecution(ctx context.Context, id string) (*AutomationExecution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, automation_id, triggered_by, status, actions, error, started_at, completed_at
		FROM automation_executions WHERE id = ?`, id)

	exec, err := scanExecutionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return exec, nil
}

// ListExecutions retrieves recent executions for an automation, newest first.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, automationID string, limit int) ([]AutomationExecution, error) {
	if limit <= 0 {
		limit = defaultExecutionLimit
	}
	if limit > maxExecutionLimit {
		limit = maxExecutionLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, automation_id, triggered_by, status, actions, error, started_at, completed_at
		FROM automation_executions
		WHERE automation_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, automationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []AutomationExecution
	for rows.Next() {
		exec, scanErr := scanExecutionRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning execution: %w", scanErr)
		}
		executions = append(executions, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return executions, nil
}

// ─── Conflicts ──────────────────────────────────────────────────────────────

// CreateConflict inserts a new conflict record.
func (r *SQLiteRepository) CreateConflict(ctx context.Context, c *Conflict) error {
	idsJSON, err := json.Marshal(c.AutomationIDs)
	if err != nil {
		return fmt.Errorf("marshalling automation ids: %w", err)
	}
	resolutionJSON, resolvedAt, err := marshalResolution(c.Resolution)
	if err != nil {
		return fmt.Errorf("marshalling resolution: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conflicts (
			id, type, severity, automation_ids, device_id, description,
			resolution, resolved, detected_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		string(c.Type),
		string(c.Severity),
		string(idsJSON),
		c.DeviceID,
		c.Description,
		resolutionJSON,
		boolToInt(c.Resolved),
		c.DetectedAt.Format(time.RFC3339),
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting conflict: %w", err)
	}
	return nil
}

// UpdateConflict updates a conflict's resolution state.
func (r *SQLiteRepository) UpdateConflict(ctx context.Context, c *Conflict) error {
	resolutionJSON, resolvedAt, err := marshalResolution(c.Resolution)
	if err != nil {
		return fmt.Errorf("marshalling resolution: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE conflicts SET resolution = ?, resolved = ?, resolved_at = ?
		WHERE id = ?`,
		resolutionJSON,
		boolToInt(c.Resolved),
		resolvedAt,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating conflict: %w", err)
	}
	return requireRow(result, ErrConflictNotFound)
}

// GetConflict retrieves a conflict by ID.
func (r *SQLiteRepository) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, type, severity, automation_ids, device_id, description, resolution, resolved, detected_at
		FROM conflicts WHERE id = ?`, id)

	c, err := scanConflictRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConflictNotFound
		}
		return nil, fmt.Errorf("querying conflict: %w", err)
	}
	return c, nil
}

// ListConflicts retrieves conflicts newest first. A limit of 0 returns all.
func (r *SQLiteRepository) ListConflicts(ctx context.Context, limit int) ([]Conflict, error) {
	query := `
		SELECT id, type, severity, automation_ids, device_id, description, resolution, resolved, detected_at
		FROM conflicts ORDER BY detected_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []Conflict
	for rows.Next() {
		c, scanErr := scanConflictRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning conflict: %w", scanErr)
		}
		conflicts = append(conflicts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conflicts: %w", err)
	}
	return conflicts, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func unmarshalAutomation(data string) (*Automation, error) {
	var a Automation
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, fmt.Errorf("unmarshalling automation: %w", err)
	}
	return &a, nil
}

func scanExecutionRow(scanner rowScanner) (*AutomationExecution, error) {
	var e AutomationExecution
	var status, actionsJSON, startedAt string
	var execError, completedAt sql.NullString

	err := scanner.Scan(
		&e.ID,
		&e.AutomationID,
		&e.TriggeredBy,
		&status,
		&actionsJSON,
		&execError,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = ExecutionStatus(status)
	if t, parseErr := time.Parse(time.RFC3339, startedAt); parseErr == nil {
		e.StartedAt = t
	}
	if completedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, completedAt.String); parseErr == nil {
			e.CompletedAt = &t
		}
	}
	if execError.Valid {
		e.Error = &execError.String
	}

	if actionsJSON != "" && actionsJSON != "[]" {
		if jsonErr := json.Unmarshal([]byte(actionsJSON), &e.Actions); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling action executions: %w", jsonErr)
		}
	}
	if e.Actions == nil {
		e.Actions = []ActionExecution{}
	}

	return &e, nil
}

func scanConflictRow(scanner rowScanner) (*Conflict, error) {
	var c Conflict
	var conflictType, severity, idsJSON, detectedAt string
	var resolutionJSON sql.NullString
	var resolved int

	err := scanner.Scan(
		&c.ID,
		&conflictType,
		&severity,
		&idsJSON,
		&c.DeviceID,
		&c.Description,
		&resolutionJSON,
		&resolved,
		&detectedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Type = ConflictType(conflictType)
	c.Severity = ConflictSeverity(severity)
	c.Resolved = resolved != 0
	if t, parseErr := time.Parse(time.RFC3339, detectedAt); parseErr == nil {
		c.DetectedAt = t
	}

	if jsonErr := json.Unmarshal([]byte(idsJSON), &c.AutomationIDs); jsonErr != nil {
		return nil, fmt.Errorf("unmarshalling automation ids: %w", jsonErr)
	}
	if resolutionJSON.Valid && resolutionJSON.String != "" {
		var res ConflictResolution
		if jsonErr := json.Unmarshal([]byte(resolutionJSON.String), &res); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling resolution: %w", jsonErr)
		}
		c.Resolution = &res
	}

	return &c, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func marshalResolution(res *ConflictResolution) (sql.NullString, sql.NullString, error) {
	if res == nil {
		return sql.NullString{}, sql.NullString{}, nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true},
		sql.NullString{String: res.Timestamp.Format(time.RFC3339), Valid: true},
		nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// requireRow converts a zero-rows-affected result into notFound.
func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
