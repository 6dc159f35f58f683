// Package audit stores the command log: one entry per device job the
// dispatcher finished, with its outcome.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-actionbridge/internal/dispatch"
)

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ErrNotFound is returned by Get when no entry has the requested ID.
var ErrNotFound = errors.New("audit: command log entry not found")

// CommandLog is one finished device job.
type CommandLog struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Device      string    `json:"device"`
	Action      string    `json:"action"`
	Source      string    `json:"source"`
	Result      string    `json:"result"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	DurationMS  int64     `json:"duration_ms"`
	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// FromOutcome converts a dispatcher outcome to a log entry.
func FromOutcome(o dispatch.Outcome) *CommandLog {
	entry := &CommandLog{
		JobID:       o.Job.ID,
		Device:      o.Job.Device,
		Action:      o.Job.Action(),
		Source:      o.Job.Source,
		Result:      o.Result(),
		Attempts:    o.Attempts,
		DurationMS:  o.Duration().Milliseconds(),
		SubmittedAt: o.Job.SubmittedAt,
		FinishedAt:  o.FinishedAt,
	}
	if o.Err != nil {
		entry.Error = o.Err.Error()
	}
	return entry
}

// Filter controls which entries List returns.
type Filter struct {
	Device string // optional
	Result string // optional: success, device_error, unknown_device, ...
	Source string // optional: mqtt or api
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult is one page of command log entries.
type ListResult struct {
	Commands []CommandLog `json:"commands"`
	Total    int          `json:"total"`
	Limit    int          `json:"limit"`
	Offset   int          `json:"offset"`
}

// Repository defines the command log operations.
type Repository interface {
	Create(ctx context.Context, entry *CommandLog) error
	Get(ctx context.Context, id string) (*CommandLog, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the command log in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a command log repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID and FinishedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *CommandLog) error {
	if entry.ID == "" {
		entry.ID = "cmd-" + uuid.NewString()[:8]
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now().UTC()
	}
	if entry.SubmittedAt.IsZero() {
		entry.SubmittedAt = entry.FinishedAt
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, job_id, device, action, source, result, error, attempts, duration_ms, submitted_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.JobID, entry.Device, entry.Action, entry.Source, entry.Result,
		nullableString(entry.Error), entry.Attempts, entry.DurationMS,
		formatTime(entry.SubmittedAt), formatTime(entry.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// Get returns the entry with the given ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*CommandLog, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+columns+" FROM command_log WHERE id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Device != "" {
		conditions = append(conditions, "device = ?")
		args = append(args, filter.Device)
	}
	if filter.Result != "" {
		conditions = append(conditions, "result = ?")
		args = append(args, filter.Result)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM command_log " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command log: %w", err)
	}

	query := "SELECT " + columns + " FROM command_log " + where + //nolint:gosec // WHERE built from parameterised conditions
		" ORDER BY finished_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	commands := []CommandLog{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return &ListResult{
		Commands: commands,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}

// timeLayout has fixed-width fractional seconds so stored values sort
// lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const columns = "id, job_id, device, action, source, result, error, attempts, duration_ms, submitted_at, finished_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*CommandLog, error) {
	var entry CommandLog
	var errText sql.NullString
	var submittedAt, finishedAt string

	if err := s.Scan(&entry.ID, &entry.JobID, &entry.Device, &entry.Action, &entry.Source,
		&entry.Result, &errText, &entry.Attempts, &entry.DurationMS, &submittedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning command log: %w", err)
	}

	entry.Error = errText.String

	var err error
	if entry.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt); err != nil {
		return nil, fmt.Errorf("parsing submitted_at %q: %w", submittedAt, err)
	}
	if entry.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return nil, fmt.Errorf("parsing finished_at %q: %w", finishedAt, err)
	}
	return &entry, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullableString maps "" to NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
