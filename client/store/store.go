package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("work order not found")

// TempIDPrefix marks client-issued identifiers that have not yet been
// remapped to a server-issued id.
const TempIDPrefix = "tmp_"

func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Snapshot is the client's local copy of a work order. Synced is false while
// a local mutation is still awaiting server acknowledgment.
type Snapshot struct {
	ID          string
	TenantID    string
	Title       string
	Description string
	Status      string
	Priority    string
	AssignedTo  *string
	ScheduledAt *time.Time
	DueAt       *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
	Synced      bool
}

// Store is a dumb snapshot table keyed by id. No business validation happens
// here; callers decide what goes in.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const snapshotColumns = `id, tenant_id, title, description, status, priority,
	assigned_to, scheduled_at, due_at, created_at, updated_at, deleted_at, is_synced`

func (s *Store) Get(ctx context.Context, id string) (*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM work_orders WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work order: %w", err)
	}

	return snap, nil
}

func (s *Store) Put(ctx context.Context, snap *Snapshot) error {
	query := `INSERT INTO work_orders (` + snapshotColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			assigned_to = excluded.assigned_to,
			scheduled_at = excluded.scheduled_at,
			due_at = excluded.due_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			is_synced = excluded.is_synced`

	_, err := s.db.ExecContext(ctx, query,
		snap.ID, snap.TenantID, snap.Title, snap.Description, snap.Status, snap.Priority,
		snap.AssignedTo, formatNullableTime(snap.ScheduledAt), formatNullableTime(snap.DueAt),
		formatTime(snap.CreatedAt), formatTime(snap.UpdatedAt), formatNullableTime(snap.DeletedAt),
		boolToInt(snap.Synced))
	if err != nil {
		return fmt.Errorf("failed to put work order: %w", err)
	}

	return nil
}

func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM work_orders WHERE tenant_id = ? ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list work orders: %w", err)
	}
	defer rows.Close()

	var result []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *snap)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// SoftDelete stamps the tombstone. A snapshot already deleted keeps its
// original deleted_at; the tombstone is monotonic.
func (s *Store) SoftDelete(ctx context.Context, id string, when time.Time) error {
	query := `UPDATE work_orders SET deleted_at = ?, is_synced = 0
		WHERE id = ? AND deleted_at IS NULL`
	_, err := s.db.ExecContext(ctx, query, formatTime(when), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete work order: %w", err)
	}

	return nil
}

// RemapID replaces a temporary id with the server-issued one. Called exactly
// once, when the corresponding create is first acknowledged.
func (s *Store) RemapID(ctx context.Context, oldID, newID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE work_orders SET id = ? WHERE id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to remap work order id: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Cursor returns the tenant's pull cursor, or the zero time when no pull has
// completed yet.
func (s *Store) Cursor(ctx context.Context, tenantID string) (time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT pull_cursor FROM sync_metadata WHERE tenant_id = ?`, tenantID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read pull cursor: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse pull cursor: %w", err)
	}

	return t, nil
}

func (s *Store) SetCursor(ctx context.Context, tenantID string, cursor time.Time) error {
	query := `INSERT INTO sync_metadata (tenant_id, pull_cursor) VALUES (?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET pull_cursor = excluded.pull_cursor`
	_, err := s.db.ExecContext(ctx, query, tenantID, formatTime(cursor))
	if err != nil {
		return fmt.Errorf("failed to set pull cursor: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var (
		snap                            Snapshot
		assignedTo                      sql.NullString
		scheduledAt, dueAt              sql.NullString
		createdAt, updatedAt, deletedAt sql.NullString
		synced                          int
	)

	err := row.Scan(&snap.ID, &snap.TenantID, &snap.Title, &snap.Description,
		&snap.Status, &snap.Priority, &assignedTo, &scheduledAt, &dueAt,
		&createdAt, &updatedAt, &deletedAt, &synced)
	if err != nil {
		return nil, err
	}

	if assignedTo.Valid {
		snap.AssignedTo = &assignedTo.String
	}
	if snap.ScheduledAt, err = parseNullableTime(scheduledAt); err != nil {
		return nil, err
	}
	if snap.DueAt, err = parseNullableTime(dueAt); err != nil {
		return nil, err
	}
	if snap.CreatedAt, err = parseRequiredTime(createdAt); err != nil {
		return nil, err
	}
	if snap.UpdatedAt, err = parseRequiredTime(updatedAt); err != nil {
		return nil, err
	}
	if snap.DeletedAt, err = parseNullableTime(deletedAt); err != nil {
		return nil, err
	}
	snap.Synced = synced != 0

	return &snap, nil
}

// timeLayout is fixed-width so stored timestamps sort chronologically under
// SQLite's lexicographic TEXT comparison; RFC3339Nano trims trailing zeros
// and breaks that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseRequiredTime(raw sql.NullString) (time.Time, error) {
	if !raw.Valid {
		return time.Time{}, errors.New("missing timestamp")
	}
	return time.Parse(time.RFC3339Nano, raw.String)
}

func parseNullableTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
