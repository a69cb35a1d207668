package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// DefaultMaxAttempts bounds retries before an item is parked for manual
// resolution. Zero disables the bound.
const DefaultMaxAttempts = 10

var (
	ErrNotFound        = errors.New("sync queue item not found")
	ErrDuplicateChange = errors.New("client change id already queued")
)

// Item is one pending mutation. ClientChangeID is generated once at enqueue
// time and never regenerated on retry.
type Item struct {
	ID             int64
	TenantID       string
	WorkOrderID    string
	Action         Action
	Payload        []byte
	BaseUpdatedAt  *time.Time
	CreatedAt      time.Time
	Attempts       int
	LastAttempt    *time.Time
	Synced         bool
	NeedsAttention bool
	ClientChangeID string
}

// Queue is the durable FIFO log of unsent mutations. Items are never removed
// on failure; cleanup happens only after they are marked synced.
type Queue struct {
	db          *sql.DB
	MaxAttempts int
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db, MaxAttempts: DefaultMaxAttempts}
}

const itemColumns = `id, tenant_id, work_order_id, action, payload, base_updated_at,
	created_at, attempts, last_attempt, is_synced, needs_attention, client_change_id`

// Add appends a pending item. Fails loudly if storage is unavailable; there
// is no queue for the queue. A duplicate client change id for the tenant
// returns ErrDuplicateChange.
func (q *Queue) Add(ctx context.Context, tenantID, workOrderID string, action Action, payload []byte, baseUpdatedAt *time.Time, clientChangeID string) (int64, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `INSERT INTO sync_queue
		(tenant_id, work_order_id, action, payload, base_updated_at, created_at, client_change_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := q.db.ExecContext(ctx, query,
		tenantID, workOrderID, string(action), string(payload),
		formatNullableTime(baseUpdatedAt), formatTime(time.Now()), clientChangeID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicateChange
		}
		return 0, fmt.Errorf("failed to enqueue sync item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue item id: %w", err)
	}

	return id, nil
}

// GetPending returns unsent items in FIFO order so causally dependent
// mutations to the same work order replay in the order they were made.
// Items parked for manual resolution are excluded.
func (q *Queue) GetPending(ctx context.Context, tenantID string) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM sync_queue
		WHERE tenant_id = ? AND is_synced = 0 AND needs_attention = 0`
	args := []any{tenantID}

	if q.MaxAttempts > 0 {
		query += ` AND attempts < ?`
		args = append(args, q.MaxAttempts)
	}
	query += ` ORDER BY created_at, id`

	return q.queryItems(ctx, query, args...)
}

// GetNeedsAttention returns unsent items that will no longer be drained:
// conflicted items and items past the attempt bound.
func (q *Queue) GetNeedsAttention(ctx context.Context, tenantID string) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM sync_queue
		WHERE tenant_id = ? AND is_synced = 0 AND (needs_attention = 1`
	args := []any{tenantID}

	if q.MaxAttempts > 0 {
		query += ` OR attempts >= ?`
		args = append(args, q.MaxAttempts)
	}
	query += `) ORDER BY created_at, id`

	return q.queryItems(ctx, query, args...)
}

// GetByClientID is the dedupe lookup used to avoid re-enqueuing a mutation
// that is already pending.
func (q *Queue) GetByClientID(ctx context.Context, tenantID, clientChangeID string) (*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM sync_queue
		WHERE tenant_id = ? AND client_change_id = ?`
	row := q.db.QueryRowContext(ctx, query, tenantID, clientChangeID)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up sync item: %w", err)
	}

	return item, nil
}

// MarkSynced is idempotent.
func (q *Queue) MarkSynced(ctx context.Context, id int64) error {
	query := `UPDATE sync_queue SET is_synced = 1, last_attempt = ? WHERE id = ?`
	_, err := q.db.ExecContext(ctx, query, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark sync item synced: %w", err)
	}

	return nil
}

// IncrementAttempts is called on any failure, transport or rejection, to
// drive backoff.
func (q *Queue) IncrementAttempts(ctx context.Context, id int64) error {
	query := `UPDATE sync_queue SET attempts = attempts + 1, last_attempt = ? WHERE id = ?`
	_, err := q.db.ExecContext(ctx, query, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to increment sync item attempts: %w", err)
	}

	return nil
}

// MarkNeedsAttention parks an item: it stays in the queue, unsynced, but is
// excluded from drain batches until the caller re-derives a corrected
// mutation.
func (q *Queue) MarkNeedsAttention(ctx context.Context, id int64) error {
	query := `UPDATE sync_queue SET needs_attention = 1, last_attempt = ? WHERE id = ?`
	_, err := q.db.ExecContext(ctx, query, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to park sync item: %w", err)
	}

	return nil
}

func (q *Queue) CountPending(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE tenant_id = ? AND is_synced = 0`,
		tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending sync items: %w", err)
	}

	return count, nil
}

// PruneSynced removes synced items whose last attempt is older than the
// cooldown cutoff, keeping recent outcomes visible for observability.
func (q *Queue) PruneSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE is_synced = 1 AND last_attempt < ?`,
		formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to prune synced items: %w", err)
	}

	return result.RowsAffected()
}

// RemapWorkOrder rewrites pending references to a temporary id once the
// server issues the real one.
func (q *Queue) RemapWorkOrder(ctx context.Context, oldID, newID string) error {
	query := `UPDATE sync_queue SET work_order_id = ? WHERE work_order_id = ? AND is_synced = 0`
	_, err := q.db.ExecContext(ctx, query, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to remap queue items: %w", err)
	}

	return nil
}

func (q *Queue) queryItems(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	var result []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item                   Item
		action, payload        string
		baseUpdated            sql.NullString
		createdAt, lastAttempt sql.NullString
		synced, needsAttention int
	)

	err := row.Scan(&item.ID, &item.TenantID, &item.WorkOrderID, &action, &payload,
		&baseUpdated, &createdAt, &item.Attempts, &lastAttempt, &synced,
		&needsAttention, &item.ClientChangeID)
	if err != nil {
		return nil, err
	}

	item.Action = Action(action)
	item.Payload = []byte(payload)
	item.Synced = synced != 0
	item.NeedsAttention = needsAttention != 0

	if item.BaseUpdatedAt, err = parseNullableTime(baseUpdated); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		if item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt.String); err != nil {
			return nil, err
		}
	}
	if item.LastAttempt, err = parseNullableTime(lastAttempt); err != nil {
		return nil, err
	}

	return &item, nil
}

// timeLayout is fixed-width so stored timestamps sort chronologically under
// SQLite's lexicographic TEXT comparison; RFC3339Nano trims trailing zeros
// and breaks that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
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
