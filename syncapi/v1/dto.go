package v1

import (
	"time"

	"fieldserve.com/fieldserve/model"
)

// WorkOrderValues is a partial diff of work-order business fields. Nil fields
// are left untouched when the server applies the change.
type WorkOrderValues struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	AssignedTo  *string    `json:"assigned_to,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// UpsertItem applies NewValues onto ID given BaseUpdatedAt. An absent ID means
// the server issues a new one (create).
type UpsertItem struct {
	ClientChangeID string          `json:"client_change_id" binding:"required"`
	ID             string          `json:"id,omitempty"`
	BaseUpdatedAt  *time.Time      `json:"base_updated_at,omitempty"`
	NewValues      WorkOrderValues `json:"new_values"`
}

type DeleteItem struct {
	ClientChangeID string `json:"client_change_id" binding:"required"`
	ID             string `json:"id" binding:"required"`
}

// The dive tags make binding validate each batch item, so a missing
// client_change_id rejects the request instead of slipping through.
type WorkOrderChanges struct {
	Upserts []UpsertItem `json:"upserts" binding:"dive"`
	Deletes []DeleteItem `json:"deletes" binding:"dive"`
}

type ChangeSet struct {
	WorkOrders WorkOrderChanges `json:"work_orders"`
}

type PushRequest struct {
	TenantID string    `json:"tenant_id" binding:"required"`
	Changes  ChangeSet `json:"changes" binding:"required"`
}

type SyncedResult struct {
	ClientChangeID string    `json:"client_change_id"`
	ID             string    `json:"id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ConflictResult carries the server's current authoritative row so the caller
// can re-derive a mutation against the fresh base.
type ConflictResult struct {
	ClientChangeID string          `json:"client_change_id"`
	ID             string          `json:"id"`
	Server         model.WorkOrder `json:"server"`
}

type RejectedResult struct {
	ClientChangeID string `json:"client_change_id"`
	Reason         string `json:"reason"`
}

type PushResponse struct {
	Synced    []SyncedResult   `json:"synced"`
	Conflicts []ConflictResult `json:"conflicts"`
	Rejected  []RejectedResult `json:"rejected"`
}

type PullResponse struct {
	Cursor time.Time         `json:"cursor"`
	Data   []model.WorkOrder `json:"data"`
}
