package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldserve.com/fieldserve/client/queue"
	"fieldserve.com/fieldserve/client/store"
	v1 "fieldserve.com/fieldserve/syncapi/v1"
	"github.com/google/uuid"
)

// CreateLocal records a new work order optimistically under a temporary id
// and queues the create for the next drain cycle.
func (e *Engine) CreateLocal(ctx context.Context, values v1.WorkOrderValues) (*store.Snapshot, error) {
	now := time.Now().UTC()
	snap := &store.Snapshot{
		ID:        store.NewTempID(),
		TenantID:  e.tenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyLocalValues(snap, &values)

	if err := e.store.Put(ctx, snap); err != nil {
		return nil, err
	}

	if err := e.enqueue(ctx, snap.ID, queue.ActionCreate, &values, nil); err != nil {
		return nil, err
	}

	return snap, nil
}

// UpdateLocal applies an edit optimistically and queues the update carrying
// the snapshot's current updated_at as the conflict-detection base.
func (e *Engine) UpdateLocal(ctx context.Context, id string, values v1.WorkOrderValues) (*store.Snapshot, error) {
	snap, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap.DeletedAt != nil {
		return nil, fmt.Errorf("work order %s is deleted", id)
	}

	base := snap.UpdatedAt
	applyLocalValues(snap, &values)
	snap.Synced = false

	if err := e.store.Put(ctx, snap); err != nil {
		return nil, err
	}

	if err := e.enqueue(ctx, id, queue.ActionUpdate, &values, &base); err != nil {
		return nil, err
	}

	return snap, nil
}

// DeleteLocal sets the local tombstone immediately and queues the delete for
// server confirmation.
func (e *Engine) DeleteLocal(ctx context.Context, id string) error {
	if _, err := e.store.Get(ctx, id); err != nil {
		return err
	}

	if err := e.store.SoftDelete(ctx, id, time.Now().UTC()); err != nil {
		return err
	}

	return e.enqueue(ctx, id, queue.ActionDelete, nil, nil)
}

// enqueue generates the idempotency key. The key is created exactly once
// here; retries of the same logical mutation reuse the stored item.
func (e *Engine) enqueue(ctx context.Context, workOrderID string, action queue.Action, values *v1.WorkOrderValues, base *time.Time) error {
	var payload []byte
	if values != nil {
		var err error
		if payload, err = json.Marshal(values); err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
	}

	_, err := e.queue.Add(ctx, e.tenantID, workOrderID, action, payload, base, uuid.NewString())
	return err
}

func applyLocalValues(snap *store.Snapshot, values *v1.WorkOrderValues) {
	if values.Title != nil {
		snap.Title = *values.Title
	}
	if values.Description != nil {
		snap.Description = *values.Description
	}
	if values.Status != nil {
		snap.Status = *values.Status
	}
	if values.Priority != nil {
		snap.Priority = *values.Priority
	}
	if values.AssignedTo != nil {
		snap.AssignedTo = values.AssignedTo
	}
	if values.ScheduledAt != nil {
		snap.ScheduledAt = values.ScheduledAt
	}
	if values.DueAt != nil {
		snap.DueAt = values.DueAt
	}
}
