package store

import "fieldserve.com/fieldserve/model"

// FromWorkOrder builds a snapshot from a server-authoritative row.
func FromWorkOrder(row model.WorkOrder, synced bool) *Snapshot {
	return &Snapshot{
		ID:          row.ID,
		TenantID:    row.TenantID,
		Title:       row.Title,
		Description: row.Description,
		Status:      row.Status,
		Priority:    row.Priority,
		AssignedTo:  row.AssignedTo,
		ScheduledAt: row.ScheduledAt,
		DueAt:       row.DueAt,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		DeletedAt:   row.DeletedAt,
		Synced:      synced,
	}
}
