package reconcile

import (
	"errors"
	"fmt"
	"time"

	"fieldserve.com/fieldserve/model"
	v1 "fieldserve.com/fieldserve/syncapi/v1"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service applies pushed change batches against the authoritative work-order
// table. Each item is handled against its own row; a batch can partially
// succeed. Conflict detection is last-writer-wins on updated_at: a server row
// strictly newer than the client's base wins.
type Service struct {
	Now func() time.Time
}

func NewService() *Service {
	return &Service{Now: time.Now}
}

// ApplyChanges processes upserts then deletes, in submitted order, and returns
// one outcome per item keyed by client_change_id.
func (s *Service) ApplyChanges(db *gorm.DB, tenantID string, changes *v1.WorkOrderChanges) *v1.PushResponse {
	resp := &v1.PushResponse{
		Synced:    []v1.SyncedResult{},
		Conflicts: []v1.ConflictResult{},
		Rejected:  []v1.RejectedResult{},
	}

	for _, item := range changes.Upserts {
		s.applyUpsert(db, tenantID, item, resp)
	}
	for _, item := range changes.Deletes {
		s.applyDelete(db, tenantID, item, resp)
	}

	return resp
}

func (s *Service) applyUpsert(db *gorm.DB, tenantID string, item v1.UpsertItem, resp *v1.PushResponse) {
	now := s.Now().UTC()

	if item.ID == "" {
		row := model.WorkOrder{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		applyValues(&row, &item.NewValues)

		if err := db.Create(&row).Error; err != nil {
			resp.Rejected = append(resp.Rejected, v1.RejectedResult{
				ClientChangeID: item.ClientChangeID,
				Reason:         fmt.Sprintf("failed to insert work order: %v", err),
			})
			return
		}

		resp.Synced = append(resp.Synced, v1.SyncedResult{
			ClientChangeID: item.ClientChangeID,
			ID:             row.ID,
			UpdatedAt:      row.UpdatedAt,
		})
		return
	}

	var row model.WorkOrder
	err := db.Where("id = ? AND tenant_id = ?", item.ID, tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		resp.Rejected = append(resp.Rejected, v1.RejectedResult{
			ClientChangeID: item.ClientChangeID,
			Reason:         fmt.Sprintf("work order %s not found", item.ID),
		})
		return
	}
	if err != nil {
		resp.Rejected = append(resp.Rejected, v1.RejectedResult{
			ClientChangeID: item.ClientChangeID,
			Reason:         fmt.Sprintf("failed to fetch work order %s: %v", item.ID, err),
		})
		return
	}

	if item.BaseUpdatedAt == nil {
		resp.Rejected = append(resp.Rejected, v1.RejectedResult{
			ClientChangeID: item.ClientChangeID,
			Reason:         "base_updated_at is required when id is present",
		})
		return
	}

	// Strictly greater means someone else wrote since the client's base;
	// equality is forward progress for a caught-up client. A duplicate
	// delivery whose values are already reflected on the row is recognized
	// as the same operation and acknowledged rather than conflicted.
	if row.UpdatedAt.After(*item.BaseUpdatedAt) {
		if valuesReflected(&row, &item.NewValues) {
			resp.Synced = append(resp.Synced, v1.SyncedResult{
				ClientChangeID: item.ClientChangeID,
				ID:             row.ID,
				UpdatedAt:      row.UpdatedAt,
			})
			return
		}
		resp.Conflicts = append(resp.Conflicts, v1.ConflictResult{
			ClientChangeID: item.ClientChangeID,
			ID:             row.ID,
			Server:         row,
		})
		return
	}

	applyValues(&row, &item.NewValues)
	row.UpdatedAt = now

	if err := db.Save(&row).Error; err != nil {
		resp.Rejected = append(resp.Rejected, v1.RejectedResult{
			ClientChangeID: item.ClientChangeID,
			Reason:         fmt.Sprintf("failed to update work order %s: %v", item.ID, err),
		})
		return
	}

	resp.Synced = append(resp.Synced, v1.SyncedResult{
		ClientChangeID: item.ClientChangeID,
		ID:             row.ID,
		UpdatedAt:      row.UpdatedAt,
	})
}

func (s *Service) applyDelete(db *gorm.DB, tenantID string, item v1.DeleteItem, resp *v1.PushResponse) {
	now := s.Now().UTC()

	var row model.WorkOrder
	err := db.Where("id = ? AND tenant_id = ?", item.ID, tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Deleting a row the server never saw (or already purged) is a no-op.
		resp.Synced = append(resp.Synced, v1.SyncedResult{
			ClientChangeID: item.ClientChangeID,
			ID:             item.ID,
			UpdatedAt:      now,
		})
		return
	}
	if err != nil {
		resp.Rejected = append(resp.Rejected, v1.RejectedResult{
			ClientChangeID: item.ClientChangeID,
			Reason:         fmt.Sprintf("failed to fetch work order %s: %v", item.ID, err),
		})
		return
	}

	if row.Deleted() {
		resp.Synced = append(resp.Synced, v1.SyncedResult{
			ClientChangeID: item.ClientChangeID,
			ID:             row.ID,
			UpdatedAt:      row.UpdatedAt,
		})
		return
	}

	row.DeletedAt = &now
	row.UpdatedAt = now

	if err := db.Save(&row).Error; err != nil {
		resp.Rejected = append(resp.Rejected, v1.RejectedResult{
			ClientChangeID: item.ClientChangeID,
			Reason:         fmt.Sprintf("failed to delete work order %s: %v", item.ID, err),
		})
		return
	}

	resp.Synced = append(resp.Synced, v1.SyncedResult{
		ClientChangeID: item.ClientChangeID,
		ID:             row.ID,
		UpdatedAt:      row.UpdatedAt,
	})
}

// ListChangedSince returns rows changed after since, ordered ascending, plus
// the cursor for the next pull. The cursor is the server's wall-clock time at
// response construction, not the max updated_at seen.
func (s *Service) ListChangedSince(db *gorm.DB, tenantID string, since time.Time, limit int) ([]model.WorkOrder, time.Time, error) {
	var rows []model.WorkOrder

	q := db.Where("tenant_id = ?", tenantID)
	if !since.IsZero() {
		q = q.Where("updated_at > ? OR deleted_at > ?", since, since)
	}

	err := q.Order("updated_at ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to list changed work orders: %w", err)
	}

	return rows, s.Now().UTC(), nil
}

// valuesReflected reports whether every submitted field already holds the
// submitted value on the row.
func valuesReflected(row *model.WorkOrder, values *v1.WorkOrderValues) bool {
	if values.Title != nil && row.Title != *values.Title {
		return false
	}
	if values.Description != nil && row.Description != *values.Description {
		return false
	}
	if values.Status != nil && row.Status != *values.Status {
		return false
	}
	if values.Priority != nil && row.Priority != *values.Priority {
		return false
	}
	if values.AssignedTo != nil && (row.AssignedTo == nil || *row.AssignedTo != *values.AssignedTo) {
		return false
	}
	if values.ScheduledAt != nil && (row.ScheduledAt == nil || !row.ScheduledAt.Equal(*values.ScheduledAt)) {
		return false
	}
	if values.DueAt != nil && (row.DueAt == nil || !row.DueAt.Equal(*values.DueAt)) {
		return false
	}
	return true
}

// applyValues copies non-nil fields onto the row. The tombstone is never
// touched here: an upsert racing a delete updates fields but deleted_at stays.
func applyValues(row *model.WorkOrder, values *v1.WorkOrderValues) {
	if values.Title != nil {
		row.Title = *values.Title
	}
	if values.Description != nil {
		row.Description = *values.Description
	}
	if values.Status != nil {
		row.Status = *values.Status
	}
	if values.Priority != nil {
		row.Priority = *values.Priority
	}
	if values.AssignedTo != nil {
		row.AssignedTo = values.AssignedTo
	}
	if values.ScheduledAt != nil {
		row.ScheduledAt = values.ScheduledAt
	}
	if values.DueAt != nil {
		row.DueAt = values.DueAt
	}
}
