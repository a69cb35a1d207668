package model

import "time"

// WorkOrder is the authoritative server-side row. UpdatedAt is the
// last-writer-wins timestamp; DeletedAt is a tombstone and is never cleared
// once set.
type WorkOrder struct {
	ID          string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	TenantID    string     `gorm:"column:tenant_id;index;type:varchar(64)" json:"tenant_id"`
	Title       string     `gorm:"column:title" json:"title"`
	Description string     `gorm:"column:description" json:"description"`
	Status      string     `gorm:"column:status;type:varchar(50)" json:"status"`
	Priority    string     `gorm:"column:priority;type:varchar(50)" json:"priority"`
	AssignedTo  *string    `gorm:"column:assigned_to" json:"assignedTo"`
	ScheduledAt *time.Time `gorm:"column:scheduled_at" json:"scheduledAt"`
	DueAt       *time.Time `gorm:"column:due_at" json:"dueAt"`

	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime:false" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"column:updated_at;index;autoUpdateTime:false" json:"updatedAt"`
	DeletedAt *time.Time `gorm:"column:deleted_at;index" json:"deletedAt"`
}

func (WorkOrder) TableName() string {
	return "work_orders"
}

// Deleted reports whether the tombstone is set.
func (w *WorkOrder) Deleted() bool {
	return w.DeletedAt != nil
}
