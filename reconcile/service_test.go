package reconcile

import (
	"testing"
	"time"

	"fieldserve.com/fieldserve/model"
	v1 "fieldserve.com/fieldserve/syncapi/v1"
	"fieldserve.com/fieldserve/utils"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.WorkOrder{}))

	return db
}

func newTestService(now time.Time) *Service {
	s := NewService()
	s.Now = func() time.Time { return now }
	return s
}

func seedWorkOrder(t *testing.T, db *gorm.DB, row *model.WorkOrder) {
	t.Helper()
	require.NoError(t, db.Create(row).Error)
}

func strp(s string) *string { return &s }

func TestApplyChangesCreate(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestService(now)

	resp := svc.ApplyChanges(db, "acme", &v1.WorkOrderChanges{
		Upserts: []v1.UpsertItem{
			{
				ClientChangeID: "c1",
				NewValues: v1.WorkOrderValues{
					Title:    strp("Replace filter"),
					Status:   strp("open"),
					Priority: strp("high"),
				},
			},
		},
	})

	require.Len(t, resp.Synced, 1)
	assert.Empty(t, resp.Conflicts)
	assert.Empty(t, resp.Rejected)

	res := resp.Synced[0]
	assert.Equal(t, "c1", res.ClientChangeID)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, now, res.UpdatedAt)

	var row model.WorkOrder
	require.NoError(t, db.First(&row, "id = ?", res.ID).Error)
	assert.Equal(t, "acme", row.TenantID)
	assert.Equal(t, "Replace filter", row.Title)
	assert.Equal(t, "open", row.Status)
	assert.Nil(t, row.DeletedAt)
}

func TestApplyChangesUpdateEqualBaseIsNotConflict(t *testing.T) {
	db := newTestDB(t)
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	seedWorkOrder(t, db, &model.WorkOrder{
		ID: "wo-1", TenantID: "acme", Title: "Byt filter",
		Status: "open", CreatedAt: t1, UpdatedAt: t1,
	})

	svc := newTestService(t2)
	resp := svc.ApplyChanges(db, "acme", &v1.WorkOrderChanges{
		Upserts: []v1.UpsertItem{
			{
				ClientChangeID: "c2",
				ID:             "wo-1",
				BaseUpdatedAt:  &t1,
				NewValues:      v1.WorkOrderValues{Title: strp("Byt filter V2")},
			},
		},
	})

	require.Len(t, resp.Synced, 1)
	assert.Equal(t, t2, resp.Synced[0].UpdatedAt)

	var row model.WorkOrder
	require.NoError(t, db.First(&row, "id = ?", "wo-1").Error)
	assert.Equal(t, "Byt filter V2", row.Title)
	assert.Equal(t, "open", row.Status)
	assert.True(t, row.UpdatedAt.Equal(t2))
}

func TestApplyChangesStaleBaseIsConflict(t *testing.T) {
	db := newTestDB(t)
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)

	seedWorkOrder(t, db, &model.WorkOrder{
		ID: "wo-1", TenantID: "acme", Title: "Byt filter V2",
		Status: "open", CreatedAt: t1, UpdatedAt: t2,
	})

	svc := newTestService(t3)
	resp := svc.ApplyChanges(db, "acme", &v1.WorkOrderChanges{
		Upserts: []v1.UpsertItem{
			{
				ClientChangeID: "c3",
				ID:             "wo-1",
				BaseUpdatedAt:  &t1,
				NewValues:      v1.WorkOrderValues{Title: strp("Second device edit")},
			},
		},
	})

	assert.Empty(t, resp.Synced)
	require.Len(t, resp.Conflicts, 1)

	conflict := resp.Conflicts[0]
	assert.Equal(t, "c3", conflict.ClientChangeID)
	assert.Equal(t, "wo-1", conflict.ID)
	assert.Equal(t, "Byt filter V2", conflict.Server.Title)
	assert.True(t, conflict.Server.UpdatedAt.Equal(t2))

	// server row untouched
	var row model.WorkOrder
	require.NoError(t, db.First(&row, "id = ?", "wo-1").Error)
	assert.Equal(t, "Byt filter V2", row.Title)
	assert.True(t, row.UpdatedAt.Equal(t2))
}

func TestApplyChangesDuplicateDeliveryIsSynced(t *testing.T) {
	db := newTestDB(t)
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	seedWorkOrder(t, db, &model.WorkOrder{
		ID: "wo-1", TenantID: "acme", Title: "Byt filter",
		Status: "open", CreatedAt: t1, UpdatedAt: t1,
	})

	item := v1.UpsertItem{
		ClientChangeID: "c4",
		ID:             "wo-1",
		BaseUpdatedAt:  &t1,
		NewValues:      v1.WorkOrderValues{Title: strp("Byt filter V2")},
	}

	svc := newTestService(t2)
	first := svc.ApplyChanges(db, "acme", &v1.WorkOrderChanges{Upserts: []v1.UpsertItem{item}})
	require.Len(t, first.Synced, 1)

	// Same change delivered again: server state is newer than base, but the
	// values already match, so the duplicate is acknowledged, not conflicted.
	second := svc.ApplyChanges(db, "acme", &v1.WorkOrderChanges{Upserts: []v1.UpsertItem{item}})
	require.Len(t, second.Synced, 1)
	assert.Empty(t, second.Conflicts)
	assert.True(t, second.Synced[0].UpdatedAt.Equal(t2))

	var row model.WorkOrder
	require.NoError(t, db.First(&row, "id = ?", "wo-1").Error)
	assert.Equal(t, "Byt filter V2", row.Title)
	assert.True(t, row.UpdatedAt.Equal(t2))
}

func TestApplyChangesRejections(t *testing.T) {
	db := newTestDB(t)
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedWorkOrder(t, db, &model.WorkOrder{
		ID: "wo-1", TenantID: "acme", Title: "Existing",
		CreatedAt: t1, UpdatedAt: t1,
	})

	svc := newTestService(t1.Add(time.Minute))

	tests := []struct {
		name string
		item v1.UpsertItem
	}{
		{
			name: "unknown id",
			item: v1.UpsertItem{
				ClientChangeID: "r1",
				ID:             "wo-missing",
				BaseUpdatedAt:  &t1,
				NewValues:      v1.WorkOrderValues{Title: strp("x")},
			},
		},
		{
			name: "missing base timestamp",
			item: v1.UpsertItem{
				ClientChangeID: "r2",
				ID:             "wo-1",
				NewValues:      v1.WorkOrderValues{Title: strp("x")},
			},
		},
		{
			name: "wrong tenant",
			item: v1.UpsertItem{
				ClientChangeID: "r3",
				ID:             "wo-1",
				BaseUpdatedAt:  &t1,
				NewValues:      v1.WorkOrderValues{Title: strp("x")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant := "acme"
			if tt.name == "wrong tenant" {
				tenant = "globex"
			}
			resp := svc.ApplyChanges(db, tenant, &v1.WorkOrderChanges{Upserts: []v1.UpsertItem{tt.item}})
			assert.Empty(t, resp.Synced)
			assert.Empty(t, resp.Conflicts)
			require.Len(t, resp.Rejected, 1)
			assert.Equal(t, tt.item.ClientChangeID, resp.Rejected[0].ClientChangeID)
			assert.NotEmpty(t, resp.Rejected[0].Reason)
		})
	}
}

func TestApplyChangesPartialBatch(t *testing.T) {
	db := newTestDB(t)
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedWorkOrder(t, db, &model.WorkOrder{
		ID: "wo-1", TenantID: "acme", Title: "Existing",
		CreatedAt: t1, UpdatedAt: t1,
	})

	svc := newTestService(t1.Add(time.Minute))
	resp := svc.ApplyChanges(db, "acme", &v1.WorkOrderChanges{
		Upserts: []v1.UpsertItem{
			{ClientChangeID: "ok", ID: "wo-1", BaseUpdatedAt: &t1, NewValues: v1.WorkOrderValues{Title: strp("Changed")}},
			{ClientChangeID: "bad", ID: "wo-missing", BaseUpdatedAt: &t1, NewValues: v1.WorkOrderValues{Title: strp("x")}},
		},
	})

	assert.Len(t, resp.Synced, 1)
	assert.Len(t, resp.Rejected, 1)
	assert.Equal(t, "ok", resp.Synced[0].ClientChangeID)
	assert.Equal(t, "bad", resp.Rejected[0].ClientChangeID)
}

func TestApplyChangesDeleteIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	seedWorkOrder(t, db, &model.WorkOrder{
		ID: "wo-1", TenantID: "acme", Title: "Doomed",
		CreatedAt: t1, UpdatedAt: t1,
	})

	svc := newTestService(t2)
	del := v1.DeleteItem{ClientChangeID: "d1", ID: "wo-1"}

	first := svc.ApplyChanges(db, "acme", &v1.WorkOrderChanges{Deletes: []v1.DeleteItem{del}})
	require.Len(t, first.Synced, 1)

	var row model.WorkOrder
	require.NoError(t, db.First(&row, "id = ?", "wo-1").Error)
	require.NotNil(t, row.DeletedAt)
	assert.True(t, row.DeletedAt.Equal(t2))
	assert.True(t, row.UpdatedAt.Equal(t2))

	// Deleting again is a no-op that still reports synced.
	second := svc.ApplyChanges(db, "acme", &v1.WorkOrderChanges{Deletes: []v1.DeleteItem{del}})
	require.Len(t, second.Synced, 1)
	assert.Empty(t, second.Rejected)

	require.NoError(t, db.First(&row, "id = ?", "wo-1").Error)
	assert.True(t, row.DeletedAt.Equal(t2))

	// Unknown ids are treated the same way.
	third := svc.ApplyChanges(db, "acme", &v1.WorkOrderChanges{
		Deletes: []v1.DeleteItem{{ClientChangeID: "d2", ID: "wo-never"}},
	})
	require.Len(t, third.Synced, 1)
}

func TestApplyChangesTombstoneIsMonotonic(t *testing.T) {
	db := newTestDB(t)
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)

	deleted := t2
	seedWorkOrder(t, db, &model.WorkOrder{
		ID: "wo-1", TenantID: "acme", Title: "Deleted elsewhere",
		CreatedAt: t1, UpdatedAt: t2, DeletedAt: &deleted,
	})

	// An update unaware of the delete, based on the delete's timestamp.
	svc := newTestService(t3)
	resp := svc.ApplyChanges(db, "acme", &v1.WorkOrderChanges{
		Upserts: []v1.UpsertItem{
			{ClientChangeID: "u1", ID: "wo-1", BaseUpdatedAt: &t2, NewValues: v1.WorkOrderValues{Title: strp("Still editing")}},
		},
	})
	require.Len(t, resp.Synced, 1)

	var row model.WorkOrder
	require.NoError(t, db.First(&row, "id = ?", "wo-1").Error)
	assert.Equal(t, "Still editing", row.Title)
	assert.True(t, row.UpdatedAt.Equal(t3))
	require.NotNil(t, row.DeletedAt)
	assert.True(t, row.DeletedAt.Equal(t2))
}

func TestListChangedSince(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"wo-1", "wo-2", "wo-3"} {
		seedWorkOrder(t, db, &model.WorkOrder{
			ID: id, TenantID: "acme", Title: id,
			CreatedAt: base, UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	// a row deleted after its last update is still reported
	deleted := base.Add(10 * time.Minute)
	seedWorkOrder(t, db, &model.WorkOrder{
		ID: "wo-4", TenantID: "acme", Title: "wo-4",
		CreatedAt: base, UpdatedAt: deleted, DeletedAt: &deleted,
	})
	// other tenants never leak
	seedWorkOrder(t, db, &model.WorkOrder{
		ID: "wo-5", TenantID: "globex", Title: "wo-5",
		CreatedAt: base, UpdatedAt: base.Add(time.Hour),
	})

	wall := base.Add(time.Hour)
	svc := newTestService(wall)

	rows, cursor, err := svc.ListChangedSince(db, "acme", base, 500)
	require.NoError(t, err)
	assert.Equal(t, wall, cursor)

	ids := utils.Map(rows, func(r model.WorkOrder) string { return r.ID })
	// wo-1 has updated_at == since and is excluded; order ascending
	assert.Equal(t, []string{"wo-2", "wo-3", "wo-4"}, ids)

	// zero since returns everything for the tenant
	rows, _, err = svc.ListChangedSince(db, "acme", time.Time{}, 500)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	// limit is honored
	rows, _, err = svc.ListChangedSince(db, "acme", time.Time{}, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
