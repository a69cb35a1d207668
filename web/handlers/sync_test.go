package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldserve.com/fieldserve/model"
	"fieldserve.com/fieldserve/security"
	v1 "fieldserve.com/fieldserve/syncapi/v1"
	"fieldserve.com/fieldserve/web/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB satisfies DB against a single local database, ignoring the schema
// the tenant router would normally select.
type testDB struct {
	db *gorm.DB
}

func (t *testDB) Exec(ctx context.Context, schema string, fn func(db *gorm.DB) error) error {
	return fn(t.db)
}

type recordingNotifier struct {
	messages chan string
}

func (n *recordingNotifier) Info(message string) error {
	n.messages <- message
	return nil
}

func newTestRouter(t *testing.T, notifier Notifier) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.WorkOrder{}))

	r := gin.New()
	Register(&r.RouterGroup, &testDB{db: db}, notifier)
	return r, db
}

func doJSON(r *gin.Engine, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func strp(s string) *string { return &s }

func TestPushRejectsMalformedBody(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := doJSON(r, http.MethodPost, "/sync/work-orders", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Request body is empty")

	w = doJSON(r, http.MethodPost, "/sync/work-orders", map[string]any{
		"changes": map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "tenant_id")
}

func TestPushRejectsMissingClientChangeID(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := doJSON(r, http.MethodPost, "/sync/work-orders", map[string]any{
		"tenant_id": "acme",
		"changes": map[string]any{
			"work_orders": map[string]any{
				"upserts": []map[string]any{
					{"new_values": map[string]any{"title": "x"}},
				},
			},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "client_change_id")
}

func TestPushAndPullRoundTrip(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := doJSON(r, http.MethodPost, "/sync/work-orders", v1.PushRequest{
		TenantID: "acme",
		Changes: v1.ChangeSet{WorkOrders: v1.WorkOrderChanges{
			Upserts: []v1.UpsertItem{{
				ClientChangeID: "c1",
				NewValues: v1.WorkOrderValues{
					Title: strp("Replace filter"), Status: strp("open"), Priority: strp("high"),
				},
			}},
		}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var pushResp v1.PushResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pushResp))
	require.Len(t, pushResp.Synced, 1)
	assert.Equal(t, "c1", pushResp.Synced[0].ClientChangeID)
	require.NotEmpty(t, pushResp.Synced[0].ID)

	w = doJSON(r, http.MethodGet, "/sync/work-orders?tenant_id=acme", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var pullResp v1.PullResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pullResp))
	require.Len(t, pullResp.Data, 1)
	assert.Equal(t, pushResp.Synced[0].ID, pullResp.Data[0].ID)
	assert.Equal(t, "Replace filter", pullResp.Data[0].Title)
	assert.False(t, pullResp.Cursor.IsZero())

	// A pull from the fresh cursor sees nothing new.
	since := pullResp.Cursor.Format(time.RFC3339Nano)
	w = doJSON(r, http.MethodGet, "/sync/work-orders?tenant_id=acme&since="+since, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pullResp))
	assert.Empty(t, pullResp.Data)
}

func TestPullValidation(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := doJSON(r, http.MethodGet, "/sync/work-orders", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodGet, "/sync/work-orders?tenant_id=acme&since=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid since cursor")

	w = doJSON(r, http.MethodGet, "/sync/work-orders?tenant_id=acme&limit=-5", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid limit")
}

func TestPullHonorsLimit(t *testing.T) {
	r, db := newTestRouter(t, nil)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"wo-1", "wo-2", "wo-3"} {
		require.NoError(t, db.Create(&model.WorkOrder{
			ID: id, TenantID: "acme", Title: id,
			CreatedAt: base, UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	w := doJSON(r, http.MethodGet, "/sync/work-orders?tenant_id=acme&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp v1.PullResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestPushNotifiesOnAppliedChanges(t *testing.T) {
	notifier := &recordingNotifier{messages: make(chan string, 1)}
	r, _ := newTestRouter(t, notifier)

	w := doJSON(r, http.MethodPost, "/sync/work-orders", v1.PushRequest{
		TenantID: "acme",
		Changes: v1.ChangeSet{WorkOrders: v1.WorkOrderChanges{
			Upserts: []v1.UpsertItem{{
				ClientChangeID: "c1",
				NewValues:      v1.WorkOrderValues{Title: strp("Replace filter")},
			}},
		}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case msg := <-notifier.messages:
		assert.Contains(t, msg, "acme")
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}
}

func TestAuthenticatedTenantWinsOverBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.WorkOrder{}))

	secret := base64.StdEncoding.EncodeToString([]byte("test-signing-secret"))
	secretBytes, err := base64.StdEncoding.DecodeString(secret)
	require.NoError(t, err)

	r := gin.New()
	protected := r.Group("/")
	protected.Use(middlewares.Authentication(secretBytes))
	Register(protected, &testDB{db: db}, nil)

	body, _ := json.Marshal(v1.PushRequest{
		TenantID: "globex", // the body lies
		Changes: v1.ChangeSet{WorkOrders: v1.WorkOrderChanges{
			Upserts: []v1.UpsertItem{{
				ClientChangeID: "c1",
				NewValues:      v1.WorkOrderValues{Title: strp("x")},
			}},
		}},
	})

	// No token at all.
	req := httptest.NewRequest(http.MethodPost, "/sync/work-orders", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := security.CreateTenantToken(&security.DeviceIdentity{
		TenantID: "acme", DeviceID: "device-1", UserName: "tech",
	}, secret, 3600)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/sync/work-orders", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp v1.PushResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Synced, 1)

	// The row landed under the token's tenant, not the body's.
	var row model.WorkOrder
	require.NoError(t, db.First(&row, "id = ?", resp.Synced[0].ID).Error)
	assert.Equal(t, "acme", row.TenantID)
}
