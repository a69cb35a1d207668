package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"fieldserve.com/fieldserve/model"
	"fieldserve.com/fieldserve/reconcile"
	v1 "fieldserve.com/fieldserve/syncapi/v1"
	"fieldserve.com/fieldserve/utils"
	"fieldserve.com/fieldserve/web/common"
	"fieldserve.com/fieldserve/web/middlewares"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const maxPullLimit = 500

type SyncEndpoint struct {
	dm       DB
	svc      *reconcile.Service
	notifier Notifier
}

func Register(r *gin.RouterGroup, dm DB, notifier Notifier) {
	endpoint := &SyncEndpoint{dm: dm, svc: reconcile.NewService(), notifier: notifier}
	r.POST("/sync/work-orders", endpoint.Push)
	r.GET("/sync/work-orders", endpoint.Pull)
}

// Push applies a batch of upserts and deletes. A malformed body rejects the
// whole batch with a 400; everything else is reported per item.
func (ep *SyncEndpoint) Push(c *gin.Context) {
	var req v1.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(common.FormatBindingError(err)))
		return
	}

	// The authenticated tenant wins over whatever the body claims.
	tenantID := middlewares.TenantFromContext(c)
	if tenantID == "" {
		tenantID = req.TenantID
	}

	var resp *v1.PushResponse
	if err := ep.dm.Exec(c.Request.Context(), GetHostname(c.Request.Host), func(db *gorm.DB) error {
		resp = ep.svc.ApplyChanges(db, tenantID, &req.Changes.WorkOrders)
		return nil
	}); err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
		return
	}

	if ep.notifier != nil && len(resp.Synced) > 0 {
		msg := fmt.Sprintf("tenant %s: applied %d work order change(s)", tenantID, len(resp.Synced))
		go func() {
			if err := ep.notifier.Info(msg); err != nil {
				log.Printf("sync notification failed: %v", err)
			}
		}()
	}

	c.JSON(http.StatusOK, resp)
}

// Pull returns rows changed since the cursor. The new cursor is the server's
// wall-clock time at response construction.
func (ep *SyncEndpoint) Pull(c *gin.Context) {
	tenantID := middlewares.TenantFromContext(c)
	if tenantID == "" {
		tenantID = c.Query("tenant_id")
	}
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse("tenant is required"))
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := utils.ParseISOTime(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, common.NewErrorResponse("Invalid since cursor"))
			return
		}
		since = *parsed
	}

	limit := maxPullLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, common.NewErrorResponse("Invalid limit"))
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	var (
		rows   []model.WorkOrder
		cursor time.Time
	)
	if err := ep.dm.Exec(c.Request.Context(), GetHostname(c.Request.Host), func(db *gorm.DB) error {
		var err error
		rows, cursor, err = ep.svc.ListChangedSince(db, tenantID, since, limit)
		return err
	}); err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
		return
	}

	if rows == nil {
		rows = []model.WorkOrder{}
	}

	c.JSON(http.StatusOK, v1.PullResponse{Cursor: cursor, Data: rows})
}
