package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"fieldserve.com/fieldserve/client/queue"
	"fieldserve.com/fieldserve/client/store"
	v1 "fieldserve.com/fieldserve/syncapi/v1"
)

var ErrDrainInFlight = errors.New("drain cycle already in flight")

// Pusher is the transport abstraction the engine drains through.
type Pusher interface {
	Push(ctx context.Context, req *v1.PushRequest) (*v1.PushResponse, error)
}

type DrainStats struct {
	Pending   int
	Synced    int
	Conflicts int
	Rejected  int
}

// Engine drains the sync queue over the network in FIFO batches and applies
// server outcomes back into the local store and queue. Cycles are serialized:
// a new cycle does not start while one is in flight.
type Engine struct {
	store    *store.Store
	queue    *queue.Queue
	api      Pusher
	tenantID string

	mu        sync.Mutex
	draining  bool
	lastDrain time.Time

	kick chan struct{}
}

func NewEngine(st *store.Store, q *queue.Queue, api Pusher, tenantID string) *Engine {
	return &Engine{
		store:    st,
		queue:    q,
		api:      api,
		tenantID: tenantID,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests a drain cycle outside the periodic timer, e.g. on a
// connectivity-restored or app-foreground event. Non-blocking.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drains on a periodic timer and on Kick until the context is canceled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.kick:
		}

		if _, err := e.DrainOnce(ctx); err != nil && !errors.Is(err, ErrDrainInFlight) {
			log.Printf("drain cycle failed: %v", err)
		}
	}
}

// Draining reports whether a cycle is currently in flight.
func (e *Engine) Draining() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// LastDrain returns when the previous cycle finished.
func (e *Engine) LastDrain() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastDrain
}

// DrainOnce runs a single drain cycle: read pending items FIFO, push the
// batch, apply outcomes. Queue items are only marked synced strictly after a
// server acknowledgment is processed, so an interrupted cycle simply resumes
// on the next trigger.
func (e *Engine) DrainOnce(ctx context.Context) (*DrainStats, error) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return nil, ErrDrainInFlight
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.lastDrain = time.Now()
		e.mu.Unlock()
	}()

	items, err := e.queue.GetPending(ctx, e.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending items: %w", err)
	}

	stats := &DrainStats{Pending: len(items)}
	if len(items) == 0 {
		return stats, nil
	}

	req, byChangeID, err := e.buildRequest(ctx, items)
	if err != nil {
		return nil, err
	}

	resp, err := e.api.Push(ctx, req)
	if err != nil {
		// Transport failure: every submitted item gets an attempt recorded
		// and stays pending for the next cycle. Items buildRequest parked
		// were never submitted and record nothing.
		for _, item := range byChangeID {
			if incErr := e.queue.IncrementAttempts(ctx, item.ID); incErr != nil {
				log.Printf("failed to record attempt for item %d: %v", item.ID, incErr)
			}
		}
		return nil, fmt.Errorf("push failed: %w", err)
	}

	if err := e.applyOutcomes(ctx, resp, byChangeID, stats); err != nil {
		return nil, err
	}

	return stats, nil
}

// buildRequest partitions pending items into upserts and deletes. Creates and
// updates are both expressed as "apply new_values onto id given
// base_updated_at"; a create simply omits the id. The returned map holds only
// the items that made it into the request.
func (e *Engine) buildRequest(ctx context.Context, items []queue.Item) (*v1.PushRequest, map[string]queue.Item, error) {
	req := &v1.PushRequest{TenantID: e.tenantID}
	byChangeID := make(map[string]queue.Item, len(items))

	for _, item := range items {
		switch item.Action {
		case queue.ActionCreate, queue.ActionUpdate:
			var values v1.WorkOrderValues
			if err := json.Unmarshal(item.Payload, &values); err != nil {
				// A payload that cannot be decoded will never succeed; park
				// it instead of poisoning every batch.
				log.Printf("unreadable payload on item %d, parking: %v", item.ID, err)
				if parkErr := e.queue.MarkNeedsAttention(ctx, item.ID); parkErr != nil {
					return nil, nil, parkErr
				}
				continue
			}

			upsert := v1.UpsertItem{
				ClientChangeID: item.ClientChangeID,
				NewValues:      values,
			}
			if item.Action == queue.ActionUpdate {
				upsert.ID = item.WorkOrderID
				upsert.BaseUpdatedAt = item.BaseUpdatedAt
			}
			req.Changes.WorkOrders.Upserts = append(req.Changes.WorkOrders.Upserts, upsert)
			byChangeID[item.ClientChangeID] = item

		case queue.ActionDelete:
			req.Changes.WorkOrders.Deletes = append(req.Changes.WorkOrders.Deletes, v1.DeleteItem{
				ClientChangeID: item.ClientChangeID,
				ID:             item.WorkOrderID,
			})
			byChangeID[item.ClientChangeID] = item

		default:
			log.Printf("unknown action %q on item %d, parking", item.Action, item.ID)
			if parkErr := e.queue.MarkNeedsAttention(ctx, item.ID); parkErr != nil {
				return nil, nil, parkErr
			}
		}
	}

	return req, byChangeID, nil
}

func (e *Engine) applyOutcomes(ctx context.Context, resp *v1.PushResponse, byChangeID map[string]queue.Item, stats *DrainStats) error {
	for _, res := range resp.Synced {
		item, ok := byChangeID[res.ClientChangeID]
		if !ok {
			log.Printf("server acked unknown change id %s", res.ClientChangeID)
			continue
		}

		// A temp id is remapped exactly once, when the create is first
		// acknowledged, across the store and any still-pending queue items.
		if item.Action == queue.ActionCreate && store.IsTempID(item.WorkOrderID) {
			if err := e.store.RemapID(ctx, item.WorkOrderID, res.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("failed to remap %s: %w", item.WorkOrderID, err)
			}
			if err := e.queue.RemapWorkOrder(ctx, item.WorkOrderID, res.ID); err != nil {
				return err
			}
		}

		snap, err := e.store.Get(ctx, res.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if snap != nil {
			snap.UpdatedAt = res.UpdatedAt
			snap.Synced = true
			if err := e.store.Put(ctx, snap); err != nil {
				return err
			}
		}

		if err := e.queue.MarkSynced(ctx, item.ID); err != nil {
			return err
		}
		stats.Synced++
	}

	for _, res := range resp.Conflicts {
		item, ok := byChangeID[res.ClientChangeID]
		if !ok {
			continue
		}

		// Server wins: the authoritative value overwrites the local
		// snapshot. The queue item is parked, not retried; re-deriving a
		// corrected mutation is the caller's decision.
		if err := e.store.Put(ctx, store.FromWorkOrder(res.Server, true)); err != nil {
			return err
		}
		if err := e.queue.MarkNeedsAttention(ctx, item.ID); err != nil {
			return err
		}
		stats.Conflicts++
	}

	for _, res := range resp.Rejected {
		item, ok := byChangeID[res.ClientChangeID]
		if !ok {
			continue
		}

		log.Printf("item %d rejected: %s", item.ID, res.Reason)
		if err := e.queue.IncrementAttempts(ctx, item.ID); err != nil {
			return err
		}
		stats.Rejected++
	}

	return nil
}
