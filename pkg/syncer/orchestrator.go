// Package syncer drains the offline action queue against the backend and
// refreshes the local cache.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/petsync/pkg/action"
	"github.com/zoff-tech/petsync/pkg/api"
	"github.com/zoff-tech/petsync/pkg/network"
	"github.com/zoff-tech/petsync/pkg/prefs"
	"github.com/zoff-tech/petsync/pkg/store"
)

// ErrNotConnected indicates a sync was requested while offline. Callers of
// PerformFullSync never see it; the pass degrades to a no-op.
var ErrNotConnected = errors.New("not connected")

var errSyncInProgress = errors.New("sync already in progress")

// Status is the observable sync state, delivered to the listener on every
// change.
type Status struct {
	IsSyncing    bool
	LastSyncDate time.Time
	PendingCount int
	Message      string
}

// Orchestrator owns the full-sync pass: drain queued actions oldest-first,
// then refresh cached entities from the backend. At most one pass runs at a
// time; a second request while one is in flight is a no-op.
type Orchestrator struct {
	store    store.OfflineStore
	client   api.Client
	observer *network.Observer
	prefs    *prefs.Prefs
	listener func(Status)
	tracer   trace.Tracer
	interval time.Duration

	mu      sync.Mutex
	status  Status
	syncing bool
	cancel  context.CancelFunc
}

// NewOrchestrator wires an orchestrator. The listener may be nil. The last
// sync date is restored from prefs.
func NewOrchestrator(st store.OfflineStore, client api.Client, observer *network.Observer, p *prefs.Prefs, interval time.Duration, listener func(Status)) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		client:   client,
		observer: observer,
		prefs:    p,
		listener: listener,
		tracer:   otel.Tracer("petsync"),
		interval: interval,
	}
	if p != nil {
		if last, ok := p.LastSyncDate(); ok {
			o.status.LastSyncDate = last
		}
	}
	return o
}

// Status returns the current sync status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// QueueAction persists the mutation and returns once it is durable. When
// connected it also kicks off a best-effort background sync.
func (o *Orchestrator) QueueAction(ctx context.Context, p action.Payload) (string, error) {
	id, err := o.store.QueueAction(ctx, p)
	if err != nil {
		return "", err
	}
	o.refreshPendingCount(ctx)

	if o.observer.Current().Connected {
		go func() {
			if err := o.PerformFullSync(context.Background()); err != nil {
				log.Printf("Background sync after queueing action %s failed: %v", id, err)
			}
		}()
	}
	return id, nil
}

// PerformFullSync runs one drain-and-refresh pass. Offline or an already
// running pass degrade to a no-op.
func (o *Orchestrator) PerformFullSync(ctx context.Context) error {
	err := o.sync(ctx)
	if errors.Is(err, ErrNotConnected) || errors.Is(err, errSyncInProgress) {
		return nil
	}
	return err
}

func (o *Orchestrator) sync(ctx context.Context) error {
	if !o.observer.Current().Connected {
		return ErrNotConnected
	}

	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		return errSyncInProgress
	}
	o.syncing = true
	o.status.IsSyncing = true
	o.status.Message = "Syncing"
	st := o.status
	o.mu.Unlock()
	o.publish(st)

	ctx, span := o.tracer.Start(ctx, "FullSync")
	defer span.End()

	err := o.runPass(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.endSync(ctx, err)
	return err
}

func (o *Orchestrator) runPass(ctx context.Context) error {
	if err := o.drain(ctx); err != nil {
		return err
	}
	return o.refresh(ctx)
}

// drain processes pending actions oldest-first. A failing action is recorded
// and skipped so it cannot block the ones behind it. An unauthorized response
// aborts the whole drain; the action stays pending untouched.
func (o *Orchestrator) drain(ctx context.Context) error {
	if err := o.readmitTransientFailures(ctx); err != nil {
		return err
	}

	actions, err := o.store.FetchPendingActions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch pending actions: %w", err)
	}

	for _, act := range actions {
		if err := o.processAction(ctx, act); err != nil {
			return err
		}
	}
	return nil
}

// readmitTransientFailures returns transiently-failed actions to the pass so
// their retry counts accumulate toward the ceiling without user involvement.
// A zero retry count marks a failure retrying cannot fix; those stay failed
// until the user retries or dismisses them.
func (o *Orchestrator) readmitTransientFailures(ctx context.Context) error {
	failed, err := o.store.FetchFailedActions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch failed actions: %w", err)
	}
	for _, act := range failed {
		if act.RetryCount == 0 {
			continue
		}
		if err := o.store.RetryAction(ctx, act.ID); err != nil {
			log.Printf("Failed to re-admit action %s: %v", act.ID, err)
		}
	}
	return nil
}

// processAction executes one queued action. It returns an error only for
// the unauthorized abort; every other failure is absorbed into the action's
// own record.
func (o *Orchestrator) processAction(ctx context.Context, act action.QueuedAction) error {
	ctx, span := o.tracer.Start(ctx, "ProcessQueuedAction", trace.WithAttributes(
		attribute.String("action.id", act.ID),
		attribute.String("action.type", string(act.Type)),
		attribute.Int("action.retry_count", act.RetryCount),
	))
	defer span.End()

	p, err := action.Decode(act.Payload)
	if err != nil {
		// A payload this build cannot decode will never succeed on a
		// retry. Remove it instead of letting it burn retry budget.
		log.Printf("Removing undecodable action %s: %v", act.ID, err)
		span.RecordError(err)
		if cerr := o.store.CompleteAction(ctx, act.ID); cerr != nil {
			log.Printf("Failed to remove action %s: %v", act.ID, cerr)
		}
		return nil
	}

	if err := o.execute(ctx, p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if api.IsKind(err, api.KindUnauthorized) {
			return err
		}

		log.Printf("Action %s (%s) failed: %v", act.ID, act.Type, err)
		// Only transient failures consume retry budget; a permanent one
		// keeps its count so the next drain does not re-attempt it.
		if ferr := o.store.FailAction(ctx, act.ID, err.Error(), api.Retryable(err)); ferr != nil {
			log.Printf("Failed to record failure for action %s: %v", act.ID, ferr)
		}
		return nil
	}

	if err := o.store.CompleteAction(ctx, act.ID); err != nil {
		log.Printf("Failed to complete action %s: %v", act.ID, err)
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, p action.Payload) error {
	switch v := p.(type) {
	case *action.MarkPetLostPayload:
		alert, err := o.client.CreateAlert(ctx, api.AlertRequest{
			PetID:       v.PetID,
			Latitude:    v.Latitude,
			Longitude:   v.Longitude,
			Address:     v.Address,
			Description: v.Description,
		})
		if err != nil {
			return err
		}
		if err := o.store.SaveAlert(ctx, *alert); err != nil {
			log.Printf("Failed to cache alert %s: %v", alert.ID, err)
		}
		o.markPetMissing(ctx, v.PetID, true)
		return nil

	case *action.MarkPetFoundPayload:
		pet, err := o.client.MarkPetFound(ctx, v.PetID)
		if err != nil {
			return err
		}
		return o.store.SavePet(ctx, *pet)

	case *action.ReportSightingPayload:
		_, err := o.client.ReportSighting(ctx, v.AlertID, api.SightingRequest{
			Latitude:  v.Latitude,
			Longitude: v.Longitude,
			Address:   v.Address,
			Note:      v.Note,
		})
		return err

	case *action.CreateAlertPayload:
		alert, err := o.client.CreateAlert(ctx, api.AlertRequest{
			PetID:       v.PetID,
			Latitude:    v.Latitude,
			Longitude:   v.Longitude,
			Address:     v.Address,
			Description: v.Description,
		})
		if err != nil {
			return err
		}
		if v.LocalAlertID != "" {
			// The optimistic placeholder is superseded by the
			// server-assigned record.
			if derr := o.store.DeleteAlert(ctx, v.LocalAlertID); derr != nil {
				log.Printf("Failed to delete placeholder alert %s: %v", v.LocalAlertID, derr)
			}
		}
		return o.store.SaveAlert(ctx, *alert)

	case *action.UpdatePetPayload:
		pet, err := o.client.UpdatePet(ctx, v.PetID, api.PetUpdate{
			Name:        v.Name,
			Species:     v.Species,
			Breed:       v.Breed,
			Description: v.Description,
		})
		if err != nil {
			return err
		}
		return o.store.SavePet(ctx, *pet)

	default:
		return fmt.Errorf("%w: %T", action.ErrUnknownType, p)
	}
}

// markPetMissing flips the cached missing flag after the backend accepted
// the alert. A cache miss is not an error; the refresh step fills it in.
func (o *Orchestrator) markPetMissing(ctx context.Context, petID string, missing bool) {
	pet, err := o.store.FetchPet(ctx, petID)
	if err != nil || pet == nil {
		return
	}
	pet.IsMissing = missing
	if err := o.store.SavePet(ctx, *pet); err != nil {
		log.Printf("Failed to update cached pet %s: %v", petID, err)
	}
}

// refresh overwrites the cached pets and alerts with the backend's view.
func (o *Orchestrator) refresh(ctx context.Context) error {
	pets, err := o.client.GetPets(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh pets: %w", err)
	}
	for _, p := range pets {
		if err := o.store.SavePet(ctx, p); err != nil {
			return fmt.Errorf("failed to cache pet %s: %w", p.ID, err)
		}
	}

	alerts, err := o.client.GetAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh alerts: %w", err)
	}
	for _, a := range alerts {
		if err := o.store.SaveAlert(ctx, a); err != nil {
			return fmt.Errorf("failed to cache alert %s: %w", a.ID, err)
		}
	}
	return nil
}

// RefreshSuccessStories pulls the shared reunion stories into the cache.
// Stories are read-only content, refreshed on demand rather than on every
// sync pass.
func (o *Orchestrator) RefreshSuccessStories(ctx context.Context) error {
	stories, err := o.client.GetSuccessStories(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh success stories: %w", err)
	}
	for _, s := range stories {
		if err := o.store.SaveSuccessStory(ctx, s); err != nil {
			return fmt.Errorf("failed to cache story %s: %w", s.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) endSync(ctx context.Context, err error) {
	now := time.Now()
	if err == nil && o.prefs != nil {
		if perr := o.prefs.SetLastSyncDate(now); perr != nil {
			log.Printf("Failed to persist last sync date: %v", perr)
		}
	}

	pending := o.pendingCount(ctx)

	o.mu.Lock()
	o.syncing = false
	o.status.IsSyncing = false
	if pending >= 0 {
		o.status.PendingCount = pending
	}
	switch {
	case err == nil:
		o.status.LastSyncDate = now
		o.status.Message = "Synced"
	case api.IsKind(err, api.KindUnauthorized):
		o.status.Message = "Sync failed: must re-authenticate"
	default:
		o.status.Message = "Sync failed: " + err.Error()
	}
	st := o.status
	o.mu.Unlock()
	o.publish(st)
}

// Start begins automatic syncing: one pass whenever connectivity comes back
// and one on every interval tick while connected.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	o.observer.Subscribe(func(s network.State) {
		if !s.Connected || runCtx.Err() != nil {
			return
		}
		go func() {
			if err := o.PerformFullSync(runCtx); err != nil {
				log.Printf("Sync after connectivity change failed: %v", err)
			}
		}()
	})

	go func() {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := o.PerformFullSync(runCtx); err != nil {
					log.Printf("Scheduled sync failed: %v", err)
				}
			}
		}
	}()
}

// Stop cancels the automatic sync loop.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RetryFailedActions re-admits every failed action to the next drain.
func (o *Orchestrator) RetryFailedActions(ctx context.Context) error {
	if err := o.store.RetryAllFailedActions(ctx); err != nil {
		return err
	}
	o.refreshPendingCount(ctx)
	return nil
}

// DismissFailedActions permanently discards every failed action.
func (o *Orchestrator) DismissFailedActions(ctx context.Context) error {
	if err := o.store.DismissAllFailedActions(ctx); err != nil {
		return err
	}
	o.refreshPendingCount(ctx)
	return nil
}

func (o *Orchestrator) pendingCount(ctx context.Context) int {
	pending, err := o.store.FetchPendingActions(ctx)
	if err != nil {
		log.Printf("Failed to count pending actions: %v", err)
		return -1
	}
	return len(pending)
}

func (o *Orchestrator) refreshPendingCount(ctx context.Context) {
	pending := o.pendingCount(ctx)
	if pending < 0 {
		return
	}
	o.mu.Lock()
	o.status.PendingCount = pending
	st := o.status
	o.mu.Unlock()
	o.publish(st)
}

func (o *Orchestrator) publish(st Status) {
	if o.listener != nil {
		o.listener(st)
	}
}
