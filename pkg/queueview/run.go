package queueview

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/psantana5/ffqueue/pkg/messages"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/queuesync"
)

// Refresh loads a full snapshot from the backend
func (v *View) Refresh(ctx context.Context) error {
	ctx, span := v.tracer.StartSpan(ctx, "queueview.refresh")
	defer span.End()
	err := v.syncer.Refresh(ctx, queuesync.RefreshOptions{})
	if err == nil {
		v.revisions.Observe(v.syncer.Revisions().Snapshot)
	}
	return err
}

// Run keeps the view in sync with the backend until ctx is done: an initial
// load, then snapshots and deltas applied as they are pushed, and
// rate-limited refreshes for revision announcements and stale deltas.
func (v *View) Run(ctx context.Context) error {
	if v.syncer.HasLoader() {
		if err := v.Refresh(ctx); err != nil {
			v.logger.Warn("initial queue load failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if v.subscriber == nil {
		return nil
	}

	events, err := v.subscriber.Subscribe(ctx)
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(v.cfg.RefreshRate), v.cfg.RefreshBurst)
	trigger := make(chan struct{}, 1)
	done := make(chan struct{})
	refreshCtx, stop := context.WithCancel(ctx)
	go func() {
		defer close(done)
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-trigger:
			}
			if err := limiter.Wait(refreshCtx); err != nil {
				return
			}
			if err := v.Refresh(refreshCtx); err != nil && refreshCtx.Err() == nil {
				v.logger.Warn("queue refresh after push event failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}()
	requestRefresh := func() {
		if !v.syncer.HasLoader() {
			return
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	v.logger.Info("queue event loop started")
	for ev := range events {
		v.handleEvent(ctx, ev, requestRefresh)
	}
	stop()
	<-done
	v.logger.Info("queue event loop stopped")
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (v *View) handleEvent(ctx context.Context, ev models.QueueEvent, requestRefresh func()) {
	_, span := v.tracer.StartSpan(ctx, "queueview.event", attribute.String("event.type", string(ev.Type)))
	defer span.End()

	switch ev.Type {
	case models.QueueEventSnapshot:
		if ev.Snapshot == nil {
			return
		}
		v.syncer.ApplySnapshot(ev.Snapshot)
		v.revisions.Observe(ev.Snapshot.SnapshotRevision)
	case models.QueueEventDelta:
		if _, err := v.syncer.ApplyDelta(ev.Delta); err != nil {
			if errors.Is(err, queuesync.ErrStaleDelta) {
				v.logger.Debug(v.tr.Sprintf(messages.DeltaOutOfSync), map[string]interface{}{"error": err.Error()})
				requestRefresh()
				return
			}
			v.logger.Warn("queue delta rejected", map[string]interface{}{"error": err.Error()})
		}
	case models.QueueEventRevision:
		v.revisions.Observe(ev.Revision)
		if ev.Revision == 0 || ev.Revision > v.syncer.Revisions().Snapshot {
			requestRefresh()
		}
	default:
		v.logger.Debug("unknown queue event", map[string]interface{}{"type": string(ev.Type)})
	}
}
