package queueview

import (
	"context"

	"github.com/psantana5/ffqueue/pkg/backend"
	"github.com/psantana5/ffqueue/pkg/bulk"
	"github.com/psantana5/ffqueue/pkg/comparator"
	"github.com/psantana5/ffqueue/pkg/filter"
	"github.com/psantana5/ffqueue/pkg/messages"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/queuesync"
)

// SetQuery replaces the filter. An invalid regex keeps the previous valid
// pattern and is reported through FilterWarning.
func (v *View) SetQuery(q filter.Query) {
	v.mu.Lock()
	v.query = q
	v.pred = v.compiler.Compile(q)
	v.filterWarning = ""
	if v.pred.Invalid != nil {
		v.filterWarning = v.tr.Sprintf(messages.InvalidFilter, v.pred.Invalid.Pattern)
		v.logger.Debug("invalid filter pattern", map[string]interface{}{"pattern": v.pred.Invalid.Pattern, "error": v.pred.Invalid.Err.Error()})
	}
	v.configGen++
	v.mu.Unlock()
	v.emit(ChangeFilter | ChangeOrder)
}

// Query returns the current filter
func (v *View) Query() filter.Query {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.query
}

// HasActiveFilters reports whether any filter would hide jobs
func (v *View) HasActiveFilters() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.query.IsActive()
}

// FilterWarning is the message for the last invalid pattern, empty when the
// filter compiled
func (v *View) FilterWarning() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filterWarning
}

// SetSort replaces the sort configuration
func (v *View) SetSort(cfg comparator.SortConfig) {
	v.mu.Lock()
	if cfg == v.sortCfg {
		v.mu.Unlock()
		return
	}
	v.sortCfg = cfg
	v.configGen++
	v.mu.Unlock()
	v.emit(ChangeOrder)
}

// Sort returns the sort configuration
func (v *View) Sort() comparator.SortConfig {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sortCfg
}

// SetQueueMode switches between the plain sort and the queue layout
func (v *View) SetQueueMode(on bool) {
	v.mu.Lock()
	if on == v.queueMode {
		v.mu.Unlock()
		return
	}
	v.queueMode = on
	v.configGen++
	v.mu.Unlock()
	v.emit(ChangeOrder)
}

// QueueMode reports whether the queue layout is active
func (v *View) QueueMode() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.queueMode
}

func (v *View) selectionChanged(fn func(*bulk.Selection)) {
	v.mu.Lock()
	fn(v.selection)
	v.mu.Unlock()
	v.emit(ChangeSelection)
}

// Select adds ids to the selection
func (v *View) Select(ids ...string) {
	v.selectionChanged(func(s *bulk.Selection) { s.Select(ids...) })
}

// Deselect removes ids from the selection
func (v *View) Deselect(ids ...string) {
	v.selectionChanged(func(s *bulk.Selection) { s.Deselect(ids...) })
}

// Toggle flips one id
func (v *View) Toggle(id string) {
	v.selectionChanged(func(s *bulk.Selection) { s.Toggle(id) })
}

// ClearSelection empties the selection
func (v *View) ClearSelection() {
	v.selectionChanged(func(s *bulk.Selection) { s.Clear() })
}

// SelectAllVisible selects every job passing the filter
func (v *View) SelectAllVisible() {
	var ids []string
	v.read(false, func(queuesync.ReadView) {
		ids = make([]string, len(v.filtered))
		for i, j := range v.filtered {
			ids[i] = j.ID
		}
	})
	v.Select(ids...)
}

// SelectedIDs returns the selection in selection order
func (v *View) SelectedIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selection.IDs()
}

// HasSelection reports whether anything is selected
func (v *View) HasSelection() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selection.Len() > 0
}

// Apply runs action over the selection with one bulk call. The selection
// is kept so the user sees which jobs were affected.
func (v *View) Apply(ctx context.Context, action backend.Action) (bulk.Result, error) {
	return v.op.Apply(ctx, action, v.SelectedIDs())
}

// ApplyTo runs action over explicit ids, one call for all of them
func (v *View) ApplyTo(ctx context.Context, action backend.Action, ids ...string) (bulk.Result, error) {
	if len(ids) == 1 {
		return v.op.ApplyOne(ctx, action, ids[0])
	}
	return v.op.Apply(ctx, action, ids)
}

// WaitSelected pauses the selection
func (v *View) WaitSelected(ctx context.Context) (bulk.Result, error) {
	return v.Apply(ctx, backend.ActionWait)
}

// ResumeSelected resumes the selection
func (v *View) ResumeSelected(ctx context.Context) (bulk.Result, error) {
	return v.Apply(ctx, backend.ActionResume)
}

// RestartSelected restarts the selection
func (v *View) RestartSelected(ctx context.Context) (bulk.Result, error) {
	return v.Apply(ctx, backend.ActionRestart)
}

// CancelSelected cancels the selection
func (v *View) CancelSelected(ctx context.Context) (bulk.Result, error) {
	return v.Apply(ctx, backend.ActionCancel)
}

// DeleteSelected removes the finished jobs of the selection. Deleted ids
// drop out of the selection with the jobs themselves.
func (v *View) DeleteSelected(ctx context.Context) (bulk.Result, error) {
	return v.Apply(ctx, backend.ActionDelete)
}

// DeleteBatch removes a whole batch scan once all of its jobs are finished
func (v *View) DeleteBatch(ctx context.Context, batchID string) (bulk.Result, error) {
	return v.op.DeleteBatch(ctx, batchID)
}

// MoveSelectedToTop moves the selected waiting jobs to the queue head
func (v *View) MoveSelectedToTop(ctx context.Context) error {
	return v.op.MoveToTop(ctx, v.SelectedIDs())
}

// MoveSelectedToBottom moves the selected waiting jobs to the queue tail
func (v *View) MoveSelectedToBottom(ctx context.Context) error {
	return v.op.MoveToBottom(ctx, v.SelectedIDs())
}

// ReorderWaitingQueue puts ids first in the waiting queue
func (v *View) ReorderWaitingQueue(ctx context.Context, ids []string) error {
	return v.op.ReorderWaitingQueue(ctx, ids)
}

// WaitingQueueIDs returns the canonical waiting queue order
func (v *View) WaitingQueueIDs() []string {
	return v.op.BuildWaitingQueueIDs()
}

// Enqueue adds one job through the backend
func (v *View) Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.Job, error) {
	return v.op.Enqueue(ctx, req)
}

// EnqueueMany adds jobs in one backend call
func (v *View) EnqueueMany(ctx context.Context, reqs []models.EnqueueRequest) ([]*models.Job, error) {
	return v.op.EnqueueMany(ctx, reqs)
}
