// Package backend defines the contract of the authoritative job queue and an
// HTTP/websocket client for it.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/psantana5/ffqueue/pkg/models"
)

// ErrRejected is returned when the backend refuses a state transition
var ErrRejected = errors.New("command rejected by backend")

// Action is a job state transition
type Action string

const (
	ActionWait    Action = "wait"
	ActionResume  Action = "resume"
	ActionRestart Action = "restart"
	ActionCancel  Action = "cancel"
	// ActionDelete permanently removes finished jobs
	ActionDelete Action = "delete"
)

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionWait, ActionResume, ActionRestart, ActionCancel, ActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("unknown action: %q", s)
}

// Backend is the pull and command side of the queue. Commands report
// success as a boolean; an error means the call itself failed.
type Backend interface {
	LoadQueueSnapshot(ctx context.Context) (*models.QueueSnapshot, error)

	EnqueueJob(ctx context.Context, req models.EnqueueRequest) (*models.Job, error)
	EnqueueJobs(ctx context.Context, reqs []models.EnqueueRequest) ([]*models.Job, error)

	CancelJob(ctx context.Context, id string) (bool, error)
	WaitJob(ctx context.Context, id string) (bool, error)
	ResumeJob(ctx context.Context, id string) (bool, error)
	RestartJob(ctx context.Context, id string) (bool, error)
	DeleteJob(ctx context.Context, id string) (bool, error)

	CancelJobsBulk(ctx context.Context, ids []string) (bool, error)
	WaitJobsBulk(ctx context.Context, ids []string) (bool, error)
	ResumeJobsBulk(ctx context.Context, ids []string) (bool, error)
	RestartJobsBulk(ctx context.Context, ids []string) (bool, error)
	DeleteJobsBulk(ctx context.Context, ids []string) (bool, error)

	// DeleteBatch removes every job of a batch scan; the backend refuses
	// while any of them is unfinished.
	DeleteBatch(ctx context.Context, batchID string) (bool, error)

	ReorderQueue(ctx context.Context, orderedIDs []string) (bool, error)
}

// Subscriber is the push side of the queue
type Subscriber interface {
	// Subscribe delivers events until ctx is done; the channel is closed
	// afterwards.
	Subscribe(ctx context.Context) (<-chan models.QueueEvent, error)
}

// Single dispatches a single-job command
func Single(ctx context.Context, b Backend, action Action, id string) (bool, error) {
	switch action {
	case ActionWait:
		return b.WaitJob(ctx, id)
	case ActionResume:
		return b.ResumeJob(ctx, id)
	case ActionRestart:
		return b.RestartJob(ctx, id)
	case ActionCancel:
		return b.CancelJob(ctx, id)
	case ActionDelete:
		return b.DeleteJob(ctx, id)
	}
	return false, fmt.Errorf("unknown action: %q", action)
}

// Bulk dispatches a batched command
func Bulk(ctx context.Context, b Backend, action Action, ids []string) (bool, error) {
	switch action {
	case ActionWait:
		return b.WaitJobsBulk(ctx, ids)
	case ActionResume:
		return b.ResumeJobsBulk(ctx, ids)
	case ActionRestart:
		return b.RestartJobsBulk(ctx, ids)
	case ActionCancel:
		return b.CancelJobsBulk(ctx, ids)
	case ActionDelete:
		return b.DeleteJobsBulk(ctx, ids)
	}
	return false, fmt.Errorf("unknown action: %q", action)
}
