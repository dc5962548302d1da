package models

// BulkRequest is the body of a batched state transition
type BulkRequest struct {
	IDs []string `json:"ids"`
}

// ReorderRequest is the body of a waiting queue reorder
type ReorderRequest struct {
	OrderedIDs []string `json:"orderedIds"`
}

// BatchEnqueueRequest adds many jobs at once
type BatchEnqueueRequest struct {
	Jobs []EnqueueRequest `json:"jobs"`
}

// BatchEnqueueResponse lists the jobs created by a batch enqueue
type BatchEnqueueResponse struct {
	Jobs []*Job `json:"jobs"`
}

// CommandResponse is returned by every state transition endpoint. OK false
// means the backend refused the transition.
type CommandResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}
