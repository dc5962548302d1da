package models

// QueueSnapshot is a full authoritative listing of jobs
type QueueSnapshot struct {
	SnapshotRevision uint64 `json:"snapshotRevision,omitempty"`
	Jobs             []*Job `json:"jobs"`
}

// JobPatch carries the high-frequency fields of one job
type JobPatch struct {
	ID        string     `json:"id"`
	Status    *JobStatus `json:"status,omitempty"`
	Progress  *float64   `json:"progress,omitempty"`
	ElapsedMs *int64     `json:"elapsedMs,omitempty"`
}

// QueueDelta is a batch of patches relative to one snapshot revision
type QueueDelta struct {
	BaseSnapshotRevision uint64     `json:"baseSnapshotRevision"`
	DeltaRevision        uint64     `json:"deltaRevision"`
	Patches              []JobPatch `json:"patches"`
}

// QueueEventType identifies what a push event carries
type QueueEventType string

const (
	QueueEventSnapshot QueueEventType = "snapshot"
	QueueEventDelta    QueueEventType = "delta"
	QueueEventRevision QueueEventType = "revision"
)

// QueueEvent is one message from the backend push channel
type QueueEvent struct {
	Type     QueueEventType `json:"type"`
	Revision uint64         `json:"revision,omitempty"`
	Snapshot *QueueSnapshot `json:"snapshot,omitempty"`
	Delta    *QueueDelta    `json:"delta,omitempty"`
}
