package models

import (
	"path"
	"strings"
)

// JobType is the media category of a job
type JobType string

const (
	JobTypeVideo JobType = "video"
	JobTypeImage JobType = "image"
	JobTypeAudio JobType = "audio"
)

// JobSource tells how a job entered the queue
type JobSource string

const (
	JobSourceManual        JobSource = "manual"
	JobSourceBatchCompress JobSource = "smart_scan"
)

// Kind is the filter-facing classification derived from the job source
type Kind string

const (
	KindManual        Kind = "manual"
	KindBatchCompress Kind = "batchCompress"
)

// MediaInfo holds media analysis results reported by the backend
type MediaInfo struct {
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
	Width           *int     `json:"width,omitempty"`
	Height          *int     `json:"height,omitempty"`
	FrameRate       *float64 `json:"frameRate,omitempty"`
	VideoCodec      string   `json:"videoCodec,omitempty"`
	AudioCodec      string   `json:"audioCodec,omitempty"`
	SizeMB          *float64 `json:"sizeMB,omitempty"`
}

// Job is one transcoding task as reported by the backend.
//
// Timestamps are milliseconds since the UNIX epoch. Optional values are
// pointers so "absent" stays distinguishable from zero.
type Job struct {
	ID                  string     `json:"id"`
	Filename            string     `json:"filename"`
	Type                JobType    `json:"type"`
	Source              JobSource  `json:"source"`
	QueueOrder          *int64     `json:"queueOrder,omitempty"`
	OriginalSizeMB      float64    `json:"originalSizeMB"`
	OutputSizeMB        *float64   `json:"outputSizeMB,omitempty"`
	OriginalCodec       string     `json:"originalCodec,omitempty"`
	PresetID            string     `json:"presetId"`
	Status              JobStatus  `json:"status"`
	WaitRequestPending  bool       `json:"waitRequestPending,omitempty"`
	Progress            float64    `json:"progress"`
	StartTime           *int64     `json:"startTime,omitempty"`
	EndTime             *int64     `json:"endTime,omitempty"`
	ProcessingStartedMs *int64     `json:"processingStartedMs,omitempty"`
	ElapsedMs           *int64     `json:"elapsedMs,omitempty"`
	CreatedTimeMs       *int64     `json:"createdTimeMs,omitempty"`
	ModifiedTimeMs      *int64     `json:"modifiedTimeMs,omitempty"`
	InputPath           string     `json:"inputPath,omitempty"`
	OutputPath          string     `json:"outputPath,omitempty"`
	BatchID             string     `json:"batchId,omitempty"`
	MediaInfo           *MediaInfo `json:"mediaInfo,omitempty"`
	Logs                []string   `json:"logs,omitempty"`
	SkipReason          string     `json:"skipReason,omitempty"`
	FailureReason       string     `json:"failureReason,omitempty"`
}

// Kind returns the filter classification of the job
func (j *Job) Kind() Kind {
	if j.Source == JobSourceBatchCompress {
		return KindBatchCompress
	}
	return KindManual
}

// DisplayPath returns the path used for name-based sorting and text filters.
// InputPath wins over Filename; backslashes are normalized to forward slashes.
func (j *Job) DisplayPath() string {
	raw := j.InputPath
	if raw == "" {
		raw = j.Filename
	}
	return strings.ReplaceAll(raw, "\\", "/")
}

// BaseName returns the final element of DisplayPath
func (j *Job) BaseName() string {
	p := j.DisplayPath()
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// EffectiveSizeMB returns the input size used by size filters.
// ok is false when neither the job nor its media info carries a size.
func (j *Job) EffectiveSizeMB() (float64, bool) {
	if j.OriginalSizeMB > 0 {
		return j.OriginalSizeMB, true
	}
	if j.MediaInfo != nil && j.MediaInfo.SizeMB != nil && *j.MediaInfo.SizeMB > 0 {
		return *j.MediaInfo.SizeMB, true
	}
	return 0, false
}

// EffectiveQueueOrder returns QueueOrder only while the job is in the
// waiting group; outside it the value is meaningless.
func (j *Job) EffectiveQueueOrder() (int64, bool) {
	if j.QueueOrder == nil || !IsWaitingGroup(j.Status) {
		return 0, false
	}
	return *j.QueueOrder, true
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.QueueOrder = cloneInt(j.QueueOrder)
	c.OutputSizeMB = cloneFloat(j.OutputSizeMB)
	c.StartTime = cloneInt(j.StartTime)
	c.EndTime = cloneInt(j.EndTime)
	c.ProcessingStartedMs = cloneInt(j.ProcessingStartedMs)
	c.ElapsedMs = cloneInt(j.ElapsedMs)
	c.CreatedTimeMs = cloneInt(j.CreatedTimeMs)
	c.ModifiedTimeMs = cloneInt(j.ModifiedTimeMs)
	if j.MediaInfo != nil {
		mi := *j.MediaInfo
		mi.DurationSeconds = cloneFloat(j.MediaInfo.DurationSeconds)
		mi.FrameRate = cloneFloat(j.MediaInfo.FrameRate)
		mi.SizeMB = cloneFloat(j.MediaInfo.SizeMB)
		if j.MediaInfo.Width != nil {
			w := *j.MediaInfo.Width
			mi.Width = &w
		}
		if j.MediaInfo.Height != nil {
			h := *j.MediaInfo.Height
			mi.Height = &h
		}
		c.MediaInfo = &mi
	}
	if j.Logs != nil {
		c.Logs = append([]string(nil), j.Logs...)
	}
	return &c
}

// Int64 returns a pointer to v
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v
func Float64(v float64) *float64 { return &v }

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// EnqueueRequest describes a job to add to the queue
type EnqueueRequest struct {
	ClientToken string    `json:"clientToken,omitempty"`
	InputPath   string    `json:"inputPath"`
	OutputPath  string    `json:"outputPath,omitempty"`
	PresetID    string    `json:"presetId"`
	Type        JobType   `json:"type,omitempty"`
	Source      JobSource `json:"source,omitempty"`
}
