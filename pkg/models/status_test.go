package models

import (
	"strings"
	"testing"
)

func TestIsWaitingGroup(t *testing.T) {
	tests := []struct {
		name     string
		state    JobStatus
		expected bool
	}{
		{"Queued is waiting", JobStatusQueued, true},
		{"Legacy waiting is waiting", JobStatusWaiting, true},
		{"Paused is waiting", JobStatusPaused, true},
		{"Processing is not waiting", JobStatusProcessing, false},
		{"Completed is not waiting", JobStatusCompleted, false},
		{"Cancelled is not waiting", JobStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWaitingGroup(tt.state); got != tt.expected {
				t.Errorf("IsWaitingGroup(%v) = %v, expected %v", tt.state, got, tt.expected)
			}
		})
	}
}

func TestStatusRank(t *testing.T) {
	for i := 1; i < len(AllStatuses); i++ {
		prev, cur := AllStatuses[i-1], AllStatuses[i]
		if StatusRank(prev) >= StatusRank(cur) {
			t.Errorf("expected %s to rank before %s", prev, cur)
		}
	}
	if StatusRank(JobStatusWaiting) != StatusRank(JobStatusQueued) {
		t.Error("waiting must rank like queued")
	}
	if StatusRank("bogus") <= StatusRank(JobStatusSkipped) {
		t.Error("unknown status must rank last")
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("waiting")
	if err != nil || st != JobStatusQueued {
		t.Fatalf("ParseStatus(waiting) = %v, %v", st, err)
	}
	if _, err := ParseStatus("running"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestEffectiveQueueOrder(t *testing.T) {
	job := &Job{ID: "a", Status: JobStatusPaused, QueueOrder: Int64(3)}
	if v, ok := job.EffectiveQueueOrder(); !ok || v != 3 {
		t.Fatalf("expected queue order 3, got %d %v", v, ok)
	}

	job.Status = JobStatusCompleted
	if _, ok := job.EffectiveQueueOrder(); ok {
		t.Error("queue order must be ignored outside the waiting group")
	}
}

func TestDisplayPathAndBaseName(t *testing.T) {
	job := &Job{Filename: "ignored.mp4", InputPath: `C:\videos\clip.mkv`}
	if got := job.DisplayPath(); got != "C:/videos/clip.mkv" {
		t.Errorf("DisplayPath() = %q", got)
	}
	if got := job.BaseName(); got != "clip.mkv" {
		t.Errorf("BaseName() = %q", got)
	}

	empty := &Job{}
	if got := empty.BaseName(); got != "" {
		t.Errorf("BaseName() of empty job = %q", got)
	}
}

func TestEffectiveSizeMB(t *testing.T) {
	job := &Job{MediaInfo: &MediaInfo{SizeMB: Float64(12.5)}}
	if v, ok := job.EffectiveSizeMB(); !ok || v != 12.5 {
		t.Errorf("expected media info size, got %v %v", v, ok)
	}
	if _, ok := (&Job{}).EffectiveSizeMB(); ok {
		t.Error("job without size must report ok=false")
	}
}

func TestCloneIsDeep(t *testing.T) {
	job := &Job{ID: "a", QueueOrder: Int64(1), Logs: []string{"x"}, MediaInfo: &MediaInfo{SizeMB: Float64(1)}}
	c := job.Clone()
	*c.QueueOrder = 9
	c.Logs[0] = "y"
	*c.MediaInfo.SizeMB = 2

	if *job.QueueOrder != 1 || job.Logs[0] != "x" || *job.MediaInfo.SizeMB != 1 {
		t.Error("Clone shares memory with the original")
	}
}

func TestReorderIDs(t *testing.T) {
	tests := []struct {
		name     string
		current  []string
		explicit []string
		want     []string
	}{
		{"explicit first", []string{"a", "b", "c", "d"}, []string{"c", "a"}, []string{"c", "a", "b", "d"}},
		{"unknown and duplicate ids ignored", []string{"a", "b", "c"}, []string{"x", "b", "b"}, []string{"b", "a", "c"}},
		{"empty explicit keeps order", []string{"a", "b"}, nil, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReorderIDs(tt.current, tt.explicit)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ReorderIDs = %v, expected %v", got, tt.want)
			}
		})
	}
}
