package comparator

import (
	"slices"
	"testing"

	"github.com/psantana5/ffqueue/pkg/models"
)

func ids(jobs []*models.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func TestValueOf_Elapsed(t *testing.T) {
	tests := []struct {
		name   string
		job    *models.Job
		isNull bool
		want   float64
	}{
		{"explicit elapsed wins", &models.Job{ElapsedMs: models.Int64(500), StartTime: models.Int64(1), EndTime: models.Int64(9000)}, false, 500},
		{"processing start marker", &models.Job{ProcessingStartedMs: models.Int64(1000), StartTime: models.Int64(1), EndTime: models.Int64(4000)}, false, 3000},
		{"falls back to start time", &models.Job{StartTime: models.Int64(1000), EndTime: models.Int64(1500)}, false, 500},
		{"unfinished", &models.Job{StartTime: models.Int64(1000)}, true, 0},
		{"non-positive span", &models.Job{StartTime: models.Int64(2000), EndTime: models.Int64(1500)}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := ValueOf(tt.job, FieldElapsed)
			if k.IsNull() != tt.isNull {
				t.Fatalf("IsNull = %v, expected %v", k.IsNull(), tt.isNull)
			}
			if !tt.isNull && k.num != tt.want {
				t.Errorf("elapsed = %v, expected %v", k.num, tt.want)
			}
		})
	}
}

func TestValueOf_FilenameUsesBaseName(t *testing.T) {
	a := &models.Job{InputPath: `D:\media\Zebra.mp4`}
	b := &models.Job{Filename: "/tmp/apple.mp4"}
	if Compare(a, b, FieldFilename, Asc) <= 0 {
		t.Error("expected apple.mp4 before Zebra.mp4 (case-insensitive basename)")
	}
}

func TestCompare_MissingValuesSortLastBothDirections(t *testing.T) {
	jobs := []*models.Job{
		{ID: "none"},
		{ID: "late", EndTime: models.Int64(300)},
		{ID: "early", EndTime: models.Int64(100)},
	}

	for _, dir := range []Direction{Asc, Desc} {
		sorted := slices.Clone(jobs)
		cfg := SortConfig{Primary: FieldFinishedTime, PrimaryDirection: dir}
		slices.SortFunc(sorted, Func(cfg))
		if got := sorted[len(sorted)-1].ID; got != "none" {
			t.Errorf("direction %s: expected job without endTime last, got %q", dir, got)
		}
	}
}

func TestCompare_StatusUsesUXRank(t *testing.T) {
	jobs := []*models.Job{
		{ID: "s", Status: models.JobStatusSkipped},
		{ID: "c", Status: models.JobStatusCompleted},
		{ID: "q", Status: models.JobStatusQueued},
		{ID: "p", Status: models.JobStatusProcessing},
		{ID: "x", Status: models.JobStatusCancelled},
		{ID: "f", Status: models.JobStatusFailed},
		{ID: "z", Status: models.JobStatusPaused},
	}
	slices.SortFunc(jobs, Func(SortConfig{Primary: FieldStatus, PrimaryDirection: Asc}))

	want := []string{"p", "q", "z", "c", "f", "x", "s"}
	if got := ids(jobs); !slices.Equal(got, want) {
		t.Errorf("status order = %v, expected %v", got, want)
	}
}

func TestCompareJobs_TieBreak(t *testing.T) {
	// Same progress everywhere: queue order, then start time, then id decide.
	jobs := []*models.Job{
		{ID: "d", Status: models.JobStatusCompleted, QueueOrder: models.Int64(0)}, // ignored: not waiting
		{ID: "c", Status: models.JobStatusQueued, StartTime: models.Int64(5)},
		{ID: "b", Status: models.JobStatusQueued, StartTime: models.Int64(5)},
		{ID: "a", Status: models.JobStatusQueued, QueueOrder: models.Int64(2)},
		{ID: "e", Status: models.JobStatusPaused, QueueOrder: models.Int64(1)},
	}
	cfg := SortConfig{Primary: FieldProgress, PrimaryDirection: Desc}
	slices.SortFunc(jobs, Func(cfg))

	want := []string{"e", "a", "d", "b", "c"}
	if got := ids(jobs); !slices.Equal(got, want) {
		t.Errorf("order = %v, expected %v", got, want)
	}
}

func TestCompareJobs_SecondaryKey(t *testing.T) {
	a := &models.Job{ID: "a", Status: models.JobStatusQueued, PresetID: "b"}
	b := &models.Job{ID: "b", Status: models.JobStatusQueued, PresetID: "a"}
	cfg := SortConfig{Primary: FieldStatus, PrimaryDirection: Asc, Secondary: FieldPreset, SecondaryDirection: Asc}
	if CompareJobs(a, b, cfg) <= 0 {
		t.Error("secondary key should put preset a first")
	}
}

func TestCompareWaitingGroup_QueueOrderFirst(t *testing.T) {
	jobs := []*models.Job{
		{ID: "big", Status: models.JobStatusQueued, OriginalSizeMB: 900, QueueOrder: models.Int64(2)},
		{ID: "small", Status: models.JobStatusPaused, OriginalSizeMB: 1, QueueOrder: models.Int64(1)},
		{ID: "mid", Status: models.JobStatusQueued, OriginalSizeMB: 50},
		{ID: "huge", Status: models.JobStatusQueued, OriginalSizeMB: 5000},
	}
	cfg := SortConfig{Primary: FieldInputSize, PrimaryDirection: Desc}
	slices.SortFunc(jobs, WaitingGroupFunc(cfg))

	want := []string{"small", "big", "huge", "mid"}
	if got := ids(jobs); !slices.Equal(got, want) {
		t.Errorf("order = %v, expected %v", got, want)
	}
}

func TestParseSortSpec(t *testing.T) {
	f, d, err := ParseSortSpec("Progress:desc")
	if err != nil || f != FieldProgress || d != Desc {
		t.Fatalf("ParseSortSpec = %v %v %v", f, d, err)
	}
	if _, _, err := ParseSortSpec("weight"); err == nil {
		t.Error("expected error for unknown field")
	}
	if _, _, err := ParseSortSpec("filename:sideways"); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestCompareQueueMode_Groups(t *testing.T) {
	jobs := []*models.Job{
		{ID: "done", Status: models.JobStatusCompleted, EndTime: models.Int64(1)},
		{ID: "q2", Status: models.JobStatusQueued, QueueOrder: models.Int64(2)},
		{ID: "run", Status: models.JobStatusProcessing},
		{ID: "q1", Status: models.JobStatusPaused, QueueOrder: models.Int64(1)},
	}
	slices.SortFunc(jobs, QueueModeFunc(DefaultSortConfig()))

	want := []string{"run", "q1", "q2", "done"}
	if got := ids(jobs); !slices.Equal(got, want) {
		t.Errorf("order = %v, expected %v", got, want)
	}
}
