package filter

import (
	"errors"
	"testing"

	"github.com/psantana5/ffqueue/pkg/models"
)

func job(id, path string, size float64, status models.JobStatus) *models.Job {
	return &models.Job{ID: id, InputPath: path, Filename: path, OriginalSizeMB: size, Status: status}
}

func TestParseSizeToken(t *testing.T) {
	tests := []struct {
		token string
		ok    bool
		op    SizeOp
		mb    float64
	}{
		{"size>10mb", true, SizeGreater, 10},
		{"size10", true, SizeGreater, 10},
		{"SIZE<=2GB", true, SizeLessEqual, 2048},
		{"size>=512kb", true, SizeGreaterEqual, 0.5},
		{"size=1.5", true, SizeEqual, 1.5},
		{"size", false, "", 0},
		{"sizeable", false, "", 0},
		{"size>10tb", false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			sf, ok := ParseSizeToken(tt.token)
			if ok != tt.ok {
				t.Fatalf("ok = %v, expected %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if sf.Op != tt.op || sf.ThresholdMB != tt.mb {
				t.Errorf("got %s %v, expected %s %v", sf.Op, sf.ThresholdMB, tt.op, tt.mb)
			}
		})
	}
}

func TestSizeFilter(t *testing.T) {
	p := NewCompiler().Compile(Query{Text: "size>10mb"})

	if !p.Match(job("a", "a.mp4", 15, models.JobStatusQueued)) {
		t.Error("15MB should match size>10mb")
	}
	if p.Match(job("b", "b.mp4", 5, models.JobStatusQueued)) {
		t.Error("5MB should not match size>10mb")
	}
	if p.Match(job("c", "c.mp4", 0, models.JobStatusQueued)) {
		t.Error("a job without a size must fail any size filter")
	}

	sized := 20.0
	fromMediaInfo := &models.Job{ID: "d", Filename: "d.mp4", MediaInfo: &models.MediaInfo{SizeMB: &sized}}
	if !p.Match(fromMediaInfo) {
		t.Error("media info size should be used when the original size is missing")
	}
}

func TestSizeFilter_EqualTolerance(t *testing.T) {
	p := NewCompiler().Compile(Query{Text: "size=2gb"})
	if !p.Match(job("a", "a.mkv", 2048+300, models.JobStatusQueued)) {
		t.Error("within half a gigabyte should match size=2gb")
	}
	if p.Match(job("b", "b.mkv", 2048+600, models.JobStatusQueued)) {
		t.Error("more than half a gigabyte off should not match")
	}
}

func TestSubstringTokens(t *testing.T) {
	c := NewCompiler()
	j := job("a", `C:\Videos\Holiday\Beach.MP4`, 1, models.JobStatusQueued)
	j.InputPath = `C:\Videos\Holiday\Beach.MP4`

	tests := []struct {
		text string
		want bool
	}{
		{"beach", true},
		{"holiday beach", true},
		{"videos/holiday", true},
		{"beach / mp4", true},
		{"beach mountain", false},
		{"", true},
	}
	for _, tt := range tests {
		if got := c.Compile(Query{Text: tt.text}).Match(j); got != tt.want {
			t.Errorf("%q: match = %v, expected %v", tt.text, got, tt.want)
		}
	}
}

func TestRegexToken_KeepsLastValidPattern(t *testing.T) {
	c := NewCompiler()
	mkv := job("a", "movie.mkv", 1, models.JobStatusQueued)
	mp4 := job("b", "movie.mp4", 1, models.JobStatusQueued)

	p := c.Compile(Query{Text: `regex:\.MKV$`})
	if p.Invalid != nil {
		t.Fatalf("unexpected validation error: %v", p.Invalid)
	}
	if !p.Match(mkv) || p.Match(mp4) {
		t.Fatal("regex token should be case-insensitive and anchor on the extension")
	}

	p = c.Compile(Query{Text: `regex:(mkv`})
	if p.Invalid == nil {
		t.Fatal("expected a validation error for an unbalanced pattern")
	}
	var ip *InvalidPatternError
	if !errors.As(error(p.Invalid), &ip) || ip.Pattern != "(mkv" {
		t.Errorf("unexpected error: %v", p.Invalid)
	}
	if !p.Match(mkv) || p.Match(mp4) {
		t.Error("an invalid pattern should fall back to the last valid one")
	}
}

func TestRegexMode_WholeInputIsOnePattern(t *testing.T) {
	c := NewCompiler()
	p := c.Compile(Query{Text: "  movie (1|2)\\.mkv ", RegexMode: true})
	if !p.Match(job("a", "movie 2.mkv", 1, models.JobStatusQueued)) {
		t.Error("expected regex mode to treat the input, spaces included, as a single pattern")
	}
	if p.Match(job("b", "movie 3.mkv", 1, models.JobStatusQueued)) {
		t.Error("unexpected match")
	}

	fresh := NewCompiler().Compile(Query{Text: "[", RegexMode: true})
	if fresh.Invalid == nil {
		t.Error("expected validation error")
	}
	if !fresh.Match(job("c", "anything.mkv", 1, models.JobStatusQueued)) {
		t.Error("without any valid pattern the regex clause is skipped")
	}
}

func TestStatusAndKindFilters(t *testing.T) {
	c := NewCompiler()
	processing := job("p", "p.mp4", 1, models.JobStatusProcessing)
	queued := job("q", "q.mp4", 1, models.JobStatusQueued)
	legacy := job("w", "w.mp4", 1, models.JobStatusWaiting)
	batch := job("b", "b.mp4", 1, models.JobStatusQueued)
	batch.Source = models.JobSourceBatchCompress

	p := c.Compile(Query{Statuses: []models.JobStatus{models.JobStatusQueued}})
	if p.Match(processing) {
		t.Error("processing job should be hidden by a queued-only status filter")
	}
	if !p.MatchIgnoringStatus(processing) {
		t.Error("MatchIgnoringStatus must disregard status toggles")
	}
	if !p.Match(queued) || !p.Match(legacy) {
		t.Error("queued filter should match queued and legacy waiting jobs")
	}

	p = c.Compile(Query{Kinds: []models.Kind{models.KindManual}})
	if p.Match(batch) || !p.Match(queued) {
		t.Error("kind filter mismatch")
	}
	if p.MatchIgnoringStatus(batch) {
		t.Error("kind filter still applies when ignoring status")
	}
}

func TestQueryIsActive(t *testing.T) {
	if (Query{Text: "   "}).IsActive() {
		t.Error("whitespace-only text is not an active filter")
	}
	if !(Query{Kinds: []models.Kind{models.KindManual}}).IsActive() {
		t.Error("kind toggles are an active filter")
	}
}
