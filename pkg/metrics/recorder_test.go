package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecorder_WriteText(t *testing.T) {
	r, err := NewRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	r.ObserveSort("progressive", 20*time.Millisecond)
	r.CountBulk("wait", "ok")
	r.IncCompleted()
	r.SetJobCounts(map[string]int{"queued": 3})

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		`ffqueue_sort_runs_total{strategy="progressive"} 1`,
		`ffqueue_bulk_operations_total{action="wait",result="ok"} 1`,
		`ffqueue_completed_jobs_total 1`,
		`ffqueue_jobs{status="queued"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestRecorder_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewRecorder(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRecorder(reg); err == nil {
		t.Error("expected an error registering twice on the same registry")
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveSort("sync", time.Millisecond)
	r.CountBulk("cancel", "error")
	r.IncCompleted()
	if err := r.WriteText(&bytes.Buffer{}); err != nil {
		t.Error(err)
	}
}
