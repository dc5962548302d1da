package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/ffqueue/pkg/bulk"
	"github.com/psantana5/ffqueue/pkg/models"
)

// printStructured writes v as JSON or YAML and reports whether it did
func printStructured(w io.Writer, v interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case "table", "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q", outputFormat)
	}
}

func formatStatus(j *models.Job) string {
	s := string(models.Normalize(j.Status))
	if j.WaitRequestPending {
		s += " (pausing)"
	}
	return s
}

func formatQueueOrder(j *models.Job) string {
	if j.QueueOrder == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *j.QueueOrder+1)
}

func formatSize(j *models.Job) string {
	mb, ok := j.EffectiveSizeMB()
	if !ok {
		return "-"
	}
	if j.OutputSizeMB != nil {
		return fmt.Sprintf("%.1f -> %.1f", mb, *j.OutputSizeMB)
	}
	return fmt.Sprintf("%.1f", mb)
}

func formatElapsed(j *models.Job) string {
	if j.ElapsedMs == nil {
		return "-"
	}
	return (time.Duration(*j.ElapsedMs) * time.Millisecond).Round(time.Second).String()
}

func printJobs(w io.Writer, jobs []*models.Job) error {
	if done, err := printStructured(w, jobs); done {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Queue", "ID", "File", "Status", "Progress", "Preset", "Size (MB)", "Elapsed", "Batch")
	for _, j := range jobs {
		table.Append(
			formatQueueOrder(j),
			j.ID,
			j.BaseName(),
			formatStatus(j),
			fmt.Sprintf("%.0f%%", j.Progress),
			j.PresetID,
			formatSize(j),
			formatElapsed(j),
			j.BatchID,
		)
	}
	return table.Render()
}

func printResult(w io.Writer, res bulk.Result) error {
	if done, err := printStructured(w, res); done {
		return err
	}
	mode := "sent to master"
	if res.Local {
		mode = "applied locally"
	}
	fmt.Fprintf(w, "%s: %d job(s) %s", res.Action, len(res.IDs), mode)
	if len(res.Skipped) > 0 {
		fmt.Fprintf(w, ", %d skipped (not eligible): %v", len(res.Skipped), res.Skipped)
	}
	fmt.Fprintln(w)
	return nil
}
