package fakemaster

import (
	"fmt"
	"math/rand/v2"

	"github.com/psantana5/ffqueue/pkg/models"
)

var demoPresets = []string{"h264-fast", "hevc-archive", "av1-small", "copy-audio"}

var demoCodecs = []string{"h264", "hevc", "mpeg2video", "vp9"}

// DemoJobs builds n plausible jobs: a few finished, one running, the rest
// waiting, some of them grouped into a batch scan
func DemoJobs(n int, nowMs int64, seed uint64) []*models.Job {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	jobs := make([]*models.Job, 0, n)
	for i := 0; i < n; i++ {
		added := nowMs - int64(n-i)*60_000
		j := &models.Job{
			ID:             fmt.Sprintf("demo-%04d", i+1),
			Filename:       fmt.Sprintf("clip_%04d.mkv", i+1),
			InputPath:      fmt.Sprintf("/media/incoming/clip_%04d.mkv", i+1),
			Type:           models.JobTypeVideo,
			Source:         models.JobSourceManual,
			PresetID:       demoPresets[rng.IntN(len(demoPresets))],
			OriginalCodec:  demoCodecs[rng.IntN(len(demoCodecs))],
			OriginalSizeMB: float64(50+rng.IntN(4000)) + rng.Float64(),
			StartTime:      models.Int64(added),
			CreatedTimeMs:  models.Int64(added - int64(rng.IntN(86_400_000))),
			Status:         models.JobStatusQueued,
		}
		if i%5 == 4 {
			j.Source = models.JobSourceBatchCompress
			j.BatchID = "scan-1"
			j.InputPath = fmt.Sprintf("/media/library/clip_%04d.mkv", i+1)
		}
		switch {
		case i < n/5:
			j.Status = models.JobStatusCompleted
			j.Progress = 100
			j.EndTime = models.Int64(added + 30_000)
			j.OutputSizeMB = models.Float64(j.OriginalSizeMB * (0.3 + rng.Float64()*0.4))
		case i == n/5:
			j.Status = models.JobStatusProcessing
			j.Progress = float64(rng.IntN(60))
			j.ProcessingStartedMs = models.Int64(nowMs - 20_000)
			j.ElapsedMs = models.Int64(20_000)
		}
		jobs = append(jobs, j)
	}
	return jobs
}
