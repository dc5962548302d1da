package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/queueview"
	"github.com/psantana5/ffqueue/pkg/shutdown"
)

var (
	watchInterval time.Duration
	watchLimit    int
	metricsAddr   string
	dumpMetrics   bool
	watchDuration time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the queue live",
	Long: `Watch subscribes to the master's event channel and redraws the queue
whenever it changes. Progress updates are applied in place; large queues are
sorted in the background while the sorted prefix is already shown.

Example:
  ffqueue watch --sort progress:desc
  ffqueue watch --queue-mode --metrics-addr :9091
  ffqueue watch --demo 2000`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addViewFlags(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 500*time.Millisecond, "minimum time between redraws")
	watchCmd.Flags().IntVar(&watchLimit, "limit", 30, "rows to show (0 shows every job)")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	watchCmd.Flags().BoolVar(&dumpMetrics, "dump-metrics", false, "print metrics on exit")
	watchCmd.Flags().DurationVar(&watchDuration, "for", 0, "stop after this long (0 runs until interrupted)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if watchDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, watchDuration)
		defer cancel()
	}

	s, err := newSession(ctx, viewConfig())
	if err != nil {
		return err
	}
	mgr := shutdown.New(5*time.Second, logger)
	mgr.Register("session", func(context.Context) error {
		s.Close()
		return nil
	})

	if err := applyViewFlags(s.view); err != nil {
		mgr.Shutdown()
		return err
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		mgr.Register("metrics server", shutdown.StopHTTPServer(srv))
		go func() {
			logger.Info("serving metrics", map[string]interface{}{"addr": metricsAddr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	var dirty atomic.Bool
	dirty.Store(true)
	s.view.Subscribe(func(c queueview.Change) { dirty.Store(true) })

	runErr := make(chan error, 1)
	go func() { runErr <- s.view.Run(ctx) }()

	out := cmd.OutOrStdout()
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-runErr:
			if err != nil {
				mgr.Shutdown()
				return err
			}
			break loop
		case <-ticker.C:
			if dirty.Swap(false) {
				draw(out, s.view)
			}
		}
	}

	if dumpMetrics {
		if err := s.metrics.WriteText(out); err != nil {
			logger.Warn("failed to dump metrics", map[string]interface{}{"error": err.Error()})
		}
	}
	return mgr.Shutdown()
}

// draw clears the terminal and prints the current view
func draw(w io.Writer, view *queueview.View) {
	if f, ok := w.(*os.File); ok && outputFormat == "table" {
		fmt.Fprint(f, "\033[H\033[2J")
	}
	st := view.Stats()
	fmt.Fprintf(w, "%s  jobs: %d shown / %d total  processing: %d  queued: %d  paused: %d  completed since start: %d  sort: %s\n",
		time.Now().Format("15:04:05"), st.Filtered, st.Total,
		st.ByStatus[string(models.JobStatusProcessing)],
		st.ByStatus[string(models.JobStatusQueued)],
		st.ByStatus[string(models.JobStatusPaused)],
		st.Completed, st.SortState)
	if st.Error != "" {
		fmt.Fprintf(w, "! %s\n", st.Error)
	}
	if warn := view.FilterWarning(); warn != "" {
		fmt.Fprintf(w, "! %s\n", warn)
	}

	jobs := view.DisplayOrderedJobs()
	if watchLimit > 0 && len(jobs) > watchLimit {
		jobs = jobs[:watchLimit]
	}
	if err := printJobs(w, jobs); err != nil {
		logger.Warn("render failed", map[string]interface{}{"error": err.Error()})
	}
}
