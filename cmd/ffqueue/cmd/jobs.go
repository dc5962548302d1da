package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psantana5/ffqueue/pkg/backend"
	"github.com/psantana5/ffqueue/pkg/comparator"
	"github.com/psantana5/ffqueue/pkg/filter"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/queueview"
)

var (
	// view flags shared by list and watch
	filterText   string
	regexMode    bool
	statusFilter []string
	kindFilter   []string
	sortSpec     string
	thenSpec     string
	queueMode    bool
	onlyActive   bool

	// enqueue flags
	presetID  string
	outputDir string
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List and control queue jobs",
	Long:  `Commands for listing, filtering, reordering and controlling jobs in the transcoding queue.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Long: `List jobs in display order.

Filter text is split into tokens; every token must match the path or file
name. A token of the form size>500mb filters by size and regex:<pattern>
matches a regular expression.`,
	Example: `  ffqueue jobs list --sort progress:desc
  ffqueue jobs list --filter "regex:^/media/tv size>1gb" --status queued,paused
  ffqueue jobs list --queue-mode`,
	RunE: runJobsList,
}

var jobsQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the waiting queue in execution order",
	RunE:  runJobsQueue,
}

var jobsReorderCmd = &cobra.Command{
	Use:   "reorder <job-id>...",
	Short: "Put jobs at the head of the waiting queue in the given order",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runJobsReorder,
}

var jobsTopCmd = &cobra.Command{
	Use:   "top <job-id>...",
	Short: "Move jobs to the head of the waiting queue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runJobsMove(true),
}

var jobsBottomCmd = &cobra.Command{
	Use:   "bottom <job-id>...",
	Short: "Move jobs to the tail of the waiting queue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runJobsMove(false),
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <input-path>...",
	Short: "Add files to the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runJobsEnqueue,
}

var jobsDeleteBatchCmd = &cobra.Command{
	Use:   "delete-batch <batch-id>",
	Short: "Delete every job of a batch scan",
	Long: `Delete every job of a batch scan in one request.

The batch is only deleted when all of its jobs are finished (completed,
failed, cancelled or skipped); otherwise nothing is removed.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsDeleteBatch,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per status",
	RunE:  runJobsStats,
}

// actionCmd builds the wait/resume/restart/cancel commands
func actionCmd(action backend.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <job-id>...",
		Short: short,
		Long: short + `.

Ineligible jobs are skipped. Several ids are sent as one bulk request; if
the master rejects it every job is rolled back.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd.Context(), viewConfig())
			if err != nil {
				return err
			}
			defer s.Close()
			res, err := s.view.ApplyTo(cmd.Context(), action, args...)
			if err != nil {
				return commandError(s, err)
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsQueueCmd, jobsReorderCmd, jobsTopCmd, jobsBottomCmd, jobsEnqueueCmd, jobsStatsCmd)
	jobsCmd.AddCommand(
		actionCmd(backend.ActionWait, "Pause jobs; running jobs stop at the next safe point"),
		actionCmd(backend.ActionResume, "Resume paused jobs"),
		actionCmd(backend.ActionRestart, "Restart jobs from the beginning"),
		actionCmd(backend.ActionCancel, "Cancel jobs"),
		actionCmd(backend.ActionDelete, "Delete finished jobs from the queue"),
		jobsDeleteBatchCmd,
	)

	addViewFlags(jobsListCmd)
	jobsListCmd.Flags().BoolVar(&onlyActive, "processing", false, "only show running jobs (status filter ignored)")

	jobsEnqueueCmd.Flags().StringVar(&presetID, "preset", "", "preset id to transcode with")
	jobsEnqueueCmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for transcoded files")
}

func addViewFlags(c *cobra.Command) {
	c.Flags().StringVarP(&filterText, "filter", "f", "", "filter text")
	c.Flags().BoolVar(&regexMode, "regex", false, "treat the whole filter text as a regular expression")
	c.Flags().StringSliceVar(&statusFilter, "status", nil, "only show these statuses")
	c.Flags().StringSliceVar(&kindFilter, "kind", nil, "only show these kinds: manual, batchCompress")
	c.Flags().StringVar(&sortSpec, "sort", "addedTime:asc", "primary sort key as field[:asc|desc]")
	c.Flags().StringVar(&thenSpec, "then", "filename:asc", "secondary sort key as field[:asc|desc]")
	c.Flags().BoolVar(&queueMode, "queue-mode", false, "running jobs first, then the waiting queue in order")
}

// commandError prefers the translated message the view shows the user
func commandError(s *session, err error) error {
	if msg := s.view.Error(); msg != "" {
		return errors.New(msg)
	}
	return err
}

func viewConfig() queueview.Config {
	return queueview.FromConfig(cfg)
}

// buildQuery turns the view flags into a filter query and sort config
func buildQuery() (filter.Query, comparator.SortConfig, error) {
	q := filter.Query{Text: filterText, RegexMode: regexMode}
	for _, s := range statusFilter {
		st, err := models.ParseStatus(s)
		if err != nil {
			return q, comparator.SortConfig{}, err
		}
		q.Statuses = append(q.Statuses, st)
	}
	for _, k := range kindFilter {
		switch kind := models.Kind(strings.TrimSpace(k)); kind {
		case models.KindManual, models.KindBatchCompress:
			q.Kinds = append(q.Kinds, kind)
		default:
			return q, comparator.SortConfig{}, fmt.Errorf("unknown kind %q", k)
		}
	}

	var sc comparator.SortConfig
	var err error
	if sc.Primary, sc.PrimaryDirection, err = comparator.ParseSortSpec(sortSpec); err != nil {
		return q, sc, err
	}
	if thenSpec != "" {
		if sc.Secondary, sc.SecondaryDirection, err = comparator.ParseSortSpec(thenSpec); err != nil {
			return q, sc, err
		}
	}
	return q, sc, nil
}

// applyViewFlags configures view from the flags
func applyViewFlags(view *queueview.View) error {
	q, sc, err := buildQuery()
	if err != nil {
		return err
	}
	view.SetQuery(q)
	view.SetSort(sc)
	view.SetQueueMode(queueMode)
	if w := view.FilterWarning(); w != "" {
		logger.Warn(w)
	}
	return nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	cfgView := viewConfig()
	cfgView.Ordering.Synchronous = true
	s, err := load(cmd.Context(), cfgView)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := applyViewFlags(s.view); err != nil {
		return err
	}
	if onlyActive {
		return printJobs(cmd.OutOrStdout(), s.view.ProcessingJobs())
	}
	return printJobs(cmd.OutOrStdout(), s.view.DisplayOrderedJobs())
}

func runJobsQueue(cmd *cobra.Command, args []string) error {
	s, err := load(cmd.Context(), viewConfig())
	if err != nil {
		return err
	}
	defer s.Close()
	return printJobs(cmd.OutOrStdout(), s.view.WaitingJobs())
}

func runJobsReorder(cmd *cobra.Command, args []string) error {
	s, err := load(cmd.Context(), viewConfig())
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.view.ReorderWaitingQueue(cmd.Context(), args); err != nil {
		return commandError(s, err)
	}
	return printJobs(cmd.OutOrStdout(), s.view.WaitingJobs())
}

func runJobsMove(top bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := load(cmd.Context(), viewConfig())
		if err != nil {
			return err
		}
		defer s.Close()
		s.view.Select(args...)
		if top {
			err = s.view.MoveSelectedToTop(cmd.Context())
		} else {
			err = s.view.MoveSelectedToBottom(cmd.Context())
		}
		if err != nil {
			return commandError(s, err)
		}
		return printJobs(cmd.OutOrStdout(), s.view.WaitingJobs())
	}
}

func runJobsEnqueue(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd.Context(), viewConfig())
	if err != nil {
		return err
	}
	defer s.Close()

	reqs := make([]models.EnqueueRequest, len(args))
	for i, in := range args {
		reqs[i] = models.EnqueueRequest{InputPath: in, PresetID: presetID}
		if outputDir != "" {
			reqs[i].OutputPath = filepath.Join(outputDir, filepath.Base(in))
		}
	}

	var jobs []*models.Job
	if len(reqs) == 1 {
		var j *models.Job
		j, err = s.view.Enqueue(cmd.Context(), reqs[0])
		jobs = []*models.Job{j}
	} else {
		jobs, err = s.view.EnqueueMany(cmd.Context(), reqs)
	}
	if err != nil {
		return commandError(s, err)
	}
	return printJobs(cmd.OutOrStdout(), jobs)
}

func runJobsDeleteBatch(cmd *cobra.Command, args []string) error {
	s, err := load(cmd.Context(), viewConfig())
	if err != nil {
		return err
	}
	defer s.Close()
	res, err := s.view.DeleteBatch(cmd.Context(), args[0])
	if err != nil {
		return commandError(s, err)
	}
	return printResult(cmd.OutOrStdout(), res)
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	s, err := load(cmd.Context(), viewConfig())
	if err != nil {
		return err
	}
	defer s.Close()

	st := s.view.Stats()
	if done, err := printStructured(cmd.OutOrStdout(), st); done {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Total jobs: %d\n", st.Total)
	for _, status := range models.AllStatuses {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-11s %d\n", status, st.ByStatus[string(status)])
	}
	return nil
}
