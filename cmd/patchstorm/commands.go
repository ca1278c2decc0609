package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/patchstorm/patchstorm/internal/batch"
	"github.com/patchstorm/patchstorm/internal/config"
	"github.com/patchstorm/patchstorm/internal/dispatcher"
	"github.com/patchstorm/patchstorm/internal/domain"
	"github.com/patchstorm/patchstorm/internal/driver"
	"github.com/patchstorm/patchstorm/internal/githost"
	"github.com/patchstorm/patchstorm/internal/jobstore"
	"github.com/patchstorm/patchstorm/internal/notify"
	"github.com/patchstorm/patchstorm/internal/publisher"
	"github.com/patchstorm/patchstorm/internal/resolver"
	"github.com/patchstorm/patchstorm/internal/retry"
	"github.com/patchstorm/patchstorm/internal/status"
	"github.com/patchstorm/patchstorm/internal/taskdef"
	"github.com/patchstorm/patchstorm/internal/worker"
	"github.com/patchstorm/patchstorm/internal/workspace"
)

var (
	runTaskDef   string
	runPrompt    string
	runCommitMsg string
	runRepos     string
	runSearch    string
	runProvider  string
	runReviewers []string
	runDry       bool
	runSkipPR    bool
	runDraft     bool
	runWait      bool

	workerConcurrency int
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a task definition and fan it out into jobs",
		RunE:  runRun,
	}
	runCmd.Flags().StringVarP(&runTaskDef, "task-definition", "t", "", "task definition file (- for stdin)")
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "single prompt (instead of a file)")
	runCmd.Flags().StringVarP(&runCommitMsg, "commit-msg", "m", "", "commit message and PR title")
	runCmd.Flags().StringVar(&runRepos, "repos", "", "comma-separated owner/name list")
	runCmd.Flags().StringVar(&runSearch, "search-query", "", "code search query selecting target repos")
	runCmd.Flags().StringVar(&runProvider, "agent-provider", "", "agent provider (claude_code, codex)")
	runCmd.Flags().StringSliceVar(&runReviewers, "reviewers", nil, "PR reviewers")
	runCmd.Flags().BoolVar(&runDry, "dry", false, "report the diff instead of pushing")
	runCmd.Flags().BoolVar(&runSkipPR, "skip-pr", false, "stop after the mutation check")
	runCmd.Flags().BoolVar(&runDraft, "draft", false, "open pull requests as drafts")
	runCmd.Flags().BoolVar(&runWait, "wait", false, "execute the jobs inline and wait for the run to finish")
	rootCmd.AddCommand(runCmd)

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker pool consuming the job queue",
		RunE:  runWorker,
	}
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "c", 0, "worker goroutines (defaults to config)")
	rootCmd.AddCommand(workerCmd)

	statusCmd := &cobra.Command{
		Use:   "status [RUN_ID]",
		Short: "Show the aggregated state of a run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel the pending jobs of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
	rootCmd.AddCommand(cancelCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the cron scheduler submitting configured task definitions",
		RunE:  runSchedule,
	}
	rootCmd.AddCommand(scheduleCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*jobstore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
		return nil, err
	}
	return jobstore.New(cfg.General.DatabasePath)
}

func newPool(cfg *config.Config, store *jobstore.Store, concurrency int) *worker.Pool {
	host := githost.NewGH(cfg.GitHub.Organization)
	manager := workspace.NewManager(
		cfg.General.WorkDir,
		os.Getenv("GITHUB_TOKEN"),
		cfg.GitHub.GitName,
		cfg.GitHub.GitEmail,
	)
	policy := retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: time.Duration(cfg.Retry.InitialInterval * float64(time.Second)),
		MaxInterval:     time.Duration(cfg.Retry.MaxInterval * float64(time.Second)),
	}
	drv := driver.New(
		managerAdapter{manager},
		publisher.New(host, cfg.GitHub.TrackingLabel),
		policy,
	)
	if concurrency <= 0 {
		concurrency = cfg.General.Workers
	}
	poll := time.Duration(cfg.General.PollSeconds) * time.Second
	return worker.New(store, drv, concurrency, poll)
}

// managerAdapter lifts the concrete workspace manager to the driver's
// interface
type managerAdapter struct {
	m *workspace.Manager
}

func (a managerAdapter) Clone(ctx context.Context, repo domain.RepoID, jobKey string) (driver.Workspace, error) {
	ws, err := a.m.Clone(ctx, repo, jobKey)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func loadDefinition() (*domain.TaskDefinition, error) {
	ov := taskdef.Overrides{
		Prompt:      runPrompt,
		CommitMsg:   runCommitMsg,
		Repos:       runRepos,
		SearchQuery: runSearch,
		Provider:    runProvider,
		Reviewers:   runReviewers,
		DryRun:      runDry,
		SkipPR:      runSkipPR,
		Draft:       runDraft,
	}

	switch {
	case runTaskDef == "-", runTaskDef == "" && runPrompt == "" && stdinIsPiped():
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading task definition from stdin: %w", err)
		}
		return taskdef.Parse(data, ov)
	case runTaskDef != "":
		return taskdef.Load(runTaskDef, ov)
	default:
		return taskdef.FromOverrides(ov)
	}
}

func stdinIsPiped() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice == 0
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	def, err := loadDefinition()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	host := githost.NewGH(cfg.GitHub.Organization)
	disp := dispatcher.New(resolver.New(host), store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	receipt, err := disp.Dispatch(ctx, def)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %d repos, %d jobs enqueued", receipt.RunID, len(receipt.Repos), receipt.Enqueued)
	if receipt.Skipped > 0 {
		fmt.Printf(" (%d skipped, already in flight)", receipt.Skipped)
	}
	fmt.Println()

	if !runWait {
		return nil
	}
	return waitForRun(ctx, cfg, store, receipt.RunID)
}

// waitForRun executes jobs inline until every job of the run is terminal,
// then prints the summary
func waitForRun(ctx context.Context, cfg *config.Config, store *jobstore.Store, runID string) error {
	pool := newPool(cfg, store, 0)
	agg := status.New(store)

	poolCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		pool.Run(poolCtx)
		close(done)
	}()

	var sum *status.Summary
	for {
		var err error
		sum, err = agg.Summarize(runID)
		if err != nil {
			cancel()
			<-done
			return err
		}
		if sum.Done {
			break
		}
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	cancel()
	<-done

	printSummary(os.Stdout, sum)

	if cfg.Notifications.SlackWebhook != "" {
		notifier := notify.NewSlackNotifier(cfg.Notifications.SlackWebhook)
		n := notify.RunCompleted(runID, sum.Counts, sum.Total)
		if err := notifier.Send(n); err != nil {
			fmt.Fprintf(os.Stderr, "slack notification failed: %v\n", err)
		}
	}

	// Job failures are part of a completed run, not a CLI error
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := newPool(cfg, store, workerConcurrency)
	fmt.Printf("Worker pool started (%d workers)\n", pool.Concurrency)
	pool.Run(ctx)
	fmt.Println("Worker pool stopped")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := ""
	if len(args) > 0 {
		runID = args[0]
	}

	sum, err := status.New(store).Summarize(runID)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, sum)
	return nil
}

func printSummary(w io.Writer, sum *status.Summary) {
	state := "in progress"
	if sum.Done {
		state = "done"
	}
	fmt.Fprintf(w, "Run %s (%s, started %s)\n", sum.Run.ID, state, humanize.Time(sum.Run.CreatedAt))
	fmt.Fprintf(w, "Jobs: %d total | %d pending | %d running | %d succeeded | %d no changes | %d failed | %d cancelled\n",
		sum.Total,
		sum.Counts[domain.JobPending],
		sum.Counts[domain.JobRunning],
		sum.Counts[domain.JobSucceeded],
		sum.Counts[domain.JobNoChanges],
		sum.Counts[domain.JobFailed],
		sum.Counts[domain.JobCancelled],
	)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REPO\tSTATUS\tPR\tDETAIL")
	for _, j := range sum.Jobs {
		pr := "-"
		if rec, ok := sum.Publishes[j.ID]; ok && rec.PRURL != "" {
			pr = rec.PRURL
		}
		detail := ""
		if j.Status == domain.JobFailed {
			detail = fmt.Sprintf("%s (step %d): %s", j.Reason, j.StepIndex, j.LastError)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.Repo, j.Status, pr, detail)
	}
	tw.Flush()
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := store.CancelPending(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Cancelled %d pending jobs (running jobs finish their current attempt)\n", count)
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Schedules) == 0 {
		return fmt.Errorf("no schedules configured")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sched, err := batch.NewScheduler(batch.FromConfig(cfg.Schedules))
	if err != nil {
		return err
	}

	host := githost.NewGH(cfg.GitHub.Organization)
	disp := dispatcher.New(resolver.New(host), store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, name := range sched.Names() {
		fmt.Printf("Schedule %s: next run %s\n", name, humanize.Time(sched.NextRun(name)))
	}

	sched.Run(ctx, func(ctx context.Context, sc batch.Schedule) error {
		def, err := taskdef.Load(sc.TaskDefinition, taskdef.Overrides{})
		if err != nil {
			return err
		}
		receipt, err := disp.Dispatch(ctx, def)
		if err != nil {
			return err
		}
		fmt.Printf("Schedule %s: run %s with %d jobs\n", sc.Name, receipt.RunID, receipt.Enqueued)
		return nil
	})
	return nil
}
