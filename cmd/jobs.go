package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// jobLister is the optional queue-inspection capability of a job source.
type jobLister interface {
	ListPending(ctx context.Context, limit int) ([]scraper.Job, error)
}

// newJobsCmd creates the 'jobs' subcommand, which lists pending queue
// entries without claiming them.
func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Lists pending jobs, priority queue first",
		RunE:  runJobsCommand,
	}

	cmd.Flags().Int("limit", 50, "maximum number of jobs to list")

	return cmd
}

func runJobsCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	lister, ok := appInstance.JobSource().(jobLister)
	if !ok {
		return fmt.Errorf("configured job source does not support listing")
	}

	jobs, err := lister.ListPending(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no pending jobs")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "CONTRIBUTOR\tQUEUE\tBATCH")
	for _, job := range jobs {
		queue := "default"
		if job.Priority {
			queue = "priority"
		}
		batch := job.BatchID
		if batch == "" {
			batch = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", job.ContributorNumber, queue, batch)
	}
	return w.Flush()
}
