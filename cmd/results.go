package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newResultsCmd creates the 'results' subcommand, which prints recent
// scrape results as JSON.
func newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Prints recent scrape results as JSON, newest first",
		RunE:  runResultsCommand,
	}

	cmd.Flags().Int("limit", 50, "maximum number of results to print")
	cmd.Flags().String("numero-contribuinte", "", "filter by contributor number")

	return cmd
}

func runResultsCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	contributor, err := cmd.Flags().GetString("numero-contribuinte")
	if err != nil {
		return err
	}

	reader := appInstance.ResultReader()
	if reader == nil {
		return fmt.Errorf("result store not configured, set db.dsn")
	}

	results, err := reader.ListResults(cmd.Context(), contributor, limit)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, result := range results {
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no results")
	}
	return nil
}
