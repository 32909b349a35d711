package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evenscribe/umem/pkg/memory"
	"github.com/evenscribe/umem/pkg/vectorindex"
)

var (
	queryTenant    string
	queryTopK      int
	queryWindow    int
	queryTags      []string
	querySummarize bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Retrieve memories relevant to a query",
	Long: `Search a tenant's memories by meaning and print the assembled
context.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryTenant, "tenant", "", "tenant whose memories to search (required)")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "maximum matches to retrieve")
	queryCmd.Flags().IntVar(&queryWindow, "window", 0, "neighbor chunks on each side (-1 disables)")
	queryCmd.Flags().StringSliceVar(&queryTags, "tag", nil, "restrict to memories carrying this tag (repeatable)")
	queryCmd.Flags().BoolVar(&querySummarize, "summarize", false, "condense the assembled context")
	queryCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.engine.Query(ctx, memory.QueryRequest{
		TenantID:  queryTenant,
		Query:     args[0],
		TopK:      queryTopK,
		Window:    queryWindow,
		Filters:   vectorindex.Filters{Tags: queryTags},
		Summarize: querySummarize,
	})
	if err != nil {
		return err
	}

	if res.Text == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "no matching memories")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Text)
	return nil
}
