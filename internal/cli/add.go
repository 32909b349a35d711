package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evenscribe/umem/pkg/ingest"
	"github.com/evenscribe/umem/pkg/memory"
)

var (
	addTenant   string
	addPriority int
	addTags     []string
	addFile     string
	addURL      string
)

var addCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Store a memory",
	Long: `Store a memory for a tenant. The text comes from the argument, from a
file (--file), or from a web page (--url).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addTenant, "tenant", "", "tenant the memory belongs to (required)")
	addCmd.Flags().IntVar(&addPriority, "priority", 0, "retrieval tie-break priority")
	addCmd.Flags().StringSliceVar(&addTags, "tag", nil, "tag to attach (repeatable)")
	addCmd.Flags().StringVar(&addFile, "file", "", "read the memory text from a file (.json files are treated as batches)")
	addCmd.Flags().StringVar(&addURL, "url", "", "extract the memory text from a web page")
	addCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	switch {
	case addURL != "":
		extractor := ingest.NewExtractor(rt.log.GetZerolog())
		defer extractor.Close()

		id, err := extractor.Ingest(ctx, rt.store, addTenant, addURL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil

	case strings.HasSuffix(strings.ToLower(addFile), ".json"):
		reqs, err := ingest.LoadBatch(addFile, addTenant)
		if err != nil {
			return err
		}
		results := rt.store.AddBulk(ctx, reqs, false)
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", r.Err)
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.DocumentID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d items failed", failed, len(results))
		}
		return nil

	case addFile != "":
		data, err := os.ReadFile(addFile)
		if err != nil {
			return err
		}
		return addText(rt, cmd, string(data))

	case len(args) == 1:
		return addText(rt, cmd, args[0])

	default:
		return fmt.Errorf("provide memory text, --file, or --url")
	}
}

func addText(rt *runtime, cmd *cobra.Command, text string) error {
	id, err := rt.store.Add(cmd.Context(), memory.AddRequest{
		TenantID: addTenant,
		Content:  text,
		Priority: addPriority,
		Tags:     addTags,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
