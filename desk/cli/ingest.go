package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/knowledge"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [dir]",
		Short: "Index a directory of markdown articles",
		Long:  "Parses every .md file under dir (default knowledge.dir), skipping paths matched by its ignore file, and replaces their chunks in the full-text index.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runIngest,
	}
	cmd.Flags().Int("concurrency", 0, "Files parsed in parallel (overrides knowledge.concurrency)")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	dir := cfg.Knowledge.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		cfg.Knowledge.Concurrency = n
	}

	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	ingester, err := knowledge.NewIngester(db, dir, knowledgeOptions())
	if err != nil {
		return err
	}

	report, err := ingester.IngestDir(cmd.Context())
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d files failed to ingest", len(report.Failed), report.Files)
	}
	return nil
}
