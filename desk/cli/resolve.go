package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "resolve <session>",
		Short: "Mark a session resolved, resetting its unresolved-attempt counter",
		Args:  cobra.ExactArgs(1),
		RunE:  runResolve,
	})
}

func runResolve(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	components, err := newEngine(cmd.Context(), db, nil)
	if err != nil {
		return err
	}
	if err := components.Engine.MarkResolved(cmd.Context(), args[0]); err != nil {
		return err
	}

	conv, err := components.Engine.Conversation(cmd.Context(), args[0], 0)
	if err != nil {
		return err
	}
	conv.History = nil
	return printJSON(cmd.OutOrStdout(), conv)
}
