package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ask <message...>",
		Short: "Run a single conversation turn and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	cmd.Flags().StringP("session", "s", "cli", "Session id")
	cmd.Flags().StringP("role", "r", "trainee", "User role")
	cmd.Flags().IntP("top-k", "k", 0, "Knowledge chunks to retrieve (default orchestrator.default_top_k)")

	RootCmd.AddCommand(cmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	session, _ := cmd.Flags().GetString("session")
	role, _ := cmd.Flags().GetString("role")
	topK, _ := cmd.Flags().GetInt("top-k")

	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	components, err := newEngine(cmd.Context(), db, nil)
	if err != nil {
		return err
	}

	resp, err := components.Engine.HandleTurn(cmd.Context(), orchestration.Request{
		SessionID: session,
		Message:   strings.Join(args, " "),
		UserRole:  role,
		TopK:      topK,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}
