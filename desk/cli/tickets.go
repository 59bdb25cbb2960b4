package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/adapters"
	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

func init() {
	tickets := &cobra.Command{
		Use:   "tickets",
		Short: "Inspect and update support tickets",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tickets, newest first",
		Args:  cobra.NoArgs,
		RunE:  runTicketsList,
	}
	list.Flags().String("session", "", "Only tickets of this session")
	list.Flags().String("status", "", "Only tickets in this status (NEW, IN_PROGRESS, RESOLVED, CLOSED)")
	list.Flags().IntP("limit", "n", adapters.DefaultTicketLimit, "Maximum tickets")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one ticket",
		Args:  cobra.ExactArgs(1),
		RunE:  runTicketsGet,
	}

	status := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a ticket to another status",
		Args:  cobra.ExactArgs(2),
		RunE:  runTicketsStatus,
	}

	tickets.AddCommand(list, get, status)
	RootCmd.AddCommand(tickets)
}

func runTicketsList(cmd *cobra.Command, args []string) error {
	session, _ := cmd.Flags().GetString("session")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	tickets, err := adapters.NewSQLTicketStore(db).ListTickets(cmd.Context(), ports.TicketFilter{
		SessionID: session,
		Status:    ports.TicketStatus(strings.ToUpper(status)),
		Limit:     limit,
	})
	if err != nil {
		return err
	}
	if tickets == nil {
		tickets = []ports.Ticket{}
	}
	return printJSON(cmd.OutOrStdout(), tickets)
}

func runTicketsGet(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	ticket, err := adapters.NewSQLTicketStore(db).GetTicket(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("ticket %s: %w", args[0], err)
	}
	return printJSON(cmd.OutOrStdout(), ticket)
}

func runTicketsStatus(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	status := ports.TicketStatus(strings.ToUpper(args[1]))
	ticket, err := adapters.NewSQLTicketStore(db).UpdateTicketStatus(cmd.Context(), args[0], status)
	if err != nil {
		return fmt.Errorf("ticket %s: %w", args[0], err)
	}
	logger.Info().Str("ticket_id", ticket.ID).Str("status", string(ticket.Status)).Msg("Ticket status updated")
	return printJSON(cmd.OutOrStdout(), ticket)
}
