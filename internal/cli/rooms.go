package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Medal-OF-Owner/Chatlet/internal/config"
	"github.com/Medal-OF-Owner/Chatlet/internal/session"
	"github.com/Medal-OF-Owner/Chatlet/internal/ui"
)

var flagHistoryLimit int

const apiTimeout = 10 * time.Second

var roomsCmd = &cobra.Command{
	Use:   "rooms [room]",
	Short: "List active rooms, or who is in one room",
	Long: `Without arguments, lists the rooms that currently have members.
With a room name, lists that room's members.

Examples:
  chatlet rooms
  chatlet rooms lobby`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{})
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), apiTimeout)
		defer cancel()

		if len(args) == 1 {
			return listMembers(ctx, cfg, args[0])
		}

		rooms, err := session.ListRooms(ctx, cfg)
		if err != nil {
			return err
		}
		if len(rooms) == 0 {
			ui.PrintInfo("No active rooms")
			return nil
		}
		summaries := make([]ui.RoomSummary, len(rooms))
		for i, r := range rooms {
			summaries[i] = ui.RoomSummary{ID: r.ID, Members: r.Members}
		}
		ui.RenderRooms(os.Stdout, summaries)
		return nil
	},
}

func listMembers(ctx context.Context, cfg *config.Config, slug string) error {
	members, err := session.Members(ctx, cfg, slug)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		ui.PrintInfof("Nobody is in %s", slug)
		return nil
	}
	ui.RenderMembers(os.Stdout, slug, members)
	return nil
}

var historyCmd = &cobra.Command{
	Use:   "history <room>",
	Short: "Show the recent messages of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{})
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), apiTimeout)
		defer cancel()

		msgs, err := session.History(ctx, cfg, args[0], flagHistoryLimit)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			ui.PrintInfof("No messages in %s", args[0])
			return nil
		}
		ui.RenderHistory(os.Stdout, args[0], msgs)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 50, "number of messages (max 50)")

	rootCmd.AddCommand(roomsCmd)
	rootCmd.AddCommand(historyCmd)
}
