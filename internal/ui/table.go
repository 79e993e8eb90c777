package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Medal-OF-Owner/Chatlet/internal/mesh"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

// PeersView renders the call roster shown by /who.
func PeersView(peers []mesh.PeerInfo) string {
	if len(peers) == 0 {
		return MutedStyle.Render("Nobody else is here")
	}

	rows := make([][]string, 0, len(peers))
	for i, p := range peers {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			truncate(p.Nickname, 24),
			truncate(p.ID, 12),
			p.Role.String(),
			p.State.String(),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Nickname", "Connection", "Role", "Link").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// RoomSummary is one line of the live room listing.
type RoomSummary struct {
	ID      string
	Members int
}

// RenderRooms writes the live room listing.
func RenderRooms(w io.Writer, rooms []RoomSummary) {
	t := prettytable.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(prettytable.StyleRounded)
	t.SetTitle(IconRoom + " Active rooms")
	t.AppendHeader(prettytable.Row{"#", "Room", "Members"})

	total := 0
	for i, r := range rooms {
		t.AppendRow(prettytable.Row{i + 1, r.ID, r.Members})
		total += r.Members
	}
	t.AppendFooter(prettytable.Row{"", "Total", total})
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	t.Render()
}

// RenderHistory writes messages as a table, oldest first.
func RenderHistory(w io.Writer, slug string, msgs []protocol.ChatMessage) {
	t := prettytable.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(prettytable.StyleRounded)
	t.SetTitle(fmt.Sprintf("%s %s (%d messages)", IconRoom, slug, len(msgs)))
	t.AppendHeader(prettytable.Row{"Time", "Nickname", "Message"})
	for _, m := range msgs {
		t.AppendRow(prettytable.Row{
			m.CreatedAt.Local().Format(time.DateTime),
			m.Nickname,
			m.Content,
		})
	}
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 3, WidthMax: 60},
	})
	t.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// RenderMembers writes the live members of a room.
func RenderMembers(w io.Writer, slug string, members []protocol.UserInfo) {
	t := prettytable.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(prettytable.StyleRounded)
	t.SetTitle(fmt.Sprintf("%s %s", IconPeer, slug))
	t.AppendHeader(prettytable.Row{"#", "Nickname", "Connection"})
	for i, m := range members {
		t.AppendRow(prettytable.Row{i + 1, m.Nickname, m.ConnectionID})
	}
	t.Render()
}

// MediaItem is one local file streamed to the room.
type MediaItem struct {
	Name string
	Kind string
	Size int64
}

// MediaView renders the files passed with --media.
func MediaView(items []MediaItem) string {
	rows := make([][]string, 0, len(items))
	for i, item := range items {
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), truncate(item.Name, 40), item.Kind, FormatSize(item.Size)})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "File", "Kind", "Size").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableRowStyle
		}).
		Render()
}

// FormatSize formats bytes to a human readable string.
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
