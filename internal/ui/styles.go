package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary = lipgloss.Color("#38BDF8") // Sky
	Accent  = lipgloss.Color("#A78BFA") // Lavender
	Success = lipgloss.Color("#34D399") // Green
	Warning = lipgloss.Color("#FBBF24") // Yellow
	Error   = lipgloss.Color("#F87171") // Red
	Muted   = lipgloss.Color("#9CA3AF") // Gray
)

var (
	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)
	nickStyle    = lipgloss.NewStyle().Bold(true)
)

// Table styles
var (
	TableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(Accent).Padding(0, 1)
	TableRowStyle    = lipgloss.NewStyle().Padding(0, 1)
	TableRowAltStyle = TableRowStyle.Foreground(Muted)
)

// Chat layout
var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 1)

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true, false, false, false).
			BorderForeground(Muted)

	TimestampStyle = lipgloss.NewStyle().Foreground(Muted)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Italic(true)

	PendingStyle = lipgloss.NewStyle().Foreground(Muted)
)

var SpinnerStyle = lipgloss.NewStyle().Foreground(Accent)

const (
	IconSuccess = "✔"
	IconError   = "✘"
	IconWarning = "!"
	IconInfo    = "•"
	IconRoom    = "#"
	IconPeer    = "@"
	IconLink    = "⇄"
)

// NicknameStyle colors a nickname with the sender's text color when it is
// a hex color, and the accent otherwise.
func NicknameStyle(color string) lipgloss.Style {
	style := nickStyle
	if strings.HasPrefix(color, "#") && (len(color) == 4 || len(color) == 7) {
		return style.Foreground(lipgloss.Color(color))
	}
	return style.Foreground(Primary)
}

func PrintError(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintWarning(msg string) {
	fmt.Printf("%s %s\n", WarningStyle.Render(IconWarning), WarningStyle.Render(msg))
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", MutedStyle.Render(IconInfo), msg)
}

func PrintInfof(format string, args ...any) {
	PrintInfo(fmt.Sprintf(format, args...))
}
