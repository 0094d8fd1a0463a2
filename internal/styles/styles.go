// Package styles provides shared lipgloss styles for CLI output.
package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Tokyo Night color palette.
var (
	ColorGreen  = lipgloss.Color("#9ece6a")
	ColorYellow = lipgloss.Color("#e0af68")
	ColorRed    = lipgloss.Color("#d75f6b")
	ColorBlue   = lipgloss.Color("#7aa2f7")
	ColorGray   = lipgloss.Color("#565f89")
	ColorWhite  = lipgloss.Color("#c0caf5")
	ColorBlack  = lipgloss.Color("#1a1b26")
)

// Banner ASCII art for the header.
const Banner = `
 ╔╦╗╔═╗╔═╗╦╔═╦ ╦╔═╗╔╗╔╔╦╗
  ║║║ ║║  ╠╩╗╠═╣╠═╣║║║ ║║
 ═╩╝╚═╝╚═╝╩ ╩╩ ╩╩ ╩╝╚╝═╩╝`

// BannerStyle styles the ASCII art banner.
var BannerStyle = lipgloss.NewStyle().
	Foreground(ColorBlue).
	Bold(true)

// LabelStyle styles key names in key/value output.
var LabelStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// ValueStyle styles values in key/value output.
var ValueStyle = lipgloss.NewStyle().
	Foreground(ColorWhite)

// TimestampStyle styles the time prefix of streamed lines.
var TimestampStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// badge is the base for status badges.
var badge = lipgloss.NewStyle().
	Padding(0, 1).
	Bold(true).
	Foreground(ColorBlack)

// PausedBadgeStyle marks a poller that stopped after repeated failures.
var PausedBadgeStyle = badge.Background(ColorYellow)

// Badge renders state as a colored badge. Running and successful states are
// green, failures red, transitional states yellow, anything else gray.
func Badge(state string) string {
	var color lipgloss.Color
	switch strings.ToLower(state) {
	case "running", "healthy", "success", "succeeded", "up":
		color = ColorGreen
	case "exited", "dead", "failed", "error", "unhealthy", "cancelled", "canceled":
		color = ColorRed
	case "created", "restarting", "paused", "pending", "queued", "building", "starting":
		color = ColorYellow
	default:
		color = ColorGray
	}
	return badge.Background(color).Render(strings.ToUpper(state))
}
