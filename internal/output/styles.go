package output

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette. Never use inline lipgloss.Color literals elsewhere.
var (
	// ColorCyan is used for identifiable nouns: versions, paths, URLs.
	ColorCyan = lipgloss.Color("14")

	// ColorGreen marks the version being served and added assets.
	ColorGreen = lipgloss.Color("82")

	// ColorYellow marks a pending version and modified assets.
	ColorYellow = lipgloss.Color("220")

	// ColorRed marks removed assets.
	ColorRed = lipgloss.Color("196")

	// ColorBoldRed marks blacklisted versions (matches ERROR level).
	ColorBoldRed = lipgloss.Color("204")

	// ColorGreenCheck is used for the completion checkmark.
	ColorGreenCheck = lipgloss.Color("10")

	// ColorDimGray is used for borders and other structural chrome.
	ColorDimGray = lipgloss.Color("240")

	// ColorBlue is used for table headers.
	ColorBlue = lipgloss.Color("12")
)

// Semantic styles.
var (
	// StyleNoun styles identifiable nouns.
	StyleNoun = lipgloss.NewStyle().Foreground(ColorCyan)

	// StyleAction styles action verbs (checking, downloading, pruning).
	StyleAction = lipgloss.NewStyle().Bold(true)

	// StyleDim styles structural chrome.
	StyleDim = lipgloss.NewStyle().Faint(true)

	// StyleSummary styles completion and summary lines.
	StyleSummary = lipgloss.NewStyle().Bold(true)
)

// Version roles shown by `hcp versions`.
const (
	RoleCurrent     = "current"
	RolePending     = "pending"
	RoleInitial     = "initial"
	RoleKnownGood   = "last-known-good"
	RoleBlacklisted = "blacklisted"
	RoleDownloaded  = "downloaded"
)

// RoleStyle returns the style for a version role. Unknown roles are unstyled.
func RoleStyle(role string) lipgloss.Style {
	switch role {
	case RoleCurrent:
		return lipgloss.NewStyle().Foreground(ColorGreen)
	case RolePending:
		return lipgloss.NewStyle().Foreground(ColorYellow)
	case RoleInitial, RoleDownloaded:
		return lipgloss.NewStyle().Faint(true)
	case RoleBlacklisted:
		return lipgloss.NewStyle().Bold(true).Foreground(ColorBoldRed)
	default:
		return lipgloss.NewStyle()
	}
}

// ChangeStyle returns the style for a manifest change tag.
func ChangeStyle(tag string) lipgloss.Style {
	switch tag {
	case "added":
		return lipgloss.NewStyle().Foreground(ColorGreen)
	case "modified":
		return lipgloss.NewStyle().Foreground(ColorYellow)
	case "removed":
		return lipgloss.NewStyle().Foreground(ColorRed)
	default:
		return lipgloss.NewStyle()
	}
}

// FormatCheckmark renders a green checkmark with a message for stdout output.
func FormatCheckmark(msg string) string {
	check := lipgloss.NewStyle().Foreground(ColorGreenCheck).Render("✔")
	return check + " " + msg
}
