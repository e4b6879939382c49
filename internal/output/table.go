package output

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// TableStyle defines the style for table output.
type TableStyle struct {
	Border      lipgloss.Border
	BorderColor lipgloss.Color
	HeaderStyle lipgloss.Style
	CellStyle   lipgloss.Style
}

// DefaultTableStyle returns the default table style.
func DefaultTableStyle() TableStyle {
	return TableStyle{
		Border:      lipgloss.NormalBorder(),
		BorderColor: ColorDimGray,
		HeaderStyle: lipgloss.NewStyle().Bold(true).Foreground(ColorBlue),
		CellStyle:   lipgloss.NewStyle(),
	}
}

// Table represents a styled table.
type Table struct {
	headers []string
	rows    [][]string
	style   TableStyle
}

// NewTable creates a new table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		style:   DefaultTableStyle(),
	}
}

// Row adds a row to the table.
func (t *Table) Row(cells ...string) *Table {
	t.rows = append(t.rows, cells)
	return t
}

// SetStyle sets the table style.
func (t *Table) SetStyle(style TableStyle) *Table {
	t.style = style
	return t
}

// String renders the table as a string.
func (t *Table) String() string {
	tbl := table.New().
		Border(t.style.Border).
		BorderStyle(lipgloss.NewStyle().Foreground(t.style.BorderColor)).
		Headers(t.headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return t.style.HeaderStyle
			}
			return t.style.CellStyle
		})

	for _, row := range t.rows {
		tbl.Row(row...)
	}

	return tbl.String()
}

// VersionRow is one line of `hcp versions`.
type VersionRow struct {
	Version string
	Roles   []string
	Dir     string
}

// RenderVersionTable renders the known versions with their roles.
func RenderVersionTable(rows []VersionRow) string {
	t := NewTable("VERSION", "ROLE", "DIRECTORY")
	for _, r := range rows {
		roles := make([]string, 0, len(r.Roles))
		for _, role := range r.Roles {
			roles = append(roles, RoleStyle(role).Render(role))
		}
		t.Row(StyleNoun.Render(r.Version), strings.Join(roles, ","), r.Dir)
	}
	return t.String()
}

// KeyValue is one line of a two-column listing.
type KeyValue struct {
	Key   string
	Value string
}

// RenderKeyValues renders a two-column KEY/VALUE table.
func RenderKeyValues(pairs []KeyValue) string {
	t := NewTable("KEY", "VALUE")
	for _, p := range pairs {
		t.Row(p.Key, p.Value)
	}
	return t.String()
}
