package output

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestRoleStyle(t *testing.T) {
	tests := []struct {
		role     string
		wantFG   lipgloss.TerminalColor
		wantBold bool
		wantDim  bool
	}{
		{role: RoleCurrent, wantFG: ColorGreen},
		{role: RolePending, wantFG: ColorYellow},
		{role: RoleInitial, wantDim: true},
		{role: RoleDownloaded, wantDim: true},
		{role: RoleBlacklisted, wantFG: ColorBoldRed, wantBold: true},
		{role: "unknown", wantFG: lipgloss.NoColor{}},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			style := RoleStyle(tt.role)
			if tt.wantFG != nil {
				assert.Equal(t, tt.wantFG, style.GetForeground())
			}
			assert.Equal(t, tt.wantBold, style.GetBold())
			assert.Equal(t, tt.wantDim, style.GetFaint())
		})
	}
}

func TestChangeStyle(t *testing.T) {
	assert.Equal(t, lipgloss.TerminalColor(ColorGreen), ChangeStyle("added").GetForeground())
	assert.Equal(t, lipgloss.TerminalColor(ColorYellow), ChangeStyle("modified").GetForeground())
	assert.Equal(t, lipgloss.TerminalColor(ColorRed), ChangeStyle("removed").GetForeground())
}

func TestFormatCheckmark(t *testing.T) {
	out := FormatCheckmark("Version 2 ready")
	assert.Contains(t, out, "✔")
	assert.Contains(t, out, "Version 2 ready")
}
