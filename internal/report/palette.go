package report

import "github.com/charmbracelet/lipgloss"

// Palette renders the three-color ANSI vocabulary the original source
// hard-coded as ansi_red/ansi_green/ansi_clear. When color is disabled
// (--color=never, or auto-detected no-TTY stdout) every style renders as a
// no-op, exactly like the original blanking all three globals to "".
type Palette struct {
	red   lipgloss.Style
	green lipgloss.Style
}

// NewPalette builds a palette; pass enabled=false to get a colorless one.
func NewPalette(enabled bool) *Palette {
	if !enabled {
		return &Palette{
			red:   lipgloss.NewStyle(),
			green: lipgloss.NewStyle(),
		}
	}
	return &Palette{
		red:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		green: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	}
}

// Red renders s in the "failed" color.
func (this *Palette) Red(s string) string {
	return this.red.Render(s)
}

// Green renders s in the "ok"/"passed" color.
func (this *Palette) Green(s string) string {
	return this.green.Render(s)
}
