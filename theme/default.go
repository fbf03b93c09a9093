package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme used by the styled logger.
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style
	Fatal *pterm.Style

	// Component colours
	Success   *pterm.Style
	Highlight *pterm.Style
	Muted     *pterm.Style
	Accent    *pterm.Style
	Counts    pterm.Color
	Numbers   pterm.Color

	// Dispatch pipeline colours
	Credential    pterm.Color
	Provider      pterm.Color
	Model         pterm.Color
	CircuitOpen   pterm.Color
	CircuitClosed pterm.Color
	Cooldown      pterm.Color
}

// Default returns the default application theme
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		Success:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgMagenta),
		Counts:    pterm.FgLightCyan,
		Numbers:   pterm.FgLightYellow,

		Credential:    pterm.FgCyan,
		Provider:      pterm.FgBlue,
		Model:         pterm.FgMagenta,
		CircuitOpen:   pterm.FgRed,
		CircuitClosed: pterm.FgGreen,
		Cooldown:      pterm.FgYellow,
	}
}

// Dark returns a dark theme variant
func Dark() *Theme {
	t := Default()
	t.Info = pterm.NewStyle(pterm.FgLightGreen)
	t.Warn = pterm.NewStyle(pterm.FgLightYellow, pterm.Bold)
	t.Error = pterm.NewStyle(pterm.FgLightRed, pterm.Bold)
	t.Credential = pterm.FgLightCyan
	t.Provider = pterm.FgLightBlue
	t.Model = pterm.FgLightMagenta
	return t
}

// Light returns a light theme variant
func Light() *Theme {
	t := Default()
	t.Info = pterm.NewStyle(pterm.FgBlack)
	t.Warn = pterm.NewStyle(pterm.FgRed, pterm.Bold)
	t.Highlight = pterm.NewStyle(pterm.FgBlue, pterm.Bold)
	t.Provider = pterm.FgBlue
	return t
}

// GetTheme returns the appropriate theme based on environment or preference
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	case "light":
		return Light()
	default:
		return Default()
	}
}

// ColourSplash Colours for the splash screen
func ColourSplash(message ...any) string {
	return pterm.LightGreen(message...)
}

// ColourVersion Colours version numbers, used for the splash screen
func ColourVersion(message ...any) string {
	return pterm.LightYellow(message...)
}

// StyleUrl Colours for URLs and hyperlinks
func StyleUrl(message ...any) string {
	return pterm.LightBlue(message...)
}

// Hyperlink creates a hyperlink in the terminal
func Hyperlink(uri string, text string) string {
	return "\x1b]8;;" + uri + "\x07" + text + "\x1b]8;;\x07" + "\u001b[0m"
}
