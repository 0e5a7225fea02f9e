package views

import "github.com/gdamore/tcell/v2"

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor          tcell.Color
	FgColor          tcell.Color
	BorderColor      tcell.Color
	BorderFocusColor tcell.Color
	TitleColor       tcell.Color
	UserColor        tcell.Color
	AssistantColor   tcell.Color
	NewColor         tcell.Color
	ErrorColor       tcell.Color
	MenuKeyColor     tcell.Color
}

// DefaultTheme returns the dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:          tcell.ColorBlack,
		FgColor:          tcell.ColorCadetBlue,
		BorderColor:      tcell.ColorDodgerBlue,
		BorderFocusColor: tcell.ColorLightSkyBlue,
		TitleColor:       tcell.ColorFuchsia,
		UserColor:        tcell.ColorAqua,
		AssistantColor:   tcell.ColorNavajoWhite,
		NewColor:         tcell.ColorGreen,
		ErrorColor:       tcell.ColorOrangeRed,
		MenuKeyColor:     tcell.ColorDodgerBlue,
	}
}
